package httpx

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"net/url"
)

// WriteJSON writes a JSON response with the given status code.
// It automatically sets the Content-Type header and Cache-Control headers.
func WriteJSON(w http.ResponseWriter, code int, v any) {
	NoCache(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// NoCache sets the Cache-Control and Pragma headers to prevent caching.
// This is commonly required for sensitive responses like tokens.
func NoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
}

// ErrUnsupportedMediaType is returned by ReadParams for bodies that are
// neither JSON nor form encoded.
var ErrUnsupportedMediaType = errors.New("httpx: unsupported media type")

// ReadParams reads request parameters from a JSON object body or a form
// body into url.Values. JSON values must be strings.
func ReadParams(r *http.Request) (url.Values, error) {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mt {
	case "application/json":
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			return nil, fmt.Errorf("decode json body: %w", err)
		}
		vals := make(url.Values, len(body))
		for k, v := range body {
			switch s := v.(type) {
			case string:
				vals.Set(k, s)
			case nil:
			default:
				return nil, fmt.Errorf("field %q must be a string", k)
			}
		}
		return vals, nil

	case "application/x-www-form-urlencoded", "":
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("parse form: %w", err)
		}
		return r.Form, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mt)
	}
}
