package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/yosida95/uritemplate/v3"
	"golang.org/x/sync/singleflight"
)

var userRoute = uritemplate.MustNew("/api/users/{id}")

// Directory resolves users through the backend API. Concurrent lookups of
// the same id share one request.
type Directory struct {
	client *Client
	group  singleflight.Group
}

func NewDirectory(client *Client) *Directory {
	return &Directory{client: client}
}

// LookupUser fetches the user's profile as the broker itself.
func (d *Directory) LookupUser(ctx context.Context, id string) (domain.User, error) {
	if id == "" {
		return domain.User{}, errors.New("backend: empty user id")
	}

	// The shared request must not die with whichever caller started it; the
	// client's own timeout bounds it and each caller still honours ctx.
	shared := context.WithoutCancel(ctx)
	ch := d.group.DoChan(id, func() (any, error) {
		path, err := userRoute.Expand(uritemplate.Values{"id": uritemplate.String(id)})
		if err != nil {
			return domain.User{}, err
		}

		raw, err := d.client.DoAsService(shared, Request{Method: http.MethodGet, Path: path})
		if err != nil {
			return domain.User{}, err
		}

		var body struct {
			ID    string `json:"id"`
			Email string `json:"email"`
			Name  string `json:"name"`
		}
		if err := json.Unmarshal(raw, &body); err != nil {
			return domain.User{}, fmt.Errorf("%w: decode user: %v", ErrUpstream, err)
		}
		if body.ID == "" {
			body.ID = id
		}
		return domain.User{ID: body.ID, Email: body.Email, Name: body.Name}, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return domain.User{}, res.Err
		}
		return res.Val.(domain.User), nil
	case <-ctx.Done():
		return domain.User{}, ctx.Err()
	}
}
