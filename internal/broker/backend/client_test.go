package backend_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/backend"
	"github.com/stretchr/testify/require"
)

type stubTokens struct {
	resource atomic.Int32
	service  atomic.Int32
}

func (s *stubTokens) ResolveResourceToken(userID, _, _ string) (string, error) {
	s.resource.Add(1)
	return "user-token-" + userID, nil
}

func (s *stubTokens) MintServiceAssertion() (string, error) {
	s.service.Add(1)
	return "service-token", nil
}

func newClient(t *testing.T, h http.Handler) (*backend.Client, *stubTokens) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	tokens := &stubTokens{}
	c, err := backend.NewClient(backend.Config{BaseURL: srv.URL + "/", HTTPClient: srv.Client()}, tokens)
	require.NoError(t, err)
	return c, tokens
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := backend.NewClient(backend.Config{BaseURL: "not a url"}, &stubTokens{})
	require.Error(t, err)

	_, err = backend.NewClient(backend.Config{BaseURL: "http://api"}, nil)
	require.Error(t, err)
}

func TestDoSendsUserToken(t *testing.T) {
	t.Parallel()

	c, tokens := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer user-token-u1", r.Header.Get("Authorization"))
		require.Equal(t, "/api/projects", r.URL.Path)
		require.Equal(t, "open", r.URL.Query().Get("status"))
		_, _ = w.Write([]byte(`[{"id":"p1"}]`))
	}))

	raw, err := c.Do(context.Background(), backend.Caller{ID: "u1"}, backend.Request{
		Method: http.MethodGet,
		Path:   "/api/projects",
		Query:  url.Values{"status": {"open"}},
	})
	require.NoError(t, err)
	require.JSONEq(t, `[{"id":"p1"}]`, string(raw))
	require.EqualValues(t, 1, tokens.resource.Load())
}

func TestDoSendsJSONBody(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "write docs", body["title"])
		w.WriteHeader(http.StatusNoContent)
	}))

	raw, err := c.Do(context.Background(), backend.Caller{ID: "u1"}, backend.Request{
		Method: http.MethodPost,
		Path:   "/api/tasks",
		Body:   map[string]any{"title": "write docs"},
	})
	require.NoError(t, err)
	require.Equal(t, "null", string(raw))
}

func TestDoMapsErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
		wantMsg string
	}{
		{name: "not found", status: http.StatusNotFound, body: `{"error":"no such task"}`, wantErr: backend.ErrNotFound, wantMsg: "no such task"},
		{name: "server error", status: http.StatusInternalServerError, body: `oops`, wantErr: backend.ErrUpstream},
		{name: "forbidden", status: http.StatusForbidden, body: `{"message":"not a member"}`, wantErr: backend.ErrUpstream, wantMsg: "not a member"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))

			_, err := c.Do(context.Background(), backend.Caller{ID: "u1"}, backend.Request{Method: http.MethodGet, Path: "/x"})
			require.ErrorIs(t, err, tt.wantErr)

			var apiErr *backend.APIError
			require.ErrorAs(t, err, &apiErr)
			require.Equal(t, tt.status, apiErr.StatusCode)
			if tt.wantMsg != "" {
				require.Equal(t, tt.wantMsg, apiErr.Message)
			}
		})
	}
}

func TestDoRejectsNonJSON(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>`))
	}))

	_, err := c.Do(context.Background(), backend.Caller{ID: "u1"}, backend.Request{Method: http.MethodGet, Path: "/x"})
	require.ErrorIs(t, err, backend.ErrUpstream)
}

func TestDoHonoursTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	t.Cleanup(srv.Close)
	t.Cleanup(func() { close(release) })

	c, err := backend.NewClient(backend.Config{BaseURL: srv.URL, Timeout: 20 * time.Millisecond}, &stubTokens{})
	require.NoError(t, err)

	_, err = c.Do(context.Background(), backend.Caller{ID: "u1"}, backend.Request{Method: http.MethodGet, Path: "/slow"})
	require.ErrorIs(t, err, backend.ErrUpstream)
}

func TestDirectoryLookupUser(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	gate := make(chan struct{})
	c, tokens := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-gate
		require.Equal(t, "Bearer service-token", r.Header.Get("Authorization"))
		require.Equal(t, "/api/users/u%201", r.URL.EscapedPath())
		_, _ = w.Write([]byte(`{"id":"u 1","email":"u1@example.com","name":"User One"}`))
	}))
	dir := backend.NewDirectory(c)

	var wg sync.WaitGroup
	results := make(chan string, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := dir.LookupUser(context.Background(), "u 1")
			if err == nil {
				results <- u.Name
			}
		}()
	}

	// Let the callers pile up on the in-flight request.
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	close(gate)
	wg.Wait()
	close(results)

	for name := range results {
		require.Equal(t, "User One", name)
	}
	require.EqualValues(t, 1, hits.Load())
	require.LessOrEqual(t, tokens.service.Load(), int32(1))
}

func TestDirectoryLookupUserSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	gate := make(chan struct{})
	c, _ := newClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		_, _ = w.Write([]byte(`{"id":"u1","name":"User One"}`))
	}))
	dir := backend.NewDirectory(c)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := dir.LookupUser(firstCtx, "u1")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return hits.Load() == 1 }, time.Second, time.Millisecond)

	second := make(chan error, 1)
	var name string
	go func() {
		u, err := dir.LookupUser(context.Background(), "u1")
		name = u.Name
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(gate)
	require.NoError(t, <-second)
	require.Equal(t, "User One", name)
	require.EqualValues(t, 1, hits.Load())
}

func TestDirectoryLookupUserNotFound(t *testing.T) {
	t.Parallel()

	c, _ := newClient(t, http.NotFoundHandler())
	_, err := backend.NewDirectory(c).LookupUser(context.Background(), "ghost")
	require.ErrorIs(t, err, backend.ErrNotFound)

	_, err = backend.NewDirectory(c).LookupUser(context.Background(), "")
	require.Error(t, err)
}
