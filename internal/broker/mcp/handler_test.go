package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/domain"
	"github.com/aussiebroadwan/mcpbroker/internal/broker/session"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

type handlerFixture struct {
	srv      *httptest.Server
	sessions *session.Registry
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()
	return newHandlerFixtureWithSessions(t, session.Config{Logger: slogx.Discard()})
}

func newHandlerFixtureWithSessions(t *testing.T, cfg session.Config) *handlerFixture {
	t.Helper()

	verifier := httpx.VerifierFunc(func(token string) (jwtx.Claims, error) {
		user, ok := strings.CutPrefix(token, "tok-")
		if !ok {
			return jwtx.Claims{}, errors.New("bad token")
		}
		return jwtx.Claims{
			RegisteredClaims: jwt.RegisteredClaims{Subject: user},
			TokenType:        jwtx.TokenTypeMCP,
			Scope:            domain.JoinScopes(domain.SupportedScopes),
		}, nil
	})

	sessions := session.NewRegistry(cfg)
	h := &Handler{
		Dispatcher: newTestDispatcher(t, echoTool()),
		Sessions:   sessions,
		KeepAlive:  time.Hour,
	}

	srv := httptest.NewServer(httpx.Chain(h,
		httpx.Authenticate(verifier, httpx.WithResourceMetadata("http://broker/.well-known/oauth-protected-resource")),
	))
	t.Cleanup(func() {
		sessions.CloseAll()
		srv.Close()
	})
	return &handlerFixture{srv: srv, sessions: sessions}
}

func (f *handlerFixture) do(t *testing.T, method, token, sessionID, body string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, f.srv.URL, strings.NewReader(body))
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if sessionID != "" {
		req.Header.Set(SessionIDHeader, sessionID)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(v))
}

// openStream starts an SSE stream and returns its session id and a reader
// for its data lines.
func (f *handlerFixture) openStream(t *testing.T, token string) (string, func() string) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "text/event-stream")

	resp, err := f.srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	id := resp.Header.Get(SessionIDHeader)
	require.NotEmpty(t, id)

	lines := make(chan string, 16)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				lines <- data
			}
		}
	}()

	next := func() string {
		select {
		case l := <-lines:
			return l
		case <-time.After(2 * time.Second):
			t.Fatal("no event on stream")
			return ""
		}
	}
	return id, next
}

func TestHandlerRequiresBearer(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, resp.Header.Get("WWW-Authenticate"), `resource_metadata="http://broker/.well-known/oauth-protected-resource"`)

	resp = f.do(t, http.MethodPost, "garbage", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestHandlerSessionless(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPost, "tok-u1", "", `{"jsonrpc":"2.0","id":1,"method":"ping"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var single Response
	decodeBody(t, resp, &single)
	require.Equal(t, "1", string(single.ID))
	require.Nil(t, single.Error)

	resp = f.do(t, http.MethodPost, "tok-u1", "", `{"jsonrpc":"2.0","method":"notifications/initialized"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	require.Empty(t, body)

	resp = f.do(t, http.MethodPost, "tok-u1", "", `{"jsonrpc":`)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	var perr Response
	decodeBody(t, resp, &perr)
	require.Equal(t, CodeParseError, perr.Error.Code)

	resp = f.do(t, http.MethodPost, "tok-u1", "", `[
		{"jsonrpc":"2.0","id":1,"method":"ping"},
		{"jsonrpc":"2.0","method":"notifications/initialized"},
		{"jsonrpc":"2.0","id":2,"method":"nope"}
	]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var batch []Response
	decodeBody(t, resp, &batch)
	require.Len(t, batch, 2)
	require.Equal(t, "1", string(batch[0].ID))
	require.Equal(t, CodeMethodNotFound, batch[1].Error.Code)

	// An unknown session id falls back to session-less handling.
	resp = f.do(t, http.MethodPost, "tok-u1", "no-such-session", `{"jsonrpc":"2.0","id":3,"method":"ping"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHandlerSessionBound(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	id, next := f.openStream(t, "tok-u1")
	require.Eventually(t, func() bool { return f.sessions.Len() == 1 }, time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodPost, "tok-u1", id, `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"echo","arguments":{"text":"hey"},"_meta":{"progressToken":"pt"}}}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var progress Notification
	require.NoError(t, json.Unmarshal([]byte(next()), &progress))
	require.Equal(t, "notifications/progress", progress.Method)

	var result Response
	require.NoError(t, json.Unmarshal([]byte(next()), &result))
	require.Equal(t, "9", string(result.ID))
	require.Nil(t, result.Error)

	// Without the header the user's session is found by owner.
	resp = f.do(t, http.MethodPost, "tok-u1", "", `{"jsonrpc":"2.0","id":10,"method":"ping"}`)
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.NoError(t, json.Unmarshal([]byte(next()), &result))
	require.Equal(t, "10", string(result.ID))

	// Another user cannot use it.
	resp = f.do(t, http.MethodPost, "tok-u2", id, `{"jsonrpc":"2.0","id":11,"method":"ping"}`)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestHandlerTouchesSessionBeforeDispatch(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	f := newHandlerFixtureWithSessions(t, session.Config{Logger: slogx.Discard(), Now: clock})

	id, _ := f.openStream(t, "tok-u1")
	require.Eventually(t, func() bool { return f.sessions.Len() == 1 }, time.Second, 5*time.Millisecond)
	sess, ok := f.sessions.Get(id)
	require.True(t, ok)

	// Keep the session busy so the next request cannot get past Do.
	release := make(chan struct{})
	held := make(chan struct{})
	go func() {
		_ = sess.Do(context.Background(), func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	mu.Lock()
	now = now.Add(time.Hour)
	later := now
	mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.srv.URL, strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
		if err != nil {
			return
		}
		req.Header.Set("Authorization", "Bearer tok-u1")
		req.Header.Set(SessionIDHeader, id)
		req.Header.Set("Content-Type", "application/json")
		if resp, err := f.srv.Client().Do(req); err == nil {
			resp.Body.Close()
		}
	}()

	require.Eventually(t, func() bool { return sess.LastActivity().Equal(later) }, 2*time.Second, 5*time.Millisecond)
}

func TestHandlerDelete(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	id, _ := f.openStream(t, "tok-u1")
	require.Eventually(t, func() bool { return f.sessions.Len() == 1 }, time.Second, 5*time.Millisecond)

	resp := f.do(t, http.MethodDelete, "tok-u1", "", "")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "tok-u1", "missing", "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "tok-u2", id, "")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = f.do(t, http.MethodDelete, "tok-u1", id, "")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Zero(t, f.sessions.Len())

	resp = f.do(t, http.MethodDelete, "tok-u1", id, "")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestHandlerMethodNotAllowed(t *testing.T) {
	t.Parallel()
	f := newHandlerFixture(t)

	resp := f.do(t, http.MethodPut, "tok-u1", "", "")
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestSSETransportClosed(t *testing.T) {
	t.Parallel()

	tr := NewSSETransport(0)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
	require.ErrorIs(t, tr.Send(context.Background(), "x"), ErrTransportClosed)

	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
}

func TestSSETransportServe(t *testing.T) {
	t.Parallel()

	tr := NewSSETransport(time.Hour)
	require.NoError(t, tr.Send(context.Background(), map[string]int{"n": 1}))

	rec := httptest.NewRecorder()
	done := make(chan error, 1)
	go func() { done <- tr.Serve(context.Background(), rec) }()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, tr.Close())
	require.NoError(t, <-done)

	require.Contains(t, rec.Body.String(), ": connected\n\n")
	require.Contains(t, rec.Body.String(), "event: message\ndata: {\"n\":1}\n\n")
}
