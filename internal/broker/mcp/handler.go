package mcp

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/aussiebroadwan/mcpbroker/internal/broker/session"
	"github.com/aussiebroadwan/mcpbroker/pkg/authsdk"
	"github.com/aussiebroadwan/mcpbroker/pkg/httpx"
	"github.com/aussiebroadwan/mcpbroker/pkg/jwtx"
	"github.com/aussiebroadwan/mcpbroker/pkg/slogx"
	"github.com/google/uuid"
)

// SessionIDHeader names the session a request belongs to.
const SessionIDHeader = authsdk.SessionIDHeader

const dispatchGrace = 5 * time.Second

// Handler serves the MCP endpoint. It must sit behind bearer
// authentication that stores MCP token claims in the request context.
type Handler struct {
	Dispatcher *Dispatcher
	Sessions   *session.Registry

	// KeepAlive is the SSE comment interval.
	KeepAlive time.Duration

	// NewSessionID defaults to random UUIDs.
	NewSessionID func() string
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	claims, ok := httpx.ClaimsFromContext(r.Context())
	if !ok || claims.TokenType != jwtx.TokenTypeMCP {
		authsdk.ErrInvalidToken.WriteError(w)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.stream(w, r, claims)
	case http.MethodPost:
		h.post(w, r, claims)
	case http.MethodDelete:
		h.delete(w, r, claims)
	default:
		w.Header().Set("Allow", "GET, POST, DELETE")
		httpx.WriteJSON(w, http.StatusMethodNotAllowed, authsdk.ErrorResponse{
			Error:            "invalid_request",
			ErrorDescription: "method not allowed",
		})
	}
}

// stream opens a persistent session and holds the response open as its
// event stream.
func (h *Handler) stream(w http.ResponseWriter, r *http.Request, claims jwtx.Claims) {
	newID := h.NewSessionID
	if newID == nil {
		newID = uuid.NewString
	}

	id := newID()
	transport := NewSSETransport(h.KeepAlive)
	if _, err := h.Sessions.Register(id, transport, claims.Subject); err != nil {
		slogx.FromContext(r.Context()).Error("failed to register session", "error", err)
		authsdk.ErrServerError.WriteError(w)
		return
	}
	defer h.Sessions.Close(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set(SessionIDHeader, id)
	w.WriteHeader(http.StatusOK)

	log := slogx.FromContext(r.Context()).With("session_id", id)
	log.Info("event stream opened")

	if err := transport.Serve(r.Context(), w); err != nil {
		log.Debug("event stream write failed", "error", err)
	}
	log.Info("event stream closed")
}

func (h *Handler) post(w http.ResponseWriter, r *http.Request, claims jwtx.Claims) {
	ctx := r.Context()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.WriteJSON(w, http.StatusRequestEntityTooLarge, newError(nil, CodeInvalidRequest, "request too large"))
			return
		}
		httpx.WriteJSON(w, http.StatusBadRequest, newError(nil, CodeParseError, "could not read body"))
		return
	}

	msgs, batch, perr := ParseMessages(body)
	if perr != nil {
		httpx.WriteJSON(w, http.StatusBadRequest, perr)
		return
	}

	sess, status := h.resolveSession(r, claims.Subject)
	if status != 0 {
		httpx.WriteJSON(w, status, authsdk.ErrorResponse{
			Error:            "access_denied",
			ErrorDescription: "session belongs to another user",
		})
		return
	}

	if sess == nil {
		responses := h.dispatchAll(ctx, Call{Claims: claims}, msgs)
		writeResponses(w, responses, batch)
		return
	}

	ctx = slogx.WithAttrs(ctx, "session_id", sess.ID)
	call := Call{
		Claims: claims,
		Notify: func(ctx context.Context, n Notification) error { return sess.Send(ctx, n) },
	}

	// Bounds how long the session lock can be held even if a tool ignores
	// its own deadline.
	doCtx, cancel := context.WithTimeout(ctx, h.Dispatcher.ToolTimeout+dispatchGrace)
	defer cancel()

	var responses []*Response
	err = sess.Do(doCtx, func(ctx context.Context) error {
		responses = h.dispatchAll(ctx, call, msgs)
		return nil
	})
	if err != nil {
		slogx.FromContext(ctx).Warn("session dispatch aborted", "error", err)
		writeResponses(w, abortedResponses(msgs, err), batch)
		return
	}
	h.Sessions.Touch(sess.ID)

	if len(responses) > 0 {
		var out any = responses[0]
		if batch {
			out = responses
		}
		if err := sess.Send(ctx, out); err != nil {
			// The stream is gone; the client still deserves its answer.
			writeResponses(w, responses, batch)
			return
		}
	}
	w.WriteHeader(http.StatusAccepted)
}

// resolveSession binds the request to a persistent session and marks it
// active, so a request that is later aborted still counts. A nil session
// means the request is handled session-less. A non-zero status rejects it.
func (h *Handler) resolveSession(r *http.Request, userID string) (*session.Session, int) {
	if id := r.Header.Get(SessionIDHeader); id != "" {
		sess, ok := h.Sessions.Get(id)
		if !ok {
			return nil, 0
		}
		if sess.UserID != userID {
			return nil, http.StatusForbidden
		}
		h.Sessions.Touch(sess.ID)
		return sess, 0
	}

	if sess, ok := h.Sessions.FindByUser(userID); ok {
		h.Sessions.Touch(sess.ID)
		return sess, 0
	}
	return nil, 0
}

func (h *Handler) dispatchAll(ctx context.Context, call Call, msgs []Message) []*Response {
	var out []*Response
	for _, m := range msgs {
		if m.Invalid != nil {
			out = append(out, m.Invalid)
			continue
		}
		if resp := h.Dispatcher.Dispatch(ctx, call, m.Request); resp != nil {
			out = append(out, resp)
		}
	}
	return out
}

func abortedResponses(msgs []Message, cause error) []*Response {
	var out []*Response
	for _, m := range msgs {
		switch {
		case m.Invalid != nil:
			out = append(out, m.Invalid)
		case !m.Request.IsNotification():
			out = append(out, newError(m.Request.ID, CodeInternalError, "request aborted: "+cause.Error()))
		}
	}
	return out
}

// writeResponses answers inline. Only notifications means 202 and no body.
func writeResponses(w http.ResponseWriter, responses []*Response, batch bool) {
	if len(responses) == 0 {
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var out any = responses[0]
	if batch {
		out = responses
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, claims jwtx.Claims) {
	id := r.Header.Get(SessionIDHeader)
	if id == "" {
		authsdk.ErrInvalidRequest.WithDescription(SessionIDHeader + " header is required").WriteError(w)
		return
	}

	sess, ok := h.Sessions.Get(id)
	if !ok {
		httpx.WriteJSON(w, http.StatusNotFound, authsdk.ErrorResponse{
			Error:            "not_found",
			ErrorDescription: "unknown session",
		})
		return
	}
	if sess.UserID != claims.Subject {
		httpx.WriteJSON(w, http.StatusForbidden, authsdk.ErrorResponse{
			Error:            "access_denied",
			ErrorDescription: "session belongs to another user",
		})
		return
	}

	h.Sessions.Close(id)
	slogx.FromContext(r.Context()).Info("session ended by client", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}
