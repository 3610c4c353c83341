package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"
)

const (
	DefaultKeepAlive  = 25 * time.Second
	defaultSSEBacklog = 64
)

var ErrTransportClosed = errors.New("mcp: transport closed")

// SSETransport queues messages for one text/event-stream response. It
// implements session.Transport.
type SSETransport struct {
	queue     chan []byte
	done      chan struct{}
	closeOnce sync.Once
	keepAlive time.Duration
}

// NewSSETransport creates a transport. A non-positive keepAlive uses
// DefaultKeepAlive.
func NewSSETransport(keepAlive time.Duration) *SSETransport {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &SSETransport{
		queue:     make(chan []byte, defaultSSEBacklog),
		done:      make(chan struct{}),
		keepAlive: keepAlive,
	}
}

// Send queues msg. It blocks while the backlog is full until ctx ends.
func (t *SSETransport) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	select {
	case <-t.done:
		return ErrTransportClosed
	default:
	}

	select {
	case t.queue <- data:
		return nil
	case <-t.done:
		return ErrTransportClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SSETransport) Close() error {
	t.closeOnce.Do(func() { close(t.done) })
	return nil
}

func (t *SSETransport) Done() <-chan struct{} { return t.done }

// Serve streams queued messages to w until ctx ends, the transport is
// closed or a write fails. The transport is closed on return.
func (t *SSETransport) Serve(ctx context.Context, w http.ResponseWriter) error {
	defer t.Close()

	rc := http.NewResponseController(w)
	// Long lived stream: lift the server's write timeout for this response.
	_ = rc.SetWriteDeadline(time.Time{})

	if err := writeComment(w, rc, "connected"); err != nil {
		return err
	}

	ticker := time.NewTicker(t.keepAlive)
	defer ticker.Stop()

	for {
		select {
		case data := <-t.queue:
			if _, err := fmt.Fprintf(w, "event: message\ndata: %s\n\n", data); err != nil {
				return err
			}
			if err := rc.Flush(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := writeComment(w, rc, "keepalive"); err != nil {
				return err
			}
		case <-t.done:
			return nil
		case <-ctx.Done():
			return nil
		}
	}
}

func writeComment(w http.ResponseWriter, rc *http.ResponseController, comment string) error {
	if _, err := fmt.Fprintf(w, ": %s\n\n", comment); err != nil {
		return err
	}
	return rc.Flush()
}
