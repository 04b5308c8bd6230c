package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/fieldhand/agrichat/pkg/stream"
)

// StreamTransport implements stream.Transport over the gateway's streaming
// chat endpoint. It accumulates the response body into a growing buffer and
// reports the full text on every progress tick, matching the transport
// contract the session's read cursor expects.
type StreamTransport struct {
	client *Client
	req    ChatRequest

	mu      sync.Mutex
	cancel  context.CancelFunc
	aborted bool
}

// OpenStream prepares a transport for one streaming chat exchange. The
// request is not sent until Open is called.
func (c *Client) OpenStream(req ChatRequest) *StreamTransport {
	return &StreamTransport{client: c, req: req}
}

// Open sends the request and pumps the growing body through the handler. It
// blocks until the stream finishes or the transport is aborted. A non-nil
// error means the request failed before streaming began.
func (t *StreamTransport) Open(ctx context.Context, handler stream.Handler) error {
	ctx, cancel := context.WithCancel(ctx)

	t.mu.Lock()
	if t.aborted {
		t.mu.Unlock()
		cancel()
		return fmt.Errorf("transport aborted before open")
	}
	t.cancel = cancel
	t.mu.Unlock()
	defer cancel()

	payload, err := json.Marshal(t.req)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.client.baseURL+"/api/chat/stream", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := t.client.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("stream request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return readError(resp)
	}

	var total strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			total.Write(buf[:n])
			handler.OnProgress(total.String())
		}
		if err == io.EOF {
			handler.OnDone(total.String())
			return nil
		}
		if err != nil {
			// Abort surfaces as a read error; the session has already
			// finalized, so stay quiet. A canceled parent context is
			// not an abort: the stream was cut off and the handler
			// must hear about it.
			t.mu.Lock()
			aborted := t.aborted
			t.mu.Unlock()
			if aborted {
				return nil
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				handler.OnError(ctxErr)
				return nil
			}
			handler.OnError(err)
			return nil
		}
	}
}

// Abort tears down the in-flight request. Safe before, during, and after
// Open.
func (t *StreamTransport) Abort() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.aborted = true
	if t.cancel != nil {
		t.cancel()
	}
}
