package stream

import "context"

// Transport delivers the raw body of one long-lived streaming request. The
// mobile runtime this protocol was built for only exposes a monotonically
// growing response buffer, so progress reports carry the full text so far
// rather than discrete chunks; Session keeps its own read cursor. A genuine
// chunked transport can implement the same interface by growing an internal
// buffer.
type Transport interface {
	// Open starts the request and blocks until the stream finishes, the
	// context is canceled, or Abort is called. Lifecycle callbacks are
	// delivered through the handler. A non-nil error means the request
	// failed before any streaming began.
	Open(ctx context.Context, handler Handler) error

	// Abort tears down the in-flight request. Safe to call concurrently
	// with Open and after completion.
	Abort()
}

// Handler receives transport lifecycle callbacks.
type Handler interface {
	// OnProgress is called as the response body grows, with the full text
	// received so far.
	OnProgress(fullText string)

	// OnDone is called once when the transport completes normally.
	OnDone(fullText string)

	// OnError is called when the transport fails mid-stream.
	OnError(err error)
}

// HandlerFunc is a function adapter for Handler.
type HandlerFunc struct {
	ProgressFunc func(fullText string)
	DoneFunc     func(fullText string)
	ErrorFunc    func(err error)
}

// OnProgress implements Handler.
func (h HandlerFunc) OnProgress(fullText string) {
	if h.ProgressFunc != nil {
		h.ProgressFunc(fullText)
	}
}

// OnDone implements Handler.
func (h HandlerFunc) OnDone(fullText string) {
	if h.DoneFunc != nil {
		h.DoneFunc(fullText)
	}
}

// OnError implements Handler.
func (h HandlerFunc) OnError(err error) {
	if h.ErrorFunc != nil {
		h.ErrorFunc(err)
	}
}
