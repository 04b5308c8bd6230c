package stream

import (
	"context"
	"sync"
	"time"

	"github.com/fieldhand/agrichat/pkg/logger"
)

// State is the lifecycle state of a Session.
type State int

const (
	StatePending State = iota
	StateStreaming
	StateCompleted
	StateErrored
	StateAborted
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateStreaming:
		return "streaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Outcome is the terminal result of one streaming exchange. On error the
// partial aggregate text is preserved so the caller can decide whether a
// truncated answer is worth keeping.
type Outcome struct {
	FinalText string
	Metadata  map[string]any
	Err       error
}

// UpdateKind discriminates live progress notifications.
type UpdateKind int

const (
	// UpdateDelta carries incremental response text.
	UpdateDelta UpdateKind = iota
	// UpdateThinking carries ephemeral status text, never part of the
	// final response.
	UpdateThinking
)

// Update is a live progress notification pushed to subscribers.
type Update struct {
	Kind UpdateKind
	Text string
}

// Session owns one in-flight streaming request. It wires the transport
// through the frame buffer and event decoder, reduces decoded events into a
// running aggregate, and resolves with exactly one terminal outcome. Exactly
// one terminal signal (done event, error event, or transport completion) ends
// a session; events arriving after termination are discarded.
type Session struct {
	transport Transport
	timeout   time.Duration

	mu       sync.Mutex
	state    State
	cursor   int
	frames   *FrameBuffer
	text     string
	metadata map[string]any
	subs     []func(Update)
	outcome  Outcome

	done      chan struct{}
	abortOnce sync.Once
}

// NewSession creates a session over the given transport. The timeout covers
// the whole exchange, from open to terminal event.
func NewSession(transport Transport, timeout time.Duration) *Session {
	return &Session{
		transport: transport,
		timeout:   timeout,
		frames:    NewFrameBuffer(),
		done:      make(chan struct{}),
	}
}

// Subscribe registers a callback for live progress updates. Must be called
// before Start.
func (s *Session) Subscribe(fn func(Update)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, fn)
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the session reaches a terminal state.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Start opens the transport and blocks until the session reaches a terminal
// state. It can be called at most once.
func (s *Session) Start(ctx context.Context) Outcome {
	s.mu.Lock()
	if s.state != StatePending {
		outcome := s.outcome
		s.mu.Unlock()
		return outcome
	}
	s.state = StateStreaming
	s.mu.Unlock()

	var timer *time.Timer
	if s.timeout > 0 {
		timer = time.AfterFunc(s.timeout, func() {
			logger.WithComponent("stream").Warnw("session timed out", "timeout", s.timeout)
			s.finalize(StateErrored, ErrTimeout)
			s.abort()
		})
		defer timer.Stop()
	}

	err := s.transport.Open(ctx, HandlerFunc{
		ProgressFunc: s.handleProgress,
		DoneFunc:     s.handleDone,
		ErrorFunc:    s.handleTransportError,
	})
	if err != nil {
		// Request failed before any bytes arrived.
		s.finalize(StateErrored, &NetworkError{Err: err})
	}

	// A dead parent context means the stream was interrupted, never
	// completed. Guard here so a transport that swallows cancellation
	// cannot pass off truncated text as a finished answer.
	if ctxErr := ctx.Err(); ctxErr != nil {
		s.finalize(StateErrored, &NetworkError{Err: ctxErr})
	}

	// Transport returned without a terminal callback. Flush any pending
	// frame and treat as normal completion.
	s.finishStream()

	s.mu.Lock()
	outcome := s.outcome
	s.mu.Unlock()
	return outcome
}

// Cancel aborts the transport and finalizes the session as aborted. It is
// idempotent and safe to call after completion.
func (s *Session) Cancel() {
	s.finalize(StateAborted, ErrAborted)
	s.abort()
}

// handleProgress consumes only the bytes that arrived since the last tick.
// The transport exposes a monotonically growing buffer, so the session keeps
// a read cursor to avoid reprocessing.
func (s *Session) handleProgress(fullText string) {
	s.mu.Lock()
	if s.state != StateStreaming || len(fullText) <= s.cursor {
		s.mu.Unlock()
		return
	}
	chunk := fullText[s.cursor:]
	s.cursor = len(fullText)
	frames := s.frames.Append(chunk)
	s.mu.Unlock()

	s.processFrames(frames)
}

func (s *Session) handleDone(fullText string) {
	s.handleProgress(fullText)
	s.finishStream()
}

// finishStream flushes the best-effort final frame, for streams that ended
// without a trailing delimiter, then completes the session. No-op once
// terminal.
func (s *Session) finishStream() {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return
	}
	frame, ok := s.frames.Flush()
	s.mu.Unlock()

	if ok {
		if ev, decoded := Decode(frame); decoded {
			if s.apply(ev) {
				return
			}
		}
	}
	s.finalize(StateCompleted, nil)
}

func (s *Session) handleTransportError(err error) {
	s.finalize(StateErrored, &NetworkError{Err: err})
}

func (s *Session) processFrames(frames []string) {
	for _, frame := range frames {
		ev, ok := Decode(frame)
		if !ok {
			continue
		}
		if terminal := s.apply(ev); terminal {
			return
		}
	}
}

// apply reduces one event into the aggregate. It reports whether the event
// was terminal so callers stop feeding the session.
func (s *Session) apply(ev Event) bool {
	s.mu.Lock()
	if s.state != StateStreaming {
		s.mu.Unlock()
		return true
	}

	var update *Update
	switch ev.Kind {
	case EventText:
		s.text += ev.Text
		update = &Update{Kind: UpdateDelta, Text: ev.Text}
	case EventThinking:
		update = &Update{Kind: UpdateThinking, Text: ev.Text}
	case EventToolCall:
		logger.WithComponent("stream").Debugw("tool call", "tool", ev.ToolName)
	case EventToolResult:
		logger.WithComponent("stream").Debugw("tool result", "tool", ev.ToolName)
	case EventComplete:
		// The complete payload is authoritative: it replaces whatever
		// the deltas accumulated.
		if ev.HasResponse {
			s.text = ev.Response
		}
	case EventMeta:
		s.metadata = ev.Metadata
	case EventError:
		s.finalizeLocked(StateErrored, &ServerError{Message: ev.Message})
		s.mu.Unlock()
		return true
	case EventDone:
		s.finalizeLocked(StateCompleted, nil)
		s.mu.Unlock()
		return true
	}

	subs := make([]func(Update), len(s.subs))
	copy(subs, s.subs)
	s.mu.Unlock()

	if update != nil {
		for _, fn := range subs {
			fn(*update)
		}
	}
	return false
}

func (s *Session) finalize(state State, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalizeLocked(state, err)
}

// finalizeLocked records the first terminal outcome; later calls are no-ops.
// Callers must hold s.mu.
func (s *Session) finalizeLocked(state State, err error) {
	if s.state == StateCompleted || s.state == StateErrored || s.state == StateAborted {
		return
	}
	s.state = state
	s.outcome = Outcome{
		FinalText: s.text,
		Metadata:  s.metadata,
		Err:       err,
	}
	close(s.done)
}

// abort tears down the transport exactly once, no matter how many terminal
// paths race to it.
func (s *Session) abort() {
	s.abortOnce.Do(func() {
		s.transport.Abort()
	})
}
