// Package scroll coordinates viewport position against a growing transcript,
// independent of any rendering framework. The anchor pins the view to the
// user's most recent question while its answer generates, and hands control
// back the moment the user scrolls.
package scroll

import "sync"

// RequestKind discriminates imperative scroll requests emitted to the view.
type RequestKind int

const (
	// ScrollToMessage positions the viewport at a specific message.
	ScrollToMessage RequestKind = iota
	// ScrollToEnd positions the viewport at the end of the transcript.
	ScrollToEnd
)

// Request asks the view layer to move the viewport. When Estimated is true
// the target had not been measured yet and Offset is a best-effort guess; the
// anchor retries once after OnLayoutComplete.
type Request struct {
	Kind      RequestKind
	TargetID  string
	Offset    int
	Estimated bool
}

// Measurer reports the layout offset of a message, if it has been measured.
type Measurer func(id string) (offset int, ok bool)

// Anchor is the scroll-state machine. Locked pins the viewport to the newest
// user message; Unlocked lets normal scroll-to-end behavior resume. Manual
// user scrolling always wins and releases the lock immediately.
type Anchor struct {
	mu sync.Mutex

	emit     func(Request)
	measure  Measurer
	estimate int

	locked        bool
	targetID      string
	userScrolling bool
	autoScrollEnd bool
	prevCount     int

	pendingTarget string
	retried       bool
}

// Option configures an Anchor.
type Option func(*Anchor)

// WithMeasurer supplies the layout measurement hook.
func WithMeasurer(m Measurer) Option {
	return func(a *Anchor) { a.measure = m }
}

// WithEstimatedOffset sets the fallback offset used when the lock target has
// not been laid out yet.
func WithEstimatedOffset(offset int) Option {
	return func(a *Anchor) { a.estimate = offset }
}

// NewAnchor creates an anchor that emits scroll requests through the given
// callback. The callback runs outside the anchor's lock and must be cheap;
// racing requests are resolved by the view keeping only the latest.
func NewAnchor(emit func(Request), opts ...Option) *Anchor {
	a := &Anchor{emit: emit}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// OnGenerationStart is called when generation begins. A new exchange is
// detected only when the message count also increased; a retry of a failed
// send reuses the existing messages and must not re-lock.
func (a *Anchor) OnGenerationStart(latestUserID string, messageCount int) {
	a.mu.Lock()
	grew := messageCount > a.prevCount
	a.prevCount = messageCount
	if !grew || latestUserID == "" {
		a.mu.Unlock()
		return
	}

	a.locked = true
	a.targetID = latestUserID
	a.userScrolling = false
	a.autoScrollEnd = false
	a.retried = false
	a.pendingTarget = ""

	req := a.requestForLocked()
	a.mu.Unlock()

	a.send(req)
}

// OnGenerationEnd releases the lock.
func (a *Anchor) OnGenerationEnd() {
	a.mu.Lock()
	a.locked = false
	a.targetID = ""
	a.pendingTarget = ""
	a.mu.Unlock()
}

// OnUserScroll releases the lock immediately; manual control always wins.
func (a *Anchor) OnUserScroll() {
	a.mu.Lock()
	a.userScrolling = true
	a.locked = false
	a.targetID = ""
	a.pendingTarget = ""
	a.mu.Unlock()
}

// OnContentGrow is called when the transcript height changes. While locked,
// growth is suppressed from issuing a competing scroll-to-end; once unlocked,
// growth taller than the viewport scrolls to the end.
func (a *Anchor) OnContentGrow(tallerThanViewport bool) {
	a.mu.Lock()
	if a.locked || !tallerThanViewport {
		a.mu.Unlock()
		return
	}
	a.autoScrollEnd = true
	a.mu.Unlock()

	a.send(Request{Kind: ScrollToEnd})
}

// OnLayoutComplete retries the pending lock scroll once the target has been
// measured. Only one retry is attempted; failing silently would strand the
// user off-screen from their own question, so the estimated request has
// already been emitted.
func (a *Anchor) OnLayoutComplete() {
	a.mu.Lock()
	if a.pendingTarget == "" || a.retried || !a.locked {
		a.mu.Unlock()
		return
	}
	a.retried = true
	a.pendingTarget = ""
	req := a.requestForLocked()
	a.mu.Unlock()

	a.send(req)
}

// Locked reports whether the viewport is pinned to a message.
func (a *Anchor) Locked() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.locked
}

// LockTargetID returns the pinned message id, or empty when unlocked.
func (a *Anchor) LockTargetID() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.targetID
}

// UserScrolling reports whether the user has taken manual control of the
// viewport since the last lock.
func (a *Anchor) UserScrolling() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.userScrolling
}

// ShouldAutoScrollToEnd reports whether the view should follow the end of
// the transcript.
func (a *Anchor) ShouldAutoScrollToEnd() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.autoScrollEnd
}

// requestForLocked builds the scroll request for the current lock target.
// Callers must hold a.mu.
func (a *Anchor) requestForLocked() Request {
	if a.measure != nil {
		if offset, ok := a.measure(a.targetID); ok {
			return Request{Kind: ScrollToMessage, TargetID: a.targetID, Offset: offset}
		}
	}
	a.pendingTarget = a.targetID
	return Request{Kind: ScrollToMessage, TargetID: a.targetID, Offset: a.estimate, Estimated: true}
}

func (a *Anchor) send(req Request) {
	if a.emit != nil {
		a.emit(req)
	}
}
