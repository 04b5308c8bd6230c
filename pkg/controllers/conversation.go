package controllers

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fieldhand/agrichat/pkg/api"
	"github.com/fieldhand/agrichat/pkg/chat"
	"github.com/fieldhand/agrichat/pkg/logger"
	"github.com/fieldhand/agrichat/pkg/stream"
)

// ChangeKind discriminates controller notifications.
type ChangeKind int

const (
	// MessagesChanged means the message list content changed.
	MessagesChanged ChangeKind = iota
	// GenerationStarted means a new exchange began streaming.
	GenerationStarted
	// GenerationEnded means the active exchange reached a terminal state.
	GenerationEnded
	// ContentGrew means the streaming message gained text.
	ContentGrew
	// StatusChanged means the ephemeral status text changed.
	StatusChanged
)

// Change is pushed to subscribers after controller state mutates. For
// GenerationStarted it carries the newest user message id and the message
// count, which is what the scroll anchor needs to detect a new exchange.
type Change struct {
	Kind         ChangeKind
	LatestUserID string
	MessageCount int
}

// Options wires a ConversationController to its collaborators.
type Options struct {
	Streams StreamFactory
	Uploads Uploader
	Vision  Diagnoser
	Store   Store
	Titles  TitleGenerator
	Device  DeviceIdentity

	Language        string
	Latitude        float64
	Longitude       float64
	LocationSummary string
	StreamTimeout   time.Duration
	HistoryLimit    int
}

// ConversationController is the chat session state machine. It holds the
// ordered message list (newest-first), enforces at most one active stream
// session, creates the persisted session lazily, and runs persistence and
// title generation as fire-and-forget side effects.
type ConversationController struct {
	opts Options

	mu             sync.Mutex
	messages       []chat.Message
	session        *chat.Session
	active         *stream.Session
	generating     bool
	status         string
	titleRequested bool
	retry          func()
	subs           []func(Change)
}

// NewConversationController creates a controller seeded with the synthetic
// welcome message. The welcome message is never persisted and does not
// trigger session creation.
func NewConversationController(opts Options) *ConversationController {
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = 60 * time.Second
	}
	if opts.HistoryLimit <= 0 {
		opts.HistoryLimit = 20
	}
	cc := &ConversationController{opts: opts}
	cc.messages = chat.Prepend(nil, chat.NewAssistantMessage(welcomeText(opts.Language)))
	return cc
}

// Subscribe registers a change listener. Listeners run outside the
// controller's lock and must be cheap.
func (cc *ConversationController) Subscribe(fn func(Change)) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	cc.subs = append(cc.subs, fn)
}

// Messages returns a copy of the message list, newest-first.
func (cc *ConversationController) Messages() []chat.Message {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	out := make([]chat.Message, len(cc.messages))
	copy(out, cc.messages)
	return out
}

// IsGenerating reports whether a stream session is active.
func (cc *ConversationController) IsGenerating() bool {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.generating
}

// StatusText returns the ephemeral "thinking" status for display.
func (cc *ConversationController) StatusText() string {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	return cc.status
}

// Session returns the persisted session, if one has been created.
func (cc *ConversationController) Session() (chat.Session, bool) {
	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.session == nil {
		return chat.Session{}, false
	}
	return *cc.session, true
}

// SendText starts a new text exchange. It returns false without side effects
// while another exchange is generating; the input surface is disabled then,
// so a no-op matches what the user sees.
func (cc *ConversationController) SendText(ctx context.Context, text string) bool {
	user := chat.NewUserMessage(text)
	if user.Text == "" {
		return false
	}

	placeholderID, ok := cc.beginExchange(user)
	if !ok {
		return false
	}
	go cc.runText(ctx, user, placeholderID)
	return true
}

// SendImage starts an image exchange: the upload and the vision diagnosis
// run concurrently and fail independently.
func (cc *ConversationController) SendImage(ctx context.Context, imageRef, caption string) bool {
	if imageRef == "" {
		return false
	}
	user := chat.NewUserImageMessage(caption, imageRef)

	placeholderID, ok := cc.beginExchange(user)
	if !ok {
		return false
	}
	go cc.runImage(ctx, user, placeholderID)
	return true
}

// Retry replays the last failed operation with its original arguments. It
// returns false when there is nothing to retry or an exchange is active.
func (cc *ConversationController) Retry() bool {
	cc.mu.Lock()
	replay := cc.retry
	if replay == nil || cc.generating {
		cc.mu.Unlock()
		return false
	}
	cc.retry = nil
	cc.mu.Unlock()

	go replay()
	return true
}

// Cancel aborts the active exchange, if any.
func (cc *ConversationController) Cancel() {
	cc.mu.Lock()
	active := cc.active
	cc.mu.Unlock()
	if active != nil {
		active.Cancel()
	}
}

// StartNewSession abandons the current conversation and resets to a fresh
// welcome message. The previous session is not deleted; deletion belongs to
// the persistence collaborator.
func (cc *ConversationController) StartNewSession() {
	cc.Cancel()

	cc.mu.Lock()
	cc.messages = chat.Prepend(nil, chat.NewAssistantMessage(welcomeText(cc.opts.Language)))
	cc.session = nil
	cc.generating = false
	cc.status = ""
	cc.titleRequested = false
	cc.retry = nil
	cc.mu.Unlock()

	cc.notify(Change{Kind: MessagesChanged})
}

// beginExchange applies the optimistic mutation for a new exchange: gate on
// at-most-one-in-flight, append the user message and the streaming
// placeholder. It returns the placeholder id.
func (cc *ConversationController) beginExchange(user chat.Message) (string, bool) {
	cc.mu.Lock()
	if cc.generating {
		cc.mu.Unlock()
		logger.WithComponent("conversation").Debugw("send rejected, exchange in flight")
		return "", false
	}
	cc.generating = true
	cc.retry = nil
	placeholder := chat.NewStreamingPlaceholder()
	cc.messages = chat.Prepend(cc.messages, user)
	cc.messages = chat.Prepend(cc.messages, placeholder)
	count := len(cc.messages)
	cc.mu.Unlock()

	cc.notify(Change{Kind: MessagesChanged})
	cc.notify(Change{Kind: GenerationStarted, LatestUserID: user.ID, MessageCount: count})
	return placeholder.ID, true
}

func (cc *ConversationController) runText(ctx context.Context, user chat.Message, placeholderID string) {
	req := cc.buildRequest(ctx, user)
	transport := cc.opts.Streams(req)
	sess := stream.NewSession(transport, cc.opts.StreamTimeout)
	sess.Subscribe(func(u stream.Update) {
		switch u.Kind {
		case stream.UpdateDelta:
			cc.appendDelta(placeholderID, u.Text)
		case stream.UpdateThinking:
			cc.setStatus(u.Text)
		}
	})

	cc.mu.Lock()
	cc.active = sess
	cc.mu.Unlock()

	outcome := sess.Start(ctx)
	cc.finishExchange(user, placeholderID, outcome, func() {
		cc.resume(user, func(pid string) { cc.runText(ctx, user, pid) })
	})
}

func (cc *ConversationController) runImage(ctx context.Context, user chat.Message, placeholderID string) {
	log := logger.WithComponent("conversation")
	req := cc.buildRequest(ctx, user)

	var (
		wg        sync.WaitGroup
		uploadRes api.UploadResult
		uploadErr error
		diagRes   api.DiagnosisResult
		diagErr   error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		file, err := os.Open(user.Image)
		if err != nil {
			uploadErr = err
			return
		}
		defer file.Close()
		uploadRes, uploadErr = cc.opts.Uploads.UploadImage(ctx, filepath.Base(user.Image), file)
	}()
	go func() {
		defer wg.Done()
		diagRes, diagErr = cc.opts.Vision.DiagnosePlantHealth(ctx, user.Image, req)
	}()
	wg.Wait()

	// The two calls fail independently: a dead upload never blocks showing
	// the diagnosis, and vice versa.
	if uploadErr != nil {
		log.Warnw("image upload failed", "error", uploadErr)
	}

	outcome := stream.Outcome{FinalText: diagRes.Response, Metadata: diagRes.Metadata, Err: diagErr}
	if diagErr == nil && uploadErr == nil {
		if outcome.Metadata == nil {
			outcome.Metadata = map[string]any{}
		}
		outcome.Metadata["imageUrl"] = uploadRes.URL
	}
	cc.finishExchange(user, placeholderID, outcome, func() {
		cc.resume(user, func(pid string) { cc.runImage(ctx, user, pid) })
	})
}

// finishExchange reduces a terminal outcome into the message list and kicks
// off the fire-and-forget side effects. replay is the bound retry action for
// retryable failures.
func (cc *ConversationController) finishExchange(user chat.Message, placeholderID string, outcome stream.Outcome, replay func()) {
	log := logger.WithComponent("conversation")

	cc.mu.Lock()
	cc.active = nil
	cc.generating = false
	cc.status = ""

	var final chat.Message
	persist := false
	switch {
	case outcome.Err == nil:
		final = cc.finalizeMessage(placeholderID, outcome)
		cc.messages = chat.ReplaceByID(cc.messages, placeholderID, final)
		persist = true

	case classify(outcome.Err) == classAborted:
		cc.messages = chat.RemoveByID(cc.messages, placeholderID)

	default:
		// Policy: discard the partial aggregate and surface a retryable
		// error message rather than a truncated answer.
		class := classify(outcome.Err)
		log.Warnw("exchange failed", "class", class, "error", outcome.Err)
		final = chat.NewErrorMessage(userFacingError(cc.opts.Language, class), retryable(class))
		cc.messages = chat.ReplaceByID(cc.messages, placeholderID, final)
		if retryable(class) {
			cc.retry = replay
		}
	}
	session := cc.session
	cc.mu.Unlock()

	cc.notify(Change{Kind: MessagesChanged})
	cc.notify(Change{Kind: GenerationEnded})

	if !persist {
		return
	}
	if session != nil && session.ID != "" {
		go cc.persistExchange(session.ID, user, final)
	}
	cc.maybeGenerateTitle(user.Text)
}

// finalizeMessage builds the immutable assistant message from the stream
// outcome. Callers must hold cc.mu.
func (cc *ConversationController) finalizeMessage(placeholderID string, outcome stream.Outcome) chat.Message {
	msg, ok := chat.FindByID(cc.messages, placeholderID)
	if !ok {
		msg = chat.NewAssistantMessage("")
	}
	msg.Text = outcome.FinalText
	msg.IsStreaming = false
	msg.Metadata = outcome.Metadata
	msg.FollowUpQuestions = followUps(outcome.Metadata)
	return msg
}

// followUps extracts suggested follow-up questions from session metadata.
func followUps(metadata map[string]any) []string {
	raw, ok := metadata["followUpQuestions"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// resume replays a failed exchange: drop the error message, add a fresh
// placeholder, and run the original operation again with its original
// arguments. The user message from the failed attempt is reused, not
// duplicated.
func (cc *ConversationController) resume(user chat.Message, run func(placeholderID string)) {
	cc.mu.Lock()
	if cc.generating {
		cc.mu.Unlock()
		return
	}
	cc.generating = true
	cc.messages = dropNewestRetryable(cc.messages)
	placeholder := chat.NewStreamingPlaceholder()
	cc.messages = chat.Prepend(cc.messages, placeholder)
	count := len(cc.messages)
	cc.mu.Unlock()

	cc.notify(Change{Kind: MessagesChanged})
	// Message count is unchanged from the failed attempt, so the scroll
	// anchor does not re-lock on a retry.
	cc.notify(Change{Kind: GenerationStarted, LatestUserID: user.ID, MessageCount: count})
	run(placeholder.ID)
}

// dropNewestRetryable removes the most recent error message.
func dropNewestRetryable(list []chat.Message) []chat.Message {
	for _, m := range list {
		if m.Retryable {
			return chat.RemoveByID(list, m.ID)
		}
	}
	return list
}

// appendDelta grows the streaming placeholder as text deltas arrive. Updates
// for a message that is no longer streaming are discarded; the owning stream
// session has already been finalized or canceled.
func (cc *ConversationController) appendDelta(placeholderID, delta string) {
	cc.mu.Lock()
	msg, ok := chat.FindByID(cc.messages, placeholderID)
	if !ok || !msg.IsStreaming {
		cc.mu.Unlock()
		return
	}
	msg.Text += delta
	cc.messages = chat.ReplaceByID(cc.messages, placeholderID, msg)
	cc.mu.Unlock()

	cc.notify(Change{Kind: ContentGrew})
	cc.notify(Change{Kind: MessagesChanged})
}

func (cc *ConversationController) setStatus(text string) {
	cc.mu.Lock()
	cc.status = text
	cc.mu.Unlock()
	cc.notify(Change{Kind: StatusChanged})
}

// buildRequest assembles the wire request, ensuring a persisted session
// exists first. Session creation failure is logged and tolerated; the next
// send tries again. The message being sent travels in the message field, so
// it is excluded from history.
func (cc *ConversationController) buildRequest(ctx context.Context, user chat.Message) api.ChatRequest {
	log := logger.WithComponent("conversation")

	cc.ensureSession(ctx)

	deviceID := ""
	if cc.opts.Device != nil {
		id, err := cc.opts.Device.DeviceID()
		if err != nil {
			log.Warnw("device id unavailable", "error", err)
		} else {
			deviceID = id
		}
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()

	sessionID := ""
	if cc.session != nil {
		sessionID = cc.session.ID
	}
	return api.ChatRequest{
		Message:   user.Text,
		Latitude:  cc.opts.Latitude,
		Longitude: cc.opts.Longitude,
		Language:  cc.opts.Language,
		Location:  cc.opts.LocationSummary,
		History:   chat.History(chat.RemoveByID(cc.messages, user.ID), cc.opts.HistoryLimit),
		DeviceID:  deviceID,
		SessionID: sessionID,
	}
}

// ensureSession lazily creates the persisted session. Only real user
// messages reach this point, so the synthetic welcome message never creates
// one.
func (cc *ConversationController) ensureSession(ctx context.Context) {
	cc.mu.Lock()
	if cc.session != nil || cc.opts.Store == nil {
		cc.mu.Unlock()
		return
	}
	shell := chat.NewSession(cc.opts.Language, cc.opts.LocationSummary)
	cc.mu.Unlock()

	id, err := cc.opts.Store.CreateSession(ctx, shell)
	if err != nil {
		logger.WithComponent("conversation").Warnw("session creation failed", "error", err)
		return
	}
	shell.ID = id

	cc.mu.Lock()
	if cc.session == nil {
		cc.session = &shell
	}
	cc.mu.Unlock()
}

// persistExchange saves both sides of a completed exchange in chronological
// order. Failures are logged and swallowed.
func (cc *ConversationController) persistExchange(sessionID string, user, assistant chat.Message) {
	log := logger.WithComponent("conversation")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := cc.opts.Store.SaveMessage(ctx, sessionID, user); err != nil {
		log.Warnw("failed to persist user message", "error", err)
	}
	if err := cc.opts.Store.SaveMessage(ctx, sessionID, assistant); err != nil {
		log.Warnw("failed to persist assistant message", "error", err)
	}
}

// maybeGenerateTitle fires title generation at most once per session, after
// the first completed exchange. The result is applied silently; failures and
// degenerate titles are never retried.
func (cc *ConversationController) maybeGenerateTitle(firstMessage string) {
	cc.mu.Lock()
	if cc.titleRequested || cc.session == nil || cc.session.ID == "" || cc.opts.Titles == nil ||
		chat.UserMessageCount(cc.messages) == 0 {
		cc.mu.Unlock()
		return
	}
	cc.titleRequested = true
	sessionID := cc.session.ID
	cc.mu.Unlock()

	go func() {
		log := logger.WithComponent("conversation")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		title, err := cc.opts.Titles.GenerateTitle(ctx, sessionID, firstMessage)
		if err != nil || title == "" {
			log.Warnw("title generation failed", "error", err)
			return
		}

		if cc.opts.Store != nil {
			if err := cc.opts.Store.UpdateSession(ctx, sessionID, title); err != nil {
				log.Warnw("failed to store title", "error", err)
				return
			}
		}

		cc.mu.Lock()
		if cc.session != nil && cc.session.ID == sessionID {
			cc.session.Title = title
		}
		cc.mu.Unlock()
	}()
}

func (cc *ConversationController) notify(change Change) {
	cc.mu.Lock()
	subs := make([]func(Change), len(cc.subs))
	copy(subs, cc.subs)
	cc.mu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}
