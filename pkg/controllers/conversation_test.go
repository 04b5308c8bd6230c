package controllers_test

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"

	"github.com/fieldhand/agrichat/pkg/api"
	"github.com/fieldhand/agrichat/pkg/chat"
	"github.com/fieldhand/agrichat/pkg/controllers"
	"github.com/fieldhand/agrichat/pkg/stream"
)

func TestControllers(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Controllers Suite")
}

// scriptedStream replays a fixed set of protocol frames through the growing
// response buffer, then ends with the given terminal signal.
type scriptedStream struct {
	frames []string
	err    error
	hold   chan struct{}

	abortOnce sync.Once
	aborted   atomic.Bool
}

func newScriptedStream(frames ...string) *scriptedStream {
	return &scriptedStream{frames: frames}
}

func (s *scriptedStream) Open(ctx context.Context, h stream.Handler) error {
	var buf strings.Builder
	for _, frame := range s.frames {
		buf.WriteString(frame)
		buf.WriteString("\n\n")
		h.OnProgress(buf.String())
	}
	if s.hold != nil {
		<-s.hold
	}
	if s.aborted.Load() {
		return nil
	}
	if s.err != nil {
		h.OnError(s.err)
		return nil
	}
	h.OnDone(buf.String())
	return nil
}

func (s *scriptedStream) Abort() {
	s.aborted.Store(true)
	if s.hold != nil {
		s.abortOnce.Do(func() { close(s.hold) })
	}
}

// failingStream fails before any bytes arrive, the way a rejected request
// does.
type failingStream struct{ err error }

func (f *failingStream) Open(ctx context.Context, h stream.Handler) error { return f.err }
func (f *failingStream) Abort()                                           {}

// sequenceFactory hands out transports in order and records each request.
type sequenceFactory struct {
	mu         sync.Mutex
	transports []stream.Transport
	requests   []api.ChatRequest
}

func (f *sequenceFactory) next(req api.ChatRequest) stream.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	t := f.transports[0]
	if len(f.transports) > 1 {
		f.transports = f.transports[1:]
	}
	return t
}

func (f *sequenceFactory) recorded() []api.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]api.ChatRequest, len(f.requests))
	copy(out, f.requests)
	return out
}

type MockStore struct {
	mock.Mock
}

func (m *MockStore) CreateSession(ctx context.Context, s chat.Session) (string, error) {
	args := m.Called(ctx, s)
	return args.String(0), args.Error(1)
}

func (m *MockStore) SaveMessage(ctx context.Context, sessionID string, msg chat.Message) error {
	args := m.Called(ctx, sessionID, msg)
	return args.Error(0)
}

func (m *MockStore) UpdateSession(ctx context.Context, id, title string) error {
	args := m.Called(ctx, id, title)
	return args.Error(0)
}

type MockTitles struct {
	mock.Mock
}

func (m *MockTitles) GenerateTitle(ctx context.Context, sessionID, firstMessage string) (string, error) {
	args := m.Called(ctx, sessionID, firstMessage)
	return args.String(0), args.Error(1)
}

type MockUploader struct {
	mock.Mock
}

func (m *MockUploader) UploadImage(ctx context.Context, filename string, data io.Reader) (api.UploadResult, error) {
	args := m.Called(ctx, filename, data)
	return args.Get(0).(api.UploadResult), args.Error(1)
}

type MockDiagnoser struct {
	mock.Mock
}

func (m *MockDiagnoser) DiagnosePlantHealth(ctx context.Context, imageRef string, req api.ChatRequest) (api.DiagnosisResult, error) {
	args := m.Called(ctx, imageRef, req)
	return args.Get(0).(api.DiagnosisResult), args.Error(1)
}

type staticDevice struct{ id string }

func (d staticDevice) DeviceID() (string, error) { return d.id, nil }

// latestAssistant waits out the goroutine that finishes an exchange.
func latestAssistant(cc *controllers.ConversationController) func() chat.Message {
	return func() chat.Message {
		msg, _ := chat.LatestAssistant(cc.Messages())
		return msg
	}
}

var _ = Describe("ConversationController", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	newController := func(factory *sequenceFactory, extra func(*controllers.Options)) *controllers.ConversationController {
		opts := controllers.Options{
			Streams:       factory.next,
			Language:      "en",
			StreamTimeout: 5 * time.Second,
		}
		if extra != nil {
			extra(&opts)
		}
		return controllers.NewConversationController(opts)
	}

	Describe("NewConversationController", func() {
		It("should seed a localized welcome message", func() {
			cc := controllers.NewConversationController(controllers.Options{Language: "sw"})

			msgs := cc.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(chat.RoleAssistant))
			Expect(msgs[0].Text).To(ContainSubstring("kilimo"))
			Expect(cc.IsGenerating()).To(BeFalse())
		})

		It("should fall back to English for an unknown language", func() {
			cc := controllers.NewConversationController(controllers.Options{Language: "xx"})
			en := controllers.NewConversationController(controllers.Options{Language: "en"})

			Expect(cc.Messages()[0].Text).To(Equal(en.Messages()[0].Text))
		})
	})

	Describe("SendText", func() {
		It("should reject empty and whitespace-only input", func() {
			cc := newController(&sequenceFactory{transports: []stream.Transport{newScriptedStream()}}, nil)

			Expect(cc.SendText(ctx, "")).To(BeFalse())
			Expect(cc.SendText(ctx, "   \t")).To(BeFalse())
			Expect(cc.Messages()).To(HaveLen(1))
		})

		It("should stream deltas into a placeholder and finalize on complete", func() {
			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"thinking","thinking":"Looking at the leaf pattern"}`,
				`data: {"type":"text","text":"It is"}`,
				`data: {"type":"text","text":" wheat."}`,
				`data: {"type":"meta","followUpQuestions":["How do I store wheat?"]}`,
				`data: {"type":"complete","response":"It is wheat."}`,
				`data: [DONE]`,
			)}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "What crop is this?")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(SatisfyAll(
				HaveField("Text", "It is wheat."),
				HaveField("IsStreaming", BeFalse()),
			))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.FollowUpQuestions).To(Equal([]string{"How do I store wheat?"}))
			Eventually(cc.IsGenerating).Should(BeFalse())
			Expect(cc.StatusText()).To(BeEmpty())

			// Newest-first: placeholder result, then the user message.
			msgs := cc.Messages()
			Expect(msgs[1].Role).To(Equal(chat.RoleUser))
			Expect(msgs[1].Text).To(Equal("What crop is this?"))
		})

		It("should reject a second send while one is in flight", func() {
			hanging := newScriptedStream(`data: {"type":"text","text":"thinking"}`)
			hanging.hold = make(chan struct{})
			factory := &sequenceFactory{transports: []stream.Transport{hanging}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "first")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeTrue())

			Expect(cc.SendText(ctx, "second")).To(BeFalse())
			Expect(chat.UserMessageCount(cc.Messages())).To(Equal(1))

			cc.Cancel()
			Eventually(cc.IsGenerating).Should(BeFalse())
		})

		It("should build the wire request from context, identity, and prior turns", func() {
			store := &MockStore{}
			store.On("CreateSession", mock.Anything, mock.Anything).Return("sess-1", nil)
			store.On("SaveMessage", mock.Anything, "sess-1", mock.Anything).Return(nil).Maybe()

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"complete","response":"Plant in June."}`,
				`data: [DONE]`,
			)}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Store = store
				o.Device = staticDevice{id: "device-abc"}
				o.Language = "hi"
				o.Latitude = 26.85
				o.Longitude = 80.95
				o.LocationSummary = "Lucknow, Uttar Pradesh"
			})

			Expect(cc.SendText(ctx, "When should I plant rice?")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeFalse())

			reqs := factory.recorded()
			Expect(reqs).To(HaveLen(1))
			req := reqs[0]
			Expect(req.Message).To(Equal("When should I plant rice?"))
			Expect(req.Language).To(Equal("hi"))
			Expect(req.Location).To(Equal("Lucknow, Uttar Pradesh"))
			Expect(req.DeviceID).To(Equal("device-abc"))
			Expect(req.SessionID).To(Equal("sess-1"))

			// History carries prior turns only; the outgoing message is not
			// duplicated into it.
			Expect(req.History).To(HaveLen(1))
			Expect(req.History[0].Role).To(Equal(chat.RoleAssistant))
		})
	})

	Describe("error handling", func() {
		It("should replace the placeholder with a retryable message on a server error", func() {
			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"text","text":"The crop looks"}`,
				`data: {"type":"error","error":"model crashed"}`,
			)}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "diagnose this")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Retryable", BeTrue()))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.Text).To(Equal("Something went wrong on our side. Please try again."))
			Expect(final.Text).ToNot(ContainSubstring("The crop looks"))
			Expect(final.IsStreaming).To(BeFalse())
		})

		It("should localize the error message", func() {
			factory := &sequenceFactory{transports: []stream.Transport{
				&failingStream{err: context.DeadlineExceeded},
			}}
			cc := newController(factory, func(o *controllers.Options) { o.Language = "sw" })

			Expect(cc.SendText(ctx, "habari")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Retryable", BeTrue()))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.Text).To(ContainSubstring("seva"))
		})

		It("should not offer retry for a rejected request", func() {
			factory := &sequenceFactory{transports: []stream.Transport{
				&failingStream{err: &api.Error{StatusCode: 400, Message: "bad request"}},
			}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "hello")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("IsStreaming", BeFalse()))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.Retryable).To(BeFalse())
			Expect(final.Text).To(Equal("Sorry, that request could not be processed."))
			Expect(cc.Retry()).To(BeFalse())
		})
	})

	Describe("Retry", func() {
		It("should replay the failed send without duplicating the user message", func() {
			factory := &sequenceFactory{transports: []stream.Transport{
				newScriptedStream(`data: {"type":"error","error":"overloaded"}`),
				newScriptedStream(
					`data: {"type":"complete","response":"Use drip irrigation."}`,
					`data: [DONE]`,
				),
			}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "how to save water?")).To(BeTrue())
			Eventually(latestAssistant(cc)).Should(HaveField("Retryable", BeTrue()))
			countAfterFailure := len(cc.Messages())

			Expect(cc.Retry()).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Text", "Use drip irrigation."))
			Expect(chat.UserMessageCount(cc.Messages())).To(Equal(1))
			Expect(len(cc.Messages())).To(Equal(countAfterFailure))

			// The replay sent the original text again.
			reqs := factory.recorded()
			Expect(reqs).To(HaveLen(2))
			Expect(reqs[1].Message).To(Equal(reqs[0].Message))

			// The retry closure is consumed.
			Expect(cc.Retry()).To(BeFalse())
		})
	})

	Describe("Cancel", func() {
		It("should drop the placeholder and keep the user message", func() {
			hanging := newScriptedStream(`data: {"type":"text","text":"partial"}`)
			hanging.hold = make(chan struct{})
			factory := &sequenceFactory{transports: []stream.Transport{hanging}}
			cc := newController(factory, nil)

			Expect(cc.SendText(ctx, "never mind")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeTrue())

			cc.Cancel()

			Eventually(cc.IsGenerating).Should(BeFalse())
			msgs := cc.Messages()
			Expect(msgs[0].Role).To(Equal(chat.RoleUser))
			Expect(msgs[0].Text).To(Equal("never mind"))
			Expect(cc.Retry()).To(BeFalse())
		})
	})

	Describe("SendImage", func() {
		var imagePath string

		BeforeEach(func() {
			imagePath = filepath.Join(GinkgoT().TempDir(), "leaf.jpg")
			Expect(os.WriteFile(imagePath, []byte("jpeg-bytes"), 0o644)).To(Succeed())
		})

		It("should merge the upload URL into a successful diagnosis", func() {
			uploads := &MockUploader{}
			uploads.On("UploadImage", mock.Anything, "leaf.jpg", mock.Anything).
				Return(api.UploadResult{URL: "https://cdn.example.com/leaf.jpg"}, nil)
			vision := &MockDiagnoser{}
			vision.On("DiagnosePlantHealth", mock.Anything, imagePath, mock.Anything).
				Return(api.DiagnosisResult{Response: "Early signs of leaf rust."}, nil)

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream()}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Uploads = uploads
				o.Vision = vision
			})

			Expect(cc.SendImage(ctx, imagePath, "what is wrong?")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Text", "Early signs of leaf rust."))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.Metadata).To(HaveKeyWithValue("imageUrl", "https://cdn.example.com/leaf.jpg"))

			uploads.AssertExpectations(GinkgoT())
			vision.AssertExpectations(GinkgoT())
		})

		It("should still show the diagnosis when the upload fails", func() {
			uploads := &MockUploader{}
			uploads.On("UploadImage", mock.Anything, "leaf.jpg", mock.Anything).
				Return(api.UploadResult{}, context.DeadlineExceeded)
			vision := &MockDiagnoser{}
			vision.On("DiagnosePlantHealth", mock.Anything, imagePath, mock.Anything).
				Return(api.DiagnosisResult{Response: "Likely nitrogen deficiency."}, nil)

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream()}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Uploads = uploads
				o.Vision = vision
			})

			Expect(cc.SendImage(ctx, imagePath, "")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Text", "Likely nitrogen deficiency."))
			final, _ := chat.LatestAssistant(cc.Messages())
			Expect(final.Metadata).ToNot(HaveKey("imageUrl"))
		})

		It("should surface a retryable error when the diagnosis fails", func() {
			uploads := &MockUploader{}
			uploads.On("UploadImage", mock.Anything, "leaf.jpg", mock.Anything).
				Return(api.UploadResult{URL: "https://cdn.example.com/leaf.jpg"}, nil)
			vision := &MockDiagnoser{}
			vision.On("DiagnosePlantHealth", mock.Anything, imagePath, mock.Anything).
				Return(api.DiagnosisResult{}, &api.Error{StatusCode: 503, Message: "vision service down"})

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream()}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Uploads = uploads
				o.Vision = vision
			})

			Expect(cc.SendImage(ctx, imagePath, "")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Retryable", BeTrue()))
		})
	})

	Describe("sessions and titles", func() {
		It("should create the session lazily and persist the finished exchange", func() {
			store := &MockStore{}
			var saved atomic.Int32
			store.On("CreateSession", mock.Anything, mock.Anything).Return("sess-9", nil).Once()
			store.On("SaveMessage", mock.Anything, "sess-9", mock.Anything).
				Run(func(mock.Arguments) { saved.Add(1) }).Return(nil)

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"complete","response":"Rotate your crops."}`,
				`data: [DONE]`,
			)}}
			cc := newController(factory, func(o *controllers.Options) { o.Store = store })

			Expect(cc.SendText(ctx, "soil is tired")).To(BeTrue())

			Eventually(saved.Load).Should(Equal(int32(2)))
			sess, ok := cc.Session()
			Expect(ok).To(BeTrue())
			Expect(sess.ID).To(Equal("sess-9"))
			store.AssertExpectations(GinkgoT())
		})

		It("should generate a title once per session", func() {
			store := &MockStore{}
			store.On("CreateSession", mock.Anything, mock.Anything).Return("sess-2", nil).Once()
			store.On("SaveMessage", mock.Anything, "sess-2", mock.Anything).Return(nil)
			store.On("UpdateSession", mock.Anything, "sess-2", "Wheat rust treatment").Return(nil)

			titles := &MockTitles{}
			var titleCalls atomic.Int32
			titles.On("GenerateTitle", mock.Anything, "sess-2", mock.Anything).
				Run(func(mock.Arguments) { titleCalls.Add(1) }).
				Return("Wheat rust treatment", nil)

			factory := &sequenceFactory{transports: []stream.Transport{
				newScriptedStream(`data: {"type":"complete","response":"Spray propiconazole."}`, `data: [DONE]`),
				newScriptedStream(`data: {"type":"complete","response":"Every two weeks."}`, `data: [DONE]`),
			}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Store = store
				o.Titles = titles
			})

			Expect(cc.SendText(ctx, "my wheat has rust")).To(BeTrue())
			Eventually(titleCalls.Load).Should(Equal(int32(1)))
			Eventually(func() string {
				sess, _ := cc.Session()
				return sess.Title
			}).Should(Equal("Wheat rust treatment"))

			Eventually(cc.IsGenerating).Should(BeFalse())
			Expect(cc.SendText(ctx, "how often do I spray?")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeFalse())

			Consistently(titleCalls.Load).Should(Equal(int32(1)))
		})

		It("should tolerate title generation failure without retrying", func() {
			store := &MockStore{}
			store.On("CreateSession", mock.Anything, mock.Anything).Return("sess-3", nil).Once()
			store.On("SaveMessage", mock.Anything, "sess-3", mock.Anything).Return(nil)

			titles := &MockTitles{}
			var titleCalls atomic.Int32
			titles.On("GenerateTitle", mock.Anything, "sess-3", mock.Anything).
				Run(func(mock.Arguments) { titleCalls.Add(1) }).
				Return("", context.DeadlineExceeded)

			factory := &sequenceFactory{transports: []stream.Transport{
				newScriptedStream(`data: {"type":"complete","response":"ok"}`, `data: [DONE]`),
				newScriptedStream(`data: {"type":"complete","response":"ok"}`, `data: [DONE]`),
			}}
			cc := newController(factory, func(o *controllers.Options) {
				o.Store = store
				o.Titles = titles
			})

			Expect(cc.SendText(ctx, "first")).To(BeTrue())
			Eventually(titleCalls.Load).Should(Equal(int32(1)))
			Eventually(cc.IsGenerating).Should(BeFalse())

			Expect(cc.SendText(ctx, "second")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeFalse())

			Consistently(titleCalls.Load).Should(Equal(int32(1)))
			sess, _ := cc.Session()
			Expect(sess.Title).To(BeEmpty())
		})

		It("should keep chatting when session creation fails", func() {
			store := &MockStore{}
			store.On("CreateSession", mock.Anything, mock.Anything).Return("", context.DeadlineExceeded)

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"complete","response":"Answer anyway."}`,
				`data: [DONE]`,
			)}}
			cc := newController(factory, func(o *controllers.Options) { o.Store = store })

			Expect(cc.SendText(ctx, "hello")).To(BeTrue())

			Eventually(latestAssistant(cc)).Should(HaveField("Text", "Answer anyway."))
			_, ok := cc.Session()
			Expect(ok).To(BeFalse())
			Expect(factory.recorded()[0].SessionID).To(BeEmpty())
		})
	})

	Describe("StartNewSession", func() {
		It("should reset to a fresh welcome message", func() {
			store := &MockStore{}
			store.On("CreateSession", mock.Anything, mock.Anything).Return("sess-old", nil)
			store.On("SaveMessage", mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

			factory := &sequenceFactory{transports: []stream.Transport{newScriptedStream(
				`data: {"type":"complete","response":"done"}`,
				`data: [DONE]`,
			)}}
			cc := newController(factory, func(o *controllers.Options) { o.Store = store })

			Expect(cc.SendText(ctx, "old topic")).To(BeTrue())
			Eventually(cc.IsGenerating).Should(BeFalse())

			cc.StartNewSession()

			msgs := cc.Messages()
			Expect(msgs).To(HaveLen(1))
			Expect(msgs[0].Role).To(Equal(chat.RoleAssistant))
			_, ok := cc.Session()
			Expect(ok).To(BeFalse())
		})
	})
})
