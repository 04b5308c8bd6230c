package chat

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one entry in a conversation. A message is mutable only while
// IsStreaming is true, and only by the stream session that owns it; once
// finalized it never changes.
type Message struct {
	ID                string         `json:"id"`
	Role              string         `json:"role"`
	Text              string         `json:"text"`
	CreatedAt         time.Time      `json:"createdAt"`
	IsStreaming       bool           `json:"isStreaming"`
	Image             string         `json:"image,omitempty"`
	FollowUpQuestions []string       `json:"followUpQuestions,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`

	// Retryable marks an error message whose originating operation can be
	// replayed through ConversationController.Retry.
	Retryable bool `json:"-"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

func NewUserMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleUser,
		Text:      strings.TrimSpace(text),
		CreatedAt: time.Now(),
	}
}

func NewUserImageMessage(text, image string) Message {
	msg := NewUserMessage(text)
	msg.Image = image
	return msg
}

func NewAssistantMessage(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      text,
		CreatedAt: time.Now(),
	}
}

// NewStreamingPlaceholder creates the empty assistant message that a stream
// session fills in as events arrive.
func NewStreamingPlaceholder() Message {
	return Message{
		ID:          uuid.NewString(),
		Role:        RoleAssistant,
		CreatedAt:   time.Now(),
		IsStreaming: true,
	}
}

func NewErrorMessage(text string, retryable bool) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Text:      text,
		CreatedAt: time.Now(),
		Retryable: retryable,
	}
}

func (m Message) IsUser() bool {
	return m.Role == RoleUser
}

func (m Message) IsAssistant() bool {
	return m.Role == RoleAssistant
}
