package api

import (
	"context"

	"github.com/fieldhand/agrichat/pkg/chat"
)

// Session and message persistence. The storage schema belongs to the
// gateway; this client only depends on the documented success/error shape.

// CreateSession persists a new conversation session and returns its id.
func (c *Client) CreateSession(ctx context.Context, s chat.Session) (string, error) {
	var out SessionResult
	if err := c.postJSON(ctx, "/api/sessions", c.timeouts.ChatTimeout, s, &out); err != nil {
		return "", err
	}
	if out.failed() {
		return "", &Error{Message: out.Error}
	}
	return out.Session.ID, nil
}

// GetSession fetches a persisted session.
func (c *Client) GetSession(ctx context.Context, id string) (chat.Session, error) {
	var out SessionResult
	req := map[string]string{"id": id}
	if err := c.postJSON(ctx, "/api/sessions/get", c.timeouts.ChatTimeout, req, &out); err != nil {
		return chat.Session{}, err
	}
	if out.failed() {
		return chat.Session{}, &Error{Message: out.Error}
	}
	return out.Session, nil
}

// SaveMessage appends a finalized message to a session's chronological
// history.
func (c *Client) SaveMessage(ctx context.Context, sessionID string, m chat.Message) error {
	body := struct {
		SessionID string       `json:"sessionId"`
		Message   chat.Message `json:"message"`
	}{SessionID: sessionID, Message: m}

	var out envelope
	if err := c.postJSON(ctx, "/api/messages", c.timeouts.ChatTimeout, body, &out); err != nil {
		return err
	}
	if out.failed() {
		return &Error{Message: out.Error}
	}
	return nil
}

// UpdateSession sets a session's title.
func (c *Client) UpdateSession(ctx context.Context, id, title string) error {
	body := map[string]string{"id": id, "title": title}
	var out envelope
	if err := c.postJSON(ctx, "/api/sessions/update", c.timeouts.ChatTimeout, body, &out); err != nil {
		return err
	}
	if out.failed() {
		return &Error{Message: out.Error}
	}
	return nil
}

// GenerateTitle asks the gateway to title a conversation from its first
// exchange.
func (c *Client) GenerateTitle(ctx context.Context, sessionID, firstMessage string) (string, error) {
	body := map[string]string{"sessionId": sessionID, "message": firstMessage}
	var out TitleResult
	if err := c.postJSON(ctx, "/api/sessions/title", c.timeouts.ChatTimeout, body, &out); err != nil {
		return "", err
	}
	if out.failed() {
		return "", &Error{Message: out.Error}
	}
	return out.Title, nil
}
