package chat

import "time"

// Session is one persisted conversation. It is created lazily on the first
// real user message, never on the synthetic welcome message. The title is
// generated once, asynchronously, after the first exchange completes.
type Session struct {
	ID              string    `json:"id"`
	CreatedAt       time.Time `json:"createdAt"`
	Title           string    `json:"title"`
	LanguageCode    string    `json:"languageCode"`
	LocationSummary string    `json:"locationSummary"`
}

// NewSession creates an unpersisted session shell; the persisted ID is
// assigned by the store.
func NewSession(languageCode, locationSummary string) Session {
	return Session{
		CreatedAt:       time.Now(),
		LanguageCode:    languageCode,
		LocationSummary: locationSummary,
	}
}
