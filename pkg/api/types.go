package api

import "github.com/fieldhand/agrichat/pkg/chat"

// ChatRequest is the gateway's chat request shape, shared by the streaming
// and non-streaming endpoints.
type ChatRequest struct {
	Message   string              `json:"message"`
	Latitude  float64             `json:"latitude"`
	Longitude float64             `json:"longitude"`
	Language  string              `json:"language"`
	Location  string              `json:"location,omitempty"`
	History   []chat.HistoryEntry `json:"history"`
	DeviceID  string              `json:"deviceId"`
	SessionID string              `json:"sessionId,omitempty"`
}

// envelope is the common success/error shape every gateway response carries.
// Success is a pointer because successful responses may omit the field.
type envelope struct {
	Success *bool  `json:"success"`
	Error   string `json:"error"`
}

func (e envelope) failed() bool {
	return e.Success != nil && !*e.Success
}

// ChatResponse is the non-streaming chat reply.
type ChatResponse struct {
	envelope
	Response string `json:"response"`
	Region   string `json:"region,omitempty"`
	Language string `json:"language,omitempty"`
}

// UploadResult is the stored location of an uploaded image or audio clip.
type UploadResult struct {
	envelope
	URL string `json:"url"`
}

// TranscriptionResult is the text of a transcribed audio clip.
type TranscriptionResult struct {
	envelope
	Text string `json:"text"`
}

// SpeechResult is a synthesized audio clip.
type SpeechResult struct {
	envelope
	AudioURL string `json:"audioUrl"`
}

// DiagnosisResult is the vision service's plant-health assessment.
type DiagnosisResult struct {
	envelope
	Response string         `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// SessionResult wraps session persistence replies.
type SessionResult struct {
	envelope
	Session chat.Session `json:"session"`
}

// TitleResult is the generated conversation title.
type TitleResult struct {
	envelope
	Title string `json:"title"`
}
