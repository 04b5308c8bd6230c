package controllers

import (
	"context"
	"io"

	"github.com/fieldhand/agrichat/pkg/api"
	"github.com/fieldhand/agrichat/pkg/chat"
	"github.com/fieldhand/agrichat/pkg/stream"
)

// External collaborators the conversation controller drives. *api.Client
// satisfies all of them; tests substitute fakes.

// StreamFactory builds a transport for one streaming chat exchange.
type StreamFactory func(req api.ChatRequest) stream.Transport

// Uploader stores media with the gateway.
type Uploader interface {
	UploadImage(ctx context.Context, filename string, data io.Reader) (api.UploadResult, error)
}

// Diagnoser runs the vision service's plant-health assessment.
type Diagnoser interface {
	DiagnosePlantHealth(ctx context.Context, imageRef string, req api.ChatRequest) (api.DiagnosisResult, error)
}

// Store persists sessions and finalized messages. All calls made by the
// controller are fire-and-forget: a storage failure never surfaces as a
// chat-send failure.
type Store interface {
	CreateSession(ctx context.Context, s chat.Session) (string, error)
	SaveMessage(ctx context.Context, sessionID string, m chat.Message) error
	UpdateSession(ctx context.Context, id, title string) error
}

// TitleGenerator names a conversation from its first exchange.
type TitleGenerator interface {
	GenerateTitle(ctx context.Context, sessionID, firstMessage string) (string, error)
}

// DeviceIdentity supplies the stable device identifier.
type DeviceIdentity interface {
	DeviceID() (string, error)
}
