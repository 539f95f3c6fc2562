package service

import (
	"context"
	"time"

	"github.com/bigkaiyoh/TGF-Scholar/internal/adapter/assistant"
)

// FeedbackClient runs an assistant round trip and returns its typed result.
type FeedbackClient interface {
	RequestFeedback(ctx context.Context, assistantID, prompt string) assistant.Result
}

// Transcriber extracts text from an essay image.
type Transcriber interface {
	Transcribe(ctx context.Context, image []byte, contentType string) (string, error)
}

// ScanArchive stores uploaded scans and returns their object key, or an empty
// key when archiving is disabled.
type ScanArchive interface {
	Store(ctx context.Context, userID string, body []byte, contentType string) (string, error)
}

// PasswordNotifier informs a student about a password change.
type PasswordNotifier interface {
	PasswordChanged(ctx context.Context, to, userID string, at time.Time) error
}

// SessionRevoker revokes session token ids until their expiry.
type SessionRevoker interface {
	Revoke(ctx context.Context, tokenID string, expiresAt time.Time) error
}
