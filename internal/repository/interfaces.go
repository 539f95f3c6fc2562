package repository

import (
	"context"
	"time"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
)

// UserRepository exposes persistence for student accounts.
type UserRepository interface {
	Get(ctx context.Context, id string) (domain.User, error)
	Create(ctx context.Context, user domain.User) (domain.User, error)
	UpdateStatus(ctx context.Context, id string, status domain.Status) error
	// UpdateStatuses writes every update in a single batch.
	UpdateStatuses(ctx context.Context, updates []StatusUpdate) error
	ListByOrg(ctx context.Context, orgCode string) ([]domain.User, error)
	UpdatePassword(ctx context.Context, id, passwordHash string, at time.Time) error
	UpdateTimezone(ctx context.Context, id, timezone string) error
}

// StatusUpdate is a single entry of a batch status write.
type StatusUpdate struct {
	UserID string
	Status domain.Status
}

// OrganizationRepository exposes persistence for partner organizations.
type OrganizationRepository interface {
	Get(ctx context.Context, code string) (domain.Organization, error)
	Create(ctx context.Context, org domain.Organization) (domain.Organization, error)
}

// SubmissionRepository stores evaluated essays. Records are append-only.
type SubmissionRepository interface {
	Append(ctx context.Context, sub domain.Submission) (domain.Submission, error)
	// ListByUser returns the user's submissions, newest first.
	ListByUser(ctx context.Context, userID string, limit int) ([]domain.Submission, error)
	// ListByOrgBetween returns submissions of an organization whose submit
	// time falls in [from, to). It needs the org/submit-time index and
	// reports domain.ErrMissingIndex when the store cannot serve it.
	ListByOrgBetween(ctx context.Context, orgCode string, from, to time.Time) ([]domain.Submission, error)
	// CountByOrg returns the number of submissions per user id of an
	// organization. It uses the same index as ListByOrgBetween.
	CountByOrg(ctx context.Context, orgCode string) (map[string]int, error)
}

// KeyRepository stores session signing keys.
type KeyRepository interface {
	GetActiveKey(ctx context.Context) (domain.SigningKey, error)
	CreateKey(ctx context.Context, key domain.SigningKey) (domain.SigningKey, error)
}

// Migrator prepares the backing store's schema and indexes.
type Migrator interface {
	Migrate(ctx context.Context) error
}

// Store bundles the repositories of one backing store.
type Store struct {
	Users         UserRepository
	Organizations OrganizationRepository
	Submissions   SubmissionRepository
	Keys          KeyRepository
	Schema        Migrator
}
