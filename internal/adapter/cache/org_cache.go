package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

const orgPrefix = "org:"

// CachedOrganizationRepository is a read-through Redis cache in front of an
// OrganizationRepository. Cache failures fall back to the repository.
type CachedOrganizationRepository struct {
	next   repository.OrganizationRepository
	client redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

var _ repository.OrganizationRepository = (*CachedOrganizationRepository)(nil)

// NewCachedOrganizationRepository wraps next with a cache entry per code.
func NewCachedOrganizationRepository(next repository.OrganizationRepository, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *CachedOrganizationRepository {
	if logger == nil {
		logger = zap.L()
	}
	return &CachedOrganizationRepository{next: next, client: client, ttl: ttl, logger: logger}
}

// cachedOrganization mirrors domain.Organization with explicit JSON names.
type cachedOrganization struct {
	Code          string              `json:"code"`
	Name          string              `json:"name"`
	PasswordHash  string              `json:"password_hash"`
	Timezone      string              `json:"timezone"`
	FullDashboard bool                `json:"full_dashboard"`
	Universities  []domain.University `json:"universities,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
}

func (r *CachedOrganizationRepository) Get(ctx context.Context, code string) (domain.Organization, error) {
	if r.ttl > 0 {
		raw, err := r.client.Get(ctx, orgPrefix+code).Bytes()
		switch {
		case err == nil:
			var c cachedOrganization
			if jsonErr := json.Unmarshal(raw, &c); jsonErr == nil {
				return domain.Organization(c), nil
			}
		case !errors.Is(err, redis.Nil):
			r.logger.Warn("org cache read failed", zap.String("org_code", code), zap.Error(err))
		}
	}

	org, err := r.next.Get(ctx, code)
	if err != nil {
		return domain.Organization{}, err
	}
	r.store(ctx, org)
	return org, nil
}

func (r *CachedOrganizationRepository) Create(ctx context.Context, org domain.Organization) (domain.Organization, error) {
	created, err := r.next.Create(ctx, org)
	if err != nil {
		return domain.Organization{}, err
	}
	r.store(ctx, created)
	return created, nil
}

func (r *CachedOrganizationRepository) store(ctx context.Context, org domain.Organization) {
	if r.ttl <= 0 {
		return
	}
	payload, err := json.Marshal(cachedOrganization(org))
	if err != nil {
		return
	}
	if err := r.client.Set(ctx, orgPrefix+org.Code, payload, r.ttl).Err(); err != nil {
		r.logger.Warn("org cache write failed", zap.String("org_code", org.Code), zap.Error(err))
	}
}
