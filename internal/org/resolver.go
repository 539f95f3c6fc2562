package org

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
)

// Context stores resolved organization metadata used throughout a request.
type Context struct {
	Org      domain.Organization
	Location *time.Location
}

// Resolver loads organizations from the repository.
type Resolver struct {
	repo repository.OrganizationRepository
}

// NewResolver creates an org resolver.
func NewResolver(repo repository.OrganizationRepository) *Resolver {
	return &Resolver{repo: repo}
}

// Resolve loads the organization identified by code along with its time zone.
func (r *Resolver) Resolve(ctx context.Context, code string) (*Context, error) {
	cleaned := strings.TrimSpace(code)
	if cleaned == "" {
		zap.L().Warn("org resolver received empty code")
		return nil, fmt.Errorf("resolve org: empty code: %w", domain.ErrNotFound)
	}

	orgRow, err := r.repo.Get(ctx, cleaned)
	if err != nil {
		zap.L().Debug("failed to resolve org", zap.String("org_code", cleaned), zap.Error(err))
		return nil, fmt.Errorf("resolve org: %w", err)
	}

	zap.L().Debug("org context resolved", zap.String("org_code", orgRow.Code), zap.String("timezone", orgRow.Timezone))

	return &Context{
		Org:      orgRow,
		Location: Location(orgRow.Timezone),
	}, nil
}

// Location loads an IANA time zone, falling back to UTC for empty or unknown
// names.
func Location(name string) *time.Location {
	name = strings.TrimSpace(name)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		zap.L().Warn("unknown time zone, using UTC", zap.String("timezone", name), zap.Error(err))
		return time.UTC
	}
	return loc
}

// ValidTimezone reports whether name is a loadable IANA time zone.
func ValidTimezone(name string) bool {
	if strings.TrimSpace(name) == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}
