// Package bootstrap prepares the backing store when the service starts.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
	"github.com/bigkaiyoh/TGF-Scholar/internal/domain"
	"github.com/bigkaiyoh/TGF-Scholar/internal/org"
	"github.com/bigkaiyoh/TGF-Scholar/internal/password"
	"github.com/bigkaiyoh/TGF-Scholar/internal/repository"
	"github.com/bigkaiyoh/TGF-Scholar/internal/session"
)

// EnsureSchema applies migrations or indexes on start when enabled.
func EnsureSchema(lc fx.Lifecycle, cfg config.Config, store repository.Store, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.MigrateOnStart {
				return nil
			}
			return Migrate(ctx, store.Schema, logger)
		},
	})
}

// Migrate runs the store's migrator.
func Migrate(ctx context.Context, m repository.Migrator, logger *zap.Logger) error {
	if m == nil {
		return nil
	}
	start := time.Now()
	if err := m.Migrate(ctx); err != nil {
		return fmt.Errorf("bootstrap schema: %w", err)
	}
	if logger != nil {
		logger.Info("schema ready", zap.Duration("took", time.Since(start)))
	}
	return nil
}

// EnsureSigningKey creates the session signing key on start if missing.
func EnsureSigningKey(lc fx.Lifecycle, keys *session.KeyManager) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := keys.EnsureSigningKey(ctx); err != nil {
				return fmt.Errorf("bootstrap signing key: %w", err)
			}
			return nil
		},
	})
}

// EnsureOrganization creates the configured seed organization for dev/e2e if
// missing.
func EnsureOrganization(lc fx.Lifecycle, cfg config.Config, orgs repository.OrganizationRepository, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if !cfg.SeedOrg.Enabled() {
				return nil
			}
			_, err := SeedOrganization(ctx, cfg.SeedOrg, orgs, logger)
			return err
		},
	})
}

// SeedOrganization creates the organization described by seed unless its
// code already exists. It reports whether an organization was created.
func SeedOrganization(ctx context.Context, seed config.SeedOrgConfig, orgs repository.OrganizationRepository, logger *zap.Logger) (bool, error) {
	code := strings.TrimSpace(seed.Code)
	if code == "" || seed.Password == "" {
		return false, fmt.Errorf("seed organization missing required config")
	}
	if seed.Timezone != "" && !org.ValidTimezone(seed.Timezone) {
		return false, fmt.Errorf("seed organization: unknown time zone %q", seed.Timezone)
	}

	if _, err := orgs.Get(ctx, code); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return false, fmt.Errorf("seed lookup organization: %w", err)
	}

	hashed, err := password.Hash(seed.Password)
	if err != nil {
		return false, fmt.Errorf("seed hash password: %w", err)
	}

	created, err := orgs.Create(ctx, domain.Organization{
		Code:          code,
		Name:          seed.Name,
		PasswordHash:  hashed,
		Timezone:      seed.Timezone,
		FullDashboard: seed.FullDashboard,
		CreatedAt:     time.Now().UTC(),
	})
	if errors.Is(err, domain.ErrDuplicateID) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("seed create organization: %w", err)
	}

	if logger != nil {
		logger.Info("seed organization created",
			zap.String("org_code", created.Code),
			zap.String("timezone", created.Timezone),
			zap.Bool("full_dashboard", created.FullDashboard),
		)
	}
	return true, nil
}
