package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
)

func TestLoadPostgresDefaults(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/scholar")
	t.Setenv("SEED_ORG_CODE", "")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.Equal(t, config.StorePostgres, cfg.StoreDriver)
	require.Equal(t, time.Second, cfg.Assistant.PollInterval)
	require.Equal(t, 300, cfg.Assistant.TranscriptionTokens)
	require.False(t, cfg.SeedOrg.Enabled())
}

func TestLoadRequiresDriverURL(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "")

	_, err := config.Load()
	require.ErrorContains(t, err, "MONGO_URI")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("STORE_DRIVER", "firestore")

	_, err := config.Load()
	require.Error(t, err)
}

func TestLoadSeedOrganization(t *testing.T) {
	t.Setenv("STORE_DRIVER", "mongo")
	t.Setenv("MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("SEED_ORG_CODE", "NUGINY")
	t.Setenv("SEED_ORG_NAME", "")
	t.Setenv("SEED_ORG_PASSWORD", "org-secret")
	t.Setenv("SEED_ORG_TIMEZONE", "Asia/Tokyo")
	t.Setenv("SEED_ORG_FULL_DASHBOARD", "yes")
	t.Setenv("ASSISTANT_POLL_INTERVAL", "2s")
	t.Setenv("ASSISTANT_TIMEOUT", "1s")

	cfg, err := config.Load()
	require.NoError(t, err)
	require.True(t, cfg.SeedOrg.Enabled())
	require.Equal(t, "NUGINY", cfg.SeedOrg.Name)
	require.True(t, cfg.SeedOrg.FullDashboard)
	require.Equal(t, "Asia/Tokyo", cfg.SeedOrg.Timezone)
	require.Equal(t, 2*time.Second, cfg.Assistant.Timeout)
}

func TestLoadSeedOrganizationRequiresPassword(t *testing.T) {
	t.Setenv("STORE_DRIVER", "postgres")
	t.Setenv("DATABASE_URL", "postgres://localhost/scholar")
	t.Setenv("SEED_ORG_CODE", "NUGINY")
	t.Setenv("SEED_ORG_PASSWORD", "")

	_, err := config.Load()
	require.ErrorContains(t, err, "SEED_ORG_PASSWORD")
}
