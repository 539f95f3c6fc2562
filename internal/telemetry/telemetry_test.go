package telemetry_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bigkaiyoh/TGF-Scholar/internal/config"
	"github.com/bigkaiyoh/TGF-Scholar/internal/telemetry"
)

func TestNewWithoutEndpointIsNoop(t *testing.T) {
	p, err := telemetry.New(context.Background(), config.Config{ServiceName: "scholar"}, zap.NewNop())
	require.NoError(t, err)
	require.False(t, p.Enabled())
	require.NotNil(t, p.Tracer())
	require.NoError(t, p.Shutdown(context.Background()))
}
