package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/rivalwatch/internal/config"
	"github.com/JakeFAU/rivalwatch/internal/targets"
)

func inlineConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Targets.Competitors = []targets.Competitor{{
		Name:  "Acme",
		Pages: []targets.Page{{URL: "https://acme.test/pricing", Type: "pricing"}},
	}}
	return cfg
}

func TestRunReportMode(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	code := run(context.Background(), inlineConfig(t), zap.NewNop(), false, 3, &out)
	require.Equal(t, 0, code)
	require.Equal(t, "No changes detected in the last 3 days.\n", out.String())
}

func TestRunFailsWithoutTargets(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load("")
	require.NoError(t, err)
	var out bytes.Buffer
	require.Equal(t, 1, run(context.Background(), cfg, zap.NewNop(), false, 7, &out))
	require.Empty(t, out.String())
}
