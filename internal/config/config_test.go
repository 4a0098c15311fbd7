package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chtemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chtemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "mappings.yaml", cfg.Ingest.MappingsPath)
	assert.InDelta(t, 10000, cfg.Ingest.WorstAccuracyM, 0.001)
	assert.Equal(t, 1500, cfg.Ingest.MinYear)
	assert.InDelta(t, 0.2, cfg.Ingest.ObscureBoxDegrees, 0.001)
	assert.InDelta(t, 110574, cfg.Ingest.MetersPerDegLat, 0.001)
	assert.InDelta(t, 111320, cfg.Ingest.MetersPerDegLon, 0.001)
	assert.Equal(t, "occurrence-cli/1.0", cfg.Fetch.UserAgent)
	assert.Len(t, cfg.Sources, 5)
	assert.Len(t, cfg.Cascade.Steps, 4)
}

func TestLoadConfigFile(t *testing.T) {
	dir := chtemp(t)
	content := `
store:
  driver: postgres
  database_url: postgres://localhost/occ
ingest:
  worst_accuracy_m: 5000
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "postgres://localhost/occ", cfg.Store.DatabaseURL)
	assert.InDelta(t, 5000, cfg.Ingest.WorstAccuracyM, 0.001)
	// Defaults still apply for unset keys
	assert.Equal(t, 1500, cfg.Ingest.MinYear)
}

func TestLoadEnvOverride(t *testing.T) {
	chtemp(t)
	t.Setenv("OCC_STORE_DRIVER", "postgres")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.Store.Driver)
}

func TestDefaultCascadeStepsOrder(t *testing.T) {
	steps := DefaultCascadeSteps()
	require.Len(t, steps, 4)

	assert.Equal(t, "iNaturalist.ca", steps[0].Higher)
	assert.Equal(t, []string{"iNaturalist.org"}, steps[0].Lower)
	assert.Equal(t, RuleExact, steps[0].Rule)

	assert.Equal(t, "iNaturalist.org", steps[1].Higher)
	assert.Equal(t, []string{"GBIF"}, steps[1].Lower)
	assert.Equal(t, RuleSuffix, steps[1].Rule)
	assert.Equal(t, "uri", steps[1].MatchField)
	assert.Equal(t, "iNaturalist", steps[1].GuardValue)

	assert.Equal(t, "GBIF", steps[3].Higher)
	assert.Equal(t, []string{"eBird"}, steps[3].Lower)
	assert.Equal(t, RuleExact, steps[3].Rule)
}

func TestValidateDuplicateSource(t *testing.T) {
	cfg := &Config{Sources: []SourceEntry{
		{Name: "GBIF", Priority: 1},
		{Name: "GBIF", Priority: 2},
	}}
	assert.ErrorContains(t, cfg.Validate(), "duplicate source")
}

func TestValidateSuffixStepNeedsDelimiter(t *testing.T) {
	cfg := &Config{Cascade: CascadeConfig{Steps: []CascadeStep{
		{Name: "bad", Higher: "A", Lower: []string{"B"}, Rule: RuleSuffix},
	}}}
	assert.ErrorContains(t, cfg.Validate(), "delimiter")
}

func TestValidateUnknownRule(t *testing.T) {
	cfg := &Config{Cascade: CascadeConfig{Steps: []CascadeStep{
		{Name: "bad", Higher: "A", Lower: []string{"B"}, Rule: "fuzzy"},
	}}}
	assert.ErrorContains(t, cfg.Validate(), "unknown rule")
}

func TestValidateStepMissingSources(t *testing.T) {
	cfg := &Config{Cascade: CascadeConfig{Steps: []CascadeStep{
		{Name: "bad", Rule: RuleExact},
	}}}
	assert.ErrorContains(t, cfg.Validate(), "missing higher/lower")
}

func TestSourcePriority(t *testing.T) {
	cfg := &Config{Sources: []SourceEntry{
		{Name: "GBIF", Priority: 3},
		{Name: "eBird", Priority: 5},
	}}
	assert.Equal(t, 3, cfg.SourcePriority("GBIF"))
	assert.Equal(t, -1, cfg.SourcePriority("unknown"))
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())

	assert.Error(t, InitLogger(LogConfig{Level: "nope", Format: "json"}))
}
