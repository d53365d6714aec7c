package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	assert.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	log := logrus.New()

	t.Run("defaults when file is missing", func(t *testing.T) {
		cfg := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"), log)
		assert.Equal(t, Default().Screening, cfg.Screening)
		assert.Equal(t, DefaultAllowedLicenses, cfg.License.Allowed)
		assert.Equal(t, DefaultFeedTimeout, cfg.Feeds.Timeout)
	})

	t.Run("defaults when file is corrupt", func(t *testing.T) {
		path := writeFile(t, "depvet.yaml", "screening: [this is: not valid")
		cfg := Load(viper.New(), path, log)
		assert.Equal(t, Default().Security, cfg.Security)
	})

	t.Run("reads policy document", func(t *testing.T) {
		path := writeFile(t, "depvet.yaml", `
screening:
  minimumDownloads: 5000
  maxAgeMonths: 12
security:
  criticalVulnerabilities: 1
  maxCVSSScore: 8.5
license:
  allowed: [MIT]
  blocked: [GPL-3.0]
approval:
  weights:
    security: 2
feeds:
  timeout: 3s
`)
		cfg := Load(viper.New(), path, log)
		assert.Equal(t, int64(5000), cfg.Screening.MinimumDownloads)
		assert.Equal(t, 12, cfg.Screening.MaxAgeMonths)
		assert.Equal(t, 1, cfg.Security.CriticalVulnerabilities)
		assert.Equal(t, 8.5, cfg.Security.MaxCVSSScore)
		assert.Equal(t, []string{"MIT"}, cfg.License.Allowed)
		assert.Equal(t, []string{"GPL-3.0"}, cfg.License.Blocked)
		assert.Equal(t, 2.0, cfg.Weight("security"))
		assert.Equal(t, 1.0, cfg.Weight("license"))
		assert.Equal(t, 3*time.Second, cfg.Feeds.Timeout)
	})

	t.Run("env overrides", func(t *testing.T) {
		t.Setenv("DEPVET_REGISTRY_PATH", "/tmp/registry.json")
		cfg := Load(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"), log)
		assert.Equal(t, "/tmp/registry.json", cfg.Registry.Path)
	})
}

func TestSanitize(t *testing.T) {
	t.Run("overlapping license lists fall back to defaults", func(t *testing.T) {
		cfg := Default()
		cfg.License = License{Allowed: []string{"MIT", "GPL-3.0"}, Blocked: []string{"GPL-3.0"}}

		problems := cfg.Sanitize()

		assert.Len(t, problems, 1)
		assert.Equal(t, Default().License, cfg.License)
	})

	t.Run("invalid severity and timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Security.MinSeverity = "urgent"
		cfg.Feeds.Timeout = 0

		problems := cfg.Sanitize()

		assert.Len(t, problems, 2)
		assert.Equal(t, "medium", cfg.Security.MinSeverity)
		assert.Equal(t, DefaultFeedTimeout, cfg.Feeds.Timeout)
	})

	t.Run("zero weight kept, all zero reset", func(t *testing.T) {
		cfg := Default()
		cfg.Approval.Weights = map[string]float64{"license": 0}
		assert.Empty(t, cfg.Sanitize())
		assert.Equal(t, 0.0, cfg.Weight("license"))
		assert.Equal(t, 1.0, cfg.Weight("security"))

		cfg.Approval.Weights = map[string]float64{}
		for _, stage := range stageNames {
			cfg.Approval.Weights[stage] = 0
		}
		problems := cfg.Sanitize()
		assert.Len(t, problems, 1)
		assert.Equal(t, 1.0, cfg.Weight("license"))
	})

	t.Run("valid config untouched", func(t *testing.T) {
		cfg := Default()
		assert.Empty(t, cfg.Sanitize())
		assert.Equal(t, Default(), cfg)
	})
}
