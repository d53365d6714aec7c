package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const EnvPrefix = "DEPVET"

// SetDefaults registers every documented default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("screening.minimumDownloads", d.Screening.MinimumDownloads)
	v.SetDefault("screening.maxAgeMonths", d.Screening.MaxAgeMonths)
	v.SetDefault("screening.maxPackageSizeMB", d.Screening.MaxPackageSizeMB)

	v.SetDefault("security.criticalVulnerabilities", d.Security.CriticalVulnerabilities)
	v.SetDefault("security.highVulnerabilities", d.Security.HighVulnerabilities)
	v.SetDefault("security.maxCVSSScore", d.Security.MaxCVSSScore)
	v.SetDefault("security.minSeverity", d.Security.MinSeverity)

	v.SetDefault("license.allowed", d.License.Allowed)
	v.SetDefault("license.blocked", d.License.Blocked)

	v.SetDefault("integration.maxTransitiveDependencies", d.Integration.MaxTransitiveDependencies)
	v.SetDefault("maintenance.staleAfterDays", d.Maintenance.StaleAfterDays)

	v.SetDefault("feeds.depsDevURL", d.Feeds.DepsDevURL)
	v.SetDefault("feeds.osvURL", d.Feeds.OSVURL)
	v.SetDefault("feeds.timeout", d.Feeds.Timeout)
	v.SetDefault("feeds.retries", d.Feeds.Retries)
	v.SetDefault("feeds.requestsPerSecond", d.Feeds.RequestsPerSecond)

	v.SetDefault("registry.path", d.Registry.Path)
	v.SetDefault("registry.recreateCorrupt", d.Registry.RecreateCorrupt)
	v.SetDefault("history.path", d.History.Path)

	v.SetDefault("monitoring.frequency", d.Monitoring.Frequency)
	v.SetDefault("monitoring.schedule", d.Monitoring.Schedule)
	v.SetDefault("monitoring.concurrency", d.Monitoring.Concurrency)
	v.SetDefault("monitoring.benchmarksFile", d.Monitoring.BenchmarksFile)

	v.SetDefault("vetting.level", d.Vetting.Level)
	v.SetDefault("vetting.concurrency", d.Vetting.Concurrency)
	v.SetDefault("vetting.approvedBy", d.Vetting.ApprovedBy)

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.allowedOrigins", d.Server.AllowedOrigins)

	v.SetDefault("verbose", false)
}

// Load reads the policy document, .env and DEPVET_* variables into a Config.
// A missing or unreadable document is not fatal: defaults are used and a warning is logged.
func Load(v *viper.Viper, cfgFile string, log *logrus.Logger) Config {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.WithError(err).Debug("ignoring .env file")
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("depvet")
	}

	bindEnv(v)
	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			log.Debug("no configuration file found, using defaults")
		} else {
			log.WithError(err).Warn("configuration file unreadable, using defaults")
			fresh := viper.New()
			bindEnv(fresh)
			SetDefaults(fresh)
			v = fresh
		}
	} else {
		log.WithField("file", v.ConfigFileUsed()).Debug("using configuration file")
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		log.WithError(err).Warn("configuration could not be decoded, using defaults")
		return Default()
	}

	for _, problem := range cfg.Sanitize() {
		log.Warn(problem)
	}
	return cfg
}

// Sanitize replaces invalid sections with their defaults and returns one message per replacement.
func (c *Config) Sanitize() []string {
	d := Default()
	var problems []string

	if overlap := intersect(c.License.Allowed, c.License.Blocked); len(overlap) > 0 {
		problems = append(problems, fmt.Sprintf("licenses %v are both allowed and blocked, using default license policy", overlap))
		c.License = d.License
	}
	if c.Screening.MinimumDownloads < 0 || c.Screening.MaxAgeMonths < 0 || c.Screening.MaxPackageSizeMB < 0 {
		problems = append(problems, "screening thresholds must not be negative, using default screening policy")
		c.Screening = d.Screening
	}
	if c.Security.CriticalVulnerabilities < 0 || c.Security.HighVulnerabilities < 0 || c.Security.MaxCVSSScore <= 0 {
		problems = append(problems, "security thresholds out of range, using default security policy")
		c.Security = d.Security
	}
	if _, err := parseSeverity(c.Security.MinSeverity); err != nil {
		problems = append(problems, fmt.Sprintf("%v, using %q", err, d.Security.MinSeverity))
		c.Security.MinSeverity = d.Security.MinSeverity
	}
	var weighted bool
	for stage, w := range c.Approval.Weights {
		if w < 0 {
			problems = append(problems, fmt.Sprintf("negative weight for stage %s ignored", stage))
			delete(c.Approval.Weights, stage)
		}
	}
	for _, stage := range stageNames {
		if w, ok := c.Approval.Weights[stage]; !ok || w > 0 {
			weighted = true
		}
	}
	if !weighted {
		problems = append(problems, "every stage is weighted 0, using equal weights")
		c.Approval.Weights = map[string]float64{}
	}
	if c.Feeds.Timeout <= 0 {
		problems = append(problems, fmt.Sprintf("feeds.timeout must be positive, using %s", d.Feeds.Timeout))
		c.Feeds.Timeout = d.Feeds.Timeout
	}
	if c.Feeds.Retries < 0 {
		c.Feeds.Retries = 0
	}
	if c.Vetting.Concurrency <= 0 {
		c.Vetting.Concurrency = d.Vetting.Concurrency
	}
	if c.Monitoring.Concurrency <= 0 {
		c.Monitoring.Concurrency = d.Monitoring.Concurrency
	}
	if c.Integration.MaxTransitiveDependencies <= 0 {
		c.Integration.MaxTransitiveDependencies = d.Integration.MaxTransitiveDependencies
	}
	if c.Maintenance.StaleAfterDays <= 0 {
		c.Maintenance.StaleAfterDays = d.Maintenance.StaleAfterDays
	}
	if c.Approval.Weights == nil {
		c.Approval.Weights = map[string]float64{}
	}
	return problems
}

var stageNames = []string{"screening", "security", "license", "maintenance", "performance", "integration", "architecture"}

func bindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
}

func parseSeverity(s string) (string, error) {
	switch strings.ToLower(s) {
	case "low", "medium", "moderate", "high", "critical":
		return strings.ToLower(s), nil
	}
	return "", fmt.Errorf("invalid security.minSeverity %q", s)
}

func intersect(a, b []string) []string {
	seen := make(map[string]struct{}, len(a))
	for _, s := range a {
		seen[s] = struct{}{}
	}
	var out []string
	for _, s := range b {
		if _, ok := seen[s]; ok {
			out = append(out, s)
		}
	}
	return out
}
