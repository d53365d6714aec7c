package config

import (
	"time"
)

const (
	DepsDevURL = "https://api.deps.dev/v3"
	OSVURL     = "https://api.osv.dev"

	DefaultRegistryPath   = "./data/approved-dependencies.json"
	DefaultHistoryPath    = "./data/vetting-history.db"
	DefaultMaxConcurrent  = 10
	DefaultFeedTimeout    = 10 * time.Second
	DefaultFeedRetries    = 3
	DefaultMonitorSpec    = "@weekly"
	DefaultFrequency      = "weekly"
	DefaultPort           = "8080"
	DefaultApprovedBy     = "depvet"
	DefaultStaleAfterDays = 365
)

var (
	DefaultAllowedLicenses = []string{
		"MIT", "Apache-2.0", "BSD-2-Clause", "BSD-3-Clause", "ISC", "MS-PL", "Unlicense", "0BSD", "Zlib",
	}
	DefaultBlockedLicenses = []string{
		"GPL-2.0", "GPL-3.0", "AGPL-3.0", "SSPL-1.0", "GPL-2.0-only", "GPL-3.0-only", "AGPL-3.0-only",
	}
)

type Screening struct {
	MinimumDownloads int64   `mapstructure:"minimumDownloads" json:"minimumDownloads"`
	MaxAgeMonths     int     `mapstructure:"maxAgeMonths" json:"maxAgeMonths"`
	MaxPackageSizeMB float64 `mapstructure:"maxPackageSizeMB" json:"maxPackageSizeMB"`
}

type Security struct {
	CriticalVulnerabilities int     `mapstructure:"criticalVulnerabilities" json:"criticalVulnerabilities"`
	HighVulnerabilities     int     `mapstructure:"highVulnerabilities" json:"highVulnerabilities"`
	MaxCVSSScore            float64 `mapstructure:"maxCVSSScore" json:"maxCVSSScore"`
	MinSeverity             string  `mapstructure:"minSeverity" json:"minSeverity"`
}

type License struct {
	Allowed []string `mapstructure:"allowed" json:"allowed"`
	Blocked []string `mapstructure:"blocked" json:"blocked"`
}

type Approval struct {
	Weights map[string]float64 `mapstructure:"weights" json:"weights"`
}

type Integration struct {
	MaxTransitiveDependencies int `mapstructure:"maxTransitiveDependencies" json:"maxTransitiveDependencies"`
}

type Maintenance struct {
	StaleAfterDays int `mapstructure:"staleAfterDays" json:"staleAfterDays"`
}

type Feeds struct {
	DepsDevURL        string        `mapstructure:"depsDevURL" json:"depsDevURL"`
	OSVURL            string        `mapstructure:"osvURL" json:"osvURL"`
	Timeout           time.Duration `mapstructure:"timeout" json:"timeout"`
	Retries           int           `mapstructure:"retries" json:"retries"`
	RequestsPerSecond float64       `mapstructure:"requestsPerSecond" json:"requestsPerSecond"`
}

type Registry struct {
	Path string `mapstructure:"path" json:"path"`

	// RecreateCorrupt lets writes replace an unparsable registry file with an empty one.
	RecreateCorrupt bool `mapstructure:"recreateCorrupt" json:"recreateCorrupt"`
}

type History struct {
	Path string `mapstructure:"path" json:"path"`
}

type Monitoring struct {
	Frequency      string `mapstructure:"frequency" json:"frequency"`
	Schedule       string `mapstructure:"schedule" json:"schedule"`
	Concurrency    int    `mapstructure:"concurrency" json:"concurrency"`
	BenchmarksFile string `mapstructure:"benchmarksFile" json:"benchmarksFile"`
}

type Vetting struct {
	Level       string `mapstructure:"level" json:"level"`
	Concurrency int    `mapstructure:"concurrency" json:"concurrency"`
	ApprovedBy  string `mapstructure:"approvedBy" json:"approvedBy"`
}

type Server struct {
	Port           string   `mapstructure:"port" json:"port"`
	AllowedOrigins []string `mapstructure:"allowedOrigins" json:"allowedOrigins"`
}

// Config is built once at startup and handed to every component by value.
type Config struct {
	Screening   Screening   `mapstructure:"screening" json:"screening"`
	Security    Security    `mapstructure:"security" json:"security"`
	License     License     `mapstructure:"license" json:"license"`
	Approval    Approval    `mapstructure:"approval" json:"approval"`
	Integration Integration `mapstructure:"integration" json:"integration"`
	Maintenance Maintenance `mapstructure:"maintenance" json:"maintenance"`
	Feeds       Feeds       `mapstructure:"feeds" json:"feeds"`
	Registry    Registry    `mapstructure:"registry" json:"registry"`
	History     History     `mapstructure:"history" json:"history"`
	Monitoring  Monitoring  `mapstructure:"monitoring" json:"monitoring"`
	Vetting     Vetting     `mapstructure:"vetting" json:"vetting"`
	Server      Server      `mapstructure:"server" json:"server"`
	Verbose     bool        `mapstructure:"verbose" json:"verbose"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Screening: Screening{
			MinimumDownloads: 1000,
			MaxAgeMonths:     24,
			MaxPackageSizeMB: 50,
		},
		Security: Security{
			CriticalVulnerabilities: 0,
			HighVulnerabilities:     0,
			MaxCVSSScore:            10,
			MinSeverity:             "medium",
		},
		License: License{
			Allowed: append([]string(nil), DefaultAllowedLicenses...),
			Blocked: append([]string(nil), DefaultBlockedLicenses...),
		},
		Approval:    Approval{Weights: map[string]float64{}},
		Integration: Integration{MaxTransitiveDependencies: 25},
		Maintenance: Maintenance{StaleAfterDays: DefaultStaleAfterDays},
		Feeds: Feeds{
			DepsDevURL:        DepsDevURL,
			OSVURL:            OSVURL,
			Timeout:           DefaultFeedTimeout,
			Retries:           DefaultFeedRetries,
			RequestsPerSecond: 10,
		},
		Registry: Registry{Path: DefaultRegistryPath},
		History:  History{Path: DefaultHistoryPath},
		Monitoring: Monitoring{
			Frequency:   DefaultFrequency,
			Schedule:    DefaultMonitorSpec,
			Concurrency: DefaultMaxConcurrent,
		},
		Vetting: Vetting{
			Level:       "standard",
			Concurrency: DefaultMaxConcurrent,
			ApprovedBy:  DefaultApprovedBy,
		},
		Server: Server{
			Port:           DefaultPort,
			AllowedOrigins: []string{"http://localhost:5173"},
		},
	}
}

// Weight returns the aggregation weight configured for a stage, 1 when unset. An explicit 0
// leaves the stage out of the overall score.
func (c Config) Weight(stage string) float64 {
	if w, ok := c.Approval.Weights[stage]; ok && w >= 0 {
		return w
	}
	return 1
}
