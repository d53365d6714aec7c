package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const SchemaVersion = "1.0"

var (
	ErrAlreadyExists = errors.New("dependency already exists")
	ErrNotFound      = errors.New("dependency not found")
	ErrCorrupt       = errors.New("registry file is corrupt")
	ErrLocked        = errors.New("registry is locked by another process")
)

type Status string

const (
	StatusActive     Status = "active"
	StatusDeprecated Status = "deprecated"
	StatusRemoved    Status = "removed"
)

type HealthStatus string

const (
	HealthUnknown  HealthStatus = "unknown"
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Rank orders health statuses from best to worst. Unknown ranks with healthy.
func (s HealthStatus) Rank() int {
	switch s {
	case HealthWarning:
		return 1
	case HealthCritical:
		return 2
	default:
		return 0
	}
}

type CheckResult struct {
	Score  float64  `json:"score"`
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

type HealthCheck struct {
	LastCheck *time.Time             `json:"lastCheck,omitempty"`
	Score     float64                `json:"score"`
	Status    HealthStatus           `json:"status"`
	Issues    []string               `json:"issues,omitempty"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

type Alert struct {
	Time    time.Time    `json:"time"`
	From    HealthStatus `json:"from"`
	To      HealthStatus `json:"to"`
	Message string       `json:"message"`
}

type Monitoring struct {
	Enabled          bool       `json:"enabled"`
	Frequency        string     `json:"frequency"`
	LastNotification *time.Time `json:"lastNotification,omitempty"`
	Alerts           []Alert    `json:"alerts,omitempty"`
}

type Entry struct {
	Name           string      `json:"name"`
	Version        string      `json:"version"`
	RegistrySource string      `json:"registrySource,omitempty"`
	License        string      `json:"license,omitempty"`
	ApprovedDate   time.Time   `json:"approvedDate"`
	ApprovedBy     string      `json:"approvedBy"`
	UpdatedDate    *time.Time  `json:"updatedDate,omitempty"`
	Status         Status      `json:"status"`
	HealthCheck    HealthCheck `json:"healthCheck"`
	Monitoring     Monitoring  `json:"monitoring"`
}

type Metadata struct {
	TotalCount      int        `json:"totalCount"`
	LastHealthCheck *time.Time `json:"lastHealthCheck,omitempty"`
	NextHealthCheck *time.Time `json:"nextHealthCheck,omitempty"`
}

type Registry struct {
	Version      string           `json:"version"`
	LastUpdated  time.Time        `json:"lastUpdated"`
	Dependencies map[string]Entry `json:"dependencies"`
	Metadata     Metadata         `json:"metadata"`
}

// Approval describes who approved a dependency and how it should be monitored.
type Approval struct {
	RegistrySource string
	License        string
	ApprovedBy     string
	Frequency      string
	Date           time.Time
}

type Filter struct {
	Status Status
	Health HealthStatus
}

func New() *Registry {
	return &Registry{
		Version:      SchemaVersion,
		Dependencies: make(map[string]Entry),
	}
}

// Load reads the registry at path. A missing file yields a fresh registry. An unparsable file
// yields a fresh registry together with an error wrapping ErrCorrupt.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return New(), nil
	}
	if err != nil {
		return New(), fmt.Errorf("failed to read registry: %w", err)
	}

	reg := New()
	if err := json.Unmarshal(data, reg); err != nil {
		return New(), fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if reg.Version == "" {
		reg.Version = SchemaVersion
	}
	if reg.Dependencies == nil {
		reg.Dependencies = make(map[string]Entry)
	}
	return reg, nil
}

// Save writes reg atomically: a temp file in the target directory is synced and renamed over path.
func Save(reg *Registry, path string, now time.Time) error {
	reg.Metadata.TotalCount = len(reg.Dependencies)
	if !now.After(reg.LastUpdated) {
		now = reg.LastUpdated.Add(time.Nanosecond)
	}
	reg.LastUpdated = now

	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode registry: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create registry directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write registry: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync registry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close registry: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace registry: %w", err)
	}
	return nil
}

func (r *Registry) Add(name, version string, a Approval) error {
	if name == "" || version == "" {
		return fmt.Errorf("name and version are required")
	}
	if _, ok := r.Dependencies[name]; ok {
		return fmt.Errorf("%s: %w", name, ErrAlreadyExists)
	}

	r.Dependencies[name] = Entry{
		Name:           name,
		Version:        version,
		RegistrySource: a.RegistrySource,
		License:        a.License,
		ApprovedDate:   a.Date,
		ApprovedBy:     a.ApprovedBy,
		Status:         StatusActive,
		HealthCheck:    HealthCheck{Status: HealthUnknown},
		Monitoring: Monitoring{
			Enabled:   true,
			Frequency: a.Frequency,
		},
	}
	r.Metadata.TotalCount = len(r.Dependencies)
	return nil
}

func (r *Registry) Remove(name string) error {
	if _, ok := r.Dependencies[name]; !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	delete(r.Dependencies, name)
	r.Metadata.TotalCount = len(r.Dependencies)
	return nil
}

func (r *Registry) UpdateVersion(name, version string, now time.Time) error {
	if version == "" {
		return fmt.Errorf("version is required")
	}
	e, ok := r.Dependencies[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e.Version = version
	e.UpdatedDate = &now
	r.Dependencies[name] = e
	return nil
}

func (r *Registry) SetHealth(name string, hc HealthCheck) error {
	e, ok := r.Dependencies[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e.HealthCheck = hc
	r.Dependencies[name] = e
	return nil
}

func (r *Registry) SetStatus(name string, status Status) error {
	e, ok := r.Dependencies[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	e.Status = status
	r.Dependencies[name] = e
	return nil
}

func (r *Registry) Get(name string) (Entry, bool) {
	e, ok := r.Dependencies[name]
	return e, ok
}

// List returns matching entries sorted by name.
func (r *Registry) List(f Filter) []Entry {
	entries := make([]Entry, 0, len(r.Dependencies))
	for _, e := range r.Dependencies {
		if f.Status != "" && e.Status != f.Status {
			continue
		}
		if f.Health != "" && e.HealthCheck.Status != f.Health {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// RecordHealth stores hc on the entry. When the status got worse an alert is appended, the
// notification time is set and the alert is returned.
func (r *Registry) RecordHealth(name string, hc HealthCheck, now time.Time) (*Alert, error) {
	e, ok := r.Dependencies[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
	}

	prev := e.HealthCheck.Status
	e.HealthCheck = hc

	var alert *Alert
	if hc.Status.Rank() > prev.Rank() {
		if prev == "" {
			prev = HealthUnknown
		}
		alert = &Alert{
			Time:    now,
			From:    prev,
			To:      hc.Status,
			Message: fmt.Sprintf("%s@%s health changed from %s to %s", name, e.Version, prev, hc.Status),
		}
		e.Monitoring.Alerts = append(e.Monitoring.Alerts, *alert)
		e.Monitoring.LastNotification = &now
	}

	r.Dependencies[name] = e
	return alert, nil
}
