package health

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"depvet/metrics"
	"depvet/model"
	"depvet/registry"
	"depvet/storage"

	"github.com/sirupsen/logrus"
)

const DefaultFrequency = 7 * 24 * time.Hour

// ParseFrequency accepts daily, weekly, monthly or a Go duration. Empty means weekly.
func ParseFrequency(s string) (time.Duration, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return DefaultFrequency, nil
	case "daily":
		return 24 * time.Hour, nil
	case "weekly":
		return DefaultFrequency, nil
	case "monthly":
		return 30 * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid frequency %q: must be positive", s)
	}
	return d, nil
}

type History interface {
	InsertHealthChecks(ctx context.Context, records []storage.HealthRecord) error
}

type Monitor struct {
	Store       *registry.Store
	Security    Checker
	Maintenance Checker
	Performance Checker
	License     Checker
	History     History
	Metrics     *metrics.Metrics
	Log         *logrus.Logger
	Now         func() time.Time
	Concurrency int
	Frequency   time.Duration
}

type RunOptions struct {
	Force bool
	Names []string
}

type EntryReport struct {
	Name        string               `json:"name"`
	Version     string               `json:"version"`
	HealthCheck registry.HealthCheck `json:"healthCheck"`
	Alert       *registry.Alert      `json:"alert,omitempty"`
}

type Report struct {
	Checked []EntryReport `json:"checked"`
	Skipped int           `json:"skipped"`
	Alerts  int           `json:"alerts"`
}

// CheckEntry runs the four checks against one registry entry. It does not touch the registry.
func (m *Monitor) CheckEntry(ctx context.Context, e registry.Entry) registry.HealthCheck {
	pkg := model.Package{
		Name:           e.Name,
		Version:        e.Version,
		RegistrySource: e.RegistrySource,
		License:        e.License,
	}

	checks := []struct {
		name    string
		checker Checker
	}{
		{CheckSecurity, m.Security},
		{CheckMaintenance, m.Maintenance},
		{CheckPerformance, m.Performance},
		{CheckLicense, m.License},
	}

	results := make(map[string]Result, len(checks))
	hc := registry.HealthCheck{Checks: make(map[string]registry.CheckResult, len(checks))}
	for _, p := range checks {
		if p.checker == nil {
			continue
		}
		r, err := p.checker.Check(ctx, pkg)
		if err != nil {
			m.Log.WithFields(logrus.Fields{
				"check":   p.name,
				"package": pkg.Key(),
			}).WithError(err).Warn("Health check failed")
			r = Result{Score: 0, Status: StatusError, Issues: []string{fmt.Sprintf("%s check failed: %v", p.name, err)}}
		}
		results[p.name] = r
		hc.Checks[p.name] = registry.CheckResult(r)
		for _, issue := range r.Issues {
			hc.Issues = append(hc.Issues, p.name+": "+issue)
		}
	}

	now := m.now()
	hc.LastCheck = &now
	hc.Score, hc.Status = Aggregate(results)
	return hc
}

// Run checks every active, monitored entry that is due (or all selected ones when forced) and
// writes the results back in a single registry update.
func (m *Monitor) Run(ctx context.Context, opts RunOptions) (Report, error) {
	snap, err := m.Store.Snapshot(ctx)
	if err != nil {
		return Report{}, err
	}

	now := m.now()
	var (
		due    []registry.Entry
		report Report
	)

	wanted := make(map[string]bool, len(opts.Names))
	for _, n := range opts.Names {
		if _, ok := snap.Get(n); !ok {
			return Report{}, fmt.Errorf("%s: %w", n, registry.ErrNotFound)
		}
		wanted[n] = true
	}

	for _, e := range snap.List(registry.Filter{Status: registry.StatusActive}) {
		if len(wanted) > 0 && !wanted[e.Name] {
			continue
		}
		if !opts.Force && (!e.Monitoring.Enabled || !m.isDue(e, now)) {
			report.Skipped++
			continue
		}
		due = append(due, e)
	}

	m.Log.Infof("Running health checks for %d dependencies (%d skipped)", len(due), report.Skipped)

	checks := make([]registry.HealthCheck, len(due))
	var (
		wg  sync.WaitGroup
		sem = make(chan struct{}, m.concurrency())
	)
	for i, e := range due {
		wg.Add(1)
		go func(i int, e registry.Entry) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			checks[i] = m.CheckEntry(ctx, e)
		}(i, e)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return Report{}, err
	}

	next := now.Add(m.frequency())
	err = m.Store.Update(ctx, func(reg *registry.Registry) error {
		report.Checked = report.Checked[:0]
		report.Alerts = 0
		for i, e := range due {
			alert, err := reg.RecordHealth(e.Name, checks[i], now)
			if err != nil {
				// removed while the checks ran
				continue
			}
			if alert != nil {
				report.Alerts++
			}
			report.Checked = append(report.Checked, EntryReport{
				Name:        e.Name,
				Version:     e.Version,
				HealthCheck: checks[i],
				Alert:       alert,
			})
		}
		reg.Metadata.LastHealthCheck = &now
		reg.Metadata.NextHealthCheck = &next
		return nil
	})
	if err != nil {
		return Report{}, fmt.Errorf("failed to record health checks: %w", err)
	}

	records := make([]storage.HealthRecord, 0, len(report.Checked))
	for _, c := range report.Checked {
		m.Metrics.ObserveHealth(string(c.HealthCheck.Status))
		if c.Alert != nil {
			m.Log.WithField("package", c.Name).Warn(c.Alert.Message)
		}

		scores := make(map[string]float64, len(c.HealthCheck.Checks))
		for name, r := range c.HealthCheck.Checks {
			scores[name] = r.Score
		}
		records = append(records, storage.HealthRecord{
			Name:      c.Name,
			Version:   c.Version,
			CheckedAt: now,
			Score:     c.HealthCheck.Score,
			Status:    string(c.HealthCheck.Status),
			Checks:    scores,
		})
	}

	if m.History != nil && len(records) > 0 {
		if err := m.History.InsertHealthChecks(ctx, records); err != nil {
			m.Log.WithError(err).Error("failed to store health history")
		}
	}

	m.Log.Infof("Health checks complete: %d checked, %d alerts", len(report.Checked), report.Alerts)
	return report, nil
}

func (m *Monitor) isDue(e registry.Entry, now time.Time) bool {
	if e.HealthCheck.LastCheck == nil {
		return true
	}
	// An entry without its own frequency follows the monitor's.
	freq := m.frequency()
	if strings.TrimSpace(e.Monitoring.Frequency) != "" {
		parsed, err := ParseFrequency(e.Monitoring.Frequency)
		if err != nil {
			m.Log.WithField("package", e.Name).WithError(err).Warn("Using default frequency")
		} else {
			freq = parsed
		}
	}
	return !e.HealthCheck.LastCheck.Add(freq).After(now)
}

func (m *Monitor) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}

func (m *Monitor) frequency() time.Duration {
	if m.Frequency <= 0 {
		return DefaultFrequency
	}
	return m.Frequency
}

func (m *Monitor) concurrency() int {
	if m.Concurrency <= 0 {
		return 10
	}
	return m.Concurrency
}
