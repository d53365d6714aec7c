package health

import (
	"context"
	"fmt"
	"time"

	"depvet/license"
	"depvet/model"
	"depvet/vuln"
)

const (
	CheckSecurity    = "security"
	CheckMaintenance = "maintenance"
	CheckPerformance = "performance"
	CheckLicense     = "license"
)

// Sub-check status labels.
const (
	StatusGood         = "good"
	StatusWarning      = "warning"
	StatusCritical     = "critical"
	StatusActive       = "active"
	StatusStale        = "stale"
	StatusFair         = "fair"
	StatusPoor         = "poor"
	StatusCompliant    = "compliant"
	StatusReview       = "review"
	StatusNonCompliant = "nonCompliant"
	StatusUnknown      = "unknown"
	StatusError        = "error"
)

type Result struct {
	Score  float64  `json:"score"`
	Status string   `json:"status"`
	Issues []string `json:"issues,omitempty"`
}

// Checker is one health check. A returned error means the check produced no data.
type Checker interface {
	Check(ctx context.Context, pkg model.Package) (Result, error)
}

type Scanner interface {
	Scan(ctx context.Context, pkg model.Package, minSeverity model.Severity) (vuln.ScanResult, error)
}

var penalties = map[model.Severity]float64{
	model.SeverityCritical: 40,
	model.SeverityHigh:     25,
	model.SeverityMedium:   10,
	model.SeverityLow:      2,
}

// SecurityScore is 100 minus a per-severity penalty for every vulnerability, floored at 0.
func SecurityScore(vulns []model.Vulnerability) float64 {
	score := 100.0
	for _, v := range vulns {
		score -= penalties[v.Severity]
	}
	if score < 0 {
		return 0
	}
	return score
}

type SecurityChecker struct {
	Scanner     Scanner
	MinSeverity model.Severity
}

func (c *SecurityChecker) Check(ctx context.Context, pkg model.Package) (Result, error) {
	min := c.MinSeverity
	if min == "" {
		min = model.SeverityLow
	}
	res, err := c.Scanner.Scan(ctx, pkg, min)
	if err != nil {
		return Result{}, err
	}

	out := Result{Score: SecurityScore(res.Vulnerabilities), Status: StatusGood}
	switch {
	case res.Count(model.SeverityCritical) > 0:
		out.Status = StatusCritical
	case res.Count(model.SeverityHigh) > 0 || res.Count(model.SeverityMedium) > 0:
		out.Status = StatusWarning
	}
	for _, v := range res.Vulnerabilities {
		out.Issues = append(out.Issues, fmt.Sprintf("%s (%s)", v.ID, v.Severity))
	}
	for _, d := range res.Degraded {
		out.Issues = append(out.Issues, "no data from "+d.Source)
	}
	return out, nil
}

type MaintenanceFeed interface {
	Maintenance(ctx context.Context, pkg model.Package) (model.MaintenanceFacts, error)
}

type MaintenanceChecker struct {
	Feed       MaintenanceFeed
	StaleAfter time.Duration
	Now        func() time.Time
}

func (c *MaintenanceChecker) Check(ctx context.Context, pkg model.Package) (Result, error) {
	facts, err := c.Feed.Maintenance(ctx, pkg)
	if err != nil {
		return Result{}, err
	}

	now := time.Now()
	if c.Now != nil {
		now = c.Now()
	}
	staleAfter := c.StaleAfter
	if staleAfter <= 0 {
		staleAfter = 365 * 24 * time.Hour
	}

	// Scorecards of healthy projects cluster between 5 and 7, so with a known release the
	// scaled scorecard is averaged with release recency.
	out := Result{Status: StatusActive}
	switch {
	case facts.Scorecard != nil && facts.LatestRelease != nil:
		out.Score = (*facts.Scorecard*10 + recencyScore(now.Sub(*facts.LatestRelease))) / 2
	case facts.Scorecard != nil:
		out.Score = *facts.Scorecard * 10
	case facts.LatestRelease != nil:
		out.Score = recencyScore(now.Sub(*facts.LatestRelease))
	default:
		out.Status = StatusUnknown
		out.Issues = append(out.Issues, "no scorecard or release data")
	}

	if facts.LatestRelease != nil && now.Sub(*facts.LatestRelease) > staleAfter {
		out.Status = StatusStale
		out.Issues = append(out.Issues, fmt.Sprintf("last release %s", facts.LatestRelease.Format("2006-01-02")))
	}
	if facts.Deprecated {
		out.Status = StatusStale
		out.Issues = append(out.Issues, "package is deprecated")
	}
	return out, nil
}

func recencyScore(age time.Duration) float64 {
	const day = 24 * time.Hour
	switch {
	case age < 180*day:
		return 100
	case age < 365*day:
		return 80
	case age < 730*day:
		return 60
	default:
		return 40
	}
}

// BenchmarkFeed reports a 0-100 performance score; ok is false when nothing is known.
type BenchmarkFeed interface {
	Benchmark(ctx context.Context, pkg model.Package) (score float64, ok bool, err error)
}

type PerformanceChecker struct {
	Feed BenchmarkFeed
}

func (c *PerformanceChecker) Check(ctx context.Context, pkg model.Package) (Result, error) {
	if c.Feed == nil {
		return Result{Status: StatusUnknown, Issues: []string{"no benchmark feed configured"}}, nil
	}
	score, ok, err := c.Feed.Benchmark(ctx, pkg)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{Status: StatusUnknown, Issues: []string{"no benchmark data"}}, nil
	}

	out := Result{Score: score, Status: StatusGood}
	switch {
	case score < 60:
		out.Status = StatusPoor
	case score < 80:
		out.Status = StatusFair
	}
	return out, nil
}

type LicenseChecker struct {
	Feed      license.Feed
	Evaluator *license.Evaluator
}

func (c *LicenseChecker) Check(ctx context.Context, pkg model.Package) (Result, error) {
	lic, err := license.Resolve(ctx, c.Feed, pkg)
	if err != nil {
		return Result{}, err
	}

	switch c.Evaluator.Classify(lic) {
	case model.LicenseCompliant:
		return Result{Score: 100, Status: StatusCompliant}, nil
	case model.LicenseReviewRequired:
		return Result{Score: 70, Status: StatusReview, Issues: []string{"license " + lic + " requires review"}}, nil
	case model.LicenseBlocked:
		return Result{Score: 0, Status: StatusNonCompliant, Issues: []string{"license " + lic + " is blocked"}}, nil
	default:
		return Result{Score: 50, Status: StatusUnknown, Issues: []string{"license unknown"}}, nil
	}
}
