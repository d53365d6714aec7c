package vetting

import (
	"context"
	"fmt"
	"time"

	"depvet/config"
	"depvet/health"
	"depvet/license"
	"depvet/model"
	"depvet/registry"
	"depvet/version"
)

// Stage is one evaluation step. Data source failures are reported as a StageError result, never
// as a Go error.
type Stage interface {
	Name() model.StageName
	Run(ctx context.Context, pkg model.Package) model.StageResult
}

func errorResult(stage model.StageName, err error) model.StageResult {
	r := model.StageResult{Stage: stage, Status: model.StageError}
	r.AddIssue(model.IssueInfo, fmt.Sprintf("no data: %v", err))
	return r
}

type ScreeningFeed interface {
	Facts(ctx context.Context, pkg model.Package) (model.PackageFacts, error)
}

type ScreeningStage struct {
	Feed   ScreeningFeed
	Policy config.Screening
	Now    func() time.Time
}

func (s *ScreeningStage) Name() model.StageName { return model.StageScreening }

func (s *ScreeningStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	facts, err := s.Feed.Facts(ctx, pkg)
	if err != nil {
		return errorResult(s.Name(), err)
	}

	r := model.StageResult{Stage: s.Name(), Status: model.StagePassed}
	if !facts.Exists {
		r.Status, r.HardFailure, r.Score = model.StageFailed, true, model.Score(0)
		r.AddIssue(model.IssueError, fmt.Sprintf("package %s not found", pkg.Name))
		return r
	}
	if !facts.VersionExists {
		r.Status, r.HardFailure, r.Score = model.StageFailed, true, model.Score(0)
		r.AddIssue(model.IssueError, fmt.Sprintf("version %s of %s not found", pkg.Version, pkg.Name))
		return r
	}

	score := 100.0
	if facts.Deprecated {
		score -= 30
		r.AddIssue(model.IssueWarning, "package version is deprecated")
	}

	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	released := facts.LatestPublishedAt
	if released == nil {
		released = facts.PublishedAt
	}
	if released != nil && s.Policy.MaxAgeMonths > 0 && released.Before(now.AddDate(0, -s.Policy.MaxAgeMonths, 0)) {
		score -= 20
		r.AddIssue(model.IssueWarning, fmt.Sprintf("no release in %d months", s.Policy.MaxAgeMonths))
	}

	if facts.Downloads != nil && *facts.Downloads < s.Policy.MinimumDownloads {
		score -= 20
		r.AddIssue(model.IssueWarning, fmt.Sprintf("%d downloads, below minimum %d", *facts.Downloads, s.Policy.MinimumDownloads))
	}
	if facts.SizeMB != nil && s.Policy.MaxPackageSizeMB > 0 && *facts.SizeMB > s.Policy.MaxPackageSizeMB {
		score -= 10
		r.AddIssue(model.IssueWarning, fmt.Sprintf("package size %.1f MB exceeds %.1f MB", *facts.SizeMB, s.Policy.MaxPackageSizeMB))
	}

	if facts.LatestVersion != "" {
		switch version.Classify(pkg.Version, facts.LatestVersion) {
		case model.UpdateMajor:
			score -= 10
			r.AddIssue(model.IssueWarning, fmt.Sprintf("major update available: %s", facts.LatestVersion))
		case model.UpdateMinor:
			score -= 5
			r.AddIssue(model.IssueInfo, fmt.Sprintf("minor update available: %s", facts.LatestVersion))
		case model.UpdatePatch:
			r.AddIssue(model.IssueInfo, fmt.Sprintf("patch update available: %s", facts.LatestVersion))
		}
	}

	if score < 0 {
		score = 0
	}
	r.Score = model.Score(score)
	return r
}

type SecurityStage struct {
	Scanner health.Scanner
	Policy  config.Security
}

func (s *SecurityStage) Name() model.StageName { return model.StageSecurity }

func (s *SecurityStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	min, err := model.ParseSeverity(s.Policy.MinSeverity)
	if err != nil {
		min = model.SeverityMedium
	}

	res, err := s.Scanner.Scan(ctx, pkg, min)
	if err != nil {
		return errorResult(s.Name(), err)
	}

	r := model.StageResult{
		Stage:  s.Name(),
		Status: model.StagePassed,
		Score:  model.Score(health.SecurityScore(res.Vulnerabilities)),
	}

	var maxCVSS float64
	for _, v := range res.Vulnerabilities {
		if v.CVSS > maxCVSS {
			maxCVSS = v.CVSS
		}
		sev := model.IssueInfo
		switch v.Severity {
		case model.SeverityCritical, model.SeverityHigh:
			sev = model.IssueError
		case model.SeverityMedium:
			sev = model.IssueWarning
		}
		msg := fmt.Sprintf("%s (%s)", v.ID, v.Severity)
		if v.Unrated {
			msg = fmt.Sprintf("%s (unrated, treated as %s)", v.ID, v.Severity)
		}
		if v.FixedInVersion != "" {
			msg += ", fixed in " + v.FixedInVersion
		}
		r.AddIssue(sev, msg)
	}
	for _, d := range res.Degraded {
		r.AddIssue(model.IssueInfo, "no data from "+d.Source)
	}

	critical, high := res.Count(model.SeverityCritical), res.Count(model.SeverityHigh)
	switch {
	case critical > s.Policy.CriticalVulnerabilities:
		r.AddIssue(model.IssueError, fmt.Sprintf("%d critical vulnerabilities exceed threshold %d", critical, s.Policy.CriticalVulnerabilities))
	case high > s.Policy.HighVulnerabilities:
		r.AddIssue(model.IssueError, fmt.Sprintf("%d high vulnerabilities exceed threshold %d", high, s.Policy.HighVulnerabilities))
	case s.Policy.MaxCVSSScore > 0 && maxCVSS > s.Policy.MaxCVSSScore:
		r.AddIssue(model.IssueError, fmt.Sprintf("CVSS %.1f exceeds maximum %.1f", maxCVSS, s.Policy.MaxCVSSScore))
	default:
		return r
	}
	r.Status = model.StageFailed
	r.HardFailure = true
	return r
}

type LicenseStage struct {
	Evaluator *license.Evaluator
	Feed      license.Feed
}

func (s *LicenseStage) Name() model.StageName { return model.StageLicense }

func (s *LicenseStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	lic, err := license.Resolve(ctx, s.Feed, pkg)
	if err != nil {
		return errorResult(s.Name(), err)
	}

	r := model.StageResult{Stage: s.Name(), Status: model.StagePassed}
	switch s.Evaluator.Classify(lic) {
	case model.LicenseCompliant:
		r.Score = model.Score(100)
	case model.LicenseReviewRequired:
		r.Score = model.Score(70)
		r.AddIssue(model.IssueWarning, fmt.Sprintf("license %s requires review", lic))
	case model.LicenseUnknown:
		r.Score = model.Score(50)
		r.AddIssue(model.IssueWarning, "license unknown")
	case model.LicenseBlocked:
		r.Score = model.Score(0)
		r.Status = model.StageFailed
		r.HardFailure = true
		r.AddIssue(model.IssueError, fmt.Sprintf("license %s is blocked", lic))
	}
	return r
}

// checkerResult maps a health check onto a stage result. A check without data contributes no score.
func checkerResult(ctx context.Context, stage model.StageName, c health.Checker, pkg model.Package) model.StageResult {
	res, err := c.Check(ctx, pkg)
	if err != nil {
		return errorResult(stage, err)
	}

	r := model.StageResult{Stage: stage, Status: model.StagePassed}
	if res.Score > 0 || res.Status != health.StatusUnknown {
		r.Score = model.Score(res.Score)
	}

	sev := model.IssueInfo
	switch res.Status {
	case health.StatusStale, health.StatusPoor:
		sev = model.IssueWarning
	}
	for _, issue := range res.Issues {
		r.AddIssue(sev, issue)
	}
	return r
}

type MaintenanceStage struct {
	Checker health.Checker
}

func (s *MaintenanceStage) Name() model.StageName { return model.StageMaintenance }

func (s *MaintenanceStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	return checkerResult(ctx, s.Name(), s.Checker, pkg)
}

type PerformanceStage struct {
	Checker health.Checker
}

func (s *PerformanceStage) Name() model.StageName { return model.StagePerformance }

func (s *PerformanceStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	return checkerResult(ctx, s.Name(), s.Checker, pkg)
}

type DependencyGraphFeed interface {
	TransitiveDependencies(ctx context.Context, pkg model.Package) (int, error)
}

type IntegrationStage struct {
	Graph  DependencyGraphFeed
	Policy config.Integration
}

func (s *IntegrationStage) Name() model.StageName { return model.StageIntegration }

func (s *IntegrationStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	n, err := s.Graph.TransitiveDependencies(ctx, pkg)
	if err != nil {
		return errorResult(s.Name(), err)
	}

	r := model.StageResult{Stage: s.Name(), Status: model.StagePassed}
	r.AddIssue(model.IssueInfo, fmt.Sprintf("%d transitive dependencies", n))

	score := 100.0
	if over := n - s.Policy.MaxTransitiveDependencies; over > 0 {
		score -= 2 * float64(over)
		if score < 40 {
			score = 40
		}
		r.AddIssue(model.IssueWarning, fmt.Sprintf("%d dependencies above the limit of %d", over, s.Policy.MaxTransitiveDependencies))
	}
	r.Score = model.Score(score)
	return r
}

type RegistryReader interface {
	Snapshot(ctx context.Context) (*registry.Registry, error)
}

type ArchitectureStage struct {
	Registry RegistryReader
}

func (s *ArchitectureStage) Name() model.StageName { return model.StageArchitecture }

func (s *ArchitectureStage) Run(ctx context.Context, pkg model.Package) model.StageResult {
	reg, err := s.Registry.Snapshot(ctx)
	if err != nil {
		return errorResult(s.Name(), err)
	}

	r := model.StageResult{Stage: s.Name(), Status: model.StagePassed}
	e, ok := reg.Get(pkg.Name)
	switch {
	case !ok:
		r.Score = model.Score(100)
		r.AddIssue(model.IssueInfo, "new dependency")
	case e.Status == registry.StatusDeprecated || e.Status == registry.StatusRemoved:
		r.Score = model.Score(40)
		r.AddIssue(model.IssueWarning, fmt.Sprintf("registry marks %s as %s", pkg.Name, e.Status))
	case e.Version == pkg.Version:
		r.Score = model.Score(100)
		r.AddIssue(model.IssueInfo, "already approved at this version")
	default:
		r.Score = model.Score(85)
		r.AddIssue(model.IssueWarning, fmt.Sprintf("approved version is %s", e.Version))
	}
	return r
}
