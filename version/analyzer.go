package version

import (
	"context"

	"depvet/model"
)

// Feed resolves the latest published version of a package; "" means unknown.
type Feed interface {
	LatestVersion(ctx context.Context, pkg model.Package, includePrerelease bool) (string, error)
}

// Classify computes the update type from current to latest. A latest version that is equal to
// or behind current (for example when current is a pre-release of the next major) is none.
func Classify(current, latest string) model.UpdateType {
	if current == latest {
		return model.UpdateNone
	}
	cur, ok := Parse(current)
	if !ok {
		return model.UpdateNone
	}
	lat, ok := Parse(latest)
	if !ok {
		return model.UpdateNone
	}
	if lat.compareCore(cur) <= 0 {
		return model.UpdateNone
	}
	if lat.Major-cur.Major > 0 {
		return model.UpdateMajor
	}
	if lat.Minor != cur.Minor {
		return model.UpdateMinor
	}
	return model.UpdatePatch
}

func RiskFor(t model.UpdateType) model.RiskLevel {
	switch t {
	case model.UpdateMajor:
		return model.RiskHigh
	case model.UpdateMinor:
		return model.RiskMedium
	case model.UpdatePatch:
		return model.RiskLow
	default:
		return model.RiskNone
	}
}

type Analyzer struct {
	Feed              Feed
	IncludePrerelease bool
}

func (a *Analyzer) Analyze(pkg model.Package, latest string) model.VersionAnalysis {
	t := Classify(pkg.Version, latest)
	return model.VersionAnalysis{
		Package:        pkg,
		CurrentVersion: pkg.Version,
		LatestVersion:  latest,
		UpdateType:     t,
		Risk:           RiskFor(t),
	}
}

// Check asks the feed for the latest version and classifies the update.
func (a *Analyzer) Check(ctx context.Context, pkg model.Package) (model.VersionAnalysis, error) {
	latest, err := a.Feed.LatestVersion(ctx, pkg, a.IncludePrerelease)
	if err != nil {
		return a.Analyze(pkg, ""), err
	}
	return a.Analyze(pkg, latest), nil
}

type Report struct {
	Analyses []model.VersionAnalysis `json:"analyses"`
	Outdated []model.VersionAnalysis `json:"outdated"`
	Latest   []model.VersionAnalysis `json:"latest"`
	Unknown  []model.VersionAnalysis `json:"unknown"`
}

// AnalyzeBatch classifies every package against latestByName. Packages without a known latest
// version are reported as unknown rather than up to date.
func (a *Analyzer) AnalyzeBatch(pkgs []model.Package, latestByName map[string]string) Report {
	var r Report
	for _, pkg := range pkgs {
		latest, ok := latestByName[pkg.Name]
		analysis := a.Analyze(pkg, latest)
		r.Analyses = append(r.Analyses, analysis)
		switch {
		case !ok || latest == "":
			r.Unknown = append(r.Unknown, analysis)
		case analysis.UpdateType == model.UpdateNone:
			r.Latest = append(r.Latest, analysis)
		default:
			r.Outdated = append(r.Outdated, analysis)
		}
	}
	return r
}
