package license

import (
	"context"
	"fmt"
	"strings"

	"depvet/model"
)

// Feed resolves the declared license of a package version; "" means unknown.
type Feed interface {
	License(ctx context.Context, pkg model.Package) (string, error)
}

// Policy holds the exact-match allow and block lists. The lists must be disjoint.
type Policy struct {
	Allowed []string
	Blocked []string
}

func (p Policy) Validate() error {
	allowed := toSet(p.Allowed)
	var both []string
	for _, l := range p.Blocked {
		if _, ok := allowed[l]; ok {
			both = append(both, l)
		}
	}
	if len(both) > 0 {
		return fmt.Errorf("licenses both allowed and blocked: %s", strings.Join(both, ", "))
	}
	return nil
}

type Evaluator struct {
	allowed map[string]struct{}
	blocked map[string]struct{}
}

func NewEvaluator(p Policy) (*Evaluator, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{
		allowed: toSet(p.Allowed),
		blocked: toSet(p.Blocked),
	}, nil
}

// Classify applies the ordered policy rules; the first match wins.
func (e *Evaluator) Classify(license string) model.LicenseStatus {
	if license == "" || license == "Unknown" {
		return model.LicenseUnknown
	}
	if _, ok := e.allowed[license]; ok {
		return model.LicenseCompliant
	}
	if _, ok := e.blocked[license]; ok {
		return model.LicenseBlocked
	}
	return model.LicenseReviewRequired
}

func (e *Evaluator) Evaluate(pkg model.Package, license string) model.LicenseComplianceResult {
	return model.LicenseComplianceResult{
		Package: pkg,
		License: license,
		Status:  e.Classify(license),
	}
}

type Summary struct {
	Compliant      int `json:"compliant"`
	Blocked        int `json:"blocked"`
	ReviewRequired int `json:"reviewRequired"`
	Unknown        int `json:"unknown"`
	Total          int `json:"total"`
}

// EvaluateBatch evaluates each package against its declared License field.
func (e *Evaluator) EvaluateBatch(pkgs []model.Package) ([]model.LicenseComplianceResult, Summary) {
	results := make([]model.LicenseComplianceResult, 0, len(pkgs))
	var s Summary
	for _, pkg := range pkgs {
		r := e.Evaluate(pkg, pkg.License)
		results = append(results, r)
		s.Total++
		switch r.Status {
		case model.LicenseCompliant:
			s.Compliant++
		case model.LicenseBlocked:
			s.Blocked++
		case model.LicenseReviewRequired:
			s.ReviewRequired++
		default:
			s.Unknown++
		}
	}
	return results, s
}

// Resolve returns the package's declared license, asking feed when the discoverer left it empty.
func Resolve(ctx context.Context, feed Feed, pkg model.Package) (string, error) {
	if pkg.License != "" || feed == nil {
		return pkg.License, nil
	}
	return feed.License(ctx, pkg)
}

func toSet(items []string) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, i := range items {
		set[i] = struct{}{}
	}
	return set
}
