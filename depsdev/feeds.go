package depsdev

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"depvet/fetch"
	"depvet/model"
	"depvet/version"
)

func versionKey(pkg model.Package) (VersionKey, error) {
	eco, ok := pkg.Ecosystem()
	if !ok {
		return VersionKey{}, fmt.Errorf("unsupported registry source %q", pkg.RegistrySource)
	}
	return VersionKey{System: eco.DepsDev, Name: pkg.Name, Version: pkg.Version}, nil
}

// LatestVersion returns the highest published version, skipping pre-releases unless asked.
// An unknown package yields "".
func (c *DepsDevClient) LatestVersion(ctx context.Context, pkg model.Package, includePrerelease bool) (string, error) {
	vk, err := versionKey(pkg)
	if err != nil {
		return "", err
	}
	info, err := c.GetPackage(ctx, vk.System, vk.Name)
	if errors.Is(err, fetch.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	latest, _ := latestOf(info.Versions, includePrerelease)
	return latest.VersionKey.Version, nil
}

func latestOf(versions []PackageVersion, includePrerelease bool) (PackageVersion, bool) {
	var (
		best  PackageVersion
		found bool
	)
	for _, v := range versions {
		if !version.Valid(v.VersionKey.Version) {
			continue
		}
		if !includePrerelease && version.IsPrerelease(v.VersionKey.Version) {
			continue
		}
		if !found || version.Compare(v.VersionKey.Version, best.VersionKey.Version) > 0 {
			best, found = v, true
		}
	}
	if found {
		return best, true
	}
	for _, v := range versions {
		if v.IsDefault {
			return v, true
		}
	}
	return PackageVersion{}, false
}

// Facts gathers existence, age and deprecation data used by screening.
func (c *DepsDevClient) Facts(ctx context.Context, pkg model.Package) (model.PackageFacts, error) {
	vk, err := versionKey(pkg)
	if err != nil {
		return model.PackageFacts{}, err
	}

	info, err := c.GetPackage(ctx, vk.System, vk.Name)
	if errors.Is(err, fetch.ErrNotFound) {
		return model.PackageFacts{}, nil
	}
	if err != nil {
		return model.PackageFacts{}, err
	}

	facts := model.PackageFacts{
		Exists:       true,
		VersionCount: len(info.Versions),
	}
	if latest, ok := latestOf(info.Versions, false); ok {
		facts.LatestVersion = latest.VersionKey.Version
		facts.LatestPublishedAt = latest.PublishedAt
	}

	meta, err := c.GetPackageMetadata(ctx, vk)
	if errors.Is(err, fetch.ErrNotFound) {
		return facts, nil
	}
	if err != nil {
		return facts, err
	}
	facts.VersionExists = true
	facts.PublishedAt = meta.PublishedAt
	facts.Deprecated = meta.IsDeprecated
	facts.SourceRepo = SourceRepo(meta)
	return facts, nil
}

// License returns the declared license expression of a version, "" when unknown.
func (c *DepsDevClient) License(ctx context.Context, pkg model.Package) (string, error) {
	vk, err := versionKey(pkg)
	if err != nil {
		return "", err
	}
	meta, err := c.GetPackageMetadata(ctx, vk)
	if errors.Is(err, fetch.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	var licenses []string
	for _, l := range meta.Licenses {
		if l = strings.TrimSpace(l); l != "" && !strings.EqualFold(l, "non-standard") {
			licenses = append(licenses, l)
		}
	}
	return strings.Join(licenses, " AND "), nil
}

// Maintenance reports repository activity from the OpenSSF scorecard and release dates.
func (c *DepsDevClient) Maintenance(ctx context.Context, pkg model.Package) (model.MaintenanceFacts, error) {
	facts, err := c.Facts(ctx, pkg)
	if err != nil {
		return model.MaintenanceFacts{}, err
	}
	if !facts.Exists {
		return model.MaintenanceFacts{}, fmt.Errorf("package %s: %w", pkg.Name, fetch.ErrNotFound)
	}

	out := model.MaintenanceFacts{
		SourceRepo:    facts.SourceRepo,
		LatestRelease: facts.LatestPublishedAt,
		Deprecated:    facts.Deprecated,
	}
	if !facts.VersionExists {
		return out, nil
	}

	vk, _ := versionKey(pkg)
	meta, err := c.GetPackageMetadata(ctx, vk)
	if err != nil {
		return out, err
	}
	scorecard, err := c.GetScorecardData(ctx, meta)
	if err != nil && !errors.Is(err, fetch.ErrNotFound) {
		return out, err
	}
	if scorecard.OpenSSFScore != nil {
		out.Scorecard = scorecard.OpenSSFScore
	}
	out.OpenIssues = scorecard.OpenIssues
	out.Stars = scorecard.Stars
	return out, nil
}

// TransitiveDependencies counts the resolved dependency graph nodes, excluding the package itself.
func (c *DepsDevClient) TransitiveDependencies(ctx context.Context, pkg model.Package) (int, error) {
	vk, err := versionKey(pkg)
	if err != nil {
		return 0, err
	}
	graph, err := c.GetDependencyGraph(ctx, vk.System, vk.Name, vk.Version)
	if err != nil {
		return 0, err
	}
	if graph.Error != "" {
		return 0, fmt.Errorf("dependency graph incomplete: %s", graph.Error)
	}
	count := 0
	for _, node := range graph.Nodes {
		if node.Relation != "SELF" {
			count++
		}
	}
	return count, nil
}

// AdvisorySource exposes the advisories deps.dev attaches to a version as a vulnerability source.
type AdvisorySource struct {
	Client *DepsDevClient
}

func (s *AdvisorySource) Name() string {
	return "deps.dev"
}

func (s *AdvisorySource) Find(ctx context.Context, pkg model.Package) ([]model.Vulnerability, error) {
	vk, err := versionKey(pkg)
	if err != nil {
		return nil, err
	}
	meta, err := s.Client.GetPackageMetadata(ctx, vk)
	if errors.Is(err, fetch.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var vulns []model.Vulnerability
	for _, key := range meta.AdvisoryKeys {
		adv, err := s.Client.GetAdvisory(ctx, key.ID)
		if err != nil {
			return nil, err
		}
		vulns = append(vulns, model.Vulnerability{
			ID:          adv.AdvisoryKey.ID,
			Aliases:     adv.Aliases,
			Severity:    model.SeverityFromCVSS(adv.CVSS3Score),
			CVSS:        adv.CVSS3Score,
			Source:      s.Name(),
			Description: adv.Title,
		})
	}
	return vulns, nil
}
