package depsdev

import (
	"context"
	"fmt"
	"net/url"

	"depvet/fetch"

	lru "github.com/hashicorp/golang-lru/v2"
)

const cacheSize = 512

type DepsDevClient struct {
	BaseURL string
	Fetcher *fetch.Fetcher

	packages *lru.Cache[string, *Package]
	versions *lru.Cache[string, *PackageVersionMetadata]
}

// NewClient caches package and version lookups, which every vetting stage repeats.
func NewClient(baseURL string, fetcher *fetch.Fetcher) *DepsDevClient {
	packages, _ := lru.New[string, *Package](cacheSize)
	versions, _ := lru.New[string, *PackageVersionMetadata](cacheSize)
	return &DepsDevClient{
		BaseURL:  baseURL,
		Fetcher:  fetcher,
		packages: packages,
		versions: versions,
	}
}

// Fetch dependency graph
func (c *DepsDevClient) GetDependencyGraph(ctx context.Context, system, name, version string) (*DependencyGraph, error) {
	u := fmt.Sprintf("%s/systems/%s/packages/%s/versions/%s:dependencies",
		c.BaseURL, system, url.PathEscape(name), url.PathEscape(version))

	var graph DependencyGraph
	if err := c.Fetcher.GetJSON(ctx, u, &graph); err != nil {
		return nil, fmt.Errorf("failed to fetch dependency graph: %w", err)
	}
	return &graph, nil
}

// Fetch all published versions of a package
func (c *DepsDevClient) GetPackage(ctx context.Context, system, name string) (*Package, error) {
	u := fmt.Sprintf("%s/systems/%s/packages/%s", c.BaseURL, system, url.PathEscape(name))
	if c.packages != nil {
		if pkg, ok := c.packages.Get(u); ok {
			return pkg, nil
		}
	}

	var pkg Package
	if err := c.Fetcher.GetJSON(ctx, u, &pkg); err != nil {
		return nil, fmt.Errorf("failed to fetch package %s: %w", name, err)
	}
	if c.packages != nil {
		c.packages.Add(u, &pkg)
	}
	return &pkg, nil
}

// Fetch metadata for a single dependency
func (c *DepsDevClient) GetPackageMetadata(ctx context.Context, vk VersionKey) (*PackageVersionMetadata, error) {
	u := fmt.Sprintf("%s/systems/%s/packages/%s/versions/%s",
		c.BaseURL, vk.System, url.PathEscape(vk.Name), url.PathEscape(vk.Version))
	if c.versions != nil {
		if meta, ok := c.versions.Get(u); ok {
			return meta, nil
		}
	}

	var meta PackageVersionMetadata
	if err := c.Fetcher.GetJSON(ctx, u, &meta); err != nil {
		return nil, fmt.Errorf("failed to fetch package metadata for %s: %w", vk.Name, err)
	}
	if c.versions != nil {
		c.versions.Add(u, &meta)
	}
	return &meta, nil
}

func (c *DepsDevClient) GetAdvisory(ctx context.Context, id string) (*Advisory, error) {
	u := fmt.Sprintf("%s/advisories/%s", c.BaseURL, url.PathEscape(id))

	var adv Advisory
	if err := c.Fetcher.GetJSON(ctx, u, &adv); err != nil {
		return nil, fmt.Errorf("failed to fetch advisory %s: %w", id, err)
	}
	return &adv, nil
}

func (c *DepsDevClient) GetProject(ctx context.Context, projectID string) (*ProjectMetadata, error) {
	u := fmt.Sprintf("%s/projects/%s", c.BaseURL, url.PathEscape(projectID))

	var proj ProjectMetadata
	if err := c.Fetcher.GetJSON(ctx, u, &proj); err != nil {
		return nil, fmt.Errorf("failed to fetch project %s: %w", projectID, err)
	}
	return &proj, nil
}

// Fetch scorecard data for single project
func (c *DepsDevClient) GetScorecardData(ctx context.Context, meta *PackageVersionMetadata) (ScorecardInfo, error) {
	projectID := SourceRepo(meta)
	if projectID == "" {
		return ScorecardInfo{}, nil
	}

	proj, err := c.GetProject(ctx, projectID)
	if err != nil {
		return ScorecardInfo{SourceRepo: projectID}, err
	}

	info := ScorecardInfo{
		SourceRepo: projectID,
		OpenIssues: proj.OpenIssuesCount,
		Stars:      proj.StarsCount,
	}
	if proj.Scorecard != nil {
		score := proj.Scorecard.OverallScore
		info.OpenSSFScore = &score
	}
	return info, nil
}

func SourceRepo(meta *PackageVersionMetadata) string {
	if meta == nil {
		return ""
	}
	for _, proj := range meta.RelatedProjects {
		if proj.RelationType == "SOURCE_REPO" {
			return proj.ProjectKey.ID
		}
	}
	return ""
}
