package depsdev

import "time"

type VersionKey struct {
	System  string `json:"system"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

type PackageKey struct {
	System string `json:"system"`
	Name   string `json:"name"`
}

type PackageVersion struct {
	VersionKey   VersionKey `json:"versionKey"`
	PublishedAt  *time.Time `json:"publishedAt,omitempty"`
	IsDefault    bool       `json:"isDefault"`
	IsDeprecated bool       `json:"isDeprecated"`
}

type Package struct {
	PackageKey PackageKey       `json:"packageKey"`
	Versions   []PackageVersion `json:"versions"`
}

type AdvisoryKey struct {
	ID string `json:"id"`
}

type DependencyNode struct {
	VersionKey VersionKey `json:"versionKey"`
	Relation   string     `json:"relation"`
}

type DependencyGraph struct {
	Nodes []DependencyNode `json:"nodes"`
	Error string           `json:"error"`
}

type ProjectKey struct {
	ID string `json:"id"`
}

type RelatedProject struct {
	ProjectKey         ProjectKey `json:"projectKey"`
	RelationType       string     `json:"relationType"`
	RelationProvenance string     `json:"relationProvenance,omitempty"`
}

type PackageVersionMetadata struct {
	VersionKey      VersionKey       `json:"versionKey"`
	PublishedAt     *time.Time       `json:"publishedAt,omitempty"`
	IsDefault       bool             `json:"isDefault"`
	IsDeprecated    bool             `json:"isDeprecated"`
	Licenses        []string         `json:"licenses"`
	AdvisoryKeys    []AdvisoryKey    `json:"advisoryKeys"`
	RelatedProjects []RelatedProject `json:"relatedProjects"`
}

type Advisory struct {
	AdvisoryKey AdvisoryKey `json:"advisoryKey"`
	URL         string      `json:"url"`
	Title       string      `json:"title"`
	Aliases     []string    `json:"aliases"`
	CVSS3Score  float64     `json:"cvss3Score"`
	CVSS3Vector string      `json:"cvss3Vector"`
}

type ScorecardCheck struct {
	Name   string `json:"name"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

type ProjectMetadata struct {
	ProjectKey      ProjectKey `json:"projectKey"`
	OpenIssuesCount int        `json:"openIssuesCount"`
	StarsCount      int        `json:"starsCount"`
	ForksCount      int        `json:"forksCount"`
	License         string     `json:"license"`
	Scorecard       *Scorecard `json:"scorecard,omitempty"`
}

type Scorecard struct {
	OverallScore float64          `json:"overallScore"`
	Checks       []ScorecardCheck `json:"checks"`
}

type ScorecardInfo struct {
	SourceRepo   string
	OpenSSFScore *float64
	OpenIssues   int
	Stars        int
}
