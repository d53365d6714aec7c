package model

import "time"

// PackageFacts is what a metadata feed knows about a package and one of its versions.
// Optional figures are nil when the feed does not report them.
type PackageFacts struct {
	Exists            bool       `json:"exists"`
	VersionExists     bool       `json:"versionExists"`
	PublishedAt       *time.Time `json:"publishedAt,omitempty"`
	Deprecated        bool       `json:"deprecated"`
	LatestVersion     string     `json:"latestVersion,omitempty"`
	LatestPublishedAt *time.Time `json:"latestPublishedAt,omitempty"`
	VersionCount      int        `json:"versionCount"`
	Downloads         *int64     `json:"downloads,omitempty"`
	SizeMB            *float64   `json:"sizeMB,omitempty"`
	SourceRepo        string     `json:"sourceRepo,omitempty"`
}

// MaintenanceFacts describes repository activity for a package.
type MaintenanceFacts struct {
	SourceRepo    string     `json:"sourceRepo,omitempty"`
	Scorecard     *float64   `json:"scorecard,omitempty"`
	LatestRelease *time.Time `json:"latestRelease,omitempty"`
	Deprecated    bool       `json:"deprecated"`
	OpenIssues    int        `json:"openIssues"`
	Stars         int        `json:"stars"`
}
