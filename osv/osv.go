package osv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"depvet/fetch"
	"depvet/model"

	gocvss30 "github.com/pandatix/go-cvss/30"
	gocvss31 "github.com/pandatix/go-cvss/31"
	gocvss40 "github.com/pandatix/go-cvss/40"
)

// OSVClient checks for vulnerabilities using the OSV query API.
type OSVClient struct {
	BaseURL string
	Fetcher *fetch.Fetcher
}

func NewOSVClient(baseURL string, fetcher *fetch.Fetcher) *OSVClient {
	return &OSVClient{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		Fetcher: fetcher,
	}
}

type osvQuery struct {
	Package osvPackage `json:"package"`
	Version string     `json:"version,omitempty"`
}

type osvPackage struct {
	Name      string `json:"name,omitempty"`
	Ecosystem string `json:"ecosystem,omitempty"`
}

type osvResponse struct {
	Vulns []osvVuln `json:"vulns"`
}

type osvSeverity struct {
	Type  string `json:"type"`
	Score string `json:"score"`
}

type osvVuln struct {
	ID       string        `json:"id"`
	Summary  string        `json:"summary"`
	Details  string        `json:"details"`
	Aliases  []string      `json:"aliases"`
	Severity []osvSeverity `json:"severity"`
	Affected []struct {
		Ranges []struct {
			Type   string `json:"type"`
			Events []struct {
				Introduced string `json:"introduced,omitempty"`
				Fixed      string `json:"fixed,omitempty"`
			} `json:"events"`
		} `json:"ranges"`
	} `json:"affected"`
	DatabaseSpecific struct {
		Severity string `json:"severity"`
	} `json:"database_specific"`
}

func (c *OSVClient) Name() string {
	return "osv"
}

func (c *OSVClient) Find(ctx context.Context, pkg model.Package) ([]model.Vulnerability, error) {
	eco, ok := pkg.Ecosystem()
	if !ok {
		return nil, fmt.Errorf("unsupported registry source %q", pkg.RegistrySource)
	}

	body, err := json.Marshal(osvQuery{
		Package: osvPackage{Name: pkg.Name, Ecosystem: eco.OSV},
		Version: pkg.Version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp osvResponse
	if err := c.Fetcher.PostJSON(ctx, c.BaseURL+"/v1/query", body, &resp); err != nil {
		return nil, fmt.Errorf("OSV API request failed: %w", err)
	}

	vulns := make([]model.Vulnerability, 0, len(resp.Vulns))
	for _, v := range resp.Vulns {
		description := v.Summary
		if description == "" {
			description = v.Details
		}
		cvss := baseScore(v.Severity)
		vulns = append(vulns, model.Vulnerability{
			ID:             v.ID,
			Aliases:        v.Aliases,
			Severity:       severityOf(v, cvss),
			CVSS:           cvss,
			Source:         c.Name(),
			FixedInVersion: fixedVersion(v),
			Description:    description,
		})
	}
	return vulns, nil
}

// severityOf prefers the database label (GHSA style) and falls back to the CVSS base score.
func severityOf(v osvVuln, cvss float64) model.Severity {
	if s, err := model.ParseSeverity(v.DatabaseSpecific.Severity); err == nil {
		return s
	}
	return model.SeverityFromCVSS(cvss)
}

func baseScore(severities []osvSeverity) float64 {
	for _, s := range severities {
		switch {
		case strings.HasPrefix(s.Score, "CVSS:3.0"):
			if cvss, err := gocvss30.ParseVector(s.Score); err == nil {
				return cvss.BaseScore()
			}
		case strings.HasPrefix(s.Score, "CVSS:3.1"):
			if cvss, err := gocvss31.ParseVector(s.Score); err == nil {
				return cvss.BaseScore()
			}
		case strings.HasPrefix(s.Score, "CVSS:4.0"):
			if cvss, err := gocvss40.ParseVector(s.Score); err == nil {
				return cvss.Score()
			}
		}
	}
	return 0
}

func fixedVersion(v osvVuln) string {
	for _, a := range v.Affected {
		for _, r := range a.Ranges {
			for _, e := range r.Events {
				if e.Fixed != "" {
					return e.Fixed
				}
			}
		}
	}
	return ""
}
