package vuln

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"depvet/metrics"
	"depvet/model"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Source is a vulnerability database. A package unknown to the source is an empty slice, not an error.
type Source interface {
	Name() string
	Find(ctx context.Context, pkg model.Package) ([]model.Vulnerability, error)
}

type SourceError struct {
	Source string `json:"source"`
	Err    string `json:"error"`
}

func (e SourceError) Error() string {
	return fmt.Sprintf("%s: %s", e.Source, e.Err)
}

type ScanResult struct {
	Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
	Degraded        []SourceError         `json:"degraded,omitempty"`
}

// Count returns the number of vulnerabilities with exactly the given severity.
func (r ScanResult) Count(sev model.Severity) int {
	n := 0
	for _, v := range r.Vulnerabilities {
		if v.Severity == sev {
			n++
		}
	}
	return n
}

type Scanner struct {
	Sources []Source
	Timeout time.Duration
	Log     *logrus.Logger
	Metrics *metrics.Metrics
}

// Scan queries every source concurrently. A failing source degrades to no data and is reported in
// ScanResult.Degraded; Scan only returns an error when ctx itself is done.
func (s *Scanner) Scan(ctx context.Context, pkg model.Package, minSeverity model.Severity) (ScanResult, error) {
	var (
		mu       sync.Mutex
		found    = make([][]model.Vulnerability, len(s.Sources))
		degraded []SourceError
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range s.Sources {
		i, src := i, src
		g.Go(func() error {
			sctx := gctx
			if s.Timeout > 0 {
				var cancel context.CancelFunc
				sctx, cancel = context.WithTimeout(gctx, s.Timeout)
				defer cancel()
			}

			vulns, err := src.Find(sctx, pkg)
			if err != nil {
				s.logger().WithFields(logrus.Fields{
					"source":  src.Name(),
					"package": pkg.Key(),
				}).WithError(err).Warn("Vulnerability source failed")
				s.Metrics.FeedError(src.Name())

				mu.Lock()
				degraded = append(degraded, SourceError{Source: src.Name(), Err: err.Error()})
				mu.Unlock()
				return nil
			}
			found[i] = vulns
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return ScanResult{}, err
	}

	sort.Slice(degraded, func(i, j int) bool { return degraded[i].Source < degraded[j].Source })

	var all []model.Vulnerability
	for _, vulns := range found {
		all = append(all, vulns...)
	}

	return ScanResult{
		Vulnerabilities: Filter(rate(Merge(all)), minSeverity),
		Degraded:        degraded,
	}, nil
}

// UnratedSeverity is assumed for advisories that carry neither a severity label nor a CVSS score.
const UnratedSeverity = model.SeverityMedium

// rate assigns UnratedSeverity to merged vulnerabilities that no source rated, so they survive
// the severity filter.
func rate(vulns []model.Vulnerability) []model.Vulnerability {
	changed := false
	for i := range vulns {
		if vulns[i].Severity.Weight() == 0 {
			vulns[i].Severity = UnratedSeverity
			vulns[i].Unrated = true
			changed = true
		}
	}
	if changed {
		sortVulns(vulns)
	}
	return vulns
}

func (s *Scanner) logger() *logrus.Logger {
	if s.Log == nil {
		return logrus.StandardLogger()
	}
	return s.Log
}

// Merge collapses vulnerabilities reported under the same ID or a shared alias. The highest severity
// and CVSS win; the first non-empty fixed version and description are kept. The result is sorted by
// severity descending, then ID.
func Merge(vulns []model.Vulnerability) []model.Vulnerability {
	var merged []model.Vulnerability
	index := make(map[string]int)

	for _, v := range vulns {
		pos, ok := -1, false
		for _, id := range append([]string{v.ID}, v.Aliases...) {
			if p, seen := index[id]; seen {
				pos, ok = p, true
				break
			}
		}

		if !ok {
			merged = append(merged, v)
			pos = len(merged) - 1
		} else {
			cur := &merged[pos]
			if v.Severity.Weight() > cur.Severity.Weight() {
				cur.Severity = v.Severity
			}
			if v.CVSS > cur.CVSS {
				cur.CVSS = v.CVSS
			}
			if cur.FixedInVersion == "" {
				cur.FixedInVersion = v.FixedInVersion
			}
			if cur.Description == "" {
				cur.Description = v.Description
			}
			cur.Aliases = appendUnique(cur.Aliases, cur.ID, append([]string{v.ID}, v.Aliases...)...)
		}

		index[v.ID] = pos
		for _, a := range v.Aliases {
			index[a] = pos
		}
	}

	sortVulns(merged)
	return merged
}

// Filter keeps vulnerabilities at or above min.
func Filter(vulns []model.Vulnerability, min model.Severity) []model.Vulnerability {
	out := make([]model.Vulnerability, 0, len(vulns))
	for _, v := range vulns {
		if v.Severity.AtLeast(min) {
			out = append(out, v)
		}
	}
	return out
}

func sortVulns(vulns []model.Vulnerability) {
	sort.SliceStable(vulns, func(i, j int) bool {
		wi, wj := vulns[i].Severity.Weight(), vulns[j].Severity.Weight()
		if wi != wj {
			return wi > wj
		}
		return vulns[i].ID < vulns[j].ID
	})
}

func appendUnique(list []string, self string, ids ...string) []string {
	seen := map[string]bool{self: true}
	for _, id := range list {
		seen[id] = true
	}
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			list = append(list, id)
		}
	}
	return list
}
