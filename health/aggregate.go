package health

import "depvet/registry"

// Aggregate combines sub-check results. The score is the mean of the non-zero scores; a check
// that scored 0 or failed is left out rather than counted as zero.
func Aggregate(results map[string]Result) (float64, registry.HealthStatus) {
	var sum float64
	var n int
	for _, r := range results {
		if r.Score > 0 {
			sum += r.Score
			n++
		}
	}
	var score float64
	if n > 0 {
		score = sum / float64(n)
	}

	sec, lic, mnt := results[CheckSecurity], results[CheckLicense], results[CheckMaintenance]
	switch {
	case sec.Status == StatusCritical || lic.Status == StatusNonCompliant:
		return score, registry.HealthCritical
	case sec.Status == StatusWarning || mnt.Status == StatusStale:
		return score, registry.HealthWarning
	case score >= 80:
		return score, registry.HealthHealthy
	case score >= 60:
		return score, registry.HealthWarning
	default:
		return score, registry.HealthCritical
	}
}
