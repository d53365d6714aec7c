package storage

import "time"

// VettingRecord is the summary row of a stored vetting result.
type VettingRecord struct {
	ID             string     `json:"id"`
	System         string     `json:"system"`
	Name           string     `json:"name"`
	Version        string     `json:"version"`
	Level          string     `json:"level"`
	OverallScore   float64    `json:"overall_score"`
	OverallStatus  string     `json:"overall_status"`
	Recommendation string     `json:"recommendation,omitempty"`
	RiskLevel      string     `json:"risk_level,omitempty"`
	Completed      bool       `json:"completed"`
	StartedAt      time.Time  `json:"started_at"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
}

// HealthRecord is one health check of an approved dependency.
type HealthRecord struct {
	Name      string             `json:"name"`
	Version   string             `json:"version"`
	CheckedAt time.Time          `json:"checked_at"`
	Score     float64            `json:"score"`
	Status    string             `json:"status"`
	Checks    map[string]float64 `json:"checks,omitempty"`
}
