package model

import "time"

type StageName string

const (
	StageScreening    StageName = "screening"
	StageSecurity     StageName = "security"
	StageLicense      StageName = "license"
	StageMaintenance  StageName = "maintenance"
	StagePerformance  StageName = "performance"
	StageIntegration  StageName = "integration"
	StageArchitecture StageName = "architecture"
)

// StageOrder is the fixed order in which stages run.
var StageOrder = []StageName{
	StageScreening,
	StageSecurity,
	StageLicense,
	StageMaintenance,
	StagePerformance,
	StageIntegration,
	StageArchitecture,
}

type StageStatus string

const (
	StagePassed StageStatus = "passed"
	StageFailed StageStatus = "failed"
	StageError  StageStatus = "error"
)

type IssueSeverity string

const (
	IssueInfo    IssueSeverity = "info"
	IssueWarning IssueSeverity = "warning"
	IssueError   IssueSeverity = "error"
)

type Issue struct {
	Severity IssueSeverity `json:"severity"`
	Message  string        `json:"message"`
}

type StageResult struct {
	Stage       StageName     `json:"stage"`
	Score       *float64      `json:"score,omitempty"`
	Status      StageStatus   `json:"status"`
	Issues      []Issue       `json:"issues,omitempty"`
	HardFailure bool          `json:"hardFailure,omitempty"`
	Duration    time.Duration `json:"duration"`
}

func Score(v float64) *float64 {
	return &v
}

func (r *StageResult) AddIssue(sev IssueSeverity, msg string) {
	r.Issues = append(r.Issues, Issue{Severity: sev, Message: msg})
}

type VettingLevel string

const (
	LevelBasic         VettingLevel = "basic"
	LevelStandard      VettingLevel = "standard"
	LevelComprehensive VettingLevel = "comprehensive"
	LevelQuick         VettingLevel = "quick"
)

type OverallStatus string

const (
	OverallPending OverallStatus = "pending"
	OverallPassed  OverallStatus = "passed"
	OverallFailed  OverallStatus = "failed"
)

type Recommendation string

const (
	Approved              Recommendation = "approved"
	ConditionallyApproved Recommendation = "conditionallyApproved"
	ReviewRequired        Recommendation = "reviewRequired"
	Rejected              Recommendation = "rejected"
)

type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// RiskFor mirrors the recommendation.
func (r Recommendation) RiskFor() RiskLevel {
	switch r {
	case Approved:
		return RiskLow
	case ConditionallyApproved:
		return RiskMedium
	case ReviewRequired:
		return RiskHigh
	default:
		return RiskCritical
	}
}

func (r Recommendation) Accepted() bool {
	return r == Approved || r == ConditionallyApproved
}

// VettingResult is terminal once Completed is set; a re-vet produces a new value.
type VettingResult struct {
	ID             string                    `json:"id"`
	Package        Package                   `json:"package"`
	VettingLevel   VettingLevel              `json:"vettingLevel"`
	Stages         map[StageName]StageResult `json:"stages"`
	OverallScore   float64                   `json:"overallScore"`
	OverallStatus  OverallStatus             `json:"overallStatus"`
	Recommendation Recommendation            `json:"recommendation,omitempty"`
	RiskLevel      RiskLevel                 `json:"riskLevel,omitempty"`
	Completed      bool                      `json:"completed"`
	StartTime      time.Time                 `json:"startTime"`
	EndTime        time.Time                 `json:"endTime"`
}

type LicenseStatus string

const (
	LicenseCompliant      LicenseStatus = "compliant"
	LicenseBlocked        LicenseStatus = "blocked"
	LicenseReviewRequired LicenseStatus = "reviewRequired"
	LicenseUnknown        LicenseStatus = "unknown"
)

type LicenseComplianceResult struct {
	Package Package       `json:"package"`
	License string        `json:"license"`
	Status  LicenseStatus `json:"status"`
}

type UpdateType string

const (
	UpdateMajor UpdateType = "major"
	UpdateMinor UpdateType = "minor"
	UpdatePatch UpdateType = "patch"
	UpdateNone  UpdateType = "none"
)

type VersionAnalysis struct {
	Package        Package    `json:"package"`
	CurrentVersion string     `json:"currentVersion"`
	LatestVersion  string     `json:"latestVersion"`
	UpdateType     UpdateType `json:"updateType"`
	Risk           RiskLevel  `json:"risk"`
}
