package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSeverity(t *testing.T) {
	tests := []struct {
		in       string
		expected Severity
		wantErr  bool
	}{
		{in: "LOW", expected: SeverityLow},
		{in: " moderate ", expected: SeverityMedium},
		{in: "medium", expected: SeverityMedium},
		{in: "High", expected: SeverityHigh},
		{in: "critical", expected: SeverityCritical},
		{in: "severe", expected: SeverityUnknown, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			sev, err := ParseSeverity(tt.in)
			assert.Equal(t, tt.expected, sev)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestSeverityOrdering(t *testing.T) {
	assert.True(t, SeverityCritical.AtLeast(SeverityHigh))
	assert.True(t, SeverityHigh.AtLeast(SeverityHigh))
	assert.False(t, SeverityMedium.AtLeast(SeverityHigh))
	assert.False(t, SeverityUnknown.AtLeast(SeverityLow))
	assert.Equal(t, 4, SeverityCritical.Weight())
	assert.Equal(t, 0, SeverityUnknown.Weight())
}

func TestSeverityFromCVSS(t *testing.T) {
	tests := []struct {
		score    float64
		expected Severity
	}{
		{9.8, SeverityCritical},
		{9.0, SeverityCritical},
		{7.5, SeverityHigh},
		{4.0, SeverityMedium},
		{0.1, SeverityLow},
		{0, SeverityUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, SeverityFromCVSS(tt.score), "score %.1f", tt.score)
	}
}

func TestParsePackage(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		source   string
		expected Package
		wantErr  bool
	}{
		{
			name:     "name at version",
			in:       "Newtonsoft.Json@13.0.3",
			source:   "nuget",
			expected: Package{Name: "Newtonsoft.Json", Version: "13.0.3", SourceType: SourceDirect, RegistrySource: "nuget"},
		},
		{
			name:     "scoped npm name",
			in:       "@angular/core@17.0.0",
			source:   "npm",
			expected: Package{Name: "@angular/core", Version: "17.0.0", SourceType: SourceDirect, RegistrySource: "npm"},
		},
		{
			name:     "package-url",
			in:       "pkg:nuget/Serilog@3.1.1",
			expected: Package{Name: "Serilog", Version: "3.1.1", SourceType: SourceDirect, RegistrySource: "nuget"},
		},
		{
			name:     "maven package-url",
			in:       "pkg:maven/org.apache.commons/commons-lang3@3.14.0",
			expected: Package{Name: "org.apache.commons:commons-lang3", Version: "3.14.0", SourceType: SourceDirect, RegistrySource: "maven"},
		},
		{name: "missing version", in: "Serilog", wantErr: true},
		{name: "empty version", in: "Serilog@", wantErr: true},
		{name: "package-url without version", in: "pkg:nuget/Serilog", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pkg, err := ParsePackage(tt.in, tt.source)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, pkg)
		})
	}
}

func TestPURL(t *testing.T) {
	assert.Equal(t, "pkg:nuget/Newtonsoft.Json@13.0.3", Package{Name: "Newtonsoft.Json", Version: "13.0.3"}.PURL())
	assert.Equal(t, "pkg:maven/org.apache.commons/commons-lang3@3.14.0",
		Package{Name: "org.apache.commons:commons-lang3", Version: "3.14.0", RegistrySource: "maven"}.PURL())

	pkg, err := ParsePackage(Package{Name: "Serilog", Version: "3.1.1", RegistrySource: "nuget.org"}.PURL(), "")
	require.NoError(t, err)
	assert.Equal(t, "Serilog", pkg.Name)
	assert.Equal(t, "nuget", pkg.RegistrySource)
}

func TestLookupEcosystem(t *testing.T) {
	eco, ok := LookupEcosystem("")
	require.True(t, ok)
	assert.Equal(t, "NUGET", eco.DepsDev)

	eco, ok = LookupEcosystem("crates.io")
	require.True(t, ok)
	assert.Equal(t, "CARGO", eco.DepsDev)
	assert.Equal(t, "crates.io", eco.OSV)

	_, ok = LookupEcosystem("cpan")
	assert.False(t, ok)
}

func TestRecommendation(t *testing.T) {
	assert.Equal(t, RiskLow, Approved.RiskFor())
	assert.Equal(t, RiskMedium, ConditionallyApproved.RiskFor())
	assert.Equal(t, RiskHigh, ReviewRequired.RiskFor())
	assert.Equal(t, RiskCritical, Rejected.RiskFor())
	assert.True(t, ConditionallyApproved.Accepted())
	assert.False(t, ReviewRequired.Accepted())
}
