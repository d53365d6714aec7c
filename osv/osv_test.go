package osv

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"depvet/fetch"
	"depvet/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOSVClient_Find(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/query", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		var q osvQuery
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		assert.Equal(t, "NuGet", q.Package.Ecosystem)
		assert.Equal(t, "Newtonsoft.Json", q.Package.Name)
		assert.Equal(t, "12.0.1", q.Version)

		_, _ = w.Write([]byte(`{
			"vulns": [
				{
					"id": "GHSA-5crp-9r3c-p9vr",
					"summary": "Improper Handling of Exceptional Conditions",
					"aliases": ["CVE-2024-21907"],
					"database_specific": {"severity": "HIGH"},
					"affected": [{"ranges": [{"type": "ECOSYSTEM", "events": [{"introduced": "0"}, {"fixed": "13.0.1"}]}]}]
				},
				{
					"id": "OSV-2024-1",
					"details": "scored only by vector",
					"severity": [{"type": "CVSS_V3", "score": "CVSS:3.1/AV:N/AC:L/PR:N/UI:N/S:U/C:H/I:H/A:H"}]
				}
			]
		}`))
	}))
	defer ts.Close()

	client := NewOSVClient(ts.URL, fetch.New(time.Second, 0, 0))

	vulns, err := client.Find(context.Background(), model.Package{Name: "Newtonsoft.Json", Version: "12.0.1", RegistrySource: "nuget"})
	require.NoError(t, err)
	require.Len(t, vulns, 2)

	assert.Equal(t, "GHSA-5crp-9r3c-p9vr", vulns[0].ID)
	assert.Equal(t, model.SeverityHigh, vulns[0].Severity)
	assert.Equal(t, "13.0.1", vulns[0].FixedInVersion)
	assert.Equal(t, []string{"CVE-2024-21907"}, vulns[0].Aliases)
	assert.Equal(t, "osv", vulns[0].Source)

	assert.Equal(t, model.SeverityCritical, vulns[1].Severity)
	assert.InDelta(t, 9.8, vulns[1].CVSS, 0.01)
	assert.Equal(t, "scored only by vector", vulns[1].Description)
}

func TestOSVClient_NoVulns(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	vulns, err := NewOSVClient(ts.URL, fetch.New(time.Second, 0, 0)).Find(context.Background(), model.Package{Name: "Serilog", Version: "3.1.1"})
	assert.NoError(t, err)
	assert.Empty(t, vulns)
}

func TestOSVClient_Errors(t *testing.T) {
	t.Run("server error", func(t *testing.T) {
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer ts.Close()

		_, err := NewOSVClient(ts.URL, fetch.New(time.Second, 0, 0)).Find(context.Background(), model.Package{Name: "x", Version: "1.0.0"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "OSV API request failed")
	})

	t.Run("unsupported ecosystem", func(t *testing.T) {
		_, err := NewOSVClient("http://unused", fetch.New(time.Second, 0, 0)).Find(context.Background(), model.Package{Name: "x", Version: "1", RegistrySource: "cpan"})
		assert.Error(t, err)
	})
}
