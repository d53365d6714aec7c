package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"depvet/config"
	"depvet/model"
	"depvet/registry"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePackage struct {
	version  string
	license  string
	critical bool
}

// fakeFeeds serves the deps.dev and OSV endpoints the pipeline reads.
func fakeFeeds(t *testing.T, packages map[string]fakePackage) *httptest.Server {
	t.Helper()
	published := time.Now().AddDate(0, -1, 0).UTC().Format(time.RFC3339)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		path := r.URL.Path

		switch {
		case r.Method == http.MethodPost && path == "/osv/v1/query":
			var q struct {
				Package struct {
					Name string `json:"name"`
				} `json:"package"`
			}
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&q))
			if packages[q.Package.Name].critical {
				fmt.Fprint(w, `{"vulns":[{"id":"GHSA-xxxx-yyyy-zzzz","summary":"remote code execution","database_specific":{"severity":"CRITICAL"}}]}`)
				return
			}
			fmt.Fprint(w, `{}`)

		case strings.HasPrefix(path, "/v3/projects/"):
			fmt.Fprint(w, `{"projectKey":{"id":"github.com/example/repo"},"scorecard":{"overallScore":9.6}}`)

		case strings.HasPrefix(path, "/v3/systems/NUGET/packages/"):
			rest := strings.TrimPrefix(path, "/v3/systems/NUGET/packages/")
			name, ver, hasVersion := strings.Cut(rest, "/versions/")
			pkg, ok := packages[name]
			if !ok {
				http.NotFound(w, r)
				return
			}
			switch {
			case !hasVersion:
				fmt.Fprintf(w, `{"packageKey":{"system":"NUGET","name":%q},"versions":[{"versionKey":{"system":"NUGET","name":%q,"version":%q},"publishedAt":%q,"isDefault":true}]}`,
					name, name, pkg.version, published)
			case strings.HasSuffix(ver, ":dependencies"):
				fmt.Fprintf(w, `{"nodes":[{"versionKey":{"system":"NUGET","name":%q,"version":%q},"relation":"SELF"}]}`, name, pkg.version)
			case ver == pkg.version:
				fmt.Fprintf(w, `{"versionKey":{"system":"NUGET","name":%q,"version":%q},"publishedAt":%q,"isDefault":true,"licenses":[%q],"relatedProjects":[{"projectKey":{"id":"github.com/example/repo"},"relationType":"SOURCE_REPO"}]}`,
					name, pkg.version, published, pkg.license)
			default:
				http.NotFound(w, r)
			}

		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

type env struct {
	dir      string
	config   string
	registry string
}

func newEnv(t *testing.T, feeds *httptest.Server) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:      dir,
		config:   filepath.Join(dir, "depvet.yaml"),
		registry: filepath.Join(dir, "registry.json"),
	}
	doc := fmt.Sprintf(`
feeds:
  depsDevURL: %s/v3
  osvURL: %s/osv
  retries: 0
  timeout: 5s
registry:
  path: %s
history:
  path: %s
`, feeds.URL, feeds.URL, e.registry, filepath.Join(dir, "history.db"))
	require.NoError(t, os.WriteFile(e.config, []byte(doc), 0o644))
	return e
}

func (e env) run(t *testing.T, args ...string) (int, string) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), append([]string{"--config", e.config}, args...), &stdout, &stderr)
	t.Log(stderr.String())
	return code, stdout.String()
}

func TestVet_EndToEnd(t *testing.T) {
	feeds := fakeFeeds(t, map[string]fakePackage{
		"Newtonsoft.Json": {version: "13.0.3", license: "MIT"},
		"Evil.Package":    {version: "1.0.0", license: "MIT", critical: true},
		"Copyleft.Lib":    {version: "2.0.0", license: "GPL-3.0"},
	})

	t.Run("approved package is registered", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, out := e.run(t, "vet", "Newtonsoft.Json@13.0.3")
		assert.Equal(t, 0, code)

		var results []model.VettingResult
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 1)
		assert.Equal(t, model.Approved, results[0].Recommendation)
		assert.Equal(t, model.RiskLow, results[0].RiskLevel)
		assert.True(t, results[0].Completed)
		assert.GreaterOrEqual(t, results[0].OverallScore, 95.0)

		reg, err := registry.Load(e.registry)
		require.NoError(t, err)
		entry, ok := reg.Get("Newtonsoft.Json")
		require.True(t, ok)
		assert.Equal(t, "13.0.3", entry.Version)
		assert.Equal(t, registry.StatusActive, entry.Status)
		assert.Equal(t, 1, reg.Metadata.TotalCount)
	})

	t.Run("package-url argument", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, _ := e.run(t, "vet", "--level", "quick", "pkg:nuget/Newtonsoft.Json@13.0.3")
		assert.Equal(t, 0, code)
	})

	t.Run("critical vulnerability rejects", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, out := e.run(t, "vet", "Evil.Package@1.0.0")
		assert.Equal(t, 2, code)
		assert.Contains(t, out, `"recommendation": "rejected"`)
		assert.NotContains(t, out, `"license":`)

		reg, err := registry.Load(e.registry)
		require.NoError(t, err)
		assert.Empty(t, reg.Dependencies)
	})

	t.Run("blocked license rejects", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, _ := e.run(t, "vet", "Copyleft.Lib@2.0.0")
		assert.Equal(t, 2, code)
	})

	t.Run("unknown package rejects", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, _ := e.run(t, "vet", "Does.Not.Exist@1.0.0")
		assert.Equal(t, 2, code)
	})

	t.Run("worst result wins", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, out := e.run(t, "vet", "Newtonsoft.Json@13.0.3", "Evil.Package@1.0.0")
		assert.Equal(t, 2, code)

		var results []model.VettingResult
		require.NoError(t, json.Unmarshal([]byte(out), &results))
		require.Len(t, results, 2)
		assert.Equal(t, "Newtonsoft.Json", results[0].Package.Name)
	})

	t.Run("quick-check does not register", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, out := e.run(t, "quick-check", "Newtonsoft.Json@13.0.3")
		assert.Equal(t, 0, code)
		assert.Contains(t, out, `"vettingLevel": "quick"`)

		_, err := os.Stat(e.registry)
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("bad arguments", func(t *testing.T) {
		e := newEnv(t, feeds)
		code, _ := e.run(t, "vet", "Newtonsoft.Json")
		assert.Equal(t, 1, code)

		code, _ = e.run(t, "vet", "--level", "paranoid", "Newtonsoft.Json@13.0.3")
		assert.Equal(t, 1, code)
	})
}

func TestRegistryCommands(t *testing.T) {
	feeds := fakeFeeds(t, map[string]fakePackage{
		"Newtonsoft.Json": {version: "13.0.3", license: "MIT"},
	})
	e := newEnv(t, feeds)

	code, _ := e.run(t, "registry", "add", "Newtonsoft.Json@13.0.3", "--license", "MIT")
	require.Equal(t, 0, code)

	code, _ = e.run(t, "registry", "add", "Newtonsoft.Json@13.0.3")
	assert.Equal(t, 1, code, "adding twice must fail")

	code, out := e.run(t, "registry", "list", "--json")
	require.Equal(t, 0, code)
	var entries []registry.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "13.0.3", entries[0].Version)

	code, out = e.run(t, "registry", "list")
	require.Equal(t, 0, code)
	assert.Contains(t, out, "Newtonsoft.Json")

	code, out = e.run(t, "registry", "health-check")
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"status": "healthy"`)

	code, _ = e.run(t, "registry", "update", "Newtonsoft.Json", "13.0.4", "--status", "deprecated")
	require.Equal(t, 0, code)
	reg, err := registry.Load(e.registry)
	require.NoError(t, err)
	entry, _ := reg.Get("Newtonsoft.Json")
	assert.Equal(t, "13.0.4", entry.Version)
	assert.Equal(t, registry.StatusDeprecated, entry.Status)

	export := filepath.Join(e.dir, "export.json")
	code, _ = e.run(t, "registry", "export", "-o", export)
	require.Equal(t, 0, code)

	code, _ = e.run(t, "registry", "remove", "Newtonsoft.Json")
	require.Equal(t, 0, code)
	code, _ = e.run(t, "registry", "remove", "Newtonsoft.Json")
	assert.Equal(t, 1, code)

	code, out = e.run(t, "registry", "import", export)
	require.Equal(t, 0, code)
	assert.Contains(t, out, `"added": 1`)
}

func TestConfigure(t *testing.T) {
	feeds := fakeFeeds(t, nil)
	e := newEnv(t, feeds)
	out := filepath.Join(e.dir, "written.yaml")

	code, _ := e.run(t, "configure", "-o", out, "--set", "security.maxCVSSScore=7", "--set", "vetting.level=comprehensive")
	require.Equal(t, 0, code)

	cfg := config.Load(viper.New(), out, NewLogger(io.Discard, false))
	assert.Equal(t, 7.0, cfg.Security.MaxCVSSScore)
	assert.Equal(t, "comprehensive", cfg.Vetting.Level)
	assert.Equal(t, e.registry, cfg.Registry.Path)

	code, _ = e.run(t, "configure", "-o", out, "--set", "security.minSeverity=whatever")
	assert.Equal(t, 1, code)
}
