package depsdev

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"sync/atomic"
	"testing"

	"depvet/fetch"
)

var errDecode = errors.New("decode")

func newTestClient(server *httptest.Server) *DepsDevClient {
	return NewClient(server.URL, &fetch.Fetcher{HTTPClient: server.Client()})
}

func TestGetDependencyGraph(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		body          any
		expectError   error
		expectedGraph *DependencyGraph
	}{
		{
			name:       "Valid response",
			statusCode: http.StatusOK,
			body: DependencyGraph{
				Nodes: []DependencyNode{
					{VersionKey: VersionKey{System: "npm", Name: "pkg", Version: "1.0.0"}, Relation: "SELF"},
				},
			},
			expectedGraph: &DependencyGraph{
				Nodes: []DependencyNode{
					{VersionKey: VersionKey{System: "npm", Name: "pkg", Version: "1.0.0"}, Relation: "SELF"},
				},
			},
		},
		{
			name:        "Unknown version",
			statusCode:  http.StatusNotFound,
			expectError: fetch.ErrNotFound,
		},
		{
			name:        "Server error",
			statusCode:  http.StatusServiceUnavailable,
			expectError: &fetch.StatusError{},
		},
		{
			name:        "Invalid JSON",
			statusCode:  http.StatusOK,
			body:        "invalid-json",
			expectError: errDecode,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/systems/npm/packages/react/versions/18.2.0:dependencies" {
					t.Errorf("unexpected request path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				if tt.body != nil {
					switch v := tt.body.(type) {
					case string:
						fmt.Fprint(w, v)
					default:
						_ = json.NewEncoder(w).Encode(v)
					}
				}
			}))
			defer server.Close()

			client := newTestClient(server)

			graph, err := client.GetDependencyGraph(context.Background(), "npm", "react", "18.2.0")

			if tt.expectError != nil {
				var statusErr *fetch.StatusError
				switch {
				case err == nil:
					t.Errorf("expected error, got nil")
				case tt.expectError == errDecode:
					if errors.Is(err, fetch.ErrNotFound) || errors.As(err, &statusErr) {
						t.Errorf("expected decode error, got %v", err)
					}
				case errors.As(tt.expectError, &statusErr):
					if !errors.As(err, &statusErr) || statusErr.StatusCode != tt.statusCode {
						t.Errorf("expected status error %d, got %v", tt.statusCode, err)
					}
				case !errors.Is(err, tt.expectError):
					t.Errorf("expected %v, got %v", tt.expectError, err)
				}
				if graph != nil {
					t.Errorf("expected nil graph, got %v", graph)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if !reflect.DeepEqual(graph, tt.expectedGraph) {
					t.Errorf("expected graph %+v, got %+v", tt.expectedGraph, graph)
				}
			}
		})
	}
}

func TestGetPackageMetadata(t *testing.T) {
	tests := []struct {
		name             string
		statusCode       int
		body             any
		expectError      bool
		expectedMetadata *PackageVersionMetadata
	}{
		{
			name:       "Valid metadata",
			statusCode: http.StatusOK,
			body: PackageVersionMetadata{
				RelatedProjects: []RelatedProject{
					{
						ProjectKey:   ProjectKey{ID: "github.com/facebook/react"},
						RelationType: "ISSUE_TRACKER",
					},
					{
						ProjectKey:   ProjectKey{ID: "github.com/facebook/react"},
						RelationType: "SOURCE_REPO",
					},
				},
			},
			expectError: false,
			expectedMetadata: &PackageVersionMetadata{
				RelatedProjects: []RelatedProject{
					{
						ProjectKey:   ProjectKey{ID: "github.com/facebook/react"},
						RelationType: "ISSUE_TRACKER",
					},
					{
						ProjectKey:   ProjectKey{ID: "github.com/facebook/react"},
						RelationType: "SOURCE_REPO",
					},
				},
			},
		},
		{
			name:             "Invalid JSON",
			statusCode:       http.StatusOK,
			body:             "bad-json",
			expectError:      true,
			expectedMetadata: nil,
		},
		{
			name:             "Not found",
			statusCode:       http.StatusNotFound,
			body:             nil,
			expectError:      true,
			expectedMetadata: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				if tt.body != nil {
					switch v := tt.body.(type) {
					case string:
						fmt.Fprint(w, v)
					default:
						_ = json.NewEncoder(w).Encode(v)
					}
				}
			}))
			defer server.Close()

			client := newTestClient(server)

			meta, err := client.GetPackageMetadata(context.Background(), VersionKey{
				System:  "npm",
				Name:    "react",
				Version: "18.2.0",
			})

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error, got nil")
				}
				if meta != nil {
					t.Errorf("expected nil metadata, got %v", meta)
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
					return
				}
				if !reflect.DeepEqual(meta, tt.expectedMetadata) {
					t.Errorf("expected metadata %+v, got %+v", tt.expectedMetadata, meta)
				}
			}
		})
	}
}

func TestGetScorecardData(t *testing.T) {
	projectID := "github.com/facebook/react"

	tests := []struct {
		name             string
		statusCode       int
		body             any
		expectedScore    *float64
		expectError      bool
		expectedMetadata *PackageVersionMetadata
	}{
		{
			name:       "Valid project with score",
			statusCode: http.StatusOK,
			body: ProjectMetadata{
				Scorecard:  &Scorecard{OverallScore: 9.1},
				StarsCount: 220000,
			},
			expectedScore: float64Ptr(9.1),
			expectedMetadata: &PackageVersionMetadata{
				RelatedProjects: []RelatedProject{
					{
						ProjectKey:   ProjectKey{ID: projectID},
						RelationType: "ISSUE_TRACKER",
					},
					{
						ProjectKey:   ProjectKey{ID: projectID},
						RelationType: "SOURCE_REPO", // This is the one used
					},
				},
			},
		},
		{
			name:          "Project not found",
			statusCode:    http.StatusNotFound,
			body:          nil,
			expectedScore: nil,
			expectError:   true,
			expectedMetadata: &PackageVersionMetadata{
				RelatedProjects: []RelatedProject{
					{
						ProjectKey:   ProjectKey{ID: projectID},
						RelationType: "SOURCE_REPO",
					},
				},
			},
		},
		{
			name:          "Invalid JSON response",
			statusCode:    http.StatusOK,
			body:          "bad-json",
			expectedScore: nil,
			expectError:   true,
			expectedMetadata: &PackageVersionMetadata{
				RelatedProjects: []RelatedProject{
					{
						ProjectKey:   ProjectKey{ID: projectID},
						RelationType: "SOURCE_REPO",
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != fmt.Sprintf("/projects/%s", projectID) {
					t.Errorf("unexpected request path: %s", r.URL.Path)
				}
				w.WriteHeader(tt.statusCode)
				if tt.body != nil {
					switch v := tt.body.(type) {
					case string:
						fmt.Fprint(w, v)
					default:
						_ = json.NewEncoder(w).Encode(v)
					}
				}
			}))
			defer server.Close()

			client := newTestClient(server)

			result, err := client.GetScorecardData(context.Background(), tt.expectedMetadata)
			if tt.expectError != (err != nil) {
				t.Errorf("expected error %v, got %v", tt.expectError, err)
			}
			if result.SourceRepo != projectID {
				t.Errorf("expected source repo %s, got %s", projectID, result.SourceRepo)
			}

			if tt.expectedScore == nil && result.OpenSSFScore != nil {
				t.Errorf("expected nil score, got %v", *result.OpenSSFScore)
			}
			if tt.expectedScore != nil {
				if result.OpenSSFScore == nil {
					t.Errorf("expected score %v, got nil", *tt.expectedScore)
				} else if *result.OpenSSFScore != *tt.expectedScore {
					t.Errorf("expected score %v, got %v", *tt.expectedScore, *result.OpenSSFScore)
				}
			}
		})
	}
}

func TestGetScorecardData_NoSourceRepo(t *testing.T) {
	client := NewClient("http://127.0.0.1:0", &fetch.Fetcher{})
	result, err := client.GetScorecardData(context.Background(), &PackageVersionMetadata{})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if result.OpenSSFScore != nil || result.SourceRepo != "" {
		t.Errorf("expected empty scorecard, got %+v", result)
	}
}

func TestGetPackage_Cached(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != "/systems/NUGET/packages/Newtonsoft.Json" {
			t.Errorf("unexpected request path: %s", r.URL.Path)
		}
		fmt.Fprint(w, `{"packageKey":{"system":"NUGET","name":"Newtonsoft.Json"},"versions":[{"versionKey":{"version":"13.0.3"}}]}`)
	}))
	defer server.Close()

	client := newTestClient(server)
	for i := 0; i < 3; i++ {
		pkg, err := client.GetPackage(context.Background(), "NUGET", "Newtonsoft.Json")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pkg.Versions) != 1 {
			t.Errorf("expected 1 version, got %d", len(pkg.Versions))
		}
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("expected 1 request, got %d", n)
	}
}

func float64Ptr(f float64) *float64 {
	return &f
}
