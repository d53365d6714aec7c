package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"depvet/health"
	"depvet/model"
	"depvet/registry"
	"depvet/storage"
	"depvet/vetting"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"
)

type Registry interface {
	Snapshot(ctx context.Context) (*registry.Registry, error)
	Get(ctx context.Context, name string) (registry.Entry, error)
	Add(ctx context.Context, name, version string, a registry.Approval) error
	UpdateVersion(ctx context.Context, name, version string) error
	Remove(ctx context.Context, name string) error
}

type History interface {
	ListVettingsFiltered(ctx context.Context, name string, minScore *float64) ([]storage.VettingRecord, error)
	GetVettingResult(ctx context.Context, id string) (model.VettingResult, error)
	DeleteVetting(ctx context.Context, id string) error
	GetLatestVetting(ctx context.Context, system, name string) (model.VettingResult, error)
	ListHealthHistory(ctx context.Context, name string, limit int) ([]storage.HealthRecord, error)
}

type Vetter interface {
	Vet(ctx context.Context, pkg model.Package, opts vetting.Options) (model.VettingResult, error)
}

type Monitor interface {
	Run(ctx context.Context, opts health.RunOptions) (health.Report, error)
}

type Handler struct {
	Registry   Registry
	History    History
	Vetter     Vetter
	Monitor    Monitor
	ApprovedBy string
	Frequency  string

	// DefaultLevel applies to vetting requests that name no level.
	DefaultLevel model.VettingLevel
	Log          *logrus.Logger
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.Log.WithError(err).Error("encoding response")
	}
}

func (h *Handler) ListDependencies(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{
		Status: registry.Status(r.URL.Query().Get("status")),
		Health: registry.HealthStatus(r.URL.Query().Get("health")),
	}

	reg, err := h.Registry.Snapshot(r.Context())
	if err != nil {
		h.Log.WithError(err).Error("reading registry")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, reg.List(filter))
}

func (h *Handler) GetDependency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "missing path parameters", http.StatusBadRequest)
		return
	}

	e, err := h.Registry.Get(r.Context(), name)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "dependency not found", http.StatusNotFound)
			return
		}
		h.Log.WithField("name", name).WithError(err).Error("fetching dependency")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, e)
}

type DependencyCreateRequest struct {
	Name           string `json:"name"`
	Version        string `json:"version"`
	RegistrySource string `json:"registrySource,omitempty"`
	License        string `json:"license,omitempty"`
	ApprovedBy     string `json:"approvedBy,omitempty"`
	Frequency      string `json:"frequency,omitempty"`
}

func (h *Handler) CreateDependency(w http.ResponseWriter, r *http.Request) {
	var in DependencyCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if in.Name == "" || in.Version == "" {
		http.Error(w, "name and version are required", http.StatusBadRequest)
		return
	}

	a := registry.Approval{
		RegistrySource: in.RegistrySource,
		License:        in.License,
		ApprovedBy:     firstNonEmpty(in.ApprovedBy, h.ApprovedBy),
		Frequency:      firstNonEmpty(in.Frequency, h.Frequency),
	}
	if err := h.Registry.Add(r.Context(), in.Name, in.Version, a); err != nil {
		if errors.Is(err, registry.ErrAlreadyExists) {
			http.Error(w, "dependency already exists", http.StatusConflict)
			return
		}
		h.Log.WithError(err).Error("creating dependency")
		http.Error(w, "failed to create dependency", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
}

type DependencyUpdateRequest struct {
	Version string `json:"version"`
}

func (h *Handler) UpdateDependency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var in DependencyUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if in.Version == "" {
		http.Error(w, "version is required", http.StatusBadRequest)
		return
	}

	if err := h.Registry.UpdateVersion(r.Context(), name, in.Version); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "dependency not found", http.StatusNotFound)
			return
		}
		h.Log.WithError(err).Error("updating dependency")
		http.Error(w, "failed to update dependency", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) DeleteDependency(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		http.Error(w, "missing path parameters", http.StatusBadRequest)
		return
	}

	if err := h.Registry.Remove(r.Context(), name); err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "dependency not found", http.StatusNotFound)
			return
		}
		h.Log.WithError(err).Error("deleting dependency")
		http.Error(w, "failed to delete dependency", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// RefreshHandler runs the health monitor. ?force=true checks every active entry, ?name= limits
// the run to the given entries.
func (h *Handler) RefreshHandler(w http.ResponseWriter, r *http.Request) {
	opts := health.RunOptions{
		Force: r.URL.Query().Get("force") == "true",
		Names: r.URL.Query()["name"],
	}

	report, err := h.Monitor.Run(r.Context(), opts)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			http.Error(w, "dependency not found", http.StatusNotFound)
			return
		}
		h.Log.WithError(err).Error("failed to refresh dependencies")
		http.Error(w, "failed to refresh dependencies", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, report)
}

type VettingRequest struct {
	// Package is a package-url; when empty Name and Version are used.
	Package        string   `json:"package,omitempty"`
	Name           string   `json:"name,omitempty"`
	Version        string   `json:"version,omitempty"`
	RegistrySource string   `json:"registrySource,omitempty"`
	License        string   `json:"license,omitempty"`
	Level          string   `json:"level,omitempty"`
	Skip           []string `json:"skip,omitempty"`
}

func (in VettingRequest) pkg() (model.Package, error) {
	if in.Package != "" {
		pkg, err := model.ParsePackage(in.Package, in.RegistrySource)
		if err != nil {
			return model.Package{}, err
		}
		pkg.License = in.License
		return pkg, nil
	}
	if in.Name == "" || in.Version == "" {
		return model.Package{}, errors.New("package or name and version are required")
	}
	return model.Package{
		Name:           in.Name,
		Version:        in.Version,
		SourceType:     model.SourceDirect,
		RegistrySource: in.RegistrySource,
		License:        in.License,
	}, nil
}

func (h *Handler) CreateVetting(w http.ResponseWriter, r *http.Request) {
	var in VettingRequest
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	pkg, err := in.pkg()
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	level, err := vetting.ParseLevel(firstNonEmpty(in.Level, string(h.DefaultLevel), string(model.LevelStandard)))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := vetting.Options{Level: level}
	for _, s := range in.Skip {
		opts.Skip = append(opts.Skip, model.StageName(strings.ToLower(s)))
	}

	result, err := h.Vetter.Vet(r.Context(), pkg, opts)
	if err != nil {
		h.Log.WithField("package", pkg.Key()).WithError(err).Error("vetting package")
		http.Error(w, "failed to vet package", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusCreated, result)
}

func (h *Handler) ListVettings(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	minScoreStr := r.URL.Query().Get("min_score")

	var minScore *float64
	if minScoreStr != "" {
		if score, err := strconv.ParseFloat(minScoreStr, 64); err == nil {
			minScore = &score
		} else {
			http.Error(w, "invalid min_score value", http.StatusBadRequest)
			return
		}
	}

	records, err := h.History.ListVettingsFiltered(r.Context(), name, minScore)
	if err != nil {
		h.Log.WithError(err).Error("listing vettings with filters")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []storage.VettingRecord{}
	}

	h.writeJSON(w, http.StatusOK, records)
}

func (h *Handler) GetVetting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	result, err := h.History.GetVettingResult(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "vetting not found", http.StatusNotFound)
			return
		}
		h.Log.WithField("id", id).WithError(err).Error("fetching vetting")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) DeleteVetting(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.History.DeleteVetting(r.Context(), id); err != nil {
		h.Log.WithError(err).Error("deleting vetting")
		http.Error(w, "failed to delete vetting", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// GetLatestVetting returns the newest vetting of a package, whatever its version.
func (h *Handler) GetLatestVetting(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	system := firstNonEmpty(r.URL.Query().Get("registry"), model.DefaultRegistrySource)

	result, err := h.History.GetLatestVetting(r.Context(), system, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			http.Error(w, "no vetting for dependency", http.StatusNotFound)
			return
		}
		h.Log.WithField("name", name).WithError(err).Error("fetching latest vetting")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) HealthHistory(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit value", http.StatusBadRequest)
			return
		}
		limit = n
	}

	records, err := h.History.ListHealthHistory(r.Context(), name, limit)
	if err != nil {
		h.Log.WithField("name", name).WithError(err).Error("listing health history")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	if records == nil {
		records = []storage.HealthRecord{}
	}

	h.writeJSON(w, http.StatusOK, records)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
