package vetting

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"depvet/model"
	"depvet/registry"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHistory struct {
	mu      sync.Mutex
	Saved   []model.VettingResult
	SaveErr error
}

func (m *mockHistory) SaveVettingResult(_ context.Context, r model.VettingResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Saved = append(m.Saved, r)
	return m.SaveErr
}

func newService(t *testing.T, stages map[model.StageName]*fakeStage) (*Service, *mockHistory) {
	t.Helper()
	history := &mockHistory{}
	return &Service{
		Orchestrator: orchestrator(stages),
		Registry:     registry.NewStore(filepath.Join(t.TempDir(), "registry.json"), quietLogger()),
		History:      history,
		ApprovedBy:   "ci",
		Frequency:    "weekly",
		Log:          quietLogger(),
	}, history
}

func TestService_VetApprovesIntoRegistry(t *testing.T) {
	ctx := context.Background()
	svc, history := newService(t, allStages(100))

	r, err := svc.Vet(ctx, newtonsoft, Options{Level: model.LevelStandard})
	require.NoError(t, err)
	assert.Equal(t, model.Approved, r.Recommendation)
	assert.Equal(t, 0, ExitCode(r))
	require.Len(t, history.Saved, 1)
	assert.Equal(t, r.ID, history.Saved[0].ID)

	e, err := svc.Registry.Get(ctx, "Newtonsoft.Json")
	require.NoError(t, err)
	assert.Equal(t, "13.0.3", e.Version)
	assert.Equal(t, "ci", e.ApprovedBy)
	assert.Equal(t, "MIT", e.License)
	assert.Equal(t, "weekly", e.Monitoring.Frequency)

	// Re-vetting a newer version bumps the approved version.
	next := newtonsoft
	next.Version = "13.0.4"
	_, err = svc.Vet(ctx, next, Options{Level: model.LevelStandard})
	require.NoError(t, err)
	e, err = svc.Registry.Get(ctx, "Newtonsoft.Json")
	require.NoError(t, err)
	assert.Equal(t, "13.0.4", e.Version)
	assert.NotNil(t, e.UpdatedDate)
}

func TestService_RejectedIsNotApproved(t *testing.T) {
	ctx := context.Background()
	stages := allStages(100)
	stages[model.StageLicense].result = model.StageResult{Status: model.StageFailed, HardFailure: true, Score: model.Score(0)}
	svc, history := newService(t, stages)

	r, err := svc.Vet(ctx, newtonsoft, Options{Level: model.LevelStandard})
	require.NoError(t, err)
	assert.Equal(t, model.Rejected, r.Recommendation)
	assert.Equal(t, 2, ExitCode(r))
	assert.Len(t, history.Saved, 1)

	_, err = svc.Registry.Get(ctx, "Newtonsoft.Json")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestService_QuickCheckNeverWritesRegistry(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, allStages(100))

	r, err := svc.QuickCheck(ctx, newtonsoft)
	require.NoError(t, err)
	assert.Equal(t, model.LevelQuick, r.VettingLevel)
	assert.Equal(t, model.Approved, r.Recommendation)
	assert.Len(t, r.Stages, 3)

	reg, err := svc.Registry.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, reg.Dependencies)
}

func TestService_HistoryFailureIsNotFatal(t *testing.T) {
	svc, history := newService(t, allStages(100))
	history.SaveErr = errors.New("disk full")

	r, err := svc.Vet(context.Background(), newtonsoft, Options{})
	require.NoError(t, err)
	assert.True(t, r.Completed)
}

func TestService_VetAll(t *testing.T) {
	ctx := context.Background()
	svc, history := newService(t, allStages(90))

	pkgs := []model.Package{
		{Name: "Serilog", Version: "3.1.1", RegistrySource: "nuget"},
		{Name: "Dapper", Version: "2.1.35", RegistrySource: "nuget"},
	}
	results, err := svc.VetAll(ctx, pkgs, Options{Level: model.LevelBasic})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, model.ConditionallyApproved, results[0].Recommendation)
	assert.Len(t, history.Saved, 2)

	reg, err := svc.Registry.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, reg.Dependencies, 2)
}
