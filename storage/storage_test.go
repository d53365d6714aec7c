package storage_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"depvet/model"
	"depvet/storage"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) (*sql.DB, *storage.Storage) {
	db, err := sql.Open("sqlite3", ":memory:")
	assert.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	store := &storage.Storage{DB: db}
	err = store.InitSchema(context.Background())
	assert.NoError(t, err)

	return db, store
}

func vetting(id, name string, score float64, start time.Time) model.VettingResult {
	return model.VettingResult{
		ID:             id,
		Package:        model.Package{Name: name, Version: "1.0.0", RegistrySource: "nuget"},
		VettingLevel:   model.LevelStandard,
		Stages:         map[model.StageName]model.StageResult{model.StageLicense: {Stage: model.StageLicense, Score: model.Score(score), Status: model.StagePassed}},
		OverallScore:   score,
		OverallStatus:  model.OverallPassed,
		Recommendation: model.Approved,
		RiskLevel:      model.RiskLow,
		Completed:      true,
		StartTime:      start,
		EndTime:        start.Add(time.Second),
	}
}

func TestSaveAndGetVettingResult(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	r := vetting("run-1", "Newtonsoft.Json", 100, start)
	require.NoError(t, store.SaveVettingResult(ctx, r))

	got, err := store.GetVettingResult(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, r.Package, got.Package)
	assert.Equal(t, model.Approved, got.Recommendation)
	require.Contains(t, got.Stages, model.StageLicense)
	assert.Equal(t, 100.0, *got.Stages[model.StageLicense].Score)

	_, err = store.GetVettingResult(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestSaveVettingResult_Upsert(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()

	r := vetting("run-1", "Serilog", 50, time.Now())
	r.Completed = false
	r.OverallStatus = model.OverallPending
	require.NoError(t, store.SaveVettingResult(ctx, r))

	r.Completed = true
	r.OverallScore = 90
	require.NoError(t, store.SaveVettingResult(ctx, r))

	list, err := store.ListVettingsFiltered(ctx, "", nil)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, list[0].Completed)
	assert.Equal(t, 90.0, list[0].OverallScore)
}

func TestGetLatestVetting(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveVettingResult(ctx, vetting("old", "Dapper", 70, base)))
	require.NoError(t, store.SaveVettingResult(ctx, vetting("new", "Dapper", 96, base.Add(time.Hour))))

	got, err := store.GetLatestVetting(ctx, "nuget", "Dapper")
	require.NoError(t, err)
	assert.Equal(t, "new", got.ID)

	_, err = store.GetLatestVetting(ctx, "npm", "Dapper")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestListVettings(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()
	now := time.Now()

	assert.NoError(t, store.SaveVettingResult(ctx, vetting("1", "Newtonsoft.Json", 97, now)))
	assert.NoError(t, store.SaveVettingResult(ctx, vetting("2", "Serilog", 72, now)))

	t.Run("list all", func(t *testing.T) {
		list, err := store.ListVettingsFiltered(ctx, "", nil)
		assert.NoError(t, err)
		assert.Len(t, list, 2)
	})

	t.Run("filter by name", func(t *testing.T) {
		list, err := store.ListVettingsFiltered(ctx, "Serilog", nil)
		assert.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, "Serilog", list[0].Name)
	})

	t.Run("filter by min_score", func(t *testing.T) {
		min := 80.0
		list, err := store.ListVettingsFiltered(ctx, "", &min)
		assert.NoError(t, err)
		assert.Len(t, list, 1)
		assert.Equal(t, "Newtonsoft.Json", list[0].Name)
		assert.NotNil(t, list[0].FinishedAt)
	})

	t.Run("no match for filters", func(t *testing.T) {
		min := 99.0
		list, err := store.ListVettingsFiltered(ctx, "nonexistent", &min)
		assert.NoError(t, err)
		assert.Len(t, list, 0)
	})
}

func TestDeleteVetting(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()

	assert.NoError(t, store.SaveVettingResult(ctx, vetting("1", "vue", 90, time.Now())))
	assert.NoError(t, store.DeleteVetting(ctx, "1"))

	_, err := store.GetVettingResult(ctx, "1")
	assert.Error(t, err)
}

func TestHealthHistory(t *testing.T) {
	_, store := setupTestDB(t)
	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	records := []storage.HealthRecord{
		{Name: "Serilog", Version: "3.1.1", CheckedAt: base, Score: 90, Status: "healthy", Checks: map[string]float64{"security": 100}},
		{Name: "Serilog", Version: "3.1.1", CheckedAt: base.Add(7 * 24 * time.Hour), Score: 55, Status: "critical"},
		{Name: "Dapper", Version: "2.1.35", CheckedAt: base, Score: 88, Status: "healthy"},
	}
	require.NoError(t, store.InsertHealthChecks(ctx, records))

	list, err := store.ListHealthHistory(ctx, "Serilog", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "critical", list[0].Status)
	assert.Equal(t, 100.0, list[1].Checks["security"])
	assert.True(t, list[1].CheckedAt.Equal(base))

	limited, err := store.ListHealthHistory(ctx, "Serilog", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
