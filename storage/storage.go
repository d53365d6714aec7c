package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"depvet/model"
)

var ErrNotFound = errors.New("record not found")

// timeFormat has a fixed width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

type Storage struct {
	DB *sql.DB
}

func (s *Storage) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS vetting_results (
		id TEXT PRIMARY KEY,
		system TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		level TEXT NOT NULL,
		overall_score REAL NOT NULL,
		overall_status TEXT NOT NULL,
		recommendation TEXT,
		risk_level TEXT,
		completed INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		result TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_vetting_name ON vetting_results(system, name, started_at);
	CREATE TABLE IF NOT EXISTS health_checks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		checked_at TEXT NOT NULL,
		score REAL NOT NULL,
		status TEXT NOT NULL,
		checks TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_health_name ON health_checks(name, checked_at);`
	_, err := s.DB.ExecContext(ctx, query)
	return err
}

const upsertVettingQuery = `
  INSERT INTO vetting_results (id, system, name, version, level, overall_score, overall_status,
    recommendation, risk_level, completed, started_at, finished_at, result)
  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
  ON CONFLICT(id)
  DO UPDATE SET
    overall_score = excluded.overall_score,
    overall_status = excluded.overall_status,
    recommendation = excluded.recommendation,
    risk_level = excluded.risk_level,
    completed = excluded.completed,
    finished_at = excluded.finished_at,
    result = excluded.result;
`

func (s *Storage) SaveVettingResult(ctx context.Context, r model.VettingResult) error {
	result, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode vetting result: %w", err)
	}

	var finished any
	if !r.EndTime.IsZero() {
		finished = r.EndTime.UTC().Format(timeFormat)
	}

	_, err = s.DB.ExecContext(ctx, upsertVettingQuery,
		r.ID,
		r.Package.RegistrySource,
		r.Package.Name,
		r.Package.Version,
		string(r.VettingLevel),
		r.OverallScore,
		string(r.OverallStatus),
		string(r.Recommendation),
		string(r.RiskLevel),
		r.Completed,
		r.StartTime.UTC().Format(timeFormat),
		finished,
		string(result),
	)
	return err
}

func (s *Storage) GetVettingResult(ctx context.Context, id string) (model.VettingResult, error) {
	return s.scanResult(s.DB.QueryRowContext(ctx,
		`SELECT result FROM vetting_results WHERE id=?`, id))
}

// GetLatestVetting returns the most recently started vetting of a package, any version.
func (s *Storage) GetLatestVetting(ctx context.Context, system, name string) (model.VettingResult, error) {
	return s.scanResult(s.DB.QueryRowContext(ctx,
		`SELECT result FROM vetting_results WHERE system=? AND name=? ORDER BY started_at DESC LIMIT 1`,
		system, name))
}

func (s *Storage) scanResult(row *sql.Row) (model.VettingResult, error) {
	var (
		raw string
		r   model.VettingResult
	)
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return r, ErrNotFound
		}
		return r, err
	}
	if err := json.Unmarshal([]byte(raw), &r); err != nil {
		return r, fmt.Errorf("failed to decode vetting result: %w", err)
	}
	return r, nil
}

func (s *Storage) ListVettingsFiltered(ctx context.Context, name string, minScore *float64) ([]VettingRecord, error) {
	query := `
		SELECT id, system, name, version, level, overall_score, overall_status,
		       recommendation, risk_level, completed, started_at, finished_at
		FROM vetting_results
		WHERE 1=1
	`
	var args []any

	if name != "" {
		query += " AND name LIKE ?"
		args = append(args, "%"+name+"%")
	}

	if minScore != nil {
		query += " AND overall_score >= ?"
		args = append(args, *minScore)
	}

	query += " ORDER BY started_at DESC, name"

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []VettingRecord
	for rows.Next() {
		var (
			v                   VettingRecord
			rec, risk, finished sql.NullString
			started             string
		)
		if err := rows.Scan(&v.ID, &v.System, &v.Name, &v.Version, &v.Level, &v.OverallScore, &v.OverallStatus,
			&rec, &risk, &v.Completed, &started, &finished); err != nil {
			return nil, err
		}
		v.Recommendation = rec.String
		v.RiskLevel = risk.String
		v.StartedAt, _ = time.Parse(timeFormat, started)
		if finished.Valid {
			if t, err := time.Parse(timeFormat, finished.String); err == nil {
				v.FinishedAt = &t
			}
		}
		list = append(list, v)
	}
	return list, rows.Err()
}

const insertHealthQuery = `
  INSERT INTO health_checks (name, version, checked_at, score, status, checks)
  VALUES (?, ?, ?, ?, ?, ?);
`

func (s *Storage) InsertHealthChecks(ctx context.Context, records []HealthRecord) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertHealthQuery)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		checks, err := json.Marshal(rec.Checks)
		if err != nil {
			return fmt.Errorf("failed to encode checks: %w", err)
		}
		if _, err := stmt.ExecContext(ctx,
			rec.Name,
			rec.Version,
			rec.CheckedAt.UTC().Format(timeFormat),
			rec.Score,
			rec.Status,
			string(checks),
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// ListHealthHistory returns the checks of one dependency, newest first. limit <= 0 means all.
func (s *Storage) ListHealthHistory(ctx context.Context, name string, limit int) ([]HealthRecord, error) {
	query := `
		SELECT name, version, checked_at, score, status, checks
		FROM health_checks
		WHERE name = ?
		ORDER BY checked_at DESC, id DESC
	`
	args := []any{name}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []HealthRecord
	for rows.Next() {
		var (
			h       HealthRecord
			checked string
			checks  sql.NullString
		)
		if err := rows.Scan(&h.Name, &h.Version, &checked, &h.Score, &h.Status, &checks); err != nil {
			return nil, err
		}
		h.CheckedAt, _ = time.Parse(timeFormat, checked)
		if checks.Valid && checks.String != "" && checks.String != "null" {
			if err := json.Unmarshal([]byte(checks.String), &h.Checks); err != nil {
				return nil, fmt.Errorf("failed to decode checks: %w", err)
			}
		}
		list = append(list, h)
	}
	return list, rows.Err()
}

func (s *Storage) DeleteVetting(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM vetting_results WHERE id=?`, id)
	return err
}
