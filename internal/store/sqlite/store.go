package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

type Store struct {
	db *sql.DB
}

type RunRecord struct {
	RunID          string `json:"runId"`
	ManifestDigest string `json:"manifestDigest"`
	EnvironmentDir string `json:"environmentDir"`
	Status         string `json:"status"`
	StartedAt      string `json:"startedAt"`
	EndedAt        string `json:"endedAt,omitempty"`
	FailedStep     string `json:"failedStep,omitempty"`
	LastError      string `json:"lastError,omitempty"`
}

type StepRecord struct {
	RunID     string `json:"runId"`
	Seq       int    `json:"seq"`
	Name      string `json:"name"`
	Status    string `json:"status"`
	StartedAt string `json:"startedAt"`
	EndedAt   string `json:"endedAt,omitempty"`
	Error     string `json:"error,omitempty"`
}

func Open(stateDir string) (*Store, error) {
	if stateDir == "" {
		stateDir = ".docbot"
	}
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, err
	}
	dbPath := filepath.Join(stateDir, "state.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS provision_runs (
			run_id TEXT PRIMARY KEY,
			manifest_digest TEXT NOT NULL,
			environment_dir TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			failed_step TEXT,
			last_error TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS provision_steps (
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			ended_at TEXT,
			error TEXT,
			PRIMARY KEY(run_id, seq),
			FOREIGN KEY(run_id) REFERENCES provision_runs(run_id)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertRun(r RunRecord) error {
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	_, err := s.db.Exec(
		`INSERT INTO provision_runs (run_id, manifest_digest, environment_dir, status, started_at, ended_at, failed_step, last_error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.ManifestDigest, r.EnvironmentDir, r.Status, r.StartedAt,
		nullableString(r.EndedAt), nullableString(r.FailedStep), nullableString(r.LastError),
	)
	return err
}

func (s *Store) CompleteRun(runID, status, failedStep, lastError string) error {
	_, err := s.db.Exec(
		`UPDATE provision_runs SET status = ?, ended_at = ?, failed_step = ?, last_error = ? WHERE run_id = ?`,
		status, now(), nullableString(failedStep), nullableString(lastError), runID,
	)
	return err
}

func (s *Store) InsertStep(r StepRecord) error {
	if r.StartedAt == "" {
		r.StartedAt = now()
	}
	_, err := s.db.Exec(
		`INSERT INTO provision_steps (run_id, seq, name, status, started_at, ended_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Seq, r.Name, r.Status, r.StartedAt, nullableString(r.EndedAt), nullableString(r.Error),
	)
	return err
}

func (s *Store) CompleteStep(runID string, seq int, status, stepErr string) error {
	_, err := s.db.Exec(
		`UPDATE provision_steps SET status = ?, ended_at = ?, error = ? WHERE run_id = ? AND seq = ?`,
		status, now(), nullableString(stepErr), runID, seq,
	)
	return err
}

func (s *Store) GetRun(runID string) (RunRecord, error) {
	row := s.db.QueryRow(`SELECT run_id, manifest_digest, environment_dir, status, started_at, COALESCE(ended_at,''), COALESCE(failed_step,''), COALESCE(last_error,'')
		FROM provision_runs WHERE run_id = ?`, runID)
	var r RunRecord
	if err := row.Scan(&r.RunID, &r.ManifestDigest, &r.EnvironmentDir, &r.Status, &r.StartedAt, &r.EndedAt, &r.FailedStep, &r.LastError); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RunRecord{}, fmt.Errorf("run not found: %s", runID)
		}
		return RunRecord{}, err
	}
	return r, nil
}

func (s *Store) ListRuns(limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(`SELECT run_id, manifest_digest, environment_dir, status, started_at, COALESCE(ended_at,''), COALESCE(failed_step,''), COALESCE(last_error,'')
		FROM provision_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]RunRecord, 0)
	for rows.Next() {
		var r RunRecord
		if err := rows.Scan(&r.RunID, &r.ManifestDigest, &r.EnvironmentDir, &r.Status, &r.StartedAt, &r.EndedAt, &r.FailedStep, &r.LastError); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ListSteps(runID string) ([]StepRecord, error) {
	rows, err := s.db.Query(`SELECT run_id, seq, name, status, started_at, COALESCE(ended_at,''), COALESCE(error,'')
		FROM provision_steps WHERE run_id = ? ORDER BY seq ASC`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StepRecord, 0)
	for rows.Next() {
		var r StepRecord
		if err := rows.Scan(&r.RunID, &r.Seq, &r.Name, &r.Status, &r.StartedAt, &r.EndedAt, &r.Error); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// RunTotals summarizes finished runs. Rows still marked running are left out.
type RunTotals struct {
	ByStatus    map[string]int
	LastSuccess time.Time
}

func (s *Store) RunTotals() (RunTotals, error) {
	rows, err := s.db.Query(`SELECT status, COALESCE(ended_at, started_at) FROM provision_runs WHERE status != ?`, StatusRunning)
	if err != nil {
		return RunTotals{}, err
	}
	defer rows.Close()

	out := RunTotals{ByStatus: map[string]int{}}
	for rows.Next() {
		var status, at string
		if err := rows.Scan(&status, &at); err != nil {
			return RunTotals{}, err
		}
		out.ByStatus[status]++
		if status != StatusSucceeded {
			continue
		}
		if ts, err := time.Parse(time.RFC3339Nano, at); err == nil && ts.After(out.LastSuccess) {
			out.LastSuccess = ts
		}
	}
	if err := rows.Err(); err != nil {
		return RunTotals{}, err
	}
	return out, nil
}

type StepTotal struct {
	Name   string
	Status string
	Count  int
}

// StepTotals counts finished steps across all runs by name and status.
func (s *Store) StepTotals() ([]StepTotal, error) {
	rows, err := s.db.Query(`SELECT name, status, COUNT(*) FROM provision_steps WHERE status != ? GROUP BY name, status ORDER BY name, status`, StatusRunning)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]StepTotal, 0)
	for rows.Next() {
		var t StepTotal
		if err := rows.Scan(&t.Name, &t.Status, &t.Count); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func now() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}

func nullableString(v string) any {
	if v == "" {
		return nil
	}
	return v
}
