package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for jobs, batch items and imported sources.
type Store struct {
	DB *sql.DB // Export for direct database access
}

// New opens (or creates) the database at path and ensures schema.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	s := &Store{DB: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS processing_jobs (
            id TEXT PRIMARY KEY,
            job_type TEXT NOT NULL,
            status TEXT NOT NULL,
            input_path TEXT,
            output_path TEXT,
            options_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_results (
            job_id TEXT,
            meta_json TEXT,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE TABLE IF NOT EXISTS batch_items (
            job_id TEXT NOT NULL,
            position INTEGER NOT NULL,
            source_name TEXT,
            status TEXT NOT NULL,
            output_name TEXT,
            input_bytes INTEGER,
            output_bytes INTEGER,
            width INTEGER,
            height INTEGER,
            error_message TEXT,
            PRIMARY KEY (job_id, position)
        );`,
		`CREATE TABLE IF NOT EXISTS sources (
            id TEXT PRIMARY KEY,
            name TEXT NOT NULL,
            mime TEXT,
            size INTEGER,
            origin TEXT,
            ingested_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_batch_items_status ON batch_items(status);`,
	}
	for _, stmt := range stmts {
		if _, err := s.DB.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying DB.
func (s *Store) Close() error {
	if s == nil || s.DB == nil {
		return nil
	}
	return s.DB.Close()
}

// JobRecord captures persisted job info.
type JobRecord struct {
	ID          string
	JobType     string
	Status      string
	InputPath   string
	OutputPath  string
	OptionsJSON string
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// BatchItemRecord is one persisted batch outcome.
type BatchItemRecord struct {
	JobID       string
	Position    int
	SourceName  string
	Status      string
	OutputName  string
	InputBytes  int64
	OutputBytes int64
	Width       int
	Height      int
	Error       string
}

// SourceRecord is one imported image.
type SourceRecord struct {
	ID         string
	Name       string
	MIME       string
	Size       int64
	Origin     string // upload, inbox, cli
	IngestedAt time.Time
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO processing_jobs (id, job_type, status, input_path, output_path, options_json) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.JobType, rec.Status, rec.InputPath, rec.OutputPath, rec.OptionsJSON)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job with status and meta.
func (s *Store) RecordJobResult(id string, status string, meta map[string]any, errMsg string) error {
	if s == nil {
		return nil
	}
	metaJSON, _ := json.Marshal(meta)
	_, err := s.DB.Exec(`UPDATE processing_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`, status, errMsg, id)
	if err != nil {
		return err
	}
	_, err = s.DB.Exec(`INSERT INTO job_results (job_id, meta_json) VALUES (?, ?);`, id, string(metaJSON))
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, job_type, status, input_path, output_path, options_json, created_at, started_at, completed_at, error_message FROM processing_jobs ORDER BY created_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var created time.Time
		var started, completed sql.NullTime
		var errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.JobType, &rec.Status, &rec.InputPath, &rec.OutputPath, &rec.OptionsJSON, &created, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		rec.CreatedAt = created
		if started.Valid {
			rec.StartedAt = &started.Time
		}
		if completed.Valid {
			rec.CompletedAt = &completed.Time
		}
		if errorMsg.Valid {
			rec.Error = errorMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

// JobMeta fetches the last meta blob for a job.
func (s *Store) JobMeta(id string) (map[string]any, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var metaJSON string
	err := s.DB.QueryRow(`SELECT meta_json FROM job_results WHERE job_id=? ORDER BY created_at DESC LIMIT 1;`, id).Scan(&metaJSON)
	if err != nil {
		return nil, err
	}
	var meta map[string]any
	if err := json.Unmarshal([]byte(metaJSON), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal meta: %w", err)
	}
	return meta, nil
}

// RecordBatchItem stores the outcome of one batch item.
func (s *Store) RecordBatchItem(rec BatchItemRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO batch_items (job_id, position, source_name, status, output_name, input_bytes, output_bytes, width, height, error_message)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.Position, rec.SourceName, rec.Status, rec.OutputName, rec.InputBytes, rec.OutputBytes, rec.Width, rec.Height, rec.Error)
	return err
}

// BatchItems returns the items of one batch job in input order.
func (s *Store) BatchItems(jobID string) ([]BatchItemRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, position, source_name, status, output_name, input_bytes, output_bytes, width, height, error_message FROM batch_items WHERE job_id=? ORDER BY position;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []BatchItemRecord
	for rows.Next() {
		var rec BatchItemRecord
		var errorMsg, outName sql.NullString
		if err := rows.Scan(&rec.JobID, &rec.Position, &rec.SourceName, &rec.Status, &outName, &rec.InputBytes, &rec.OutputBytes, &rec.Width, &rec.Height, &errorMsg); err != nil {
			return nil, err
		}
		rec.OutputName = outName.String
		rec.Error = errorMsg.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// BatchTotals sums input and output bytes of a batch job's finished items.
func (s *Store) BatchTotals(jobID string) (done, failed int, in, out int64, err error) {
	if s == nil {
		return 0, 0, 0, 0, errors.New("store not initialized")
	}
	err = s.DB.QueryRow(`SELECT
            COALESCE(SUM(CASE WHEN status='done' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END), 0),
            COALESCE(SUM(input_bytes), 0),
            COALESCE(SUM(output_bytes), 0)
        FROM batch_items WHERE job_id=?;`, jobID).Scan(&done, &failed, &in, &out)
	return done, failed, in, out, err
}

// RecordSource stores an imported image.
func (s *Store) RecordSource(rec SourceRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO sources (id, name, mime, size, origin) VALUES (?, ?, ?, ?, ?);`,
		rec.ID, rec.Name, rec.MIME, rec.Size, rec.Origin)
	return err
}

// DeleteSource forgets an imported image.
func (s *Store) DeleteSource(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`DELETE FROM sources WHERE id=?;`, id)
	return err
}

// RecentSources lists imports, newest first.
func (s *Store) RecentSources(limit int) ([]SourceRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, name, mime, size, origin, ingested_at FROM sources ORDER BY ingested_at DESC, rowid DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []SourceRecord
	for rows.Next() {
		var rec SourceRecord
		var mime, origin sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Name, &mime, &rec.Size, &origin, &rec.IngestedAt); err != nil {
			return nil, err
		}
		rec.MIME, rec.Origin = mime.String, origin.String
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}
