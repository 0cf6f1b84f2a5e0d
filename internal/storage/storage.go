// Package storage persists alignment job history in SQLite.
package storage

import (
	"database/sql"
	"errors"
	"time"

	_ "modernc.org/sqlite"
)

// Store wraps SQLite-backed persistence for alignment jobs.
type Store struct {
	DB *sql.DB
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
		`CREATE TABLE IF NOT EXISTS alignment_jobs (
            id TEXT PRIMARY KEY,
            status TEXT NOT NULL,
            rgb_path TEXT,
            output_path TEXT,
            tile_path TEXT,
            fits_count INTEGER,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
            started_at TIMESTAMP,
            completed_at TIMESTAMP,
            error_message TEXT
        );`,
		`CREATE TABLE IF NOT EXISTS job_inputs (
            job_id TEXT NOT NULL,
            input_index INTEGER NOT NULL,
            fits_path TEXT,
            status TEXT,
            error_message TEXT,
            matches INTEGER,
            residual_pix REAL,
            PRIMARY KEY (job_id, input_index)
        );`,
		`CREATE TABLE IF NOT EXISTS solutions (
            job_id TEXT PRIMARY KEY,
            input_index INTEGER,
            ref_ra REAL,
            ref_dec REAL,
            crpix1 REAL,
            crpix2 REAL,
            cd11 REAL, cd12 REAL, cd21 REAL, cd22 REAL,
            matches INTEGER,
            residual_pix REAL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`,
		`CREATE INDEX IF NOT EXISTS idx_job_inputs_job ON job_inputs(job_id);`,
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
	Status      string
	RGBPath     string
	OutputPath  string
	TilePath    string
	FITSCount   int
	Error       string
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// InputRecord captures the outcome for one FITS input of a job.
type InputRecord struct {
	JobID       string
	InputIndex  int
	FITSPath    string
	Status      string
	Error       string
	Matches     int
	ResidualPix float64
}

// SolutionRecord captures the selected astrometric solution.
type SolutionRecord struct {
	JobID       string
	InputIndex  int
	RefRA       float64
	RefDec      float64
	CRPix1      float64
	CRPix2      float64
	CD          [2][2]float64
	Matches     int
	ResidualPix float64
}

// RecordJobQueued inserts a pending job.
func (s *Store) RecordJobQueued(rec JobRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO alignment_jobs (id, status, rgb_path, output_path, tile_path, fits_count) VALUES (?, ?, ?, ?, ?, ?);`,
		rec.ID, rec.Status, rec.RGBPath, rec.OutputPath, rec.TilePath, rec.FITSCount)
	return err
}

// RecordJobStart marks a job as running.
func (s *Store) RecordJobStart(id string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE alignment_jobs SET status='running', started_at=CURRENT_TIMESTAMP WHERE id=?;`, id)
	return err
}

// RecordJobResult finalizes a job.
func (s *Store) RecordJobResult(id string, status string, errMsg string) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`UPDATE alignment_jobs SET status=?, completed_at=CURRENT_TIMESTAMP, error_message=? WHERE id=?;`,
		status, errMsg, id)
	return err
}

// RecordInputOutcome upserts the per-input outcome row.
func (s *Store) RecordInputOutcome(rec InputRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO job_inputs (job_id, input_index, fits_path, status, error_message, matches, residual_pix) VALUES (?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.InputIndex, rec.FITSPath, rec.Status, rec.Error, rec.Matches, rec.ResidualPix)
	return err
}

// RecordSolution stores the winning solution for a job.
func (s *Store) RecordSolution(rec SolutionRecord) error {
	if s == nil {
		return nil
	}
	_, err := s.DB.Exec(`INSERT OR REPLACE INTO solutions (job_id, input_index, ref_ra, ref_dec, crpix1, crpix2, cd11, cd12, cd21, cd22, matches, residual_pix)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`,
		rec.JobID, rec.InputIndex, rec.RefRA, rec.RefDec, rec.CRPix1, rec.CRPix2,
		rec.CD[0][0], rec.CD[0][1], rec.CD[1][0], rec.CD[1][1], rec.Matches, rec.ResidualPix)
	return err
}

// RecentJobs returns the latest jobs up to limit.
func (s *Store) RecentJobs(limit int) ([]JobRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT id, status, rgb_path, output_path, tile_path, fits_count, created_at, started_at, completed_at, error_message FROM alignment_jobs ORDER BY created_at DESC, id DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []JobRecord
	for rows.Next() {
		var rec JobRecord
		var started, completed sql.NullTime
		var tilePath, errorMsg sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Status, &rec.RGBPath, &rec.OutputPath, &tilePath, &rec.FITSCount, &rec.CreatedAt, &started, &completed, &errorMsg); err != nil {
			return nil, err
		}
		if tilePath.Valid {
			rec.TilePath = tilePath.String
		}
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
	return recs, rows.Err()
}

// JobInputs returns the per-input outcomes for one job in input order.
func (s *Store) JobInputs(jobID string) ([]InputRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	rows, err := s.DB.Query(`SELECT job_id, input_index, fits_path, status, error_message, matches, residual_pix FROM job_inputs WHERE job_id=? ORDER BY input_index;`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []InputRecord
	for rows.Next() {
		var rec InputRecord
		var errMsg sql.NullString
		if err := rows.Scan(&rec.JobID, &rec.InputIndex, &rec.FITSPath, &rec.Status, &errMsg, &rec.Matches, &rec.ResidualPix); err != nil {
			return nil, err
		}
		if errMsg.Valid {
			rec.Error = errMsg.String
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Solution fetches the stored solution for a job, if any.
func (s *Store) Solution(jobID string) (*SolutionRecord, error) {
	if s == nil {
		return nil, errors.New("store not initialized")
	}
	var rec SolutionRecord
	err := s.DB.QueryRow(`SELECT job_id, input_index, ref_ra, ref_dec, crpix1, crpix2, cd11, cd12, cd21, cd22, matches, residual_pix FROM solutions WHERE job_id=?;`, jobID).
		Scan(&rec.JobID, &rec.InputIndex, &rec.RefRA, &rec.RefDec, &rec.CRPix1, &rec.CRPix2,
			&rec.CD[0][0], &rec.CD[0][1], &rec.CD[1][0], &rec.CD[1][1], &rec.Matches, &rec.ResidualPix)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}
