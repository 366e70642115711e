package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradescan/internal/model"
	"github.com/pavelanni/gradescan/internal/roster"
)

// SaveOutcome persists one submission outcome under its job.
func (s *Store) SaveOutcome(ctx context.Context, jobID, keyID string, oc model.SubmissionOutcome) error {
	payload, err := json.Marshal(oc)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}

	var entry, name string
	var total, maxScore float64
	if oc.Result != nil {
		// Index the canonical form so lookups do not depend on sheet formatting.
		entry = roster.NormalizeEntry(oc.Result.EntryNumber)
		if entry == "" {
			entry = oc.Result.EntryNumber
		}
		name = oc.Result.Name
		total = oc.CombinedTotal()
		maxScore = oc.Result.MaxScore
	}

	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO results (id, job_id, key_id, file_name, entry_number, student_name,
		                      status, reason, provider, total_score, max_score, outcome_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   job_id = excluded.job_id,
		   key_id = excluded.key_id,
		   status = excluded.status,
		   reason = excluded.reason,
		   provider = excluded.provider,
		   entry_number = excluded.entry_number,
		   student_name = excluded.student_name,
		   total_score = excluded.total_score,
		   max_score = excluded.max_score,
		   outcome_json = excluded.outcome_json`),
		oc.ID, jobID, keyID, oc.FileName, entry, name,
		string(oc.Status), oc.Reason, oc.Provider, total, maxScore,
		string(payload), time.Now().Unix(),
	)
	return err
}

// SaveBatch persists every outcome of a finished batch.
func (s *Store) SaveBatch(ctx context.Context, jobID, keyID string, summary model.BatchSummary) error {
	for _, oc := range summary.Outcomes {
		if err := s.SaveOutcome(ctx, jobID, keyID, oc); err != nil {
			return fmt.Errorf("save outcome %s: %w", oc.ID, err)
		}
	}
	return nil
}

// ListOutcomes returns the stored outcomes for a job, oldest first.
func (s *Store) ListOutcomes(ctx context.Context, jobID string) ([]model.SubmissionOutcome, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(
		`SELECT outcome_json FROM results WHERE job_id = ? ORDER BY created_at, id`), jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []model.SubmissionOutcome
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		var oc model.SubmissionOutcome
		if err := json.Unmarshal([]byte(payload), &oc); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
		outcomes = append(outcomes, oc)
	}
	return outcomes, rows.Err()
}

// GetOutcomeByEntry returns the newest outcome for an entry number. The
// argument is normalized the same way as at save time, so any formatting
// of the same entry finds the row.
func (s *Store) GetOutcomeByEntry(ctx context.Context, entryNumber string) (model.SubmissionOutcome, error) {
	if n := roster.NormalizeEntry(entryNumber); n != "" {
		entryNumber = n
	}
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT outcome_json FROM results WHERE entry_number = ? ORDER BY created_at DESC LIMIT 1`),
		entryNumber).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SubmissionOutcome{}, fmt.Errorf("entry %q: %w", entryNumber, ErrNotFound)
	}
	if err != nil {
		return model.SubmissionOutcome{}, err
	}
	var oc model.SubmissionOutcome
	if err := json.Unmarshal([]byte(payload), &oc); err != nil {
		return model.SubmissionOutcome{}, fmt.Errorf("unmarshal outcome: %w", err)
	}
	return oc, nil
}

// MarkProcessed records a file content hash so reruns can skip it.
func (s *Store) MarkProcessed(ctx context.Context, contentHash, fileName, jobID string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO processed_files (content_hash, file_name, job_id, created_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(content_hash) DO NOTHING`),
		contentHash, fileName, jobID, time.Now().Unix(),
	)
	return err
}

// IsProcessed reports whether a file content hash was seen before.
func (s *Store) IsProcessed(ctx context.Context, contentHash string) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT 1 FROM processed_files WHERE content_hash = ?`), contentHash).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}
