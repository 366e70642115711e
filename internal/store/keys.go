package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/pavelanni/gradescan/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// SaveKey persists an answer key under the given ID, replacing any
// previous key with the same ID.
func (s *Store) SaveKey(ctx context.Context, id string, key model.AnswerKey) error {
	payload, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.rebind(
		`INSERT INTO answer_keys (id, source_file, total_questions, negative_marking, key_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   source_file = excluded.source_file,
		   total_questions = excluded.total_questions,
		   negative_marking = excluded.negative_marking,
		   key_json = excluded.key_json,
		   created_at = excluded.created_at`),
		id, key.Metadata.SourceFile, key.TotalQuestions, key.NegativeMarking,
		string(payload), time.Now().Unix(),
	)
	return err
}

// GetKey loads an answer key by ID.
func (s *Store) GetKey(ctx context.Context, id string) (model.AnswerKey, error) {
	var payload string
	err := s.db.QueryRowContext(ctx, s.rebind(
		`SELECT key_json FROM answer_keys WHERE id = ?`), id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return model.AnswerKey{}, fmt.Errorf("answer key %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.AnswerKey{}, err
	}
	var key model.AnswerKey
	if err := json.Unmarshal([]byte(payload), &key); err != nil {
		return model.AnswerKey{}, fmt.Errorf("unmarshal answer key %q: %w", id, err)
	}
	return key, nil
}

// LatestKeyID returns the most recently stored answer key ID.
func (s *Store) LatestKeyID(ctx context.Context) (string, error) {
	var id string
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM answer_keys ORDER BY created_at DESC, id DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no answer keys stored: %w", ErrNotFound)
	}
	return id, err
}
