package store

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/trainflow/internal/domain"
)

// LoadActions returns the persisted offline queue in FIFO order.
// Returns an empty slice (not nil) when the journal is empty.
func (s *Store) LoadActions(ctx context.Context) ([]domain.OfflineAction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, type, payload, enqueued_at, retry_count, max_retries, last_error
		FROM offline_actions
		ORDER BY position ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load actions: %w", err)
	}
	defer rows.Close()

	out := []domain.OfflineAction{}
	for rows.Next() {
		var (
			a          domain.OfflineAction
			typ        string
			payload    string
			enqueuedAt string
		)
		if err := rows.Scan(&a.ID, &typ, &payload, &enqueuedAt, &a.RetryCount, &a.MaxRetries, &a.LastError); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Type = domain.ActionType(typ)
		a.Payload = []byte(payload)
		a.EnqueuedAt, err = time.Parse(time.RFC3339Nano, enqueuedAt)
		if err != nil {
			return nil, fmt.Errorf("action %s: parse enqueued_at: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate actions: %w", err)
	}
	return out, nil
}

// SaveActions replaces the persisted queue with actions, in order.
// The replacement is atomic: a crash leaves either the old or new queue.
func (s *Store) SaveActions(ctx context.Context, actions []domain.OfflineAction) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("save actions: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM offline_actions`); err != nil {
		return fmt.Errorf("save actions: clear: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO offline_actions
		(position, id, type, payload, enqueued_at, retry_count, max_retries, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("save actions: prepare: %w", err)
	}
	defer stmt.Close()

	for i, a := range actions {
		payload := string(a.Payload)
		if payload == "" {
			payload = "null"
		}
		if _, err := stmt.ExecContext(ctx,
			i,
			a.ID,
			string(a.Type),
			payload,
			a.EnqueuedAt.UTC().Format(time.RFC3339Nano),
			a.RetryCount,
			a.MaxRetries,
			a.LastError,
		); err != nil {
			return fmt.Errorf("save actions: insert %s: %w", a.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("save actions: commit: %w", err)
	}
	return nil
}
