package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"
)

// Create inserts a new record. data is marshaled to JSON.
// Returns ErrDuplicate if the id exists or a unique index rejects the row.
func (s *Store) Create(ctx context.Context, table, id string, data any) (Record, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Record{}, fmt.Errorf("create %s/%s: marshal: %w", table, id, err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	seq := s.nextSeq()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (tbl, id, data, version, seq)
		VALUES (?, ?, json(?), 1, ?)
	`, table, id, string(raw), seq)
	if err != nil {
		if isConstraint(err) {
			return Record{}, fmt.Errorf("create %s/%s: %w", table, id, ErrDuplicate)
		}
		return Record{}, fmt.Errorf("create %s/%s: %w", table, id, err)
	}

	rec, err := s.Get(ctx, table, id)
	if err != nil {
		return Record{}, err
	}
	s.hub.publish(Change{Table: table, Op: OpInsert, ID: id, Record: &rec, Seq: rec.Seq})
	return rec, nil
}

// Update merges patch into the record unconditionally.
func (s *Store) Update(ctx context.Context, table, id string, patch Patch) (Record, error) {
	return s.UpdateIf(ctx, table, id, nil, patch)
}

// UpdateIf merges patch into the record only if cond holds on the stored
// row. The check and the write are a single UPDATE statement, so two
// callers racing on the same condition cannot both succeed.
//
// Returns ErrNotFound when the row is missing and ErrConditionFailed when
// the row exists but cond does not hold.
func (s *Store) UpdateIf(ctx context.Context, table, id string, cond Filter, patch Patch) (Record, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: marshal: %w", table, id, err)
	}
	where, params, err := compileFilter(cond)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: begin: %w", table, id, err)
	}
	defer tx.Rollback()

	seq := s.nextSeq()
	args := append([]any{string(raw), seq, table, id}, params...)
	res, err := tx.ExecContext(ctx, `
		UPDATE records
		SET data = json_patch(data, ?), version = version + 1, seq = ?
		WHERE tbl = ? AND id = ? AND `+where, args...)
	if err != nil {
		if isConstraint(err) {
			return Record{}, fmt.Errorf("update %s/%s: %w", table, id, ErrDuplicate)
		}
		return Record{}, fmt.Errorf("update %s/%s: %w", table, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, fmt.Errorf("update %s/%s: rows affected: %w", table, id, err)
	}
	if n == 0 {
		if _, err := getRecord(ctx, tx, table, id); err != nil {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("update %s/%s: %w", table, id, ErrConditionFailed)
	}

	rec, err := getRecord(ctx, tx, table, id)
	if err != nil {
		return Record{}, err
	}
	if err := tx.Commit(); err != nil {
		return Record{}, fmt.Errorf("update %s/%s: commit: %w", table, id, err)
	}

	s.hub.publish(Change{Table: table, Op: OpUpdate, ID: id, Record: &rec, Seq: rec.Seq})
	return rec, nil
}

// UpdateWhere merges patch into every record of table matching filter and
// returns the updated records ordered by id.
func (s *Store) UpdateWhere(ctx context.Context, table string, filter Filter, patch Patch) ([]Record, error) {
	raw, err := json.Marshal(patch)
	if err != nil {
		return nil, fmt.Errorf("update %s: marshal: %w", table, err)
	}
	where, params, err := compileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("update %s: begin: %w", table, err)
	}
	defer tx.Rollback()

	ids, err := matchingIDs(ctx, tx, table, where, params)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []Record{}, nil
	}

	seq := s.nextSeq()
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ")
	args := []any{string(raw), seq, table}
	for _, id := range ids {
		args = append(args, id)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE records
		SET data = json_patch(data, ?), version = version + 1, seq = ?
		WHERE tbl = ? AND id IN (`+marks+`)`, args...); err != nil {
		return nil, fmt.Errorf("update %s: %w", table, err)
	}

	out := make([]Record, 0, len(ids))
	for _, id := range ids {
		rec, err := getRecord(ctx, tx, table, id)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("update %s: commit: %w", table, err)
	}

	for i := range out {
		rec := out[i]
		s.hub.publish(Change{Table: table, Op: OpUpdate, ID: rec.ID, Record: &rec, Seq: rec.Seq})
	}
	return out, nil
}

// Delete removes a record. Deleting a missing record returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, table, id string) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE tbl = ? AND id = ?`, table, id)
	if err != nil {
		return fmt.Errorf("delete %s/%s: %w", table, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete %s/%s: rows affected: %w", table, id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete %s/%s: %w", table, id, ErrNotFound)
	}

	s.hub.publish(Change{Table: table, Op: OpDelete, ID: id, Seq: s.nextSeq()})
	return nil
}

func matchingIDs(ctx context.Context, tx *sql.Tx, table, where string, params []any) ([]string, error) {
	args := append([]any{table}, params...)
	rows, err := tx.QueryContext(ctx, `
		SELECT id FROM records
		WHERE tbl = ? AND `+where+`
		ORDER BY id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan %s id: %w", table, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return ids, nil
}

func isConstraint(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint
	}
	return false
}
