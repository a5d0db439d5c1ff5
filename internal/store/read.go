package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// queryer is satisfied by *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Get returns one record or ErrNotFound.
func (s *Store) Get(ctx context.Context, table, id string) (Record, error) {
	return getRecord(ctx, s.db, table, id)
}

// Query returns every record in table matching filter.
// Results are ordered deterministically: ORDER BY seq ASC, id COLLATE BINARY ASC.
//
// Returns an empty slice (not nil) if nothing matches.
func (s *Store) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	where, params, err := compileFilter(filter)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}

	args := append([]any{table}, params...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT tbl, id, data, version, seq
		FROM records
		WHERE tbl = ? AND `+where+`
		ORDER BY seq ASC, id COLLATE BINARY ASC
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	out := []Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

func getRecord(ctx context.Context, q queryer, table, id string) (Record, error) {
	row := q.QueryRowContext(ctx, `
		SELECT tbl, id, data, version, seq
		FROM records
		WHERE tbl = ? AND id = ?
	`, table, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, fmt.Errorf("get %s/%s: %w", table, id, ErrNotFound)
	}
	if err != nil {
		return Record{}, fmt.Errorf("get %s/%s: %w", table, id, err)
	}
	return rec, nil
}

// scanner abstracts *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (Record, error) {
	var (
		rec  Record
		data string
	)
	if err := sc.Scan(&rec.Table, &rec.ID, &data, &rec.Version, &rec.Seq); err != nil {
		return Record{}, err
	}
	rec.Data = []byte(data)
	return rec, nil
}
