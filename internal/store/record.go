package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/roach88/trainflow/internal/domain"
)

// Table names.
const (
	TableRequests     = "training_requests"
	TableApplications = "trainer_applications"
	TableEvents       = "calendar_events"
	TableChannels     = "channels"
	TableMessages     = "messages"
	TableProfiles     = "trainer_profiles"
)

// Tables lists every table in a stable order.
var Tables = []string{
	TableRequests,
	TableApplications,
	TableEvents,
	TableChannels,
	TableMessages,
	TableProfiles,
}

// Store errors. Callers match with errors.Is.
var (
	ErrNotFound        = errors.New("record not found")
	ErrDuplicate       = errors.New("duplicate record")
	ErrConditionFailed = errors.New("condition not met")
	ErrUnavailable     = errors.New("backing store unavailable")
)

// Record is one stored JSON document.
type Record struct {
	Table   string          `json:"table"`
	ID      string          `json:"id"`
	Version int64           `json:"version"`
	Seq     int64           `json:"seq"`
	Data    json.RawMessage `json:"data"`
}

// Patch is a JSON merge patch (RFC 7396): keys are top-level fields,
// a nil value removes the field.
type Patch map[string]any

// CondOp is a predicate operator.
type CondOp string

const (
	OpEq      CondOp = "eq"
	OpNe      CondOp = "ne"
	OpIsNull  CondOp = "is_null"
	OpNotNull CondOp = "not_null"
	OpIn      CondOp = "in"
)

// Condition is a predicate on a top-level JSON field.
// A missing field and a JSON null are both null.
type Condition struct {
	Field  string
	Op     CondOp
	Value  any
	Values []any
}

// Filter is a conjunction of conditions. An empty filter matches everything.
type Filter []Condition

// Eq matches field == value.
func Eq(field string, value any) Condition {
	return Condition{Field: field, Op: OpEq, Value: value}
}

// Ne matches field != value. Null fields do not match.
func Ne(field string, value any) Condition {
	return Condition{Field: field, Op: OpNe, Value: value}
}

// IsNull matches a missing, null, or empty-string field.
func IsNull(field string) Condition {
	return Condition{Field: field, Op: OpIsNull}
}

// NotNull matches a present, non-null, non-empty field.
func NotNull(field string) Condition {
	return Condition{Field: field, Op: OpNotNull}
}

// In matches field equal to any of values.
func In(field string, values ...any) Condition {
	return Condition{Field: field, Op: OpIn, Values: values}
}

// Backend is the record store contract consumed by the workflow.
// *Store implements it; Gated wraps one to model connectivity loss.
type Backend interface {
	Create(ctx context.Context, table, id string, data any) (Record, error)
	Get(ctx context.Context, table, id string) (Record, error)
	Update(ctx context.Context, table, id string, patch Patch) (Record, error)
	UpdateIf(ctx context.Context, table, id string, cond Filter, patch Patch) (Record, error)
	UpdateWhere(ctx context.Context, table string, filter Filter, patch Patch) ([]Record, error)
	Delete(ctx context.Context, table, id string) error
	Query(ctx context.Context, table string, filter Filter) ([]Record, error)
	Subscribe(table string, pred func(Change) bool) *Subscription
}

var fieldPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// compileFilter converts a filter to a parameterized SQL fragment over the
// data column. JSON paths are bound as parameters, never interpolated.
func compileFilter(f Filter) (string, []any, error) {
	if len(f) == 0 {
		return "1=1", nil, nil
	}

	parts := make([]string, 0, len(f))
	var params []any
	for _, c := range f {
		if !fieldPattern.MatchString(c.Field) {
			return "", nil, fmt.Errorf("invalid field name %q", c.Field)
		}
		path := "$." + c.Field

		switch c.Op {
		case OpEq:
			parts = append(parts, "json_extract(data, ?) = ?")
			params = append(params, path, sqlValue(c.Value))
		case OpNe:
			parts = append(parts, "json_extract(data, ?) != ?")
			params = append(params, path, sqlValue(c.Value))
		case OpIsNull:
			parts = append(parts, "COALESCE(json_extract(data, ?), '') = ''")
			params = append(params, path)
		case OpNotNull:
			parts = append(parts, "COALESCE(json_extract(data, ?), '') != ''")
			params = append(params, path)
		case OpIn:
			if len(c.Values) == 0 {
				parts = append(parts, "0")
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(c.Values)), ", ")
			parts = append(parts, "json_extract(data, ?) IN ("+marks+")")
			params = append(params, path)
			for _, v := range c.Values {
				params = append(params, sqlValue(v))
			}
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
		}
	}

	return strings.Join(parts, " AND "), params, nil
}

// sqlValue maps Go values onto what json_extract returns for them.
// Named string types (statuses, roles) are bound as plain strings.
func sqlValue(v any) any {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
		return rv.String()
	}
	return v
}

// Decode unmarshals a record's data into T and copies the version onto it
// when T carries one.
func Decode[T any](rec Record) (T, error) {
	var out T
	if err := json.Unmarshal(rec.Data, &out); err != nil {
		return out, fmt.Errorf("decode %s/%s: %w", rec.Table, rec.ID, err)
	}
	if v, ok := any(&out).(interface{ SetVersion(int64) }); ok {
		v.SetVersion(rec.Version)
	}
	return out, nil
}

// DecodeAll decodes a slice of records.
func DecodeAll[T any](recs []Record) ([]T, error) {
	out := make([]T, 0, len(recs))
	for _, r := range recs {
		v, err := Decode[T](r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// DomainError maps store failures onto the domain taxonomy. what names the
// record for the message. Other errors pass through unchanged.
func DomainError(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNotFound):
		return domain.WrapError(domain.KindNotFound, what+" not found", err)
	case errors.Is(err, ErrUnavailable):
		return domain.WrapError(domain.KindNetworkUnavailable, "backing store unreachable", err)
	}
	return err
}
