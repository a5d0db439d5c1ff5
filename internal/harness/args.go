package harness

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/trainflow/internal/conflict"
	"github.com/roach88/trainflow/internal/domain"
)

// argMap reads YAML-decoded step arguments. Missing keys read as zero
// values.
type argMap map[string]any

func (a argMap) has(key string) bool {
	_, ok := a[key]
	return ok
}

func (a argMap) str(key string) string {
	switch v := a[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}

func (a argMap) int(key string) int {
	switch v := a[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func (a argMap) bool(key string) bool {
	v, _ := a[key].(bool)
	return v
}

func (a argMap) strs(key string) []string {
	switch v := a[key].(type) {
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case []string:
		return v
	case string:
		return []string{v}
	}
	return nil
}

// time accepts RFC 3339 strings and YAML timestamps. A missing key is the
// zero time.
func (a argMap) time(key string) (time.Time, error) {
	switch v := a[key].(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return v, nil
	case string:
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, domain.WrapError(domain.KindValidation, "bad "+key, err)
		}
		return t, nil
	}
	return time.Time{}, domain.NewError(domain.KindValidation, fmt.Sprintf("bad %s: %v", key, a[key]))
}

func (a argMap) proposal() (conflict.Proposal, error) {
	start, err := a.time("start")
	if err != nil {
		return conflict.Proposal{}, err
	}
	end, err := a.time("end")
	if err != nil {
		return conflict.Proposal{}, err
	}
	return conflict.Proposal{
		Start:     start,
		End:       end,
		Location:  a.str("location"),
		Attendees: a.strs("attendees"),
	}, nil
}

// reportSummary renders a conflict report as "kind/severity@event" entries.
func reportSummary(r conflict.Report) map[string]any {
	entries := make([]string, len(r))
	for i, e := range r {
		entries[i] = fmt.Sprintf("%s/%s@%s", e.Kind, e.Severity, e.EventID)
	}
	conflicts := "none"
	if len(entries) > 0 {
		conflicts = strings.Join(entries, ",")
	}
	return map[string]any{
		"conflicts": conflicts,
		"blocking":  r.HasBlocking(),
	}
}
