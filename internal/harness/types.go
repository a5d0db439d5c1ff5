package harness

import (
	"fmt"
	"sort"
	"strings"
)

// Outcomes other than a domain error kind.
const (
	OutcomeOK     = "ok"
	OutcomeQueued = "queued"
	OutcomeError  = "error"
)

// TraceEvent is one executed step, or one offline change lost during a
// drain (Op "lost").
type TraceEvent struct {
	Step    int            `json:"step"`
	Op      string         `json:"op"`
	Actor   string         `json:"actor,omitempty"`
	Outcome string         `json:"outcome"`
	Result  map[string]any `json:"result,omitempty"`
}

// String renders the event on one line with result keys sorted.
func (e TraceEvent) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%02d %s", e.Step, e.Op)
	if e.Actor != "" {
		fmt.Fprintf(&b, " %s", e.Actor)
	}
	fmt.Fprintf(&b, " -> %s", e.Outcome)
	if len(e.Result) > 0 {
		keys := make([]string, 0, len(e.Result))
		for k := range e.Result {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, e.Result[k])
		}
		fmt.Fprintf(&b, " {%s}", strings.Join(parts, " "))
	}
	return b.String()
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step matched its expected outcome and
	// every assertion held.
	Pass   bool         `json:"pass"`
	Trace  []TraceEvent `json:"trace"`
	Errors []string     `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) record(e TraceEvent) {
	r.Trace = append(r.Trace, e)
}
