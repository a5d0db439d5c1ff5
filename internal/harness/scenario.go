package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Scenario is an end-to-end workflow run against a fresh store.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Flow steps run in order. Each step's outcome is checked against
	// Expect when set.
	Flow []Step `yaml:"flow"`

	// Assertions validate the final trace, store, and queue.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one operation. As and Role identify the actor; connectivity
// and drain steps take neither.
type Step struct {
	Op   string         `yaml:"op"`
	As   string         `yaml:"as,omitempty"`
	Role string         `yaml:"role,omitempty"`
	Args map[string]any `yaml:"args,omitempty"`

	// Expect is "ok", "queued", or a domain error kind such as
	// ALREADY_ASSIGNED. Empty means "ok".
	Expect string `yaml:"expect,omitempty"`
}

// Step operations.
const (
	OpCreateRequest = "create_request"
	OpEditRequest   = "edit_request"
	OpTransition    = "transition"
	OpApply         = "apply"
	OpSelect        = "select"
	OpReject        = "reject"
	OpProfile       = "profile"
	OpScheduleEvent = "schedule_event"
	OpCheckConflict = "check_conflicts"
	OpSendMessage   = "send_message"
	OpOffline       = "offline"
	OpOnline        = "online"
	OpDrain         = "drain"
)

var actorOps = map[string]bool{
	OpCreateRequest: true,
	OpEditRequest:   true,
	OpTransition:    true,
	OpApply:         true,
	OpSelect:        true,
	OpReject:        true,
	OpProfile:       true,
	OpScheduleEvent: true,
	OpSendMessage:   true,
}

var knownOps = map[string]bool{
	OpCheckConflict: true,
	OpOffline:       true,
	OpOnline:        true,
	OpDrain:         true,
}

// Assertion validates the trace or final state.
type Assertion struct {
	// Type is one of trace_contains, trace_order, trace_count,
	// final_state, queue_length.
	Type string `yaml:"type"`

	// Op and Outcome select trace events (trace_contains, trace_count).
	Op      string `yaml:"op,omitempty"`
	Outcome string `yaml:"outcome,omitempty"`

	// Result is a subset match on the event result (trace_contains).
	Result map[string]any `yaml:"result,omitempty"`

	// Ops is the expected order (trace_order).
	Ops []string `yaml:"ops,omitempty"`

	// Count is the expected number of events or queued actions
	// (trace_count, queue_length).
	Count int `yaml:"count,omitempty"`

	// Table, ID, and Expect select a stored record and the fields it
	// must carry (final_state).
	Table  string         `yaml:"table,omitempty"`
	ID     string         `yaml:"id,omitempty"`
	Expect map[string]any `yaml:"expect,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertQueueLength   = "queue_length"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario decodes and validates a scenario document.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for i, step := range s.Flow {
		switch {
		case step.Op == "":
			return fmt.Errorf("flow[%d]: op is required", i)
		case actorOps[step.Op]:
			if step.Role == "" {
				return fmt.Errorf("flow[%d]: role is required for %s", i, step.Op)
			}
		case knownOps[step.Op]:
		default:
			return fmt.Errorf("flow[%d]: unknown op %q", i, step.Op)
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Ops) == 0 {
			return fmt.Errorf("assertions[%d]: ops list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Op == "" {
			return fmt.Errorf("assertions[%d]: op is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Table == "" || a.ID == "" {
			return fmt.Errorf("assertions[%d]: table and id are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertQueueLength:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for queue_length", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
