package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SpecSet is a set of specialization names in a single vocabulary.
//
// Profiles have historically stored specializations either as a bare string
// ("communication"), a comma separated string, a JSON array, or a JSON array
// encoded inside a string. SpecSet accepts all of these on decode and always
// encodes as a sorted JSON array.
type SpecSet map[string]struct{}

// NewSpecSet builds a set from names, skipping blanks.
func NewSpecSet(names ...string) SpecSet {
	s := make(SpecSet, len(names))
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n != "" {
			s[n] = struct{}{}
		}
	}
	return s
}

// ParseSpecSet decodes a raw stored specialization value.
func ParseSpecSet(raw string) (SpecSet, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return SpecSet{}, nil
	}
	if strings.HasPrefix(raw, "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, fmt.Errorf("parse specializations: %w", err)
		}
		return NewSpecSet(names...), nil
	}
	return NewSpecSet(strings.Split(raw, ",")...), nil
}

// Has reports whether name is in the set.
func (s SpecSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the members sorted.
func (s SpecSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted array.
func (s SpecSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Names())
}

// UnmarshalJSON accepts an array, a bare string, or a string holding an array.
func (s *SpecSet) UnmarshalJSON(data []byte) error {
	var names []string
	if err := json.Unmarshal(data, &names); err == nil {
		*s = NewSpecSet(names...)
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("specializations: expected array or string: %w", err)
	}
	parsed, err := ParseSpecSet(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
