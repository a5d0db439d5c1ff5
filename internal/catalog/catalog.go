// Package catalog holds the specialization vocabulary and localized error
// messages.
//
// The catalog is a CUE document embedded at build time. Specializations live
// in two vocabularies: the internal id stored on training requests and the
// label used on trainer profiles. The mapping table in the catalog is the
// only authority for translating between them; eligibility and visibility
// checks must go through Matches rather than compare strings directly.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"golang.org/x/text/language"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/textnorm"
)

//go:embed catalog.cue
var catalogCUE string

// DefaultLocale is used when no requested locale matches.
const DefaultLocale = "en"

// Specialization is one row of the mapping table.
type Specialization struct {
	ID      string `json:"id"`
	Profile string `json:"profile"`
}

type document struct {
	Specializations []Specialization             `json:"specializations"`
	Messages        map[string]map[string]string `json:"messages"`
}

// Catalog is the loaded vocabulary. It is immutable and safe for concurrent use.
type Catalog struct {
	specs     []Specialization
	byID      map[string]Specialization
	byProfile map[string]Specialization // keyed by textnorm.Key(profile)

	messages map[string]map[string]string
	locales  []string
	matcher  language.Matcher
}

// Load parses the embedded catalog.
func Load() (*Catalog, error) {
	return Parse(catalogCUE)
}

// MustLoad is Load for package initialization and tests.
// Panics if the embedded catalog is invalid.
func MustLoad() *Catalog {
	c, err := Load()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse compiles a CUE catalog document and validates it.
func Parse(src string) (*Catalog, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("catalog.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile catalog: %w", err)
	}
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate catalog: %w", err)
	}

	var doc document
	if err := v.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return build(doc)
}

func build(doc document) (*Catalog, error) {
	c := &Catalog{
		specs:     doc.Specializations,
		byID:      make(map[string]Specialization, len(doc.Specializations)),
		byProfile: make(map[string]Specialization, len(doc.Specializations)),
		messages:  doc.Messages,
	}

	for _, s := range doc.Specializations {
		if _, dup := c.byID[s.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate specialization id %q", s.ID)
		}
		key := textnorm.Key(s.Profile)
		if _, dup := c.byProfile[key]; dup {
			return nil, fmt.Errorf("catalog: duplicate profile label %q", s.Profile)
		}
		c.byID[s.ID] = s
		c.byProfile[key] = s
	}

	if _, ok := doc.Messages[DefaultLocale]; !ok {
		return nil, fmt.Errorf("catalog: missing messages for default locale %q", DefaultLocale)
	}

	// Default locale first so the matcher falls back to it.
	c.locales = []string{DefaultLocale}
	var others []string
	for loc := range doc.Messages {
		if loc != DefaultLocale {
			others = append(others, loc)
		}
	}
	sort.Strings(others)
	c.locales = append(c.locales, others...)

	tags := make([]language.Tag, 0, len(c.locales))
	for _, loc := range c.locales {
		tag, err := language.Parse(loc)
		if err != nil {
			return nil, fmt.Errorf("catalog: locale %q: %w", loc, err)
		}
		tags = append(tags, tag)
	}
	c.matcher = language.NewMatcher(tags)

	return c, nil
}

// Specializations returns the mapping table in declaration order.
func (c *Catalog) Specializations() []Specialization {
	out := make([]Specialization, len(c.specs))
	copy(out, c.specs)
	return out
}

// Known reports whether id is an internal specialization id.
func (c *Catalog) Known(id string) bool {
	_, ok := c.byID[id]
	return ok
}

// ToProfile maps an internal id to its profile label.
func (c *Catalog) ToProfile(id string) (string, bool) {
	s, ok := c.byID[id]
	return s.Profile, ok
}

// FromProfile maps a profile label to its internal id.
// Labels are compared after normalization.
func (c *Catalog) FromProfile(label string) (string, bool) {
	s, ok := c.byProfile[textnorm.Key(label)]
	return s.ID, ok
}

// Internalize converts a profile-vocabulary set into internal ids.
// Entries already holding an internal id are kept; unknown labels are dropped.
func (c *Catalog) Internalize(profile domain.SpecSet) domain.SpecSet {
	out := make(domain.SpecSet, len(profile))
	for label := range profile {
		if id, ok := c.FromProfile(label); ok {
			out[id] = struct{}{}
			continue
		}
		if c.Known(label) {
			out[label] = struct{}{}
		}
	}
	return out
}

// Matches reports whether a trainer with the given profile specializations
// covers a request's internal specialization id.
func (c *Catalog) Matches(requestSpec string, profile domain.SpecSet) bool {
	if !c.Known(requestSpec) {
		return false
	}
	return c.Internalize(profile).Has(requestSpec)
}

// Locales lists the available message locales, default first.
func (c *Catalog) Locales() []string {
	out := make([]string, len(c.locales))
	copy(out, c.locales)
	return out
}

// Message returns the localized message for an error kind.
// accept is a locale or an Accept-Language header value.
func (c *Catalog) Message(kind domain.ErrorKind, accept string) string {
	loc := c.matchLocale(accept)
	if msg, ok := c.messages[loc][string(kind)]; ok {
		return msg
	}
	if msg, ok := c.messages[DefaultLocale][string(kind)]; ok {
		return msg
	}
	return string(kind)
}

func (c *Catalog) matchLocale(accept string) string {
	if accept == "" {
		return DefaultLocale
	}
	tags, _, err := language.ParseAcceptLanguage(accept)
	if err != nil || len(tags) == 0 {
		return DefaultLocale
	}
	_, idx, conf := c.matcher.Match(tags...)
	if conf == language.No {
		return DefaultLocale
	}
	return c.locales[idx]
}
