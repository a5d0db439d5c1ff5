// Package local holds the client's in-memory view of remote records.
//
// Every mutation, whether it comes from a direct online write, an
// optimistic offline apply, or the change feed, goes through State.Apply,
// which holds a single writer lock. Readers see a consistent snapshot.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/store"
)

// Keyed is implemented by every record kept in a collection.
type Keyed interface {
	RecordID() string
}

// Collection is an id-keyed set that preserves first-insertion order.
// It is not safe for concurrent use on its own; State serializes access.
type Collection[T Keyed] struct {
	items map[string]T
	order []string
}

// NewCollection returns an empty collection.
func NewCollection[T Keyed]() *Collection[T] {
	return &Collection[T]{items: make(map[string]T)}
}

// Insert adds v if no entry with its id exists. Reports whether it added.
func (c *Collection[T]) Insert(v T) bool {
	id := v.RecordID()
	if _, ok := c.items[id]; ok {
		return false
	}
	c.items[id] = v
	c.order = append(c.order, id)
	return true
}

// Put inserts or replaces v.
func (c *Collection[T]) Put(v T) {
	if !c.Insert(v) {
		c.items[v.RecordID()] = v
	}
}

// Remove deletes the entry with id. Reports whether it existed.
func (c *Collection[T]) Remove(id string) bool {
	if _, ok := c.items[id]; !ok {
		return false
	}
	delete(c.items, id)
	for i, k := range c.order {
		if k == id {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the entry with id.
func (c *Collection[T]) Get(id string) (T, bool) {
	v, ok := c.items[id]
	return v, ok
}

// Len returns the number of entries.
func (c *Collection[T]) Len() int {
	return len(c.order)
}

// All returns the entries in insertion order.
func (c *Collection[T]) All() []T {
	out := make([]T, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.items[id])
	}
	return out
}

// View exposes the collections inside Apply and Read callbacks.
type View struct {
	Requests     *Collection[domain.TrainingRequest]
	Applications *Collection[domain.TrainerApplication]
	Events       *Collection[domain.CalendarEvent]
	Profiles     *Collection[domain.TrainerProfile]
	Channels     *Collection[domain.Channel]
}

// State is the mutex-guarded local snapshot.
type State struct {
	mu   sync.RWMutex
	view View
}

// New returns empty local state.
func New() *State {
	return &State{view: View{
		Requests:     NewCollection[domain.TrainingRequest](),
		Applications: NewCollection[domain.TrainerApplication](),
		Events:       NewCollection[domain.CalendarEvent](),
		Profiles:     NewCollection[domain.TrainerProfile](),
		Channels:     NewCollection[domain.Channel](),
	}}
}

// Apply runs fn with exclusive access.
func (s *State) Apply(fn func(v *View)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.view)
}

// Read runs fn with shared access. fn must not mutate.
func (s *State) Read(fn func(v *View)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(&s.view)
}

// Request returns a copy of one request.
func (s *State) Request(id string) (domain.TrainingRequest, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.view.Requests.Get(id)
	return r.Clone(), ok
}

// Requests returns copies of every request.
func (s *State) Requests() []domain.TrainingRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := s.view.Requests.All()
	for i := range all {
		all[i] = all[i].Clone()
	}
	return all
}

// Applications returns the applications for one request.
func (s *State) Applications(requestID string) []domain.TrainerApplication {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.TrainerApplication
	for _, a := range s.view.Applications.All() {
		if a.TrainingRequestID == requestID {
			out = append(out, a)
		}
	}
	return out
}

// Events returns every calendar event.
func (s *State) Events() []domain.CalendarEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.view.Events.All()
}

// Hydrate replaces local state with the backing store's contents.
func (s *State) Hydrate(ctx context.Context, b store.Backend) error {
	requests, err := load[domain.TrainingRequest](ctx, b, store.TableRequests)
	if err != nil {
		return err
	}
	apps, err := load[domain.TrainerApplication](ctx, b, store.TableApplications)
	if err != nil {
		return err
	}
	events, err := load[domain.CalendarEvent](ctx, b, store.TableEvents)
	if err != nil {
		return err
	}
	profiles, err := load[domain.TrainerProfile](ctx, b, store.TableProfiles)
	if err != nil {
		return err
	}
	channels, err := load[domain.Channel](ctx, b, store.TableChannels)
	if err != nil {
		return err
	}

	s.Apply(func(v *View) {
		v.Requests = fill(requests)
		v.Applications = fill(apps)
		v.Events = fill(events)
		v.Profiles = fill(profiles)
		v.Channels = fill(channels)
	})
	return nil
}

func load[T any](ctx context.Context, b store.Backend, table string) ([]T, error) {
	recs, err := b.Query(ctx, table, nil)
	if err != nil {
		return nil, fmt.Errorf("hydrate %s: %w", table, err)
	}
	return store.DecodeAll[T](recs)
}

func fill[T Keyed](items []T) *Collection[T] {
	c := NewCollection[T]()
	for _, it := range items {
		c.Put(it)
	}
	return c
}
