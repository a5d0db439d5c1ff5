package store

import (
	"context"
	"errors"
	"sync"
)

// ChangeOp is the kind of write that produced a Change.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// Change is one committed write. Record is nil for deletes.
type Change struct {
	Table  string   `json:"table"`
	Op     ChangeOp `json:"op"`
	ID     string   `json:"id"`
	Record *Record  `json:"record,omitempty"`
	Seq    int64    `json:"seq"`
}

// ErrSubscriptionClosed is returned by Next after Close.
var ErrSubscriptionClosed = errors.New("subscription closed")

// Subscription receives committed changes for one table in commit order.
//
// The buffer is unbounded so a slow consumer never blocks writers.
// Signaling uses a buffered(1) channel so Next can select on ctx.Done().
type Subscription struct {
	table string
	pred  func(Change) bool
	hub   *hub

	mu      sync.Mutex
	pending []Change
	closed  bool
	signal  chan struct{}
}

// Next blocks until a change is available, ctx is done, or the
// subscription is closed.
func (s *Subscription) Next(ctx context.Context) (Change, error) {
	for {
		if c, ok := s.tryNext(); ok {
			return c, nil
		}

		s.mu.Lock()
		closed := s.closed
		s.mu.Unlock()
		if closed {
			return Change{}, ErrSubscriptionClosed
		}

		select {
		case <-ctx.Done():
			return Change{}, ctx.Err()
		case <-s.signal:
		}
	}
}

// Pending returns the number of buffered changes.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close detaches the subscription. Buffered changes are discarded.
func (s *Subscription) Close() {
	if s.hub != nil {
		s.hub.remove(s)
	}
	s.shutdown()
}

func (s *Subscription) tryNext() (Change, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return Change{}, false
	}
	c := s.pending[0]
	s.pending[0] = Change{}
	if len(s.pending) == 1 {
		s.pending = s.pending[:0]
	} else {
		s.pending = s.pending[1:]
	}
	return c, true
}

func (s *Subscription) deliver(c Change) {
	if s.pred != nil && !s.pred(c) {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.pending = append(s.pending, c)
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.pending = nil
	close(s.signal)
}

// hub fans committed changes out to subscriptions.
type hub struct {
	mu   sync.Mutex
	subs map[*Subscription]struct{}
}

func newHub() *hub {
	return &hub{subs: make(map[*Subscription]struct{})}
}

func (h *hub) add(table string, pred func(Change) bool) *Subscription {
	sub := &Subscription{
		table:  table,
		pred:   pred,
		hub:    h,
		signal: make(chan struct{}, 1),
	}
	h.mu.Lock()
	h.subs[sub] = struct{}{}
	h.mu.Unlock()
	return sub
}

func (h *hub) remove(sub *Subscription) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
}

func (h *hub) publish(c Change) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		if sub.table == c.Table {
			targets = append(targets, sub)
		}
	}
	h.mu.Unlock()

	for _, sub := range targets {
		sub.deliver(c)
	}
}

func (h *hub) closeAll() {
	h.mu.Lock()
	subs := h.subs
	h.subs = make(map[*Subscription]struct{})
	h.mu.Unlock()

	for sub := range subs {
		sub.shutdown()
	}
}

// Subscribe registers interest in changes to table. pred may be nil.
// Callers must Close the subscription when done.
func (s *Store) Subscribe(table string, pred func(Change) bool) *Subscription {
	return s.hub.add(table, pred)
}
