// Package offline queues mutations issued while the backing store is
// unreachable and replays them when connectivity returns.
//
// The queue is bounded, FIFO, and durable through a Journal. Drain runs one
// handler at a time in enqueue order; a drain requested while another is
// running is skipped rather than started in parallel. Every permanent loss
// (eviction at capacity, retry exhaustion, non-retryable failure) is logged
// and reported to the LossHandler.
package offline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/trainflow/internal/clock"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
)

// DefaultCapacity bounds the queue.
const DefaultCapacity = 100

// Journal persists the queue. *store.Store implements it.
type Journal interface {
	LoadActions(ctx context.Context) ([]domain.OfflineAction, error)
	SaveActions(ctx context.Context, actions []domain.OfflineAction) error
}

// Handler replays one action against the backing store.
type Handler func(ctx context.Context, action domain.OfflineAction) error

// LossReason says why an action left the queue without succeeding.
type LossReason string

const (
	LossEvicted    LossReason = "evicted"
	LossMaxRetries LossReason = "max_retries"
	LossRejected   LossReason = "rejected"
)

// Loss describes one permanently dropped action.
type Loss struct {
	Action domain.OfflineAction
	Reason LossReason
	Err    error
}

// LossHandler is told about every dropped action.
type LossHandler func(Loss)

// Network reports reachability. *Monitor implements it.
type Network interface {
	Online() bool
}

// Options configures a Queue. Zero values pick defaults.
// With a Network set, Drain does nothing while offline and stops early if
// connectivity drops mid-drain.
type Options struct {
	Network    Network
	Capacity   int
	MaxRetries int
	Journal    Journal
	Clock      clock.Clock
	IDs        ident.Generator
	Logger     *slog.Logger
	OnLoss     LossHandler
}

// DrainResult summarizes one Drain call.
type DrainResult struct {
	Skipped   bool `json:"skipped"`
	Succeeded int  `json:"succeeded"`
	Retained  int  `json:"retained"` // still queued when the drain ended
	Dropped   int  `json:"dropped"`
}

// Queue is the offline mutation queue.
type Queue struct {
	mu       sync.Mutex
	actions  []domain.OfflineAction
	handlers map[domain.ActionType]Handler

	network    Network
	capacity   int
	maxRetries int
	journal    Journal
	clock      clock.Clock
	ids        ident.Generator
	logger     *slog.Logger
	onLoss     LossHandler

	draining atomic.Bool
	inflight sync.WaitGroup
}

// Open builds a queue and restores any journaled actions.
func Open(ctx context.Context, opts Options) (*Queue, error) {
	q := &Queue{
		handlers:   make(map[domain.ActionType]Handler),
		network:    opts.Network,
		capacity:   opts.Capacity,
		maxRetries: opts.MaxRetries,
		journal:    opts.Journal,
		clock:      opts.Clock,
		ids:        opts.IDs,
		logger:     opts.Logger,
		onLoss:     opts.OnLoss,
	}
	if q.capacity <= 0 {
		q.capacity = DefaultCapacity
	}
	if q.maxRetries <= 0 {
		q.maxRetries = domain.DefaultMaxRetries
	}
	if q.clock == nil {
		q.clock = clock.System{}
	}
	if q.ids == nil {
		q.ids = ident.UUIDv7{}
	}
	if q.logger == nil {
		q.logger = slog.Default()
	}

	if q.journal != nil {
		actions, err := q.journal.LoadActions(ctx)
		if err != nil {
			return nil, fmt.Errorf("restore offline queue: %w", err)
		}
		q.actions = actions
		if n := len(q.actions) - q.capacity; n > 0 {
			evicted := append([]domain.OfflineAction(nil), q.actions[:n]...)
			q.actions = q.actions[n:]
			if err := q.persistLocked(ctx); err != nil {
				q.logger.Warn("offline journal write failed", "error", err)
			}
			for _, a := range evicted {
				q.lose(Loss{Action: a, Reason: LossEvicted})
			}
		}
	}
	return q, nil
}

// Register installs the replay handler for an action type.
func (q *Queue) Register(t domain.ActionType, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[t] = h
}

// Enqueue appends an action. At capacity the oldest action is evicted and
// reported as lost. payload is marshaled to JSON unless it already is raw
// JSON. The action is queued in memory even if persisting it fails; the
// persist error is returned.
func (q *Queue) Enqueue(ctx context.Context, t domain.ActionType, payload any) (domain.OfflineAction, error) {
	raw, ok := payload.(json.RawMessage)
	if !ok {
		var err error
		raw, err = json.Marshal(payload)
		if err != nil {
			return domain.OfflineAction{}, domain.WrapError(domain.KindValidation, "payload is not serializable", err)
		}
	}

	action := domain.OfflineAction{
		ID:         q.ids.NewID(),
		Type:       t,
		Payload:    raw,
		EnqueuedAt: q.clock.Now(),
		MaxRetries: q.maxRetries,
	}

	q.mu.Lock()
	var evicted []domain.OfflineAction
	for len(q.actions) >= q.capacity {
		evicted = append(evicted, q.actions[0])
		q.actions = q.actions[1:]
	}
	q.actions = append(q.actions, action)
	err := q.persistLocked(ctx)
	q.mu.Unlock()

	for _, a := range evicted {
		q.lose(Loss{Action: a, Reason: LossEvicted})
	}

	q.logger.Debug("action queued",
		"action_id", action.ID,
		"type", action.Type)
	return action, err
}

// Len returns the number of queued actions.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.actions)
}

// Actions returns a copy of the queue in order.
func (q *Queue) Actions() []domain.OfflineAction {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]domain.OfflineAction, len(q.actions))
	copy(out, q.actions)
	return out
}

// Drain replays queued actions in FIFO order, one at a time, attempting
// each action at most once per call. Actions enqueued while draining are
// picked up by the same call. A concurrent call returns Skipped.
//
// Handlers run under a context detached from ctx's cancellation: a drain
// always runs to completion once started.
func (q *Queue) Drain(ctx context.Context) DrainResult {
	if !q.draining.CompareAndSwap(false, true) {
		q.logger.Debug("drain already running")
		return DrainResult{Skipped: true}
	}
	defer q.draining.Store(false)

	ctx = context.WithoutCancel(ctx)
	attempted := make(map[string]bool)
	var res DrainResult

	for {
		if q.network != nil && !q.network.Online() {
			q.logger.Info("drain paused: offline")
			break
		}
		action, handler, ok := q.nextUnattempted(attempted)
		if !ok {
			break
		}
		attempted[action.ID] = true

		var err error
		if handler == nil {
			err = domain.NewError(domain.KindValidation, "no handler for action type "+string(action.Type))
		} else {
			err = q.invoke(ctx, handler, action)
		}

		switch q.settle(ctx, action, err) {
		case settledDone:
			res.Succeeded++
		case settledDropped:
			res.Dropped++
		}
	}
	res.Retained = q.Len()

	q.logger.Info("drain finished",
		"succeeded", res.Succeeded,
		"retained", res.Retained,
		"dropped", res.Dropped)
	return res
}

// Watch drains once on every offline-to-online transition of m.
// The returned function stops watching.
func (q *Queue) Watch(m *Monitor) func() {
	return m.OnChange(func(online bool) {
		if online {
			q.trigger()
		}
	})
}

// Foreground triggers one drain, as when the client returns to the
// foreground.
func (q *Queue) Foreground() {
	q.trigger()
}

// Wait blocks until drains started by Watch or Foreground finish.
func (q *Queue) Wait() {
	q.inflight.Wait()
}

func (q *Queue) trigger() {
	q.inflight.Add(1)
	go func() {
		defer q.inflight.Done()
		q.Drain(context.Background())
	}()
}

func (q *Queue) nextUnattempted(attempted map[string]bool) (domain.OfflineAction, Handler, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, a := range q.actions {
		if !attempted[a.ID] {
			return a, q.handlers[a.Type], true
		}
	}
	return domain.OfflineAction{}, nil, false
}

// invoke runs a handler, converting a panic into an error so one bad
// action cannot wedge the queue.
func (q *Queue) invoke(ctx context.Context, h Handler, a domain.OfflineAction) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return h(ctx, a)
}

type settlement int

const (
	settledDone settlement = iota
	settledKept
	settledDropped
)

func (q *Queue) settle(ctx context.Context, action domain.OfflineAction, err error) settlement {
	var (
		outcome settlement
		loss    *Loss
	)

	q.mu.Lock()
	idx := q.indexLocked(action.ID)
	switch {
	case idx < 0:
		// Evicted while its handler ran.
		outcome = settledDropped
	case err == nil:
		q.removeLocked(idx)
		outcome = settledDone
	case !domain.IsRetryable(err):
		q.removeLocked(idx)
		loss = &Loss{Action: action, Reason: LossRejected, Err: err}
		outcome = settledDropped
	default:
		a := &q.actions[idx]
		a.RetryCount++
		a.LastError = err.Error()
		if a.Exhausted() {
			dropped := *a
			q.removeLocked(idx)
			loss = &Loss{
				Action: dropped,
				Reason: LossMaxRetries,
				Err:    domain.WrapError(domain.KindMaxRetriesExceeded, fmt.Sprintf("gave up after %d attempts", dropped.RetryCount), err),
			}
			outcome = settledDropped
		} else {
			outcome = settledKept
		}
	}
	if idx >= 0 {
		if perr := q.persistLocked(ctx); perr != nil {
			q.logger.Warn("offline journal write failed", "error", perr)
		}
	}
	q.mu.Unlock()

	if err != nil && outcome == settledKept {
		q.logger.Info("action will be retried",
			"action_id", action.ID,
			"type", action.Type,
			"error", err)
	}
	if loss != nil {
		q.lose(*loss)
	}
	return outcome
}

func (q *Queue) indexLocked(id string) int {
	for i, a := range q.actions {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (q *Queue) removeLocked(i int) {
	q.actions = append(q.actions[:i], q.actions[i+1:]...)
}

func (q *Queue) persistLocked(ctx context.Context) error {
	if q.journal == nil {
		return nil
	}
	if err := q.journal.SaveActions(ctx, q.actions); err != nil {
		return fmt.Errorf("persist offline queue: %w", err)
	}
	return nil
}

func (q *Queue) lose(l Loss) {
	q.logger.Warn("offline action dropped",
		"action_id", l.Action.ID,
		"type", l.Action.Type,
		"reason", l.Reason,
		"retries", l.Action.RetryCount,
		"error", l.Err)
	if q.onLoss != nil {
		q.onLoss(l)
	}
}
