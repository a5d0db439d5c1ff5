// Package service is the caller-facing facade over the workflow.
//
// Every mutation is validated first (role, status, ownership) and only then
// routed. Online, it writes the backing store and folds the result into
// local state. Offline, or when the store reports itself unreachable, it
// applies the change to local state optimistically and appends an action to
// the offline queue. Queued actions replay through the same validated
// online path when the queue drains.
//
// Trainer selection is never queued: it needs the store's conditional
// write, so it fails with NetworkUnavailable while offline. Only the
// follow-up settling of the other applications may be queued.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roach88/trainflow/internal/arbiter"
	"github.com/roach88/trainflow/internal/catalog"
	"github.com/roach88/trainflow/internal/clock"
	"github.com/roach88/trainflow/internal/domain"
	"github.com/roach88/trainflow/internal/ident"
	"github.com/roach88/trainflow/internal/local"
	"github.com/roach88/trainflow/internal/offline"
	"github.com/roach88/trainflow/internal/reconcile"
	"github.com/roach88/trainflow/internal/store"
	"github.com/roach88/trainflow/internal/visibility"
	"github.com/roach88/trainflow/internal/workflow"
)

// Result is the outcome of a mutation. When Queued is set the value is the
// optimistic local version and ActionID names the queued action.
type Result[T any] struct {
	Value    T      `json:"value"`
	Queued   bool   `json:"queued"`
	ActionID string `json:"action_id,omitempty"`
}

// Config wires a Service. Store, Catalog, and Queue are required.
type Config struct {
	Store   store.Backend
	Queue   *offline.Queue
	Network offline.Network
	State   *local.State
	Catalog *catalog.Catalog
	Clock   clock.Clock
	IDs     ident.Generator
	Logger  *slog.Logger
}

// Service implements the caller surface.
type Service struct {
	store      store.Backend
	queue      *offline.Queue
	network    offline.Network
	state      *local.State
	catalog    *catalog.Catalog
	machine    *workflow.Machine
	arbiter    *arbiter.Arbiter
	visibility *visibility.Filter
	clock      clock.Clock
	ids        ident.Generator
	logger     *slog.Logger
}

// New builds a Service and registers its replay handlers on the queue.
func New(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("service: store is required")
	}
	if cfg.Catalog == nil {
		return nil, errors.New("service: catalog is required")
	}
	if cfg.Queue == nil {
		return nil, errors.New("service: queue is required")
	}

	s := &Service{
		store:   cfg.Store,
		queue:   cfg.Queue,
		network: cfg.Network,
		state:   cfg.State,
		catalog: cfg.Catalog,
		clock:   cfg.Clock,
		ids:     cfg.IDs,
		logger:  cfg.Logger,
	}
	if s.state == nil {
		s.state = local.New()
	}
	if s.clock == nil {
		s.clock = clock.System{}
	}
	if s.ids == nil {
		s.ids = ident.UUIDv7{}
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}

	s.machine = workflow.New(s.clock)
	s.arbiter = arbiter.New(arbiter.Config{
		Store:   s.store,
		Machine: s.machine,
		Catalog: s.catalog,
		Clock:   s.clock,
		IDs:     s.ids,
		Logger:  s.logger,
	})
	s.visibility = visibility.New(s.catalog)
	s.registerHandlers()
	return s, nil
}

// State returns the local snapshot.
func (s *Service) State() *local.State { return s.state }

// Queue returns the offline queue.
func (s *Service) Queue() *offline.Queue { return s.queue }

// Arbiter returns the application arbiter.
func (s *Service) Arbiter() *arbiter.Arbiter { return s.arbiter }

// Online reports whether writes go to the backing store directly.
func (s *Service) Online() bool {
	return s.network == nil || s.network.Online()
}

// Hydrate loads local state from the backing store.
func (s *Service) Hydrate(ctx context.Context) error {
	return s.state.Hydrate(ctx, s.store)
}

// Follow folds each source into local state until ctx is done. It blocks
// until every source ends and returns the first error.
func (s *Service) Follow(ctx context.Context, sources ...reconcile.Source) error {
	r := reconcile.New(s.state, s.logger)
	errs := make(chan error, len(sources))
	for _, src := range sources {
		go func(src reconcile.Source) {
			errs <- r.Run(ctx, src)
		}(src)
	}

	var first error
	for range sources {
		if err := <-errs; err != nil && first == nil && !errors.Is(err, context.Canceled) {
			first = err
		}
	}
	return first
}

// Drain replays the offline queue now.
func (s *Service) Drain(ctx context.Context) offline.DrainResult {
	return s.queue.Drain(ctx)
}

// EnqueueIfOffline queues an action when the store is unreachable and
// reports whether it did. Online, nothing is queued and the caller should
// perform the mutation directly.
func (s *Service) EnqueueIfOffline(ctx context.Context, t domain.ActionType, payload any) (bool, domain.OfflineAction, error) {
	if s.Online() {
		return false, domain.OfflineAction{}, nil
	}
	action, err := s.queue.Enqueue(ctx, t, payload)
	return true, action, err
}

// enqueue queues an action after an optimistic local apply.
func (s *Service) enqueue(ctx context.Context, t domain.ActionType, payload any) (string, error) {
	action, err := s.queue.Enqueue(ctx, t, payload)
	if err != nil && action.ID == "" {
		return "", err
	}
	if err != nil {
		s.logger.Warn("queued action not persisted",
			"action_id", action.ID,
			"type", t,
			"error", err)
	}
	s.logger.Info("mutation queued for replay",
		"action_id", action.ID,
		"type", t)
	return action.ID, nil
}

// transient reports whether err means the store could not be reached.
func transient(err error) bool {
	return errors.Is(err, domain.ErrNetworkUnavailable) || errors.Is(err, store.ErrUnavailable)
}

// offlineErr is returned by operations that cannot be queued.
func offlineErr(op string) error {
	return domain.NewError(domain.KindNetworkUnavailable, fmt.Sprintf("%s requires a connection to the backing store", op))
}

func (s *Service) localRequest(id string) (domain.TrainingRequest, error) {
	req, ok := s.state.Request(id)
	if !ok {
		return domain.TrainingRequest{}, domain.NewError(domain.KindNotFound, "training request not found")
	}
	return req, nil
}

func (s *Service) remoteRequest(ctx context.Context, id string) (domain.TrainingRequest, error) {
	rec, err := s.store.Get(ctx, store.TableRequests, id)
	if err != nil {
		return domain.TrainingRequest{}, store.DomainError(err, "training request")
	}
	return store.Decode[domain.TrainingRequest](rec)
}

func (s *Service) putRequest(req domain.TrainingRequest) {
	s.state.Apply(func(v *local.View) { v.Requests.Put(req) })
}
