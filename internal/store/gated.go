package store

import (
	"context"
	"fmt"
)

// Connectivity reports whether the backing store is reachable.
type Connectivity interface {
	Online() bool
}

// Gated wraps a Backend and fails every call with ErrUnavailable while
// the connectivity source reports offline. Subscriptions pass through.
type Gated struct {
	inner Backend
	conn  Connectivity
}

var (
	_ Backend = (*Store)(nil)
	_ Backend = (*Gated)(nil)
)

// NewGated returns a Backend that consults conn before each call.
func NewGated(inner Backend, conn Connectivity) *Gated {
	return &Gated{inner: inner, conn: conn}
}

func (g *Gated) check(op string) error {
	if g.conn != nil && !g.conn.Online() {
		return fmt.Errorf("%s: %w", op, ErrUnavailable)
	}
	return nil
}

func (g *Gated) Create(ctx context.Context, table, id string, data any) (Record, error) {
	if err := g.check("create"); err != nil {
		return Record{}, err
	}
	return g.inner.Create(ctx, table, id, data)
}

func (g *Gated) Get(ctx context.Context, table, id string) (Record, error) {
	if err := g.check("get"); err != nil {
		return Record{}, err
	}
	return g.inner.Get(ctx, table, id)
}

func (g *Gated) Update(ctx context.Context, table, id string, patch Patch) (Record, error) {
	if err := g.check("update"); err != nil {
		return Record{}, err
	}
	return g.inner.Update(ctx, table, id, patch)
}

func (g *Gated) UpdateIf(ctx context.Context, table, id string, cond Filter, patch Patch) (Record, error) {
	if err := g.check("update"); err != nil {
		return Record{}, err
	}
	return g.inner.UpdateIf(ctx, table, id, cond, patch)
}

func (g *Gated) UpdateWhere(ctx context.Context, table string, filter Filter, patch Patch) ([]Record, error) {
	if err := g.check("update"); err != nil {
		return nil, err
	}
	return g.inner.UpdateWhere(ctx, table, filter, patch)
}

func (g *Gated) Delete(ctx context.Context, table, id string) error {
	if err := g.check("delete"); err != nil {
		return err
	}
	return g.inner.Delete(ctx, table, id)
}

func (g *Gated) Query(ctx context.Context, table string, filter Filter) ([]Record, error) {
	if err := g.check("query"); err != nil {
		return nil, err
	}
	return g.inner.Query(ctx, table, filter)
}

func (g *Gated) Subscribe(table string, pred func(Change) bool) *Subscription {
	return g.inner.Subscribe(table, pred)
}
