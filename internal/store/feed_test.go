package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_ReceivesChangesInOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe("docs", nil)
	defer sub.Close()

	_, err := s.Create(ctx, "docs", "a", testDoc{ID: "a"})
	require.NoError(t, err)
	_, err = s.Update(ctx, "docs", "a", Patch{"status": "open"})
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "docs", "a"))

	var ops []ChangeOp
	for i := 0; i < 3; i++ {
		c, err := sub.Next(ctx)
		require.NoError(t, err)
		assert.Equal(t, "a", c.ID)
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []ChangeOp{OpInsert, OpUpdate, OpDelete}, ops)
}

func TestSubscribe_FiltersByTableAndPredicate(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	sub := s.Subscribe("docs", func(c Change) bool { return c.ID == "b" })
	defer sub.Close()

	_, err := s.Create(ctx, "other", "b", testDoc{ID: "b"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "docs", "a", testDoc{ID: "a"})
	require.NoError(t, err)
	_, err = s.Create(ctx, "docs", "b", testDoc{ID: "b"})
	require.NoError(t, err)

	c, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, "docs", c.Table)
	assert.Equal(t, "b", c.ID)
	require.NotNil(t, c.Record)
	assert.Equal(t, 0, sub.Pending())
}

func TestSubscription_NextHonorsContext(t *testing.T) {
	s := createTestStore(t)
	sub := s.Subscribe("docs", nil)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSubscription_Close(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	sub := s.Subscribe("docs", nil)
	sub.Close()
	sub.Close()

	_, err := s.Create(ctx, "docs", "a", testDoc{ID: "a"})
	require.NoError(t, err)

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, ErrSubscriptionClosed)
}

func TestSubscribe_ConcurrentWritersDeliverInVersionOrder(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "docs", "a", testDoc{ID: "a"})
	require.NoError(t, err)

	sub := s.Subscribe("docs", nil)
	defer sub.Close()

	const writers, perWriter = 4, 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_, err := s.Update(ctx, "docs", "a", Patch{"count": w*perWriter + i})
				assert.NoError(t, err)
			}
		}(w)
	}
	wg.Wait()

	var last int64 = 1
	for i := 0; i < writers*perWriter; i++ {
		c, err := sub.Next(ctx)
		require.NoError(t, err)
		require.NotNil(t, c.Record)
		assert.Equal(t, last+1, c.Record.Version, "change %d", i)
		last = c.Record.Version
	}
}
