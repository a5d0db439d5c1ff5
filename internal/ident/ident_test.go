package ident

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUUIDv7_Format(t *testing.T) {
	id := UUIDv7{}.NewID()

	parsed, err := uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(7), parsed.Version())
	assert.Len(t, id, 36)
}

func TestUUIDv7_Sortable(t *testing.T) {
	g := UUIDv7{}
	prev := g.NewID()
	for i := 0; i < 100; i++ {
		next := g.NewID()
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestSequence_Concurrent(t *testing.T) {
	g := NewSequence("req")
	const n = 50

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[string]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := g.NewID()
			mu.Lock()
			seen[id] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n)
	assert.True(t, seen["req-1"])
	assert.True(t, seen["req-50"])
}

func TestFixed_PanicsWhenExhausted(t *testing.T) {
	g := NewFixed("a")
	assert.Equal(t, "a", g.NewID())
	assert.Panics(t, func() { g.NewID() })
}
