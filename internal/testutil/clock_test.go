package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManualClock_Fixed(t *testing.T) {
	c := NewManualClock(Epoch)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch, c.Now())
}

func TestManualClock_Advance(t *testing.T) {
	c := NewManualClock(Epoch)
	c.Advance(time.Hour)
	assert.Equal(t, Epoch.Add(time.Hour), c.Now())

	later := Epoch.Add(48 * time.Hour)
	c.Set(later)
	assert.Equal(t, later, c.Now())
}

func TestSteppingClock_StrictlyIncreasing(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Second)
	assert.Equal(t, Epoch, c.Now())
	assert.Equal(t, Epoch.Add(time.Second), c.Now())
	assert.Equal(t, Epoch.Add(2*time.Second), c.Now())
}

func TestSteppingClock_ConcurrentUnique(t *testing.T) {
	c := NewSteppingClock(Epoch, time.Millisecond)
	const n = 100

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ts := c.Now()
			mu.Lock()
			seen[ts] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Len(t, seen, n, "every reading should be distinct")
}
