package offline

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMonitor_NotifiesOnTransitionsOnly(t *testing.T) {
	m := NewMonitor(true)
	var seen []bool
	stop := m.OnChange(func(online bool) { seen = append(seen, online) })

	m.Set(true)
	m.Set(false)
	m.Set(false)
	m.Set(true)
	assert.Equal(t, []bool{false, true}, seen)
	assert.True(t, m.Online())

	stop()
	m.Set(false)
	assert.Len(t, seen, 2)
}
