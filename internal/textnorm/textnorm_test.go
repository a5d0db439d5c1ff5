package textnorm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Room1", "room1"},
		{"  Room   1 ", "room 1"},
		{"ＲＯＯＭ１", "room1"}, // full-width forms fold under NFKC
		{"", ""},
		{"\t\n", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Key(tt.in), "Key(%q)", tt.in)
	}
}

func TestEqual(t *testing.T) {
	assert.True(t, Equal("Room1", "room1"))
	assert.True(t, Equal("Main  Hall", "main hall"))
	assert.False(t, Equal("Room 1", "room1"))
	assert.False(t, Equal("", ""), "empty locations never match")
	assert.False(t, Equal(" ", "  "))
}
