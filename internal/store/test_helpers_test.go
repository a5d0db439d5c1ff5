package store

import (
	"path/filepath"
	"testing"
)

// createTestStore opens a fresh store in a temp directory.
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testDoc struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Owner    string `json:"owner,omitempty"`
	Count    int    `json:"count"`
	Archived bool   `json:"archived"`

	Version int64 `json:"-"`
}

func (d *testDoc) SetVersion(v int64) { d.Version = v }

type statusType string
