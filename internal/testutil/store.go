package testutil

import (
	"path/filepath"
	"testing"

	"github.com/RevCBH/taskd/internal/daemon/db"
)

// OpenTestStore opens a throwaway sqlite store in a temp directory. The
// store is closed automatically when the test finishes.
func OpenTestStore(t *testing.T) *db.Store {
	t.Helper()

	store, err := db.Open(filepath.Join(t.TempDir(), "taskd.db"))
	if err != nil {
		t.Fatalf("failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("failed to close test store: %v", err)
		}
	})
	return store
}
