// Package testutil provides shared test helpers for ledgers, article directories and logging.
package testutil

import (
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/storage"
)

// Account is the ledger account used by tests that do not care about scoping.
const Account = "0x00000000000000000000000000000000000000a1"

// TestLedger creates a temporary SQLite ledger that is automatically cleaned up.
func TestLedger(t *testing.T) ledger.Store {
	t.Helper()
	dbFile, err := os.CreateTemp("", "distwiki-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() { os.Remove(dbFile.Name()) })

	s, err := ledger.OpenSQLite(dbFile.Name(), Account)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestArticles creates a temporary article directory with a storage.FS.
func TestArticles(t *testing.T) (string, *storage.FS) {
	t.Helper()
	dir := t.TempDir()
	store, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, store
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
