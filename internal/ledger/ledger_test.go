package ledger

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/models"
)

const testAccount = "0x00000000000000000000000000000000000000a1"

// drivers runs fn once per driver against a fresh store.
func drivers(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Helper()
	t.Run(DriverSQLite, func(t *testing.T) {
		f, err := os.CreateTemp("", "distwiki-ledger-*.db")
		if err != nil {
			t.Fatal(err)
		}
		f.Close()
		t.Cleanup(func() { os.Remove(f.Name()) })

		s, err := Open(DriverSQLite, f.Name(), testAccount)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
	t.Run(DriverBadger, func(t *testing.T) {
		s, err := Open(DriverBadger, filepath.Join(t.TempDir(), "ledger"), testAccount)
		if err != nil {
			t.Fatalf("Open: %v", err)
		}
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func TestAppendAndGet(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		if err := s.Append(ctx, "0xabc", "Adding article Foo", 7); err != nil {
			t.Fatalf("Append: %v", err)
		}
		rec, err := s.Get(ctx, "0xabc")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if rec.Status != models.StatusPending || rec.Nonce != 7 || rec.Description != "Adding article Foo" {
			t.Errorf("record = %+v", rec)
		}
		if rec.CreatedAt.IsZero() {
			t.Error("created_at not set")
		}
	})
}

func TestAppendDuplicateHash(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Append(ctx, "0xabc", "first", 1)
		err := s.Append(ctx, "0xabc", "second", 2)
		if !errors.Is(err, apperr.ErrDuplicateHash) {
			t.Fatalf("err = %v, want ErrDuplicateHash", err)
		}
		rec, _ := s.Get(ctx, "0xabc")
		if rec.Description != "first" {
			t.Errorf("duplicate append mutated record: %+v", rec)
		}
	})
}

func TestMarkResolved(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Append(ctx, "0x1", "ok", 1)
		_ = s.Append(ctx, "0x2", "bad", 2)

		if err := s.MarkResolved(ctx, "0x1", true); err != nil {
			t.Fatalf("MarkResolved ok: %v", err)
		}
		if err := s.MarkResolved(ctx, "0x2", false); err != nil {
			t.Fatalf("MarkResolved bad: %v", err)
		}

		r1, _ := s.Get(ctx, "0x1")
		r2, _ := s.Get(ctx, "0x2")
		if r1.Status != models.StatusSuccess {
			t.Errorf("0x1 status = %s", r1.Status)
		}
		if r2.Status != models.StatusFailed {
			t.Errorf("0x2 status = %s", r2.Status)
		}
	})
}

func TestMarkResolvedTerminal(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Append(ctx, "0x1", "once", 1)
		_ = s.MarkResolved(ctx, "0x1", false)

		err := s.MarkResolved(ctx, "0x1", true)
		if !errors.Is(err, apperr.ErrAlreadyResolved) {
			t.Fatalf("err = %v, want ErrAlreadyResolved", err)
		}
		rec, _ := s.Get(ctx, "0x1")
		if rec.Status != models.StatusFailed {
			t.Errorf("terminal status changed to %s", rec.Status)
		}
	})
}

func TestMarkResolvedUnknown(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		err := s.MarkResolved(context.Background(), "0xdead", true)
		if !errors.Is(err, apperr.ErrUnknownHash) {
			t.Fatalf("err = %v, want ErrUnknownHash", err)
		}
	})
}

func TestPendingQueries(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_ = s.Append(ctx, "0x3", "c", 3)
		_ = s.Append(ctx, "0x1", "a", 1)
		_ = s.Append(ctx, "0x2", "b", 2)
		_ = s.MarkResolved(ctx, "0x2", true)

		n, err := s.CountPending(ctx)
		if err != nil {
			t.Fatalf("CountPending: %v", err)
		}
		if n != 2 {
			t.Errorf("pending = %d, want 2", n)
		}
		hashes, err := s.ListPendingHashes(ctx)
		if err != nil {
			t.Fatalf("ListPendingHashes: %v", err)
		}
		if len(hashes) != 2 || hashes[0] != "0x1" || hashes[1] != "0x3" {
			t.Errorf("pending hashes = %v", hashes)
		}
	})
}

func TestListRecentOrderAndLimit(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, h := range []string{"0xa", "0xb", "0xc", "0xd"} {
			_ = s.Append(ctx, h, "action "+h, uint64(10+i))
		}
		_ = s.MarkResolved(ctx, "0xd", true)

		got, err := s.ListRecent(ctx, 3)
		if err != nil {
			t.Fatalf("ListRecent: %v", err)
		}
		want := []models.Action{
			{Description: "action 0xd", Status: models.StatusSuccess},
			{Description: "action 0xc", Status: models.StatusPending},
			{Description: "action 0xb", Status: models.StatusPending},
		}
		if len(got) != len(want) {
			t.Fatalf("len = %d, want %d", len(got), len(want))
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("[%d] = %+v, want %+v", i, got[i], want[i])
			}
		}

		empty, err := s.ListRecent(ctx, 0)
		if err != nil || len(empty) != 0 {
			t.Errorf("ListRecent(0) = %v, %v", empty, err)
		}
	})
}

func TestAccountScoping(t *testing.T) {
	f, err := os.CreateTemp("", "distwiki-ledger-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	a, err := OpenSQLite(f.Name(), "0xaaa")
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()
	b, err := OpenSQLite(f.Name(), "0xbbb")
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	_ = a.Append(ctx, "0x1", "a's tx", 0)
	n, _ := b.CountPending(ctx)
	if n != 0 {
		t.Errorf("account b sees %d pending records of account a", n)
	}
}

func TestSurvivesReopen(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ledger")
	s, err := OpenBadger(dir, testAccount)
	if err != nil {
		t.Fatal(err)
	}
	_ = s.Append(context.Background(), "0x1", "durable", 5)
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}

	s, err = OpenBadger(dir, testAccount)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	rec, err := s.Get(context.Background(), "0x1")
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if rec.Nonce != 5 {
		t.Errorf("nonce = %d", rec.Nonce)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open("postgres", "x", testAccount); err == nil {
		t.Error("expected error for unknown driver")
	}
}

func TestSameHashInTwoAccounts(t *testing.T) {
	paths := map[string]string{
		DriverSQLite: filepath.Join(t.TempDir(), "ledger.db"),
		DriverBadger: filepath.Join(t.TempDir(), "ledger"),
	}
	for driver, path := range paths {
		t.Run(driver, func(t *testing.T) {
			ctx := context.Background()
			const other = "0x00000000000000000000000000000000000000b2"

			a, err := Open(driver, path, testAccount)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			if err := a.Append(ctx, "0xabc", "Adding article A", 0); err != nil {
				t.Fatalf("Append(a): %v", err)
			}
			a.Close()

			b, err := Open(driver, path, other)
			if err != nil {
				t.Fatalf("Open: %v", err)
			}
			defer b.Close()
			if err := b.Append(ctx, "0xabc", "Adding article B", 0); err != nil {
				t.Fatalf("Append(b) with the same hash: %v", err)
			}
			if err := b.Append(ctx, "0xabc", "again", 1); !errors.Is(err, apperr.ErrDuplicateHash) {
				t.Errorf("duplicate within one account: got %v", err)
			}
			rec, err := b.Get(ctx, "0xabc")
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if rec.Description != "Adding article B" {
				t.Errorf("Get returned another account's record: %+v", rec)
			}
		})
	}
}

func TestPendingHashesMatchPendingRecords(t *testing.T) {
	drivers(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		for i, h := range []string{"0x03", "0x01", "0x02"} {
			if err := s.Append(ctx, h, "tx", uint64(2-i)); err != nil {
				t.Fatal(err)
			}
		}
		if err := s.MarkResolved(ctx, "0x01", true); err != nil {
			t.Fatal(err)
		}
		recs, err := s.ListPending(ctx)
		if err != nil {
			t.Fatal(err)
		}
		hashes, err := s.ListPendingHashes(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(hashes) != len(recs) || len(hashes) != 2 {
			t.Fatalf("hashes %v, records %d", hashes, len(recs))
		}
		for i := range recs {
			if hashes[i] != recs[i].Hash {
				t.Errorf("position %d: hash %s, record %s", i, hashes[i], recs[i].Hash)
			}
		}
		if hashes[0] != "0x02" {
			t.Errorf("not in nonce order: %v", hashes)
		}
	})
}
