package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/models"
)

// Badger is a key-value Store. Each record is one JSON value under
// tx/<account>/<hash>; the key space is small enough to scan.
type Badger struct {
	db     *badger.DB
	prefix []byte
}

var _ Store = (*Badger)(nil)

// OpenBadger opens (or creates) a badger ledger in directory dir.
func OpenBadger(dir, account string) (*Badger, error) {
	opts := badger.DefaultOptions(dir).
		WithLogger(nil).
		WithSyncWrites(true)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, unavailable("open badger", err)
	}
	return &Badger{db: db, prefix: []byte("tx/" + account + "/")}, nil
}

// Close closes the badger database.
func (b *Badger) Close() error {
	return b.db.Close()
}

func (b *Badger) key(hash string) []byte {
	k := make([]byte, 0, len(b.prefix)+len(hash))
	k = append(k, b.prefix...)
	return append(k, hash...)
}

func (b *Badger) Append(_ context.Context, hash, description string, nonce uint64) error {
	rec := models.TransactionRecord{
		Hash:        hash,
		Description: description,
		Nonce:       nonce,
		Status:      models.StatusPending,
		CreatedAt:   time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("ledger: encode record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(b.key(hash)); !errors.Is(err, badger.ErrKeyNotFound) {
			if err == nil {
				return apperr.ErrDuplicateHash
			}
			return err
		}
		return txn.Set(b.key(hash), data)
	})
	switch {
	case errors.Is(err, apperr.ErrDuplicateHash):
		return fmt.Errorf("ledger: append %s: %w", hash, apperr.ErrDuplicateHash)
	case err != nil:
		return unavailable("append", err)
	}
	return nil
}

func (b *Badger) MarkResolved(_ context.Context, hash string, succeeded bool) error {
	var current models.Status
	err := b.db.Update(func(txn *badger.Txn) error {
		rec, err := b.read(txn, hash)
		if err != nil {
			return err
		}
		if rec.Status != models.StatusPending {
			current = rec.Status
			return apperr.ErrAlreadyResolved
		}
		rec.Status = resolvedStatus(succeeded)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return txn.Set(b.key(hash), data)
	})
	switch {
	case errors.Is(err, apperr.ErrUnknownHash):
		return fmt.Errorf("ledger: mark resolved %s: %w", hash, apperr.ErrUnknownHash)
	case errors.Is(err, apperr.ErrAlreadyResolved):
		return fmt.Errorf("ledger: mark resolved %s (status %s): %w", hash, current, apperr.ErrAlreadyResolved)
	case err != nil:
		return unavailable("mark resolved", err)
	}
	return nil
}

func (b *Badger) CountPending(ctx context.Context) (int, error) {
	recs, err := b.ListPending(ctx)
	if err != nil {
		return 0, err
	}
	return len(recs), nil
}

func (b *Badger) ListPendingHashes(ctx context.Context) ([]string, error) {
	recs, err := b.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Hash
	}
	return out, nil
}

func (b *Badger) ListPending(_ context.Context) ([]models.TransactionRecord, error) {
	all, err := b.scan()
	if err != nil {
		return nil, unavailable("list pending", err)
	}
	var out []models.TransactionRecord
	for _, r := range all {
		if r.Status == models.StatusPending {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nonce < out[j].Nonce })
	return out, nil
}

func (b *Badger) ListRecent(_ context.Context, n int) ([]models.Action, error) {
	if n <= 0 {
		return []models.Action{}, nil
	}
	all, err := b.scan()
	if err != nil {
		return nil, unavailable("list recent", err)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Nonce > all[j].Nonce })
	if len(all) > n {
		all = all[:n]
	}
	out := make([]models.Action, len(all))
	for i, r := range all {
		out[i] = models.Action{Description: r.Description, Status: r.Status}
	}
	return out, nil
}

func (b *Badger) Get(_ context.Context, hash string) (*models.TransactionRecord, error) {
	var rec *models.TransactionRecord
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		rec, err = b.read(txn, hash)
		return err
	})
	if errors.Is(err, apperr.ErrUnknownHash) {
		return nil, fmt.Errorf("ledger: get %s: %w", hash, apperr.ErrUnknownHash)
	}
	if err != nil {
		return nil, unavailable("get", err)
	}
	return rec, nil
}

func (b *Badger) read(txn *badger.Txn, hash string) (*models.TransactionRecord, error) {
	item, err := txn.Get(b.key(hash))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, apperr.ErrUnknownHash
	}
	if err != nil {
		return nil, err
	}
	var rec models.TransactionRecord
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	}); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (b *Badger) scan() ([]models.TransactionRecord, error) {
	var out []models.TransactionRecord
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = b.prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(b.prefix); it.ValidForPrefix(b.prefix); it.Next() {
			var rec models.TransactionRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}
