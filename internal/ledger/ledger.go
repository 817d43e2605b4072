// Package ledger records every transaction this client has broadcast, its
// nonce and its last known status. Records are never deleted.
package ledger

import (
	"context"
	"fmt"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/models"
)

// Supported drivers.
const (
	DriverSQLite = "sqlite"
	DriverBadger = "badger"
)

// Store is the local transaction ledger for a single account.
// Consumers should depend on this interface rather than a concrete driver.
type Store interface {
	// Append inserts a pending record. It fails with apperr.ErrDuplicateHash
	// if hash is already present.
	Append(ctx context.Context, hash, description string, nonce uint64) error
	// MarkResolved moves a pending record to success or failed. It fails with
	// apperr.ErrUnknownHash or apperr.ErrAlreadyResolved and leaves state unchanged.
	MarkResolved(ctx context.Context, hash string, succeeded bool) error
	CountPending(ctx context.Context) (int, error)
	// ListPendingHashes is ListPending reduced to hashes, in nonce order.
	ListPendingHashes(ctx context.Context) ([]string, error)
	// ListRecent returns up to n actions, most recent nonce first.
	ListRecent(ctx context.Context, n int) ([]models.Action, error)
	ListPending(ctx context.Context) ([]models.TransactionRecord, error)
	Get(ctx context.Context, hash string) (*models.TransactionRecord, error)
	Close() error
}

// Open opens the ledger at path with the given driver, scoped to account.
func Open(driver, path, account string) (Store, error) {
	switch driver {
	case "", DriverSQLite:
		return OpenSQLite(path, account)
	case DriverBadger:
		return OpenBadger(path, account)
	default:
		return nil, fmt.Errorf("ledger: unknown driver %q", driver)
	}
}

func unavailable(op string, err error) error {
	return fmt.Errorf("ledger: %s: %w: %w", op, apperr.ErrLedgerUnavailable, err)
}

func resolvedStatus(succeeded bool) models.Status {
	if succeeded {
		return models.StatusSuccess
	}
	return models.StatusFailed
}
