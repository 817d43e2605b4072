// Package reconciler resolves pending ledger records against chain receipts.
package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/chain"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/metrics"
	"github.com/starford/distwiki/internal/models"
)

// ResolvedFunc is called after a record reaches a terminal status.
type ResolvedFunc func(rec models.TransactionRecord)

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithStaleAfter sets the age after which a still-pending record is logged
// as stale. Zero disables the warning. Stale records are not modified.
func WithStaleAfter(d time.Duration) Option {
	return func(r *Reconciler) { r.staleAfter = d }
}

// WithResolvedFunc registers a callback for every status transition.
func WithResolvedFunc(fn ResolvedFunc) Option {
	return func(r *Reconciler) { r.onResolved = fn }
}

// Reconciler polls the chain for each pending ledger record. A pass is
// idempotent and safe to abandon midway: each resolution is one atomic
// ledger update.
type Reconciler struct {
	store      ledger.Store
	receipts   chain.ReceiptSource
	logger     *slog.Logger
	staleAfter time.Duration
	onResolved ResolvedFunc
	now        func() time.Time
}

// New creates a Reconciler.
func New(store ledger.Store, receipts chain.ReceiptSource, logger *slog.Logger, opts ...Option) *Reconciler {
	r := &Reconciler{
		store:    store,
		receipts: receipts,
		logger:   logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Reconcile runs one pass and returns the number of records still pending.
// A failed receipt lookup leaves that record pending and does not stop the
// pass; ledger failures are returned.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	pending, err := r.store.ListPending(ctx)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list pending: %w", err)
	}

	still := 0
	for _, rec := range pending {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		receipt, err := r.receipts.TransactionReceipt(ctx, common.HexToHash(rec.Hash))
		if err != nil {
			r.logger.Warn("reconciler: receipt lookup failed",
				slog.String("hash", rec.Hash),
				slog.String("error", err.Error()))
			still++
			continue
		}
		if receipt == nil {
			still++
			r.warnIfStale(rec)
			continue
		}

		succeeded := receipt.Succeeded()
		err = r.store.MarkResolved(ctx, rec.Hash, succeeded)
		if errors.Is(err, apperr.ErrAlreadyResolved) {
			// Resolved by a concurrent pass.
			r.logger.Debug("reconciler: already resolved", slog.String("hash", rec.Hash))
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("reconciler: resolve %s: %w", rec.Hash, err)
		}

		rec.Status = models.StatusFailed
		if succeeded {
			rec.Status = models.StatusSuccess
		}
		metrics.TransactionsResolved.WithLabelValues(string(rec.Status)).Inc()
		r.logger.Info("reconciler: resolved",
			slog.String("hash", rec.Hash),
			slog.Uint64("nonce", rec.Nonce),
			slog.String("status", string(rec.Status)),
			slog.Uint64("gas_used", receipt.GasUsed))
		if r.onResolved != nil {
			r.onResolved(rec)
		}
	}

	metrics.PendingTransactions.Set(float64(still))
	return still, nil
}

func (r *Reconciler) warnIfStale(rec models.TransactionRecord) {
	if r.staleAfter <= 0 || rec.CreatedAt.IsZero() {
		return
	}
	if age := r.now().Sub(rec.CreatedAt); age > r.staleAfter {
		r.logger.Warn("reconciler: transaction pending for too long",
			slog.String("hash", rec.Hash),
			slog.Uint64("nonce", rec.Nonce),
			slog.String("age", age.Round(time.Second).String()))
	}
}

// Run reconciles immediately and then every interval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.logger.Info("reconciler: started", slog.String("interval", interval.String()))
	for {
		if _, err := r.Reconcile(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("reconciler: pass failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			r.logger.Info("reconciler: stopped")
			return
		case <-ticker.C:
		}
	}
}
