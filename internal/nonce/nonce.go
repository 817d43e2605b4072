// Package nonce assigns transaction nonces for a single account.
package nonce

import "context"

// Next returns the nonce for the next outgoing transaction. confirmed must be
// read from the chain immediately beforehand; pending is the number of
// unresolved ledger records.
func Next(confirmed, pending uint64) uint64 {
	return confirmed + pending
}

// Sequencer serializes nonce assignment for one account. Everything between
// reading the counts and appending the ledger record must run inside Do,
// otherwise two submissions can share a nonce and the later one replaces the
// earlier on-chain.
type Sequencer struct {
	sem chan struct{}
}

// NewSequencer returns an unlocked Sequencer.
func NewSequencer() *Sequencer {
	return &Sequencer{sem: make(chan struct{}, 1)}
}

// Do runs fn while holding the account lock. It gives up waiting for the
// lock when ctx is done.
func (s *Sequencer) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	return fn(ctx)
}
