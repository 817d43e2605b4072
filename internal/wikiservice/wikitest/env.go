// Package wikitest assembles a wiki service over an in-memory chain and
// storage network for tests of the outer surfaces.
package wikitest

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starford/distwiki/internal/chain/chaintest"
	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/content/memnet"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/reconciler"
	"github.com/starford/distwiki/internal/registry"
	"github.com/starford/distwiki/internal/storage"
	"github.com/starford/distwiki/internal/testutil"
	"github.com/starford/distwiki/internal/wikiservice"
)

// Env is a fully wired service and the fakes behind it.
type Env struct {
	Service  *wikiservice.Service
	Chain    *chaintest.Chain
	Net      *memnet.Network
	Ledger   ledger.Store
	Articles *storage.FS
	Dir      string

	Submitted []models.TransactionRecord
	Resolved  []models.TransactionRecord
}

// Option adjusts an Env before the service is wired.
type Option func(*Env)

// WithLedger wraps the ledger the registry client and reconciler use.
func WithLedger(wrap func(ledger.Store) ledger.Store) Option {
	return func(e *Env) { e.Ledger = wrap(e.Ledger) }
}

// New builds an Env rooted in a temp directory.
func New(t *testing.T, opts ...Option) *Env {
	t.Helper()
	env := &Env{
		Chain:  chaintest.New(),
		Net:    memnet.New(),
		Ledger: testutil.TestLedger(t),
	}
	for _, opt := range opts {
		opt(env)
	}
	env.Dir, env.Articles = testutil.TestArticles(t)
	logger := testutil.Logger()

	rec := reconciler.New(env.Ledger, env.Chain, logger,
		reconciler.WithResolvedFunc(func(r models.TransactionRecord) {
			env.Resolved = append(env.Resolved, r)
		}))

	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	reg, err := registry.New(context.Background(), registry.Params{
		RPC:        env.Chain,
		Ledger:     env.Ledger,
		Reconciler: rec,
		Key:        key,
		Registry:   chaintest.RegistryAddress,
		ChainID:    chaintest.ChainID,
		Logger:     logger,
		OnSubmitted: func(r models.TransactionRecord) {
			env.Submitted = append(env.Submitted, r)
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	coord := content.NewCoordinator(env.Net, env.Articles, time.Second, logger)
	env.Service = wikiservice.NewService(env.Articles, coord, reg, rec, 0)
	return env
}

// Publish publishes and mines an article, failing the test on error.
func (e *Env) Publish(t *testing.T, title, body string) *wikiservice.Submission {
	t.Helper()
	sub, err := e.Service.Publish(context.Background(), title, []byte(body), nil)
	if err != nil {
		t.Fatalf("Publish(%q): %v", title, err)
	}
	e.Chain.MineAll()
	return sub
}

// Revise revises and mines an article, failing the test on error.
func (e *Env) Revise(t *testing.T, title, body string) *wikiservice.Submission {
	t.Helper()
	sub, err := e.Service.Revise(context.Background(), title, []byte(body))
	if err != nil {
		t.Fatalf("Revise(%q): %v", title, err)
	}
	e.Chain.MineAll()
	return sub
}
