package internal

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starford/distwiki/internal/chain"
	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/reconciler"
	"github.com/starford/distwiki/internal/registry"
	"github.com/starford/distwiki/internal/storage"
	"github.com/starford/distwiki/internal/wikiservice"
)

// hooks receive ledger transitions; either may be nil.
type hooks struct {
	onSubmitted registry.SubmittedFunc
	onResolved  reconciler.ResolvedFunc
}

// session holds everything bound to one account and one node.
type session struct {
	store      *storage.FS
	ledger     ledger.Store
	rpc        *chain.EthRPC
	shell      *content.Shell
	reconciler *reconciler.Reconciler
	service    *wikiservice.Service
}

func openSession(ctx context.Context, cfg *Config, logger *slog.Logger, h hooks) (_ *session, err error) {
	key, err := crypto.HexToECDSA(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	account := crypto.PubkeyToAddress(key.PublicKey)

	if err := os.MkdirAll(cfg.Articles.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create articles dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Articles.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	s := &session{store: store}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	s.ledger, err = ledger.Open(cfg.Ledger.Driver, cfg.Ledger.Path, account.Hex())
	if err != nil {
		return nil, fmt.Errorf("init ledger: %w", err)
	}

	s.rpc, err = chain.Dial(ctx, cfg.Chain.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("dial chain: %w", err)
	}

	s.reconciler = reconciler.New(s.ledger, s.rpc, logger,
		reconciler.WithStaleAfter(cfg.Chain.StaleAfter),
		reconciler.WithResolvedFunc(h.onResolved),
	)

	var chainID *big.Int
	if cfg.Chain.ChainID > 0 {
		chainID = big.NewInt(cfg.Chain.ChainID)
	}
	reg, err := registry.New(ctx, registry.Params{
		RPC:         s.rpc,
		Ledger:      s.ledger,
		Reconciler:  s.reconciler,
		Key:         key,
		Registry:    common.HexToAddress(cfg.Chain.RegistryAddress),
		ChainID:     chainID,
		GasLimit:    cfg.Chain.GasLimit,
		Logger:      logger,
		OnSubmitted: h.onSubmitted,
	})
	if err != nil {
		return nil, fmt.Errorf("init registry: %w", err)
	}

	s.shell = content.NewShell(cfg.IPFS.APIURL)
	if !s.shell.IsUp() {
		logger.Warn("IPFS node not reachable", slog.String("api_url", cfg.IPFS.APIURL))
	}
	coord := content.NewCoordinator(s.shell, store, cfg.IPFS.FetchTimeout, logger)

	s.service = wikiservice.NewService(store, coord, reg, s.reconciler, cfg.IPFS.FetchTimeout)

	logger.Info("Session opened",
		slog.String("account", account.Hex()),
		slog.String("registry", cfg.Chain.RegistryAddress),
		slog.String("ledger_driver", cfg.Ledger.Driver))
	return s, nil
}

// Close releases the node connection and the ledger.
func (s *session) Close() {
	if s.rpc != nil {
		s.rpc.Close()
	}
	if s.ledger != nil {
		_ = s.ledger.Close()
	}
}
