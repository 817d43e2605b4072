// Package registry talks to the on-chain article registry: it reads titles
// and histories and submits create and update transactions with contiguous
// nonces, recording each broadcast in the local ledger.
package registry

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/chain"
	"github.com/starford/distwiki/internal/content"
	"github.com/starford/distwiki/internal/ledger"
	"github.com/starford/distwiki/internal/metrics"
	"github.com/starford/distwiki/internal/models"
	"github.com/starford/distwiki/internal/nonce"
)

var errNoKey = errors.New("registry: private key required")

// DefaultGasLimit is used when Params.GasLimit is zero.
const DefaultGasLimit uint64 = 1_400_000

// Transaction kinds, used as metric labels.
const (
	KindCreate = "create"
	KindUpdate = "update"
)

// Reconciler refreshes the ledger and reports how many records are still pending.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// SubmittedFunc is called after a transaction is broadcast and recorded.
type SubmittedFunc func(rec models.TransactionRecord)

// Params configures a Client.
type Params struct {
	RPC        chain.RPC
	Ledger     ledger.Store
	Reconciler Reconciler
	Key        *ecdsa.PrivateKey
	Registry   common.Address
	// ChainID is asked from the node when nil.
	ChainID     *big.Int
	GasLimit    uint64
	Logger      *slog.Logger
	OnSubmitted SubmittedFunc
}

// Client is the article registry client for one account.
type Client struct {
	rpc         chain.RPC
	store       ledger.Store
	rec         Reconciler
	seq         *nonce.Sequencer
	key         *ecdsa.PrivateKey
	from        common.Address
	registry    common.Address
	signer      types.Signer
	gasLimit    uint64
	logger      *slog.Logger
	onSubmitted SubmittedFunc

	mu     sync.Mutex
	titles []string // titles[i] is the title at on-chain index i
}

// New creates a Client. It contacts the node only when p.ChainID is nil.
func New(ctx context.Context, p Params) (*Client, error) {
	if p.Key == nil {
		return nil, errNoKey
	}
	chainID := p.ChainID
	if chainID == nil || chainID.Sign() == 0 {
		id, err := p.RPC.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("registry: resolve chain id: %w", err)
		}
		chainID = id
	}
	gasLimit := p.GasLimit
	if gasLimit == 0 {
		gasLimit = DefaultGasLimit
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		rpc:         p.RPC,
		store:       p.Ledger,
		rec:         p.Reconciler,
		seq:         nonce.NewSequencer(),
		key:         p.Key,
		from:        crypto.PubkeyToAddress(p.Key.PublicKey),
		registry:    p.Registry,
		signer:      types.LatestSignerForChainID(chainID),
		gasLimit:    gasLimit,
		logger:      logger,
		onSubmitted: p.OnSubmitted,
	}, nil
}

// Address returns the account this client signs for.
func (c *Client) Address() common.Address {
	return c.from
}

// ArticleExists reports whether title is registered.
func (c *Client) ArticleExists(ctx context.Context, title string) (bool, error) {
	key, err := EncodeTitle(title)
	if err != nil {
		return false, err
	}
	addr, err := c.articleAddress(ctx, key)
	if err != nil {
		return false, err
	}
	return addr != (common.Address{}), nil
}

// CreateArticle registers title with its first content id. authorized lists
// extra accounts allowed to update it; duplicates are removed. A non-zero
// hash with an error means the transaction is out but was not recorded.
func (c *Client) CreateArticle(ctx context.Context, title string, id content.ID, authorized []string) (common.Hash, error) {
	key, err := EncodeTitle(title)
	if err != nil {
		return common.Hash{}, err
	}
	addrs, err := parseAuthorized(authorized)
	if err != nil {
		return common.Hash{}, err
	}

	existing, err := c.articleAddress(ctx, key)
	if err != nil {
		return common.Hash{}, err
	}
	if existing != (common.Address{}) {
		return common.Hash{}, fmt.Errorf("registry: create %q: %w", title, apperr.ErrArticleAlreadyExists)
	}

	data, err := chain.RegistryABI.Pack(chain.MethodCreateArticle, key, [32]byte(id), addrs)
	if err != nil {
		return common.Hash{}, fmt.Errorf("registry: encode create: %w", err)
	}
	return c.submit(ctx, c.registry, data, "Adding article "+title, KindCreate)
}

// UpdateArticle appends a new content id to title's history. Errors follow
// CreateArticle.
func (c *Client) UpdateArticle(ctx context.Context, title string, id content.ID) (common.Hash, error) {
	key, err := EncodeTitle(title)
	if err != nil {
		return common.Hash{}, err
	}
	addr, err := c.requireArticle(ctx, title, key)
	if err != nil {
		return common.Hash{}, err
	}

	data, err := chain.ArticleABI.Pack(chain.MethodUpdate, [32]byte(id))
	if err != nil {
		return common.Hash{}, fmt.Errorf("registry: encode update: %w", err)
	}
	return c.submit(ctx, addr, data, "Updating article "+title, KindUpdate)
}

// ResolveContentID returns the content id of title's latest version.
func (c *Client) ResolveContentID(ctx context.Context, title string) (content.ID, error) {
	key, err := EncodeTitle(title)
	if err != nil {
		return content.ID{}, err
	}
	addr, err := c.requireArticle(ctx, title, key)
	if err != nil {
		return content.ID{}, err
	}
	out, err := c.call(ctx, addr, chain.ArticleABI, chain.MethodContentID)
	if err != nil {
		return content.ID{}, err
	}
	raw, err := result[[32]byte](out, 0, chain.MethodContentID)
	if err != nil {
		return content.ID{}, err
	}
	return content.ID(raw), nil
}

// ListTitles returns every registered title in registration order. Titles
// already read are cached; only new indices are fetched.
func (c *Client) ListTitles(ctx context.Context) ([]string, error) {
	out, err := c.call(ctx, c.registry, chain.RegistryABI, chain.MethodTitleCount)
	if err != nil {
		return nil, err
	}
	count, err := result[*big.Int](out, 0, chain.MethodTitleCount)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := int(count.Int64())
	if n < len(c.titles) {
		c.titles = c.titles[:0]
	}
	for i := len(c.titles); i < n; i++ {
		out, err := c.call(ctx, c.registry, chain.RegistryABI, chain.MethodTitleAt, big.NewInt(int64(i)))
		if err != nil {
			return nil, err
		}
		raw, err := result[[32]byte](out, 0, chain.MethodTitleAt)
		if err != nil {
			return nil, err
		}
		c.titles = append(c.titles, DecodeTitle(raw))
	}
	return append([]string(nil), c.titles...), nil
}

// GetHistory returns every version of title, oldest first.
func (c *Client) GetHistory(ctx context.Context, title string) ([]models.ArticleVersion, error) {
	addr, count, err := c.modifications(ctx, title)
	if err != nil {
		return nil, err
	}
	versions := make([]models.ArticleVersion, 0, count)
	for i := 0; i < count; i++ {
		v, err := c.version(ctx, addr, i)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// GetVersion returns version index of title, counting from 0.
func (c *Client) GetVersion(ctx context.Context, title string, index int) (models.ArticleVersion, error) {
	addr, count, err := c.modifications(ctx, title)
	if err != nil {
		return models.ArticleVersion{}, err
	}
	if index < 0 || index >= count {
		return models.ArticleVersion{}, fmt.Errorf("registry: version %d of %q (have %d): %w", index, title, count, apperr.ErrIndexOutOfRange)
	}
	return c.version(ctx, addr, index)
}

// EstimateTransactionCost returns gas × gas price, in wei, for a
// representative create transaction. Nothing is signed or sent.
func (c *Client) EstimateTransactionCost(ctx context.Context) (*big.Int, error) {
	var placeholder [32]byte
	key, _ := EncodeTitle("estimate")
	data, err := chain.RegistryABI.Pack(chain.MethodCreateArticle, key, placeholder, []common.Address{})
	if err != nil {
		return nil, fmt.Errorf("registry: encode estimate: %w", err)
	}
	gas, err := c.rpc.EstimateGas(ctx, ethereum.CallMsg{From: c.from, To: &c.registry, Data: data})
	if err != nil {
		return nil, err
	}
	price, err := c.rpc.GasPrice(ctx)
	if err != nil {
		return nil, err
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gas), price), nil
}

// RecentActions reconciles the ledger and returns up to n actions, newest first.
func (c *Client) RecentActions(ctx context.Context, n int) ([]models.Action, error) {
	if _, err := c.rec.Reconcile(ctx); err != nil {
		return nil, err
	}
	return c.store.ListRecent(ctx, n)
}

// submit assigns the next nonce, signs, broadcasts and records a transaction.
// Everything from reading the counts to the ledger append runs under the
// account's sequencer. When the broadcast succeeded but the append failed,
// the hash is returned together with the error.
func (c *Client) submit(ctx context.Context, to common.Address, data []byte, description, kind string) (common.Hash, error) {
	var hash common.Hash
	err := c.seq.Do(ctx, func(ctx context.Context) error {
		n, err := c.nextNonce(ctx)
		if err != nil {
			return fmt.Errorf("registry: %s: %w", description, err)
		}

		price, err := c.rpc.GasPrice(ctx)
		if err != nil {
			return err
		}
		tx := types.NewTx(&types.LegacyTx{
			Nonce:    n,
			GasPrice: price,
			Gas:      c.gasLimit,
			To:       &to,
			Value:    new(big.Int),
			Data:     data,
		})
		signed, err := types.SignTx(tx, c.signer, c.key)
		if err != nil {
			return fmt.Errorf("registry: sign: %w", err)
		}
		raw, err := signed.MarshalBinary()
		if err != nil {
			return fmt.Errorf("registry: encode transaction: %w", err)
		}

		sent, err := c.rpc.SendRawTransaction(ctx, raw)
		if err != nil {
			return fmt.Errorf("registry: %s: %w", description, err)
		}
		hash = sent

		// The transaction is out; recording it must not depend on the caller's deadline.
		rec := models.TransactionRecord{
			Hash:        hash.Hex(),
			Description: description,
			Nonce:       n,
			Status:      models.StatusPending,
			CreatedAt:   time.Now().UTC(),
		}
		if err := c.store.Append(context.WithoutCancel(ctx), rec.Hash, description, n); err != nil {
			c.logger.Error("registry: broadcast transaction not recorded",
				slog.String("hash", rec.Hash),
				slog.Uint64("nonce", n),
				slog.String("error", err.Error()))
			return fmt.Errorf("registry: %s broadcast as %s but not recorded: %w", description, rec.Hash, err)
		}

		metrics.TransactionsSubmitted.WithLabelValues(kind).Inc()
		c.logger.Info("registry: submitted",
			slog.String("hash", rec.Hash),
			slog.Uint64("nonce", n),
			slog.String("description", description))
		if c.onSubmitted != nil {
			c.onSubmitted(rec)
		}
		return nil
	})
	// hash is only set once the broadcast succeeded.
	return hash, err
}

// maxCountReads bounds how often nextNonce retries while blocks keep landing.
const maxCountReads = 5

var errCountUnstable = errors.New("registry: transaction count changed on every read")

// nextNonce reads the confirmed count on both sides of a reconcile pass and
// retries until they agree. A block that lands during the pass would
// otherwise count its transactions as both confirmed and pending.
func (c *Client) nextNonce(ctx context.Context) (uint64, error) {
	before, err := c.rpc.TransactionCount(ctx, c.from)
	if err != nil {
		return 0, err
	}
	for range maxCountReads {
		pending, err := c.rec.Reconcile(ctx)
		if err != nil {
			return 0, err
		}
		after, err := c.rpc.TransactionCount(ctx, c.from)
		if err != nil {
			return 0, err
		}
		if after == before {
			return nonce.Next(after, uint64(pending)), nil
		}
		before = after
	}
	return 0, errCountUnstable
}

func (c *Client) articleAddress(ctx context.Context, key [TitleSize]byte) (common.Address, error) {
	out, err := c.call(ctx, c.registry, chain.RegistryABI, chain.MethodGetArticle, key)
	if err != nil {
		return common.Address{}, err
	}
	return result[common.Address](out, 0, chain.MethodGetArticle)
}

func (c *Client) requireArticle(ctx context.Context, title string, key [TitleSize]byte) (common.Address, error) {
	addr, err := c.articleAddress(ctx, key)
	if err != nil {
		return common.Address{}, err
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("registry: %q: %w", title, apperr.ErrArticleNotFound)
	}
	return addr, nil
}

func (c *Client) modifications(ctx context.Context, title string) (common.Address, int, error) {
	key, err := EncodeTitle(title)
	if err != nil {
		return common.Address{}, 0, err
	}
	addr, err := c.requireArticle(ctx, title, key)
	if err != nil {
		return common.Address{}, 0, err
	}
	out, err := c.call(ctx, addr, chain.ArticleABI, chain.MethodModificationCount)
	if err != nil {
		return common.Address{}, 0, err
	}
	count, err := result[*big.Int](out, 0, chain.MethodModificationCount)
	if err != nil {
		return common.Address{}, 0, err
	}
	return addr, int(count.Int64()), nil
}

func (c *Client) version(ctx context.Context, addr common.Address, index int) (models.ArticleVersion, error) {
	out, err := c.call(ctx, addr, chain.ArticleABI, chain.MethodModificationAt, big.NewInt(int64(index)))
	if err != nil {
		return models.ArticleVersion{}, err
	}
	raw, err := result[[32]byte](out, 0, chain.MethodModificationAt)
	if err != nil {
		return models.ArticleVersion{}, err
	}
	author, err := result[common.Address](out, 1, chain.MethodModificationAt)
	if err != nil {
		return models.ArticleVersion{}, err
	}
	ts, err := result[*big.Int](out, 2, chain.MethodModificationAt)
	if err != nil {
		return models.ArticleVersion{}, err
	}
	return models.ArticleVersion{
		ContentID: content.ID(raw).Native(),
		Author:    author,
		Timestamp: time.Unix(ts.Int64(), 0).UTC(),
	}, nil
}

func (c *Client) call(ctx context.Context, to common.Address, contract abi.ABI, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("registry: encode %s: %w", method, err)
	}
	out, err := c.rpc.CallContract(ctx, ethereum.CallMsg{From: c.from, To: &to, Data: data})
	if err != nil {
		return nil, err
	}
	vals, err := contract.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("registry: decode %s: %w: %w", method, apperr.ErrRemoteCall, err)
	}
	return vals, nil
}

// result extracts the i-th return value of method as T.
func result[T any](vals []any, i int, method string) (T, error) {
	var zero T
	if i >= len(vals) {
		return zero, fmt.Errorf("registry: %s returned %d values: %w", method, len(vals), apperr.ErrRemoteCall)
	}
	v, ok := vals[i].(T)
	if !ok {
		return zero, fmt.Errorf("registry: %s value %d has type %T: %w", method, i, vals[i], apperr.ErrRemoteCall)
	}
	return v, nil
}

// parseAuthorized validates and de-duplicates addresses; the result is sorted.
func parseAuthorized(in []string) ([]common.Address, error) {
	seen := make(map[common.Address]struct{}, len(in))
	out := make([]common.Address, 0, len(in))
	for _, s := range in {
		if !common.IsHexAddress(s) {
			return nil, fmt.Errorf("registry: authorized address %q: %w", s, apperr.ErrInvalidAddress)
		}
		addr := common.HexToAddress(s)
		if _, dup := seen[addr]; dup {
			continue
		}
		seen[addr] = struct{}{}
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Cmp(out[j]) < 0 })
	return out, nil
}
