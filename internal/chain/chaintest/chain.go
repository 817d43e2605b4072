// Package chaintest provides an in-memory chain that executes the registry
// and article contracts from their real ABI calldata.
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/starford/distwiki/internal/apperr"
	"github.com/starford/distwiki/internal/chain"
)

// Defaults reported by a fresh Chain.
var (
	ChainID         = big.NewInt(1337)
	GasPrice        = big.NewInt(2_000_000_000)
	RegistryAddress = common.HexToAddress("0x00000000000000000000000000000000000000fe")
)

// EstimatedGas is what EstimateGas answers for every message.
const EstimatedGas uint64 = 120_000

type commit struct {
	id     [32]byte
	author common.Address
	at     uint64
}

type article struct {
	owner      common.Address
	authorized map[common.Address]bool
	commits    []commit
}

// Chain is a fake node. Broadcast transactions stay pending until Mine.
type Chain struct {
	mu sync.Mutex

	signer   types.Signer
	included map[common.Address]uint64
	pending  map[common.Hash]*types.Transaction
	receipts map[common.Hash]*chain.Receipt
	calls    int
	block    uint64
	clock    uint64

	titles    [][32]byte
	byTitle   map[[32]byte]common.Address
	articles  map[common.Address]*article
	nextIndex uint64

	// SendErr, when set, fails every SendRawTransaction.
	SendErr error
	// ReceiptErr, when set, fails every TransactionReceipt.
	ReceiptErr error
}

var _ chain.RPC = (*Chain)(nil)

// New returns an empty chain with no articles.
func New() *Chain {
	return &Chain{
		signer:   types.LatestSignerForChainID(ChainID),
		included: make(map[common.Address]uint64),
		pending:  make(map[common.Hash]*types.Transaction),
		receipts: make(map[common.Hash]*chain.Receipt),
		byTitle:  make(map[[32]byte]common.Address),
		articles: make(map[common.Address]*article),
		clock:    uint64(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Unix()),
	}
}

// Calls returns how many RPC methods have been invoked.
func (c *Chain) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

// Pending returns the hashes broadcast but not yet mined, in nonce order.
func (c *Chain) Pending() []common.Hash {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingInOrder()
}

// PendingNonces returns the nonces of the pending transactions, ascending.
func (c *Chain) PendingNonces() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []uint64
	for _, h := range c.pendingInOrder() {
		out = append(out, c.pending[h].Nonce())
	}
	return out
}

func (c *Chain) pendingInOrder() []common.Hash {
	hashes := make([]common.Hash, 0, len(c.pending))
	for h := range c.pending {
		hashes = append(hashes, h)
	}
	sort.Slice(hashes, func(i, j int) bool {
		return c.pending[hashes[i]].Nonce() < c.pending[hashes[j]].Nonce()
	})
	return hashes
}

// MineAll executes every pending transaction in nonce order.
func (c *Chain) MineAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range c.pendingInOrder() {
		c.mine(h)
	}
}

// Mine executes one pending transaction and records its receipt.
func (c *Chain) Mine(hash common.Hash) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.pending[hash]; !ok {
		return fmt.Errorf("chaintest: %s is not pending", hash.Hex())
	}
	c.mine(hash)
	return nil
}

// Drop forgets a pending transaction without a receipt, as a node does
// when it evicts it from the mempool.
func (c *Chain) Drop(hash common.Hash) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, hash)
}

// IncludeExternal bumps account's confirmed count as if a transaction
// sent elsewhere had been mined.
func (c *Chain) IncludeExternal(account common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.included[account]++
}

func (c *Chain) mine(hash common.Hash) {
	tx := c.pending[hash]
	delete(c.pending, hash)
	from, _ := types.Sender(c.signer, tx)

	c.block++
	c.clock += 12
	c.included[from]++
	status := types.ReceiptStatusSuccessful
	if err := c.execute(from, tx); err != nil {
		status = types.ReceiptStatusFailed
	}
	c.receipts[hash] = &chain.Receipt{Status: status, GasUsed: EstimatedGas, BlockNumber: c.block}
}

func (c *Chain) execute(from common.Address, tx *types.Transaction) error {
	to := tx.To()
	if to == nil || len(tx.Data()) < 4 {
		return errors.New("revert")
	}
	if *to == RegistryAddress {
		m, args, err := decode(chain.RegistryABI, tx.Data())
		if err != nil || m.Name != chain.MethodCreateArticle {
			return errors.New("revert")
		}
		title := args[0].([32]byte)
		if _, taken := c.byTitle[title]; taken {
			return errors.New("revert: article exists")
		}
		c.nextIndex++
		addr := common.BigToAddress(new(big.Int).SetUint64(0x1000 + c.nextIndex))
		a := &article{owner: from, authorized: map[common.Address]bool{from: true}}
		for _, auth := range args[2].([]common.Address) {
			a.authorized[auth] = true
		}
		a.commits = append(a.commits, commit{id: args[1].([32]byte), author: from, at: c.clock})
		c.byTitle[title] = addr
		c.articles[addr] = a
		c.titles = append(c.titles, title)
		return nil
	}

	a, ok := c.articles[*to]
	if !ok {
		return errors.New("revert: no contract")
	}
	m, args, err := decode(chain.ArticleABI, tx.Data())
	if err != nil || m.Name != chain.MethodUpdate {
		return errors.New("revert")
	}
	if !a.authorized[from] {
		return errors.New("revert: not authorized")
	}
	a.commits = append(a.commits, commit{id: args[0].([32]byte), author: from, at: c.clock})
	return nil
}

func decode(contract abi.ABI, data []byte) (*abi.Method, []any, error) {
	m, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := m.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return m, args, nil
}

func (c *Chain) ChainID(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return new(big.Int).Set(ChainID), nil
}

func (c *Chain) TransactionCount(_ context.Context, account common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.included[account], nil
}

func (c *Chain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return EstimatedGas, nil
}

func (c *Chain) GasPrice(context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return new(big.Int).Set(GasPrice), nil
}

// SendRawTransaction accepts a signed transaction into the pending pool.
// A pending transaction with the same sender and nonce is replaced.
func (c *Chain) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.SendErr != nil {
		return common.Hash{}, fmt.Errorf("chaintest: send: %w: %w", apperr.ErrRemoteCall, c.SendErr)
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("chaintest: decode: %w", err)
	}
	from, err := types.Sender(c.signer, tx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("chaintest: sender: %w: %w", apperr.ErrRemoteCall, err)
	}
	if tx.Nonce() < c.included[from] {
		return common.Hash{}, fmt.Errorf("chaintest: nonce too low: %w", apperr.ErrRemoteCall)
	}
	for h, p := range c.pending {
		if pf, _ := types.Sender(c.signer, p); pf == from && p.Nonce() == tx.Nonce() {
			delete(c.pending, h)
		}
	}
	c.pending[tx.Hash()] = tx
	return tx.Hash(), nil
}

func (c *Chain) TransactionReceipt(_ context.Context, hash common.Hash) (*chain.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.ReceiptErr != nil {
		return nil, fmt.Errorf("chaintest: receipt: %w: %w", apperr.ErrRemoteCall, c.ReceiptErr)
	}
	r, ok := c.receipts[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// CallContract answers the registry and article view methods.
func (c *Chain) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if msg.To == nil || len(msg.Data) < 4 {
		return nil, fmt.Errorf("chaintest: call: %w", apperr.ErrRemoteCall)
	}

	if *msg.To == RegistryAddress {
		m, args, err := decode(chain.RegistryABI, msg.Data)
		if err != nil {
			return nil, fmt.Errorf("chaintest: call: %w: %w", apperr.ErrRemoteCall, err)
		}
		switch m.Name {
		case chain.MethodGetArticle:
			return m.Outputs.Pack(c.byTitle[args[0].([32]byte)])
		case chain.MethodTitleCount:
			return m.Outputs.Pack(big.NewInt(int64(len(c.titles))))
		case chain.MethodTitleAt:
			i := args[0].(*big.Int)
			if !i.IsInt64() || i.Int64() >= int64(len(c.titles)) {
				return nil, fmt.Errorf("chaintest: titlesList out of bounds: %w", apperr.ErrRemoteCall)
			}
			return m.Outputs.Pack(c.titles[i.Int64()])
		}
		return nil, fmt.Errorf("chaintest: registry has no view %s: %w", m.Name, apperr.ErrRemoteCall)
	}

	a, ok := c.articles[*msg.To]
	if !ok {
		return nil, fmt.Errorf("chaintest: no contract at %s: %w", msg.To.Hex(), apperr.ErrRemoteCall)
	}
	m, args, err := decode(chain.ArticleABI, msg.Data)
	if err != nil {
		return nil, fmt.Errorf("chaintest: call: %w: %w", apperr.ErrRemoteCall, err)
	}
	switch m.Name {
	case chain.MethodContentID:
		return m.Outputs.Pack(a.commits[len(a.commits)-1].id)
	case chain.MethodModificationCount:
		return m.Outputs.Pack(big.NewInt(int64(len(a.commits))))
	case chain.MethodModificationAt:
		i := args[0].(*big.Int)
		if !i.IsInt64() || i.Int64() >= int64(len(a.commits)) {
			return nil, fmt.Errorf("chaintest: commits out of bounds: %w", apperr.ErrRemoteCall)
		}
		cm := a.commits[i.Int64()]
		return m.Outputs.Pack(cm.id, cm.author, new(big.Int).SetUint64(cm.at))
	}
	return nil, fmt.Errorf("chaintest: article has no view %s: %w", m.Name, apperr.ErrRemoteCall)
}
