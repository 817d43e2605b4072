package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/starford/distwiki/internal/apperr"
)

// EthRPC implements RPC over go-ethereum's JSON-RPC client.
type EthRPC struct {
	client *ethclient.Client
}

var _ RPC = (*EthRPC)(nil)

// Dial connects to the node at rawURL (http, https, ws or ipc).
func Dial(ctx context.Context, rawURL string) (*EthRPC, error) {
	c, err := ethclient.DialContext(ctx, rawURL)
	if err != nil {
		return nil, remote("dial", err)
	}
	return &EthRPC{client: c}, nil
}

// Close closes the underlying connection.
func (e *EthRPC) Close() {
	e.client.Close()
}

func (e *EthRPC) ChainID(ctx context.Context) (*big.Int, error) {
	id, err := e.client.ChainID(ctx)
	if err != nil {
		return nil, remote("chain id", err)
	}
	return id, nil
}

func (e *EthRPC) TransactionCount(ctx context.Context, account common.Address) (uint64, error) {
	// nil block number means latest, i.e. only included transactions.
	n, err := e.client.NonceAt(ctx, account, nil)
	if err != nil {
		return 0, remote("transaction count", err)
	}
	return n, nil
}

func (e *EthRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	gas, err := e.client.EstimateGas(ctx, msg)
	if err != nil {
		return 0, remote("estimate gas", err)
	}
	return gas, nil
}

func (e *EthRPC) GasPrice(ctx context.Context) (*big.Int, error) {
	p, err := e.client.SuggestGasPrice(ctx)
	if err != nil {
		return nil, remote("gas price", err)
	}
	return p, nil
}

func (e *EthRPC) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, fmt.Errorf("chain: decode raw transaction: %w", err)
	}
	if err := e.client.SendTransaction(ctx, tx); err != nil {
		return common.Hash{}, remote("send transaction", err)
	}
	return tx.Hash(), nil
}

func (e *EthRPC) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	r, err := e.client.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, remote("receipt "+hash.Hex(), err)
	}
	return fromTypes(r), nil
}

func (e *EthRPC) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	out, err := e.client.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, remote("call contract", err)
	}
	return out, nil
}

func fromTypes(r *types.Receipt) *Receipt {
	out := &Receipt{Status: r.Status, GasUsed: r.GasUsed}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out
}

func remote(op string, err error) error {
	return fmt.Errorf("chain: %s: %w: %w", op, apperr.ErrRemoteCall, err)
}
