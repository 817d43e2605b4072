// Package chain is the RPC boundary to an Ethereum-compatible node.
package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Receipt is the subset of a mined transaction's receipt this client uses.
type Receipt struct {
	Status      uint64
	GasUsed     uint64
	BlockNumber uint64
}

// Succeeded reports whether the transaction executed without reverting.
// Inclusion in a block alone is not success.
func (r *Receipt) Succeeded() bool {
	return r.Status == types.ReceiptStatusSuccessful
}

// RPC is every node call the client makes. Implementations wrap transport
// faults in apperr.ErrRemoteCall.
type RPC interface {
	ChainID(ctx context.Context) (*big.Int, error)
	// TransactionCount returns the number of transactions the chain has
	// already included for account.
	TransactionCount(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// TransactionReceipt returns nil, nil while the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
}

// ReceiptSource is the part of RPC the reconciler needs.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}
