package chainrpc

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// CallMsg describes a transaction for estimation and read-only calls.
// Fee fields are optional; To is nil for contract creation.
type CallMsg struct {
	From      common.Address
	To        *common.Address
	Value     *big.Int
	Data      []byte
	Gas       uint64
	GasPrice  *big.Int
	GasFeeCap *big.Int
	GasTipCap *big.Int
}

// Receipt is the subset of a transaction receipt the core acts on.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64
	BlockNumber *big.Int
	GasUsed     uint64
}

// ReceiptStatusSuccessful is the status of a confirmed, successful
// transaction.
const ReceiptStatusSuccessful = uint64(1)

// Client is the network collaborator contract. Implementations must be
// cancellable through the context and apply a per-call timeout.
type Client interface {
	// ChainID returns the chain identifier the node is serving.
	ChainID(ctx context.Context) (uint64, error)
	// Balance returns the native balance at the latest block, in wei.
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
	// Nonce returns the transaction count at the latest block.
	Nonce(ctx context.Context, addr common.Address) (uint64, error)
	// GasPrice returns the node's legacy gas price suggestion, in wei.
	GasPrice(ctx context.Context) (*big.Int, error)
	// BaseFee returns the latest block's base fee, in wei. Only
	// meaningful on EIP-1559 chains.
	BaseFee(ctx context.Context) (*big.Int, error)
	// SuggestPriorityFee returns a fee-history-derived priority tip.
	SuggestPriorityFee(ctx context.Context) (*big.Int, error)
	// EstimateGas estimates the gas a call needs, propagating the node's
	// error string on failure.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)
	// Call executes a read-only call at the latest block.
	Call(ctx context.Context, msg CallMsg) ([]byte, error)
	// SendRawTransaction submits signed wire bytes and returns the hash.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)
	// TransactionReceipt returns the receipt for hash, or nil while the
	// transaction is pending.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
}
