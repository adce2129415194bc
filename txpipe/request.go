package txpipe

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/opd-ai/walletcore/chains"
	"github.com/opd-ai/walletcore/securemem"
)

// Request is a caller's send intent. Unset fields are filled from the chain:
// nonce from the account's transaction count, gas limit from estimation,
// fees from the network's fee market.
type Request struct {
	// AccountID selects the sender; empty means the registry's current
	// account.
	AccountID string
	// To is the recipient, nil for contract creation.
	To *common.Address
	// Value is the native amount in wei; nil means zero.
	Value *big.Int
	// Data is the optional calldata.
	Data []byte
	// Nonce overrides the chain-derived nonce when non-nil.
	Nonce *uint64
	// GasLimit overrides estimation when non-zero.
	GasLimit uint64
	// GasPrice overrides the legacy fee when non-nil.
	GasPrice *big.Int
	// MaxFee and PriorityFee override the EIP-1559 fees when non-nil.
	MaxFee      *big.Int
	PriorityFee *big.Int
	// Type forces the envelope type; empty means the network's preferred
	// type.
	Type chains.TxType
}

// Summary is what the user confirms before signing: the recipient, amount,
// fee ceiling, worst-case total, and nonce.
type Summary struct {
	From     common.Address
	To       *common.Address
	Value    *big.Int
	GasLimit uint64
	// FeeCap is the gas price (legacy) or max fee per gas (EIP-1559).
	FeeCap *big.Int
	// PriorityFee is set for EIP-1559 transactions.
	PriorityFee *big.Int
	// TotalCost is value + gas-limit x fee-cap, the worst case charged.
	TotalCost *big.Int
	Nonce     uint64
	ChainID   uint64
	Type      chains.TxType
}

// Prepared is a fully parameterized, unsigned transaction together with the
// summary shown at the confirmation gate.
type Prepared struct {
	From        common.Address
	AccountID   string
	ChainID     uint64
	Tx          *types.Transaction
	Summary     Summary
	EstimatedAt time.Time
}

// ConfirmFunc surfaces the confirmation gate to the caller. Returning false
// rejects the transaction.
type ConfirmFunc func(ctx context.Context, s Summary) (bool, error)

// PasswordFunc asks the user for the master password after the signer
// reported that one is required. The returned region transfers ownership.
// The pipeline does not read the remember flag: a successful unlock leaves
// the session unlocked whatever its value.
type PasswordFunc func(ctx context.Context, s Summary) (password *securemem.Region, remember bool, err error)
