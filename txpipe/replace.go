package txpipe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/chains"
	"github.com/opd-ai/walletcore/walleterr"
)

// underpricedReason is the node's verbatim rejection for a replacement
// whose fees do not clear the mempool's bump threshold.
const underpricedReason = "replacement transaction underpriced"

// replaceMode selects between cancelling and speeding up.
type replaceMode int

const (
	modeCancel replaceMode = iota
	modeSpeedUp
)

// Cancel replaces a pending transaction with a zero-value self-send sharing
// its nonce, at fees high enough to evict the original from the mempool.
func (p *Pipeline) Cancel(ctx context.Context, hash common.Hash) (common.Hash, error) {
	return p.replace(ctx, hash, modeCancel)
}

// SpeedUp rebroadcasts a pending transaction's payload at bumped fees.
func (p *Pipeline) SpeedUp(ctx context.Context, hash common.Hash) (common.Hash, error) {
	return p.replace(ctx, hash, modeSpeedUp)
}

func (p *Pipeline) replace(ctx context.Context, hash common.Hash, mode replaceMode) (common.Hash, error) {
	entry, ok := p.pending.Get(hash)
	if !ok {
		return common.Hash{}, walleterr.ErrAlreadyConfirmed
	}

	// A replacement is refused with a nonce-mismatch error while another
	// broadcast is in flight on the slot.
	if err := p.acquireNonceSlot(entry.From, entry.Nonce); err != nil {
		return common.Hash{}, err
	}
	defer p.releaseNonceSlot(entry.From, entry.Nonce)

	// The target must still be pending on chain.
	receipt, err := p.rpc.TransactionReceipt(ctx, hash)
	if err != nil {
		return common.Hash{}, walleterr.NetworkError(err)
	}
	if receipt != nil {
		p.pending.resolveSlot(hash)
		return common.Hash{}, walleterr.ErrAlreadyConfirmed
	}

	prep, err := p.buildReplacement(ctx, entry, mode)
	if err != nil {
		return common.Hash{}, err
	}
	if prep.Summary.Nonce != entry.Nonce {
		return common.Hash{}, walleterr.ErrNonceMismatch
	}

	if err := p.checkReplacementFunds(ctx, entry.From, prep.Summary); err != nil {
		return common.Hash{}, err
	}

	approved, err := p.confirmGate(ctx, prep.Summary)
	if err != nil {
		return common.Hash{}, err
	}
	if !approved {
		return common.Hash{}, walleterr.ErrUserRejected
	}

	raw, err := p.signWithPromptRetry(ctx, prep)
	if err != nil {
		return common.Hash{}, err
	}

	newHash, err := p.broadcast(ctx, prep, raw)
	if err != nil {
		// The node rejecting the replacement as underpriced means the bump
		// did not clear its mempool threshold; that outcome is retryable
		// with a higher bump, unlike a generic broadcast failure.
		var werr *walleterr.Error
		if errors.As(err, &werr) && strings.Contains(werr.Reason, underpricedReason) {
			return common.Hash{}, walleterr.Wrap(walleterr.ErrGasPriceTooLow, err)
		}
		return common.Hash{}, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "replace",
		"old_hash": hash.Hex(),
		"new_hash": newHash.Hex(),
		"nonce":    entry.Nonce,
		"cancel":   mode == modeCancel,
	}).Info("replacement broadcast")
	return newHash, nil
}

// buildReplacement constructs the replacement transaction: a self-send for
// cancel, the original payload for speed-up, with fees bumped per the
// mempool replacement policy.
func (p *Pipeline) buildReplacement(ctx context.Context, entry PendingTx, mode replaceMode) (*Prepared, error) {
	var (
		to       *common.Address
		value    *big.Int
		data     []byte
		gasLimit uint64
	)
	switch mode {
	case modeCancel:
		from := entry.From
		to = &from
		value = new(big.Int)
		gasLimit = transferGasLimit
	case modeSpeedUp:
		to = entry.To
		value = entry.Value
		data = entry.Data
		gasLimit = entry.GasLimit
	}

	var (
		tx      *types.Transaction
		feeCap  *big.Int
		tipUsed *big.Int
	)
	switch entry.Type {
	case chains.TxTypeLegacy:
		current, err := p.rpc.GasPrice(ctx)
		if err != nil {
			return nil, walleterr.NetworkError(err)
		}
		newPrice := bumpLegacyGasPrice(entry.GasPrice, current)
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    entry.Nonce,
			GasPrice: newPrice,
			Gas:      gasLimit,
			To:       to,
			Value:    value,
			Data:     data,
		})
		feeCap = newPrice
	case chains.TxTypeDynamicFee:
		baseFee, err := p.rpc.BaseFee(ctx)
		if err != nil {
			return nil, walleterr.NetworkError(err)
		}
		newMaxFee, newTip := bumpDynamicFees(entry.MaxFee, entry.PriorityFee, baseFee)
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(entry.ChainID),
			Nonce:     entry.Nonce,
			GasTipCap: newTip,
			GasFeeCap: newMaxFee,
			Gas:       gasLimit,
			To:        to,
			Value:     value,
			Data:      data,
		})
		feeCap, tipUsed = newMaxFee, newTip
	default:
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("pending entry has unknown type %q", entry.Type))
	}

	total := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	total.Add(total, value)

	return &Prepared{
		From:      entry.From,
		AccountID: p.accountIDFor(entry.From),
		ChainID:   entry.ChainID,
		Tx:        tx,
		Summary: Summary{
			From:        entry.From,
			To:          to,
			Value:       value,
			GasLimit:    gasLimit,
			FeeCap:      feeCap,
			PriorityFee: tipUsed,
			TotalCost:   total,
			Nonce:       entry.Nonce,
			ChainID:     entry.ChainID,
			Type:        entry.Type,
		},
		EstimatedAt: p.tp.Now(),
	}, nil
}

func (p *Pipeline) accountIDFor(addr common.Address) string {
	if acct, ok := p.reg.ByAddress(addr); ok {
		return acct.ID
	}
	return ""
}

// checkReplacementFunds verifies the balance covers the replacement's
// worst-case gas cost.
func (p *Pipeline) checkReplacementFunds(ctx context.Context, from common.Address, s Summary) error {
	balance, err := p.rpc.Balance(ctx, from)
	if err != nil {
		return walleterr.NetworkError(err)
	}
	required := new(big.Int).Mul(s.FeeCap, new(big.Int).SetUint64(s.GasLimit))
	if balance.Cmp(required) < 0 {
		return walleterr.InsufficientFunds(required, balance)
	}
	return nil
}

// bumpLegacyGasPrice applies the legacy replacement rule: at least 10% over
// the original and at least 5% over the network's current price, rounded
// up to the next wei.
func bumpLegacyGasPrice(old, current *big.Int) *big.Int {
	bumped := mulDivCeil(old, 110, 100)
	floor := mulDivCeil(current, 105, 100)
	if floor.Cmp(bumped) > 0 {
		return floor
	}
	return bumped
}

// bumpDynamicFees applies the EIP-1559 replacement rule: the priority tip
// rises 10%, and the max fee rises to at least 10% over the original and
// never below base fee plus the new tip.
func bumpDynamicFees(oldMaxFee, oldTip, baseFee *big.Int) (newMaxFee, newTip *big.Int) {
	newTip = mulDivCeil(oldTip, 110, 100)
	newMaxFee = mulDivCeil(oldMaxFee, 110, 100)
	floor := new(big.Int).Add(baseFee, newTip)
	if floor.Cmp(newMaxFee) > 0 {
		newMaxFee = floor
	}
	return newMaxFee, newTip
}

// mulDivCeil computes ceil(v * num / den) without floating point.
func mulDivCeil(v *big.Int, num, den int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(num))
	out.Add(out, big.NewInt(den-1))
	return out.Div(out, big.NewInt(den))
}
