package chainrpc

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/opd-ai/walletcore/walleterr"
)

// DefaultCallTimeout bounds each RPC round-trip.
const DefaultCallTimeout = 30 * time.Second

// EthBackend adapts go-ethereum's ethclient to the Client interface with a
// per-call timeout.
type EthBackend struct {
	ec      *ethclient.Client
	timeout time.Duration
}

// Dial connects to an RPC endpoint. A non-positive timeout selects
// DefaultCallTimeout.
func Dial(rawurl string, timeout time.Duration) (*EthBackend, error) {
	ec, err := ethclient.Dial(rawurl)
	if err != nil {
		return nil, walleterr.NetworkError(err)
	}
	return NewEthBackend(ec, timeout), nil
}

// NewEthBackend wraps an existing ethclient connection.
func NewEthBackend(ec *ethclient.Client, timeout time.Duration) *EthBackend {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	return &EthBackend{ec: ec, timeout: timeout}
}

// Close tears down the underlying connection.
func (e *EthBackend) Close() { e.ec.Close() }

func (e *EthBackend) call(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	err := fn(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return walleterr.Wrap(walleterr.ErrTimeout, err)
	}
	return err
}

func (e *EthBackend) ChainID(ctx context.Context) (uint64, error) {
	var id *big.Int
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		id, err = e.ec.ChainID(ctx)
		return err
	})
	if err != nil {
		return 0, err
	}
	return id.Uint64(), nil
}

func (e *EthBackend) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balance *big.Int
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = e.ec.BalanceAt(ctx, addr, nil)
		return err
	})
	return balance, err
}

func (e *EthBackend) Nonce(ctx context.Context, addr common.Address) (uint64, error) {
	var nonce uint64
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		nonce, err = e.ec.NonceAt(ctx, addr, nil)
		return err
	})
	return nonce, err
}

func (e *EthBackend) GasPrice(ctx context.Context) (*big.Int, error) {
	var price *big.Int
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		price, err = e.ec.SuggestGasPrice(ctx)
		return err
	})
	return price, err
}

func (e *EthBackend) BaseFee(ctx context.Context) (*big.Int, error) {
	var fee *big.Int
	err := e.call(ctx, func(ctx context.Context) error {
		header, err := e.ec.HeaderByNumber(ctx, nil)
		if err != nil {
			return err
		}
		if header.BaseFee == nil {
			return errors.New("chain has no base fee")
		}
		fee = header.BaseFee
		return nil
	})
	return fee, err
}

func (e *EthBackend) SuggestPriorityFee(ctx context.Context) (*big.Int, error) {
	var tip *big.Int
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		tip, err = e.ec.SuggestGasTipCap(ctx)
		return err
	})
	return tip, err
}

func (e *EthBackend) EstimateGas(ctx context.Context, msg CallMsg) (uint64, error) {
	var gas uint64
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		gas, err = e.ec.EstimateGas(ctx, toEthereumCallMsg(msg))
		return err
	})
	return gas, err
}

func (e *EthBackend) Call(ctx context.Context, msg CallMsg) ([]byte, error) {
	var out []byte
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		out, err = e.ec.CallContract(ctx, toEthereumCallMsg(msg), nil)
		return err
	})
	return out, err
}

func (e *EthBackend) SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	err := e.call(ctx, func(ctx context.Context) error {
		return e.ec.SendTransaction(ctx, &tx)
	})
	if err != nil {
		return common.Hash{}, err
	}
	return tx.Hash(), nil
}

func (e *EthBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var receipt *types.Receipt
	err := e.call(ctx, func(ctx context.Context) error {
		var err error
		receipt, err = e.ec.TransactionReceipt(ctx, hash)
		return err
	})
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &Receipt{
		TxHash:      receipt.TxHash,
		Status:      receipt.Status,
		BlockNumber: receipt.BlockNumber,
		GasUsed:     receipt.GasUsed,
	}, nil
}

func toEthereumCallMsg(msg CallMsg) ethereum.CallMsg {
	return ethereum.CallMsg{
		From:      msg.From,
		To:        msg.To,
		Gas:       msg.Gas,
		GasPrice:  msg.GasPrice,
		GasFeeCap: msg.GasFeeCap,
		GasTipCap: msg.GasTipCap,
		Value:     msg.Value,
		Data:      msg.Data,
	}
}
