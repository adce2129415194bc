package txpipe

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/chains"
	"github.com/opd-ai/walletcore/chainrpc"
	"github.com/opd-ai/walletcore/registry"
	"github.com/opd-ai/walletcore/session"
	"github.com/opd-ai/walletcore/signer"
	"github.com/opd-ai/walletcore/walleterr"
)

// estimateMaxAge is how old a gas estimate may be at signing time before it
// is re-fetched.
const estimateMaxAge = 30 * time.Second

// transferGasLimit is the intrinsic gas of a plain native transfer.
const transferGasLimit = 21000

// Pipeline wires construction, confirmation, signing, broadcast, and
// pending tracking for one network.
type Pipeline struct {
	rpc     chainrpc.Client
	network chains.Network
	reg     *registry.Registry
	sgn     *signer.Signer
	sess    *session.Session
	confirm ConfirmFunc
	askPass PasswordFunc
	pending *PendingSet
	tracker *Tracker
	tp      session.TimeProvider

	// nonceMu serializes broadcasts per (account, nonce) slot.
	nonceMu sync.Mutex
	inUse   map[nonceKey]bool
}

type nonceKey struct {
	from  common.Address
	nonce uint64
}

// Config assembles a Pipeline.
type Config struct {
	RPC          chainrpc.Client
	Network      chains.Network
	Registry     *registry.Registry
	Signer       *signer.Signer
	Session      *session.Session
	Confirm      ConfirmFunc
	Password     PasswordFunc
	PollInterval time.Duration
	OnOutcome    OutcomeFunc
	// TimeProvider defaults to the wall clock.
	TimeProvider session.TimeProvider
}

// New creates a pipeline. The receipt tracker is created stopped; callers
// run Start/Stop around the process lifetime.
func New(cfg Config) *Pipeline {
	tp := cfg.TimeProvider
	if tp == nil {
		tp = session.DefaultTimeProvider{}
	}
	pending := NewPendingSet()
	return &Pipeline{
		rpc:     cfg.RPC,
		network: cfg.Network,
		reg:     cfg.Registry,
		sgn:     cfg.Signer,
		sess:    cfg.Session,
		confirm: cfg.Confirm,
		askPass: cfg.Password,
		pending: pending,
		tracker: NewTracker(cfg.RPC, pending, cfg.PollInterval, cfg.OnOutcome),
		tp:      tp,
		inUse:   make(map[nonceKey]bool),
	}
}

// Start launches receipt polling.
func (p *Pipeline) Start() { p.tracker.Start() }

// Stop terminates receipt polling.
func (p *Pipeline) Stop() { p.tracker.Stop() }

// Pending returns the pending-transaction set.
func (p *Pipeline) Pending() *PendingSet { return p.pending }

// Poll runs one receipt round immediately.
func (p *Pipeline) Poll(ctx context.Context) { p.tracker.Poll(ctx) }

// Prepare fills in the blanks of a request by consulting the chain: nonce,
// gas limit, and fees. The result carries the confirmation summary and an
// unsigned transaction.
func (p *Pipeline) Prepare(ctx context.Context, req Request) (*Prepared, error) {
	acct, err := p.resolveAccount(req.AccountID)
	if err != nil {
		return nil, err
	}
	from := acct.Address

	value := req.Value
	if value == nil {
		value = new(big.Int)
	}
	if value.Sign() < 0 {
		return nil, walleterr.ErrInvalidAmount
	}

	nonce, err := p.resolveNonce(ctx, from, req.Nonce)
	if err != nil {
		return nil, err
	}

	gasLimit := req.GasLimit
	if gasLimit == 0 {
		gasLimit, err = p.estimateGas(ctx, from, req)
		if err != nil {
			return nil, err
		}
	}

	txType := req.Type
	if txType == "" {
		txType = p.network.TxType
	}

	var (
		tx      *types.Transaction
		feeCap  *big.Int
		tipUsed *big.Int
	)
	switch txType {
	case chains.TxTypeDynamicFee:
		maxFee, tip, err := p.dynamicFees(ctx, req)
		if err != nil {
			return nil, err
		}
		tx = types.NewTx(&types.DynamicFeeTx{
			ChainID:   new(big.Int).SetUint64(p.network.ChainID),
			Nonce:     nonce,
			GasTipCap: tip,
			GasFeeCap: maxFee,
			Gas:       gasLimit,
			To:        req.To,
			Value:     value,
			Data:      req.Data,
		})
		feeCap, tipUsed = maxFee, tip
	case chains.TxTypeLegacy:
		gasPrice := req.GasPrice
		if gasPrice == nil {
			gasPrice, err = p.rpc.GasPrice(ctx)
			if err != nil {
				return nil, walleterr.NetworkError(err)
			}
		}
		tx = types.NewTx(&types.LegacyTx{
			Nonce:    nonce,
			GasPrice: gasPrice,
			Gas:      gasLimit,
			To:       req.To,
			Value:    value,
			Data:     req.Data,
		})
		feeCap = gasPrice
	default:
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("unknown transaction type %q", txType))
	}

	total := new(big.Int).Mul(feeCap, new(big.Int).SetUint64(gasLimit))
	total.Add(total, value)

	return &Prepared{
		From:      from,
		AccountID: acct.ID,
		ChainID:   p.network.ChainID,
		Tx:        tx,
		Summary: Summary{
			From:        from,
			To:          req.To,
			Value:       value,
			GasLimit:    gasLimit,
			FeeCap:      feeCap,
			PriorityFee: tipUsed,
			TotalCost:   total,
			Nonce:       nonce,
			ChainID:     p.network.ChainID,
			Type:        txType,
		},
		EstimatedAt: p.tp.Now(),
	}, nil
}

// Submit drives a prepared transaction through the confirmation gate,
// signing, and broadcast, and records the pending entry.
func (p *Pipeline) Submit(ctx context.Context, prep *Prepared) (common.Hash, error) {
	approved, err := p.confirmGate(ctx, prep.Summary)
	if err != nil {
		return common.Hash{}, err
	}
	if !approved {
		return common.Hash{}, walleterr.ErrUserRejected
	}

	if err := p.acquireNonceSlot(prep.From, prep.Summary.Nonce); err != nil {
		return common.Hash{}, err
	}
	defer p.releaseNonceSlot(prep.From, prep.Summary.Nonce)

	raw, err := p.signWithPromptRetry(ctx, prep)
	if err != nil {
		return common.Hash{}, err
	}

	return p.broadcast(ctx, prep, raw)
}

// Send is Prepare followed by Submit.
func (p *Pipeline) Send(ctx context.Context, req Request) (common.Hash, error) {
	prep, err := p.Prepare(ctx, req)
	if err != nil {
		return common.Hash{}, err
	}
	return p.Submit(ctx, prep)
}

func (p *Pipeline) confirmGate(ctx context.Context, s Summary) (bool, error) {
	if p.confirm == nil {
		return true, nil
	}
	approved, err := p.confirm(ctx, s)
	if err != nil {
		return false, walleterr.Wrap(walleterr.ErrUserRejected, err)
	}
	return approved, nil
}

// signWithPromptRetry signs the prepared transaction, recovering from a
// password-required failure exactly once by prompting through the session.
// A stale gas estimate is re-fetched before the retry.
func (p *Pipeline) signWithPromptRetry(ctx context.Context, prep *Prepared) ([]byte, error) {
	raw, err := p.sgn.SignedTxBytes(prep.Tx, new(big.Int).SetUint64(prep.ChainID), prep.From, nil, p.sess)
	if err == nil {
		p.sess.Touch()
		return raw, nil
	}
	if !errors.Is(err, walleterr.ErrPasswordRequired) || p.askPass == nil {
		return nil, err
	}

	if err := p.unlockWithPrompt(ctx, prep); err != nil {
		return nil, err
	}

	if p.tp.Since(prep.EstimatedAt) > estimateMaxAge {
		if err := p.refreshEstimate(ctx, prep); err != nil {
			return nil, err
		}
	}

	raw, err = p.sgn.SignedTxBytes(prep.Tx, new(big.Int).SetUint64(prep.ChainID), prep.From, nil, p.sess)
	if err != nil {
		return nil, err
	}
	p.sess.Touch()
	return raw, nil
}

// unlockWithPrompt runs one password prompt and unlock attempt for the
// prepared transaction's account.
func (p *Pipeline) unlockWithPrompt(ctx context.Context, prep *Prepared) error {
	attempt, err := p.sess.Begin(prep.AccountID)
	if err != nil {
		return err
	}

	password, _, err := p.askPass(ctx, prep.Summary)
	if err != nil {
		attempt.Cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return walleterr.ErrSessionExpired
		}
		return walleterr.Wrap(walleterr.ErrUserRejected, err)
	}
	if password == nil {
		attempt.Cancel()
		return walleterr.ErrUserRejected
	}
	defer password.Destroy()

	acct, ok := p.reg.ByID(prep.AccountID)
	if !ok {
		attempt.Cancel()
		return walleterr.ErrAccountNotFound
	}

	key, err := p.sgn.DeriveAccountKey(acct, password)
	if err != nil {
		if errors.Is(err, walleterr.ErrIncorrectPassword) {
			return attempt.Fail()
		}
		attempt.Cancel()
		return err
	}

	attempt.Succeed()
	p.sess.CachePut(acct.Address, key)
	return nil
}

// refreshEstimate re-runs gas estimation and fee selection on a prepared
// transaction whose figures have gone stale while the user typed.
func (p *Pipeline) refreshEstimate(ctx context.Context, prep *Prepared) error {
	req := Request{
		AccountID: prep.AccountID,
		To:        prep.Summary.To,
		Value:     prep.Summary.Value,
		Data:      prep.Tx.Data(),
		Nonce:     &prep.Summary.Nonce,
		Type:      prep.Summary.Type,
	}
	fresh, err := p.Prepare(ctx, req)
	if err != nil {
		return err
	}
	prep.Tx = fresh.Tx
	prep.Summary = fresh.Summary
	prep.EstimatedAt = fresh.EstimatedAt
	return nil
}

func (p *Pipeline) broadcast(ctx context.Context, prep *Prepared, raw []byte) (common.Hash, error) {
	hash, err := p.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, walleterr.BroadcastFailed(err.Error())
	}

	entry := PendingTx{
		Hash:        hash,
		Nonce:       prep.Summary.Nonce,
		From:        prep.From,
		To:          prep.Summary.To,
		Value:       prep.Summary.Value,
		GasLimit:    prep.Summary.GasLimit,
		Data:        prep.Tx.Data(),
		Type:        prep.Summary.Type,
		ChainID:     prep.ChainID,
		SubmittedAt: p.tp.Now(),
	}
	switch prep.Summary.Type {
	case chains.TxTypeLegacy:
		entry.GasPrice = prep.Summary.FeeCap
	case chains.TxTypeDynamicFee:
		entry.MaxFee = prep.Summary.FeeCap
		entry.PriorityFee = prep.Summary.PriorityFee
	}
	p.pending.Add(entry)

	logrus.WithFields(logrus.Fields{
		"function": "broadcast",
		"hash":     hash.Hex(),
		"from":     prep.From.Hex(),
		"nonce":    prep.Summary.Nonce,
		"chain_id": prep.ChainID,
	}).Info("transaction broadcast")
	return hash, nil
}

func (p *Pipeline) resolveAccount(id string) (registry.Account, error) {
	if id != "" {
		acct, ok := p.reg.ByID(id)
		if !ok {
			return registry.Account{}, walleterr.ErrAccountNotFound
		}
		return acct, nil
	}
	acct, ok := p.reg.Current()
	if !ok {
		return registry.Account{}, walleterr.ErrAccountNotFound
	}
	return acct, nil
}

func (p *Pipeline) resolveNonce(ctx context.Context, from common.Address, override *uint64) (uint64, error) {
	chainNonce, err := p.rpc.Nonce(ctx, from)
	if err != nil {
		return 0, walleterr.NetworkError(err)
	}
	if override == nil {
		return chainNonce, nil
	}
	if *override > chainNonce {
		return 0, walleterr.Wrap(walleterr.ErrNonceGap,
			fmt.Errorf("nonce %d is ahead of the account's next nonce %d", *override, chainNonce))
	}
	return *override, nil
}

func (p *Pipeline) estimateGas(ctx context.Context, from common.Address, req Request) (uint64, error) {
	gas, err := p.rpc.EstimateGas(ctx, chainrpc.CallMsg{
		From:  from,
		To:    req.To,
		Value: req.Value,
		Data:  req.Data,
	})
	if err != nil {
		// The node's reason travels verbatim; no silent fallback.
		return 0, walleterr.GasEstimationFailed(err.Error())
	}
	return gas, nil
}

// dynamicFees picks EIP-1559 fees: the suggested priority tip and a max fee
// of twice the base fee plus the tip, unless overridden.
func (p *Pipeline) dynamicFees(ctx context.Context, req Request) (maxFee, tip *big.Int, err error) {
	tip = req.PriorityFee
	if tip == nil {
		tip, err = p.rpc.SuggestPriorityFee(ctx)
		if err != nil {
			return nil, nil, walleterr.NetworkError(err)
		}
	}
	maxFee = req.MaxFee
	if maxFee == nil {
		baseFee, err := p.rpc.BaseFee(ctx)
		if err != nil {
			return nil, nil, walleterr.NetworkError(err)
		}
		maxFee = new(big.Int).Lsh(baseFee, 1)
		maxFee.Add(maxFee, tip)
	}
	return maxFee, tip, nil
}

func (p *Pipeline) acquireNonceSlot(from common.Address, nonce uint64) error {
	p.nonceMu.Lock()
	defer p.nonceMu.Unlock()
	key := nonceKey{from: from, nonce: nonce}
	if p.inUse[key] {
		return walleterr.Wrap(walleterr.ErrNonceMismatch,
			fmt.Errorf("a broadcast for nonce %d is already in progress", nonce))
	}
	p.inUse[key] = true
	return nil
}

func (p *Pipeline) releaseNonceSlot(from common.Address, nonce uint64) {
	p.nonceMu.Lock()
	defer p.nonceMu.Unlock()
	delete(p.inUse, nonceKey{from: from, nonce: nonce})
}
