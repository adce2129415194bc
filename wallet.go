package walletcore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"

	"github.com/opd-ai/walletcore/chains"
	"github.com/opd-ai/walletcore/chainrpc"
	"github.com/opd-ai/walletcore/keystore"
	"github.com/opd-ai/walletcore/registry"
	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/seedcrypt"
	"github.com/opd-ai/walletcore/session"
	"github.com/opd-ai/walletcore/signer"
	"github.com/opd-ai/walletcore/txpipe"
	"github.com/opd-ai/walletcore/walleterr"
)

// Options configures a Wallet.
type Options struct {
	// ConfigDir roots all persistence. Defaults to the user configuration
	// directory.
	ConfigDir string
	// DevicePassphrase keys the encrypted-file secret store fallback.
	DevicePassphrase []byte
	// SessionTimeout is the inactivity timeout; zero selects the default,
	// negative disables auto-lock.
	SessionTimeout time.Duration
	// LockOnMinimize locks the session on the window-minimize signal.
	LockOnMinimize bool
	// PollInterval is the receipt polling cadence; zero selects the
	// default.
	PollInterval time.Duration
	// Prompt is the user-facing prompt channel. Without one, operations
	// that need a password fail with a password-required error instead of
	// prompting, transactions are sent without a confirmation gate, and
	// RemoveAccount deletes without a password check.
	Prompt PromptHandler
	// Store overrides secret-store selection, mainly for tests.
	Store keystore.Store
	// TimeProvider overrides the wall clock, mainly for tests.
	TimeProvider session.TimeProvider
}

// NewOptions returns Options with defaults filled in.
func NewOptions() *Options {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return &Options{
		ConfigDir:      filepath.Join(dir, "walletcore"),
		SessionTimeout: session.DefaultTimeout,
		PollInterval:   txpipe.DefaultPollInterval,
	}
}

// Wallet wires the security and transaction core together: secret storage,
// the account catalog, the session, the signer, and one transaction
// pipeline per connected network.
type Wallet struct {
	opts     *Options
	store    keystore.Store
	reg      *registry.Registry
	networks *chains.Table
	sess     *session.Session
	sgn      *signer.Signer
	tp       session.TimeProvider

	mu          sync.Mutex
	pipes       map[uint64]*txpipe.Pipeline
	activeChain uint64
	killed      bool
}

// New opens (or initializes) the wallet rooted at opts.ConfigDir. The
// secure-memory capability probe runs here; its result shortens session
// timeouts when page locking is unavailable.
func New(opts *Options) (*Wallet, error) {
	if opts == nil {
		opts = NewOptions()
	}
	tp := opts.TimeProvider
	if tp == nil {
		tp = session.DefaultTimeProvider{}
	}

	swapLock := securemem.Probe()

	store := opts.Store
	if store == nil {
		var err error
		store, err = keystore.Open(opts.ConfigDir, opts.DevicePassphrase)
		if err != nil {
			return nil, err
		}
	}

	reg, err := registry.Load(opts.ConfigDir)
	if err != nil {
		return nil, err
	}
	if err := reg.Reconcile(store); err != nil {
		return nil, err
	}

	networks, err := chains.Load(opts.ConfigDir)
	if err != nil {
		return nil, err
	}

	sess := session.New(session.Config{
		Timeout:           opts.SessionTimeout,
		LockOnMinimize:    opts.LockOnMinimize,
		SwapLockAvailable: swapLock,
	}, tp)

	w := &Wallet{
		opts:     opts,
		store:    store,
		reg:      reg,
		networks: networks,
		sess:     sess,
		sgn:      signer.New(reg, store),
		tp:       tp,
		pipes:    make(map[uint64]*txpipe.Pipeline),
	}

	logrus.WithFields(logrus.Fields{
		"function":  "New",
		"accounts":  reg.Len(),
		"swap_lock": swapLock,
	}).Info("wallet core initialized")
	return w, nil
}

// Kill shuts the wallet down: receipt polling stops, the session locks,
// and every cached key is zeroized.
func (w *Wallet) Kill() {
	w.mu.Lock()
	if w.killed {
		w.mu.Unlock()
		return
	}
	w.killed = true
	pipes := make([]*txpipe.Pipeline, 0, len(w.pipes))
	for _, p := range w.pipes {
		pipes = append(pipes, p)
	}
	w.mu.Unlock()

	for _, p := range pipes {
		p.Stop()
	}
	w.sess.Lock()
	if fs, ok := w.store.(*keystore.FileStore); ok {
		fs.Close()
	}
	logrus.WithField("function", "Kill").Info("wallet core shut down")
}

// Session exposes the session for lock/extend/minimize signals.
func (w *Wallet) Session() *session.Session { return w.sess }

// Networks exposes the network descriptor table.
func (w *Wallet) Networks() *chains.Table { return w.networks }

// Accounts lists the account catalog in stored order.
func (w *Wallet) Accounts() []registry.Account { return w.reg.List() }

// CurrentAccount returns the selected account.
func (w *Wallet) CurrentAccount() (registry.Account, bool) { return w.reg.Current() }

// SelectAccount changes the selected account and counts as activity.
func (w *Wallet) SelectAccount(id string) error {
	if err := w.reg.SetCurrent(id); err != nil {
		return err
	}
	w.sess.Touch()
	return nil
}

// CreateAccount imports a BIP-39 mnemonic as a new seed-derived account:
// the mnemonic is validated, its first address derived along path, the
// mnemonic sealed under password and persisted through the secret store.
// Ownership of the mnemonic and password regions transfers to the call;
// both are zeroized before it returns.
func (w *Wallet) CreateAccount(name string, mnemonic, password *securemem.Region, path string) (registry.Account, error) {
	defer mnemonic.Destroy()
	defer password.Destroy()

	if password.Len() == 0 {
		return registry.Account{}, walleterr.ErrEmptyPassword
	}
	if path == "" {
		path = registry.DefaultDerivationPath
	}
	if err := seedcrypt.ValidateMnemonic(mnemonic); err != nil {
		return registry.Account{}, err
	}

	key, address, err := signer.DeriveFromMnemonic(mnemonic, path)
	if err != nil {
		return registry.Account{}, err
	}
	key.Destroy()

	record, err := seedcrypt.Encrypt(mnemonic, password)
	if err != nil {
		return registry.Account{}, err
	}
	recordRegion := securemem.NewRegionFromBytes(record)
	defer recordRegion.Destroy()

	secretID := uuid.NewString()
	if err := w.store.Store(keystore.NamespaceSeedStore, secretID, recordRegion); err != nil {
		return registry.Account{}, err
	}

	acct := registry.Account{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Kind:    registry.KindSeedDerived,
		KeyReference: registry.KeyReference{
			Namespace: keystore.NamespaceSeedStore,
			ID:        secretID,
		},
		DerivationPath: path,
		CreatedAt:      w.tp.Now(),
	}
	if err := w.reg.Add(acct); err != nil {
		w.store.Delete(keystore.NamespaceSeedStore, secretID)
		return registry.Account{}, err
	}
	return acct, nil
}

// GenerateAccount creates a fresh 24-word mnemonic and imports it under
// password. The caller is handed the mnemonic region to display for backup
// and owns it.
func (w *Wallet) GenerateAccount(name string, password *securemem.Region) (registry.Account, *securemem.Region, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return registry.Account{}, nil, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
	}
	phrase, err := bip39.NewMnemonic(entropy)
	securemem.Wipe(entropy)
	if err != nil {
		return registry.Account{}, nil, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
	}

	backup := securemem.NewRegionFromBytes([]byte(phrase))
	acct, err := w.CreateAccount(name, backup.Clone(), password, registry.DefaultDerivationPath)
	if err != nil {
		backup.Destroy()
		return registry.Account{}, nil, err
	}
	return acct, backup, nil
}

// ImportPrivateKey registers a raw secp256k1 key as an imported account.
// Ownership of the key region transfers to the call.
func (w *Wallet) ImportPrivateKey(name string, key *securemem.Region) (registry.Account, error) {
	defer key.Destroy()

	address, err := signer.AddressOfKey(key)
	if err != nil {
		return registry.Account{}, err
	}

	secretID := uuid.NewString()
	if err := w.store.Store(keystore.NamespacePrivateKeyStore, secretID, key); err != nil {
		return registry.Account{}, err
	}

	acct := registry.Account{
		ID:      uuid.NewString(),
		Name:    name,
		Address: address,
		Kind:    registry.KindImportedPrivateKey,
		KeyReference: registry.KeyReference{
			Namespace: keystore.NamespacePrivateKeyStore,
			ID:        secretID,
		},
		CreatedAt: w.tp.Now(),
	}
	if err := w.reg.Add(acct); err != nil {
		w.store.Delete(keystore.NamespacePrivateKeyStore, secretID)
		return registry.Account{}, err
	}
	return acct, nil
}

// RemoveAccount deletes an account and its stored secret, gated on a
// password prompt when a prompt handler is configured.
func (w *Wallet) RemoveAccount(ctx context.Context, id string) error {
	acct, ok := w.reg.ByID(id)
	if !ok {
		return walleterr.ErrAccountNotFound
	}

	if w.opts.Prompt != nil {
		password, err := w.promptPassword(ctx, PromptRequest{Reason: ReasonDeleteAccount, AccountID: id})
		if err != nil {
			return err
		}
		err = w.verifyPassword(acct, password)
		password.Destroy()
		if err != nil {
			return err
		}
	}

	if err := w.reg.Remove(id); err != nil {
		return err
	}
	w.sess.CacheEvict(acct.Address)
	if acct.Kind != registry.KindHardware {
		if err := w.store.Delete(acct.KeyReference.Namespace, acct.KeyReference.ID); err != nil {
			return err
		}
	}
	return nil
}

// Unlock validates password for an account and, on success, unlocks the
// session and caches the account's derived key. Ownership of the password
// region transfers to the call.
func (w *Wallet) Unlock(accountID string, password *securemem.Region) error {
	defer password.Destroy()

	if password.Len() == 0 {
		return walleterr.ErrEmptyPassword
	}
	acct, ok := w.reg.ByID(accountID)
	if !ok {
		return walleterr.ErrAccountNotFound
	}

	attempt, err := w.sess.Begin(accountID)
	if err != nil {
		return err
	}
	key, err := w.sgn.DeriveAccountKey(acct, password)
	if err != nil {
		if errors.Is(err, walleterr.ErrIncorrectPassword) {
			return attempt.Fail()
		}
		attempt.Cancel()
		return err
	}
	attempt.Succeed()
	w.sess.CachePut(acct.Address, key)
	return nil
}

// Lock locks the session and zeroizes all cached keys.
func (w *Wallet) Lock() { w.sess.Lock() }

// ExtendSession records user activity.
func (w *Wallet) ExtendSession() { w.sess.Touch() }

// UseNetwork connects a pipeline for the given chain over rpc and makes it
// the active network. Reconnecting a chain replaces its pipeline.
func (w *Wallet) UseNetwork(chainID uint64, rpc chainrpc.Client) error {
	network, ok := w.networks.Get(chainID)
	if !ok {
		return walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("chain %d is not in the network table", chainID))
	}

	pipe := txpipe.New(txpipe.Config{
		RPC:          rpc,
		Network:      network,
		Registry:     w.reg,
		Signer:       w.sgn,
		Session:      w.sess,
		Confirm:      w.confirmFunc(),
		Password:     w.passwordFunc(),
		PollInterval: w.opts.PollInterval,
		TimeProvider: w.tp,
	})
	pipe.Start()

	w.mu.Lock()
	if old, ok := w.pipes[chainID]; ok {
		old.Stop()
	}
	w.pipes[chainID] = pipe
	w.activeChain = chainID
	w.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "UseNetwork",
		"chain_id": chainID,
		"network":  network.Name,
	}).Info("network connected")
	return nil
}

// SelectNetwork switches the active network among the connected ones.
func (w *Wallet) SelectNetwork(chainID uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pipes[chainID]; !ok {
		return walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("chain %d is not connected", chainID))
	}
	w.activeChain = chainID
	return nil
}

func (w *Wallet) activePipe() (*txpipe.Pipeline, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	pipe, ok := w.pipes[w.activeChain]
	if !ok {
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("no network connected"))
	}
	return pipe, nil
}

// Send runs a request through the active network's pipeline.
func (w *Wallet) Send(ctx context.Context, req txpipe.Request) (common.Hash, error) {
	pipe, err := w.activePipe()
	if err != nil {
		return common.Hash{}, err
	}
	return pipe.Send(ctx, req)
}

// CancelTransaction replaces a pending transaction with a self-send.
func (w *Wallet) CancelTransaction(ctx context.Context, hash common.Hash) (common.Hash, error) {
	pipe, err := w.activePipe()
	if err != nil {
		return common.Hash{}, err
	}
	return pipe.Cancel(ctx, hash)
}

// SpeedUpTransaction rebroadcasts a pending transaction at bumped fees.
func (w *Wallet) SpeedUpTransaction(ctx context.Context, hash common.Hash) (common.Hash, error) {
	pipe, err := w.activePipe()
	if err != nil {
		return common.Hash{}, err
	}
	return pipe.SpeedUp(ctx, hash)
}

// PendingTransactions lists the active network's in-flight transactions.
func (w *Wallet) PendingTransactions() []txpipe.PendingTx {
	pipe, err := w.activePipe()
	if err != nil {
		return nil
	}
	return pipe.Pending().List()
}

// SignMessage signs msg with personal_sign semantics for the given account,
// prompting for the password when the session has no key for it.
func (w *Wallet) SignMessage(ctx context.Context, accountID string, msg []byte) ([]byte, error) {
	acct, ok := w.reg.ByID(accountID)
	if !ok {
		return nil, walleterr.ErrAccountNotFound
	}

	sig, err := w.sgn.SignPersonal(msg, acct.Address, nil, w.sess)
	if err == nil {
		w.sess.Touch()
		return sig, nil
	}
	if !errors.Is(err, walleterr.ErrPasswordRequired) || w.opts.Prompt == nil {
		return nil, err
	}

	if err := w.promptUnlock(ctx, PromptRequest{Reason: ReasonUnlock, AccountID: accountID}, acct); err != nil {
		return nil, err
	}
	sig, err = w.sgn.SignPersonal(msg, acct.Address, nil, w.sess)
	if err != nil {
		return nil, err
	}
	w.sess.Touch()
	return sig, nil
}

// ExportSeed reveals a seed-derived account's mnemonic after a password
// prompt. The caller owns the returned region.
func (w *Wallet) ExportSeed(ctx context.Context, accountID string) (*securemem.Region, error) {
	acct, ok := w.reg.ByID(accountID)
	if !ok {
		return nil, walleterr.ErrAccountNotFound
	}
	if acct.Kind != registry.KindSeedDerived {
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("account %q has no seed", accountID))
	}

	password, err := w.promptPassword(ctx, PromptRequest{Reason: ReasonExportSeed, AccountID: accountID})
	if err != nil {
		return nil, err
	}
	defer password.Destroy()

	record, err := w.store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
	if err != nil {
		return nil, err
	}
	defer record.Destroy()

	return seedcrypt.Decrypt(record.Bytes(), password)
}

// ExportPrivateKey reveals an account's raw signing key after a password
// prompt. The caller owns the returned region.
func (w *Wallet) ExportPrivateKey(ctx context.Context, accountID string) (*securemem.Region, error) {
	acct, ok := w.reg.ByID(accountID)
	if !ok {
		return nil, walleterr.ErrAccountNotFound
	}

	password, err := w.promptPassword(ctx, PromptRequest{Reason: ReasonExportPrivateKey, AccountID: accountID})
	if err != nil {
		return nil, err
	}
	defer password.Destroy()

	if acct.Kind == registry.KindSeedDerived {
		return w.sgn.DeriveAccountKey(acct, password)
	}
	if err := w.verifyPassword(acct, password); err != nil {
		return nil, err
	}
	return w.sgn.DeriveAccountKey(acct, password)
}

// promptPassword opens the prompt channel with the standard timeout.
func (w *Wallet) promptPassword(ctx context.Context, req PromptRequest) (*securemem.Region, error) {
	if w.opts.Prompt == nil {
		return nil, walleterr.ErrPasswordRequired
	}
	ctx, cancel := context.WithTimeout(ctx, PromptTimeout)
	defer cancel()

	password, _, err := w.opts.Prompt.RequestPassword(ctx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, walleterr.ErrSessionExpired
		}
		return nil, walleterr.Wrap(walleterr.ErrUserRejected, err)
	}
	if password == nil {
		return nil, walleterr.ErrUserRejected
	}
	return password, nil
}

// promptUnlock prompts for a password and runs a full rate-limited unlock
// attempt for acct.
func (w *Wallet) promptUnlock(ctx context.Context, req PromptRequest, acct registry.Account) error {
	attempt, err := w.sess.Begin(acct.ID)
	if err != nil {
		return err
	}

	password, err := w.promptPassword(ctx, req)
	if err != nil {
		attempt.Cancel()
		return err
	}
	defer password.Destroy()

	key, err := w.sgn.DeriveAccountKey(acct, password)
	if err != nil {
		if errors.Is(err, walleterr.ErrIncorrectPassword) {
			return attempt.Fail()
		}
		attempt.Cancel()
		return err
	}
	attempt.Succeed()
	w.sess.CachePut(acct.Address, key)
	return nil
}

// verifyPassword checks a password against an account's secret without
// retaining anything.
func (w *Wallet) verifyPassword(acct registry.Account, password *securemem.Region) error {
	switch acct.Kind {
	case registry.KindSeedDerived:
		record, err := w.store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
		if err != nil {
			return err
		}
		defer record.Destroy()
		mnemonic, err := seedcrypt.Decrypt(record.Bytes(), password)
		if err != nil {
			return err
		}
		mnemonic.Destroy()
		return nil
	default:
		// Imported keys carry no password of their own; the prompt is a
		// presence check only.
		return nil
	}
}

// confirmFunc bridges the pipeline's confirmation gate to the prompt
// handler.
func (w *Wallet) confirmFunc() txpipe.ConfirmFunc {
	if w.opts.Prompt == nil {
		return nil
	}
	return func(ctx context.Context, s txpipe.Summary) (bool, error) {
		return w.opts.Prompt.ConfirmTransaction(ctx, s)
	}
}

// passwordFunc bridges the pipeline's password recovery to the prompt
// handler, applying the prompt timeout.
func (w *Wallet) passwordFunc() txpipe.PasswordFunc {
	if w.opts.Prompt == nil {
		return nil
	}
	return func(ctx context.Context, s txpipe.Summary) (*securemem.Region, bool, error) {
		ctx, cancel := context.WithTimeout(ctx, PromptTimeout)
		defer cancel()
		summary := s
		return w.opts.Prompt.RequestPassword(ctx, PromptRequest{
			Reason:  ReasonSignTransaction,
			Summary: &summary,
		})
	}
}
