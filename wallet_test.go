package walletcore

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/walletcore/chainrpc"
	"github.com/opd-ai/walletcore/keystore"
	"github.com/opd-ai/walletcore/registry"
	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/session"
	"github.com/opd-ai/walletcore/txpipe"
	"github.com/opd-ai/walletcore/walleterr"
)

const (
	testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth title"
	testPassword = "correct-horse-battery-staple"

	// Re-derived from the mnemonic above at m/44'/60'/0'/0/0.
	testAddressHex = "0x2f826cb22e80a2c40f149ecb92b2fa5ecbf67170"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Since(t time.Time) time.Duration { return c.Now().Sub(t) }

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// stubRPC answers every query with fixed values; good enough to drive the
// pipeline end to end.
type stubRPC struct {
	mu       sync.Mutex
	nonce    uint64
	gasPrice *big.Int
	sent     []*types.Transaction
}

func newStubRPC() *stubRPC {
	return &stubRPC{gasPrice: big.NewInt(20_000_000_000)}
}

func (s *stubRPC) ChainID(context.Context) (uint64, error) { return 1, nil }
func (s *stubRPC) Balance(context.Context, common.Address) (*big.Int, error) {
	return new(big.Int).Mul(big.NewInt(100), big.NewInt(1e18)), nil
}
func (s *stubRPC) Nonce(context.Context, common.Address) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nonce, nil
}
func (s *stubRPC) GasPrice(context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.gasPrice), nil
}
func (s *stubRPC) BaseFee(context.Context) (*big.Int, error) {
	return big.NewInt(15_000_000_000), nil
}
func (s *stubRPC) SuggestPriorityFee(context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}
func (s *stubRPC) EstimateGas(context.Context, chainrpc.CallMsg) (uint64, error) {
	return 21000, nil
}
func (s *stubRPC) Call(context.Context, chainrpc.CallMsg) ([]byte, error) { return nil, nil }
func (s *stubRPC) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, &tx)
	return tx.Hash(), nil
}
func (s *stubRPC) TransactionReceipt(context.Context, common.Hash) (*chainrpc.Receipt, error) {
	return nil, nil
}

// recordingPrompt answers password prompts with a fixed password and
// records every request.
type recordingPrompt struct {
	mu       sync.Mutex
	password string
	approve  bool
	requests []PromptRequest
}

func (p *recordingPrompt) RequestPassword(_ context.Context, req PromptRequest) (*securemem.Region, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requests = append(p.requests, req)
	if p.password == "" {
		return nil, false, nil
	}
	return securemem.NewRegionFromBytes([]byte(p.password)), false, nil
}

func (p *recordingPrompt) ConfirmTransaction(context.Context, txpipe.Summary) (bool, error) {
	return p.approve, nil
}

func (p *recordingPrompt) promptCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

func region(s string) *securemem.Region {
	return securemem.NewRegionFromBytes([]byte(s))
}

func newTestWallet(t *testing.T) (*Wallet, *stubRPC, *recordingPrompt, *fakeClock) {
	t.Helper()
	dir := t.TempDir()

	store, err := keystore.NewFileStore(dir, []byte("device-passphrase"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	clock := newFakeClock()
	prompt := &recordingPrompt{password: testPassword, approve: true}

	w, err := New(&Options{
		ConfigDir:      dir,
		SessionTimeout: session.DefaultTimeout,
		Prompt:         prompt,
		Store:          store,
		TimeProvider:   clock,
	})
	require.NoError(t, err)
	t.Cleanup(w.Kill)

	rpc := newStubRPC()
	require.NoError(t, w.UseNetwork(1, rpc))
	return w, rpc, prompt, clock
}

// Scenario: first-time account creation from a known mnemonic. The account
// lands in the registry with the re-derived address and the mnemonic region
// is zeroized on return.
func TestCreateAccountFromMnemonic(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	mnemonic := region(testMnemonic)
	password := region(testPassword)

	acct, err := w.CreateAccount("primary", mnemonic, password, "m/44'/60'/0'/0/0")
	require.NoError(t, err)

	require.Equal(t, common.HexToAddress(testAddressHex), acct.Address)
	require.Equal(t, registry.KindSeedDerived, acct.Kind)
	require.Len(t, w.Accounts(), 1)

	// Ownership transferred: the inputs were destroyed by the call.
	require.False(t, mnemonic.Alive(), "mnemonic region survived account creation")
	require.False(t, password.Alive(), "password region survived account creation")

	// The new account became current.
	cur, ok := w.CurrentAccount()
	require.True(t, ok)
	require.Equal(t, acct.ID, cur.ID)
}

func TestCreateAccountRejectsBadMnemonic(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	_, err := w.CreateAccount("bad", region("not a real phrase"), region(testPassword), "")
	require.Error(t, err)
	require.Len(t, w.Accounts(), 0)
}

func TestCreateAccountRejectsEmptyPassword(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	_, err := w.CreateAccount("x", region(testMnemonic), securemem.Allocate(0), "")
	require.ErrorIs(t, err, walleterr.ErrEmptyPassword)
}

// Scenario: unlock then sign on an unlocked session. The first send prompts
// for the password; a second send inside the session window does not.
func TestSendSignsAndTracksPending(t *testing.T) {
	w, rpc, prompt, _ := newTestWallet(t)

	_, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	to := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	req := txpipe.Request{
		To:    &to,
		Value: big.NewInt(1e18),
		Type:  "legacy",
	}

	hash, err := w.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, prompt.promptCount(), "first sign should prompt exactly once")

	// The broadcast legacy transaction carries an EIP-155 v for chain 1
	// and recovers to the account's address.
	rpc.mu.Lock()
	sent := rpc.sent[len(rpc.sent)-1]
	rpc.mu.Unlock()
	v, _, sVal := sent.RawSignatureValues()
	require.Contains(t, []uint64{37, 38}, v.Uint64())
	halfN := new(big.Int).Rsh(crypto.S256().Params().N, 1)
	require.LessOrEqual(t, sVal.Cmp(halfN), 0, "s must be in the lower half of the curve order")

	sender, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), sent)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress(testAddressHex), sender)

	pending := w.PendingTransactions()
	require.Len(t, pending, 1)
	require.Equal(t, hash, pending[0].Hash)

	// Second send within the session: the cached key signs silently.
	rpc.mu.Lock()
	rpc.nonce = 1
	rpc.mu.Unlock()
	_, err = w.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 1, prompt.promptCount(), "cached key should not prompt again")
}

// Scenario: inactivity lock. After the timeout the cache is empty and the
// next sign issues a fresh prompt.
func TestInactivityLockForcesReprompt(t *testing.T) {
	w, rpc, prompt, clock := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	require.NoError(t, w.Unlock(acct.ID, region(testPassword)))
	require.True(t, w.Session().Unlocked())

	to := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	req := txpipe.Request{To: &to, Value: big.NewInt(1), Type: "legacy"}
	_, err = w.Send(context.Background(), req)
	require.NoError(t, err)
	promptsBefore := prompt.promptCount()

	clock.Advance(session.DefaultTimeout + time.Second)

	require.Equal(t, 0, w.Session().CacheLen(), "cache must be empty after the timeout")

	rpc.mu.Lock()
	rpc.nonce = 1
	rpc.mu.Unlock()
	_, err = w.Send(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, promptsBefore+1, prompt.promptCount(), "expired session must prompt again")
}

func TestUnlockBackoffSchedule(t *testing.T) {
	w, _, _, clock := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	err = w.Unlock(acct.ID, region("wrong-1"))
	require.Equal(t, 2, walleterr.AttemptsRemaining(err))

	clock.Advance(2 * time.Second)
	err = w.Unlock(acct.ID, region("wrong-2"))
	require.Equal(t, 1, walleterr.AttemptsRemaining(err))

	clock.Advance(2 * time.Second)
	err = w.Unlock(acct.ID, region("wrong-3"))
	require.Equal(t, walleterr.CodeTooManyAttempts, walleterr.CodeOf(err))
	require.Equal(t, 2*time.Second, walleterr.RetryAfter(err))

	clock.Advance(3 * time.Second)
	require.NoError(t, w.Unlock(acct.ID, region(testPassword)))
	require.True(t, w.Session().Unlocked())
}

func TestExportSeedRoundTrips(t *testing.T) {
	w, _, prompt, _ := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	mnemonic, err := w.ExportSeed(context.Background(), acct.ID)
	require.NoError(t, err)
	defer mnemonic.Destroy()
	require.Equal(t, testMnemonic, string(mnemonic.Bytes()))

	// The export went through the prompt channel with the right reason.
	prompt.mu.Lock()
	last := prompt.requests[len(prompt.requests)-1]
	prompt.mu.Unlock()
	require.Equal(t, ReasonExportSeed, last.Reason)
}

func TestExportSeedDeniedWithoutPassword(t *testing.T) {
	w, _, prompt, _ := newTestWallet(t)
	prompt.password = "" // user cancels

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	_, err = w.ExportSeed(context.Background(), acct.ID)
	require.ErrorIs(t, err, walleterr.ErrUserRejected)
}

func TestImportPrivateKeyAndSend(t *testing.T) {
	w, _, prompt, _ := newTestWallet(t)

	priv, err := crypto.HexToECDSA("4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318")
	require.NoError(t, err)
	want := crypto.PubkeyToAddress(priv.PublicKey)

	acct, err := w.ImportPrivateKey("imported", securemem.NewRegionFromBytes(crypto.FromECDSA(priv)))
	require.NoError(t, err)
	require.Equal(t, want, acct.Address)
	require.Equal(t, registry.KindImportedPrivateKey, acct.Kind)

	// Imported accounts sign without the master password.
	to := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	_, err = w.Send(context.Background(), txpipe.Request{
		AccountID: acct.ID,
		To:        &to,
		Value:     big.NewInt(1),
		Type:      "legacy",
	})
	require.NoError(t, err)
	require.Equal(t, 0, prompt.promptCount())
}

func TestGenerateAccount(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	acct, backup, err := w.GenerateAccount("fresh", region(testPassword))
	require.NoError(t, err)
	defer backup.Destroy()

	require.Len(t, w.Accounts(), 1)
	require.NotEqual(t, common.Address{}, acct.Address)

	// The backup phrase reconstructs the same account.
	w2dir := t.TempDir()
	store2, err := keystore.NewFileStore(w2dir, []byte("other-device"))
	require.NoError(t, err)
	t.Cleanup(store2.Close)
	w2, err := New(&Options{ConfigDir: w2dir, Store: store2, TimeProvider: newFakeClock()})
	require.NoError(t, err)
	t.Cleanup(w2.Kill)

	restored, err := w2.CreateAccount("restored", backup.Clone(), region(testPassword), registry.DefaultDerivationPath)
	require.NoError(t, err)
	require.Equal(t, acct.Address, restored.Address)
}

func TestRemoveAccountDeletesSecret(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	require.NoError(t, w.RemoveAccount(context.Background(), acct.ID))
	require.Len(t, w.Accounts(), 0)

	// The stored seed record is gone with it.
	_, err = w.store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
	require.ErrorIs(t, err, walleterr.ErrSecretNotFound)
}

func TestSignMessagePromptsWhenLocked(t *testing.T) {
	w, _, prompt, _ := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	sig, err := w.SignMessage(context.Background(), acct.ID, []byte("hello"))
	require.NoError(t, err)
	require.Len(t, sig, 65)
	require.Equal(t, 1, prompt.promptCount())

	// Second message signs from the cache.
	_, err = w.SignMessage(context.Background(), acct.ID, []byte("again"))
	require.NoError(t, err)
	require.Equal(t, 1, prompt.promptCount())
}

func TestDuplicateMnemonicRejected(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	_, err := w.CreateAccount("a", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)

	// Same mnemonic and path derive the same address, which the registry
	// rejects; the orphaned secret is cleaned up.
	_, err = w.CreateAccount("b", region(testMnemonic), region(testPassword), "")
	require.Error(t, err)
	require.Len(t, w.Accounts(), 1)
}

func TestRegistryPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	store, err := keystore.NewFileStore(dir, []byte("device"))
	require.NoError(t, err)

	w, err := New(&Options{ConfigDir: dir, Store: store, TimeProvider: newFakeClock()})
	require.NoError(t, err)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)
	w.Kill()

	store2, err := keystore.NewFileStore(dir, []byte("device"))
	require.NoError(t, err)
	t.Cleanup(store2.Close)
	w2, err := New(&Options{ConfigDir: dir, Store: store2, TimeProvider: newFakeClock()})
	require.NoError(t, err)
	t.Cleanup(w2.Kill)

	accounts := w2.Accounts()
	require.Len(t, accounts, 1)
	require.Equal(t, acct.Address, accounts[0].Address)

	// And the restored account can still unlock with the same password.
	require.NoError(t, w2.Unlock(accounts[0].ID, region(testPassword)))
}

func TestUseNetworkUnknownChain(t *testing.T) {
	w, _, _, _ := newTestWallet(t)
	err := w.UseNetwork(424242, newStubRPC())
	require.Error(t, err)
}

func TestSendWithoutNetwork(t *testing.T) {
	dir := t.TempDir()
	store, err := keystore.NewFileStore(dir, []byte("device"))
	require.NoError(t, err)
	t.Cleanup(store.Close)

	w, err := New(&Options{ConfigDir: dir, Store: store, TimeProvider: newFakeClock()})
	require.NoError(t, err)
	t.Cleanup(w.Kill)

	to := common.HexToAddress("0x8ba1f109551bd432803012645ac136ddd64dba72")
	_, err = w.Send(context.Background(), txpipe.Request{To: &to, Value: big.NewInt(1)})
	require.Error(t, err)
}

func TestKillLocksSession(t *testing.T) {
	w, _, _, _ := newTestWallet(t)

	acct, err := w.CreateAccount("primary", region(testMnemonic), region(testPassword), "")
	require.NoError(t, err)
	require.NoError(t, w.Unlock(acct.ID, region(testPassword)))
	require.True(t, w.Session().Unlocked())

	w.Kill()
	require.Equal(t, session.StateLocked, w.Session().State())
	require.Equal(t, 0, w.Session().CacheLen())
}
