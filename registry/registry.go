package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/keystore"
	"github.com/opd-ai/walletcore/walleterr"
)

// FileName is the catalog document name under the configuration directory.
const FileName = "accounts.json"

const documentVersion = 1

// document is the on-disk shape. The accounts array keeps stored order; the
// current field persists the selected account alongside it.
type document struct {
	Version  int       `json:"version"`
	Current  string    `json:"current,omitempty"`
	Accounts []Account `json:"accounts"`
}

// Registry is the single authoritative in-memory copy of the account
// catalog. All mutations funnel through it and rewrite the document.
type Registry struct {
	mu       sync.Mutex
	path     string
	accounts []Account
	current  string
}

// Load reads the catalog at <configDir>/accounts.json, creating an empty
// one if the file does not exist.
func Load(configDir string) (*Registry, error) {
	r := &Registry{path: filepath.Join(configDir, FileName)}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return r, nil
		}
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, fmt.Errorf("corrupt account catalog: %w", err))
	}
	if doc.Version != documentVersion {
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("unknown account catalog version %d", doc.Version))
	}
	r.accounts = doc.Accounts
	r.current = doc.Current

	logrus.WithFields(logrus.Fields{
		"function": "Load",
		"accounts": len(r.accounts),
	}).Info("account catalog loaded")
	return r, nil
}

// Reconcile drops accounts whose referenced secret is no longer present in
// the store and rewrites the document when anything was dropped. Hardware
// accounts carry no stored secret and are kept as-is.
func (r *Registry) Reconcile(store keystore.Store) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.accounts[:0]
	dropped := 0
	for _, acct := range r.accounts {
		if acct.Kind != KindHardware {
			secret, err := store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
			if err != nil && !errors.Is(err, walleterr.ErrSecretNotFound) {
				logrus.WithFields(logrus.Fields{
					"function": "Reconcile",
					"account":  acct.ID,
					"error":    err.Error(),
				}).Warn("keeping account; secret store lookup failed")
				kept = append(kept, acct)
				continue
			}
			if err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Reconcile",
					"account":  acct.ID,
					"address":  acct.Address.Hex(),
					"error":    err.Error(),
				}).Warn("dropping account whose secret is missing from the store")
				dropped++
				continue
			}
			secret.Destroy()
		}
		kept = append(kept, acct)
	}
	if dropped == 0 {
		return nil
	}

	r.accounts = kept
	if r.lookupByIDLocked(r.current) == nil {
		r.current = ""
		if len(r.accounts) > 0 {
			r.current = r.accounts[0].ID
		}
	}
	return r.saveLocked()
}

// List returns the accounts in stored order. The slice is a copy.
func (r *Registry) List() []Account {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Account, len(r.accounts))
	copy(out, r.accounts)
	return out
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accounts)
}

// Add appends an account and persists the catalog. Duplicate identifiers or
// addresses are rejected.
func (r *Registry) Add(acct Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.accounts {
		if existing.ID == acct.ID {
			return walleterr.Wrap(walleterr.ErrUnsupported,
				fmt.Errorf("duplicate account id %q", acct.ID))
		}
		if existing.Address == acct.Address {
			return walleterr.Wrap(walleterr.ErrUnsupported,
				fmt.Errorf("address %s already registered", acct.Address.Hex()))
		}
	}

	r.accounts = append(r.accounts, acct)
	if r.current == "" {
		r.current = acct.ID
	}
	if err := r.saveLocked(); err != nil {
		r.accounts = r.accounts[:len(r.accounts)-1]
		return err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Add",
		"account":  acct.ID,
		"address":  acct.Address.Hex(),
		"kind":     acct.Kind,
	}).Info("account added")
	return nil
}

// Remove deletes an account by identifier and persists the catalog.
func (r *Registry) Remove(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	idx := -1
	for i, acct := range r.accounts {
		if acct.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return walleterr.ErrAccountNotFound
	}

	r.accounts = append(r.accounts[:idx], r.accounts[idx+1:]...)
	if r.current == id {
		r.current = ""
		if len(r.accounts) > 0 {
			r.current = r.accounts[0].ID
		}
	}
	return r.saveLocked()
}

// ByID looks up an account by identifier.
func (r *Registry) ByID(id string) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct := r.lookupByIDLocked(id); acct != nil {
		return *acct, true
	}
	return Account{}, false
}

// ByAddress looks up an account by address.
func (r *Registry) ByAddress(addr common.Address) (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, acct := range r.accounts {
		if acct.Address == addr {
			return acct, true
		}
	}
	return Account{}, false
}

// Current returns the selected account, if any.
func (r *Registry) Current() (Account, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if acct := r.lookupByIDLocked(r.current); acct != nil {
		return *acct, true
	}
	return Account{}, false
}

// SetCurrent selects an account by identifier and persists the selection.
func (r *Registry) SetCurrent(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookupByIDLocked(id) == nil {
		return walleterr.ErrAccountNotFound
	}
	r.current = id
	return r.saveLocked()
}

func (r *Registry) lookupByIDLocked(id string) *Account {
	if id == "" {
		return nil
	}
	for i := range r.accounts {
		if r.accounts[i].ID == id {
			return &r.accounts[i]
		}
	}
	return nil
}

// saveLocked serializes the catalog and rewrites the document atomically:
// write to temp, fsync, rename.
func (r *Registry) saveLocked() error {
	doc := document{Version: documentVersion, Current: r.current, Accounts: r.accounts}
	data, err := json.MarshalIndent(&doc, "", "  ")
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	tmp := r.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	return nil
}
