package signer

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/keystore"
	"github.com/opd-ai/walletcore/registry"
	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/seedcrypt"
	"github.com/opd-ai/walletcore/session"
	"github.com/opd-ai/walletcore/walleterr"
)

// Signer signs transactions and messages for registered accounts. It holds
// no key material of its own; keys are acquired per call and either parked
// in the supplied session cache or destroyed before returning.
type Signer struct {
	reg   *registry.Registry
	store keystore.Store
}

// New creates a Signer over the account catalog and secret store.
func New(reg *registry.Registry, store keystore.Store) *Signer {
	return &Signer{reg: reg, store: store}
}

// SignTx signs tx for the account controlling from and returns the signed
// transaction. The envelope type is the one tx was built with: a dynamic-fee
// transaction yields an EIP-1559 type-2 envelope, a legacy transaction an
// EIP-155 chain-bound one.
//
// When sess is unlocked and holds a cached key for from, no password is
// needed. Otherwise seed-derived accounts require password; absent one, the
// call fails with walleterr.ErrPasswordRequired so the caller can prompt
// and retry.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int, from common.Address, password *securemem.Region, sess *session.Session) (*types.Transaction, error) {
	key, err := s.acquireKey(from, password, sess)
	if err != nil {
		return nil, err
	}
	defer key.Destroy()

	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrSigningFailed, err)
	}
	defer priv.D.SetInt64(0)

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(chainID), priv)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrSigningFailed, err)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SignTx",
		"from":     from.Hex(),
		"type":     signed.Type(),
		"nonce":    signed.Nonce(),
		"chain_id": chainID,
	}).Debug("transaction signed")
	return signed, nil
}

// SignedTxBytes signs tx and returns the canonical wire encoding for
// eth_sendRawTransaction.
func (s *Signer) SignedTxBytes(tx *types.Transaction, chainID *big.Int, from common.Address, password *securemem.Region, sess *session.Session) ([]byte, error) {
	signed, err := s.SignTx(tx, chainID, from, password, sess)
	if err != nil {
		return nil, err
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrSigningFailed, err)
	}
	return raw, nil
}

// acquireKey obtains the 32-byte signing key for from, trying the session
// cache first and falling back to the account's secret. The returned region
// is owned by the caller; a copy is parked in the cache when the session is
// unlocked.
func (s *Signer) acquireKey(from common.Address, password *securemem.Region, sess *session.Session) (*securemem.Region, error) {
	acct, ok := s.reg.ByAddress(from)
	if !ok {
		return nil, walleterr.ErrAccountNotFound
	}

	if sess != nil {
		if key := sess.CacheGet(from); key != nil {
			return key, nil
		}
	}

	key, err := s.DeriveAccountKey(acct, password)
	if err != nil {
		return nil, err
	}

	if sess != nil {
		sess.CachePut(from, key.Clone())
	}
	return key, nil
}

// DeriveAccountKey obtains the signing key for an account straight from its
// secret, bypassing any cache. The session unlock path uses it to validate
// a password and obtain the key to cache in one step.
func (s *Signer) DeriveAccountKey(acct registry.Account, password *securemem.Region) (*securemem.Region, error) {
	switch acct.Kind {
	case registry.KindImportedPrivateKey:
		return s.importedKey(acct)
	case registry.KindSeedDerived:
		return s.seedDerivedKey(acct, password)
	case registry.KindHardware:
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("hardware account %q holds no extractable key", acct.ID))
	default:
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("unknown account kind %q", acct.Kind))
	}
}

func (s *Signer) importedKey(acct registry.Account) (*securemem.Region, error) {
	key, err := s.store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
	if err != nil {
		return nil, err
	}
	addr, err := AddressOfKey(key)
	if err != nil {
		key.Destroy()
		return nil, err
	}
	if addr != acct.Address {
		key.Destroy()
		return nil, walleterr.Wrap(walleterr.ErrDerivationFailed,
			fmt.Errorf("stored key for %q does not control %s", acct.ID, acct.Address.Hex()))
	}
	return key, nil
}

func (s *Signer) seedDerivedKey(acct registry.Account, password *securemem.Region) (*securemem.Region, error) {
	if password == nil || password.Len() == 0 {
		return nil, walleterr.ErrPasswordRequired
	}

	record, err := s.store.Retrieve(acct.KeyReference.Namespace, acct.KeyReference.ID)
	if err != nil {
		return nil, err
	}
	defer record.Destroy()

	mnemonic, err := seedcrypt.Decrypt(record.Bytes(), password)
	if err != nil {
		return nil, err
	}
	defer mnemonic.Destroy()

	key, addr, err := DeriveFromMnemonic(mnemonic, acct.DerivationPath)
	if err != nil {
		return nil, err
	}
	if addr != acct.Address {
		key.Destroy()
		return nil, walleterr.Wrap(walleterr.ErrDerivationFailed,
			fmt.Errorf("derived address %s does not match account %s", addr.Hex(), acct.Address.Hex()))
	}
	return key, nil
}
