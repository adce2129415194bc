package keystore

import (
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/walletcore/securemem"
)

// Namespaces used by the wallet core.
const (
	// NamespaceSeedStore holds encrypted mnemonic records.
	NamespaceSeedStore = "seed-store"
	// NamespacePrivateKeyStore holds imported raw private keys.
	NamespacePrivateKeyStore = "private-key-store"
)

// Store is the secret persistence contract. All operations are synchronous.
type Store interface {
	// Store writes or overwrites a secret.
	Store(namespace, id string, secret *securemem.Region) error
	// Retrieve returns the secret in a fresh secure-memory region the
	// caller owns. Fails with walleterr.ErrSecretNotFound when absent.
	Retrieve(namespace, id string) (*securemem.Region, error)
	// Delete removes a secret. Deleting an absent secret is not an error.
	Delete(namespace, id string) error
}

// Open returns the platform secret store: the OS keyring when a round-trip
// probe succeeds, otherwise the encrypted-file backend rooted at configDir.
func Open(configDir string, devicePassphrase []byte) (Store, error) {
	kr := NewKeyringStore()
	if err := kr.probe(); err == nil {
		return kr, nil
	} else {
		logrus.WithFields(logrus.Fields{
			"function": "Open",
			"error":    err.Error(),
		}).Warn("OS keyring unavailable, falling back to encrypted file store")
	}
	return NewFileStore(configDir, devicePassphrase)
}
