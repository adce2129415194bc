package keystore

import (
	"encoding/base64"
	"errors"

	"github.com/sirupsen/logrus"
	"github.com/zalando/go-keyring"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

// keyringService is the service name secrets are filed under in the OS
// credential store.
const keyringService = "walletcore"

// KeyringStore persists secrets through the operating system keychain.
type KeyringStore struct{}

// NewKeyringStore returns a Store backed by the OS credential service.
func NewKeyringStore() *KeyringStore { return &KeyringStore{} }

func keyringUser(namespace, id string) string { return namespace + "/" + id }

// probe round-trips a throwaway entry to verify the keyring actually works
// in this environment (headless sessions often lack a Secret Service).
func (k *KeyringStore) probe() error {
	const probeUser = "capability-probe"
	if err := keyring.Set(keyringService, probeUser, "ok"); err != nil {
		return err
	}
	if _, err := keyring.Get(keyringService, probeUser); err != nil {
		return err
	}
	return keyring.Delete(keyringService, probeUser)
}

// Store writes or overwrites a secret in the keychain. The secret bytes are
// base64-encoded because credential services store strings.
func (k *KeyringStore) Store(namespace, id string, secret *securemem.Region) error {
	encoded := base64.StdEncoding.EncodeToString(secret.Bytes())
	if err := keyring.Set(keyringService, keyringUser(namespace, id), encoded); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	logrus.WithFields(logrus.Fields{
		"function":  "Store",
		"namespace": namespace,
	}).Debug("secret stored in OS keyring")
	return nil
}

// Retrieve reads a secret back into a secure-memory region.
func (k *KeyringStore) Retrieve(namespace, id string) (*securemem.Region, error) {
	encoded, err := keyring.Get(keyringService, keyringUser(namespace, id))
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil, walleterr.ErrSecretNotFound
		}
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIntegrityFailed, err)
	}
	return securemem.NewRegionFromBytes(raw), nil
}

// Delete removes a secret. An absent entry is treated as success.
func (k *KeyringStore) Delete(namespace, id string) error {
	err := keyring.Delete(keyringService, keyringUser(namespace, id))
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	return nil
}
