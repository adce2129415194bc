package registry

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Kind discriminates how an account's signing key is obtained.
type Kind string

const (
	// KindSeedDerived keys are derived on demand from an encrypted
	// mnemonic along the account's derivation path.
	KindSeedDerived Kind = "seed-derived"
	// KindImportedPrivateKey keys are raw secp256k1 scalars stored
	// encrypted in the secret store.
	KindImportedPrivateKey Kind = "imported-private-key"
	// KindHardware keys never leave an external device.
	KindHardware Kind = "hardware"
)

// DefaultDerivationPath is the conventional first Ethereum account.
const DefaultDerivationPath = "m/44'/60'/0'/0/0"

// KeyReference locates an account's secret in the secret store.
type KeyReference struct {
	Namespace string `json:"namespace"`
	ID        string `json:"id"`
}

// Account is one catalog entry. Address is immutable after creation: it is
// the address re-derivable from the referenced secret under the recorded
// path.
type Account struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Address      common.Address `json:"address"`
	Kind         Kind           `json:"kind"`
	KeyReference KeyReference   `json:"key_reference"`
	// DerivationPath is set for seed-derived and hardware accounts.
	DerivationPath string `json:"derivation_path,omitempty"`
	// Device describes the hardware device for hardware accounts.
	Device    string    `json:"device,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
