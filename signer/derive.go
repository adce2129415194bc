package signer

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

// ParsePath validates a BIP-32 derivation path string.
func ParsePath(path string) (accounts.DerivationPath, error) {
	parsed, err := accounts.ParseDerivationPath(path)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrInvalidDerivationPath, err)
	}
	return parsed, nil
}

// DeriveFromMnemonic stretches a BIP-39 mnemonic into its seed and walks the
// derivation path to the account's secp256k1 scalar. The key is returned in
// a fresh secure-memory region together with its address; intermediate seed
// and extended-key material is zeroized before returning.
func DeriveFromMnemonic(mnemonic *securemem.Region, path string) (*securemem.Region, common.Address, error) {
	parsed, err := ParsePath(path)
	if err != nil {
		return nil, common.Address{}, err
	}
	if !bip39.IsMnemonicValid(string(mnemonic.Bytes())) {
		return nil, common.Address{}, walleterr.Wrap(walleterr.ErrDerivationFailed,
			fmt.Errorf("mnemonic failed BIP-39 validation"))
	}

	seed := bip39.NewSeed(string(mnemonic.Bytes()), "")
	defer securemem.Wipe(seed)

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, common.Address{}, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
	}
	defer master.Zero()

	key := master
	for _, index := range parsed {
		child, err := key.Derive(index)
		if key != master {
			key.Zero()
		}
		if err != nil {
			return nil, common.Address{}, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
		}
		key = child
	}

	priv, err := key.ECPrivKey()
	if key != master {
		defer key.Zero()
	}
	if err != nil {
		return nil, common.Address{}, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
	}

	ecdsaKey := priv.ToECDSA()
	address := crypto.PubkeyToAddress(ecdsaKey.PublicKey)
	region := securemem.NewRegionFromBytes(priv.Serialize())
	priv.Zero()

	return region, address, nil
}

// AddressOfKey returns the address controlled by a raw 32-byte secp256k1
// private key held in secure memory.
func AddressOfKey(key *securemem.Region) (common.Address, error) {
	priv, err := crypto.ToECDSA(key.Bytes())
	if err != nil {
		return common.Address{}, walleterr.Wrap(walleterr.ErrDerivationFailed, err)
	}
	addr := crypto.PubkeyToAddress(priv.PublicKey)
	priv.D.SetInt64(0)
	return addr, nil
}
