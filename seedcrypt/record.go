package seedcrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

const (
	// versionPBKDF2 is the legacy record format, accepted on read only.
	versionPBKDF2 = 1
	// versionArgon2id is the current record format.
	versionArgon2id = 2

	saltSize  = 16
	nonceSize = 12
	keySize   = 32

	// Argon2id parameters, the interactive profile recommended by the
	// x/crypto/argon2 documentation. Roughly 100-300 ms on current
	// desktop hardware.
	argonTime    = 3
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

// ValidateMnemonic checks a region against the BIP-39 word list and
// checksum without copying it anywhere persistent.
func ValidateMnemonic(mnemonic *securemem.Region) error {
	if !bip39.IsMnemonicValid(string(mnemonic.Bytes())) {
		return walleterr.Wrap(walleterr.ErrDerivationFailed,
			fmt.Errorf("mnemonic failed BIP-39 validation"))
	}
	return nil
}

// Encrypt seals a mnemonic under password and returns the serialized record:
//
//	version(1)=2 || salt(16) || time(4) || memoryKiB(4) || threads(1) || nonce(12) || ciphertext+tag
//
// A fresh salt and nonce are generated per call. The mnemonic and password
// regions stay owned by the caller.
func Encrypt(mnemonic, password *securemem.Region) ([]byte, error) {
	if password.Len() == 0 {
		return nil, walleterr.ErrEmptyPassword
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}

	key := securemem.NewRegionFromBytes(
		argon2.IDKey(password.Bytes(), salt, argonTime, argonMemory, argonThreads, keySize))
	defer key.Destroy()

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	record := make([]byte, 0, 1+saltSize+9+nonceSize+mnemonic.Len()+aead.Overhead())
	record = append(record, versionArgon2id)
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, argonTime)
	record = binary.BigEndian.AppendUint32(record, argonMemory)
	record = append(record, argonThreads)
	record = append(record, nonce...)
	record = aead.Seal(record, nonce, mnemonic.Bytes(), nil)

	logrus.WithFields(logrus.Fields{
		"function": "Encrypt",
		"version":  versionArgon2id,
	}).Debug("mnemonic sealed")
	return record, nil
}

// Decrypt opens a serialized record with password and returns the mnemonic
// in a fresh secure-memory region. Any authentication failure, wrong
// password or tampered record alike, surfaces as an incorrect password.
func Decrypt(record []byte, password *securemem.Region) (*securemem.Region, error) {
	if password.Len() == 0 {
		return nil, walleterr.ErrEmptyPassword
	}
	if len(record) < 1 {
		return nil, walleterr.ErrDecryptionFailed
	}

	switch record[0] {
	case versionArgon2id:
		return decryptArgon2id(record, password)
	case versionPBKDF2:
		return decryptPBKDF2(record, password)
	default:
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("unknown seed record version %d", record[0]))
	}
}

func decryptArgon2id(record []byte, password *securemem.Region) (*securemem.Region, error) {
	header := 1 + saltSize + 4 + 4 + 1 + nonceSize
	if len(record) < header {
		return nil, walleterr.ErrDecryptionFailed
	}
	salt := record[1 : 1+saltSize]
	timeCost := binary.BigEndian.Uint32(record[1+saltSize:])
	memory := binary.BigEndian.Uint32(record[1+saltSize+4:])
	threads := record[1+saltSize+8]
	nonce := record[1+saltSize+9 : header]

	key := securemem.NewRegionFromBytes(
		argon2.IDKey(password.Bytes(), salt, timeCost, memory, threads, keySize))
	defer key.Destroy()

	return open(key, nonce, record[header:])
}

// decryptPBKDF2 reads the legacy v1 layout:
//
//	version(1)=1 || salt(16) || iterations(4) || nonce(12) || ciphertext+tag
func decryptPBKDF2(record []byte, password *securemem.Region) (*securemem.Region, error) {
	header := 1 + saltSize + 4 + nonceSize
	if len(record) < header {
		return nil, walleterr.ErrDecryptionFailed
	}
	salt := record[1 : 1+saltSize]
	iterations := binary.BigEndian.Uint32(record[1+saltSize:])
	nonce := record[1+saltSize+4 : header]

	key := securemem.NewRegionFromBytes(
		pbkdf2.Key(password.Bytes(), salt, int(iterations), keySize, sha256.New))
	defer key.Destroy()

	return open(key, nonce, record[header:])
}

func open(key *securemem.Region, nonce, sealed []byte) (*securemem.Region, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		// Wrong password and integrity failure are indistinguishable to
		// the caller.
		return nil, walleterr.ErrIncorrectPassword
	}
	return securemem.NewRegionFromBytes(plain), nil
}

func newGCM(key *securemem.Region) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrDecryptionFailed, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrDecryptionFailed, err)
	}
	return aead, nil
}
