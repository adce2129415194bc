package seedcrypt

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"testing"

	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

const testMnemonic = "legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth useful legal winner thank year wave sausage worth title"

func region(s string) *securemem.Region {
	return securemem.NewRegionFromBytes([]byte(s))
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	mnemonic := region(testMnemonic)
	defer mnemonic.Destroy()
	password := region("correct-horse-battery-staple")
	defer password.Destroy()

	record, err := Encrypt(mnemonic, password)
	if err != nil {
		t.Fatalf("Encrypt: %v", err)
	}
	if record[0] != versionArgon2id {
		t.Errorf("record version = %d, want %d", record[0], versionArgon2id)
	}

	got, err := Decrypt(record, password)
	if err != nil {
		t.Fatalf("Decrypt: %v", err)
	}
	defer got.Destroy()

	if !bytes.Equal(got.Bytes(), []byte(testMnemonic)) {
		t.Error("decrypted mnemonic differs from original")
	}
}

func TestDecryptWrongPassword(t *testing.T) {
	mnemonic := region(testMnemonic)
	defer mnemonic.Destroy()
	password := region("right")
	defer password.Destroy()

	record, err := Encrypt(mnemonic, password)
	if err != nil {
		t.Fatal(err)
	}

	wrong := region("wrong")
	defer wrong.Destroy()
	if _, err := Decrypt(record, wrong); !errors.Is(err, walleterr.ErrIncorrectPassword) {
		t.Errorf("err = %v, want ErrIncorrectPassword", err)
	}
}

func TestDecryptTamperedRecord(t *testing.T) {
	mnemonic := region(testMnemonic)
	defer mnemonic.Destroy()
	password := region("pw")
	defer password.Destroy()

	record, err := Encrypt(mnemonic, password)
	if err != nil {
		t.Fatal(err)
	}
	record[len(record)-1] ^= 0x01

	// A flipped ciphertext bit must look exactly like a wrong password.
	if _, err := Decrypt(record, password); !errors.Is(err, walleterr.ErrIncorrectPassword) {
		t.Errorf("err = %v, want ErrIncorrectPassword", err)
	}
}

func TestDecryptUnknownVersion(t *testing.T) {
	password := region("pw")
	defer password.Destroy()

	record := []byte{42, 0, 0, 0}
	if _, err := Decrypt(record, password); !errors.Is(err, walleterr.ErrUnsupported) {
		t.Errorf("err = %v, want ErrUnsupported", err)
	}
}

func TestDecryptTruncatedRecord(t *testing.T) {
	password := region("pw")
	defer password.Destroy()

	if _, err := Decrypt([]byte{versionArgon2id, 1, 2}, password); !errors.Is(err, walleterr.ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed", err)
	}
	if _, err := Decrypt(nil, password); !errors.Is(err, walleterr.ErrDecryptionFailed) {
		t.Errorf("err = %v, want ErrDecryptionFailed for empty record", err)
	}
}

func TestEmptyPassword(t *testing.T) {
	mnemonic := region(testMnemonic)
	defer mnemonic.Destroy()
	empty := securemem.Allocate(0)
	defer empty.Destroy()

	if _, err := Encrypt(mnemonic, empty); !errors.Is(err, walleterr.ErrEmptyPassword) {
		t.Errorf("Encrypt err = %v, want ErrEmptyPassword", err)
	}
	if _, err := Decrypt([]byte{versionArgon2id}, empty); !errors.Is(err, walleterr.ErrEmptyPassword) {
		t.Errorf("Decrypt err = %v, want ErrEmptyPassword", err)
	}
}

// encryptLegacyV1 builds a v1 (PBKDF2) record the way the previous release
// wrote them, to prove the current reader still accepts them.
func encryptLegacyV1(t *testing.T, plaintext, password []byte, iterations uint32) []byte {
	t.Helper()

	salt := make([]byte, saltSize)
	nonce := make([]byte, nonceSize)
	if _, err := rand.Read(salt); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(nonce); err != nil {
		t.Fatal(err)
	}

	key := pbkdf2.Key(password, salt, int(iterations), keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		t.Fatal(err)
	}

	record := []byte{versionPBKDF2}
	record = append(record, salt...)
	record = binary.BigEndian.AppendUint32(record, iterations)
	record = append(record, nonce...)
	return aead.Seal(record, nonce, plaintext, nil)
}

func TestDecryptLegacyPBKDF2Record(t *testing.T) {
	record := encryptLegacyV1(t, []byte(testMnemonic), []byte("legacy-password"), 10_000)

	password := region("legacy-password")
	defer password.Destroy()

	got, err := Decrypt(record, password)
	if err != nil {
		t.Fatalf("Decrypt v1: %v", err)
	}
	defer got.Destroy()

	if !bytes.Equal(got.Bytes(), []byte(testMnemonic)) {
		t.Error("v1 record decrypted to wrong mnemonic")
	}

	wrong := region("not-it")
	defer wrong.Destroy()
	if _, err := Decrypt(record, wrong); !errors.Is(err, walleterr.ErrIncorrectPassword) {
		t.Errorf("v1 wrong password err = %v, want ErrIncorrectPassword", err)
	}
}

func TestValidateMnemonic(t *testing.T) {
	good := region(testMnemonic)
	defer good.Destroy()
	if err := ValidateMnemonic(good); err != nil {
		t.Errorf("valid mnemonic rejected: %v", err)
	}

	bad := region("legal winner thank year wave sausage worth useful legal winner thank xylophone")
	defer bad.Destroy()
	if err := ValidateMnemonic(bad); err == nil {
		t.Error("invalid mnemonic accepted")
	}
}

func TestRecordsDifferPerEncryption(t *testing.T) {
	mnemonic := region(testMnemonic)
	defer mnemonic.Destroy()
	password := region("pw")
	defer password.Destroy()

	a, err := Encrypt(mnemonic, password)
	if err != nil {
		t.Fatal(err)
	}
	b, err := Encrypt(mnemonic, password)
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a, b) {
		t.Error("two encryptions produced identical records; salt or nonce reuse")
	}
}
