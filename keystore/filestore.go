package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/pbkdf2"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/walleterr"
)

const (
	// fileMagic identifies walletcore secret files.
	fileMagic = "WCSF"
	// fileVersion is the current on-disk format version.
	fileVersion = 1
	// filePBKDF2Iterations is the PBKDF2-SHA256 work factor for the
	// device-scoped file key.
	filePBKDF2Iterations = 200_000

	fileSaltSize  = 16
	fileNonceSize = 12
	fileTagSize   = 16
)

// FileStore is the encrypted-file fallback backend. Every secret lives in
// its own file under <root>/secrets/<namespace>/<id>.bin:
//
//	magic(4) || version(1) || salt(16) || nonce(12) || ciphertext || tag(16)
//
// The AES-256-GCM file key is derived per file from the device passphrase
// and the file's salt.
type FileStore struct {
	root       string
	passphrase *securemem.Region
}

// NewFileStore opens (creating if needed) the file-backed store rooted at
// configDir. devicePassphrase is moved into locked memory; the caller's
// slice is wiped.
func NewFileStore(configDir string, devicePassphrase []byte) (*FileStore, error) {
	if len(devicePassphrase) == 0 {
		return nil, walleterr.ErrEmptyPassword
	}
	root := filepath.Join(configDir, "secrets")
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	return &FileStore{
		root:       root,
		passphrase: securemem.NewRegionFromBytes(devicePassphrase),
	}, nil
}

// Close destroys the in-memory device passphrase.
func (fs *FileStore) Close() {
	fs.passphrase.Destroy()
}

func (fs *FileStore) path(namespace, id string) string {
	return filepath.Join(fs.root, namespace, id+".bin")
}

func (fs *FileStore) deriveKey(salt []byte) *securemem.Region {
	key := pbkdf2.Key(fs.passphrase.Bytes(), salt, filePBKDF2Iterations, 32, sha256.New)
	return securemem.NewRegionFromBytes(key)
}

// Store encrypts and writes a secret, overwriting any previous value. The
// file is written to a temp path and renamed so a crash cannot leave a
// half-written secret behind.
func (fs *FileStore) Store(namespace, id string, secret *securemem.Region) error {
	dir := filepath.Join(fs.root, namespace)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}

	salt := make([]byte, fileSaltSize)
	if _, err := rand.Read(salt); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	nonce := make([]byte, fileNonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}

	key := fs.deriveKey(salt)
	defer key.Destroy()

	aead, err := newGCM(key)
	if err != nil {
		return err
	}

	out := make([]byte, 0, len(fileMagic)+1+fileSaltSize+fileNonceSize+secret.Len()+fileTagSize)
	out = append(out, fileMagic...)
	out = append(out, fileVersion)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, secret.Bytes(), nil)

	tmp := fs.path(namespace, id) + ".tmp"
	if err := writeFileSync(tmp, out, 0o600); err != nil {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	if err := os.Rename(tmp, fs.path(namespace, id)); err != nil {
		os.Remove(tmp)
		return walleterr.Wrap(walleterr.ErrIo, err)
	}

	logrus.WithFields(logrus.Fields{
		"function":  "Store",
		"namespace": namespace,
		"backend":   "file",
	}).Debug("secret stored in encrypted file")
	return nil
}

// Retrieve reads and decrypts a secret into a secure-memory region.
func (fs *FileStore) Retrieve(namespace, id string) (*securemem.Region, error) {
	data, err := os.ReadFile(fs.path(namespace, id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, walleterr.ErrSecretNotFound
		}
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}

	header := len(fileMagic) + 1 + fileSaltSize + fileNonceSize
	if len(data) < header+fileTagSize {
		return nil, walleterr.ErrIntegrityFailed
	}
	if string(data[:len(fileMagic)]) != fileMagic {
		return nil, walleterr.ErrIntegrityFailed
	}
	if data[len(fileMagic)] != fileVersion {
		return nil, walleterr.Wrap(walleterr.ErrUnsupported,
			fmt.Errorf("unknown secret file version %d", data[len(fileMagic)]))
	}

	salt := data[len(fileMagic)+1 : len(fileMagic)+1+fileSaltSize]
	nonce := data[len(fileMagic)+1+fileSaltSize : header]

	key := fs.deriveKey(salt)
	defer key.Destroy()

	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plain, err := aead.Open(nil, nonce, data[header:], nil)
	if err != nil {
		return nil, walleterr.ErrIntegrityFailed
	}
	return securemem.NewRegionFromBytes(plain), nil
}

// Delete removes a secret file. An absent file is treated as success.
func (fs *FileStore) Delete(namespace, id string) error {
	if err := os.Remove(fs.path(namespace, id)); err != nil && !os.IsNotExist(err) {
		return walleterr.Wrap(walleterr.ErrIo, err)
	}
	return nil
}

func newGCM(key *securemem.Region) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key.Bytes())
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrIo, err)
	}
	return aead, nil
}

// writeFileSync writes data and fsyncs before closing, so the rename that
// follows publishes a fully durable file.
func writeFileSync(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
