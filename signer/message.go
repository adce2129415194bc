package signer

import (
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/session"
	"github.com/opd-ai/walletcore/walleterr"
)

// SignPersonal signs msg with personal_sign semantics: the message is
// prefixed with "\x19Ethereum Signed Message:\n" and its length, hashed
// with keccak-256, and signed. The returned 65-byte signature carries
// V ∈ {27, 28}.
func (s *Signer) SignPersonal(msg []byte, from common.Address, password *securemem.Region, sess *session.Session) ([]byte, error) {
	return s.signDigest(accounts.TextHash(msg), from, password, sess)
}

// SignTypedData signs EIP-712 typed data, hashing the domain separator and
// struct per the standard encoding.
func (s *Signer) SignTypedData(data apitypes.TypedData, from common.Address, password *securemem.Region, sess *session.Session) ([]byte, error) {
	digest, _, err := apitypes.TypedDataAndHash(data)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrSigningFailed, err)
	}
	return s.signDigest(digest, from, password, sess)
}

func (s *Signer) signDigest(digest []byte, from common.Address, password *securemem.Region, sess *session.Session) ([]byte, error) {
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

	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.ErrSigningFailed, err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
