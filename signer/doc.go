// Package signer produces EVM signatures from wallet accounts. It derives
// private keys on demand, dispatching on the account kind: seed-derived
// accounts run BIP-32/44 derivation over the decrypted mnemonic, imported
// accounts fetch their raw key from the secret store, hardware accounts are
// recognized but not signable by the core.
//
// Supported payloads are transactions (legacy with EIP-155 chain binding,
// and EIP-1559 dynamic-fee envelopes), personal_sign messages, and EIP-712
// typed data.
//
// Derived keys live in secure memory for the duration of a call. When a
// session is supplied and unlocked, freshly derived keys are parked in its
// cache so subsequent signatures within the session need no password; the
// signer itself never retains key material between calls.
package signer
