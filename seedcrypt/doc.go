// Package seedcrypt encrypts BIP-39 mnemonics under the user's master
// password for persistence through the secret store.
//
// Records are versioned. New records are written as version 2 (Argon2id key
// derivation, AES-256-GCM); version 1 records (PBKDF2-SHA256) remain
// readable so wallets created by earlier releases keep working. Unknown
// versions are rejected on read.
//
// Decryption failure is reported as an incorrect password without revealing
// whether the password was wrong or the record was tampered with; the two
// cases are cryptographically indistinguishable under AEAD anyway.
package seedcrypt
