// Package keystore persists opaque secrets for the wallet core. Two
// backends implement the same Store interface:
//
//   - KeyringStore talks to the operating system's credential service
//     (Secret Service on Linux, Keychain on macOS, Credential Manager on
//     Windows).
//   - FileStore keeps each secret in its own AES-256-GCM encrypted file
//     under the wallet configuration directory, with the file key derived
//     from a device-scoped passphrase via PBKDF2-SHA256.
//
// Open selects the keyring when it works and falls through to the file
// backend otherwise. Retrieved secrets are returned inside securemem
// regions; callers own and must destroy them.
//
// Secrets are grouped by namespace: NamespaceSeedStore holds encrypted
// mnemonic records, NamespacePrivateKeyStore holds imported raw keys.
package keystore
