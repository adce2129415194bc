// Package registry is the persistent catalog of wallet accounts. It maps
// stable account identifiers to addresses, derivation paths, and secret
// store references, and records which account is currently selected.
//
// The whole catalog lives in one JSON document under the wallet
// configuration directory. Mutations rewrite the document atomically
// (write to temp file, fsync, rename), so a crash leaves either the old or
// the new catalog, never a torn one.
//
// Addresses are derived once, at account creation, and never rewritten;
// uniqueness is enforced on both the identifier and the address.
package registry
