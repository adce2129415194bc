// Package chains holds the table of known EVM networks: chain id, display
// name, native symbol, default RPC endpoint, preferred transaction type,
// and block-explorer URL.
//
// The table ships with the common public networks built in and persists
// user additions to networks.json under the wallet configuration
// directory. Reads dominate writes, so the table is guarded by a
// read/write lock.
package chains
