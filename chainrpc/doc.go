// Package chainrpc defines the narrow RPC surface the wallet core needs
// from an EVM node, and an adapter backing it with go-ethereum's ethclient.
//
// Every call takes a context and honors a per-call timeout; the core treats
// transport failures uniformly as network errors and never retries on its
// own. Tests substitute the Client interface with an in-memory fake.
package chainrpc
