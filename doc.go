// Package walletcore implements the security and transaction core of a
// desktop multi-network EVM wallet: encrypted-at-rest seed material, a
// session state machine gating access to signing keys, on-demand BIP-32/44
// key derivation, and a transaction construction, broadcast, and
// replacement pipeline with pending tracking.
//
// Basic usage:
//
//	opts := walletcore.NewOptions()
//	opts.DevicePassphrase = devicePass
//	opts.Prompt = myPromptSurface
//
//	w, err := walletcore.New(opts)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer w.Kill()
//
//	backend, err := chainrpc.Dial(rpcURL, 0)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	w.UseNetwork(1, backend)
//
//	hash, err := w.Send(ctx, txpipe.Request{To: &to, Value: amount})
//
// The GUI, block-explorer history aggregation, and contract tooling are
// collaborators outside this module; they talk to the core through the
// Wallet façade, the PromptHandler contract, and the chainrpc.Client
// interface.
//
// Secret material (mnemonics, derived keys, passwords) only ever travels
// inside securemem regions: page-locked where the platform allows and
// zeroized on release. Locking the session, manually, by inactivity, or on
// minimize, zeroizes every cached key.
package walletcore
