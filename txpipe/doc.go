// Package txpipe is the transaction pipeline: it turns a send request into
// a fully parameterized transaction, gates it on user confirmation, signs it
// through the signer, broadcasts it, and tracks it until a receipt lands.
//
// Pending transactions stay replaceable until confirmed. Cancellation
// submits a zero-value self-send sharing the original nonce; speed-up
// resubmits the original payload. Both bump fees far enough that the
// mempool's replacement policy accepts the new transaction: at least 10%
// over the original, and never below the network's current price floor.
//
// A background tracker polls receipts for every pending entry. Whichever of
// an original/replacement pair gets its receipt first resolves the nonce
// slot; both entries are then retired.
package txpipe
