package walletcore

import (
	"context"
	"time"

	"github.com/opd-ai/walletcore/securemem"
	"github.com/opd-ai/walletcore/txpipe"
)

// PromptReason tells the prompt surface why the core needs the password.
type PromptReason string

const (
	// ReasonSignTransaction gates signing a transaction; the request
	// carries the transaction summary.
	ReasonSignTransaction PromptReason = "sign-transaction"
	// ReasonExportPrivateKey gates revealing a raw private key.
	ReasonExportPrivateKey PromptReason = "export-private-key"
	// ReasonExportSeed gates revealing a mnemonic.
	ReasonExportSeed PromptReason = "export-seed"
	// ReasonDeleteAccount gates removing an account and its secret.
	ReasonDeleteAccount PromptReason = "delete-account"
	// ReasonUnlock is a plain user-initiated unlock.
	ReasonUnlock PromptReason = "unlock"
)

// PromptRequest is what the prompt surface renders. Summary is set for
// sign-transaction prompts.
type PromptRequest struct {
	Reason    PromptReason
	AccountID string
	Summary   *txpipe.Summary
}

// PromptHandler is the user-facing prompt channel. Implementations may mask
// or unmask the password input but must never log it. Returning a nil
// password region means the user cancelled.
type PromptHandler interface {
	// RequestPassword opens a password prompt and blocks until the user
	// responds or ctx expires. The returned region's ownership transfers
	// to the core. The core does not read remember: a successful unlock
	// leaves the session unlocked whatever its value.
	RequestPassword(ctx context.Context, req PromptRequest) (password *securemem.Region, remember bool, err error)
	// ConfirmTransaction shows the confirmation gate and reports the
	// user's decision.
	ConfirmTransaction(ctx context.Context, s txpipe.Summary) (approved bool, err error)
}

// PromptTimeout bounds how long a prompt may sit unanswered before the
// originating operation fails with a session-expired error.
const PromptTimeout = 2 * time.Minute
