// Package walleterr defines the error surface shared by every wallet
// component. Each error carries a stable machine-readable Code alongside a
// human-readable message, so callers can branch on the kind without parsing
// strings.
//
// Errors compare by Code through errors.Is:
//
//	if errors.Is(err, walleterr.ErrIncorrectPassword) {
//	    remaining := walleterr.AttemptsRemaining(err)
//	    ...
//	}
//
// Payload-carrying kinds (attempts remaining, retry-after, balance detail)
// are constructed through the typed constructors and inspected through the
// accessor helpers; the zero-payload kinds are plain sentinels.
package walleterr
