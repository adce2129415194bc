// Package securemem provides heap regions for secret material that are
// locked against swap where the platform allows it and guaranteed to be
// zeroized on release.
//
// A Region owns its bytes for the whole lifetime of a secret:
//
//	region := securemem.NewRegionFromBytes(password)
//	defer region.Destroy()
//	kdf(region.Bytes())
//
// Region contents must never be formatted, logged, or copied into ordinary
// garbage-collected memory. Region deliberately implements fmt.Stringer with
// a redacted form so an accidental %v cannot leak the bytes.
//
// Probe reports at startup whether page locking actually works on this
// system; callers shorten session lifetimes when it does not.
package securemem
