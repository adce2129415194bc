//go:build unix

package securemem

import (
	"os"

	"github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Probe checks whether the process may lock pages against swap. The result
// feeds the session policy: without locking, derived keys could be paged to
// disk, so unlocked sessions are kept shorter.
func Probe() bool {
	page := make([]byte, os.Getpagesize())
	if err := unix.Mlock(page); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Probe",
			"error":    err.Error(),
		}).Warn("mlock unavailable, secret pages may be swapped; session timeouts will be shortened")
		return false
	}
	_ = unix.Munlock(page)
	return true
}
