// Package ids generates run identifiers.
package ids

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID returns a run id of the form YYYYMMDD_HHMMSS_xxxxxx, where the
// suffix is six hex digits of randomness.
func NewRunID(now time.Time) string {
	var b [3]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand failing is fatal-grade, but a run id is not worth
		// crashing the process over; fall back to a zeroed suffix.
		b = [3]byte{0, 0, 0}
	}
	return fmt.Sprintf("%s_%s", now.Format("20060102_150405"), hex.EncodeToString(b[:]))
}
