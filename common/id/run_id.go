package id

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewRunID mints a time-sortable run identifier of the form
// YYYYMMDD_HHMMSS_<6-hex>, per the persisted journal layout.
func NewRunID(now time.Time) string {
	var b [3]byte
	_, _ = rand.Read(b[:])
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102_150405"), hex.EncodeToString(b[:]))
}
