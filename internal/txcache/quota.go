package txcache

import (
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// ErrQuotaExceeded marks a storage-quota condition. Wrap or return it
// from injected layers to have the write path treat a failure as quota
// pressure instead of a hard error.
var ErrQuotaExceeded = errors.New("storage quota exceeded")

// IsQuotaErr classifies an error as a storage-quota condition. The
// decision is made here, at the storage boundary, from the driver's
// typed error codes. The substring checks remain as a fallback for
// errors that cross layers as plain text; they are case-sensitive on
// purpose so that e.g. "Quota" in an unrelated identifier does not
// match.
func IsQuotaErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrQuotaExceeded) {
		return true
	}

	var se *sqlite.Error
	if errors.As(err, &se) {
		// Mask off the extended-result bits; SQLITE_FULL covers both
		// a full database (max page count) and a full disk.
		if se.Code()&0xff == sqlite3.SQLITE_FULL {
			return true
		}
	}

	msg := err.Error()
	return strings.Contains(msg, "QuotaExceeded") ||
		strings.Contains(msg, "quota") ||
		strings.Contains(msg, "database or disk is full")
}
