// Package ulid wraps oklog/ulid with the command-id hashing rule used by the
// dedupe cache: arbitrary id strings map to a deterministic 26-char token so
// that retried commands collide regardless of the client's id format.
package ulid

import (
	"crypto/rand"
	"crypto/sha1"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// New returns a fresh ULID string for the current time.
func New() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), rand.Reader).String()
}

// IsValid reports whether value parses as a ULID.
func IsValid(value string) bool {
	if len(value) != 26 {
		return false
	}
	_, err := ulid.ParseStrict(strings.ToUpper(value))
	return err == nil
}

// FromString maps an arbitrary string to a deterministic ULID token.
//
// Valid ULIDs pass through unchanged (upper-cased). Anything else is hashed:
// the entropy part is the first 10 bytes of SHA1(value) and the timestamp part
// is fixed to zero, so equal source strings always collide in the dedupe
// cache. The result is for idempotence mapping only, never for ordering.
func FromString(value string) string {
	if IsValid(value) {
		return strings.ToUpper(value)
	}
	digest := sha1.Sum([]byte(value))
	var id ulid.ULID
	copy(id[6:], digest[:10])
	return id.String()
}
