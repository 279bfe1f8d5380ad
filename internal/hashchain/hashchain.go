// Package hashchain computes the deterministic fingerprints that link a
// demand's ledger transactions into a tamper-evident chain.
package hashchain

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// GenesisFingerprint is the chain-predecessor sentinel for the first
// transaction of a demand.
const GenesisFingerprint = "GENESIS"

const fieldSeparator = "|"

// Fingerprint derives the digest for a ledger transaction. The field set and
// its order are load-bearing: any change breaks verification of previously
// stored chains. The timestamp is normalised to UTC and truncated to
// microseconds so the digest survives a Postgres round trip.
func Fingerprint(txID, demandID, userID, action string, recordedAt time.Time, previous string) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		txID,
		demandID,
		userID,
		action,
		CanonicalTime(recordedAt),
		previous,
	}, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// ContentFingerprint derives the immutable digest identifying a demand's
// original submission payload.
func ContentFingerprint(title, description, categoryID, proposerID string, submittedAt time.Time) string {
	sum := sha256.Sum256([]byte(strings.Join([]string{
		title,
		description,
		categoryID,
		proposerID,
		CanonicalTime(submittedAt),
	}, fieldSeparator)))
	return hex.EncodeToString(sum[:])
}

// CanonicalTime renders the timestamp form hashed by Fingerprint. Callers
// persisting transactions must store timestamps at no finer precision than
// this, or verification of reloaded records will fail.
func CanonicalTime(t time.Time) string {
	return t.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano)
}

// Normalize truncates a timestamp to the precision covered by the chain
// digest.
func Normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
