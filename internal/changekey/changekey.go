// Package changekey computes and validates the optimistic-concurrency token
// ("changeKey", exposed as an HTTP ETag) of a reservation.
//
// The token is a SHA-256 fingerprint over a canonical, fixed-order
// projection of the fields that carry meaning.  The last-modified instant is
// part of the projection, so callers must Stamp the record before hashing:
// repeated saves of textually identical data still produce a fresh token.
package changekey

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/room-reservation/internal/model"
)

// Precision is the resolution at which instants are stamped and hashed.  It
// matches the millisecond columns so a token survives a database round trip.
const Precision = time.Millisecond

const sep = "\x1f"

// Compute returns the lowercase hex token for r.  It is a pure function of
// the fingerprinted fields and never fails.
func Compute(r *model.Reservation) string {
	var b strings.Builder
	field := func(name, value string) {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(value)
		b.WriteString(sep)
	}
	field("title", r.Title)
	field("start", canonicalTime(r.StartDateTime))
	field("end", canonicalTime(r.EndDateTime))
	field("rooms", strings.Join(model.NormalizeRooms(r.SelectedRooms), ","))
	field("setup", strconv.Itoa(r.SetupTimeMinutes))
	field("teardown", strconv.Itoa(r.TeardownTimeMinutes))
	field("attendees", strconv.Itoa(r.AttendeeCount))
	field("status", string(r.Status))
	field("modified", canonicalTime(r.LastModified))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Validate reports whether supplied matches the reservation's current token.
// Surrounding quotes and a weak-validator prefix, as sent in If-Match
// headers, are ignored; comparison is case-insensitive.
func Validate(r *model.Reservation, supplied string) bool {
	s := Normalize(supplied)
	if s == "" || r.ChangeKey == "" {
		return false
	}
	return strings.EqualFold(s, r.ChangeKey)
}

// Normalize strips the header decorations from a supplied token.
func Normalize(token string) string {
	t := strings.TrimSpace(token)
	t = strings.TrimPrefix(t, "W/")
	t = strings.Trim(t, `"`)
	return strings.ToLower(strings.TrimSpace(t))
}

// Stamp records actor and now as the last modification and recomputes the
// token.  The new instant is forced strictly after the previous one so two
// saves within the same millisecond never share a token.
func Stamp(r *model.Reservation, actor string, now time.Time) {
	ts := now.UTC().Truncate(Precision)
	if !r.LastModified.IsZero() && !ts.After(r.LastModified) {
		ts = r.LastModified.UTC().Truncate(Precision).Add(Precision)
	}
	r.LastModified = ts
	r.LastModifiedBy = actor
	r.ChangeKey = Compute(r)
}

// ETag renders the token as a quoted strong validator.
func ETag(token string) string {
	return `"` + token + `"`
}

func canonicalTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Truncate(Precision).Format("2006-01-02T15:04:05.000Z")
}
