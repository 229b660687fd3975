package dkim

import (
	"context"
	"errors"
	"time"
)

// Status classifies one diagnostic entry, per RFC 6376 section 3.9.
type Status int

const (
	// StatusInfo marks an informational success or progress marker; it
	// never by itself fails a signature.
	StatusInfo Status = iota
	// StatusPermFail marks a permanent, non-retryable failure: the
	// signature (or the key record backing it) is malformed or invalid.
	StatusPermFail
	// StatusTempFail marks a transient failure, typically a DNS lookup
	// that a caller may want to retry later.
	StatusTempFail
)

func (s Status) String() string {
	switch s {
	case StatusInfo:
		return "INFO"
	case StatusPermFail:
		return "PERMFAIL"
	case StatusTempFail:
		return "TEMPFAIL"
	default:
		return "UNKNOWN"
	}
}

// Diagnostic is one entry in a SignatureResult's ordered trail: a status
// plus a short human-readable reason.
type Diagnostic struct {
	Status Status
	Reason string
}

// SignatureResult accumulates every diagnostic produced while verifying a
// single DKIM-Signature header field.
type SignatureResult struct {
	// Domain is the d= tag: the SDID claiming responsibility for the
	// message.
	Domain string
	// Selector is the s= tag.
	Selector string
	// Identifier is the i= tag (or, if absent, "@"+Domain).
	Identifier string

	// HeaderKeys is the h= tag, the ordered list of header field names
	// the signature covers.
	HeaderKeys []string
	// BodyLength is the l= tag; -1 means the whole body is signed.
	BodyLength int64

	// Time is the t= tag, zero if absent.
	Time time.Time
	// Expiration is the x= tag, zero if the signature doesn't expire.
	Expiration time.Time

	// Diagnostics is the ordered trail of checks performed for this
	// signature.
	Diagnostics []Diagnostic
}

func (r *SignatureResult) info(ctx context.Context, reason string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Status: StatusInfo, Reason: reason})
	tracef(ctx, "INFO: %s", reason)
}

// permFail records a PERMFAIL diagnostic and returns it as an error, so
// call sites can `return r.permFail(ctx, "...")` from a function that
// also needs to report the failure upward.
func (r *SignatureResult) permFail(ctx context.Context, reason string) error {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Status: StatusPermFail, Reason: reason})
	tracef(ctx, "PERMFAIL: %s", reason)
	return permFailError(reason)
}

func (r *SignatureResult) tempFail(ctx context.Context, reason string) error {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Status: StatusTempFail, Reason: reason})
	tracef(ctx, "TEMPFAIL: %s", reason)
	return tempFailError(reason)
}

// hasFailed reports whether any PERMFAIL or TEMPFAIL diagnostic has been
// recorded so far.
func (r *SignatureResult) hasFailed() bool {
	for _, d := range r.Diagnostics {
		if d.Status != StatusInfo {
			return true
		}
	}
	return false
}

// Verified reports whether this signature's diagnostics show a clean pass:
// no PERMFAIL/TEMPFAIL, and at least one INFO diagnostic (there always is,
// once verification runs to completion -- an empty diagnostic list means
// verification never got far enough to conclude anything).
func (r *SignatureResult) Verified() bool {
	if len(r.Diagnostics) == 0 {
		return false
	}
	return !r.hasFailed()
}

// Report is the ordered list of per-signature results produced by
// verifying a message, one entry per DKIM-Signature header field found.
type Report []*SignatureResult

// Passed implements the aggregated "does this message pass DKIM" boolean:
// true iff exactly one signature was found and it verified cleanly.
func (rep Report) Passed() bool {
	if len(rep) != 1 {
		return false
	}
	return rep[0].Verified()
}

// permFailError and tempFailError are the sentinel error types surfaced by
// components below Verifier (KeyStore, tag parsing) so Verifier can tell
// permanent failures from transient ones without string matching.
type permFailError string

func (e permFailError) Error() string { return "dkim: " + string(e) }

// IsPermFail reports whether err (or something it wraps) is a permanent
// verification failure.
func IsPermFail(err error) bool {
	var pe permFailError
	if errors.As(err, &pe) {
		return true
	}
	var te tagListError
	return errors.As(err, &te)
}

type tempFailError string

func (e tempFailError) Error() string { return "dkim: " + string(e) }

// IsTempFail reports whether err (or something it wraps) is a transient
// verification failure.
func IsTempFail(err error) bool {
	var te tempFailError
	if errors.As(err, &te) {
		return true
	}
	var de dnsFormatError
	return errors.As(err, &de)
}
