// Package dkim verifies DKIM (DomainKeys Identified Mail) signatures on
// RFC 5322 email messages, as specified in RFC 6376.
//
// Verify parses a raw message, locates every DKIM-Signature header field,
// reconstructs the canonicalized byte stream the signer committed to, and
// checks the body hash and cryptographic signature against the public key
// published by the signing domain. It returns one diagnostic report per
// signature found; it never mutates or re-transmits the message.
//
// Signing, ARC, DMARC policy evaluation, and message transport are outside
// this package's scope -- it answers exactly one question, "were these
// signatures valid when the message arrived", and leaves what a caller does
// with that answer (reject, quarantine, tag) to them.
package dkim
