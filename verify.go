package dkim

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

const headerFieldName = "DKIM-Signature"

var requiredTags = []string{"v", "a", "b", "bh", "d", "h", "s"}

// Options customizes Verify's collaborators. Any nil field falls back to
// the package default.
type Options struct {
	// TxtLookup resolves DNS TXT records for key lookups. Defaults to
	// NewResolverTxtLookup().
	TxtLookup TxtLookup
	// Crypto performs hashing and signature verification. Defaults to
	// the stdlib-backed implementation.
	Crypto Crypto
	// Now returns the current time, used for expiry checks. Defaults to
	// time.Now.
	Now func() time.Time
	// Context bounds DNS lookups issued while verifying; defaults to
	// context.Background().
	Context context.Context
	// Trace, if true, logs every diagnostic through blitiri.com.ar/go/log
	// at debug level under a per-call correlation ID. See DefaultTrace.
	Trace bool
}

// Verify parses raw as an RFC 5322 message, verifies every DKIM-Signature
// header field it contains against the default collaborators, and
// returns one diagnostic result per signature found.
func Verify(raw []byte) (Report, error) {
	return VerifyWithOptions(raw, nil)
}

// VerifyWithOptions is Verify with caller-supplied collaborators.
func VerifyWithOptions(raw []byte, opts *Options) (Report, error) {
	if opts == nil {
		opts = &Options{}
	}

	lookup := opts.TxtLookup
	if lookup == nil {
		lookup = NewResolverTxtLookup()
	}
	crypt := opts.Crypto
	if crypt == nil {
		crypt = defaultCrypto{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ctx := opts.Context
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.Trace {
		ctx = WithTrace(ctx, DefaultTrace())
	}

	msg, err := ParseMessage(raw)
	if err != nil {
		return nil, err
	}

	v := &verifier{
		msg:      msg,
		keyStore: NewKeyStore(lookup),
		crypto:   crypt,
		now:      now,
	}

	var sigIdx int
	var report Report
	for i, h := range msg.Headers {
		if h.LowerName != strings.ToLower(headerFieldName) {
			continue
		}
		tracef(ctx, "verifying signature %d (header index %d)", sigIdx, i)
		res := v.verifySignature(ctx, h)
		report = append(report, res)
		sigIdx++
	}

	return report, nil
}

// verifier holds the collaborators shared across every signature in one
// Verify call.
type verifier struct {
	msg      *Message
	keyStore *KeyStore
	crypto   Crypto
	now      func() time.Time
}

// verifySignature runs every step of section 4.5 against one
// DKIM-Signature header field, accumulating diagnostics into the
// returned SignatureResult. It never returns a nil result.
func (v *verifier) verifySignature(ctx context.Context, sigHeader Header) *SignatureResult {
	res := &SignatureResult{BodyLength: -1}

	// 1. Tag extraction.
	params, _, err := parseTagList(sigHeader.RawValue, tagListSignature)
	if err != nil {
		res.permFail(ctx, "malformed signature tags: "+err.Error())
		return res
	}

	// 2. Required tags.
	for _, tag := range requiredTags {
		if _, ok := params[tag]; ok {
			res.info(ctx, "tag "+tag+" present")
		} else {
			res.permFail(ctx, "missing required tag "+tag)
		}
	}

	// 3. Version.
	if params["v"] == "1" {
		res.info(ctx, "version 1")
	} else {
		res.permFail(ctx, "incompatible signature version")
	}

	res.Domain = stripWhitespace(params["d"])
	res.Selector = stripWhitespace(params["s"])
	if i, ok := params["i"]; ok {
		res.Identifier = stripWhitespace(i)
	} else {
		res.Identifier = "@" + res.Domain
	}
	if hVal, ok := params["h"]; ok {
		res.HeaderKeys = parseColonList(hVal)
	}

	// 4. Canonicalization spec.
	headerCan, bodyCan := parseCanonicalization(params["c"])
	if _, ok := canonicalizers[headerCan]; !ok {
		res.permFail(ctx, "unsupported header canonicalization algorithm")
	}
	if _, ok := canonicalizers[bodyCan]; !ok {
		res.permFail(ctx, "unsupported body canonicalization algorithm")
	}

	// 5. Body length.
	var bodyLen int64 = -1
	if lenStr, ok := params["l"]; ok {
		l, err := strconv.ParseInt(stripWhitespace(lenStr), 10, 64)
		if err != nil || l < 0 {
			res.permFail(ctx, "malformed body length")
		} else if can, ok := canonicalizers[bodyCan]; ok {
			canonical := canonicalizeBody(can, v.msg.Body, -1)
			if l > int64(len(canonical)) {
				res.permFail(ctx, "body length exceeds canonical body length")
			}
			bodyLen = l
		}
	}
	res.BodyLength = bodyLen

	// 6. Identity i= tag.
	if params["i"] != "" {
		id := res.Identifier
		d := res.Domain
		if !strings.HasSuffix(strings.ToLower(id), "@"+strings.ToLower(d)) &&
			!strings.HasSuffix(strings.ToLower(id), "."+strings.ToLower(d)) {
			res.permFail(ctx, "identity does not match domain")
		}
	}

	// 7. From coverage.
	hasFrom := false
	for _, k := range res.HeaderKeys {
		if strings.EqualFold(k, "from") {
			hasFrom = true
			break
		}
	}
	if !hasFrom {
		res.permFail(ctx, "From header not included")
	}

	// 8. Expiry.
	if tStr, ok := params["t"]; ok {
		t, err := parseTagTime(tStr)
		if err != nil {
			res.permFail(ctx, "malformed signature timestamp")
		} else {
			res.Time = t
		}
	}
	if xStr, ok := params["x"]; ok {
		x, err := parseTagTime(xStr)
		if err != nil {
			res.permFail(ctx, "malformed expiration timestamp")
		} else {
			res.Expiration = x
			if x.Before(v.now()) {
				res.permFail(ctx, "signature has expired")
			}
			if !res.Time.IsZero() && x.Before(res.Time) {
				res.permFail(ctx, "expiration predates signature timestamp")
			}
		}
	}

	// 9. Query method.
	methods := []string{"dns/txt"}
	if qStr, ok := params["q"]; ok {
		methods = parseColonList(qStr)
	}
	if len(methods) != 1 || methods[0] != "dns/txt" {
		res.permFail(ctx, "unsupported query method")
	}

	// 9.5. Algorithm strength. RFC 8301 deprecates SHA-1 for DKIM
	// signing; a conforming verifier treats rsa-sha1/ed25519-sha1 as a
	// hard failure rather than the informational "weak" note an
	// RFC 6376-only reading would give it.
	if _, hashAlg, ok := parseSignatureAlgorithm(params["a"]); !ok {
		res.permFail(ctx, "malformed or unsupported algorithm name")
	} else if hashAlg == HashSHA1 {
		res.permFail(ctx, "rsa-sha1 signatures are not accepted (RFC 8301)")
	}

	// 10. Short-circuit: remaining steps need a valid key and signature.
	if res.hasFailed() {
		return res
	}

	// 11. Key fetch.
	records, err := v.keyStore.Lookup(ctx, res.Domain, res.Selector)
	if err != nil {
		if IsTempFail(err) {
			res.tempFail(ctx, err.Error())
		} else {
			res.permFail(ctx, err.Error())
		}
		return res
	}

	keyAlg, hashAlg, ok := parseSignatureAlgorithm(params["a"])
	if !ok {
		res.permFail(ctx, "malformed or unsupported algorithm name")
		return res
	}

	bodyHashed, err := decodeBase64Tag(params["bh"])
	if err != nil {
		res.permFail(ctx, "malformed body hash")
		return res
	}
	sig, err := decodeBase64Tag(params["b"])
	if err != nil {
		res.permFail(ctx, "malformed signature")
		return res
	}

	// 12. Signed header assembly.
	headerBytes := v.assembleSignedHeaders(res.HeaderKeys, sigHeader, headerCan)

	// 13. Body hash.
	bodyCanonical := canonicalizeBody(canonicalizers[bodyCan], v.msg.Body, bodyLen)
	bodyHash := v.crypto.Hash(hashAlg, bodyCanonical)
	if subtle.ConstantTimeCompare(bodyHash, bodyHashed) != 1 {
		res.permFail(ctx, "body hash did not verify")
		return res
	}

	// 14. Signature verification against every candidate key.
	hashed := v.crypto.Hash(hashAlg, headerBytes)
	var lastErr error
	verified := false
	for keyIdx, key := range records {
		if mismatch := keyMismatchReason(key, keyAlg, hashAlg); mismatch != "" {
			lastErr = fmt.Errorf("key %d: %s", keyIdx, mismatch)
			continue
		}
		if err := v.crypto.VerifySignature(key.KeyAlgorithm, key.KeyData, hashAlg, hashed, sig); err != nil {
			lastErr = fmt.Errorf("key %d: signature did not verify: %w", keyIdx, err)
			continue
		}
		verified = true
		break
	}

	if !verified {
		reason := "signature did not verify against any published key"
		if lastErr != nil {
			reason = lastErr.Error()
		}
		res.permFail(ctx, reason)
		return res
	}

	res.info(ctx, "signature verified")
	return res
}

// assembleSignedHeaders reconstructs the exact byte stream the signer
// hashed: the canonical form of each header named in the h= tag, picked
// from the message bottom-up per name (RFC 6376 section 5.4), followed by
// the DKIM-Signature header itself with its b= value stripped and,
// regardless of canonicalization mode, no trailing CRLF.
func (v *verifier) assembleSignedHeaders(headerKeys []string, sigHeader Header, headerCan Canonicalization) []byte {
	can := canonicalizers[headerCan]

	picker := newHeaderPicker(v.msg.Headers)
	var buf []byte
	for _, key := range headerKeys {
		h := picker.pick(key)
		if h == nil {
			// h= MAY name headers absent from the message; they
			// contribute nothing to the hash.
			continue
		}
		buf = append(buf, can.CanonicalizeHeader(h.Source())...)
	}

	stripped := sigHeader.RawName + ":" + stripSignatureValue(sigHeader.RawValue)
	sigCanonical := can.CanonicalizeHeader(stripped)
	sigCanonical = strings.TrimRight(sigCanonical, "\r\n")
	buf = append(buf, sigCanonical...)

	return buf
}

// headerPicker implements RFC 6376 section 5.4's header-selection rule:
// the Nth occurrence of a name in h= picks the Nth-from-the-bottom
// instance of that header in the message. Every name shares its own
// independent counter across the whole h= list, not just consecutive
// runs of the same name.
type headerPicker struct {
	headers []Header
	picked  map[string]int
}

func newHeaderPicker(headers []Header) *headerPicker {
	return &headerPicker{headers: headers, picked: make(map[string]int)}
}

func (p *headerPicker) pick(name string) *Header {
	lname := strings.ToLower(name)
	skip := p.picked[lname]
	for i := len(p.headers) - 1; i >= 0; i-- {
		if p.headers[i].LowerName != lname {
			continue
		}
		if skip == 0 {
			p.picked[lname]++
			return &p.headers[i]
		}
		skip--
	}
	return nil
}

// canonicalizeBody runs can over body, truncating the result to limit
// bytes of the canonical stream if limit >= 0. The l= tag applies to the
// canonical body (RFC 6376 section 3.4.5, section 3.2's l= definition),
// not the raw one, so the truncation sits between the canonicalizer and
// the buffer it writes into rather than before canonicalization runs.
func canonicalizeBody(can canonicalizer, body []byte, limit int64) []byte {
	var buf []byte
	w := io.Writer(&byteSliceWriter{buf: &buf})
	if limit >= 0 {
		w = &limitedWriter{W: w, N: limit}
	}

	wc := can.CanonicalizeBody(w)
	wc.Write(body)
	wc.Close()

	return buf
}

type byteSliceWriter struct {
	buf *[]byte
}

func (w *byteSliceWriter) Write(b []byte) (int, error) {
	*w.buf = append(*w.buf, b...)
	return len(b), nil
}

func parseSignatureAlgorithm(a string) (KeyAlgorithm, HashAlgorithm, bool) {
	parts := strings.SplitN(stripWhitespace(a), "-", 2)
	if len(parts) != 2 {
		return "", 0, false
	}
	var hash HashAlgorithm
	switch parts[1] {
	case "sha1":
		hash = HashSHA1
	case "sha256":
		hash = HashSHA256
	default:
		return "", 0, false
	}
	return KeyAlgorithm(parts[0]), hash, true
}

// keyMismatchReason compares a candidate key record's k/h/s fields
// against the signature's algorithm, returning a non-empty reason if the
// key cannot be used for this signature. The record's v= tag is checked
// earlier, when parsePublicKeyRecord parses it.
func keyMismatchReason(key *PublicKeyRecord, keyAlg KeyAlgorithm, hashAlg HashAlgorithm) string {
	if key.KeyAlgorithm != keyAlg {
		return "key algorithm mismatch"
	}
	if !key.allowsHash(hashAlg) {
		return "hash algorithm not permitted by key record"
	}
	if len(key.Services) > 0 {
		ok := false
		for _, s := range key.Services {
			if s == "email" {
				ok = true
				break
			}
		}
		if !ok {
			return "key record does not list the email service"
		}
	}
	return ""
}

func parseTagTime(s string) (time.Time, error) {
	sec, err := strconv.ParseInt(stripWhitespace(s), 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.Unix(sec, 0).UTC(), nil
}

func decodeBase64Tag(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(stripWhitespace(s))
}
