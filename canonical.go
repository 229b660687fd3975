package dkim

import (
	"io"
	"regexp"
	"strings"
)

var rxReduceWS = regexp.MustCompile(`[ \t\r\n]+`)

// Canonicalization names one of the two RFC 6376 section 3.4 algorithms.
type Canonicalization string

const (
	CanonicalizationSimple  Canonicalization = "simple"
	CanonicalizationRelaxed Canonicalization = "relaxed"
)

type canonicalizer interface {
	CanonicalizeHeader(s string) string
	CanonicalizeBody(w io.Writer) io.WriteCloser
}

var canonicalizers = map[Canonicalization]canonicalizer{
	CanonicalizationSimple:  new(simpleCanonicalizer),
	CanonicalizationRelaxed: new(relaxedCanonicalizer),
}

// parseCanonicalization splits a c= tag into its header and body halves. A
// missing tag defaults to simple/simple as RFC 6376 section 3.5 requires; a
// tag with no "/" names only the header algorithm, and the body half
// defaults to simple -- so a bare "c=simple" is simple/simple and
// "c=relaxed" is relaxed/simple, rather than being destructured into a
// missing body half the way naively splitting on "/" without a default
// would.
func parseCanonicalization(s string) (headerCan, bodyCan Canonicalization) {
	headerCan = CanonicalizationSimple
	bodyCan = CanonicalizationSimple

	s = stripWhitespace(s)
	if s == "" {
		return
	}

	parts := strings.SplitN(s, "/", 2)
	if parts[0] != "" {
		headerCan = Canonicalization(parts[0])
	}
	if len(parts) > 1 {
		bodyCan = Canonicalization(parts[1])
	}
	return
}

// fixCRLF rewrites any bare LF (one with no preceding CR) to CRLF. Message
// parsing already normalizes line endings before canonicalization ever
// sees a byte, but the canonicalizers keep this as a defensive second
// layer since they are also usable directly on arbitrary io.Writer chains.
func fixCRLF(b []byte) []byte {
	res := make([]byte, 0, len(b))
	for i := range b {
		if b[i] == '\n' && (i == 0 || b[i-1] != '\r') {
			res = append(res, '\r')
		}
		res = append(res, b[i])
	}
	return res
}

type simpleCanonicalizer struct{}

func (c *simpleCanonicalizer) CanonicalizeHeader(s string) string {
	return s
}

type simpleBodyCanonicalizer struct {
	w       io.Writer
	crlfBuf []byte
}

func (c *simpleBodyCanonicalizer) Write(b []byte) (int, error) {
	written := len(b)
	b = append(c.crlfBuf, b...)

	b = fixCRLF(b)

	end := len(b)
	// If it ends with \r, maybe the next write will begin with \n.
	if end > 0 && b[end-1] == '\r' {
		end--
	}
	// Keep all \r\n sequences buffered until we know whether more body
	// follows -- a trailing run of empty lines must be dropped.
	for end >= 2 {
		prev := b[end-2]
		cur := b[end-1]
		if prev != '\r' || cur != '\n' {
			break
		}
		end -= 2
	}

	c.crlfBuf = append([]byte{}, b[end:]...)

	var err error
	if end > 0 {
		_, err = c.w.Write(b[:end])
	}
	return written, err
}

func (c *simpleBodyCanonicalizer) Close() error {
	// Flush crlfBuf if it ends with a single \r without a matching \n.
	if len(c.crlfBuf) > 0 && c.crlfBuf[len(c.crlfBuf)-1] == '\r' {
		if _, err := c.w.Write(c.crlfBuf); err != nil {
			return err
		}
	}
	c.crlfBuf = nil

	// An empty body, or a body reduced to nothing by trailing-line
	// stripping, canonicalizes to the single CRLF sequence.
	_, err := c.w.Write([]byte(crlf))
	return err
}

func (c *simpleCanonicalizer) CanonicalizeBody(w io.Writer) io.WriteCloser {
	return &simpleBodyCanonicalizer{w: w}
}

type relaxedCanonicalizer struct{}

func (c *relaxedCanonicalizer) CanonicalizeHeader(s string) string {
	kv := strings.SplitN(s, ":", 2)

	k := strings.TrimSpace(strings.ToLower(kv[0]))

	var v string
	if len(kv) > 1 {
		v = rxReduceWS.ReplaceAllString(kv[1], " ")
		v = strings.TrimSpace(v)
	}

	return k + ":" + v + crlf
}

type relaxedBodyCanonicalizer struct {
	w       io.Writer
	crlfBuf []byte
	wspBuf  []byte
}

func (c *relaxedBodyCanonicalizer) Write(b []byte) (int, error) {
	written := len(b)

	b = fixCRLF(b)

	canonical := make([]byte, 0, len(b))
	for _, ch := range b {
		if ch == ' ' || ch == '\t' {
			c.wspBuf = append(c.wspBuf, ch)
		} else if ch == '\r' || ch == '\n' {
			c.wspBuf = nil
			c.crlfBuf = append(c.crlfBuf, ch)
		} else {
			if len(c.crlfBuf) > 0 {
				canonical = append(canonical, c.crlfBuf...)
				c.crlfBuf = nil
			}
			if len(c.wspBuf) > 0 {
				canonical = append(canonical, ' ')
				c.wspBuf = nil
			}

			canonical = append(canonical, ch)
		}
	}

	_, err := c.w.Write(canonical)
	return written, err
}

func (c *relaxedBodyCanonicalizer) Close() error {
	// A body with no content left after trailing-empty-line stripping
	// still canonicalizes to a single CRLF, same as simple -- RFC 6376
	// section 3.4.4 makes no exception for a body that canonicalizes to
	// nothing.
	_, err := c.w.Write([]byte(crlf))
	return err
}

func (c *relaxedCanonicalizer) CanonicalizeBody(w io.Writer) io.WriteCloser {
	return &relaxedBodyCanonicalizer{w: w}
}

// limitedWriter passes at most N bytes of the canonical stream through to
// W, discarding the rest while still reporting the full length written --
// this implements the l= tag, which truncates the canonical body (not the
// raw one) before hashing.
type limitedWriter struct {
	W io.Writer
	N int64
}

func (w *limitedWriter) Write(b []byte) (int, error) {
	if w.N <= 0 {
		return len(b), nil
	}

	pass := b
	if int64(len(pass)) > w.N {
		pass = pass[:w.N]
	}

	n, err := w.W.Write(pass)
	w.N -= int64(n)
	return len(b), err
}

// bTagPattern matches the b= tag's value up to the next ";" or end of
// string, capturing the "b=" (plus any whitespace before "=") so it can be
// preserved while the value is dropped.
var bTagPattern = regexp.MustCompile(`(b[ \t\r\n]*=)[^;]*`)

// stripSignatureValue removes the b= tag's value from a DKIM-Signature
// header's raw source, preserving the tag name, "=", and the terminating
// ";" or end-of-value, per RFC 6376 section 3.5. It must be applied to the
// header's source before canonicalization runs, not after.
func stripSignatureValue(source string) string {
	return bTagPattern.ReplaceAllString(source, "$1")
}
