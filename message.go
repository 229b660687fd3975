package dkim

import (
	"errors"
)

const crlf = "\r\n"

// ErrInvalidMessage is returned by ParseMessage when the input cannot be
// split into a header block and a body, e.g. because it is empty or the
// header block has no terminating blank line.
var ErrInvalidMessage = errors.New("dkim: invalid message")

// Header holds one header field as found in the message, folded
// continuation lines included, together with its raw bytes. RawName and RawValue are exactly the bytes the signer
// would have seen; LowerName is only used for case-insensitive matching.
//
// The header field's original line is reconstructable as
// RawName + ":" + RawValue, and RawValue always ends in a CRLF (including
// the CRLF of any folded continuation lines it swallowed).
type Header struct {
	RawName   string
	LowerName string
	RawValue  string
}

// Source returns the header field exactly as it appeared in the message,
// i.e. RawName + ":" + RawValue.
func (h Header) Source() string {
	return h.RawName + ":" + h.RawValue
}

// Message is a parsed RFC 5322 message: an ordered list of header fields
// plus a body, both with line endings normalized to CRLF.
type Message struct {
	Raw     []byte
	Headers []Header
	Body    []byte
}

// ParseMessage splits raw into a Message, normalizing line endings and
// separating the header block from the body on the first blank line.
func ParseMessage(raw []byte) (*Message, error) {
	if len(raw) == 0 {
		return nil, ErrInvalidMessage
	}

	norm := normalizeCRLF(raw)

	idx := indexHeaderEnd(norm)
	if idx < 0 {
		return nil, ErrInvalidMessage
	}

	headerBlock := norm[:idx]
	body := norm[idx+4:] // skip the CRLFCRLF separator

	headers, err := parseHeaderBlock(headerBlock)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:     raw,
		Headers: headers,
		Body:    body,
	}, nil
}

// normalizeCRLF rewrites bare CR and bare LF to CRLF in a single
// left-to-right pass, leaving existing CRLF sequences untouched. A naive
// double string-replace (CR -> CRLF, then LF -> CRLF) does not converge
// when a bare CR is immediately followed by a bare LF; scanning once does.
func normalizeCRLF(b []byte) []byte {
	out := make([]byte, 0, len(b)+len(b)/8)
	for i := 0; i < len(b); i++ {
		switch b[i] {
		case '\r':
			out = append(out, '\r', '\n')
			if i+1 < len(b) && b[i+1] == '\n' {
				i++
			}
		case '\n':
			out = append(out, '\r', '\n')
		default:
			out = append(out, b[i])
		}
	}
	return out
}

// indexHeaderEnd returns the index of the first CRLFCRLF in b, or -1 if
// there is none.
func indexHeaderEnd(b []byte) int {
	for i := 0; i+3 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' && b[i+2] == '\r' && b[i+3] == '\n' {
			return i
		}
	}
	return -1
}

// parseHeaderBlock parses the folded-header rule: a header is a
// non-whitespace-prefixed line followed by zero or more continuation lines
// starting with a space or tab. block must not include the terminating
// CRLFCRLF; a trailing CRLF is appended internally so the last header's
// value is terminated the same way as every other header's.
func parseHeaderBlock(block []byte) ([]Header, error) {
	if len(block) == 0 {
		return nil, nil
	}
	block = append(append([]byte{}, block...), '\r', '\n')

	var headers []Header
	i := 0
	for i < len(block) {
		lineEnd := indexCRLF(block[i:])
		if lineEnd < 0 {
			return nil, ErrInvalidMessage
		}
		lineEnd += i

		line := block[i:lineEnd]
		if len(line) > 0 && (line[0] == ' ' || line[0] == '\t') {
			if len(headers) == 0 {
				return nil, ErrInvalidMessage
			}
			headers[len(headers)-1].RawValue += string(block[i : lineEnd+2])
			i = lineEnd + 2
			continue
		}

		colon := indexByte(line, ':')
		if colon < 0 {
			return nil, ErrInvalidMessage
		}

		rawName := string(line[:colon])
		rawValue := string(block[i+colon+1 : lineEnd+2])

		headers = append(headers, Header{
			RawName:   rawName,
			LowerName: lowerASCIITrim(rawName),
			RawValue:  rawValue,
		})

		i = lineEnd + 2
	}

	return headers, nil
}

func indexCRLF(b []byte) int {
	for i := 0; i+1 < len(b); i++ {
		if b[i] == '\r' && b[i+1] == '\n' {
			return i
		}
	}
	return -1
}

func indexByte(b []byte, c byte) int {
	for i := range b {
		if b[i] == c {
			return i
		}
	}
	return -1
}

func lowerASCIITrim(s string) string {
	start, end := 0, len(s)
	for start < end && isWSP(s[start]) {
		start++
	}
	for end > start && isWSP(s[end-1]) {
		end--
	}
	s = s[start:end]

	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func isWSP(c byte) bool {
	return c == ' ' || c == '\t'
}
