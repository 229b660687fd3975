package dkim

import (
	"strings"
)

// tagListMode selects how a malformed segment (one with no "=") is treated:
// signature tag lists are a hard PERMFAIL, DNS key records are a softer
// TEMPFAIL (the record may simply not exist yet, or be mid-rotation).
type tagListMode int

const (
	tagListSignature tagListMode = iota
	tagListDNSRecord
)

// dnsFormatError marks a DNS TXT record that failed to parse as a tag list.
// It is treated as a TEMPFAIL by the KeyStore rather than a hard PERMFAIL.
type dnsFormatError string

func (e dnsFormatError) Error() string { return "dkim: " + string(e) }

// tagListError marks a malformed tag=value list; a signature with one of
// these is a PERMFAIL.
type tagListError string

func (e tagListError) Error() string { return "dkim: " + string(e) }

// duplicateTag records that a tag name appeared more than once in a list;
// per RFC 6376 section 3.2, the last occurrence wins but callers may want to
// flag it.
type duplicateTag struct {
	Tag string
}

// parseTagList parses a "tag=value; tag=value; ..." list per RFC 6376
// section 3.2. Whitespace (including folding whitespace) is not significant
// anywhere in the list, so it is stripped before splitting on ";". Empty
// segments (e.g. a trailing ";") are ignored. Duplicate tags keep the last
// occurrence; the returned slice records which tags were duplicated.
func parseTagList(s string, mode tagListMode) (map[string]string, []duplicateTag, error) {
	stripped := stripWhitespace(s)

	params := make(map[string]string)
	var dups []duplicateTag
	for _, seg := range strings.Split(stripped, ";") {
		if seg == "" {
			continue
		}

		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			if mode == tagListDNSRecord {
				return params, dups, dnsFormatError("malformed tag list")
			}
			return params, dups, tagListError("malformed tag list")
		}

		name, value := seg[:eq], seg[eq+1:]
		if _, ok := params[name]; ok {
			dups = append(dups, duplicateTag{Tag: name})
		}
		params[name] = value
	}

	return params, dups, nil
}

// parseColonList splits a colon-separated tag value (used by h=, t=, s=, ...)
// into its trimmed elements.
func parseColonList(s string) []string {
	parts := strings.Split(s, ":")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts
}

func stripWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case ' ', '\t', '\r', '\n':
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
