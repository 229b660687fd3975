package dkim

import (
	"context"
	"encoding/base64"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/net/idna"
)

// PublicKeyRecord is one parsed DKIM key record, per RFC 6376 section
// 3.6.1.
type PublicKeyRecord struct {
	// KeyAlgorithm is the k= tag; defaults to rsa.
	KeyAlgorithm KeyAlgorithm
	// HashAlgorithms is the h= tag; empty means all hash algorithms are
	// acceptable.
	HashAlgorithms []HashAlgorithm
	// KeyData is the decoded p= tag. A record with an empty p= tag (a
	// revoked key) never reaches this struct -- parsePublicKeyRecord
	// rejects it with errKeyRevoked, and Lookup skips it, reporting a
	// PERMFAIL "revoked key" when no other usable record remains.
	KeyData []byte
	// Flags is the t= tag.
	Flags []string
	// Services is the s= tag; empty means all services, same as the
	// explicit "*" wildcard.
	Services []string
}

// allowsHash reports whether alg is acceptable under this key record's h=
// tag.
func (k *PublicKeyRecord) allowsHash(alg HashAlgorithm) bool {
	if len(k.HashAlgorithms) == 0 {
		return true
	}
	for _, h := range k.HashAlgorithms {
		if h == alg {
			return true
		}
	}
	return false
}

// StrictSubdomains reports whether this key's t= tag carries the "s"
// flag, which forbids the i= identity from naming a subdomain of d=.
func (k *PublicKeyRecord) StrictSubdomains() bool {
	for _, f := range k.Flags {
		if f == "s" {
			return true
		}
	}
	return false
}

// selectorPattern matches a DKIM selector: one or more dot-separated
// sub-domain labels, per RFC 6376 section 3.1's ABNF (selector = sub-domain
// *("." sub-domain)), itself RFC 5321 section 4.1.2's sub-domain grammar.
var selectorPattern = regexp.MustCompile(`^[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?(?:\.[A-Za-z0-9](?:[A-Za-z0-9-]*[A-Za-z0-9])?)*$`)

// errKeyRevoked is returned by parsePublicKeyRecord for a record whose p=
// tag is present but empty, per RFC 6376 section 3.6.1: "a TXT record with
// an empty p= tag value indicates that this public key has been revoked."
// Lookup detects it by identity so it can surface the specific PERMFAIL
// wording instead of the generic "no usable key record found" message.
var errKeyRevoked = fmt.Errorf("dkim: key revoked")

// KeyStore resolves a (domain, selector) pair to the set of public keys
// published for it. The default implementation queries DNS TXT records
// under "<selector>._domainkey.<domain>"; a caller can substitute their
// own TxtLookup (a cache, a test double, an alternate query method) via
// Options.
type KeyStore struct {
	lookup TxtLookup
}

// NewKeyStore returns a KeyStore backed by lookup. A nil lookup defaults
// to NewResolverTxtLookup().
func NewKeyStore(lookup TxtLookup) *KeyStore {
	if lookup == nil {
		lookup = NewResolverTxtLookup()
	}
	return &KeyStore{lookup: lookup}
}

// Lookup fetches and parses every usable public key record for
// (domain, selector). It returns a TEMPFAIL error if the DNS lookup
// itself fails or times out, or succeeds with no TXT record at all -- both
// are retryable, since the record may simply not have propagated yet. If
// the lookup succeeds but no record parses into a usable key, the error is
// a PERMFAIL "revoked key" when any candidate has an empty p= tag,
// otherwise a TEMPFAIL when any candidate is not a well-formed tag list,
// and otherwise a PERMFAIL. Per RFC 6376 section 3.6.2.2,
// multiple TXT records for one selector are "undefined behavior"; this
// KeyStore keeps every record that parses, the same permissive choice
// made by other RFC 6376 implementations in this space, rather than
// rejecting the selector outright or picking an arbitrary single record.
//
// Each element of the slice TxtLookup.LookupTXT returns is one complete
// TXT resource record's value; joining the record's underlying
// character-string fragments (the DNS 255-byte string limit) is the
// TxtLookup implementation's job, since that is where the wire-level
// fragments are visible -- see resolverTxtLookup in dns.go.
func (ks *KeyStore) Lookup(ctx context.Context, domain, selector string) ([]*PublicKeyRecord, error) {
	if !selectorPattern.MatchString(selector) {
		return nil, permFailError("invalid selector syntax")
	}

	asciiDomain, err := idna.ToASCII(domain)
	if err != nil {
		return nil, permFailError("invalid domain: " + err.Error())
	}
	asciiSelector, err := idna.ToASCII(selector)
	if err != nil {
		return nil, permFailError("invalid selector: " + err.Error())
	}

	name := asciiSelector + "._domainkey." + asciiDomain
	txts, err := ks.lookup.LookupTXT(ctx, name)
	if err != nil {
		return nil, tempFailError("key unavailable: " + err.Error())
	}
	if len(txts) == 0 {
		return nil, tempFailError("no key record found for " + name)
	}

	var records []*PublicKeyRecord
	var revoked, malformed bool
	for _, txt := range txts {
		rec, err := parsePublicKeyRecord(txt)
		if err != nil {
			if err == errKeyRevoked {
				revoked = true
			}
			if _, ok := err.(dnsFormatError); ok {
				malformed = true
			}
			continue
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		if revoked {
			return nil, permFailError("revoked key")
		}
		if malformed {
			return nil, tempFailError("malformed key record for " + name)
		}
		return nil, permFailError("no usable key record found for " + name)
	}
	return records, nil
}

func parsePublicKeyRecord(txt string) (*PublicKeyRecord, error) {
	tags, _, err := parseTagList(txt, tagListDNSRecord)
	if err != nil {
		return nil, err
	}

	if v, ok := tags["v"]; ok && v != "DKIM1" {
		return nil, fmt.Errorf("dkim: incompatible key record version %q", v)
	}

	rec := &PublicKeyRecord{KeyAlgorithm: KeyAlgorithmRSA}

	if k, ok := tags["k"]; ok && k != "" {
		rec.KeyAlgorithm = KeyAlgorithm(k)
	}

	p, ok := tags["p"]
	if !ok {
		return nil, fmt.Errorf("dkim: key record missing p= tag")
	}
	if p == "" {
		return nil, errKeyRevoked
	}
	keyData, err := base64.StdEncoding.DecodeString(p)
	if err != nil {
		return nil, fmt.Errorf("dkim: invalid p= tag: %w", err)
	}
	rec.KeyData = keyData

	if h, ok := tags["h"]; ok {
		for _, name := range parseColonList(h) {
			switch strings.ToLower(name) {
			case "sha1":
				rec.HashAlgorithms = append(rec.HashAlgorithms, HashSHA1)
			case "sha256":
				rec.HashAlgorithms = append(rec.HashAlgorithms, HashSHA256)
			default:
				// Unrecognized hash algorithm names are ignored, per
				// RFC 6376 section 3.6.1.
			}
		}
	}
	if s, ok := tags["s"]; ok {
		services := parseColonList(s)
		for _, svc := range services {
			if svc == "*" {
				services = nil
				break
			}
		}
		rec.Services = services
	}
	if t, ok := tags["t"]; ok {
		rec.Flags = parseColonList(t)
	}

	return rec, nil
}
