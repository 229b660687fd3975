package dkim

import "fmt"

// AuthResultParams reduces a SignatureResult to the key/value pairs an
// Authentication-Results header field (RFC 8601) would attach to a "dkim="
// method result for this signature: header.d, header.s and, when the
// identifier differs from the default "@"+Domain, header.i. It does not
// produce a header.b parameter. This package does not itself format or insert the header field -- that
// is a transport-layer concern -- but callers assembling one can use this
// as the params half.
func AuthResultParams(res *SignatureResult) map[string]string {
	params := map[string]string{
		"header.d": res.Domain,
		"header.s": res.Selector,
	}
	if res.Identifier != "" && res.Identifier != "@"+res.Domain {
		params["header.i"] = res.Identifier
	}
	return params
}

// ResultKeyword maps a SignatureResult to an RFC 8601 dkim result
// keyword: "fail" if any diagnostic is a PERMFAIL, else "temperror" if any
// is a TEMPFAIL, else "pass". It never returns "policy" or "permerror". A
// signature with no diagnostics yet (verification never reached it)
// reports "neutral".
func ResultKeyword(res *SignatureResult) string {
	if len(res.Diagnostics) == 0 {
		return "neutral"
	}
	var sawTempFail bool
	for _, d := range res.Diagnostics {
		switch d.Status {
		case StatusPermFail:
			return "fail"
		case StatusTempFail:
			sawTempFail = true
		}
	}
	if sawTempFail {
		return "temperror"
	}
	return "pass"
}

// String renders a one-line human-readable summary of res, suitable for
// a verbose CLI or a debug log: "d=example.com s=selector1: PASS" or
// "d=example.com s=selector1: fail (body hash did not verify)".
func (res *SignatureResult) String() string {
	kw := ResultKeyword(res)
	if kw == "pass" {
		return fmt.Sprintf("d=%s s=%s: PASS", res.Domain, res.Selector)
	}
	reason := "unknown"
	for _, d := range res.Diagnostics {
		if d.Status != StatusInfo {
			reason = d.Reason
			break
		}
	}
	return fmt.Sprintf("d=%s s=%s: %s (%s)", res.Domain, res.Selector, kw, reason)
}
