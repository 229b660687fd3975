package dkim

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// TxtLookup is the capability interface KeyStore uses to fetch TXT
// records. The default implementation queries the resolvers listed in
// /etc/resolv.conf directly with github.com/miekg/dns; callers embedding
// this package in a server that already maintains its own resolver pool,
// or that wants to pin results for tests, can supply their own.
type TxtLookup interface {
	LookupTXT(ctx context.Context, name string) ([]string, error)
}

// resolverTxtLookup is the default TxtLookup: it reads /etc/resolv.conf
// once per call and queries each configured nameserver in turn until one
// answers, mirroring how other resolvers in this corpus drive
// github.com/miekg/dns directly rather than going through net.LookupTXT.
type resolverTxtLookup struct {
	resolvConf string
}

// NewResolverTxtLookup returns a TxtLookup that issues TXT queries against
// the nameservers listed in /etc/resolv.conf.
func NewResolverTxtLookup() TxtLookup {
	return &resolverTxtLookup{resolvConf: "/etc/resolv.conf"}
}

func (r *resolverTxtLookup) LookupTXT(ctx context.Context, name string) ([]string, error) {
	cfg, err := dns.ClientConfigFromFile(r.resolvConf)
	if err != nil || len(cfg.Servers) == 0 {
		return r.fallback(ctx, name)
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeTXT)
	msg.RecursionDesired = true

	client := new(dns.Client)

	var lastErr error
	for _, server := range cfg.Servers {
		addr := net.JoinHostPort(server, cfg.Port)
		resp, _, err := client.ExchangeContext(ctx, msg, addr)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.Rcode == dns.RcodeNameError {
			return nil, nil
		}
		if resp.Rcode != dns.RcodeSuccess {
			lastErr = fmt.Errorf("dns: query failed with rcode %s", dns.RcodeToString[resp.Rcode])
			continue
		}

		var out []string
		for _, rr := range resp.Answer {
			if txt, ok := rr.(*dns.TXT); ok {
				// Multiple TXT strings within one record concatenate with
				// no separator, per RFC 6376 section 3.6.2.2.
				joined := ""
				for _, s := range txt.Txt {
					joined += s
				}
				out = append(out, joined)
			}
		}
		return out, nil
	}

	if lastErr != nil {
		return nil, lastErr
	}
	return nil, fmt.Errorf("dns: no nameservers answered for %s", name)
}

// fallback uses the standard resolver when /etc/resolv.conf cannot be
// read directly, e.g. under a sandboxed test runner or a platform without
// that file (most notably anything non-Unix).
func (r *resolverTxtLookup) fallback(ctx context.Context, name string) ([]string, error) {
	var resolver net.Resolver
	txts, err := resolver.LookupTXT(ctx, name)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, nil
		}
		return nil, err
	}
	return txts, nil
}
