// Package policy decides which address answers a query.
package policy

import (
	"context"
	"net/netip"
	"strings"

	"github.com/miekg/dns"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/util"
)

// Policy return the address for domain, ok is false when there is none
type Policy interface {
	Resolve(ctx context.Context, domain string) (ip netip.Addr, ok bool)
}

// Lookup is satisfied by *cache.Cache
type Lookup interface {
	Lookup(ctx context.Context, host string, qType uint16) (netip.Addr, bool)
}

// Fixed answers every domain with the proxy address
type Fixed struct {
	ProxyIP netip.Addr
}

func (f Fixed) Resolve(context.Context, string) (netip.Addr, bool) {
	return f.ProxyIP, f.ProxyIP.IsValid()
}

// Passthrough lets private hosts resolve to their real address and sends
// every public host to the proxy
type Passthrough struct {
	proxyIP netip.Addr
	lookup  Lookup
	skip    map[string]struct{}
}

// NewPassthrough skipHosts always get the proxy address without a real lookup,
// a missing trailing dot is added
func NewPassthrough(proxyIP netip.Addr, lookup Lookup, skipHosts []string) *Passthrough {
	p := &Passthrough{
		proxyIP: proxyIP.Unmap(),
		lookup:  lookup,
		skip:    make(map[string]struct{}, len(skipHosts)),
	}

	for _, host := range skipHosts {
		if host = strings.TrimSpace(host); len(host) == 0 {
			continue
		}
		p.skip[dns.Fqdn(host)] = struct{}{}
	}

	return p
}

func (p *Passthrough) Resolve(ctx context.Context, domain string) (netip.Addr, bool) {
	if _, ok := p.skip[domain]; ok {
		return p.proxyIP, true
	}

	realIP, ok := p.lookup.Lookup(ctx, domain, dns.TypeA)
	if !ok {
		return netip.Addr{}, false
	}

	if util.IsPrivateV4(realIP) {
		log.Sugar.Debugf("passthrough %s -> %s", domain, realIP)
		return realIP.Unmap(), true
	}

	return p.proxyIP, true
}
