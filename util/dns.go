package util

import (
	"net"
	"net/netip"

	"github.com/miekg/dns"
)

func DNSSplitAnswer(rr dns.RR) net.IP {
	switch rr := rr.(type) {
	case *dns.A:
		return rr.A.To4()
	case *dns.AAAA:
		return rr.AAAA
	default:
		return nil
	}
}

// DNSAnswerAddrs return the addresses of qType in the answer section, in order
// CNAME and other records are skipped
func DNSAnswerAddrs(m *dns.Msg, qType uint16) []netip.Addr {
	if m == nil {
		return nil
	}

	var addrs = make([]netip.Addr, 0, len(m.Answer))
	for _, rr := range m.Answer {
		if rr.Header().Rrtype != qType {
			continue
		}

		addr, ok := netip.AddrFromSlice(DNSSplitAnswer(rr))
		if !ok {
			continue
		}
		addrs = append(addrs, addr.Unmap())
	}

	return addrs
}

func DNSNewQuestion(name string, qType uint16) *dns.Msg {
	var m = new(dns.Msg)
	m.SetQuestion(dns.Fqdn(name), qType)
	return m
}
