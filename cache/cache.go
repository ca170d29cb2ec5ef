// Package cache memoizes upstream resolutions for the life of the process.
//
// Entries never expire and are never evicted. The lock guards the map only,
// it is never held while the upstream is asked, so concurrent misses for the
// same name may all reach the upstream; the first result stored wins.
package cache

import (
	"context"
	"net/netip"
	"sync"

	"github.com/miekg/dns"

	"github.com/treemana/dnsproxy/log"
)

// Resolver performs the real lookup on a miss
type Resolver interface {
	Query(ctx context.Context, host string, qType uint16) ([]netip.Addr, error)
}

type key struct {
	host  string
	qType uint16
}

// Cache the zero netip.Addr stored for a key marks "no answer"
type Cache struct {
	resolver Resolver

	mu      sync.Mutex
	answers map[key]netip.Addr
}

func New(resolver Resolver) *Cache {
	return &Cache{
		resolver: resolver,
		answers:  make(map[key]netip.Addr),
	}
}

// Lookup return the first address of host for qType, ok is false when the
// upstream has no answer, the name does not exist or the lookup timed out
func (c *Cache) Lookup(ctx context.Context, host string, qType uint16) (netip.Addr, bool) {
	k := key{host: host, qType: qType}

	c.mu.Lock()
	ip, hit := c.answers[k]
	c.mu.Unlock()

	if hit {
		return ip, ip.IsValid()
	}

	addrs, err := c.resolver.Query(ctx, host, qType)
	if err != nil {
		log.Sugar.Debugf("lookup %s %s -> none (%v)", host, dns.TypeToString[qType], err)
	} else if len(addrs) > 0 {
		ip = addrs[0]
	}

	// a lookup cut short by shutdown says nothing about the name
	if ctx.Err() != nil {
		return ip, ip.IsValid()
	}

	c.mu.Lock()
	if stored, ok := c.answers[k]; ok {
		ip = stored
	} else {
		c.answers[k] = ip
	}
	c.mu.Unlock()

	return ip, ip.IsValid()
}

func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.answers)
}
