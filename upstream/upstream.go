package upstream

import (
	"crypto/tls"
	"fmt"
	"net"
	"net/netip"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/treemana/dnsproxy/log"
	"github.com/treemana/dnsproxy/model"
	"github.com/treemana/dnsproxy/util"
)

const (
	defaultTimeout = 2 * time.Second

	portDNS = "53"
	portDoT = "853"
)

type Configure struct {
	// Nameservers like "8.8.8.8", "udp://8.8.8.8:53", "tcp://1.1.1.1" or "tls://8.8.4.4:853"
	Nameservers []string
	// Timeout of one exchange with one nameserver
	Timeout time.Duration
}

type nameserver struct {
	u      url.URL
	addr   string
	client *dns.Client
}

// UpStream resolves names against real nameservers, tried in order
type UpStream struct {
	nameservers []nameserver
}

// New fails with *model.ConfigurationError before any network access when a
// nameserver is invalid or points back at this host
func New(c Configure) (*UpStream, error) {
	if len(c.Nameservers) == 0 {
		return nil, &model.ConfigurationError{Field: "upstream.nameservers", Reason: "empty"}
	}

	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}

	us := &UpStream{nameservers: make([]nameserver, 0, len(c.Nameservers))}
	for _, raw := range c.Nameservers {
		ns, err := parseNameserver(raw, c.Timeout)
		if err != nil {
			return nil, err
		}
		us.nameservers = append(us.nameservers, ns)
	}

	for i, ns := range us.nameservers {
		log.Sugar.Infof("upstream nameserver %d %s", i, ns.u.String())
	}

	return us, nil
}

func parseNameserver(raw string, timeout time.Duration) (nameserver, error) {
	var invalid = func(reason string) error {
		return &model.ConfigurationError{Field: "upstream.nameservers", Reason: fmt.Sprintf("%q %s", raw, reason)}
	}

	s := strings.TrimSpace(raw)
	if !strings.Contains(s, "://") {
		s = "udp://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return nameserver{}, invalid(err.Error())
	}

	var network, port string
	switch u.Scheme {
	case "udp", "tcp":
		network, port = u.Scheme, portDNS
	case "tls":
		network, port = "tcp-tls", portDoT
	default:
		return nameserver{}, invalid("unsupported scheme " + u.Scheme)
	}

	ip, err := netip.ParseAddr(u.Hostname())
	if err != nil {
		return nameserver{}, invalid("is not an ip address")
	}

	// the proxy usually listens on loopback, asking it would loop forever
	if util.IsSelf(ip) {
		return nameserver{}, invalid("causes an infinite loop")
	}

	if len(u.Port()) > 0 {
		port = u.Port()
	}

	ns := nameserver{
		u:    *u,
		addr: net.JoinHostPort(ip.String(), port),
		client: &dns.Client{
			Net:     network,
			Timeout: timeout,
		},
	}

	if network == "tcp-tls" {
		ns.client.TLSConfig = &tls.Config{ServerName: ip.String(), MinVersion: tls.VersionTLS13}
	}

	return ns, nil
}
