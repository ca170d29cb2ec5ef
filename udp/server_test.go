package udp

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/treemana/dnsproxy/model"
)

var proxyIP = netip.MustParseAddr("10.10.10.10")

// fakePolicy answers from answers, sleeping delay[domain] first
type fakePolicy struct {
	answers map[string]string
	delay   map[string]time.Duration
}

func (f *fakePolicy) Resolve(ctx context.Context, domain string) (netip.Addr, bool) {
	if d, ok := f.delay[domain]; ok {
		select {
		case <-time.After(d):
		case <-ctx.Done():
			return netip.Addr{}, false
		}
	}
	ip, ok := f.answers[domain]
	if !ok {
		return netip.Addr{}, false
	}
	return netip.MustParseAddr(ip), true
}

func newServer(t *testing.T, p *fakePolicy) *Server {
	t.Helper()

	s, err := New(Configure{Host: "127.0.0.1", ProxyIP: proxyIP}, p)
	require.NoError(t, err)
	s.Start()
	t.Cleanup(s.Stop)

	return s
}

func dial(t *testing.T, s *Server) *net.UDPConn {
	t.Helper()

	c, err := net.DialUDP("udp4", nil, s.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func query(t *testing.T, c *net.UDPConn, id uint16, name string, qType uint16) {
	t.Helper()

	m := new(dns.Msg)
	m.SetQuestion(name, qType)
	m.Id = id
	raw, err := m.Pack()
	require.NoError(t, err)

	_, err = c.Write(raw)
	require.NoError(t, err)
}

func receive(t *testing.T, c *net.UDPConn, timeout time.Duration) (*dns.Msg, error) {
	t.Helper()

	require.NoError(t, c.SetReadDeadline(time.Now().Add(timeout)))
	buf := make([]byte, dns.DefaultMsgSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}

	m := new(dns.Msg)
	require.NoError(t, m.Unpack(buf[:n]))
	return m, nil
}

func answerOf(t *testing.T, m *dns.Msg) string {
	t.Helper()

	require.Len(t, m.Answer, 1)
	a, ok := m.Answer[0].(*dns.A)
	require.True(t, ok)
	return a.A.String()
}

func TestServe(t *testing.T) {
	s := newServer(t, &fakePolicy{answers: map[string]string{
		"nas.lan.":        "192.168.1.5",
		"www.google.com.": proxyIP.String(),
	}})
	c := dial(t, s)

	tests := []struct {
		name  string
		id    uint16
		host  string
		qType uint16
		want  string
	}{
		{name: "passthrough", id: 0x1234, host: "nas.lan.", qType: dns.TypeA, want: "192.168.1.5"},
		{name: "redirect", id: 0x0001, host: "www.google.com.", qType: dns.TypeA, want: proxyIP.String()},
		{name: "unresolvable falls back to proxy", id: 0xFFFF, host: "missing.example.com.", qType: dns.TypeA, want: proxyIP.String()},
		{name: "AAAA answered with A", id: 0x4242, host: "nas.lan.", qType: dns.TypeAAAA, want: "192.168.1.5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query(t, c, tt.id, tt.host, tt.qType)

			m, err := receive(t, c, 2*time.Second)
			require.NoError(t, err)
			assert.Equal(t, tt.id, m.Id)
			assert.True(t, m.Response)
			assert.Equal(t, tt.host, m.Question[0].Name)
			assert.Equal(t, tt.want, answerOf(t, m))
		})
	}
}

func TestServeDropsBadPackets(t *testing.T) {
	s := newServer(t, &fakePolicy{answers: map[string]string{"nas.lan.": "192.168.1.5"}})
	c := dial(t, s)

	// shorter than a header
	_, err := c.Write([]byte{0x12, 0x34, 0x01})
	require.NoError(t, err)
	_, err = receive(t, c, 200*time.Millisecond)
	var netErr net.Error
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no response, got %v", err)

	// opcode status
	m := new(dns.Msg)
	m.SetQuestion("nas.lan.", dns.TypeA)
	m.Opcode = dns.OpcodeStatus
	raw, err := m.Pack()
	require.NoError(t, err)
	_, err = c.Write(raw)
	require.NoError(t, err)
	_, err = receive(t, c, 200*time.Millisecond)
	require.True(t, errors.As(err, &netErr) && netErr.Timeout(), "expected no response, got %v", err)

	// still serving
	query(t, c, 7, "nas.lan.", dns.TypeA)
	resp, err := receive(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.5", answerOf(t, resp))
}

// one slow lookup must not hold up other clients
func TestServeConcurrent(t *testing.T) {
	s := newServer(t, &fakePolicy{
		answers: map[string]string{"slow.lan.": "192.168.1.6", "fast.lan.": "192.168.1.7"},
		delay:   map[string]time.Duration{"slow.lan.": 500 * time.Millisecond},
	})
	c := dial(t, s)

	query(t, c, 1, "slow.lan.", dns.TypeA)
	query(t, c, 2, "fast.lan.", dns.TypeA)

	first, err := receive(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 2, first.Id)

	second, err := receive(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.EqualValues(t, 1, second.Id)
	assert.Equal(t, "192.168.1.6", answerOf(t, second))
}

func TestNilPolicyAnswersProxy(t *testing.T) {
	s, err := New(Configure{Host: "127.0.0.1"}, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	assert.Equal(t, "127.0.0.1", s.ProxyIP().String())

	c := dial(t, s)
	query(t, c, 9, "anything.example.com.", dns.TypeA)
	m, err := receive(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1", answerOf(t, m))
}

func TestNewConfigurationError(t *testing.T) {
	tests := []struct {
		name  string
		c     Configure
		field string
	}{
		{name: "hostname", c: Configure{Host: "localhost"}, field: "server.host"},
		{name: "ipv6", c: Configure{Host: "::1"}, field: "server.host"},
		{name: "port", c: Configure{Host: "127.0.0.1", Port: 70000}, field: "server.port"},
		{name: "wildcard without proxy ip", c: Configure{Host: "0.0.0.0"}, field: "server.proxy_ip"},
		{name: "empty host without proxy ip", c: Configure{}, field: "server.proxy_ip"},
		{name: "ipv6 proxy ip", c: Configure{Host: "127.0.0.1", ProxyIP: netip.MustParseAddr("2001:db8::1")}, field: "server.proxy_ip"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.c, nil)
			assert.Nil(t, s)

			var ce *model.ConfigurationError
			require.True(t, errors.As(err, &ce), "error %v", err)
			assert.Equal(t, tt.field, ce.Field)
		})
	}
}

func TestNewBindError(t *testing.T) {
	first, err := New(Configure{Host: "127.0.0.1"}, nil)
	require.NoError(t, err)
	defer first.Stop()

	second, err := New(Configure{Host: "127.0.0.1", Port: first.Addr().Port}, nil)
	assert.Nil(t, second)

	var be *model.BindError
	require.True(t, errors.As(err, &be), "error %v", err)
	assert.False(t, be.Permission)
	assert.Equal(t, first.Addr().String(), be.Address)
}

func TestBindErrorPermission(t *testing.T) {
	err := &net.OpError{Op: "listen", Net: "udp4", Err: os.NewSyscallError("bind", syscall.EACCES)}

	be := bindError("0.0.0.0:53", err)
	assert.True(t, be.Permission)
	assert.ErrorIs(t, be, syscall.EACCES)
	assert.Contains(t, be.Error(), "permission denied")
}

func TestStop(t *testing.T) {
	s, err := New(Configure{Host: "127.0.0.1"}, &fakePolicy{
		answers: map[string]string{"slow.lan.": "192.168.1.6"},
		delay:   map[string]time.Duration{"slow.lan.": 100 * time.Millisecond},
	})
	require.NoError(t, err)
	s.Start()

	c := dial(t, s)
	query(t, c, 3, "slow.lan.", dns.TypeA)
	time.Sleep(20 * time.Millisecond)

	// the in-flight request still gets its answer
	s.Stop()
	m, err := receive(t, c, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "192.168.1.6", answerOf(t, m))

	// idempotent, and the socket is gone
	assert.NotPanics(t, s.Stop)
	_, err = s.conn.WriteToUDP([]byte{0}, c.LocalAddr().(*net.UDPAddr))
	assert.ErrorIs(t, err, net.ErrClosed)
}

func TestServeWildcard(t *testing.T) {
	s, err := New(Configure{Host: "0.0.0.0", ProxyIP: proxyIP}, nil)
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	c, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: s.Addr().Port})
	require.NoError(t, err)
	defer func() { _ = c.Close() }()

	query(t, c, 5, "www.google.com.", dns.TypeA)
	m, err := receive(t, c, 2*time.Second)
	require.NoError(t, err)
	assert.Equal(t, proxyIP.String(), answerOf(t, m))
}
