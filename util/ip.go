package util

import (
	"net"
	"net/netip"

	"golang.org/x/net/ipv4"
)

const (
	// ipv4Flags is the set of socket option flags for configuring an IPv4 UDP
	// connection to receive the destination address of every packet.
	ipv4Flags = ipv4.FlagDst | ipv4.FlagInterface
)

var privateV4 = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("169.254.0.0/16"),
}

// IsPrivateV4 report whether ip is in RFC 1918, loopback or link-local IPv4 space
func IsPrivateV4(ip netip.Addr) bool {
	ip = ip.Unmap()
	if !ip.Is4() {
		return false
	}

	for _, p := range privateV4 {
		if p.Contains(ip) {
			return true
		}
	}

	return false
}

// IsSelf report whether ip would be answered by this host
func IsSelf(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsLoopback() || ip.IsUnspecified()
}

func SetControlMessage(conn *net.UDPConn) error {
	return ipv4.NewPacketConn(conn).SetControlMessage(ipv4Flags, true)
}

// GetOOBSize returns maximum size of the received OOB data.
func GetOOBSize() int {
	return len(ipv4.NewControlMessage(ipv4Flags))
}

// Read reads one packet, dst is the local address it was sent to
// dst is nil when oob is empty or carries no packet info
func Read(c *net.UDPConn, buf, oob []byte) (n int, remoteAddr *net.UDPAddr, dst net.IP, err error) {
	if len(oob) == 0 {
		n, remoteAddr, err = c.ReadFromUDP(buf)
		if err != nil {
			return -1, nil, nil, err
		}
		return n, remoteAddr, nil, nil
	}

	var oobn int
	n, oobn, _, remoteAddr, err = c.ReadMsgUDP(buf, oob)
	if err != nil {
		return -1, nil, nil, err
	}

	var cm ipv4.ControlMessage
	if oobn > 0 && cm.Parse(oob[:oobn]) == nil {
		dst = cm.Dst
	}

	return n, remoteAddr, dst, nil
}

// Write sends b to remoteAddr, from src when src is not nil
func Write(c *net.UDPConn, b []byte, remoteAddr *net.UDPAddr, src net.IP) error {
	if src == nil {
		_, err := c.WriteToUDP(b, remoteAddr)
		return err
	}

	_, _, err := c.WriteMsgUDP(b, GetOOBWithSrc(src), remoteAddr)
	return err
}

// GetOOBWithSrc makes the OOB data with a specified source IP.
func GetOOBWithSrc(ip net.IP) []byte {
	return (&ipv4.ControlMessage{Src: ip}).Marshal()
}
