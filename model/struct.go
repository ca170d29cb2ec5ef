package model

import (
	"net"
	"net/netip"
)

// DT is the life of one datagram inside the server
type DT struct {
	// SN serial number, increased by one for every datagram read from the udp connection
	SN uint64

	// RemoteAddr the requester udp address
	RemoteAddr *net.UDPAddr

	// LocalIP the destination address of the request, set only when packet info is enabled
	LocalIP net.IP

	Domain string
	Answer netip.Addr

	Request  []byte
	Response []byte
}
