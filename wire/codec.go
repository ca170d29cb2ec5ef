// Package wire decodes the single question of a dns query and builds the
// one-answer A record reply without a general purpose dns library.
//
// The reply mirrors the request header: the question count is written into
// both the question and answer count slots, and the answer name is a
// compression pointer to offset 12 where the question name starts.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"

	"github.com/miekg/dns"
)

const (
	HeaderSize = 12

	offID      = 0
	offFlags   = 2
	offQDCount = 4

	// standard query response, recursion desired and available, no error
	responseFlags uint16 = 0x8180
	namePointer   uint16 = 0xC000 | HeaderSize

	// TTL of every synthesized answer, in seconds
	TTL uint32 = 60
)

var (
	ErrMalformedPacket   = errors.New("malformed dns packet")
	ErrUnsupportedOpcode = errors.New("unsupported dns operation code")
)

// Query the fields of a request needed to answer it
type Query struct {
	ID      [2]byte
	Flags   [2]byte
	QDCount [2]byte
	Opcode  int

	// Domain ends with "." like "www.example.com.", empty for non-standard queries
	Domain string

	// Question the question section as received: name, type and class
	Question []byte
}

// Decode parses packet into a Query.
// A packet shorter than the header, or with a question that runs past the
// end, returns ErrMalformedPacket. A non-standard opcode returns the Query
// with an empty Domain together with ErrUnsupportedOpcode.
func Decode(packet []byte) (*Query, error) {
	if len(packet) < HeaderSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedPacket, len(packet), HeaderSize)
	}

	q := &Query{Opcode: int(packet[offFlags]>>3) & 0xF}
	copy(q.ID[:], packet[offID:offID+2])
	copy(q.Flags[:], packet[offFlags:offFlags+2])
	copy(q.QDCount[:], packet[offQDCount:offQDCount+2])

	if q.Opcode != dns.OpcodeQuery {
		return q, fmt.Errorf("%w: %d", ErrUnsupportedOpcode, q.Opcode)
	}

	c := &cursor{buf: packet, off: HeaderSize}
	domain, err := readName(c)
	if err != nil {
		return nil, err
	}

	// qtype and qclass
	if _, err = c.next(4); err != nil {
		return nil, err
	}

	q.Domain = domain
	q.Question = append([]byte(nil), packet[HeaderSize:c.off]...)

	return q, nil
}

// readName reads length prefixed labels up to the zero length terminator
func readName(c *cursor) (string, error) {
	var sb strings.Builder
	for {
		length, err := c.readByte()
		if err != nil {
			return "", err
		}

		if length == 0 {
			break
		}

		// the question name is the first name of the packet, nothing to point back to
		if length&0xC0 != 0 {
			return "", fmt.Errorf("%w: label length 0x%02x at offset %d", ErrMalformedPacket, length, c.off-1)
		}

		label, err := c.next(int(length))
		if err != nil {
			return "", err
		}
		sb.Write(label)
		sb.WriteByte('.')
	}

	if sb.Len() == 0 {
		return "", fmt.Errorf("%w: empty question name", ErrMalformedPacket)
	}

	return sb.String(), nil
}

// Encode builds the reply for q answering ip.
// It returns an empty payload when q has no domain or ip is not IPv4,
// an empty payload must never be sent.
func Encode(q *Query, ip netip.Addr) []byte {
	if q == nil || len(q.Domain) == 0 || !ip.Is4() {
		return nil
	}

	b := make([]byte, 0, HeaderSize+len(q.Question)+16)

	// header
	b = append(b, q.ID[:]...)
	b = binary.BigEndian.AppendUint16(b, responseFlags)
	b = append(b, q.QDCount[:]...)
	b = append(b, q.QDCount[:]...)
	b = append(b, 0, 0, 0, 0) // authority and additional counts

	b = append(b, q.Question...)

	// answer
	b = binary.BigEndian.AppendUint16(b, namePointer)
	b = binary.BigEndian.AppendUint16(b, dns.TypeA)
	b = binary.BigEndian.AppendUint16(b, dns.ClassINET)
	b = binary.BigEndian.AppendUint32(b, TTL)
	b = binary.BigEndian.AppendUint16(b, net.IPv4len)
	a4 := ip.As4()
	b = append(b, a4[:]...)

	return b
}
