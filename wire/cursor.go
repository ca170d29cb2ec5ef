package wire

import "fmt"

// cursor reads a packet front to back, every read is bounds checked
type cursor struct {
	buf []byte
	off int
}

func (c *cursor) remaining() int { return len(c.buf) - c.off }

func (c *cursor) readByte() (byte, error) {
	if c.remaining() < 1 {
		return 0, fmt.Errorf("%w: unexpected end at offset %d", ErrMalformedPacket, c.off)
	}
	b := c.buf[c.off]
	c.off++
	return b, nil
}

func (c *cursor) next(n int) ([]byte, error) {
	if c.remaining() < n {
		return nil, fmt.Errorf("%w: need %d bytes at offset %d, have %d", ErrMalformedPacket, n, c.off, c.remaining())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}
