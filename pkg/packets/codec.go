package packets

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// MalformedPacketError is returned when a length prefix cannot describe a valid frame.
// The stream cannot be resynchronized from the current position.
type MalformedPacketError struct {
	Length int
	Max    int
	Reason string
}

func (e *MalformedPacketError) Error() string {
	return fmt.Sprintf("malformed packet: declared length %d (max %d): %s", e.Length, e.Max, e.Reason)
}

// IsMalformed reports whether err is or wraps a *MalformedPacketError.
func IsMalformed(err error) bool {
	var e *MalformedPacketError
	return errors.As(err, &e)
}

// PacketTooLargeError is returned when encoding a packet larger than the configured maximum.
type PacketTooLargeError struct {
	Size int
	Max  int
}

func (e *PacketTooLargeError) Error() string {
	return fmt.Sprintf("packet of %d bytes exceeds maximum of %d", e.Size, e.Max)
}

func effectiveMax(max int) int {
	if max <= 0 || max > MaxFrameLength {
		return MaxFrameLength
	}
	return max
}

func checkLength(n, max int) error {
	if n > max {
		return &MalformedPacketError{Length: n, Max: max, Reason: "exceeds maximum packet size"}
	}
	if n < HeaderSize {
		return &MalformedPacketError{Length: n, Max: max, Reason: "shorter than packet header"}
	}
	return nil
}

// Encode frames a packet. max bounds the length prefix; zero means MaxFrameLength.
func Encode(p Packet, max int) ([]byte, error) {
	max = effectiveMax(max)
	n := p.Len()
	if n > max {
		return nil, &PacketTooLargeError{Size: n, Max: max}
	}
	b := make([]byte, LengthSize+n)
	binary.BigEndian.PutUint16(b, uint16(n))
	b[LengthSize] = byte(p.Type)
	binary.BigEndian.PutUint32(b[LengthSize+1:], p.Sequence)
	copy(b[LengthSize+HeaderSize:], p.Body)
	return b, nil
}

// EncodeAction frames an action request.
func EncodeAction(seq uint32, a Action, max int) ([]byte, error) {
	p, err := NewJSONPacket(TypeAction, seq, a)
	if err != nil {
		return nil, err
	}
	return Encode(p, max)
}

// parseFrame reads one frame from the front of buf. ok is false when buf holds
// only part of a frame.
func parseFrame(buf []byte, max int) (p Packet, consumed int, ok bool, err error) {
	if len(buf) < LengthSize {
		return Packet{}, 0, false, nil
	}
	n := int(binary.BigEndian.Uint16(buf))
	if err := checkLength(n, max); err != nil {
		return Packet{}, 0, false, err
	}
	if len(buf) < LengthSize+n {
		return Packet{}, 0, false, nil
	}
	frame := buf[LengthSize : LengthSize+n]
	p = Packet{
		Type:     Type(frame[0]),
		Sequence: binary.BigEndian.Uint32(frame[1:HeaderSize]),
		Body:     append([]byte(nil), frame[HeaderSize:]...),
	}
	return p, LengthSize + n, true, nil
}

// Decode splits buf into complete packets. remaining is the unconsumed tail,
// a partial frame or, on error, the frame that failed.
func Decode(buf []byte, max int) (packets []Packet, remaining []byte, err error) {
	max = effectiveMax(max)
	for {
		p, consumed, ok, err := parseFrame(buf, max)
		if err != nil {
			return packets, buf, err
		}
		if !ok {
			return packets, buf, nil
		}
		packets = append(packets, p)
		buf = buf[consumed:]
	}
}

// Decoder is a resumable Decode over a byte stream fed in arbitrary chunks.
type Decoder struct {
	max int
	buf []byte
	off int
}

func NewDecoder(max int) *Decoder {
	return &Decoder{max: effectiveMax(max)}
}

// Feed appends bytes read from the transport.
func (d *Decoder) Feed(b []byte) {
	if d.off > 0 && d.off == len(d.buf) {
		d.buf = d.buf[:0]
		d.off = 0
	} else if d.off > 4096 {
		d.buf = append(d.buf[:0], d.buf[d.off:]...)
		d.off = 0
	}
	d.buf = append(d.buf, b...)
}

// Next returns the next complete packet. ok is false when more bytes are needed.
// After an error the decoder must be Reset.
func (d *Decoder) Next() (Packet, bool, error) {
	p, consumed, ok, err := parseFrame(d.buf[d.off:], d.max)
	if err != nil || !ok {
		return Packet{}, false, err
	}
	d.off += consumed
	return p, true, nil
}

// Buffered is the number of bytes held for an incomplete frame.
func (d *Decoder) Buffered() int {
	return len(d.buf) - d.off
}

// Remaining returns a copy of the bytes not yet returned by Next.
func (d *Decoder) Remaining() []byte {
	if d.Buffered() == 0 {
		return nil
	}
	return append([]byte(nil), d.buf[d.off:]...)
}

// Reset discards buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
	d.off = 0
}

// Max is the largest accepted length prefix.
func (d *Decoder) Max() int {
	return d.max
}
