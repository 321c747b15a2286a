package packets

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustEncode(t *testing.T, p Packet) []byte {
	t.Helper()
	b, err := Encode(p, DefaultMaxPacketSize)
	require.NoError(t, err)
	return b
}

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		packet Packet
	}{
		{name: "empty body", packet: Packet{Type: TypeHeartbeat, Sequence: 1}},
		{name: "json body", packet: Packet{Type: TypeTurnEnd, Sequence: 42, Body: []byte(`{"turn":3}`)}},
		{name: "max sequence", packet: Packet{Type: TypeUnitInfo, Sequence: 0xFFFFFFFF, Body: []byte{0, 1, 2}}},
		{name: "unknown type", packet: Packet{Type: Type(0x7f), Sequence: 9, Body: []byte("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustEncode(t, tt.packet)
			assert.Equal(t, tt.packet.Len(), int(binary.BigEndian.Uint16(b)))

			packets, remaining, err := Decode(b, DefaultMaxPacketSize)
			require.NoError(t, err)
			assert.Empty(t, remaining)
			require.Len(t, packets, 1)
			assert.Equal(t, tt.packet.Type, packets[0].Type)
			assert.Equal(t, tt.packet.Sequence, packets[0].Sequence)
			assert.Equal(t, len(tt.packet.Body), len(packets[0].Body))
			assert.True(t, bytes.Equal(tt.packet.Body, packets[0].Body))
		})
	}
}

func TestDecode_KeepsPartialFrame(t *testing.T) {
	first := mustEncode(t, Packet{Type: TypeGameInfo, Sequence: 1, Body: []byte("abc")})
	second := mustEncode(t, Packet{Type: TypeGameInfo, Sequence: 2, Body: []byte("defgh")})
	stream := append(append([]byte{}, first...), second[:4]...)

	packets, remaining, err := Decode(stream, DefaultMaxPacketSize)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, uint32(1), packets[0].Sequence)
	assert.Equal(t, second[:4], remaining)
}

func TestDecoder_ResumesAcrossSplitFrames(t *testing.T) {
	var stream []byte
	for seq := uint32(1); seq <= 5; seq++ {
		stream = append(stream, mustEncode(t, Packet{Type: TypeUnitInfo, Sequence: seq, Body: bytes.Repeat([]byte{byte(seq)}, int(seq)*3)})...)
	}

	for _, chunk := range []int{1, 2, 3, 7, len(stream)} {
		d := NewDecoder(DefaultMaxPacketSize)
		var got []uint32
		for i := 0; i < len(stream); i += chunk {
			end := min(i+chunk, len(stream))
			d.Feed(stream[i:end])
			for {
				p, ok, err := d.Next()
				require.NoError(t, err)
				if !ok {
					break
				}
				got = append(got, p.Sequence)
				assert.Len(t, p.Body, int(p.Sequence)*3)
			}
		}
		assert.Equal(t, []uint32{1, 2, 3, 4, 5}, got, "chunk size %d", chunk)
		assert.Zero(t, d.Buffered())
	}
}

func TestDecode_MalformedLength(t *testing.T) {
	good := mustEncode(t, Packet{Type: TypeHeartbeat, Sequence: 1})

	tests := []struct {
		name   string
		length uint16
		reason string
	}{
		{name: "larger than max", length: 9000, reason: "exceeds maximum packet size"},
		{name: "shorter than header", length: 3, reason: "shorter than packet header"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bad := make([]byte, 2)
			binary.BigEndian.PutUint16(bad, tt.length)
			stream := append(append([]byte{}, good...), bad...)

			packets, remaining, err := Decode(stream, DefaultMaxPacketSize)
			require.Error(t, err)
			assert.True(t, IsMalformed(err))
			var malformed *MalformedPacketError
			require.ErrorAs(t, err, &malformed)
			assert.Equal(t, int(tt.length), malformed.Length)
			assert.Equal(t, DefaultMaxPacketSize, malformed.Max)
			assert.Equal(t, tt.reason, malformed.Reason)
			assert.Len(t, packets, 1)
			assert.Equal(t, bad, remaining)
		})
	}
}

func TestDecoder_ErrorsUntilReset(t *testing.T) {
	d := NewDecoder(64)
	d.Feed([]byte{0x01, 0x00})
	_, _, err := d.Next()
	require.True(t, IsMalformed(err))
	_, _, err = d.Next()
	require.Error(t, err)

	d.Reset()
	d.Feed(mustEncode(t, Packet{Type: TypePong, Sequence: 8}))
	p, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypePong, p.Type)
}

func TestEncode_TooLarge(t *testing.T) {
	_, err := Encode(Packet{Type: TypeAction, Body: make([]byte, 100)}, 64)
	var tooLarge *PacketTooLargeError
	require.ErrorAs(t, err, &tooLarge)
	assert.Equal(t, 105, tooLarge.Size)
	assert.Equal(t, 64, tooLarge.Max)

	_, err = Encode(Packet{Type: TypeAction, Body: make([]byte, MaxFrameLength)}, 0)
	assert.Error(t, err)
}

func TestEncodeAction(t *testing.T) {
	b, err := EncodeAction(3, Action{ID: 11, Kind: "unit_move", UnitID: "7", X: 4, Y: 5}, DefaultMaxPacketSize)
	require.NoError(t, err)

	packets, _, err := Decode(b, DefaultMaxPacketSize)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, TypeAction, packets[0].Type)

	var a Action
	require.NoError(t, packets[0].DecodeJSON(&a))
	assert.Equal(t, Action{ID: 11, Kind: "unit_move", UnitID: "7", X: 4, Y: 5}, a)
}

func TestType_String(t *testing.T) {
	assert.Equal(t, "unit_reveal", TypeUnitReveal.String())
	assert.Equal(t, "type(0x7f)", Type(0x7f).String())
	assert.True(t, TypeActionReply.Known())
	assert.False(t, Type(0x7f).Known())
}

func TestDecoder_Remaining(t *testing.T) {
	first := mustEncode(t, Packet{Type: TypeLoginReply, Sequence: 1, Body: []byte(`{}`)})
	second := mustEncode(t, Packet{Type: TypeGameInfo, Sequence: 2, Body: []byte("tail")})

	d := NewDecoder(DefaultMaxPacketSize)
	assert.Nil(t, d.Remaining())
	d.Feed(append(append([]byte{}, first...), second[:6]...))

	p, ok, err := d.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, TypeLoginReply, p.Type)

	rest := d.Remaining()
	assert.Equal(t, second[:6], rest)
	rest[0] = 0xFF
	assert.Equal(t, second[:6], d.Remaining(), "Remaining returns a copy")
}
