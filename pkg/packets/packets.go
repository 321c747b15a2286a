package packets

import (
	"encoding/json"
	"fmt"
)

// Type is the tag byte that follows the length prefix of every frame.
type Type uint8

const (
	TypeLogin        Type = 0x01
	TypeLoginReply   Type = 0x02
	TypeStateRequest Type = 0x03
	TypeStateDump    Type = 0x04
	TypeGameStart    Type = 0x05

	TypeClientInfo  Type = 0x20
	TypeGameInfo    Type = 0x21
	TypeRulesetInfo Type = 0x22
	TypeOptionsInfo Type = 0x23
	TypeUnitInfo    Type = 0x24
	TypeTileInfo    Type = 0x25
	TypeUnitReveal  Type = 0x26
	TypeUnitDestroy Type = 0x27

	TypeTurnEnd   Type = 0x30
	TypeGameEnd   Type = 0x31
	TypeHeartbeat Type = 0x32
	TypePong      Type = 0x33

	TypeAction      Type = 0x40
	TypeActionReply Type = 0x41
)

var typeNames = map[Type]string{
	TypeLogin:        "login",
	TypeLoginReply:   "login_reply",
	TypeStateRequest: "state_request",
	TypeStateDump:    "state_dump",
	TypeGameStart:    "game_start",
	TypeClientInfo:   "client_info",
	TypeGameInfo:     "game_info",
	TypeRulesetInfo:  "ruleset_info",
	TypeOptionsInfo:  "options_info",
	TypeUnitInfo:     "unit_info",
	TypeTileInfo:     "tile_info",
	TypeUnitReveal:   "unit_reveal",
	TypeUnitDestroy:  "unit_destroy",
	TypeTurnEnd:      "turn_end",
	TypeGameEnd:      "game_end",
	TypeHeartbeat:    "heartbeat",
	TypePong:         "pong",
	TypeAction:       "action",
	TypeActionReply:  "action_reply",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("type(0x%02x)", uint8(t))
}

// Known reports whether t is one of the defined packet types.
func (t Type) Known() bool {
	_, ok := typeNames[t]
	return ok
}

const (
	// LengthSize is the size of the big-endian length prefix.
	LengthSize = 2
	// HeaderSize is the type tag plus the sequence number; the smallest valid length.
	HeaderSize = 1 + 4
	// MaxFrameLength is the largest length the prefix can express.
	MaxFrameLength = 0xFFFF
	// DefaultMaxPacketSize bounds the declared length of an inbound packet.
	DefaultMaxPacketSize = 8192
)

// Packet is one decoded frame.
type Packet struct {
	Type     Type
	Sequence uint32
	Body     []byte
}

// Len is the value of the length prefix for the packet.
func (p Packet) Len() int {
	return HeaderSize + len(p.Body)
}

// DecodeJSON unmarshals a control packet body into v.
func (p Packet) DecodeJSON(v any) error {
	if err := json.Unmarshal(p.Body, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s body: %w", p.Type, err)
	}
	return nil
}

// NewJSONPacket builds a control packet with a JSON body.
func NewJSONPacket(t Type, seq uint32, v any) (Packet, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return Packet{}, fmt.Errorf("failed to marshal %s body: %w", t, err)
	}
	return Packet{Type: t, Sequence: seq, Body: b}, nil
}
