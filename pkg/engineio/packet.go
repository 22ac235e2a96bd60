// Package engineio implements the Engine.IO v4 packet framing that Socket.IO
// is carried over.
package engineio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Protocol is the Engine.IO revision sent in the EIO query parameter.
const Protocol = 4

// RecordSeparator joins packets in a long-polling payload.
const RecordSeparator = 0x1e

var ErrInvalidPacket = errors.New("engineio: invalid packet")

type PacketType byte

const (
	Open    PacketType = '0'
	Close   PacketType = '1'
	Ping    PacketType = '2'
	Pong    PacketType = '3'
	Message PacketType = '4'
	Upgrade PacketType = '5'
	Noop    PacketType = '6'
)

func (t PacketType) String() string {
	switch t {
	case Open:
		return "open"
	case Close:
		return "close"
	case Ping:
		return "ping"
	case Pong:
		return "pong"
	case Message:
		return "message"
	case Upgrade:
		return "upgrade"
	case Noop:
		return "noop"
	default:
		return fmt.Sprintf("PacketType(%q)", byte(t))
	}
}

func (t PacketType) valid() bool {
	return t >= Open && t <= Noop
}

// Packet is one text packet. Binary attachments are not used by this module.
type Packet struct {
	Type PacketType
	Data []byte
}

func NewMessage(data []byte) Packet {
	return Packet{Type: Message, Data: data}
}

func (p Packet) Encode() []byte {
	out := make([]byte, 0, len(p.Data)+1)
	out = append(out, byte(p.Type))
	return append(out, p.Data...)
}

func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, fmt.Errorf("%w: empty", ErrInvalidPacket)
	}
	t := PacketType(data[0])
	if !t.valid() {
		return Packet{}, fmt.Errorf("%w: unknown type %q", ErrInvalidPacket, data[0])
	}
	return Packet{Type: t, Data: bytes.Clone(data[1:])}, nil
}

// EncodePayload joins packets for an HTTP long-polling request body.
func EncodePayload(packets ...Packet) []byte {
	var buf bytes.Buffer
	for i, p := range packets {
		if i > 0 {
			buf.WriteByte(RecordSeparator)
		}
		buf.Write(p.Encode())
	}
	return buf.Bytes()
}

// DecodePayload splits an HTTP long-polling response body into packets.
func DecodePayload(data []byte) ([]Packet, error) {
	if len(data) == 0 {
		return nil, nil
	}
	parts := bytes.Split(data, []byte{RecordSeparator})
	packets := make([]Packet, 0, len(parts))
	for _, part := range parts {
		p, err := Decode(part)
		if err != nil {
			return nil, err
		}
		packets = append(packets, p)
	}
	return packets, nil
}

// Handshake is the body of the server's open packet.
type Handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int      `json:"pingInterval"`
	PingTimeout  int      `json:"pingTimeout"`
	MaxPayload   int      `json:"maxPayload"`
}

// ParseHandshake decodes an open packet.
func ParseHandshake(p Packet) (Handshake, error) {
	if p.Type != Open {
		return Handshake{}, fmt.Errorf("%w: expected open, got %v", ErrInvalidPacket, p.Type)
	}
	var h Handshake
	if err := json.Unmarshal(p.Data, &h); err != nil {
		return Handshake{}, fmt.Errorf("%w: open payload: %w", ErrInvalidPacket, err)
	}
	if h.SID == "" {
		return Handshake{}, fmt.Errorf("%w: open payload without sid", ErrInvalidPacket)
	}
	return h, nil
}

// OpenPacket encodes h as an open packet.
func OpenPacket(h Handshake) (Packet, error) {
	data, err := json.Marshal(h)
	if err != nil {
		return Packet{}, err
	}
	return Packet{Type: Open, Data: data}, nil
}

// HeartbeatTimeout is how long a client waits for a ping before it treats
// the connection as lost.
func (h Handshake) HeartbeatTimeout() time.Duration {
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}
