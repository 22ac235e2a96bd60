// Package socketio speaks the Socket.IO v5 protocol over an Engine.IO
// transport: the namespace handshake, events and disconnects.
package socketio

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var ErrInvalidPacket = errors.New("socketio: invalid packet")

type PacketType byte

const (
	Connect      PacketType = '0'
	Disconnect   PacketType = '1'
	Event        PacketType = '2'
	Ack          PacketType = '3'
	ConnectError PacketType = '4'
)

func (t PacketType) String() string {
	switch t {
	case Connect:
		return "connect"
	case Disconnect:
		return "disconnect"
	case Event:
		return "event"
	case Ack:
		return "ack"
	case ConnectError:
		return "connect_error"
	default:
		return fmt.Sprintf("PacketType(%q)", byte(t))
	}
}

// DefaultNamespace is the main namespace.
const DefaultNamespace = "/"

// Packet is a Socket.IO packet carried in an Engine.IO message.
type Packet struct {
	Type      PacketType
	Namespace string
	// ID is the acknowledgement id, or -1 when absent.
	ID   int
	Data json.RawMessage
}

// Encode renders p as `<type>[<namespace>,][<id>][<data>]`.
func (p Packet) Encode() []byte {
	var buf bytes.Buffer
	buf.WriteByte(byte(p.Type))
	if p.Namespace != "" && p.Namespace != DefaultNamespace {
		buf.WriteString(p.Namespace)
		buf.WriteByte(',')
	}
	if p.ID >= 0 && (p.Type == Event || p.Type == Ack) {
		buf.WriteString(strconv.Itoa(p.ID))
	}
	buf.Write(p.Data)
	return buf.Bytes()
}

func Decode(data []byte) (Packet, error) {
	if len(data) == 0 {
		return Packet{}, fmt.Errorf("%w: empty", ErrInvalidPacket)
	}
	p := Packet{Type: PacketType(data[0]), Namespace: DefaultNamespace, ID: -1}
	switch p.Type {
	case Connect, Disconnect, Event, Ack, ConnectError:
	default:
		return Packet{}, fmt.Errorf("%w: unknown type %q", ErrInvalidPacket, data[0])
	}
	rest := data[1:]

	if len(rest) > 0 && rest[0] == '/' {
		i := bytes.IndexByte(rest, ',')
		if i < 0 {
			p.Namespace = string(rest)
			return p, nil
		}
		p.Namespace = string(rest[:i])
		rest = rest[i+1:]
	}

	i := 0
	for i < len(rest) && rest[i] >= '0' && rest[i] <= '9' {
		i++
	}
	if i > 0 {
		id, err := strconv.Atoi(string(rest[:i]))
		if err != nil {
			return Packet{}, fmt.Errorf("%w: ack id: %w", ErrInvalidPacket, err)
		}
		p.ID = id
		rest = rest[i:]
	}

	if len(rest) > 0 {
		if !json.Valid(rest) {
			return Packet{}, fmt.Errorf("%w: data is not JSON", ErrInvalidPacket)
		}
		p.Data = bytes.Clone(rest)
	}
	return p, nil
}

// Message is a decoded event: its name and the arguments that followed it.
type Message struct {
	Name string
	Args []json.RawMessage
}

// Payload returns the first argument, or nil.
func (m Message) Payload() json.RawMessage {
	if len(m.Args) == 0 {
		return nil
	}
	return m.Args[0]
}

// Meta returns the second argument, or nil.
func (m Message) Meta() json.RawMessage {
	if len(m.Args) < 2 {
		return nil
	}
	return m.Args[1]
}

// NewEvent builds an event packet for name with args.
func NewEvent(name string, args ...any) (Packet, error) {
	arr := make([]any, 0, len(args)+1)
	arr = append(arr, name)
	arr = append(arr, args...)
	data, err := json.Marshal(arr)
	if err != nil {
		return Packet{}, fmt.Errorf("socketio: encode event %s: %w", name, err)
	}
	return Packet{Type: Event, Namespace: DefaultNamespace, ID: -1, Data: data}, nil
}

// Message decodes the array body of an event packet.
func (p Packet) Message() (Message, error) {
	if p.Type != Event {
		return Message{}, fmt.Errorf("%w: %v is not an event", ErrInvalidPacket, p.Type)
	}
	var arr []json.RawMessage
	if err := json.Unmarshal(p.Data, &arr); err != nil {
		return Message{}, fmt.Errorf("%w: event body: %w", ErrInvalidPacket, err)
	}
	if len(arr) == 0 {
		return Message{}, fmt.Errorf("%w: event without name", ErrInvalidPacket)
	}
	var m Message
	if err := json.Unmarshal(arr[0], &m.Name); err != nil {
		return Message{}, fmt.Errorf("%w: event name: %w", ErrInvalidPacket, err)
	}
	m.Args = arr[1:]
	return m, nil
}
