package protocol

import (
	"encoding"
	"errors"
	"fmt"

	"github.com/coty-crg/CorgiSceneViewChat/internal/byteorder"
	"github.com/coty-crg/CorgiSceneViewChat/internal/debug"
)

const (
	HeaderSize     = 6        // uint32 (4) + uint16 (2) = 6
	MaxPayloadSize = 16 << 10 // 16 * 1024 bytes, matches the peers' receive buffers
)

type MessageType uint16

const (
	_ MessageType = iota
	TypeChatMessage
	TypeSetUsername
	TypeChangeChannel
	TypeSceneOpened
	TypeUpdateGizmo
	TypeSetNetID
	TypeAddRemoveTrackedGizmo

	typeMax
)

func (t MessageType) String() string {
	switch t {
	case TypeChatMessage:
		return "ChatMessage"
	case TypeSetUsername:
		return "SetUsername"
	case TypeChangeChannel:
		return "ChangeChannel"
	case TypeSceneOpened:
		return "SceneOpened"
	case TypeUpdateGizmo:
		return "UpdateGizmo"
	case TypeSetNetID:
		return "SetNetId"
	case TypeAddRemoveTrackedGizmo:
		return "AddRemoveTrackedGizmo"
	default:
		return fmt.Sprintf("MessageType(%d)", uint16(t))
	}
}

// Known reports whether t is one of the message types this package can
// decode.
func (t MessageType) Known() bool {
	return t > 0 && t < typeMax
}

var (
	// ErrMalformedFrame means the byte stream can no longer be trusted to be
	// frame aligned.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge is a malformed frame whose header announces more than
	// MaxPayloadSize bytes.
	ErrFrameTooLarge = fmt.Errorf("%w: payload too large", ErrMalformedFrame)
	// ErrUnknownMessageType is returned for a well formed frame carrying a
	// type this package does not know. the frame is still consumed.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrIncompleteFrame means more bytes are needed.
	ErrIncompleteFrame = errors.New("incomplete frame")
	ErrStringTooLong   = errors.New("string too long")
)

type Header struct {
	Size uint32
	Type MessageType
}

var (
	_ encoding.BinaryMarshaler   = (*Header)(nil)
	_ encoding.BinaryUnmarshaler = (*Header)(nil)
)

func (h *Header) MarshalBinary() ([]byte, error) {
	data := make([]byte, 0, HeaderSize)
	data = byteorder.AppendHtonl(data, h.Size)
	data = byteorder.AppendHtons(data, uint16(h.Type))

	debug.Assert(len(data) == HeaderSize)

	return data, nil
}

func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) != HeaderSize {
		return fmt.Errorf("%w: header is %d bytes, want %d", ErrMalformedFrame, len(data), HeaderSize)
	}

	h.Size = byteorder.Ntohl(data[0:4])
	h.Type = MessageType(byteorder.Ntohs(data[4:6]))

	return nil
}

// Message is one variant of the protocol. each variant owns its payload
// layout; the header is added by Encode.
type Message interface {
	Type() MessageType

	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

// New returns a zero value of the variant identified by t, or nil if t is not
// known.
func New(t MessageType) Message {
	switch t {
	case TypeChatMessage:
		return &ChatMessage{}
	case TypeSetUsername:
		return &SetUsername{}
	case TypeChangeChannel:
		return &ChangeChannel{}
	case TypeSceneOpened:
		return &SceneOpened{}
	case TypeUpdateGizmo:
		return &UpdateGizmo{}
	case TypeSetNetID:
		return &SetNetID{}
	case TypeAddRemoveTrackedGizmo:
		return &AddRemoveTrackedGizmo{}
	default:
		return nil
	}
}

// Encode produces header+payload for msg.
func Encode(msg Message) ([]byte, error) {
	body, err := msg.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("could not marshal %s: %w", msg.Type(), err)
	}
	if len(body) > MaxPayloadSize {
		return nil, fmt.Errorf("could not encode %s: %w (%d bytes)", msg.Type(), ErrFrameTooLarge, len(body))
	}

	header := Header{
		Size: uint32(len(body)),
		Type: msg.Type(),
	}
	headerBytes, err := header.MarshalBinary()
	debug.Assert(err == nil)

	return append(headerBytes, body...), nil
}

// PeekHeader reads the fixed size header at the start of data without
// consuming anything.
func PeekHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, ErrIncompleteFrame
	}

	header := Header{}
	if err := header.UnmarshalBinary(data[:HeaderSize]); err != nil {
		return Header{}, err
	}
	if header.Size > MaxPayloadSize {
		return header, fmt.Errorf("%w (%d bytes)", ErrFrameTooLarge, header.Size)
	}

	return header, nil
}

// Decode consumes one frame from the start of data and returns the message
// and the number of bytes the frame occupied. for ErrUnknownMessageType the
// returned length is still valid so that the caller can skip the frame.
func Decode(data []byte) (Message, int, error) {
	header, err := PeekHeader(data)
	if err != nil {
		return nil, 0, err
	}

	frameLen := HeaderSize + int(header.Size)
	if len(data) < frameLen {
		return nil, 0, ErrIncompleteFrame
	}

	msg, err := decodePayload(header, data[HeaderSize:frameLen])
	return msg, frameLen, err
}

func decodePayload(header Header, payload []byte) (Message, error) {
	debug.Assert(len(payload) == int(header.Size))

	msg := New(header.Type)
	if msg == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMessageType, header.Type)
	}
	if err := msg.UnmarshalBinary(payload); err != nil {
		return nil, fmt.Errorf("could not unmarshal %s: %w", header.Type, err)
	}

	return msg, nil
}
