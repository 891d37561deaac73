package protocol_test

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/matryer/is"
)

func TestHeaderEncoding(t *testing.T) {
	is := is.New(t)

	originalHeader := protocol.Header{
		Size: 42,
		Type: protocol.TypeUpdateGizmo,
	}

	encodedHeaderBytes, err := originalHeader.MarshalBinary()
	is.NoErr(err)
	is.Equal(len(encodedHeaderBytes), protocol.HeaderSize)
	// network order
	is.Equal(encodedHeaderBytes, []byte{0, 0, 0, 42, 0, 5})

	decodedHeader := protocol.Header{}
	err = decodedHeader.UnmarshalBinary(encodedHeaderBytes)
	is.NoErr(err)
	is.Equal(originalHeader, decodedHeader)
}

func sampleMessages() []protocol.Message {
	return []protocol.Message{
		&protocol.ChatMessage{},
		&protocol.ChatMessage{
			Username:        "corgi",
			Text:            "hello there, ünïcødé 🐶",
			Timestamp:       1700000000123,
			IsSystemMessage: true,
		},
		&protocol.ChatMessage{Timestamp: math.MinInt64},
		&protocol.ChatMessage{Timestamp: math.MaxInt64},
		&protocol.SetUsername{},
		&protocol.SetUsername{Username: "someone"},
		&protocol.ChangeChannel{Channel: "default"},
		&protocol.SceneOpened{SceneName: "Assets/Scenes/Main.unity"},
		&protocol.UpdateGizmo{},
		&protocol.UpdateGizmo{
			ClientID:       math.MaxInt32,
			Mode:           protocol.GizmoModeRotate,
			Position:       protocol.Vector3{X: 1, Y: -2.5, Z: 3.25},
			Rotation:       protocol.Quaternion{X: 0, Y: 0.70710677, Z: 0, W: 0.70710677},
			Scale:          protocol.Vector3{X: math.MaxFloat32, Y: -math.MaxFloat32, Z: math.SmallestNonzeroFloat32},
			SelectedObject: "Root/Child/Cube",
		},
		&protocol.UpdateGizmo{ClientID: math.MinInt32, Mode: -1},
		&protocol.SetNetID{ClientID: 0},
		&protocol.SetNetID{ClientID: 7},
		&protocol.AddRemoveTrackedGizmo{ClientID: 5, Adding: true},
		&protocol.AddRemoveTrackedGizmo{ClientID: 5, Removing: true},
		&protocol.AddRemoveTrackedGizmo{ClientID: -1, Adding: true, Removing: true},
	}
}

func TestMessageRoundTrip(t *testing.T) {
	for _, original := range sampleMessages() {
		t.Run(original.Type().String(), func(t *testing.T) {
			is := is.New(t)

			encoded, err := protocol.Encode(original)
			is.NoErr(err)

			header, err := protocol.PeekHeader(encoded)
			is.NoErr(err)
			is.Equal(header.Type, original.Type())
			is.Equal(int(header.Size), len(encoded)-protocol.HeaderSize)

			decoded, n, err := protocol.Decode(encoded)
			is.NoErr(err)
			is.Equal(n, len(encoded))
			is.Equal(decoded, original)
		})
	}
}

func TestPeekHeaderDoesNotConsume(t *testing.T) {
	is := is.New(t)

	encoded, err := protocol.Encode(&protocol.SetUsername{Username: "a"})
	is.NoErr(err)
	snapshot := append([]byte(nil), encoded...)

	_, err = protocol.PeekHeader(encoded)
	is.NoErr(err)
	is.Equal(encoded, snapshot)

	_, err = protocol.PeekHeader(encoded[:protocol.HeaderSize-1])
	is.True(errors.Is(err, protocol.ErrIncompleteFrame))
}

func TestDecodeIncomplete(t *testing.T) {
	is := is.New(t)

	encoded, err := protocol.Encode(&protocol.ChangeChannel{Channel: "abc"})
	is.NoErr(err)

	_, n, err := protocol.Decode(encoded[:len(encoded)-1])
	is.True(errors.Is(err, protocol.ErrIncompleteFrame))
	is.Equal(n, 0)
}

func TestDecodeUnknownType(t *testing.T) {
	is := is.New(t)

	header := protocol.Header{Size: 3, Type: 999}
	frame, err := header.MarshalBinary()
	is.NoErr(err)
	frame = append(frame, 1, 2, 3)

	msg, n, err := protocol.Decode(frame)
	is.True(errors.Is(err, protocol.ErrUnknownMessageType))
	is.True(!errors.Is(err, protocol.ErrMalformedFrame))
	is.Equal(msg, nil)
	is.Equal(n, len(frame))
}

func TestDecodeMalformed(t *testing.T) {
	frameWith := func(typ protocol.MessageType, payload ...byte) []byte {
		header := protocol.Header{Size: uint32(len(payload)), Type: typ}
		frame, _ := header.MarshalBinary()
		return append(frame, payload...)
	}

	testCases := []struct {
		name  string
		frame []byte
	}{
		{"short set net id", frameWith(protocol.TypeSetNetID, 0, 0, 7)},
		{"trailing bytes", frameWith(protocol.TypeSetNetID, 0, 0, 0, 7, 0)},
		{"string longer than payload", frameWith(protocol.TypeSetUsername, 0, 9, 'a')},
		{"invalid bool", frameWith(protocol.TypeAddRemoveTrackedGizmo, 0, 0, 0, 1, 2, 0)},
		{"empty update gizmo", frameWith(protocol.TypeUpdateGizmo)},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			is := is.New(t)

			_, _, err := protocol.Decode(tc.frame)
			is.True(errors.Is(err, protocol.ErrMalformedFrame))
		})
	}
}

func TestPeekHeaderRejectsOversizedPayload(t *testing.T) {
	is := is.New(t)

	header := protocol.Header{Size: protocol.MaxPayloadSize + 1, Type: protocol.TypeChatMessage}
	frame, err := header.MarshalBinary()
	is.NoErr(err)

	_, err = protocol.PeekHeader(frame)
	is.True(errors.Is(err, protocol.ErrFrameTooLarge))
	is.True(errors.Is(err, protocol.ErrMalformedFrame))
}

func TestEncodeRejectsLongString(t *testing.T) {
	is := is.New(t)

	_, err := protocol.Encode(&protocol.SetUsername{Username: strings.Repeat("x", math.MaxUint16+1)})
	is.True(errors.Is(err, protocol.ErrStringTooLong))

	_, err = protocol.Encode(&protocol.ChatMessage{Text: strings.Repeat("x", protocol.MaxPayloadSize)})
	is.True(errors.Is(err, protocol.ErrFrameTooLarge))
}

func TestMessageTypeString(t *testing.T) {
	is := is.New(t)

	is.Equal(protocol.TypeSetNetID.String(), "SetNetId")
	is.Equal(protocol.MessageType(999).String(), "MessageType(999)")
	is.True(protocol.TypeAddRemoveTrackedGizmo.Known())
	is.True(!protocol.MessageType(0).Known())
	is.True(!protocol.MessageType(999).Known())
}
