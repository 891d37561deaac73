package session

import (
	"errors"
	"fmt"

	"github.com/coty-crg/CorgiSceneViewChat/internal/debug"
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
)

// ErrUnexpectedMessage is returned by Dispatch for a message type that has no
// handler on the client side. the message is discarded.
var ErrUnexpectedMessage = errors.New("unexpected message")

type handlerFunc func(s *State, msg protocol.Message)

// handlers only touch State and the registered observers; they run on the
// I/O goroutine between a read and the next queue drain, so they stay cheap.
var handlers = map[protocol.MessageType]handlerFunc{
	protocol.TypeChatMessage:           handleChatMessage,
	protocol.TypeUpdateGizmo:           handleUpdateGizmo,
	protocol.TypeSetNetID:              handleSetNetID,
	protocol.TypeAddRemoveTrackedGizmo: handleAddRemoveTrackedGizmo,
}

// Handles reports whether Dispatch has a handler for t.
func Handles(t protocol.MessageType) bool {
	_, ok := handlers[t]
	return ok
}

// Dispatch hands msg to exactly one handler.
func (s *State) Dispatch(msg protocol.Message) error {
	handler, ok := handlers[msg.Type()]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnexpectedMessage, msg.Type())
	}
	handler(s, msg)
	return nil
}

func handleChatMessage(s *State, msg protocol.Message) {
	chatMessage, ok := msg.(*protocol.ChatMessage)
	debug.Assertf(ok, "ChatMessage handler got %T", msg)

	s.appendChat(*chatMessage)
	s.forwardChat(*chatMessage)
	s.markDirty()
}

func handleSetNetID(s *State, msg protocol.Message) {
	setNetID, ok := msg.(*protocol.SetNetID)
	debug.Assertf(ok, "SetNetID handler got %T", msg)

	s.mu.Lock()
	s.localID = setNetID.ClientID
	s.mu.Unlock()

	s.logger.Debug().
		Int32("client_id", setNetID.ClientID).
		Msg("assigned local client id")
}

func handleAddRemoveTrackedGizmo(s *State, msg protocol.Message) {
	addRemove, ok := msg.(*protocol.AddRemoveTrackedGizmo)
	debug.Assertf(ok, "AddRemoveTrackedGizmo handler got %T", msg)

	s.mu.Lock()
	if addRemove.Adding && addRemove.ClientID != s.localID {
		s.tracked = append(s.tracked, TrackedClient{
			ClientID: addRemove.ClientID,
			Rotation: protocol.IdentityQuaternion,
			Scale:    protocol.Vector3{X: 1, Y: 1, Z: 1},
		})
	}
	if addRemove.Removing {
		kept := s.tracked[:0]
		for _, client := range s.tracked {
			if client.ClientID != addRemove.ClientID {
				kept = append(kept, client)
			}
		}
		clear(s.tracked[len(kept):])
		s.tracked = kept
	}
	count := len(s.tracked)
	s.mu.Unlock()

	s.logger.Debug().
		Int32("client_id", addRemove.ClientID).
		Bool("adding", addRemove.Adding).
		Bool("removing", addRemove.Removing).
		Int("tracked", count).
		Msg("tracked gizmo roster changed")

	s.markDirty()
}

func handleUpdateGizmo(s *State, msg protocol.Message) {
	update, ok := msg.(*protocol.UpdateGizmo)
	debug.Assertf(ok, "UpdateGizmo handler got %T", msg)

	updated := false
	s.mu.Lock()
	for i := range s.tracked {
		client := &s.tracked[i]
		if client.ClientID != update.ClientID {
			continue
		}
		client.Mode = update.Mode
		client.Position = update.Position
		client.Rotation = update.Rotation
		client.Scale = update.Scale
		client.SelectedObject = update.SelectedObject
		updated = true
	}
	s.mu.Unlock()

	// unknown ids are fine, the add is expected to arrive first
	if updated {
		s.markDirty()
	}
}
