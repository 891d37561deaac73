package session_test

import (
	"errors"
	"testing"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/coty-crg/CorgiSceneViewChat/internal/session"
	"github.com/matryer/is"
)

func dispatchAll(t *testing.T, s *session.State, msgs ...protocol.Message) {
	t.Helper()
	for _, msg := range msgs {
		if err := s.Dispatch(msg); err != nil {
			t.Fatalf("could not dispatch %s: %v", msg.Type(), err)
		}
	}
}

func TestTrackedClientLifecycle(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)

	dispatchAll(t, s,
		&protocol.AddRemoveTrackedGizmo{ClientID: 5, Adding: true},
		&protocol.UpdateGizmo{
			ClientID:       5,
			Mode:           protocol.GizmoModeMove,
			Position:       protocol.Vector3{X: 1, Y: 2, Z: 3},
			Rotation:       protocol.Quaternion{W: 1},
			Scale:          protocol.Vector3{X: 2, Y: 2, Z: 2},
			SelectedObject: "Main Camera",
		},
	)

	clients := s.TrackedClients()
	is.Equal(len(clients), 1)
	is.Equal(clients[0].ClientID, int32(5))
	is.Equal(clients[0].Position, protocol.Vector3{X: 1, Y: 2, Z: 3})
	is.Equal(clients[0].Mode, protocol.GizmoModeMove)
	is.Equal(clients[0].SelectedObject, "Main Camera")

	dispatchAll(t, s, &protocol.AddRemoveTrackedGizmo{ClientID: 5, Removing: true})
	is.Equal(len(s.TrackedClients()), 0)
}

func TestSelfIsNotTracked(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	is.Equal(s.LocalClientID(), session.UnassignedClientID)

	dispatchAll(t, s,
		&protocol.SetNetID{ClientID: 7},
		&protocol.AddRemoveTrackedGizmo{ClientID: 7, Adding: true},
	)

	is.Equal(s.LocalClientID(), int32(7))
	is.Equal(len(s.TrackedClients()), 0)
}

func TestClientIDZeroIsTrackedBeforeAssignment(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	dispatchAll(t, s, &protocol.AddRemoveTrackedGizmo{ClientID: 0, Adding: true})

	is.Equal(len(s.TrackedClients()), 1)
}

func TestDuplicateAddsAreKept(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	dispatchAll(t, s,
		&protocol.AddRemoveTrackedGizmo{ClientID: 3, Adding: true},
		&protocol.AddRemoveTrackedGizmo{ClientID: 3, Adding: true},
		&protocol.AddRemoveTrackedGizmo{ClientID: 4, Adding: true},
		&protocol.UpdateGizmo{ClientID: 3, Position: protocol.Vector3{X: 9}},
	)

	clients := s.TrackedClients()
	is.Equal(len(clients), 3)
	is.Equal(clients[0].Position.X, float32(9))
	is.Equal(clients[1].Position.X, float32(9))
	is.Equal(clients[2].ClientID, int32(4))

	// one remove drops every entry for the id
	dispatchAll(t, s, &protocol.AddRemoveTrackedGizmo{ClientID: 3, Removing: true})
	clients = s.TrackedClients()
	is.Equal(len(clients), 1)
	is.Equal(clients[0].ClientID, int32(4))
}

func TestUpdateForUnknownClientIsNoop(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	dirty := 0
	s.Subscribe(func() { dirty++ })

	dispatchAll(t, s, &protocol.UpdateGizmo{ClientID: 11, Position: protocol.Vector3{X: 1}})

	is.Equal(len(s.TrackedClients()), 0)
	is.Equal(dirty, 0)
}

func TestSnapshotIsACopy(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	dispatchAll(t, s, &protocol.AddRemoveTrackedGizmo{ClientID: 1, Adding: true})

	snapshot := s.TrackedClients()
	snapshot[0].ClientID = 99

	is.Equal(s.TrackedClients()[0].ClientID, int32(1))
}

func TestChatMessageNotifies(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)

	dirty := 0
	s.Subscribe(func() { dirty++ })
	s.Subscribe(func() { dirty++ })

	var received []protocol.ChatMessage
	s.OnMessageReceived(func(msg protocol.ChatMessage) {
		received = append(received, msg)
	})

	chat := &protocol.ChatMessage{Username: "remote", Text: "hi", Timestamp: 10}
	dispatchAll(t, s, chat)

	is.Equal(dirty, 2)
	is.Equal(received, []protocol.ChatMessage{*chat})
	is.Equal(s.ChatHistory(), []protocol.ChatMessage{*chat})

	// local chat lands in history but is not echoed to the sinks
	s.AddLocalChat(protocol.ChatMessage{Username: "me", Text: "yo"})
	is.Equal(len(received), 1)
	is.Equal(len(s.ChatHistory()), 2)
	is.Equal(dirty, 4)

	s.Notice("disconnected from %s", "server")
	is.Equal(len(received), 2)
	is.True(received[1].IsSystemMessage)
	is.Equal(received[1].Text, "disconnected from server")
}

func TestChatHistoryLimit(t *testing.T) {
	is := is.New(t)

	s := session.NewState(2, nil)
	for _, text := range []string{"a", "b", "c"} {
		s.AddLocalChat(protocol.ChatMessage{Text: text})
	}

	history := s.ChatHistory()
	is.Equal(len(history), 2)
	is.Equal(history[0].Text, "b")
	is.Equal(history[1].Text, "c")
}

func TestUnexpectedMessage(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)

	for _, msg := range []protocol.Message{
		&protocol.SetUsername{Username: "x"},
		&protocol.ChangeChannel{Channel: "x"},
		&protocol.SceneOpened{SceneName: "x"},
	} {
		err := s.Dispatch(msg)
		is.True(errors.Is(err, session.ErrUnexpectedMessage))
		is.True(!session.Handles(msg.Type()))
	}

	is.True(session.Handles(protocol.TypeChatMessage))
	is.True(session.Handles(protocol.TypeUpdateGizmo))
	is.True(session.Handles(protocol.TypeSetNetID))
	is.True(session.Handles(protocol.TypeAddRemoveTrackedGizmo))
}

func TestResetSession(t *testing.T) {
	is := is.New(t)

	s := session.NewState(0, nil)
	dispatchAll(t, s,
		&protocol.SetNetID{ClientID: 2},
		&protocol.AddRemoveTrackedGizmo{ClientID: 3, Adding: true},
		&protocol.ChatMessage{Text: "kept"},
	)

	s.ResetSession()

	is.Equal(s.LocalClientID(), session.UnassignedClientID)
	is.Equal(len(s.TrackedClients()), 0)
	is.Equal(len(s.ChatHistory()), 1)
}
