// Package session derives client side state from received messages: the
// locally assigned client id, the roster of tracked remote clients with their
// last known gizmo, and the chat history.
//
// State is written only by the connection's I/O goroutine (through Dispatch)
// and by the local user submitting chat. Readers get copies.
package session

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/phuslu/log"
)

// UnassignedClientID is reported until the server sent SetNetId.
const UnassignedClientID int32 = -1

// TrackedClient mirrors one remote participant's gizmo.
type TrackedClient struct {
	ClientID       int32
	Mode           protocol.GizmoMode
	Position       protocol.Vector3
	Rotation       protocol.Quaternion
	Scale          protocol.Vector3
	SelectedObject string
}

type State struct {
	logger *log.Logger

	mu      sync.RWMutex
	localID int32
	// NOTE: a slice, not a map. repeated adds for one id are kept as separate
	// entries; the server is trusted to pair adds with removes.
	tracked      []TrackedClient
	history      []protocol.ChatMessage
	historyLimit int

	subsMu    sync.Mutex
	observers []func()
	chatSinks []func(protocol.ChatMessage)
}

// NewState returns an empty state. historyLimit <= 0 keeps every chat
// message.
func NewState(historyLimit int, logger *log.Logger) *State {
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	return &State{
		logger:       logger,
		localID:      UnassignedClientID,
		historyLimit: historyLimit,
	}
}

// Subscribe registers fn to be called whenever the state changed and a UI
// should redraw. fn runs on the goroutine that made the change and must not
// block.
func (s *State) Subscribe(fn func()) {
	s.subsMu.Lock()
	s.observers = append(s.observers, fn)
	s.subsMu.Unlock()
}

// OnMessageReceived registers fn for chat messages that came from the server
// and for system notices. same rules as Subscribe.
func (s *State) OnMessageReceived(fn func(protocol.ChatMessage)) {
	s.subsMu.Lock()
	s.chatSinks = append(s.chatSinks, fn)
	s.subsMu.Unlock()
}

func (s *State) markDirty() {
	s.subsMu.Lock()
	observers := s.observers
	s.subsMu.Unlock()

	for _, fn := range observers {
		fn()
	}
}

func (s *State) forwardChat(msg protocol.ChatMessage) {
	s.subsMu.Lock()
	sinks := s.chatSinks
	s.subsMu.Unlock()

	for _, fn := range sinks {
		fn(msg)
	}
}

func (s *State) appendChat(msg protocol.ChatMessage) {
	s.mu.Lock()
	s.history = append(s.history, msg)
	if s.historyLimit > 0 && len(s.history) > s.historyLimit {
		n := copy(s.history, s.history[len(s.history)-s.historyLimit:])
		clear(s.history[n:])
		s.history = s.history[:n]
	}
	s.mu.Unlock()
}

// AddLocalChat records a message the local user just submitted.
func (s *State) AddLocalChat(msg protocol.ChatMessage) {
	s.appendChat(msg)
	s.markDirty()
}

// Notice records a system message, e.g. a disconnect, and forwards it to the
// chat sinks.
func (s *State) Notice(format string, args ...any) {
	msg := protocol.ChatMessage{
		Text:            fmt.Sprintf(format, args...),
		Timestamp:       time.Now().UnixMilli(),
		IsSystemMessage: true,
	}
	s.appendChat(msg)
	s.forwardChat(msg)
	s.markDirty()
}

// ResetSession forgets everything that belonged to the previous connection.
// chat history survives.
func (s *State) ResetSession() {
	s.mu.Lock()
	s.localID = UnassignedClientID
	clear(s.tracked)
	s.tracked = s.tracked[:0]
	s.mu.Unlock()

	s.markDirty()
}

func (s *State) LocalClientID() int32 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.localID
}

// TrackedClients returns a copy of the roster in insertion order.
func (s *State) TrackedClients() []TrackedClient {
	s.mu.RLock()
	defer s.mu.RUnlock()

	clients := make([]TrackedClient, len(s.tracked))
	copy(clients, s.tracked)
	return clients
}

func (s *State) ChatHistory() []protocol.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]protocol.ChatMessage, len(s.history))
	copy(history, s.history)
	return history
}
