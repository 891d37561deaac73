package relayserver_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/coty-crg/CorgiSceneViewChat/internal/relayserver"
	"github.com/matryer/is"
)

type peer struct {
	t       *testing.T
	conn    net.Conn
	decoder *protocol.Decoder
	id      int32
}

func startServer(t *testing.T) *relayserver.RelayServer {
	t.Helper()

	config := relayserver.DefaultConfig()
	config.Address = "127.0.0.1:0"
	rs, err := relayserver.NewRelayServer(config, nil)
	if err != nil {
		t.Fatalf("could not create server: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rs.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	return rs
}

func connect(t *testing.T, rs *relayserver.RelayServer) *peer {
	t.Helper()

	conn, err := net.Dial("tcp", rs.Addr().String())
	if err != nil {
		t.Fatalf("could not dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	p := &peer{t: t, conn: conn, decoder: protocol.NewDecoder()}
	setNetID, ok := p.next().(*protocol.SetNetID)
	if !ok {
		t.Fatal("expected SetNetId as the first message")
	}
	p.id = setNetID.ClientID
	return p
}

func (p *peer) send(msgs ...protocol.Message) {
	p.t.Helper()
	for _, msg := range msgs {
		frame, err := protocol.Encode(msg)
		if err != nil {
			p.t.Fatalf("could not encode: %v", err)
		}
		if _, err := p.conn.Write(frame); err != nil {
			p.t.Fatalf("could not write: %v", err)
		}
	}
}

func (p *peer) next() protocol.Message {
	p.t.Helper()

	buf := make([]byte, 1024)
	for {
		msg, err := p.decoder.Next()
		if err != nil {
			p.t.Fatalf("could not decode: %v", err)
		}
		if msg != nil {
			return msg
		}

		if err := p.conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
			p.t.Fatalf("could not set deadline: %v", err)
		}
		n, err := p.conn.Read(buf)
		if err != nil {
			p.t.Fatalf("could not read: %v", err)
		}
		p.decoder.Feed(buf[:n])
	}
}

// nextOf skips messages until one of type T arrives.
func nextOf[T protocol.Message](p *peer) T {
	p.t.Helper()
	for {
		if msg, ok := p.next().(T); ok {
			return msg
		}
	}
}

func (p *peer) expectSilence() {
	p.t.Helper()

	if err := p.conn.SetReadDeadline(time.Now().Add(50 * time.Millisecond)); err != nil {
		p.t.Fatalf("could not set deadline: %v", err)
	}
	buf := make([]byte, 64)
	if n, err := p.conn.Read(buf); err == nil {
		p.t.Fatalf("expected nothing, got %d bytes", n)
	}
}

func TestAssignsDistinctIDs(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)

	is.True(one.id > 0)
	is.True(two.id > 0)
	is.True(one.id != two.id)
}

func TestJoinAnnouncesBothWays(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)

	one.send(&protocol.ChangeChannel{Channel: "level-1"})
	// nothing to announce to a lonely member
	one.expectSilence()

	two.send(&protocol.ChangeChannel{Channel: "level-1"})

	add := nextOf[*protocol.AddRemoveTrackedGizmo](one)
	is.Equal(add.ClientID, two.id)
	is.True(add.Adding)

	add = nextOf[*protocol.AddRemoveTrackedGizmo](two)
	is.Equal(add.ClientID, one.id)
	is.True(add.Adding)
}

func TestRelaysWithinChannelOnly(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)
	other := connect(t, rs)

	one.send(&protocol.SetUsername{Username: "one"}, &protocol.ChangeChannel{Channel: "level-1"})
	two.send(&protocol.ChangeChannel{Channel: "level-1"})
	other.send(&protocol.ChangeChannel{Channel: "level-2"})
	nextOf[*protocol.AddRemoveTrackedGizmo](one)
	nextOf[*protocol.AddRemoveTrackedGizmo](two)

	one.send(&protocol.ChatMessage{Username: "impostor", Text: "hello", IsSystemMessage: true})
	chat := nextOf[*protocol.ChatMessage](two)
	is.Equal(chat.Username, "one")
	is.Equal(chat.Text, "hello")
	is.True(!chat.IsSystemMessage)
	is.True(chat.Timestamp != 0)

	// ClientID is overwritten with the sender's id
	one.send(&protocol.UpdateGizmo{
		ClientID: 99,
		Mode:     protocol.GizmoModeMove,
		Position: protocol.Vector3{X: 1, Y: 2, Z: 3},
		Rotation: protocol.IdentityQuaternion,
		Scale:    protocol.Vector3{X: 1, Y: 1, Z: 1},
	})
	update := nextOf[*protocol.UpdateGizmo](two)
	is.Equal(update.ClientID, one.id)
	is.Equal(update.Position, protocol.Vector3{X: 1, Y: 2, Z: 3})

	other.expectSilence()
}

func TestSceneOpenedBecomesNotice(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)

	one.send(&protocol.SetUsername{Username: "one"}, &protocol.ChangeChannel{Channel: "c"})
	two.send(&protocol.ChangeChannel{Channel: "c"})
	nextOf[*protocol.AddRemoveTrackedGizmo](one)
	nextOf[*protocol.AddRemoveTrackedGizmo](two)

	one.send(&protocol.SceneOpened{SceneName: "Forest"})
	notice := nextOf[*protocol.ChatMessage](two)
	is.True(notice.IsSystemMessage)
	is.Equal(notice.Text, "one opened Forest.")
}

func TestChangingChannelRetractsRoster(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)

	one.send(&protocol.ChangeChannel{Channel: "a"})
	two.send(&protocol.ChangeChannel{Channel: "a"})
	nextOf[*protocol.AddRemoveTrackedGizmo](one)
	nextOf[*protocol.AddRemoveTrackedGizmo](two)

	two.send(&protocol.ChangeChannel{Channel: "b"})

	removed := nextOf[*protocol.AddRemoveTrackedGizmo](one)
	is.Equal(removed.ClientID, two.id)
	is.True(removed.Removing)

	removed = nextOf[*protocol.AddRemoveTrackedGizmo](two)
	is.Equal(removed.ClientID, one.id)
	is.True(removed.Removing)
}

func TestDisconnectRemovesFromChannel(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)
	two := connect(t, rs)

	one.send(&protocol.ChangeChannel{Channel: "a"})
	two.send(&protocol.ChangeChannel{Channel: "a"})
	nextOf[*protocol.AddRemoveTrackedGizmo](one)

	two.conn.Close()

	removed := nextOf[*protocol.AddRemoveTrackedGizmo](one)
	is.Equal(removed.ClientID, two.id)
	is.True(removed.Removing)

	left := nextOf[*protocol.ChatMessage](one)
	is.True(left.IsSystemMessage)
}

func TestMalformedFrameClosesConnection(t *testing.T) {
	is := is.New(t)

	rs := startServer(t)
	one := connect(t, rs)

	oversized := protocol.Header{Size: protocol.MaxPayloadSize + 1, Type: protocol.TypeChatMessage}
	header, err := oversized.MarshalBinary()
	is.NoErr(err)
	_, err = one.conn.Write(header)
	is.NoErr(err)

	is.NoErr(one.conn.SetReadDeadline(time.Now().Add(2 * time.Second)))
	_, err = one.conn.Read(make([]byte, 16))
	is.True(err != nil)
}

func TestZeroConfigRelaysChat(t *testing.T) {
	is := is.New(t)

	rs, err := relayserver.NewRelayServer(relayserver.Config{Address: "127.0.0.1:0"}, nil)
	is.NoErr(err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rs.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	one := connect(t, rs)
	two := connect(t, rs)
	one.send(&protocol.SetUsername{Username: "one"}, &protocol.ChangeChannel{Channel: "x"})
	two.send(&protocol.ChangeChannel{Channel: "x"})
	nextOf[*protocol.AddRemoveTrackedGizmo](one)
	nextOf[*protocol.AddRemoveTrackedGizmo](two)

	one.send(&protocol.ChatMessage{Text: "hi"})
	chat := nextOf[*protocol.ChatMessage](two)
	is.Equal(chat.Text, "hi")
}

func TestRunReturnsWithClientsConnected(t *testing.T) {
	is := is.New(t)

	for i := 0; i < 20; i++ {
		config := relayserver.DefaultConfig()
		config.Address = "127.0.0.1:0"
		rs, err := relayserver.NewRelayServer(config, nil)
		is.NoErr(err)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() { done <- rs.Run(ctx) }()

		// dialed right before cancel, some may still be on their way to
		// being registered; none of them hang up on their own
		var conns []net.Conn
		for j := 0; j < 8; j++ {
			conn, err := net.Dial("tcp", rs.Addr().String())
			is.NoErr(err)
			conns = append(conns, conn)
		}
		cancel()

		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Fatalf("Run still blocked after cancel (iteration %d)", i)
		}

		for _, conn := range conns {
			conn.Close()
		}
	}
}
