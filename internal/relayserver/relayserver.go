// Package relayserver is the server side of the chat protocol. It assigns
// client ids, groups connections into channels and relays chat and gizmo
// updates to the other members of a channel.
package relayserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/coty-crg/CorgiSceneViewChat/internal/debug"
	"github.com/coty-crg/CorgiSceneViewChat/internal/metrics"
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/phuslu/log"
	"golang.org/x/time/rate"
)

var errSlowClient = errors.New("send queue full")

type channelKey uint64

func makeChannelKey(channel string) channelKey {
	return channelKey(xxhash.Sum64String(channel))
}

type client struct {
	id     int32
	connID string
	conn   net.Conn
	sendCh chan []byte

	limiter *rate.Limiter

	// guarded by RelayServer.mu
	username string
	channel  channelKey
	joined   bool
}

func (c *client) displayName() string {
	if c.username == "" {
		return fmt.Sprintf("client %d", c.id)
	}
	return c.username
}

type RelayServer struct {
	ln     net.Listener
	logger *log.Logger

	config  Config
	metrics *metrics.Server

	mu       sync.Mutex
	clients  map[int32]*client
	channels map[channelKey]map[int32]*client
	nextID   int32
	// set once Run stops accepting, guarded by mu. connections that show up
	// later are closed instead of registered.
	closing bool

	wg sync.WaitGroup
}

type Option func(*RelayServer)

func WithMetrics(m *metrics.Server) Option {
	return func(rs *RelayServer) {
		rs.metrics = m
	}
}

func NewRelayServer(config Config, logger *log.Logger, opts ...Option) (*RelayServer, error) {
	ln, err := net.Listen("tcp", config.Address)
	if err != nil {
		return nil, fmt.Errorf("could not listen tcp: %w", err)
	}

	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	defaults := DefaultConfig()
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = defaults.SendQueueSize
	}
	if config.MessagesPerSecond <= 0 {
		config.MessagesPerSecond = defaults.MessagesPerSecond
	}
	if config.Burst <= 0 {
		config.Burst = defaults.Burst
	}

	rs := &RelayServer{
		ln:     ln,
		logger: logger,

		config: config,

		clients:  make(map[int32]*client),
		channels: make(map[channelKey]map[int32]*client),
		nextID:   1,
	}
	for _, opt := range opts {
		opt(rs)
	}

	return rs, nil
}

// Addr can be useful to retreive server's address when RelayServer was
// constructed with ":0".
func (rs *RelayServer) Addr() *net.TCPAddr {
	return rs.ln.Addr().(*net.TCPAddr)
}

// Run accepts connections until ctx is done, then closes every connection
// and waits for their goroutines.
func (rs *RelayServer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		rs.ln.Close()
	})
	defer stop()

	for {
		conn, err := rs.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			rs.logger.Error().
				Msgf("could not accept: %v", err)
			continue
		}

		rs.wg.Add(1)
		go func() {
			defer rs.wg.Done()
			rs.handleConn(conn)
		}()
	}

	var errs error
	rs.mu.Lock()
	rs.closing = true
	for _, c := range rs.clients {
		if err := c.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = multierror.Append(errs, err)
		}
	}
	rs.mu.Unlock()

	rs.wg.Wait()
	return errs
}

// register reports false when the server is already shutting down.
func (rs *RelayServer) register(conn net.Conn) (*client, bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if rs.closing {
		return nil, false
	}

	c := &client{
		id:      rs.nextID,
		connID:  uuid.NewString(),
		conn:    conn,
		sendCh:  make(chan []byte, rs.config.SendQueueSize),
		limiter: rate.NewLimiter(rate.Limit(rs.config.MessagesPerSecond), rs.config.Burst),
	}
	rs.nextID++
	rs.clients[c.id] = c
	rs.metrics.SetConnections(len(rs.clients))

	return c, true
}

func (rs *RelayServer) unregister(c *client) error {
	rs.mu.Lock()
	err := rs.leaveChannelLocked(c, false)
	delete(rs.clients, c.id)
	close(c.sendCh)
	rs.metrics.SetConnections(len(rs.clients))
	rs.mu.Unlock()

	c.conn.Close()
	return err
}

func (rs *RelayServer) handleConn(conn net.Conn) {
	c, ok := rs.register(conn)
	if !ok {
		conn.Close()
		return
	}
	logger := *rs.logger
	logger.Context = log.NewContext(nil).
		Str("conn", c.connID).
		Int("client_id", int(c.id)).
		Value()

	logger.Info().
		Str("remote", conn.RemoteAddr().String()).
		Msg("client connected")

	rs.wg.Add(1)
	go func() {
		defer rs.wg.Done()
		rs.runWriter(&logger, c)
	}()

	defer func() {
		if err := rs.unregister(c); err != nil {
			logger.Error().Err(err).Msg("could not announce departure")
		}
		logger.Info().Msg("client disconnected")
	}()

	rs.mu.Lock()
	err := rs.sendLocked(c, &protocol.SetNetID{ClientID: c.id})
	rs.mu.Unlock()
	if err != nil {
		logger.Error().Err(err).Msg("could not assign client id")
		return
	}

	decoder := protocol.NewDecoder()
	buf := make([]byte, protocol.HeaderSize+protocol.MaxPayloadSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			for {
				msg, err := decoder.Next()
				if errors.Is(err, protocol.ErrUnknownMessageType) {
					logger.Warn().Err(err).Msg("dropping frame")
					continue
				}
				if err != nil {
					logger.Error().Err(err).Msg("could not decode, closing connection")
					return
				}
				if msg == nil {
					break
				}
				rs.handleMsg(&logger, c, msg)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logger.Error().Msgf("could not read: %v", err)
			}
			return
		}
	}
}

func (rs *RelayServer) runWriter(logger *log.Logger, c *client) {
	for frame := range c.sendCh {
		if err := c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
			logger.Error().Msgf("could not set write deadline: %v", err)
		}
		if _, err := c.conn.Write(frame); err != nil {
			logger.Error().Msgf("could not write: %v", err)
			rs.metrics.SendFailed()
			// unblocks the reader, which unregisters and closes sendCh
			c.conn.Close()
			for range c.sendCh {
			}
			return
		}
	}
}

func (rs *RelayServer) handleMsg(logger *log.Logger, c *client, msg protocol.Message) {
	logger.Debug().
		Any("msg", msg).
		Msgf("recv %s", msg.Type())

	var err error

	switch m := msg.(type) {
	case *protocol.ChangeChannel:
		err = rs.handleChangeChannel(c, m)
	case *protocol.SetUsername:
		err = rs.handleSetUsername(c, m)
	case *protocol.SceneOpened:
		err = rs.handleSceneOpened(c, m)
	case *protocol.ChatMessage:
		if !rs.allow(c) {
			return
		}
		err = rs.handleChatMessage(c, m)
	case *protocol.UpdateGizmo:
		if !rs.allow(c) {
			return
		}
		err = rs.handleUpdateGizmo(c, m)
	default:
		logger.Warn().
			Msgf("unexpected %s from client", msg.Type())
		return
	}

	if err != nil {
		logger.Error().
			Err(err).
			Msgf("error handling %s", msg.Type())
	}
}

func (rs *RelayServer) allow(c *client) bool {
	if c.limiter.Allow() {
		return true
	}
	rs.metrics.RateLimited()
	return false
}

// sendLocked queues msg for one client without blocking.
func (rs *RelayServer) sendLocked(c *client, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	return rs.sendFrameLocked(c, msg.Type(), frame)
}

func (rs *RelayServer) sendFrameLocked(c *client, t protocol.MessageType, frame []byte) error {
	select {
	case c.sendCh <- frame:
		rs.metrics.FrameRelayed(t)
		return nil
	default:
		rs.metrics.SendFailed()
		return fmt.Errorf("could not send %s to client %d: %w", t, c.id, errSlowClient)
	}
}

// broadcastLocked sends msg to every member of key except the one with id
// except.
func (rs *RelayServer) broadcastLocked(key channelKey, except int32, msg protocol.Message) error {
	frame, err := protocol.Encode(msg)
	if err != nil {
		return err
	}

	var errs error
	for id, member := range rs.channels[key] {
		// don't send to the sender
		if id == except {
			continue
		}
		if err := rs.sendFrameLocked(member, msg.Type(), frame); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	return errs
}

func systemMessage(format string, args ...any) *protocol.ChatMessage {
	return &protocol.ChatMessage{
		Text:            fmt.Sprintf(format, args...),
		Timestamp:       time.Now().UnixMilli(),
		IsSystemMessage: true,
	}
}

// leaveChannelLocked retracts c from its channel. The remaining members stop
// tracking c and, if retractSelf is set, c stops tracking them.
func (rs *RelayServer) leaveChannelLocked(c *client, retractSelf bool) error {
	if !c.joined {
		return nil
	}

	key := c.channel
	members := rs.channels[key]
	delete(members, c.id)
	if len(members) == 0 {
		delete(rs.channels, key)
	}
	c.joined = false
	rs.metrics.SetChannels(len(rs.channels))

	var errs error
	if retractSelf {
		for _, member := range members {
			if err := rs.sendLocked(c, &protocol.AddRemoveTrackedGizmo{ClientID: member.id, Removing: true}); err != nil {
				errs = multierror.Append(errs, err)
			}
		}
	}
	if err := rs.broadcastLocked(key, c.id, &protocol.AddRemoveTrackedGizmo{ClientID: c.id, Removing: true}); err != nil {
		errs = multierror.Append(errs, err)
	}
	if err := rs.broadcastLocked(key, c.id, systemMessage("%s left the channel.", c.displayName())); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs
}

func (rs *RelayServer) handleChangeChannel(c *client, m *protocol.ChangeChannel) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	var errs error
	if err := rs.leaveChannelLocked(c, true); err != nil {
		errs = multierror.Append(errs, err)
	}

	key := makeChannelKey(m.Channel)
	members, ok := rs.channels[key]
	if !ok {
		members = make(map[int32]*client)
		rs.channels[key] = members
	}

	// the newcomer learns about everyone already here, then everyone
	// learns about the newcomer
	for _, member := range members {
		if err := rs.sendLocked(c, &protocol.AddRemoveTrackedGizmo{ClientID: member.id, Adding: true}); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	members[c.id] = c
	c.channel = key
	c.joined = true
	rs.metrics.SetChannels(len(rs.channels))

	if err := rs.broadcastLocked(key, c.id, &protocol.AddRemoveTrackedGizmo{ClientID: c.id, Adding: true}); err != nil {
		errs = multierror.Append(errs, err)
	}

	rs.logger.Debug().
		Int("client_id", int(c.id)).
		Str("channel", m.Channel).
		Int("members", len(members)).
		Msg("joined channel")

	return errs
}

func (rs *RelayServer) handleSetUsername(c *client, m *protocol.SetUsername) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	previous := c.username
	c.username = m.Username
	if !c.joined || previous == m.Username {
		return nil
	}

	notice := systemMessage("%s joined the channel.", c.displayName())
	if previous != "" {
		notice = systemMessage("%s is now known as %s.", previous, c.displayName())
	}
	return rs.broadcastLocked(c.channel, c.id, notice)
}

func (rs *RelayServer) handleSceneOpened(c *client, m *protocol.SceneOpened) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !c.joined {
		return nil
	}
	return rs.broadcastLocked(c.channel, c.id, systemMessage("%s opened %s.", c.displayName(), m.SceneName))
}

func (rs *RelayServer) handleChatMessage(c *client, m *protocol.ChatMessage) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !c.joined {
		return nil
	}

	relayed := *m
	// clients cannot speak for someone else or as the server
	relayed.Username = c.displayName()
	relayed.IsSystemMessage = false
	if relayed.Timestamp == 0 {
		relayed.Timestamp = time.Now().UnixMilli()
	}
	return rs.broadcastLocked(c.channel, c.id, &relayed)
}

func (rs *RelayServer) handleUpdateGizmo(c *client, m *protocol.UpdateGizmo) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()

	if !c.joined {
		return nil
	}

	relayed := *m
	relayed.ClientID = c.id
	debug.Assert(relayed.ClientID > 0)
	return rs.broadcastLocked(c.channel, c.id, &relayed)
}
