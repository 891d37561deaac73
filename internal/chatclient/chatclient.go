// Package chatclient keeps the one TCP connection a process holds to the
// chat server: it connects, registers channel/username/scene, runs the I/O
// loop that writes queued messages and dispatches received ones, and reports
// every failure as a chat notice instead of returning it up the stack.
package chatclient

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/metrics"
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/coty-crg/CorgiSceneViewChat/internal/sendqueue"
	"github.com/coty-crg/CorgiSceneViewChat/internal/session"
	"github.com/phuslu/log"
)

type ConnState int32

const (
	StateIdle ConnState = iota
	StateConnecting
	StateConnected
	StateDisconnected
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type Option func(*Client)

func WithMetrics(m *metrics.Client) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithResolver replaces net.DefaultResolver for hostname lookups.
func WithResolver(r *net.Resolver) Option {
	return func(c *Client) {
		c.resolver = r
	}
}

type Client struct {
	logger   *log.Logger
	metrics  *metrics.Client
	resolver *net.Resolver

	queue *sendqueue.Queue[protocol.Message]
	state *session.State

	// running is set from Initialize until shutdown or a fault. written
	// under mu, read without it.
	running atomic.Bool

	mu        sync.Mutex
	config    Config
	connState ConnState
	lastErr   error
	local     *net.TCPAddr
	remote    *net.TCPAddr
	conn      net.Conn
	cancel    context.CancelFunc
	// done is closed when the session goroutine returns.
	done chan struct{}
	// gen identifies the current session; goroutines of an older one must
	// not touch shared fields.
	gen uint64
}

// New returns an idle client. Nothing touches the network before Initialize.
func New(config Config, logger *log.Logger, opts ...Option) *Client {
	// if logger is nil (which might be true in tests) => use default, but
	// silenced logger
	if logger == nil {
		tmp := log.DefaultLogger
		logger = &tmp
		logger.Writer = &log.IOWriter{Writer: io.Discard}
	}

	config = config.withDefaults()

	c := &Client{
		logger:   logger,
		resolver: net.DefaultResolver,
		queue:    sendqueue.New[protocol.Message](),
		state:    session.NewState(config.ChatHistoryLimit, logger),
		config:   config,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Send queues msg for transmission. It never blocks and never fails; queued
// messages wait for a connection if there is none.
func (c *Client) Send(msg protocol.Message) {
	c.queue.Enqueue(msg)
}

// SendChat stamps text with the local username and time, records it in the
// chat history and queues it. Empty text is ignored.
func (c *Client) SendChat(text string) {
	if text == "" {
		return
	}

	msg := protocol.ChatMessage{
		Username:  c.Config().Username,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
	c.state.AddLocalChat(msg)
	c.Send(&msg)
}

// SetUsername changes the name used for chat and, when running, announces it.
func (c *Client) SetUsername(username string) {
	c.mu.Lock()
	c.config.Username = username
	c.mu.Unlock()

	if c.running.Load() {
		c.Send(&protocol.SetUsername{Username: username})
	}
}

// SetChannel switches channels. The server is expected to retract the old
// channel's members and announce the new ones.
func (c *Client) SetChannel(channel string) {
	c.mu.Lock()
	c.config.Channel = channel
	c.mu.Unlock()

	if c.running.Load() {
		c.Send(&protocol.ChangeChannel{Channel: channel})
	}
}

// SetScene records the scene the local user has open and, when running,
// tells the server.
func (c *Client) SetScene(sceneName string) {
	c.mu.Lock()
	c.config.SceneName = sceneName
	c.mu.Unlock()

	if c.running.Load() {
		c.Send(&protocol.SceneOpened{SceneName: sceneName})
	}
}

func (c *Client) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

func (c *Client) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connState
}

func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// IsRunning reports whether a session is connecting or connected.
func (c *Client) IsRunning() bool {
	return c.running.Load()
}

// Err returns the fault that ended the last session or attempt, if any.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// LocalAddr returns the bound local endpoint of the current session, or nil.
func (c *Client) LocalAddr() *net.TCPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Client) LocalClientID() int32 {
	return c.state.LocalClientID()
}

func (c *Client) TrackedClients() []session.TrackedClient {
	return c.state.TrackedClients()
}

func (c *Client) ChatHistory() []protocol.ChatMessage {
	return c.state.ChatHistory()
}

// OnMessageReceived registers a sink for received chat and for lifecycle
// notices. The sink runs on the I/O goroutine and must not block or call
// Shutdown.
func (c *Client) OnMessageReceived(fn func(protocol.ChatMessage)) {
	c.state.OnMessageReceived(fn)
}

// Subscribe registers fn to be told that state changed. Same rules as
// OnMessageReceived.
func (c *Client) Subscribe(fn func()) {
	c.state.Subscribe(fn)
}
