package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/google/uuid"
	"github.com/phuslu/log"
)

var (
	ErrResolve       = errors.New("could not resolve server address")
	ErrBindExhausted = errors.New("no local port in range could be bound")
)

// Initialize starts a new session: it resolves the server address and then
// binds and connects in the background. A running session is shut down
// first. Failures are reported as chat notices and leave the client
// Disconnected; the returned error is the same one, for callers that care.
func (c *Client) Initialize(ctx context.Context) error {
	// also reaps the goroutine of a session that ended in a fault
	if err := c.Shutdown(); err != nil {
		c.logger.Warn().Msgf("could not shut down previous session: %v", err)
	}

	config := c.Config()
	sessionID := uuid.NewString()

	logger := *c.logger
	logger.Context = log.NewContext(nil).Str("session", sessionID).Value()

	c.state.ResetSession()

	remote, err := c.resolve(ctx, config)
	if err != nil {
		c.failAttempt(&logger, err, fmt.Sprintf("Failed to resolve the chat server address %s.", config.ServerAddress))
		return err
	}

	sessionCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	c.mu.Lock()
	c.gen++
	gen := c.gen
	c.connState = StateConnecting
	c.lastErr = nil
	c.remote = remote
	c.local = nil
	c.cancel = cancel
	c.done = done
	c.running.Store(true)
	c.mu.Unlock()

	logger.Info().
		Str("server", config.serverHostPort()).
		Str("remote", remote.String()).
		Str("channel", config.Channel).
		Msg("connecting")

	go func() {
		defer close(done)
		c.runSession(sessionCtx, &logger, gen, config, remote)
	}()

	return nil
}

// EnsureRunning returns immediately if a session is connecting or connected
// and calls Initialize otherwise.
func (c *Client) EnsureRunning(ctx context.Context) error {
	if c.running.Load() {
		return nil
	}
	return c.Initialize(ctx)
}

// Reconnect is the explicit reset action: Shutdown followed by Initialize.
func (c *Client) Reconnect(ctx context.Context) error {
	c.state.Notice("Resetting connection to chat server.")
	return c.Initialize(ctx)
}

// Shutdown stops the session goroutine, closes the socket and returns to
// Idle. It is safe to call in any state and more than once, but not from a
// sink or observer callback.
func (c *Client) Shutdown() error {
	c.mu.Lock()
	cancel, conn, done := c.cancel, c.conn, c.done
	c.cancel, c.conn, c.done = nil, nil, nil
	c.gen++
	c.connState = StateIdle
	c.local = nil
	c.running.Store(false)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, net.ErrClosed) {
			err = fmt.Errorf("could not close connection: %w", closeErr)
		}
	}
	if done != nil {
		<-done
		c.logger.Info().Msg("shut down")
	}

	return err
}

func (c *Client) resolve(ctx context.Context, config Config) (*net.TCPAddr, error) {
	if ip := net.ParseIP(config.ServerAddress); ip != nil {
		return &net.TCPAddr{IP: ip, Port: config.ServerPort}, nil
	}

	addrs, err := c.resolver.LookupIPAddr(ctx, config.ServerAddress)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %w", ErrResolve, config.ServerAddress, err)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w %q: no addresses", ErrResolve, config.ServerAddress)
	}

	return &net.TCPAddr{IP: addrs[0].IP, Port: config.ServerPort, Zone: addrs[0].Zone}, nil
}

// dial binds a local endpoint and connects. When a preferred local port is
// configured, ports that are already in use are skipped over the configured
// range; any other error ends the attempt.
func (c *Client) dial(ctx context.Context, logger *log.Logger, config Config, remote *net.TCPAddr) (net.Conn, error) {
	var localIP net.IP
	if config.LocalAddress != "" {
		localIP = net.ParseIP(config.LocalAddress)
		if localIP == nil {
			return nil, fmt.Errorf("invalid local address %q", config.LocalAddress)
		}
	}

	if config.LocalPort == 0 {
		dialer := &net.Dialer{}
		if localIP != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: localIP}
		}
		return dialer.DialContext(ctx, "tcp", remote.String())
	}

	for i := 0; i < config.BindAttempts; i++ {
		port := config.LocalPort + i
		dialer := &net.Dialer{
			LocalAddr: &net.TCPAddr{IP: localIP, Port: port},
		}

		conn, err := dialer.DialContext(ctx, "tcp", remote.String())
		if err == nil {
			return conn, nil
		}
		if !errors.Is(err, syscall.EADDRINUSE) {
			return nil, err
		}

		logger.Warn().
			Int("port", port).
			Msg("local port in use, trying next")
	}

	return nil, fmt.Errorf(
		"%w (%d..%d)",
		ErrBindExhausted,
		config.LocalPort,
		config.LocalPort+config.BindAttempts-1,
	)
}

func (c *Client) runSession(ctx context.Context, logger *log.Logger, gen uint64, config Config, remote *net.TCPAddr) {
	conn, err := c.dial(ctx, logger, config, remote)
	if err != nil {
		if ctx.Err() != nil {
			// shut down while connecting
			return
		}
		c.endSession(logger, gen, nil, StateDisconnected, fmt.Errorf("could not connect: %w", err),
			fmt.Sprintf("Failed to connect to the chat server at %s.", remote))
		c.metrics.ConnectFailed()
		return
	}

	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.connState = StateConnected
	c.local, _ = conn.LocalAddr().(*net.TCPAddr)
	c.mu.Unlock()

	logger.Info().
		Str("local", conn.LocalAddr().String()).
		Str("remote", conn.RemoteAddr().String()).
		Msg("connected")
	c.metrics.Connected()
	c.state.Notice("Connected to chat server.")

	// channel and identity go out before anything that was queued while
	// disconnected; the server routes everything else by them.
	bootstrap := []protocol.Message{
		&protocol.ChangeChannel{Channel: config.Channel},
		&protocol.SetUsername{Username: config.Username},
		&protocol.SceneOpened{SceneName: config.SceneName},
	}

	err = c.runLoop(ctx, logger, conn, bootstrap)
	if err == nil || ctx.Err() != nil {
		return
	}

	if c.endSession(logger, gen, conn, StateDisconnected, err, "You have been disconnected from the server.") {
		c.metrics.Disconnected()
	}
}

// failAttempt reports an attempt that never got a session goroutine.
func (c *Client) failAttempt(logger *log.Logger, err error, notice string) {
	c.mu.Lock()
	c.gen++
	c.connState = StateDisconnected
	c.lastErr = err
	c.running.Store(false)
	c.mu.Unlock()

	logger.Error().Err(err).Msg("connection attempt failed")
	c.metrics.ConnectFailed()
	c.state.Notice("%s", notice)
}

// endSession tears down session gen after a fault. it reports false when the
// session was already replaced or shut down, in which case nothing is
// announced.
func (c *Client) endSession(logger *log.Logger, gen uint64, conn net.Conn, state ConnState, err error, notice string) bool {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return false
	}
	cancel := c.cancel
	c.gen++
	c.cancel, c.conn, c.local = nil, nil, nil
	// done stays set; Shutdown still has to wait for this goroutine
	c.connState = state
	c.lastErr = err
	c.running.Store(false)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if conn != nil {
		conn.Close()
	}

	logger.Error().Err(err).Msg("session ended")
	c.state.Notice("%s", notice)

	return true
}
