package chatclient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/metrics"
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/phuslu/log"
)

// runLoop owns conn until it returns. Every poll interval (or sooner when
// something was queued) it reads whatever arrived, dispatches the complete
// frames and then writes everything queued. Any read, write or framing error
// ends the session; a nil return means ctx was cancelled.
func (c *Client) runLoop(ctx context.Context, logger *log.Logger, conn net.Conn, bootstrap []protocol.Message) error {
	config := c.Config()

	decoder := protocol.NewDecoder()
	readBuf := make([]byte, protocol.HeaderSize+protocol.MaxPayloadSize)
	writeBuf := make([]byte, 0, protocol.HeaderSize+protocol.MaxPayloadSize)
	outgoing := make([]protocol.Message, 0, 16)

	if err := c.writeAll(logger, conn, config, bootstrap, writeBuf); err != nil {
		return err
	}

	ticker := time.NewTicker(config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-c.queue.Ready():
		}

		if err := c.receive(logger, conn, config, decoder, readBuf); err != nil {
			return err
		}

		outgoing = c.queue.DrainAll(outgoing[:0])
		err := c.writeAll(logger, conn, config, outgoing, writeBuf)
		clear(outgoing)
		if err != nil {
			return err
		}
	}
}

// receive reads until the socket has nothing more for now, dispatching
// complete frames as they become available.
func (c *Client) receive(logger *log.Logger, conn net.Conn, config Config, decoder *protocol.Decoder, buf []byte) error {
	for {
		if err := conn.SetReadDeadline(time.Now().Add(config.ReadPollTimeout)); err != nil {
			return fmt.Errorf("could not set read deadline: %w", err)
		}

		n, err := conn.Read(buf)
		if n > 0 {
			decoder.Feed(buf[:n])
			if err := c.dispatchReady(logger, decoder); err != nil {
				return err
			}
		}
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil
			}
			return fmt.Errorf("could not read: %w", err)
		}
		if n < len(buf) {
			return nil
		}
	}
}

func (c *Client) dispatchReady(logger *log.Logger, decoder *protocol.Decoder) error {
	for {
		msg, err := decoder.Next()
		if errors.Is(err, protocol.ErrUnknownMessageType) {
			logger.Warn().Err(err).Msg("dropping frame")
			c.metrics.FrameDropped(metrics.ReasonUnknownType)
			continue
		}
		if err != nil {
			c.metrics.FrameDropped(metrics.ReasonMalformed)
			return fmt.Errorf("could not decode: %w", err)
		}
		if msg == nil {
			return nil
		}

		logger.Debug().
			Any("msg", msg).
			Msgf("recv %s", msg.Type())
		c.metrics.FrameReceived(msg.Type())

		if err := c.state.Dispatch(msg); err != nil {
			logger.Warn().Err(err).Msg("received unexpected message")
			c.metrics.FrameDropped(metrics.ReasonUnexpected)
			continue
		}
		if msg.Type() == protocol.TypeAddRemoveTrackedGizmo {
			c.metrics.SetTrackedClients(len(c.state.TrackedClients()))
		}
	}
}

// writeAll encodes msgs back to back and writes them with as few writes as
// fit in buf. A message that cannot be encoded is logged and skipped.
func (c *Client) writeAll(logger *log.Logger, conn net.Conn, config Config, msgs []protocol.Message, buf []byte) error {
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		if config.WriteTimeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(config.WriteTimeout)); err != nil {
				return fmt.Errorf("could not set write deadline: %w", err)
			}
		}
		if _, err := conn.Write(buf); err != nil {
			return fmt.Errorf("could not write: %w", err)
		}
		buf = buf[:0]
		return nil
	}

	for _, msg := range msgs {
		frame, err := protocol.Encode(msg)
		if err != nil {
			logger.Error().Err(err).Msg("dropping outgoing message")
			continue
		}

		if len(buf)+len(frame) > cap(buf) {
			if err := flush(); err != nil {
				return err
			}
		}
		buf = append(buf, frame...)

		logger.Debug().
			Any("msg", msg).
			Msgf("send %s", msg.Type())
		c.metrics.FrameSent(msg.Type())
	}

	return flush()
}
