// Package metrics defines the prometheus collectors of the chat client and
// the relay server. A nil *Client or *Server is valid and records nothing.
package metrics

import (
	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "scenechat"

// decode error reasons
const (
	ReasonUnknownType = "unknown_type"
	ReasonUnexpected  = "unexpected"
	ReasonMalformed   = "malformed"
)

type Client struct {
	framesSent      *prometheus.CounterVec
	framesReceived  *prometheus.CounterVec
	dropped         *prometheus.CounterVec
	connects        prometheus.Counter
	connectFailures prometheus.Counter
	disconnects     prometheus.Counter
	trackedClients  prometheus.Gauge
}

// NewClient creates the client collectors and registers them with reg. a nil
// reg leaves them unregistered.
func NewClient(reg prometheus.Registerer) *Client {
	factory := promauto.With(reg)

	return &Client{
		framesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_sent_total",
			Help:      "Frames written to the server by message type",
		}, []string{"type"}),

		framesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_received_total",
			Help:      "Frames decoded from the server by message type",
		}, []string{"type"}),

		dropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "frames_dropped_total",
			Help:      "Frames that were discarded instead of dispatched",
		}, []string{"reason"}),

		connects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connects_total",
			Help:      "Successful connections to the server",
		}),

		connectFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "connect_failures_total",
			Help:      "Failed resolve, bind or connect attempts",
		}),

		disconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "disconnects_total",
			Help:      "Sessions ended by an I/O fault",
		}),

		trackedClients: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "client",
			Name:      "tracked_clients",
			Help:      "Remote clients currently tracked",
		}),
	}
}

func (m *Client) FrameSent(t protocol.MessageType) {
	if m == nil {
		return
	}
	m.framesSent.WithLabelValues(t.String()).Inc()
}

func (m *Client) FrameReceived(t protocol.MessageType) {
	if m == nil {
		return
	}
	m.framesReceived.WithLabelValues(t.String()).Inc()
}

func (m *Client) FrameDropped(reason string) {
	if m == nil {
		return
	}
	m.dropped.WithLabelValues(reason).Inc()
}

func (m *Client) Connected() {
	if m == nil {
		return
	}
	m.connects.Inc()
}

func (m *Client) ConnectFailed() {
	if m == nil {
		return
	}
	m.connectFailures.Inc()
}

func (m *Client) Disconnected() {
	if m == nil {
		return
	}
	m.disconnects.Inc()
}

func (m *Client) SetTrackedClients(n int) {
	if m == nil {
		return
	}
	m.trackedClients.Set(float64(n))
}

type Server struct {
	connections   prometheus.Gauge
	channels      prometheus.Gauge
	framesRelayed *prometheus.CounterVec
	rateLimited   prometheus.Counter
	sendErrors    prometheus.Counter
}

func NewServer(reg prometheus.Registerer) *Server {
	factory := promauto.With(reg)

	return &Server{
		connections: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "connections",
			Help:      "Currently connected clients",
		}),

		channels: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "channels",
			Help:      "Channels with at least one member",
		}),

		framesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "frames_relayed_total",
			Help:      "Frames delivered to channel members by message type",
		}, []string{"type"}),

		rateLimited: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "rate_limited_total",
			Help:      "Inbound frames dropped by the per connection limiter",
		}),

		sendErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "server",
			Name:      "send_errors_total",
			Help:      "Failed writes to clients",
		}),
	}
}

func (m *Server) SetConnections(n int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(n))
}

func (m *Server) SetChannels(n int) {
	if m == nil {
		return
	}
	m.channels.Set(float64(n))
}

func (m *Server) FrameRelayed(t protocol.MessageType) {
	if m == nil {
		return
	}
	m.framesRelayed.WithLabelValues(t.String()).Inc()
}

func (m *Server) RateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}

func (m *Server) SendFailed() {
	if m == nil {
		return
	}
	m.sendErrors.Inc()
}
