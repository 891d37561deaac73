package chatclient

import (
	"sync"
	"time"

	"github.com/coty-crg/CorgiSceneViewChat/internal/protocol"
	"golang.org/x/time/rate"
)

// GizmoSender is what a GizmoPublisher needs from a client.
type GizmoSender interface {
	Send(msg protocol.Message)
	LocalClientID() int32
}

// GizmoPublisher is fed by a periodic sampler of the local selection. It
// forwards a pose only when it differs from the last one sent, and at most
// once per interval. A throttled pose is dropped, not buffered; it goes out
// only if the sampler keeps calling Publish with it after the interval has
// passed, since the comparison is against what was actually sent.
type GizmoPublisher struct {
	sender  GizmoSender
	limiter *rate.Limiter

	mu       sync.Mutex
	last     protocol.UpdateGizmo
	sentOnce bool
}

func NewGizmoPublisher(sender GizmoSender, interval time.Duration) *GizmoPublisher {
	return &GizmoPublisher{
		sender:  sender,
		limiter: rate.NewLimiter(rate.Every(interval), 1),
	}
}

// Gizmo returns a publisher that sends through c at the configured
// GizmoSendRate.
func (c *Client) Gizmo() *GizmoPublisher {
	return NewGizmoPublisher(c, c.Config().GizmoSendRate)
}

// Publish reports whether an UpdateGizmo was queued. ClientID is filled in
// from the sender.
func (p *GizmoPublisher) Publish(gizmo protocol.UpdateGizmo) bool {
	return p.publishAt(time.Now(), gizmo)
}

func (p *GizmoPublisher) publishAt(now time.Time, gizmo protocol.UpdateGizmo) bool {
	gizmo.ClientID = p.sender.LocalClientID()

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sentOnce && p.last == gizmo {
		return false
	}
	if !p.limiter.AllowN(now, 1) {
		return false
	}

	p.last = gizmo
	p.sentOnce = true

	msg := gizmo
	p.sender.Send(&msg)
	return true
}

// Reset forgets the last sent pose so the next Publish goes out even if
// unchanged, e.g. after a reconnect.
func (p *GizmoPublisher) Reset() {
	p.mu.Lock()
	p.sentOnce = false
	p.mu.Unlock()
}
