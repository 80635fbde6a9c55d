package realtime

import (
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/billing"
	"github.com/aura-consult/backend/internal/models"
)

// Notifier pushes billing updates to session watchers over the hub and signals
// the media layer when a session must be torn down. It implements both
// billing.Notifier and billing.Transport.
type Notifier struct {
	hub    *Hub
	pub    *RedisPubSub
	logger *zap.Logger
}

// NewNotifier creates a Notifier. pub may be nil when running without Redis.
func NewNotifier(hub *Hub, pub *RedisPubSub, logger *zap.Logger) *Notifier {
	return &Notifier{hub: hub, pub: pub, logger: logger}
}

// SessionUpdate broadcasts a per-tick snapshot to everyone watching the session.
func (n *Notifier) SessionUpdate(update billing.SessionUpdate) {
	n.hub.BroadcastAndPublish(update.SessionID, "session.update", update)
}

// SessionEnded broadcasts the final summary for a terminated session.
func (n *Notifier) SessionEnded(summary billing.SessionSummary) {
	n.hub.BroadcastAndPublish(summary.SessionID, "session.ended", summary)
}

// Terminate publishes a teardown signal for the media layer.
func (n *Notifier) Terminate(sessionID uuid.UUID, reason models.EndReason) {
	if n.pub == nil {
		return
	}
	if err := n.pub.PublishTerminate(sessionID, string(reason)); err != nil {
		n.logger.Error("failed to publish terminate signal",
			zap.Error(err), zap.String("session_id", sessionID.String()))
	}
}
