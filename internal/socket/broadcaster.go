package socket

import (
	"time"

	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

// Broadcaster maps meeting scopes onto hub rooms. It satisfies
// service.Broadcaster.
type Broadcaster struct {
	hub *Hub
	log *zap.Logger
	now func() time.Time
}

// NewBroadcaster creates a new Broadcaster
func NewBroadcaster(hub *Hub, log *zap.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, log: log.Named("broadcaster"), now: time.Now}
}

// Join subscribes sub to the scope's room.
func (b *Broadcaster) Join(scope models.Scope, sub service.Subscriber) {
	b.hub.JoinRoom(scope.Key(), sub)
}

// Leave removes sub from whatever meeting it watches.
func (b *Broadcaster) Leave(sub service.Subscriber) {
	b.hub.LeaveRoom(sub)
}

// Publish encodes patch once and hands it to every subscriber of the scope.
func (b *Broadcaster) Publish(scope models.Scope, patch models.Patch) {
	data, err := models.EncodeMessage(models.MessageStatePatch, patch, b.now())
	if err != nil {
		b.log.Error("encode patch", zap.Error(err), zap.String("scope", scope.Key()))
		return
	}

	sent := b.hub.SendToRoom(scope.Key(), data)
	b.log.Debug("patch published",
		zap.String("scope", scope.Key()),
		zap.String("op", string(patch.Type())),
		zap.Int("subscribers", sent))
}
