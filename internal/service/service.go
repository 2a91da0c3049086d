package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/audit"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/config"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/metrics"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
)

// ============================================
// Collaborators
// ============================================

// Subscriber is one connection watching a meeting.
type Subscriber interface {
	ConnID() string
	// Deliver queues an encoded message without blocking. It reports false if
	// the connection could not take it.
	Deliver(msg []byte) bool
}

// Broadcaster fans patches out to the subscribers of a scope. A subscriber
// watches at most one scope at a time.
type Broadcaster interface {
	Join(scope models.Scope, sub Subscriber)
	Leave(sub Subscriber)
	Publish(scope models.Scope, patch models.Patch)
}

// SnapshotCache holds derived snapshots. Get returns nil, nil on a miss.
type SnapshotCache interface {
	Get(ctx context.Context, scope models.Scope) (*models.Snapshot, error)
	Put(ctx context.Context, scope models.Scope, snap *models.Snapshot) error
	Invalidate(ctx context.Context, scope models.Scope) error
}

// AuditLog is the hash-chained ledger, implemented by *audit.Chain.
type AuditLog interface {
	Append(ctx context.Context, scope models.Scope, ev audit.Event) (models.AuditRecord, error)
	Verify(ctx context.Context, scope models.Scope) (audit.VerifyResult, error)
	Records(ctx context.Context, scope models.Scope) ([]models.AuditRecord, error)
	Scopes(ctx context.Context) ([]models.Scope, error)
}

type AlertKind string

const (
	AlertAuditPending AlertKind = "audit_pending"
	AlertChainBroken  AlertKind = "chain_broken"
)

// Alert is an operational escalation that needs a human.
type Alert struct {
	Kind     AlertKind
	Scope    models.Scope
	Action   string
	EntityID string
	Reason   string
	At       time.Time
}

type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}

// ============================================
// Services Container
// ============================================

type Services struct {
	Meeting MeetingService
}

// ServiceDeps contains all dependencies needed to create services.
// Cache and Alerter may be nil.
type ServiceDeps struct {
	Config      *config.Config
	Repos       *repository.Repositories
	Chain       AuditLog
	Outbox      audit.Outbox
	Cache       SnapshotCache
	Broadcaster Broadcaster
	Alerter     Alerter
	Metrics     *metrics.Metrics
	Logger      *zap.Logger
}

func NewServices(deps *ServiceDeps) *Services {
	return &Services{
		Meeting: NewMeetingService(deps),
	}
}

// Close waits for in-flight commands.
func (s *Services) Close() {
	s.Meeting.Close()
}
