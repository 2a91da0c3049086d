package email

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/service"
)

var alertTitles = map[service.AlertKind]string{
	service.AlertAuditPending: "Audit record pending",
	service.AlertChainBroken:  "Audit chain verification failed",
}

// Alerter logs every alert and mails it to the configured operators.
// It satisfies service.Alerter.
type Alerter struct {
	queue *Queue
	to    []string
	log   *zap.Logger
}

// NewAlerter creates an Alerter. With a nil queue or no recipients alerts are
// only logged.
func NewAlerter(queue *Queue, to []string, log *zap.Logger) *Alerter {
	return &Alerter{queue: queue, to: to, log: log.Named("alerts")}
}

func (a *Alerter) Alert(_ context.Context, alert service.Alert) error {
	a.log.Error("operational alert",
		zap.String("kind", string(alert.Kind)),
		zap.String("scope", alert.Scope.Key()),
		zap.String("action", alert.Action),
		zap.String("entity", alert.EntityID),
		zap.String("reason", alert.Reason))

	if a.queue == nil || len(a.to) == 0 {
		return nil
	}

	title, ok := alertTitles[alert.Kind]
	if !ok {
		title = string(alert.Kind)
	}
	at := alert.At
	if at.IsZero() {
		at = time.Now()
	}

	data := AlertEmailData{
		Title:     title,
		Kind:      string(alert.Kind),
		SchoolID:  alert.Scope.SchoolID,
		MeetingID: alert.Scope.MeetingID,
		Action:    alert.Action,
		EntityID:  alert.EntityID,
		Reason:    alert.Reason,
		At:        at.UTC().Format(time.RFC3339),
	}
	subject := fmt.Sprintf("[ORA Meeting] %s: %s", title, alert.Scope.Key())

	if !a.queue.Enqueue(a.to, subject, "alert", data) {
		return fmt.Errorf("alert email for %s not queued", alert.Scope.Key())
	}
	return nil
}
