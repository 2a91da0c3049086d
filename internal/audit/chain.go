// Package audit maintains the per-meeting hash-chained audit ledger.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
	"github.com/Marga-Ghale/ora-meeting-backend/internal/repository"
)

var ErrChainBroken = errors.New("audit chain broken")

// IntegrityError names the first record that failed verification.
type IntegrityError struct {
	Scope  models.Scope
	Seq    int64
	Reason string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("audit chain %s broken at seq %d: %s", e.Scope, e.Seq, e.Reason)
}

func (e *IntegrityError) Unwrap() error { return ErrChainBroken }

// Event is what a caller asks the chain to record.
type Event struct {
	TS         int64           `json:"ts"`
	ActorID    string          `json:"actorId"`
	ActorName  string          `json:"actorName"`
	Action     string          `json:"action"`
	EntityType string          `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Payload    json.RawMessage `json:"payload"`
}

// NewEvent marshals payload into an Event.
func NewEvent(ts int64, actorID, actorName, action, entityType, entityID string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal audit payload: %w", err)
	}
	return Event{
		TS:         ts,
		ActorID:    actorID,
		ActorName:  actorName,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Payload:    raw,
	}, nil
}

// Chain appends and verifies audit records. Appends to one scope are
// serialized in-process, and the repository insert is conditional on the
// tail it was computed from, so a second process cannot fork the chain either.
type Chain struct {
	repo     repository.AuditRepository
	attempts int
	newID    func() string
	locks    *scopeLocks
	log      *zap.Logger
}

func NewChain(repo repository.AuditRepository, attempts int, log *zap.Logger) *Chain {
	if attempts < 1 {
		attempts = 1
	}
	return &Chain{
		repo:     repo,
		attempts: attempts,
		newID:    uuid.NewString,
		locks:    newScopeLocks(),
		log:      log.Named("audit"),
	}
}

// Append links ev to the tail of scope and persists it.
func (c *Chain) Append(ctx context.Context, scope models.Scope, ev Event) (models.AuditRecord, error) {
	unlock := c.locks.lock(scope.Key())
	defer unlock()

	payload, err := CanonicalPayload(ev.Payload)
	if err != nil {
		return models.AuditRecord{}, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		tail, err := c.repo.Tail(ctx, scope)
		if err != nil {
			return models.AuditRecord{}, fmt.Errorf("read audit tail: %w", err)
		}

		rec := models.AuditRecord{
			ID:         c.newID(),
			Seq:        1,
			MeetingID:  scope.MeetingID,
			SchoolID:   scope.SchoolID,
			TS:         ev.TS,
			ActorID:    ev.ActorID,
			ActorName:  ev.ActorName,
			Action:     ev.Action,
			EntityType: ev.EntityType,
			EntityID:   ev.EntityID,
			Payload:    payload,
		}
		if tail != nil {
			// never extend a tail that no longer matches its own hash
			if digest, err := Digest(*tail); err != nil || digest != tail.Hash {
				return models.AuditRecord{}, &IntegrityError{Scope: scope, Seq: tail.Seq, Reason: "tail hash mismatch"}
			}
			prev := tail.Hash
			rec.Seq = tail.Seq + 1
			rec.PrevHash = &prev
		}

		rec.Hash, err = Digest(rec)
		if err != nil {
			return models.AuditRecord{}, err
		}

		err = c.repo.Insert(ctx, &rec)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, repository.ErrChainConflict) {
			return models.AuditRecord{}, err
		}

		lastErr = err
		c.log.Warn("audit tail moved during append, retrying",
			zap.String("scope", scope.Key()), zap.Int("attempt", attempt))
	}
	return models.AuditRecord{}, fmt.Errorf("append after %d attempts: %w", c.attempts, lastErr)
}

// VerifyResult summarizes a full walk of one scope's chain.
type VerifyResult struct {
	Records  int
	TailHash *string
}

// Verify recomputes every record of scope. A broken chain is reported as an
// *IntegrityError; storage failures are returned as-is.
func (c *Chain) Verify(ctx context.Context, scope models.Scope) (VerifyResult, error) {
	records, err := c.repo.ListByScope(ctx, scope)
	if err != nil {
		return VerifyResult{}, fmt.Errorf("list audit records: %w", err)
	}
	return VerifyRecords(scope, records)
}

// Records returns the stored chain of scope in order.
func (c *Chain) Records(ctx context.Context, scope models.Scope) ([]models.AuditRecord, error) {
	return c.repo.ListByScope(ctx, scope)
}

// VerifyRecords checks an ordered chain without touching storage.
func VerifyRecords(scope models.Scope, records []models.AuditRecord) (VerifyResult, error) {
	var prev *string
	for i, rec := range records {
		fail := func(reason string) (VerifyResult, error) {
			return VerifyResult{Records: i}, &IntegrityError{Scope: scope, Seq: rec.Seq, Reason: reason}
		}

		if rec.SchoolID != scope.SchoolID || rec.MeetingID != scope.MeetingID {
			return fail("record belongs to another scope")
		}
		if rec.Seq != int64(i+1) {
			return fail(fmt.Sprintf("expected seq %d", i+1))
		}
		if !sameHash(rec.PrevHash, prev) {
			return fail("prevHash does not match previous record")
		}
		digest, err := Digest(rec)
		if err != nil {
			return fail(err.Error())
		}
		if digest != rec.Hash {
			return fail("hash mismatch")
		}

		h := rec.Hash
		prev = &h
	}
	return VerifyResult{Records: len(records), TailHash: prev}, nil
}

func sameHash(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// scopeLocks hands out one mutex per scope key and forgets it when unused.
type scopeLocks struct {
	mu    sync.Mutex
	locks map[string]*scopeLock
}

type scopeLock struct {
	mu   sync.Mutex
	refs int
}

func newScopeLocks() *scopeLocks {
	return &scopeLocks{locks: make(map[string]*scopeLock)}
}

func (s *scopeLocks) lock(key string) func() {
	s.mu.Lock()
	l, ok := s.locks[key]
	if !ok {
		l = &scopeLock{}
		s.locks[key] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, key)
		}
		s.mu.Unlock()
	}
}

// Scopes lists every scope with a stored chain.
func (c *Chain) Scopes(ctx context.Context) ([]models.Scope, error) {
	return c.repo.ListScopes(ctx)
}
