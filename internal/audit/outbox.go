package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/models"
)

// Pending is a committed state change whose audit record has not been written
// yet. Patch is held back from subscribers until the record lands.
type Pending struct {
	Scope    models.Scope
	Event    Event
	Patch    models.Patch
	QueuedAt int64
}

type pendingWire struct {
	Scope    models.Scope    `json:"scope"`
	Event    Event           `json:"event"`
	Patch    json.RawMessage `json:"patch,omitempty"`
	QueuedAt int64           `json:"queuedAt"`
}

func (p Pending) MarshalJSON() ([]byte, error) {
	w := pendingWire{Scope: p.Scope, Event: p.Event, QueuedAt: p.QueuedAt}
	if p.Patch != nil {
		raw, err := json.Marshal(p.Patch)
		if err != nil {
			return nil, err
		}
		w.Patch = raw
	}
	return json.Marshal(w)
}

func (p *Pending) UnmarshalJSON(data []byte) error {
	var w pendingWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p.Scope, p.Event, p.QueuedAt, p.Patch = w.Scope, w.Event, w.QueuedAt, nil
	if len(w.Patch) > 0 {
		patch, err := models.DecodePatch(w.Patch)
		if err != nil {
			return err
		}
		p.Patch = patch
	}
	return nil
}

// Outbox is a FIFO of pending audit appends per scope.
type Outbox interface {
	Push(ctx context.Context, p Pending) error
	// Peek returns the oldest pending entry of scope, or nil.
	Peek(ctx context.Context, scope models.Scope) (*Pending, error)
	// Ack drops the oldest pending entry of scope.
	Ack(ctx context.Context, scope models.Scope) error
	Len(ctx context.Context, scope models.Scope) (int64, error)
	// Scopes lists every scope with at least one pending entry.
	Scopes(ctx context.Context) ([]models.Scope, error)
}

const (
	pendingKeyPrefix = "audit:pending:"
	pendingScopesKey = "audit:pending:scopes"
)

func pendingKey(scope models.Scope) string {
	return pendingKeyPrefix + scope.Key()
}

// ackScript pops the head and drops the scope from the index once its list is
// empty, in one step.
var ackScript = redis.NewScript(`
redis.call('LPOP', KEYS[1])
if redis.call('LLEN', KEYS[1]) == 0 then
	redis.call('SREM', KEYS[2], ARGV[1])
end
return 1
`)

// RedisOutbox keeps pending entries in Redis so they survive a restart.
type RedisOutbox struct {
	client redis.UniversalClient
}

func NewRedisOutbox(client redis.UniversalClient) *RedisOutbox {
	return &RedisOutbox{client: client}
}

func (o *RedisOutbox) Push(ctx context.Context, p Pending) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode pending audit: %w", err)
	}
	member, err := json.Marshal(p.Scope)
	if err != nil {
		return err
	}

	_, err = o.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, pendingKey(p.Scope), body)
		pipe.SAdd(ctx, pendingScopesKey, member)
		return nil
	})
	if err != nil {
		return fmt.Errorf("push pending audit: %w", err)
	}
	return nil
}

func (o *RedisOutbox) Peek(ctx context.Context, scope models.Scope) (*Pending, error) {
	body, err := o.client.LIndex(ctx, pendingKey(scope), 0).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("peek pending audit: %w", err)
	}

	var p Pending
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, fmt.Errorf("decode pending audit: %w", err)
	}
	return &p, nil
}

func (o *RedisOutbox) Ack(ctx context.Context, scope models.Scope) error {
	member, err := json.Marshal(scope)
	if err != nil {
		return err
	}
	keys := []string{pendingKey(scope), pendingScopesKey}
	if err := ackScript.Run(ctx, o.client, keys, string(member)).Err(); err != nil {
		return fmt.Errorf("ack pending audit: %w", err)
	}
	return nil
}

func (o *RedisOutbox) Len(ctx context.Context, scope models.Scope) (int64, error) {
	return o.client.LLen(ctx, pendingKey(scope)).Result()
}

func (o *RedisOutbox) Scopes(ctx context.Context) ([]models.Scope, error) {
	members, err := o.client.SMembers(ctx, pendingScopesKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list pending scopes: %w", err)
	}

	scopes := make([]models.Scope, 0, len(members))
	for _, m := range members {
		var s models.Scope
		if err := json.Unmarshal([]byte(m), &s); err != nil {
			return nil, fmt.Errorf("decode pending scope %q: %w", m, err)
		}
		scopes = append(scopes, s)
	}
	return scopes, nil
}

// MemoryOutbox is used when Redis is not configured. Entries are lost on restart.
type MemoryOutbox struct {
	mu      sync.Mutex
	pending map[models.Scope][]Pending
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{pending: make(map[models.Scope][]Pending)}
}

func (o *MemoryOutbox) Push(_ context.Context, p Pending) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.pending[p.Scope] = append(o.pending[p.Scope], p)
	return nil
}

func (o *MemoryOutbox) Peek(_ context.Context, scope models.Scope) (*Pending, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.pending[scope]
	if len(list) == 0 {
		return nil, nil
	}
	p := list[0]
	return &p, nil
}

func (o *MemoryOutbox) Ack(_ context.Context, scope models.Scope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	list := o.pending[scope]
	switch len(list) {
	case 0:
	case 1:
		delete(o.pending, scope)
	default:
		o.pending[scope] = list[1:]
	}
	return nil
}

func (o *MemoryOutbox) Len(_ context.Context, scope models.Scope) (int64, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return int64(len(o.pending[scope])), nil
}

func (o *MemoryOutbox) Scopes(_ context.Context) ([]models.Scope, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	scopes := make([]models.Scope, 0, len(o.pending))
	for s := range o.pending {
		scopes = append(scopes, s)
	}
	return scopes, nil
}
