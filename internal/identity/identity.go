// Package identity decodes already-verified callers and orders their roles.
package identity

import (
	"context"
	"strings"

	"github.com/Marga-Ghale/ora-meeting-backend/internal/types"
)

// Identity is the caller attached to a connection or request.
type Identity struct {
	SchoolID string     `json:"schoolId"`
	UserID   string     `json:"userId"`
	Name     string     `json:"name"`
	Role     types.Role `json:"role"`
}

// AtLeast reports whether the caller's role is at or above required.
// An unrecognized role ranks as viewer.
func (i Identity) AtLeast(required types.Role) bool {
	return i.Role.Rank() >= required.Rank()
}

// schoolSeparator must stay out of school ids; it joins school and meeting in
// room and cache keys.
const schoolSeparator = ":"

// Valid reports whether the identity carries the fields every command needs.
func (i Identity) Valid() bool {
	return i.SchoolID != "" && i.UserID != "" && !strings.Contains(i.SchoolID, schoolSeparator)
}

type contextKey struct{}

// WithContext attaches id to ctx.
func WithContext(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity attached to ctx, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(Identity)
	return id, ok
}
