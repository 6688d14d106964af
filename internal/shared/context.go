package shared

import (
	"context"
	"slices"
)

// Caller identifies the authenticated user behind a request.
type Caller struct {
	UserID     string   `json:"user_id"`
	Name       string   `json:"name"`
	DivisionID int64    `json:"division_id"`
	Roles      []string `json:"roles"`
}

// HasRole reports whether the caller carries role.
func (c Caller) HasRole(role string) bool {
	return role != "" && slices.Contains(c.Roles, role)
}

// Scope limits list queries to a division unless All is set.
type Scope struct {
	DivisionID int64
	All        bool
}

// Allows reports whether a record owned by divisionID is visible.
func (s Scope) Allows(divisionID int64) bool {
	return s.All || s.DivisionID == divisionID
}

// ScopeFor derives the visibility scope; holders of adminRole see every division.
func ScopeFor(c Caller, adminRole string) Scope {
	if c.HasRole(adminRole) {
		return Scope{All: true}
	}
	return Scope{DivisionID: c.DivisionID}
}

type callerContextKey struct{}

// ContextWithCaller stores the caller in context.
func ContextWithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, callerContextKey{}, c)
}

// CallerFromContext extracts the caller from context.
func CallerFromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(callerContextKey{}).(Caller)
	return c, ok
}

// ActorName returns the caller's display name, falling back to the user id.
func ActorName(ctx context.Context) string {
	c, ok := CallerFromContext(ctx)
	if !ok {
		return "system"
	}
	if c.Name != "" {
		return c.Name
	}
	return c.UserID
}
