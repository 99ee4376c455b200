package services

import (
	"context"
	"strings"
)

// User is anything that exposes a stable identifier. The engine never needs more.
type User interface {
	UserIdentifier() string
}

// UserID is the plain string form of User.
type UserID string

func (u UserID) UserIdentifier() string { return string(u) }

// SystemActor is recorded as created_by/updated_by when no actor is on the context.
const SystemActor = "system"

type actorKey struct{}

// WithActor attaches the acting principal (admin id, worker name) to ctx.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey{}, actor)
}

// ActorFromContext returns the actor set by WithActor, or SystemActor.
func ActorFromContext(ctx context.Context) string {
	if a, ok := ctx.Value(actorKey{}).(string); ok && strings.TrimSpace(a) != "" {
		return a
	}
	return SystemActor
}

func userKey(u User) (string, error) {
	if u == nil {
		return "", ErrInvalidUser
	}
	id := strings.TrimSpace(u.UserIdentifier())
	if id == "" {
		return "", ErrInvalidUser
	}
	return id, nil
}
