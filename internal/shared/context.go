package shared

import (
	"context"
	"log/slog"
	"strings"
)

type actorContextKey struct{}

// Actor identifies the POS user performing a request.
type Actor struct {
	ID     string
	Branch string
}

// ContextWithActor stores the actor in context.
func ContextWithActor(ctx context.Context, actor Actor) context.Context {
	actor.ID = strings.TrimSpace(actor.ID)
	return context.WithValue(ctx, actorContextKey{}, actor)
}

// ActorFromContext extracts the actor from context.
func ActorFromContext(ctx context.Context) (Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(Actor)
	if !ok || actor.ID == "" {
		return Actor{}, false
	}
	return actor, true
}

// BestEffort runs a non-critical side effect. Errors and panics are logged
// and never returned, so the primary operation keeps its own result.
func BestEffort(logger *slog.Logger, op string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				func() {
					defer func() { _ = recover() }()
					logger.Warn("side effect panicked", slog.String("op", op), slog.Any("panic", r))
				}()
			}
		}
	}()
	if err := fn(); err != nil && logger != nil {
		logger.Warn("side effect failed", slog.String("op", op), slog.Any("error", err))
	}
}
