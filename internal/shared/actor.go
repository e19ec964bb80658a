package shared

import "context"

type actorKey struct{}

// WithActor stores the acting user's ID on the context. The HTTP layer sets
// it from the authenticated principal.
func WithActor(ctx context.Context, userID int64) context.Context {
	return context.WithValue(ctx, actorKey{}, userID)
}

// ActorFromContext returns the acting user's ID, or 0 when unauthenticated.
func ActorFromContext(ctx context.Context) int64 {
	if id, ok := ctx.Value(actorKey{}).(int64); ok {
		return id
	}
	return 0
}
