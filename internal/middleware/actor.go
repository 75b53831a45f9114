package middleware

import (
	"context"
	"net/http"
	"strings"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// ActorIDKey is the context key for the writer's opaque actor id.
const ActorIDKey contextKey = "actor_id"

// ActorHeader is the request header carrying the actor id.
const ActorHeader = "X-Actor-ID"

// GetActorID extracts the actor id from the context.
// Returns empty string if not found.
func GetActorID(ctx context.Context) string {
	actorID, _ := ctx.Value(ActorIDKey).(string)
	return actorID
}

// Actor returns middleware that copies the X-Actor-ID header into the
// request context. The id is opaque and never verified; credential
// management belongs to the surrounding platform, the ledger only
// records which writer created each expense.
func Actor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if actorID := strings.TrimSpace(r.Header.Get(ActorHeader)); actorID != "" {
			r = r.WithContext(context.WithValue(r.Context(), ActorIDKey, actorID))
		}
		next.ServeHTTP(w, r)
	})
}
