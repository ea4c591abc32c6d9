package auth

import (
	"context"
	"net/http"
	"strings"

	"memoria/internal/respond"
)

type ctxKey struct{}

// WithOwner returns a context carrying ownerID.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, ownerID)
}

// OwnerID returns the authenticated owner, if any.
func OwnerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(ctxKey{}).(string)
	return id, ok && id != ""
}

// Authenticate attaches the owner of a valid bearer token to the request
// context. Requests without a token pass through anonymously; a present but
// invalid token is rejected.
func (t *Tokens) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		raw := strings.TrimPrefix(header, "Bearer ")
		if raw == header {
			unauthorized(w, "authorization header must use the Bearer scheme")
			return
		}
		claims, err := t.Parse(raw)
		if err != nil {
			unauthorized(w, "invalid or expired token")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), claims.OwnerID)))
	})
}

// RequireOwner rejects anonymous requests.
func RequireOwner(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := OwnerID(r.Context()); !ok {
			unauthorized(w, "authentication required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func unauthorized(w http.ResponseWriter, message string) {
	respond.JSON(w, http.StatusUnauthorized, map[string]interface{}{
		"error": map[string]string{"code": "UNAUTHORIZED", "message": message},
	})
}
