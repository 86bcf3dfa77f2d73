package pos

import (
	"net/http"
	"strings"

	"github.com/odyssey-pos/odyssey-pos/internal/platform/httpx"
	"github.com/odyssey-pos/odyssey-pos/internal/shared"
)

// Headers set by the gateway in front of the POS API.
const (
	HeaderUser   = "X-POS-User"
	HeaderBranch = "X-POS-Branch"
)

// ActorMiddleware places the gateway-authenticated user into the request
// context. Requests without a user are rejected.
func ActorMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user := strings.TrimSpace(r.Header.Get(HeaderUser))
		if user == "" {
			httpx.RespondError(w, httpx.ErrUnauthorized)
			return
		}
		actor := shared.Actor{ID: user, Branch: strings.TrimSpace(r.Header.Get(HeaderBranch))}
		next.ServeHTTP(w, r.WithContext(shared.ContextWithActor(r.Context(), actor)))
	})
}
