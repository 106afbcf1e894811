package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rohits-web03/memoscribe/internal/apperr"
	"github.com/rohits-web03/memoscribe/internal/auth"
	"github.com/rohits-web03/memoscribe/internal/models"
	"github.com/rohits-web03/memoscribe/internal/utils"
)

const TokenCookie = "token"

type contextKey string

const identityKey contextKey = "identity"

type TokenVerifier interface {
	VerifyToken(token string) (auth.Identity, error)
}

// AccountFinder confirms that the account behind a token still exists.
type AccountFinder interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

func tokenFrom(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if c, err := r.Cookie(TokenCookie); err == nil {
		return c.Value
	}
	return ""
}

// Auth rejects requests without a valid bearer token or token cookie and
// stores the verified identity in the request context. When accounts is set,
// tokens of deleted accounts are rejected too.
func Auth(verifier TokenVerifier, accounts AccountFinder) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			token := tokenFrom(r)
			if token == "" {
				utils.ErrorResponse(w, apperr.Unauthorized(""))
				return
			}

			id, err := verifier.VerifyToken(token)
			if err != nil {
				utils.ErrorResponse(w, err)
				return
			}

			if accounts != nil {
				uid, err := uuid.Parse(id.UserID)
				if err != nil {
					utils.ErrorResponse(w, apperr.Unauthorized("Invalid token"))
					return
				}
				if _, err := accounts.FindByID(r.Context(), uid); err != nil {
					if apperr.IsKind(err, apperr.KindNotFound) {
						err = apperr.Unauthorized("Account no longer exists")
					}
					utils.ErrorResponse(w, err)
					return
				}
			}

			ctx := context.WithValue(r.Context(), identityKey, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func IdentityFrom(ctx context.Context) (auth.Identity, bool) {
	id, ok := ctx.Value(identityKey).(auth.Identity)
	return id, ok
}
