package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/sokoworks/payment-hub/internal"
	"github.com/sokoworks/payment-hub/internal/auth"
	"github.com/sokoworks/payment-hub/pkg/logger"
)

type TokenValidator interface {
	ValidateToken(tokenString string) (*auth.Claims, error)
}

// Authenticator checks the bearer token and puts the caller's user id
// on the request context.
func Authenticator(validator TokenValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				writeAuthError(w, internal.ErrMissingToken)
				return
			}

			claims, err := validator.ValidateToken(token)
			if err != nil {
				if appErr, ok := internal.IsAppError(err); ok {
					writeAuthError(w, appErr)
					return
				}
				writeAuthError(w, internal.ErrInvalidToken)
				return
			}

			userID, err := claims.UserIDInt()
			if err != nil {
				logger.L().Warn("failed to parse user id from token claims", "value", claims.UserID, "error", err)
				writeAuthError(w, internal.ErrInvalidToken)
				return
			}

			ctx := internal.ContextWithUserID(r.Context(), userID)
			ctx = logger.With(ctx, "user_id", userID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if len(authHeader) < 7 || authHeader[:7] != "Bearer " {
		return ""
	}
	return authHeader[7:]
}

func writeAuthError(w http.ResponseWriter, appErr *internal.AppError) {
	status, body := appErr.ToHTTPResponse()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.L().Error("failed to encode auth error response", "error", err)
	}
}
