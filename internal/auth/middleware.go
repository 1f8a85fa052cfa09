package auth

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const userKey contextKey = "user"

// DefaultAuthor names annotations made without a token.
const DefaultAuthor = "Anonymous"

// AuthMiddleware attaches the token's identity to the request. Requests
// without an Authorization header pass through anonymously; a header that
// is present but invalid is rejected.
func (s *Service) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			next.ServeHTTP(w, r)
			return
		}

		user, err := s.userFromHeader(authHeader)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

func (s *Service) userFromHeader(authHeader string) (User, error) {
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return User{}, ErrInvalidToken
	}
	return s.ValidateToken(parts[1])
}

// UserFromToken validates a raw token, as sent on a websocket query string.
// An empty token is anonymous.
func (s *Service) UserFromToken(token string) (User, bool, error) {
	if token == "" {
		return User{}, false, nil
	}
	user, err := s.ValidateToken(token)
	if err != nil {
		return User{}, false, err
	}
	return user, true, nil
}

func WithUser(ctx context.Context, user User) context.Context {
	return context.WithValue(ctx, userKey, user)
}

func UserFromContext(ctx context.Context) (User, bool) {
	user, ok := ctx.Value(userKey).(User)
	return user, ok
}

// AuthorFromContext returns the display name recorded on new annotations.
func AuthorFromContext(ctx context.Context) string {
	if user, ok := UserFromContext(ctx); ok && user.DisplayName != "" {
		return user.DisplayName
	}
	return DefaultAuthor
}
