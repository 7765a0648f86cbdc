package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"identra.org/internal/token"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

type subjectKey struct{}

// SubjectFromContext returns the authenticated account ID, if any.
func SubjectFromContext(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(subjectKey{}).(string)
	return s, ok && s != ""
}

// protectedPrefixes lists paths that require a verified access token.
// Everything else (the auth flows, health, metrics) stays public.
var protectedPrefixes = []string{
	"/v1/accounts/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	if a == nil || a.codec == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || !isProtectedPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeAuthError(w, r, "unauthenticated", err.Error())
			return
		}

		claims, err := a.codec.Verify(raw, token.KindAccess)
		if err != nil {
			writeAuthError(w, r, "unauthenticated", "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), subjectKey{}, claims.Subject)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	raw := strings.TrimSpace(header[len(bearer):])
	if raw == "" {
		return "", errors.New("missing bearer token")
	}
	return raw, nil
}

func isProtectedPath(path string) bool {
	for _, prefix := range protectedPrefixes {
		if strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
