package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

// Authenticator validates incoming requests and returns a ProjectContext.
type Authenticator interface {
	Authenticate(ctx context.Context, r *http.Request) (*ProjectContext, error)
}

// ProjectContext holds the authenticated project's identity and configuration.
type ProjectContext struct {
	ProjectID string
	FailOpen  bool
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken extracts an sbx_ API key from the Authorization header.
func ExtractBearerToken(r *http.Request) (string, error) {
	token := r.Header.Get("Authorization")
	if token == "" {
		return "", ErrUnauthenticated
	}
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	if !strings.HasPrefix(token, "sbx_") {
		return "", ErrUnauthenticated
	}
	return token, nil
}
