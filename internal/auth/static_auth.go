package auth

import (
	"context"
	"net/http"
)

// StaticAuthenticator is a development-only authenticator that accepts any sbx_ key.
type StaticAuthenticator struct{}

func NewStaticAuthenticator() *StaticAuthenticator {
	return &StaticAuthenticator{}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, r *http.Request) (*ProjectContext, error) {
	token, err := ExtractBearerToken(r)
	if err != nil {
		return nil, err
	}
	// Accept any sbx_ prefixed key with a static project ID
	return &ProjectContext{
		ProjectID: "static-" + token[:min(len(token), 8)],
		FailOpen:  true,
	}, nil
}
