package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const (
	TestToken           = "891b4b17feab99f3ff7e5b5d04ccc5da7aa96da6"
	AuthorizationHeader = "Authorization"
)

var ErrMalformedAuthorization = errors.New("authorization header should have the form '<scheme> <token>'")

var acceptedSchemes = map[string]struct{}{
	"Token":  {},
	"Bearer": {},
}

type contextKey struct{}

// ParseAuthorization splits an Authorization header value into its scheme
// and credentials. Only the schemes understood by the OCL API are accepted.
func ParseAuthorization(header string) ([]string, error) {
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return nil, ErrMalformedAuthorization
	}
	if _, ok := acceptedSchemes[parts[0]]; !ok {
		return nil, ErrMalformedAuthorization
	}
	return parts, nil
}

// GetAuthorizationFromRequest returns the Authorization header of r, or an
// empty string for anonymous requests.
func GetAuthorizationFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(AuthorizationHeader))
}

// AuthorizationAwareContext stores the caller's Authorization value so that
// upstream clients can forward it.
func AuthorizationAwareContext(ctx context.Context, authorization string) context.Context {
	return context.WithValue(ctx, contextKey{}, authorization)
}

// GetAuthorizationFromContext returns the forwarded Authorization value.
// The boolean is false for anonymous contexts.
func GetAuthorizationFromContext(ctx context.Context) (string, bool) {
	authorization, ok := ctx.Value(contextKey{}).(string)
	return authorization, ok && authorization != ""
}

// EncodeTokenForTests builds the Authorization value for TestToken.
func EncodeTokenForTests() string {
	return "Token " + TestToken
}
