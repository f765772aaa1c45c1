package backend

import "context"

type tokenKey struct{}

// CredentialProvider supplies the bearer token of the current principal.
// An empty token means the request is sent unauthenticated.
type CredentialProvider interface {
	Token(ctx context.Context) string
}

// WithToken returns a context carrying token for ContextCredentials
func WithToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenKey{}, token)
}

// TokenFromContext returns the token stored by WithToken
func TokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(tokenKey{}).(string)
	return token, ok && token != ""
}

// ContextCredentials forwards the token of the incoming request
type ContextCredentials struct{}

func (ContextCredentials) Token(ctx context.Context) string {
	token, _ := TokenFromContext(ctx)
	return token
}

// StaticCredentials always returns the same token
type StaticCredentials string

func (s StaticCredentials) Token(context.Context) string {
	return string(s)
}
