package auth

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/metadata"
)

var (
	ErrMissingAPIKey   = errors.New("missing authorization header")
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrAuthUnavailable = errors.New("auth backend unavailable")
	ErrForbidden       = errors.New("insufficient role")
)

// KeyPrefix is the required prefix of every shield API key.
const KeyPrefix = "psk_"

// Roles. Clients report interception traffic; admins also edit rules.
const (
	RoleClient = "client"
	RoleAdmin  = "admin"
)

// Principal is the authenticated caller.
type Principal struct {
	KeyID string
	Role  string
}

// CanAdmin reports whether the principal may change configuration.
func (p *Principal) CanAdmin() bool {
	return p != nil && p.Role == RoleAdmin
}

// Authenticator validates incoming credentials.
type Authenticator interface {
	// Authenticate reads the bearer token from gRPC metadata.
	Authenticate(ctx context.Context) (*Principal, error)
	// Verify checks a raw API key, e.g. one taken from an HTTP header.
	Verify(ctx context.Context, apiKey string) (*Principal, error)
}

// ParseBearer strips an optional "Bearer " scheme from an authorization
// header value. RFC 6750: the scheme is case-insensitive.
func ParseBearer(header string) string {
	token := header
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		token = token[7:]
	}
	return strings.TrimSpace(token)
}

func extractAPIKey(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrMissingAPIKey
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrMissingAPIKey
	}
	token := ParseBearer(values[0])
	if !strings.HasPrefix(token, KeyPrefix) {
		return "", ErrInvalidAPIKey
	}
	return token, nil
}

// OpenAuthenticator accepts every caller as an admin. It is used when no
// keys are configured, e.g. for a locally embedded engine.
type OpenAuthenticator struct{}

func NewOpenAuthenticator() *OpenAuthenticator {
	return &OpenAuthenticator{}
}

var anonymous = &Principal{KeyID: "anonymous", Role: RoleAdmin}

func (a *OpenAuthenticator) Authenticate(context.Context) (*Principal, error) {
	return anonymous, nil
}

func (a *OpenAuthenticator) Verify(context.Context, string) (*Principal, error) {
	return anonymous, nil
}
