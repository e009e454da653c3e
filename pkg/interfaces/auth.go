package interfaces

import (
	"context"
	"time"

	"roomcast/pkg/types"
)

// AuthAdapter is the pluggable credential-validation strategy. Implementations
// must never panic or return a Go error from Authenticate: every internal
// failure is converted into a failed AuthResult so the transport layer has a
// single outcome shape to act on.
type AuthAdapter interface {
	// Authenticate validates one set of credentials and reports the outcome.
	Authenticate(ctx context.Context, credentials *types.Credentials) *types.AuthResult
}

// TokenValidator is an optional refinement for adapters that can validate a
// bare token string. The transport uses it for the Authorization-header
// fast path at connection time; adapters without it fall back to
// Authenticate with a bearer credential.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token string) *types.AuthResult
}

// AuthPolicy is an optional refinement declaring per-adapter connection
// policy. The transport consults it instead of hardcoding behavior: whether
// unauthenticated clients may exchange messages, and how long a connection
// may stay unauthenticated before it is closed.
type AuthPolicy interface {
	// AuthRequired reports whether clients must authenticate before sending
	// application messages.
	AuthRequired() bool

	// AuthTimeout is the window an unauthenticated connection is given to
	// authenticate. Zero means use the transport's configured default.
	AuthTimeout() time.Duration
}

// CredentialTypes is an optional refinement declaring which credential
// variants an adapter understands.
type CredentialTypes interface {
	SupportedCredentialTypes() []string
}
