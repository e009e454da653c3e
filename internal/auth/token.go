// Package auth provides the reference credential-validation adapters: a
// token-based adapter for JWT-style bearer tokens and a permissive adapter
// for deployments that accept anonymous traffic.
package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"roomcast/pkg/types"
)

// DefaultAuthTimeout is the window the token adapter grants a connection to
// authenticate when no override is configured.
const DefaultAuthTimeout = 30 * time.Second

// Verifier checks a token's signature and returns its claims. Injected by
// the host application; a production deployment must supply one.
type Verifier func(token string) (map[string]interface{}, error)

// UserIDExtractor derives the user identity from verified claims.
type UserIDExtractor func(claims map[string]interface{}) (string, error)

// MetadataExtractor derives connection metadata from verified claims.
type MetadataExtractor func(claims map[string]interface{}) map[string]interface{}

// TokenAdapter validates JWT-style bearer tokens. Authentication is
// required by default and both the jwt and bearer credential variants are
// accepted.
//
// Without an injected Verifier the adapter falls back to a structural
// decode of the token payload that performs NO signature verification.
// That default is deliberately unsafe and exists for development and tests
// only; inject a real Verifier before exposing the server.
type TokenAdapter struct {
	verifier    Verifier
	userID      UserIDExtractor
	metadata    MetadataExtractor
	authTimeout time.Duration
}

// TokenAdapterOption configures a TokenAdapter.
type TokenAdapterOption func(*TokenAdapter)

// WithVerifier installs a signature-checking verifier, replacing the
// unsafe structural decode.
func WithVerifier(v Verifier) TokenAdapterOption {
	return func(a *TokenAdapter) { a.verifier = v }
}

// WithUserIDExtractor overrides the default sub/userId/user_id/id claim
// chain.
func WithUserIDExtractor(e UserIDExtractor) TokenAdapterOption {
	return func(a *TokenAdapter) { a.userID = e }
}

// WithMetadataExtractor overrides the default permissions/roles/expiry
// metadata shape.
func WithMetadataExtractor(e MetadataExtractor) TokenAdapterOption {
	return func(a *TokenAdapter) { a.metadata = e }
}

// WithAuthTimeout overrides the declared authentication window.
func WithAuthTimeout(d time.Duration) TokenAdapterOption {
	return func(a *TokenAdapter) { a.authTimeout = d }
}

// NewTokenAdapter creates a token adapter with the given options.
func NewTokenAdapter(opts ...TokenAdapterOption) *TokenAdapter {
	a := &TokenAdapter{authTimeout: DefaultAuthTimeout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate validates token-carrying credentials. All failures are
// reported through the result; no error or panic escapes.
func (a *TokenAdapter) Authenticate(ctx context.Context, credentials *types.Credentials) (result *types.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			result = types.AuthFailure(fmt.Sprintf("authentication failed: %v", r))
		}
	}()

	token, ok := credentials.BearerToken()
	if !ok {
		if credentials == nil || credentials.Type == "" {
			return types.AuthFailure("credentials are required")
		}
		return types.AuthFailure(fmt.Sprintf("unsupported credential type: %s", credentials.Type))
	}
	return a.ValidateToken(ctx, token)
}

// ValidateToken validates a bare token string. Used directly by the
// transport's Authorization-header fast path.
func (a *TokenAdapter) ValidateToken(_ context.Context, token string) (result *types.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			result = types.AuthFailure(fmt.Sprintf("token validation failed: %v", r))
		}
	}()

	if token == "" {
		return types.AuthFailure("token is required")
	}

	var claims map[string]interface{}
	var err error
	if a.verifier != nil {
		claims, err = a.verifier(token)
	} else {
		claims, err = decodeUnverified(token)
	}
	if err != nil {
		return types.AuthFailure("Invalid token")
	}

	if expired(claims) {
		return types.AuthFailure("Token expired")
	}

	userID, err := a.extractUserID(claims)
	if err != nil {
		return types.AuthFailure(err.Error())
	}

	return &types.AuthResult{
		Success:  true,
		UserID:   userID,
		Metadata: a.extractMetadata(claims),
	}
}

// AuthRequired declares that clients must authenticate.
func (a *TokenAdapter) AuthRequired() bool { return true }

// AuthTimeout declares the authentication window.
func (a *TokenAdapter) AuthTimeout() time.Duration { return a.authTimeout }

// SupportedCredentialTypes lists the credential variants this adapter
// understands.
func (a *TokenAdapter) SupportedCredentialTypes() []string {
	return []string{types.CredentialTypeJWT, types.CredentialTypeBearer}
}

func (a *TokenAdapter) extractUserID(claims map[string]interface{}) (string, error) {
	if a.userID != nil {
		return a.userID(claims)
	}
	// Fallback claim chain: sub, userId, user_id, id.
	for _, key := range []string{"sub", "userId", "user_id", "id"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("token contains no user identity claim")
}

func (a *TokenAdapter) extractMetadata(claims map[string]interface{}) map[string]interface{} {
	if a.metadata != nil {
		return a.metadata(claims)
	}
	md := make(map[string]interface{})
	if v, ok := claims["permissions"]; ok {
		md["permissions"] = v
	}
	if v, ok := claims["roles"]; ok {
		md["roles"] = v
	}
	if v, ok := claims["exp"]; ok {
		md["expiresAt"] = v
	}
	return md
}

// decodeUnverified extracts the claims segment of a JWT-shaped token
// WITHOUT checking its signature. Unsafe by construction: anyone can mint a
// token this decode accepts. Kept only as a development fallback.
func decodeUnverified(token string) (map[string]interface{}, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("token is not in JWT format")
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("invalid token payload encoding: %w", err)
	}
	var claims map[string]interface{}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("invalid token payload: %w", err)
	}
	return claims, nil
}

// expired reports whether the exp claim, when present, is in the past.
// Tokens without an exp claim do not expire.
func expired(claims map[string]interface{}) bool {
	exp, ok := claims["exp"]
	if !ok {
		return false
	}
	var expiry int64
	switch v := exp.(type) {
	case float64:
		expiry = int64(v)
	case int64:
		expiry = v
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return true
		}
		expiry = n
	default:
		// Unparseable expiry claims fail closed.
		return true
	}
	return time.Now().Unix() >= expiry
}
