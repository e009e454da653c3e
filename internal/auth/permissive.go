package auth

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"roomcast/pkg/types"
)

// Default permission sets for the permissive adapter.
var (
	DefaultAnonymousPermissions     = []string{"read"}
	DefaultAuthenticatedPermissions = []string{"read", "write"}
)

// CustomValidator lets the host plug its own credential check into the
// permissive adapter. Returning an error falls back to anonymous identity
// rather than rejecting the connection.
type CustomValidator func(ctx context.Context, credentials *types.Credentials) (userID string, metadata map[string]interface{}, err error)

// PermissiveAdapter accepts every client. Empty credentials yield an
// anonymous identity with a restricted permission set; non-empty
// credentials yield an authenticated identity with a broader one. It
// declares authentication as not required, which is the whole point: it
// admits unauthenticated traffic while metadata still distinguishes
// anonymous callers from authenticated ones.
type PermissiveAdapter struct {
	validator                CustomValidator
	anonymousPermissions     []string
	authenticatedPermissions []string
	anonCounter              atomic.Uint64
}

// PermissiveAdapterOption configures a PermissiveAdapter.
type PermissiveAdapterOption func(*PermissiveAdapter)

// WithCustomValidator installs a credential check for non-empty credentials.
func WithCustomValidator(v CustomValidator) PermissiveAdapterOption {
	return func(a *PermissiveAdapter) { a.validator = v }
}

// WithAnonymousPermissions overrides the anonymous permission set.
func WithAnonymousPermissions(perms []string) PermissiveAdapterOption {
	return func(a *PermissiveAdapter) { a.anonymousPermissions = perms }
}

// WithAuthenticatedPermissions overrides the authenticated permission set.
func WithAuthenticatedPermissions(perms []string) PermissiveAdapterOption {
	return func(a *PermissiveAdapter) { a.authenticatedPermissions = perms }
}

// NewPermissiveAdapter creates a permissive adapter with the given options.
func NewPermissiveAdapter(opts ...PermissiveAdapterOption) *PermissiveAdapter {
	a := &PermissiveAdapter{
		anonymousPermissions:     DefaultAnonymousPermissions,
		authenticatedPermissions: DefaultAuthenticatedPermissions,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Authenticate never fails. Credential material decides which identity and
// permission set the client receives.
func (a *PermissiveAdapter) Authenticate(ctx context.Context, credentials *types.Credentials) (result *types.AuthResult) {
	defer func() {
		if r := recover(); r != nil {
			result = a.anonymous()
		}
	}()

	if credentials.Empty() {
		return a.anonymous()
	}

	if a.validator != nil {
		userID, metadata, err := a.validator(ctx, credentials)
		if err != nil {
			return a.anonymous()
		}
		return a.authenticated(userID, metadata)
	}

	// No validator: any non-empty credential is taken at face value.
	userID := credentials.Token
	if userID == "" {
		userID = credentials.Key
	}
	if userID == "" {
		userID = fmt.Sprintf("user-%d", a.anonCounter.Add(1))
	}
	return a.authenticated(userID, nil)
}

// AuthRequired declares that unauthenticated traffic is allowed.
func (a *PermissiveAdapter) AuthRequired() bool { return false }

// AuthTimeout returns zero: with no auth requirement there is no deadline.
func (a *PermissiveAdapter) AuthTimeout() time.Duration { return 0 }

// SupportedCredentialTypes lists every variant: the adapter accepts all.
func (a *PermissiveAdapter) SupportedCredentialTypes() []string {
	return []string{
		types.CredentialTypeJWT,
		types.CredentialTypeBearer,
		types.CredentialTypeAPIKey,
		types.CredentialTypeOAuth,
		types.CredentialTypeCustom,
	}
}

func (a *PermissiveAdapter) anonymous() *types.AuthResult {
	return &types.AuthResult{
		Success: true,
		UserID:  fmt.Sprintf("anon-%d", a.anonCounter.Add(1)),
		Metadata: map[string]interface{}{
			"anonymous":   true,
			"permissions": a.anonymousPermissions,
		},
	}
}

func (a *PermissiveAdapter) authenticated(userID string, metadata map[string]interface{}) *types.AuthResult {
	md := make(map[string]interface{}, len(metadata)+2)
	for k, v := range metadata {
		md[k] = v
	}
	md["anonymous"] = false
	if _, ok := md["permissions"]; !ok {
		md["permissions"] = a.authenticatedPermissions
	}
	return &types.AuthResult{Success: true, UserID: userID, Metadata: md}
}
