package auth

import "context"

type identityKey struct{}

// Identity is the authenticated caller attached to a request context.
type Identity struct {
	TenantID string
	Role     Role
	Subject  string
}

// WithIdentity stores the caller identity in the context.
func WithIdentity(ctx context.Context, tenantID string, role Role, subject string) context.Context {
	return context.WithValue(ctx, identityKey{}, Identity{
		TenantID: tenantID,
		Role:     role,
		Subject:  subject,
	})
}

// IdentityFromContext returns the caller identity, zero when absent.
func IdentityFromContext(ctx context.Context) Identity {
	if ctx == nil {
		return Identity{}
	}
	identity, _ := ctx.Value(identityKey{}).(Identity)
	return identity
}

// TenantIDFromContext returns the caller's tenant id, empty when absent.
func TenantIDFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).TenantID
}

// RoleFromContext returns the caller's role, empty when absent.
func RoleFromContext(ctx context.Context) Role {
	return IdentityFromContext(ctx).Role
}

// SubjectFromContext returns the caller's subject, empty when absent.
func SubjectFromContext(ctx context.Context) string {
	return IdentityFromContext(ctx).Subject
}
