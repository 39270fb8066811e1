package auth

import (
	"context"

	"github.com/ManuGH/lure/internal/model"
)

// Principal is the authenticated caller of a request.
type Principal struct {
	User model.User
	// TokenID is the jti of the access token the request carried.
	TokenID string
}

// UserID returns the caller's user id.
func (p *Principal) UserID() string { return p.User.ID }

// OrgID returns the caller's organization id, empty when it has none.
func (p *Principal) OrgID() string { return p.User.OrganizationID }

// IsAdmin reports whether the caller has the admin role.
func (p *Principal) IsAdmin() bool { return p.User.Role == model.RoleAdmin }

// CustomerOrAdmin reports whether the caller may manage customer resources.
func (p *Principal) CustomerOrAdmin() bool {
	return p.User.Role == model.RoleAdmin || p.User.Role == model.RoleCustomer
}

// OrgManager reports whether the caller manages an organization.
func (p *Principal) OrgManager() bool {
	return p.CustomerOrAdmin() && p.User.HasOrganization()
}

// OrgMember reports whether the caller belongs to an organization.
func (p *Principal) OrgMember() bool { return p.User.HasOrganization() }

// PlatformAdmin reports whether the caller is platform staff.
func (p *Principal) PlatformAdmin() bool { return p.IsAdmin() && p.User.IsStaff }

type principalKey struct{}

// WithPrincipal attaches p to ctx.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the principal attached to ctx, or nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey{}).(*Principal)
	return p
}
