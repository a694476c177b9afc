package users

import (
	"strings"
)

// RoleType represents a user role either at system or tenant level
type RoleType string

const (
	// System-level roles
	RoleSuperAdmin    RoleType = "super_admin"    // Can manage all tenants and system configuration
	RoleSystemAuditor RoleType = "system_auditor" // Can view all tenant data for auditing

	// Tenant-level roles
	RoleTenantAdmin  RoleType = "tenant_admin"  // Can manage users and settings within a tenant
	RoleTenantUser   RoleType = "tenant_user"   // Regular user within a tenant
	RoleTenantViewer RoleType = "tenant_viewer" // Read-only access within a tenant
)

// Profile is the tenant independent identity of the signed in user, as handed out by the
// auth server at login and persisted alongside the access token.
type Profile struct {
	ID        string   `json:"id" validate:"required"` // Unique identifier for the user
	Email     string   `json:"email,omitempty"`        // User's email address
	FirstName string   `json:"first_name,omitempty"`
	LastName  string   `json:"last_name,omitempty"`
	Name      string   `json:"name,omitempty"` // Display name when the server sends one
	Role      RoleType `json:"role,omitempty"` // System level role
}

// DisplayName prefers the server supplied name, then first/last name, then email.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if full := strings.TrimSpace(p.FirstName + " " + p.LastName); full != "" {
		return full
	}
	return p.Email
}

func (p Profile) IsSuperAdmin() bool {
	return p.Role == RoleSuperAdmin
}
