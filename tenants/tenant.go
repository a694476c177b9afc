package tenants

import "github.com/jrsteele09/go-auth-client/users"

// Membership is a tenant the signed in user belongs to, with the user's role inside it.
type Membership struct {
	ID     string         `json:"id" validate:"required"`
	Name   string         `json:"name"`
	Domain string         `json:"domain"`
	Role   users.RoleType `json:"role"`
}
