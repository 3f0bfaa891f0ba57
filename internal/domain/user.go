package domain

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleOrganizer Role = "organizer"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleCustomer || r == RoleOrganizer
}

// Identity is a caller verified by the identity provider.
type Identity struct {
	UserID string
	Role   Role
}
