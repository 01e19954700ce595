package models

// Roles
const (
	RoleUser    = "user"
	RoleAdmin   = "admin"
	RoleFinance = "finance"
)

// Principal is the authenticated caller. A zero Principal is anonymous.
type Principal struct {
	UserID string   `json:"user_id"`
	Roles  []string `json:"roles"`
}

// Anonymous reports whether no user is authenticated
func (p Principal) Anonymous() bool { return p.UserID == "" }

// HasRole reports whether the principal carries role
func (p Principal) HasRole(role string) bool {
	for _, r := range p.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IsAdmin reports whether the principal has the admin role
func (p Principal) IsAdmin() bool { return p.HasRole(RoleAdmin) }

// CanRefund reports whether the principal may issue refunds
func (p Principal) CanRefund() bool { return p.IsAdmin() || p.HasRole(RoleFinance) }

// IsStaff reports whether the principal may read back-office payment data
func (p Principal) IsStaff() bool { return p.IsAdmin() || p.HasRole(RoleFinance) }

// Owns reports whether b belongs to the authenticated user
func (p Principal) Owns(b *Booking) bool {
	return !p.Anonymous() && b.UserID != nil && *b.UserID == p.UserID
}

// CanAccess reports whether the principal may act on booking b.
// Guest bookings (no user id) are reachable by anyone holding their identifiers.
func (p Principal) CanAccess(b *Booking) bool {
	if p.IsAdmin() {
		return true
	}
	if b.UserID == nil {
		return true
	}
	return !p.Anonymous() && *b.UserID == p.UserID
}

// Actor returns the user id as a nullable column value
func (p Principal) Actor() *string {
	if p.Anonymous() {
		return nil
	}
	id := p.UserID
	return &id
}
