package account

import "time"

// Role controls access to the admin surface.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Account is a registered storefront identity. The password is stored only as
// a bcrypt hash; plaintext never reaches storage or logs.
type Account struct {
	ID           string
	Email        string // normalized: trimmed, lowercase
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
