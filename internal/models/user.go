package models

type UserRole string

const (
	UserRoleUser  UserRole = "user"
	UserRoleAdmin UserRole = "admin"
)

// Caller is the identity resolved upstream for the request being served.
type Caller struct {
	UserID string
	Role   UserRole
}

func (c Caller) IsAdmin() bool {
	return c.Role == UserRoleAdmin
}

// CanModify reports whether the caller may delete or update an image uploaded by owner.
func (c Caller) CanModify(owner string) bool {
	return c.IsAdmin() || (c.UserID != "" && c.UserID == owner)
}
