package domain

import "strings"

// Profile is the authenticated user as returned by auth/me/ and auth/profile/.
type Profile struct {
	ID       int64  `json:"id"`
	Email    string `json:"email"`
	Name     string `json:"name,omitempty"`
	FullName string `json:"full_name,omitempty"`
	Role     string `json:"role,omitempty"`
	Avatar   string `json:"profile_image,omitempty"`
}

// DisplayName returns the best available name: full name, name, the local part
// of the email, or "User".
func (p Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	if p.Name != "" {
		return p.Name
	}
	if local, _, ok := strings.Cut(p.Email, "@"); ok && local != "" {
		return local
	}
	if p.Email != "" {
		return p.Email
	}
	return "User"
}
