package enums

import "fmt"

// MemberRole is the platform role carried inside access tokens.
type MemberRole string

const (
	MemberRoleMember     MemberRole = "member"
	MemberRoleCreator    MemberRole = "creator"
	MemberRoleAdmin      MemberRole = "admin"
	MemberRoleSuperadmin MemberRole = "superadmin"
)

var validMemberRoles = []MemberRole{
	MemberRoleMember,
	MemberRoleCreator,
	MemberRoleAdmin,
	MemberRoleSuperadmin,
}

// IsValid reports whether the value matches a known role.
func (r MemberRole) IsValid() bool {
	for _, candidate := range validMemberRoles {
		if candidate == r {
			return true
		}
	}
	return false
}

// CanManageGoals reports whether the role may create or edit funding goals.
func (r MemberRole) CanManageGoals() bool {
	switch r {
	case MemberRoleCreator, MemberRoleAdmin, MemberRoleSuperadmin:
		return true
	}
	return false
}

// IsAdmin reports whether the role carries platform administration rights.
func (r MemberRole) IsAdmin() bool {
	return r == MemberRoleAdmin || r == MemberRoleSuperadmin
}

// ParseMemberRole converts raw input into MemberRole.
func ParseMemberRole(value string) (MemberRole, error) {
	for _, candidate := range validMemberRoles {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid member role %q", value)
}
