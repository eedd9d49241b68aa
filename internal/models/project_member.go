package models

import "time"

const (
	RoleOwner  = "owner"
	RoleAdmin  = "admin"
	RoleMember = "member"
)

// ProjectMember represents a user's membership and role within a project.
type ProjectMember struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID uint      `gorm:"uniqueIndex:idx_project_user;not null" json:"project_id"`
	UserID    string    `gorm:"uniqueIndex:idx_project_user;size:128;not null;index" json:"user_id"`
	User      *User     `gorm:"foreignKey:UserID" json:"user,omitempty"`
	Role      string    `gorm:"size:20;not null;default:member" json:"role"` // owner, admin, member
	InvitedBy *string   `gorm:"size:128" json:"invited_by,omitempty"`
	JoinedAt  time.Time `gorm:"not null" json:"joined_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (ProjectMember) TableName() string { return "project_members" }

// IsValidRole reports whether role is a known membership role.
func IsValidRole(role string) bool {
	return role == RoleOwner || role == RoleAdmin || role == RoleMember
}
