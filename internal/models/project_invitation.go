package models

import "time"

const (
	InvitationTypeEmail = "email"
	InvitationTypeLink  = "link"

	InvitationPending  = "pending"
	InvitationAccepted = "accepted"
	InvitationRevoked  = "revoked"
	InvitationExpired  = "expired"

	// PendingLinkKey is the pending_key of a project's live link invitation.
	PendingLinkKey = "link"
)

// ProjectInvitation is an offer of membership identified by an opaque token.
// Status leaves pending at most once. PendingKey is set only while pending,
// so the unique index allows one live link and one live invite per email.
type ProjectInvitation struct {
	ID         uint       `gorm:"primaryKey" json:"id"`
	ProjectID  uint       `gorm:"index:idx_invitation_project_status;uniqueIndex:idx_invitation_pending_key;not null" json:"project_id"`
	Project    *Project   `gorm:"foreignKey:ProjectID" json:"project,omitempty"`
	Type       string     `gorm:"size:10;not null" json:"type"` // email, link
	Email      string     `gorm:"size:255;index" json:"email,omitempty"`
	Token      string     `gorm:"uniqueIndex;size:128;not null" json:"-"`
	InvitedBy  string     `gorm:"size:128;not null" json:"invited_by"`
	Status     string     `gorm:"index:idx_invitation_project_status;size:20;not null;default:pending" json:"status"`
	PendingKey *string    `gorm:"uniqueIndex:idx_invitation_pending_key;size:255" json:"-"`
	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	AcceptedAt *time.Time `json:"accepted_at,omitempty"`
	AcceptedBy *string    `gorm:"size:128" json:"accepted_by,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

func (ProjectInvitation) TableName() string { return "project_invitations" }

// IsTerminal reports whether the invitation can no longer change status.
func (i ProjectInvitation) IsTerminal() bool {
	return i.Status != InvitationPending
}
