package services

import (
	"context"
	"errors"
	"time"

	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// ResolvedFrom tells which data source granted access to a project.
type ResolvedFrom int

const (
	ResolvedFromMembership ResolvedFrom = iota + 1
	// ResolvedFromLegacyField means the project predates memberships and the
	// caller matched projects.owner_id.
	ResolvedFromLegacyField
)

func (r ResolvedFrom) String() string {
	switch r {
	case ResolvedFromMembership:
		return "membership"
	case ResolvedFromLegacyField:
		return "legacy_owner_field"
	default:
		return "none"
	}
}

// Access is the caller's resolved standing in a project.
type Access struct {
	Project      *models.Project
	Role         string
	ResolvedFrom ResolvedFrom
	Membership   *models.ProjectMember // nil for legacy access
}

func (a *Access) IsOwner() bool { return a != nil && a.Role == models.RoleOwner }

// MemberInfo is a membership row with the member's contact details.
type MemberInfo struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      string    `json:"role"`
	JoinedAt  time.Time `json:"joined_at"`
	InvitedBy *string   `json:"invited_by,omitempty"`
}

// MembershipService owns project_members.
type MembershipService struct {
	db   *gorm.DB
	team *config.TeamConfig
	log  zerolog.Logger
}

func NewMembershipService(db *gorm.DB, team *config.TeamConfig) *MembershipService {
	return &MembershipService{db: db, team: team, log: logger.Module("membership")}
}

// MaxMembers is the membership cap for every project.
func (s *MembershipService) MaxMembers() int {
	return s.team.Limit()
}

// GetMembership returns nil without error when the user is not a member.
func (s *MembershipService) GetMembership(ctx context.Context, projectID uint, userID string) (*models.ProjectMember, error) {
	return findMembership(s.db.WithContext(ctx), projectID, userID)
}

func findMembership(tx *gorm.DB, projectID uint, userID string) (*models.ProjectMember, error) {
	var m models.ProjectMember
	err := tx.Where("project_id = ? AND user_id = ?", projectID, userID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// ListMembers returns the project's members in join order.
func (s *MembershipService) ListMembers(ctx context.Context, projectID uint) ([]MemberInfo, error) {
	var members []models.ProjectMember
	if err := s.db.WithContext(ctx).
		Where("project_id = ?", projectID).
		Preload("User").
		Order("joined_at ASC, id ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}

	items := make([]MemberInfo, 0, len(members))
	for _, m := range members {
		info := MemberInfo{
			UserID:    m.UserID,
			Role:      m.Role,
			JoinedAt:  m.JoinedAt,
			InvitedBy: m.InvitedBy,
		}
		if m.User != nil {
			info.Email = m.User.Email
			info.Name = m.User.Name
		}
		items = append(items, info)
	}
	return items, nil
}

func (s *MembershipService) MemberCount(ctx context.Context, projectID uint) (int, error) {
	return countMembers(s.db.WithContext(ctx), projectID)
}

func countMembers(tx *gorm.DB, projectID uint) (int, error) {
	var count int64
	if err := tx.Model(&models.ProjectMember{}).Where("project_id = ?", projectID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func (s *MembershipService) CanAddMember(ctx context.Context, projectID uint) (bool, error) {
	count, err := s.MemberCount(ctx, projectID)
	if err != nil {
		return false, err
	}
	return count < s.MaxMembers(), nil
}

func (s *MembershipService) RemainingSlots(ctx context.Context, projectID uint) (int, error) {
	count, err := s.MemberCount(ctx, projectID)
	if err != nil {
		return 0, err
	}
	if remaining := s.MaxMembers() - count; remaining > 0 {
		return remaining, nil
	}
	return 0, nil
}

// ResolveAccess looks the caller up in project_members first and falls back
// to the legacy owner field only while the project has no memberships.
// It returns nil Access when the caller has no standing.
func (s *MembershipService) ResolveAccess(ctx context.Context, projectID uint, userID string) (*Access, error) {
	return resolveAccess(s.db.WithContext(ctx), projectID, userID)
}

func resolveAccess(tx *gorm.DB, projectID uint, userID string) (*Access, error) {
	var project models.Project
	if err := tx.First(&project, projectID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound("project")
		}
		return nil, err
	}

	membership, err := findMembership(tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if membership != nil {
		return &Access{
			Project:      &project,
			Role:         membership.Role,
			ResolvedFrom: ResolvedFromMembership,
			Membership:   membership,
		}, nil
	}

	if project.OwnerID == "" || project.OwnerID != userID {
		return nil, nil
	}
	count, err := countMembers(tx, projectID)
	if err != nil {
		return nil, err
	}
	if count > 0 {
		return nil, nil
	}
	return &Access{
		Project:      &project,
		Role:         models.RoleOwner,
		ResolvedFrom: ResolvedFromLegacyField,
	}, nil
}

// RequireAccess fails with Unauthorized when the caller is not a member.
func (s *MembershipService) RequireAccess(ctx context.Context, projectID uint, userID string) (*Access, error) {
	return requireAccess(s.db.WithContext(ctx), projectID, userID)
}

func requireAccess(tx *gorm.DB, projectID uint, userID string) (*Access, error) {
	access, err := resolveAccess(tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if access == nil {
		return nil, ErrUnauthorized("you don't have access to this project")
	}
	return access, nil
}

// RequireOwner fails with Unauthorized unless the caller owns the project.
func (s *MembershipService) RequireOwner(ctx context.Context, projectID uint, userID string) (*Access, error) {
	return requireOwner(s.db.WithContext(ctx), projectID, userID)
}

func requireOwner(tx *gorm.DB, projectID uint, userID string) (*Access, error) {
	access, err := requireAccess(tx, projectID, userID)
	if err != nil {
		return nil, err
	}
	if !access.IsOwner() {
		return nil, ErrUnauthorized("only the project owner can do this")
	}
	return access, nil
}

// AddOwner writes the creator's owner membership. tx must be the project
// creation transaction.
func (s *MembershipService) AddOwner(tx *gorm.DB, projectID uint, userID string) (*models.ProjectMember, error) {
	m := &models.ProjectMember{
		ProjectID: projectID,
		UserID:    userID,
		Role:      models.RoleOwner,
		JoinedAt:  time.Now(),
	}
	if err := tx.Create(m).Error; err != nil {
		return nil, err
	}
	return m, nil
}

// AddMemberWithinCapacity is the only path that grows a project. It counts
// then inserts without a lock, so two concurrent calls for the last slot can
// both succeed; swap in a locked count here to close that window.
func (s *MembershipService) AddMemberWithinCapacity(tx *gorm.DB, project *models.Project, userID, role string, invitedBy *string) (*models.ProjectMember, error) {
	if err := backfillLegacyOwner(tx, project); err != nil {
		return nil, err
	}

	count, err := countMembers(tx, project.ID)
	if err != nil {
		return nil, err
	}
	if count >= s.MaxMembers() {
		return nil, ErrValidation(CodeProjectFull, "project has reached its member limit")
	}

	m := &models.ProjectMember{
		ProjectID: project.ID,
		UserID:    userID,
		Role:      role,
		InvitedBy: invitedBy,
		JoinedAt:  time.Now(),
	}
	if err := tx.Create(m).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrValidation(CodeAlreadyMember, "user is already a member of this project")
		}
		return nil, err
	}
	return m, nil
}

// backfillLegacyOwner turns a legacy owner_id into an owner membership before
// the first other member is written, so the project never has members
// without an owner.
func backfillLegacyOwner(tx *gorm.DB, project *models.Project) error {
	if project.OwnerID == "" {
		return nil
	}
	count, err := countMembers(tx, project.ID)
	if err != nil || count > 0 {
		return err
	}
	return tx.Create(&models.ProjectMember{
		ProjectID: project.ID,
		UserID:    project.OwnerID,
		Role:      models.RoleOwner,
		JoinedAt:  project.CreatedAt,
	}).Error
}

// TransferOwnership flips fromUser to member and toUser to owner in one
// transaction. toUser must already be a non-owner member.
func (s *MembershipService) TransferOwnership(ctx context.Context, projectID uint, fromUser, toUser string) error {
	if fromUser == toUser {
		return ErrValidation(CodeInvalidTransfer, "cannot transfer ownership to yourself")
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		access, err := requireOwner(tx, projectID, fromUser)
		if err != nil {
			return err
		}
		if access.ResolvedFrom == ResolvedFromLegacyField {
			if err := backfillLegacyOwner(tx, access.Project); err != nil {
				return err
			}
		}

		target, err := findMembership(tx, projectID, toUser)
		if err != nil {
			return err
		}
		if target == nil || target.Role == models.RoleOwner {
			return ErrValidation(CodeInvalidTransfer, "new owner must be an existing member of the project")
		}

		if err := tx.Model(&models.ProjectMember{}).
			Where("project_id = ? AND user_id = ?", projectID, fromUser).
			Update("role", models.RoleMember).Error; err != nil {
			return err
		}
		return tx.Model(&models.ProjectMember{}).
			Where("project_id = ? AND user_id = ?", projectID, toUser).
			Update("role", models.RoleOwner).Error
	})
	if err != nil {
		return err
	}

	s.log.Info().Uint("project_id", projectID).Str("from", fromUser).Str("to", toUser).Msg("ownership transferred")
	return nil
}

// RemoveMember lets the owner remove another member. The owner itself can
// only leave through a transfer.
func (s *MembershipService) RemoveMember(ctx context.Context, projectID uint, callerID, targetID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, callerID); err != nil {
			return err
		}
		return deleteNonOwner(tx, projectID, targetID)
	})
	if err != nil {
		return err
	}
	s.log.Info().Uint("project_id", projectID).Str("user_id", targetID).Str("by", callerID).Msg("member removed")
	return nil
}

// Leave removes the caller's own membership.
func (s *MembershipService) Leave(ctx context.Context, projectID uint, userID string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireAccess(tx, projectID, userID); err != nil {
			return err
		}
		return deleteNonOwner(tx, projectID, userID)
	})
	if err != nil {
		return err
	}
	s.log.Info().Uint("project_id", projectID).Str("user_id", userID).Msg("member left")
	return nil
}

func deleteNonOwner(tx *gorm.DB, projectID uint, userID string) error {
	m, err := findMembership(tx, projectID, userID)
	if err != nil {
		return err
	}
	if m == nil {
		var project models.Project
		if err := tx.Select("id", "owner_id").First(&project, projectID).Error; err == nil && project.OwnerID == userID {
			return ErrValidation(CodeOwnerCannotLeave, "the project owner must transfer ownership first")
		}
		return ErrNotFound("member")
	}
	if m.Role == models.RoleOwner {
		return ErrValidation(CodeOwnerCannotLeave, "the project owner must transfer ownership first")
	}
	return tx.Delete(m).Error
}

// UpdateRole switches a non-owner between admin and member. Ownership only
// moves through TransferOwnership.
func (s *MembershipService) UpdateRole(ctx context.Context, projectID uint, callerID, targetID, role string) (*models.ProjectMember, error) {
	if role != models.RoleAdmin && role != models.RoleMember {
		return nil, ErrValidation(CodeInvalidRole, "role must be 'admin' or 'member'")
	}

	var updated *models.ProjectMember
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, callerID); err != nil {
			return err
		}
		m, err := findMembership(tx, projectID, targetID)
		if err != nil {
			return err
		}
		if m == nil {
			return ErrNotFound("member")
		}
		if m.Role == models.RoleOwner {
			return ErrValidation(CodeInvalidRole, "use ownership transfer to change the owner's role")
		}
		m.Role = role
		if err := tx.Model(m).Update("role", role).Error; err != nil {
			return err
		}
		updated = m
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
