package services

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lukateg/starter-kit/internal/config"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/utils"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// sweepConcurrency bounds parallel expirations in ExpireStale.
const sweepConcurrency = 4

// InvitationView is an invitation as shown to the project owner.
type InvitationView struct {
	models.ProjectInvitation
	AcceptURL string `json:"accept_url,omitempty"`
}

// InvitationPreview is what an unauthenticated visitor of an accept link sees.
type InvitationPreview struct {
	ProjectID   uint       `json:"project_id"`
	ProjectName string     `json:"project_name"`
	Type        string     `json:"type"`
	Email       string     `json:"email,omitempty"`
	Status      string     `json:"status"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
}

// AcceptResult reports a successful acceptance.
type AcceptResult struct {
	ProjectID     uint   `json:"project_id"`
	Role          string `json:"role"`
	AlreadyMember bool   `json:"already_member"`
}

// InvitationService owns project_invitations:
// pending -> accepted | revoked | expired, each terminal.
type InvitationService struct {
	db          *gorm.DB
	memberships *MembershipService
	team        *config.TeamConfig
	publicURL   string
	effects     Effects
	now         func() time.Time
	log         zerolog.Logger
}

func NewInvitationService(db *gorm.DB, memberships *MembershipService, team *config.TeamConfig, publicURL string, effects Effects) *InvitationService {
	return &InvitationService{
		db:          db,
		memberships: memberships,
		team:        team,
		publicURL:   strings.TrimSuffix(publicURL, "/"),
		effects:     effects,
		now:         time.Now,
		log:         logger.Module("invitations"),
	}
}

// SetClock replaces the time source.
func (s *InvitationService) SetClock(now func() time.Time) {
	s.now = now
}

// AcceptURL is the link a recipient follows to accept.
func (s *InvitationService) AcceptURL(token string) string {
	return s.publicURL + "/invite/accept?token=" + url.QueryEscape(token)
}

func (s *InvitationService) view(inv *models.ProjectInvitation) *InvitationView {
	return &InvitationView{ProjectInvitation: *inv, AcceptURL: s.AcceptURL(inv.Token)}
}

// CreateEmailInvite invites email to the project. Owner only.
func (s *InvitationService) CreateEmailInvite(ctx context.Context, caller Identity, projectID uint, email string) (*InvitationView, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	email = normalizeEmail(email)
	if !strings.Contains(email, "@") {
		return nil, ErrValidation(CodeInvalidInput, "a valid email address is required")
	}

	now := s.now()
	var inv models.ProjectInvitation
	var project *models.Project

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		access, err := requireOwner(tx, projectID, caller.SubjectID)
		if err != nil {
			return err
		}
		project = access.Project

		isMember, err := emailIsMember(tx, access, email, caller)
		if err != nil {
			return err
		}
		if isMember {
			return ErrValidation(CodeAlreadyMember, "this email already belongs to a project member")
		}

		var pending []models.ProjectInvitation
		if err := tx.Where("project_id = ? AND type = ? AND email = ? AND status = ?",
			projectID, models.InvitationTypeEmail, email, models.InvitationPending).
			Find(&pending).Error; err != nil {
			return err
		}
		for i := range pending {
			if !isPastExpiry(&pending[i], now) {
				return ErrValidation(CodeAlreadyPending, "an invitation is already pending for this email")
			}
			// Stale but not yet swept: retire it so a fresh one can be sent.
			if _, err := transition(tx, pending[i].ID, models.InvitationExpired, nil); err != nil {
				return err
			}
		}

		token, err := utils.GenerateInviteToken()
		if err != nil {
			return ErrInternal("failed to generate invitation token", err)
		}
		expiresAt := now.Add(s.team.EmailInviteExpiry())
		pendingKey := email
		inv = models.ProjectInvitation{
			ProjectID:  projectID,
			Type:       models.InvitationTypeEmail,
			Email:      email,
			Token:      token,
			InvitedBy:  caller.SubjectID,
			Status:     models.InvitationPending,
			PendingKey: &pendingKey,
			ExpiresAt:  &expiresAt,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&inv)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent request created the pending invite first.
			return ErrValidation(CodeAlreadyPending, "an invitation is already pending for this email")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	invitationTransitions.WithLabelValues(models.InvitationPending).Inc()
	s.log.Info().Uint("project_id", projectID).Uint("invitation_id", inv.ID).Str("email", email).Msg("email invitation created")

	inviterName := caller.Name
	if inviterName == "" {
		inviterName = caller.Email
	}
	SafeNotify(ctx, s.effects, invitationEmailEffect(project.Name, email, inviterName, s.AcceptURL(inv.Token), *inv.ExpiresAt))

	return s.view(&inv), nil
}

func emailIsMember(tx *gorm.DB, access *Access, email string, caller Identity) (bool, error) {
	if access.ResolvedFrom == ResolvedFromLegacyField && normalizeEmail(caller.Email) == email {
		return true, nil
	}
	var count int64
	err := tx.Model(&models.ProjectMember{}).
		Joins("JOIN users ON users.id = project_members.user_id").
		Where("project_members.project_id = ? AND users.email = ?", access.Project.ID, email).
		Count(&count).Error
	return count > 0, err
}

// GetOrCreateLinkInvite returns the project's pending link invitation,
// creating one if none exists. Owner only.
func (s *InvitationService) GetOrCreateLinkInvite(ctx context.Context, caller Identity, projectID uint) (*InvitationView, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	var inv models.ProjectInvitation
	created := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, caller.SubjectID); err != nil {
			return err
		}
		found, err := findPendingLink(tx, projectID, &inv)
		if err != nil || found {
			return err
		}
		created, err = createLinkInvite(tx, projectID, caller.SubjectID, &inv)
		if err != nil || created {
			return err
		}
		// Lost the insert to a concurrent request: return its link.
		found, err = findPendingLink(tx, projectID, &inv)
		if err == nil && !found {
			err = ErrInternal("pending link invitation vanished", nil)
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	if created {
		invitationTransitions.WithLabelValues(models.InvitationPending).Inc()
		s.log.Info().Uint("project_id", projectID).Uint("invitation_id", inv.ID).Msg("link invitation created")
	}
	return s.view(&inv), nil
}

// RegenerateLinkInvite revokes any pending link invitation and issues a new
// token, so previously shared URLs stop working immediately. Owner only.
func (s *InvitationService) RegenerateLinkInvite(ctx context.Context, caller Identity, projectID uint) (*InvitationView, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}

	var inv models.ProjectInvitation
	var revoked int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, caller.SubjectID); err != nil {
			return err
		}
		res := tx.Model(&models.ProjectInvitation{}).
			Where("project_id = ? AND type = ? AND status = ?",
				projectID, models.InvitationTypeLink, models.InvitationPending).
			Updates(map[string]interface{}{"status": models.InvitationRevoked, "pending_key": nil})
		if res.Error != nil {
			return res.Error
		}
		revoked = res.RowsAffected
		created, err := createLinkInvite(tx, projectID, caller.SubjectID, &inv)
		if err == nil && !created {
			err = ErrValidation(CodeAlreadyPending, "a link invitation was created concurrently, retry")
		}
		return err
	})
	if err != nil {
		return nil, err
	}

	invitationTransitions.WithLabelValues(models.InvitationRevoked).Add(float64(revoked))
	invitationTransitions.WithLabelValues(models.InvitationPending).Inc()
	s.log.Info().Uint("project_id", projectID).Int64("revoked", revoked).Msg("link invitation regenerated")
	return s.view(&inv), nil
}

func findPendingLink(tx *gorm.DB, projectID uint, inv *models.ProjectInvitation) (bool, error) {
	err := tx.Where("project_id = ? AND type = ? AND status = ?",
		projectID, models.InvitationTypeLink, models.InvitationPending).
		Order("id DESC").First(inv).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

// createLinkInvite reports false when another pending link already holds the
// project's link slot.
func createLinkInvite(tx *gorm.DB, projectID uint, invitedBy string, inv *models.ProjectInvitation) (bool, error) {
	token, err := utils.GenerateInviteToken()
	if err != nil {
		return false, ErrInternal("failed to generate invitation token", err)
	}
	pendingKey := models.PendingLinkKey
	*inv = models.ProjectInvitation{
		ProjectID:  projectID,
		Type:       models.InvitationTypeLink,
		Token:      token,
		InvitedBy:  invitedBy,
		Status:     models.InvitationPending,
		PendingKey: &pendingKey,
	}
	res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(inv)
	return res.RowsAffected == 1, res.Error
}

// Accept redeems token for caller. Checks run in a fixed order: unknown
// token, revoked, expired, email mismatch, already a member, project full.
func (s *InvitationService) Accept(ctx context.Context, caller Identity, token string) (*AcceptResult, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrNotFound("invitation")
	}

	now := s.now()
	var inv models.ProjectInvitation
	var project models.Project
	var result AcceptResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("token = ?", token).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("invitation")
			}
			return err
		}
		result.ProjectID = inv.ProjectID

		if inv.Status == models.InvitationRevoked {
			return ErrValidation(CodeRevoked, "this invitation has been revoked")
		}
		if inv.Status == models.InvitationAccepted && inv.AcceptedBy != nil && *inv.AcceptedBy == caller.SubjectID {
			// Repeated accept by the same user.
			m, err := findMembership(tx, inv.ProjectID, caller.SubjectID)
			if err != nil {
				return err
			}
			if m != nil {
				result.Role = m.Role
				result.AlreadyMember = true
				return nil
			}
		}
		if inv.Status != models.InvitationPending || isPastExpiry(&inv, now) {
			return ErrValidation(CodeExpired, "this invitation has expired")
		}
		if inv.Type == models.InvitationTypeEmail && normalizeEmail(caller.Email) != inv.Email {
			return ErrValidation(CodeEmailMismatch, "this invitation was sent to a different email address")
		}

		access, err := resolveAccess(tx, inv.ProjectID, caller.SubjectID)
		if err != nil {
			return err
		}
		if access != nil {
			result.Role = access.Role
			result.AlreadyMember = true
			return nil
		}

		if err := tx.First(&project, inv.ProjectID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("project")
			}
			return err
		}

		// Links are single use: once accepted, a later visitor gets expired and
		// the owner has to hand out a fresh link.
		invitedBy := inv.InvitedBy
		if _, err := s.memberships.AddMemberWithinCapacity(tx, &project, caller.SubjectID, models.RoleMember, &invitedBy); err != nil {
			return err
		}

		ok, err := transition(tx, inv.ID, models.InvitationAccepted, map[string]interface{}{
			"accepted_at": now,
			"accepted_by": caller.SubjectID,
		})
		if err != nil {
			return err
		}
		if !ok {
			// Another request moved it out of pending first.
			return ErrValidation(CodeExpired, "this invitation is no longer valid")
		}
		result.Role = models.RoleMember
		return nil
	})
	if err != nil {
		return nil, err
	}

	if result.AlreadyMember {
		return &result, nil
	}

	invitationTransitions.WithLabelValues(models.InvitationAccepted).Inc()
	s.log.Info().
		Uint("project_id", inv.ProjectID).
		Uint("invitation_id", inv.ID).
		Str("user_id", caller.SubjectID).
		Msg("invitation accepted")

	SafeNotify(ctx, s.effects, &Effect{
		Kind:    EffectInvitationAccepted,
		UserID:  inv.InvitedBy,
		Email:   s.userEmail(ctx, inv.InvitedBy),
		Subject: normalizeEmail(caller.Email) + " joined " + project.Name,
		Payload: map[string]string{
			"project_name": project.Name,
			"member_email": normalizeEmail(caller.Email),
		},
	})
	return &result, nil
}

// Revoke cancels a pending invitation. Owner only.
func (s *InvitationService) Revoke(ctx context.Context, caller Identity, projectID, invitationID uint) error {
	if err := requireIdentity(caller); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, caller.SubjectID); err != nil {
			return err
		}
		var inv models.ProjectInvitation
		if err := tx.Where("id = ? AND project_id = ?", invitationID, projectID).First(&inv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound("invitation")
			}
			return err
		}
		ok, err := transition(tx, inv.ID, models.InvitationRevoked, nil)
		if err != nil {
			return err
		}
		if !ok {
			return ErrValidation(CodeNotPending, "only pending invitations can be revoked")
		}
		return nil
	})
	if err != nil {
		return err
	}

	invitationTransitions.WithLabelValues(models.InvitationRevoked).Inc()
	s.log.Info().Uint("project_id", projectID).Uint("invitation_id", invitationID).Msg("invitation revoked")
	return nil
}

// ListPending returns the project's pending invitations. Any member may list;
// accept URLs are only included for the owner.
func (s *InvitationService) ListPending(ctx context.Context, caller Identity, projectID uint) ([]InvitationView, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	access, err := s.memberships.RequireAccess(ctx, projectID, caller.SubjectID)
	if err != nil {
		return nil, err
	}

	var invitations []models.ProjectInvitation
	if err := s.db.WithContext(ctx).
		Where("project_id = ? AND status = ?", projectID, models.InvitationPending).
		Order("created_at DESC").
		Find(&invitations).Error; err != nil {
		return nil, err
	}

	items := make([]InvitationView, 0, len(invitations))
	for i := range invitations {
		v := InvitationView{ProjectInvitation: invitations[i]}
		if access.IsOwner() {
			v.AcceptURL = s.AcceptURL(invitations[i].Token)
		}
		items = append(items, v)
	}
	return items, nil
}

// Preview describes the invitation behind token without redeeming it.
func (s *InvitationService) Preview(ctx context.Context, token string) (*InvitationPreview, error) {
	var inv models.ProjectInvitation
	if err := s.db.WithContext(ctx).Preload("Project").Where("token = ?", token).First(&inv).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound("invitation")
		}
		return nil, err
	}

	status := inv.Status
	if status == models.InvitationPending && isPastExpiry(&inv, s.now()) {
		status = models.InvitationExpired
	}
	preview := &InvitationPreview{
		ProjectID: inv.ProjectID,
		Type:      inv.Type,
		Email:     inv.Email,
		Status:    status,
		ExpiresAt: inv.ExpiresAt,
	}
	if inv.Project != nil {
		preview.ProjectName = inv.Project.Name
	}
	return preview, nil
}

// ExpireStale moves every pending email invitation whose expiry is before
// now to expired. Each row transitions on its own, so a failure leaves the
// rest untouched and a rerun picks up whatever remains.
func (s *InvitationService) ExpireStale(ctx context.Context, now time.Time) (int, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.ProjectInvitation{}).
		Where("type = ? AND status = ? AND expires_at IS NOT NULL AND expires_at < ?",
			models.InvitationTypeEmail, models.InvitationPending, now).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}

	var expired atomic.Int64
	var g errgroup.Group
	g.SetLimit(sweepConcurrency)
	for _, id := range ids {
		g.Go(func() error {
			ok, err := transition(s.db.WithContext(ctx), id, models.InvitationExpired, nil)
			if err != nil {
				s.log.Warn().Err(err).Uint("invitation_id", id).Msg("failed to expire invitation")
				return err
			}
			if ok {
				expired.Add(1)
			}
			return nil
		})
	}
	err := g.Wait()

	n := int(expired.Load())
	invitationTransitions.WithLabelValues(models.InvitationExpired).Add(float64(n))
	return n, err
}

// transition moves a pending invitation to status and frees its pending key.
// It reports false when the row was no longer pending.
func transition(tx *gorm.DB, invitationID uint, status string, extra map[string]interface{}) (bool, error) {
	updates := map[string]interface{}{"status": status, "pending_key": nil}
	for k, v := range extra {
		updates[k] = v
	}
	res := tx.Model(&models.ProjectInvitation{}).
		Where("id = ? AND status = ?", invitationID, models.InvitationPending).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func isPastExpiry(inv *models.ProjectInvitation, now time.Time) bool {
	return inv.ExpiresAt != nil && now.After(*inv.ExpiresAt)
}

func (s *InvitationService) userEmail(ctx context.Context, userID string) string {
	var user models.User
	if err := s.db.WithContext(ctx).Select("email").Where("id = ?", userID).First(&user).Error; err != nil {
		return ""
	}
	return user.Email
}
