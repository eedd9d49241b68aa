package services

import (
	"context"
	"strings"

	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

type ProjectService struct {
	db          *gorm.DB
	memberships *MembershipService
	log         zerolog.Logger
}

func NewProjectService(db *gorm.DB, memberships *MembershipService) *ProjectService {
	return &ProjectService{db: db, memberships: memberships, log: logger.Module("projects")}
}

type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required,max=200"`
	Description string `json:"description" binding:"max=2000"`
}

// ProjectSummary is a project as seen by one of its members.
type ProjectSummary struct {
	models.Project
	Role        string `json:"role"`
	MemberCount int    `json:"member_count"`
}

// Create stores the project and the caller's owner membership together.
func (s *ProjectService) Create(ctx context.Context, caller Identity, req *CreateProjectRequest) (*models.Project, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, ErrValidation(CodeInvalidInput, "project name is required")
	}

	project := models.Project{
		Name:        name,
		Description: strings.TrimSpace(req.Description),
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&project).Error; err != nil {
			return err
		}
		_, err := s.memberships.AddOwner(tx, project.ID, caller.SubjectID)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().Uint("project_id", project.ID).Str("owner", caller.SubjectID).Msg("project created")
	return &project, nil
}

// Get returns the project when the caller has access to it.
func (s *ProjectService) Get(ctx context.Context, caller Identity, projectID uint) (*ProjectSummary, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	access, err := s.memberships.RequireAccess(ctx, projectID, caller.SubjectID)
	if err != nil {
		return nil, err
	}
	count, err := s.memberships.MemberCount(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &ProjectSummary{Project: *access.Project, Role: access.Role, MemberCount: count}, nil
}

// ListForUser returns every project the caller belongs to, including legacy
// projects it owns through owner_id.
func (s *ProjectService) ListForUser(ctx context.Context, caller Identity) ([]ProjectSummary, error) {
	if err := requireIdentity(caller); err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)

	var memberships []models.ProjectMember
	if err := db.Where("user_id = ?", caller.SubjectID).Find(&memberships).Error; err != nil {
		return nil, err
	}
	roles := make(map[uint]string, len(memberships))
	ids := make([]uint, 0, len(memberships))
	for _, m := range memberships {
		roles[m.ProjectID] = m.Role
		ids = append(ids, m.ProjectID)
	}

	const legacyOwned = "owner_id = ? AND NOT EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = projects.id)"

	var projects []models.Project
	query := db.Where(legacyOwned, caller.SubjectID)
	if len(ids) > 0 {
		query = db.Where("id IN ? OR ("+legacyOwned+")", ids, caller.SubjectID)
	}
	if err := query.Order("created_at DESC").Find(&projects).Error; err != nil {
		return nil, err
	}

	counts, err := s.memberCounts(db, projects)
	if err != nil {
		return nil, err
	}

	items := make([]ProjectSummary, 0, len(projects))
	for _, p := range projects {
		role, ok := roles[p.ID]
		if !ok {
			role = models.RoleOwner
		}
		items = append(items, ProjectSummary{Project: p, Role: role, MemberCount: counts[p.ID]})
	}
	return items, nil
}

func (s *ProjectService) memberCounts(db *gorm.DB, projects []models.Project) (map[uint]int, error) {
	counts := make(map[uint]int, len(projects))
	if len(projects) == 0 {
		return counts, nil
	}
	ids := make([]uint, 0, len(projects))
	for _, p := range projects {
		ids = append(ids, p.ID)
	}

	var rows []struct {
		ProjectID uint
		Count     int
	}
	if err := db.Model(&models.ProjectMember{}).
		Select("project_id, COUNT(*) AS count").
		Where("project_id IN ?", ids).
		Group("project_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, r := range rows {
		counts[r.ProjectID] = r.Count
	}
	return counts, nil
}

// Delete removes memberships, then invitations, then the project row.
func (s *ProjectService) Delete(ctx context.Context, caller Identity, projectID uint) error {
	if err := requireIdentity(caller); err != nil {
		return err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := requireOwner(tx, projectID, caller.SubjectID); err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectMember{}).Error; err != nil {
			return err
		}
		if err := tx.Where("project_id = ?", projectID).Delete(&models.ProjectInvitation{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.Project{}, projectID).Error
	})
	if err != nil {
		return err
	}

	s.log.Info().Uint("project_id", projectID).Str("by", caller.SubjectID).Msg("project deleted")
	return nil
}
