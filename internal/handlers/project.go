package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/middleware"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/response"
)

type ProjectHandler struct {
	projects    *services.ProjectService
	memberships *services.MembershipService
	logs        *services.SystemLogService
}

func NewProjectHandler(projects *services.ProjectService, memberships *services.MembershipService, logs *services.SystemLogService) *ProjectHandler {
	return &ProjectHandler{projects: projects, memberships: memberships, logs: logs}
}

// List returns the caller's projects
// GET /api/projects
func (h *ProjectHandler) List(c *gin.Context) {
	items, err := h.projects.ListForUser(c.Request.Context(), middleware.GetIdentity(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, items)
}

// Create creates a project owned by the caller
// POST /api/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req services.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	project, err := h.projects.Create(c.Request.Context(), middleware.GetIdentity(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, project)
}

// Get returns a project the caller belongs to
// GET /api/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	project, err := h.projects.Get(c.Request.Context(), middleware.GetIdentity(c), id)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, project)
}

// Delete removes a project with its members and invitations
// DELETE /api/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.projects.Delete(c.Request.Context(), middleware.GetIdentity(c), id); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}

// AuditLogs returns the project's audit trail to its owner
// GET /api/projects/:id/audit-logs
func (h *ProjectHandler) AuditLogs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req services.SystemLogListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if _, err := h.memberships.RequireOwner(c.Request.Context(), id, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	resp, err := h.logs.ListForProject(c.Request.Context(), id, &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Paged(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}
