package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/middleware"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/response"
)

type ProjectMemberHandler struct {
	memberships *services.MembershipService
}

func NewProjectMemberHandler(memberships *services.MembershipService) *ProjectMemberHandler {
	return &ProjectMemberHandler{memberships: memberships}
}

// List returns the members of a project
// GET /api/projects/:id/members
func (h *ProjectMemberHandler) List(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	ctx := c.Request.Context()

	if _, err := h.memberships.RequireAccess(ctx, projectID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	members, err := h.memberships.ListMembers(ctx, projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	remaining, err := h.memberships.RemainingSlots(ctx, projectID)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, gin.H{
		"items":           members,
		"max_members":     h.memberships.MaxMembers(),
		"remaining_slots": remaining,
	})
}

// Remove removes another member
// DELETE /api/projects/:id/members/:userId
func (h *ProjectMemberHandler) Remove(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}

	err := h.memberships.RemoveMember(c.Request.Context(), projectID, middleware.GetUserID(c), c.Param("userId"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}

type UpdateRoleRequest struct {
	Role string `json:"role" binding:"required"`
}

// UpdateRole switches a member between admin and member
// PUT /api/projects/:id/members/:userId/role
func (h *ProjectMemberHandler) UpdateRole(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req UpdateRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	member, err := h.memberships.UpdateRole(c.Request.Context(), projectID, middleware.GetUserID(c), c.Param("userId"), req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, member)
}

// Leave removes the caller from the project
// POST /api/projects/:id/leave
func (h *ProjectMemberHandler) Leave(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}

	if err := h.memberships.Leave(c.Request.Context(), projectID, middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}

type TransferOwnershipRequest struct {
	UserID string `json:"user_id" binding:"required"`
}

// TransferOwnership hands the project to another member
// POST /api/projects/:id/transfer-ownership
func (h *ProjectMemberHandler) TransferOwnership(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req TransferOwnershipRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.memberships.TransferOwnership(c.Request.Context(), projectID, middleware.GetUserID(c), req.UserID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}
