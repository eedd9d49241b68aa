package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/middleware"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/response"
)

type InvitationHandler struct {
	invitations *services.InvitationService
}

func NewInvitationHandler(invitations *services.InvitationService) *InvitationHandler {
	return &InvitationHandler{invitations: invitations}
}

// List returns the project's pending invitations
// GET /api/projects/:id/invitations
func (h *InvitationHandler) List(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}

	items, err := h.invitations.ListPending(c.Request.Context(), middleware.GetIdentity(c), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, items)
}

type CreateEmailInviteRequest struct {
	Email string `json:"email" binding:"required,email"`
}

// CreateEmail invites an address to the project
// POST /api/projects/:id/invitations/email
func (h *InvitationHandler) CreateEmail(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	var req CreateEmailInviteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	inv, err := h.invitations.CreateEmailInvite(c.Request.Context(), middleware.GetIdentity(c), projectID, req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, inv)
}

// GetLink returns the project's pending link invitation, creating one if needed
// POST /api/projects/:id/invitations/link
func (h *InvitationHandler) GetLink(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}

	inv, err := h.invitations.GetOrCreateLinkInvite(c.Request.Context(), middleware.GetIdentity(c), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, inv)
}

// RegenerateLink revokes the current link and issues a new one
// POST /api/projects/:id/invitations/link/regenerate
func (h *InvitationHandler) RegenerateLink(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}

	inv, err := h.invitations.RegenerateLinkInvite(c.Request.Context(), middleware.GetIdentity(c), projectID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Created(c, inv)
}

// Revoke cancels a pending invitation
// DELETE /api/projects/:id/invitations/:invitationId
func (h *InvitationHandler) Revoke(c *gin.Context) {
	projectID, ok := parseID(c, "id")
	if !ok {
		return
	}
	invitationID, ok := parseID(c, "invitationId")
	if !ok {
		return
	}

	if err := h.invitations.Revoke(c.Request.Context(), middleware.GetIdentity(c), projectID, invitationID); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}

// Preview describes an invitation token without accepting it
// GET /api/invitations/preview?token=
func (h *InvitationHandler) Preview(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		response.BadRequest(c, "token is required")
		return
	}

	preview, err := h.invitations.Preview(c.Request.Context(), token)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, preview)
}

type AcceptInvitationRequest struct {
	Token string `json:"token" binding:"required"`
}

// Accept joins the caller to the invitation's project
// POST /api/invitations/accept
func (h *InvitationHandler) Accept(c *gin.Context) {
	var req AcceptInvitationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.invitations.Accept(c.Request.Context(), middleware.GetIdentity(c), req.Token)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
