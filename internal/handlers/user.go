package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/middleware"
	"github.com/lukateg/starter-kit/internal/models"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/response"
)

type UserHandler struct {
	users  *services.UserService
	ledger *services.LedgerService
}

func NewUserHandler(users *services.UserService, ledger *services.LedgerService) *UserHandler {
	return &UserHandler{users: users, ledger: ledger}
}

// GetMe returns the caller's profile
// GET /api/me
func (h *UserHandler) GetMe(c *gin.Context) {
	user, err := h.users.GetByID(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, user)
}

type UpdatePreferencesRequest struct {
	EmailUnsubscribed *bool `json:"email_unsubscribed" binding:"required"`
}

// UpdatePreferences toggles email delivery
// PUT /api/me/preferences
func (h *UserHandler) UpdatePreferences(c *gin.Context) {
	var req UpdatePreferencesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	if err := h.users.SetUnsubscribed(c.Request.Context(), middleware.GetUserID(c), *req.EmailUnsubscribed); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"email_unsubscribed": *req.EmailUnsubscribed})
}

// DeleteMe removes the caller's account
// DELETE /api/me
func (h *UserHandler) DeleteMe(c *gin.Context) {
	if err := h.users.Delete(c.Request.Context(), middleware.GetUserID(c)); err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, nil)
}

// GetCredits returns the caller's balance
// GET /api/me/credits
func (h *UserHandler) GetCredits(c *gin.Context) {
	balance, err := h.ledger.GetBalance(c.Request.Context(), middleware.GetUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, gin.H{"credits": balance})
}

// ListTransactions returns the caller's ledger, newest first
// GET /api/me/transactions
func (h *UserHandler) ListTransactions(c *gin.Context) {
	var req services.TransactionListRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	resp, err := h.ledger.ListTransactions(c.Request.Context(), middleware.GetUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Paged(c, resp.Items, resp.Total, resp.Page, resp.PageSize)
}

type SpendRequest struct {
	Amount      int64  `json:"amount" binding:"required"`
	Description string `json:"description" binding:"max=500"`
}

// Spend deducts usage credits from the caller
// POST /api/me/credits/spend
func (h *UserHandler) Spend(c *gin.Context) {
	var req SpendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	description := strings.TrimSpace(req.Description)
	if description == "" {
		description = "Credit usage"
	}
	result, err := h.ledger.DeductCredits(c.Request.Context(), middleware.GetUserID(c), req.Amount, models.TxUsage, description, nil)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
