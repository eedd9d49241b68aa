package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/internal/services/webhook"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/lukateg/starter-kit/pkg/response"
	"github.com/rs/zerolog"
)

const maxWebhookBody = 1 << 20

type PaymentWebhookHandler struct {
	purchases *services.PurchaseService
	secret    string
	log       zerolog.Logger
}

func NewPaymentWebhookHandler(purchases *services.PurchaseService, secret string) *PaymentWebhookHandler {
	return &PaymentWebhookHandler{
		purchases: purchases,
		secret:    secret,
		log:       logger.Module("payments_webhook"),
	}
}

// Handle applies a payment-provider event
// POST /api/webhooks/payments
func (h *PaymentWebhookHandler) Handle(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody+1))
	if err != nil {
		response.BadRequest(c, "failed to read body")
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(c, &response.AppError{HTTPStatus: http.StatusRequestEntityTooLarge, Code: http.StatusRequestEntityTooLarge, Message: "payload too large"})
		return
	}

	err = webhook.Authenticate(h.secret, body, c.GetHeader(webhook.HeaderSignature), c.GetHeader(webhook.HeaderSecret))
	if err != nil {
		h.log.Warn().Err(err).Str("ip", c.ClientIP()).Msg("rejected payment webhook")
		if err == webhook.ErrNotConfigured {
			response.Error(c, (&response.AppError{HTTPStatus: http.StatusServiceUnavailable, Code: http.StatusServiceUnavailable, Message: "payment webhook disabled"}).WithReason("not_configured"))
			return
		}
		response.Unauthorized(c, "invalid webhook credentials")
		return
	}

	var evt services.PurchaseEvent
	dec := json.NewDecoder(bytes.NewReader(body))
	if err := dec.Decode(&evt); err != nil {
		response.BadRequest(c, "invalid payload: "+err.Error())
		return
	}

	result, err := h.purchases.HandlePurchase(c.Request.Context(), &evt)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, result)
}
