package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/lukateg/starter-kit/internal/services"
	"github.com/lukateg/starter-kit/pkg/logger"
	"github.com/lukateg/starter-kit/pkg/response"
)

// respondError maps a service error onto the API error envelope.
func respondError(c *gin.Context, err error) {
	response.Error(c, toAppError(c, err))
}

func toAppError(c *gin.Context, err error) *response.AppError {
	var insufficient *services.InsufficientCreditsError
	if errors.As(err, &insufficient) {
		return (&response.AppError{
			HTTPStatus: http.StatusPaymentRequired,
			Code:       http.StatusPaymentRequired,
			Message:    "not enough credits",
		}).WithReason(services.CodeInsufficientCredits).WithData(gin.H{
			"balance":  insufficient.Balance,
			"required": insufficient.Required,
		})
	}

	var svcErr *services.ServiceError
	if !errors.As(err, &svcErr) {
		l := logger.FromGin(c)
		l.Error().Err(err).Str("route", c.FullPath()).Msg("unhandled error")
		return response.NewServerError("internal server error")
	}

	switch svcErr.Kind {
	case services.KindUnauthenticated:
		return response.NewUnauthorized(svcErr.Message).WithReason(svcErr.Code)
	case services.KindUnauthorized:
		return response.NewForbidden(svcErr.Message).WithReason(svcErr.Code)
	case services.KindNotFound:
		return response.NewNotFound(svcErr.Message).WithReason(svcErr.Code)
	case services.KindValidation:
		if svcErr.Code == services.CodeAlreadyPending || svcErr.Code == services.CodeAlreadyMember {
			return response.NewConflict(svcErr.Message).WithReason(svcErr.Code)
		}
		return response.NewBadRequest(svcErr.Message).WithReason(svcErr.Code)
	default:
		l := logger.FromGin(c)
		l.Error().Err(err).Str("route", c.FullPath()).Msg("internal error")
		return response.NewServerError("internal server error")
	}
}

func parseID(c *gin.Context, param string) (uint, bool) {
	id, err := strconv.ParseUint(c.Param(param), 10, 32)
	if err != nil || id == 0 {
		response.BadRequest(c, "invalid "+param)
		return 0, false
	}
	return uint(id), true
}
