package server

import (
	"errors"
	"net/http"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	chargedomain "github.com/faturo/faturo/internal/charge/domain"
	gatewaydomain "github.com/faturo/faturo/internal/gateway/domain"
	webhookdomain "github.com/faturo/faturo/internal/webhook/domain"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

var ErrInvalidRequest = errors.New("invalid_request")

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, billingdomain.ErrNoServices),
		errors.Is(err, billingdomain.ErrCardBrandRequired),
		errors.Is(err, billingdomain.ErrInvalidInterval),
		errors.Is(err, billingdomain.ErrContractNotBillable),
		errors.Is(err, gatewaydomain.ErrInvalidPayload),
		errors.Is(err, gatewaydomain.ErrInvalidEvent):
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}
	case errors.Is(err, gatewaydomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{
			Type:    "unauthorized",
			Message: "unauthorized",
		}
	case errors.Is(err, webhookdomain.ErrUnknownProvider),
		errors.Is(err, gatewaydomain.ErrProviderNotFound),
		errors.Is(err, billingdomain.ErrBillingNotFound),
		errors.Is(err, chargedomain.ErrChargeNotFound),
		errors.Is(err, chargedomain.ErrContractNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: "not found",
		}
	case errors.Is(err, billingdomain.ErrBillingExists),
		errors.Is(err, chargedomain.ErrChargeExists):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}
	case errors.Is(err, gatewaydomain.ErrInvalidConfig),
		errors.Is(err, chargedomain.ErrConfigNotFound),
		errors.Is(err, chargedomain.ErrNoProvider):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "unprocessable",
			Message: err.Error(),
		}
	default:
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}
}
