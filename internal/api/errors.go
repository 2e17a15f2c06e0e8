package api

import (
	"context"
	"errors"
	"net/http"

	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
	{service.ErrNotFound, http.StatusNotFound, "not_found"},
	{service.ErrAlreadyOpen, http.StatusConflict, "already_open"},
	{service.ErrNotOpen, http.StatusConflict, "not_open"},
	{service.ErrAlreadyReviewed, http.StatusConflict, "already_reviewed"},
	{service.ErrConflict, http.StatusConflict, "conflict"},
	{service.ErrInsufficientTender, http.StatusUnprocessableEntity, "insufficient_tender"},
	{service.ErrInvalidTransition, http.StatusUnprocessableEntity, "invalid_transition"},
	{service.ErrNotReviewable, http.StatusUnprocessableEntity, "not_reviewable"},
	{service.ErrValidation, http.StatusUnprocessableEntity, "validation_failed"},
}

// respondError maps service errors onto HTTP statuses
func respondError(c *gin.Context, err error) {
	var partial *service.PartialCheckoutError
	if errors.As(err, &partial) {
		c.JSON(http.StatusAccepted, gin.H{
			"state":      "sale_recorded_incomplete",
			"order_id":   partial.OrderID,
			"invoice_id": partial.InvoiceID,
			"intent_id":  partial.IntentID,
			"step":       partial.Step,
			"details":    partial.Err.Error(),
		})
		return
	}

	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			c.JSON(m.status, gin.H{
				"error":   m.code,
				"details": err.Error(),
			})
			return
		}
	}

	util.GetLogger().Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"details": err.Error(),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "Invalid request body",
		"details": err.Error(),
	})
}
