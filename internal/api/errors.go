package api

import (
	"errors"
	"net/http"

	"marketplace-orders/internal/models"
	"marketplace-orders/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var codeStatus = map[string]int{
	models.CodeValidation:          http.StatusBadRequest,
	models.CodeInvalidQuantity:     http.StatusBadRequest,
	models.CodeInsufficientStock:   http.StatusConflict,
	models.CodeCannotBuyOwnProduct: http.StatusForbidden,
	models.CodeIllegalTransition:   http.StatusConflict,
	models.CodeAlreadyTerminal:     http.StatusConflict,
	models.CodeNotFound:            http.StatusNotFound,
	models.CodeForbidden:           http.StatusForbidden,
	models.CodeEmptyCart:           http.StatusUnprocessableEntity,
	models.CodeCheckoutInProgress:  http.StatusConflict,
}

// respondError writes err as {error, code, details}.
func respondError(c *gin.Context, err error) {
	code := models.ErrorCode(err)
	status, ok := codeStatus[code]
	if !ok {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
			"code":  models.CodeInternal,
		})
		return
	}

	body := gin.H{"error": err.Error(), "code": code}
	if details := errorDetails(err); details != nil {
		body["details"] = details
	}
	c.AbortWithStatusJSON(status, body)
}

func errorDetails(err error) gin.H {
	var stockErr *models.InsufficientStockError
	if errors.As(err, &stockErr) {
		return gin.H{
			"product_id": stockErr.ProductID,
			"requested":  stockErr.Requested,
			"available":  stockErr.Available,
		}
	}

	var transitionErr *models.TransitionError
	if errors.As(err, &transitionErr) {
		return gin.H{"from": transitionErr.From, "to": transitionErr.To}
	}

	var validationErr *models.ValidationError
	if errors.As(err, &validationErr) {
		return gin.H{"field": validationErr.Field, "reason": validationErr.Reason}
	}
	return nil
}

// badRequest reports a body that could not be bound.
func badRequest(c *gin.Context, err error) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "invalid request body",
		"code":    models.CodeValidation,
		"details": gin.H{"reason": err.Error()},
	})
}
