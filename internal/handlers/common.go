// internal/handlers/common.go
package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opencohort/bootcamp-backend/internal/services"
	"github.com/opencohort/bootcamp-backend/internal/utils"
)

// respondServiceError maps service error kinds onto HTTP statuses.
func respondServiceError(c *gin.Context, err error) {
	var validationErr *services.ValidationError
	var parseErr *services.ParseError
	var stateErr *services.InvalidApplicationStateError
	var ecommerceErr *services.EcommerceError

	switch {
	case errors.As(err, &validationErr):
		utils.BadRequestResponse(c, validationErr.Message, nil)
	case errors.As(err, &parseErr):
		utils.BadRequestResponse(c, parseErr.Message, nil)
	case errors.As(err, &stateErr):
		utils.ErrorResponse(c, http.StatusConflict, "INVALID_STATE", stateErr.Message, nil)
	case errors.As(err, &ecommerceErr):
		utils.ErrorResponse(c, http.StatusConflict, "RECONCILIATION_ERROR", ecommerceErr.Message, nil)
	default:
		utils.InternalErrorResponse(c, "")
	}
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	value, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid "+name, nil)
		return 0, false
	}
	return uint(value), true
}
