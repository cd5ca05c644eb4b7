// internal/handlers/admin.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opencohort/bootcamp-backend/internal/services"
	"github.com/opencohort/bootcamp-backend/internal/utils"
)

type AdminHandler struct {
	applicationService *services.ApplicationService
	reconcileService   *services.ReconcileService
}

func NewAdminHandler(applicationService *services.ApplicationService, reconcileService *services.ReconcileService) *AdminHandler {
	return &AdminHandler{
		applicationService: applicationService,
		reconcileService:   reconcileService,
	}
}

// PUT /submissions/:id/review
func (h *AdminHandler) ReviewSubmission(c *gin.Context) {
	submissionID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var req services.ReviewSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	submission, err := h.applicationService.ReviewSubmission(submissionID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, submission)
}

// POST /admin/refunds
func (h *AdminHandler) CreateRefund(c *gin.Context) {
	actingUserID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreateRefundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	order, err := h.reconcileService.ProcessRefund(actingUserID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, order)
}

// GET /admin/orders/:reference_number
func (h *AdminHandler) GetOrderByReference(c *gin.Context) {
	referenceNumber := c.Param("reference_number")

	order, err := h.reconcileService.FindNewOrderByReference(referenceNumber)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, order)
}
