// internal/handlers/application.go
package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opencohort/bootcamp-backend/internal/services"
	"github.com/opencohort/bootcamp-backend/internal/utils"
)

type ApplicationHandler struct {
	applicationService *services.ApplicationService
}

func NewApplicationHandler(applicationService *services.ApplicationService) *ApplicationHandler {
	return &ApplicationHandler{
		applicationService: applicationService,
	}
}

// POST /applications
func (h *ApplicationHandler) CreateApplication(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req struct {
		BootcampRunID uint `json:"bootcamp_run_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	app, err := h.applicationService.GetOrCreateApplication(userID, req.BootcampRunID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, app)
}

// GET /applications
func (h *ApplicationHandler) ListApplications(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	apps, err := h.applicationService.ListApplications(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, apps)
}

// GET /applications/:id
func (h *ApplicationHandler) GetApplication(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	appID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	app, err := h.applicationService.GetApplication(appID)
	if err != nil {
		respondServiceError(c, err)
		return
	}
	if app.UserID != userID {
		utils.ForbiddenResponse(c, "")
		return
	}

	utils.SuccessResponse(c, app)
}

// POST /applications/:id/resume
func (h *ApplicationHandler) UploadResume(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	appID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		utils.BadRequestResponse(c, "Resume file is required", nil)
		return
	}

	app, err := h.applicationService.UploadResume(appID, userID, fileHeader)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, app)
}

// POST /applications/:id/submissions
func (h *ApplicationHandler) CreateSubmission(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	appID, ok := parseUintParam(c, "id")
	if !ok {
		return
	}

	var req services.CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	submission, err := h.applicationService.CreateSubmission(appID, userID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, submission)
}
