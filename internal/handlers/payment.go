// internal/handlers/payment.go
package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/opencohort/bootcamp-backend/internal/middleware"
	"github.com/opencohort/bootcamp-backend/internal/services"
	"github.com/opencohort/bootcamp-backend/internal/utils"
)

type PaymentHandler struct {
	paymentService   *services.PaymentService
	orderService     *services.OrderService
	reconcileService *services.ReconcileService
}

func NewPaymentHandler(paymentService *services.PaymentService, orderService *services.OrderService, reconcileService *services.ReconcileService) *PaymentHandler {
	return &PaymentHandler{
		paymentService:   paymentService,
		orderService:     orderService,
		reconcileService: reconcileService,
	}
}

// POST /payments
func (h *PaymentHandler) CreatePayment(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	var req services.CreatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid input", err.Error())
		return
	}

	if validationErrors := utils.GetValidationErrors(utils.ValidateStruct(&req)); len(validationErrors) > 0 {
		utils.ValidationErrorResponse(c, validationErrors)
		return
	}

	resp, err := h.paymentService.CreatePayment(userID, &req)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.CreatedResponse(c, resp)
}

// POST /payments/fulfill
//
// CyberSource posts the checkout result here. The signature middleware has
// already authenticated the message; an error response makes CyberSource
// retry, so only reconciliation failures return one.
func (h *PaymentHandler) Fulfill(c *gin.Context) {
	value, exists := c.Get(middleware.CyberSourceCallbackParams)
	if !exists {
		utils.BadRequestResponse(c, "Missing callback parameters", nil)
		return
	}
	params, ok := value.(map[string]string)
	if !ok {
		utils.BadRequestResponse(c, "Missing callback parameters", nil)
		return
	}

	if err := h.reconcileService.ProcessFulfillment(params); err != nil {
		logrus.WithError(err).Error("failed to process fulfillment callback")
		utils.InternalErrorResponse(c, "")
		return
	}

	c.Status(http.StatusOK)
}

// GET /payments/runs
func (h *PaymentHandler) ListRunStatements(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	statements, err := h.orderService.RunStatements(userID)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, statements)
}

// GET /payments/runs/:run_key
func (h *PaymentHandler) GetRunStatement(c *gin.Context) {
	userID, ok := utils.GetUserIDFromContext(c)
	if !ok {
		utils.UnauthorizedResponse(c, "")
		return
	}

	runKey, err := strconv.Atoi(c.Param("run_key"))
	if err != nil {
		utils.BadRequestResponse(c, "Invalid run_key", nil)
		return
	}

	statement, err := h.orderService.RunStatementByKey(userID, runKey)
	if err != nil {
		respondServiceError(c, err)
		return
	}

	utils.SuccessResponse(c, statement)
}
