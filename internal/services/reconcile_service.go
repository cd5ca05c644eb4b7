// internal/services/reconcile_service.go
package services

import (
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

// CyberSource callback decisions we act on.
const (
	DecisionAccept = "ACCEPT"
	DecisionCancel = "CANCEL"
)

// ReconcileService turns gateway callbacks and admin refund requests into
// order, enrollment and application mutations. Every mutation of an order
// happens under a row lock inside one transaction, next to its audit row.
type ReconcileService struct {
	db                  *gorm.DB
	orderService        *OrderService
	applicationService  *ApplicationService
	cyberSourceService  *CyberSourceService
	notificationService *NotificationService
}

func NewReconcileService(
	db *gorm.DB,
	orderService *OrderService,
	applicationService *ApplicationService,
	cyberSourceService *CyberSourceService,
	notificationService *NotificationService,
) *ReconcileService {
	return &ReconcileService{
		db:                  db,
		orderService:        orderService,
		applicationService:  applicationService,
		cyberSourceService:  cyberSourceService,
		notificationService: notificationService,
	}
}

// ProcessFulfillment handles one CyberSource Secure Acceptance callback. The
// raw parameters are persisted as a Receipt before any interpretation, so a
// processing failure never loses the gateway's message.
func (s *ReconcileService) ProcessFulfillment(params map[string]string) error {
	data := make(models.JSONB, len(params))
	for k, v := range params {
		data[k] = v
	}
	receipt := &models.Receipt{Data: data}
	if err := s.db.Create(receipt).Error; err != nil {
		return err
	}

	referenceNumber := params["req_reference_number"]
	orderID, err := s.cyberSourceService.ParseReferenceNumber(referenceNumber)
	if err != nil {
		return err
	}

	decision := params["decision"]
	var fulfilledOrder *models.Order

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		var order models.Order
		if err := database.ForUpdate(tx).
			Preload("Lines").
			First(&order, orderID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return NewEcommerceError("Unable to find order %d", orderID)
			}
			return err
		}

		if err := tx.Model(receipt).Update("order_id", order.ID).Error; err != nil {
			return err
		}

		if order.Status == models.OrderStatusFailed && decision == DecisionCancel {
			// CyberSource resends cancellations; the first one already
			// failed the order.
			logrus.WithField("order_id", order.ID).
				Warn("ignoring duplicate cancellation for failed order")
			return nil
		}

		if order.Status != models.OrderStatusCreated {
			return NewEcommerceError("Order %d is expected to have status 'created'", order.ID)
		}

		if decision != DecisionAccept {
			return s.handleRejectedOrder(tx, &order, decision)
		}

		if err := s.completeSuccessfulOrder(tx, &order); err != nil {
			return err
		}
		fulfilledOrder = &order
		return nil
	})
	if err != nil {
		return err
	}

	if fulfilledOrder != nil {
		if err := s.notificationService.SendReceiptEmail(fulfilledOrder); err != nil {
			logrus.WithError(err).WithField("order_id", fulfilledOrder.ID).
				Error("failed to send receipt email")
		}
	}

	return nil
}

// handleRejectedOrder fails an order the gateway declined or the user
// cancelled.
func (s *ReconcileService) handleRejectedOrder(tx *gorm.DB, order *models.Order, decision string) error {
	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"decision": decision,
	}).Warn("order fulfillment failed")

	return s.orderService.UpdateOrderStatus(tx, order, models.OrderStatusFailed, nil)
}

// completeSuccessfulOrder fulfills an accepted order: status change with
// audit, enrollment activation, and application state re-derivation.
func (s *ReconcileService) completeSuccessfulOrder(tx *gorm.DB, order *models.Order) error {
	if err := s.orderService.UpdateOrderStatus(tx, order, models.OrderStatusFulfilled, nil); err != nil {
		return err
	}

	for _, line := range order.Lines {
		var run models.BootcampRun
		if err := tx.Where("run_key = ?", line.RunKey).First(&run).Error; err != nil {
			return err
		}
		if err := s.activateEnrollment(tx, order.UserID, run.ID); err != nil {
			return err
		}
	}

	if order.ApplicationID != nil {
		var app models.BootcampApplication
		if err := tx.First(&app, *order.ApplicationID).Error; err != nil {
			return err
		}
		if err := s.applicationService.RefreshState(tx, &app); err != nil {
			return err
		}
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  order.UserID,
	}).Info("order fulfilled")

	return nil
}

// activateEnrollment creates the enrollment or reactivates a previously
// deactivated one.
func (s *ReconcileService) activateEnrollment(tx *gorm.DB, userID uint, runID uint) error {
	var enrollment models.BootcampRunEnrollment
	err := tx.Where("user_id = ? AND bootcamp_run_id = ?", userID, runID).First(&enrollment).Error
	switch {
	case err == gorm.ErrRecordNotFound:
		enrollment = models.BootcampRunEnrollment{
			UserID:        userID,
			BootcampRunID: runID,
			Active:        true,
		}
		return tx.Create(&enrollment).Error
	case err != nil:
		return err
	}

	if enrollment.Active {
		return nil
	}

	return tx.Model(&enrollment).Updates(map[string]interface{}{
		"active":        true,
		"change_status": nil,
	}).Error
}

// deactivateEnrollment marks a refunded learner's seat inactive.
func (s *ReconcileService) deactivateEnrollment(tx *gorm.DB, userID uint, runID uint) error {
	var enrollment models.BootcampRunEnrollment
	err := tx.Where("user_id = ? AND bootcamp_run_id = ?", userID, runID).First(&enrollment).Error
	if err == gorm.ErrRecordNotFound {
		return nil
	}
	if err != nil {
		return err
	}

	return tx.Model(&enrollment).Updates(map[string]interface{}{
		"active":        false,
		"change_status": models.EnrollChangeStatusRefunded,
	}).Error
}

// FindNewOrderByReference resolves a reference number for admin inspection.
// Only orders still awaiting fulfillment resolve.
func (s *ReconcileService) FindNewOrderByReference(referenceNumber string) (*models.Order, error) {
	var order *models.Order
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		var err error
		order, err = s.cyberSourceService.GetNewOrderByReferenceNumber(tx, referenceNumber)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateRefundRequest is the admin payload for refunding payments a user has
// made toward a run.
type CreateRefundRequest struct {
	UserID uint    `json:"user_id" validate:"required"`
	RunKey int     `json:"run_key" validate:"required,run_key"`
	Amount float64 `json:"amount" validate:"required"`
}

// ProcessRefund records a refund as a fulfilled order with a negative total,
// deactivates the enrollment, and moves a completed application to REFUNDED.
// The refund never exceeds what the user has actually paid for the run.
func (s *ReconcileService) ProcessRefund(actingUserID uint, req *CreateRefundRequest) (*models.Order, error) {
	if req.Amount <= 0 {
		return nil, NewEcommerceError("Amount to refund must be greater than zero")
	}

	var user models.User
	if err := s.db.First(&user, req.UserID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("user %d not found", req.UserID)
		}
		return nil, err
	}

	var run models.BootcampRun
	if err := s.db.Where("run_key = ?", req.RunKey).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("bootcamp run with key %d not found", req.RunKey)
		}
		return nil, err
	}

	var order *models.Order
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		// One refund writer per (user, run) at a time. The ceiling check reads
		// a SUM over order lines, and a row lock on existing lines cannot
		// exclude the row a concurrent refund is about to insert.
		if err := database.AdvisoryLock(tx, user.ID, uint(run.RunKey)); err != nil {
			return err
		}

		var app *models.BootcampApplication
		var existing models.BootcampApplication
		err := database.ForUpdate(tx).
			Where("user_id = ? AND bootcamp_run_id = ?", user.ID, run.ID).
			First(&existing).Error
		switch {
		case err == nil:
			app = &existing
		case err != gorm.ErrRecordNotFound:
			return err
		}

		totalPaid, err := s.orderService.TotalPaid(tx, user.ID, run.RunKey)
		if err != nil {
			return err
		}
		if req.Amount > totalPaid {
			return NewEcommerceError("Refund exceeds total payment of $%.2f", totalPaid)
		}

		order = &models.Order{
			UserID:         user.ID,
			Status:         models.OrderStatusFulfilled,
			TotalPricePaid: -req.Amount,
		}
		if app != nil {
			appID := app.ID
			order.ApplicationID = &appID
		}
		if err := tx.Create(order).Error; err != nil {
			return err
		}

		line := &models.Line{
			OrderID:     order.ID,
			RunKey:      run.RunKey,
			Price:       -req.Amount,
			Description: "Refund for " + run.Title,
		}
		if err := tx.Create(line).Error; err != nil {
			return err
		}
		order.Lines = []models.Line{*line}

		if err := s.orderService.LogOrder(tx, order, &actingUserID, nil); err != nil {
			return err
		}

		if err := s.deactivateEnrollment(tx, user.ID, run.ID); err != nil {
			return err
		}

		if app == nil {
			return nil
		}
		if app.State == models.AppStateComplete {
			return s.applicationService.MarkRefunded(tx, app)
		}
		return s.applicationService.RefreshState(tx, app)
	})
	if err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id":       order.ID,
		"user_id":        user.ID,
		"run_key":        run.RunKey,
		"amount":         req.Amount,
		"acting_user_id": actingUserID,
	}).Info("refund order created")

	return order, nil
}
