// internal/services/order_service.go
package services

import (
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/models"
)

// OrderService owns order creation, pricing and the audit trail. Every order
// mutation goes through SaveAndLogOrder so the before/after snapshot lands in
// the same transaction as the mutation.
type OrderService struct {
	db *gorm.DB
}

func NewOrderService(db *gorm.DB) *OrderService {
	return &OrderService{db: db}
}

// RunPrice returns the price of a run for a user: the personal price override
// when one exists, otherwise the sum of the run's installments.
func (s *OrderService) RunPrice(tx *gorm.DB, userID uint, run *models.BootcampRun) (float64, error) {
	var personal models.PersonalPrice
	err := tx.Where("bootcamp_run_id = ? AND user_id = ?", run.ID, userID).First(&personal).Error
	if err == nil {
		return personal.Price, nil
	}
	if err != gorm.ErrRecordNotFound {
		return 0, err
	}

	var total float64
	err = tx.Model(&models.Installment{}).
		Where("bootcamp_run_id = ?", run.ID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error
	return total, err
}

// TotalPaid returns the sum of fulfilled line prices a user has paid toward a
// run. Refund orders carry negative lines, so refunds subtract naturally.
func (s *OrderService) TotalPaid(tx *gorm.DB, userID uint, runKey int) (float64, error) {
	var total float64
	err := tx.Model(&models.Line{}).
		Joins("JOIN orders ON orders.id = lines.order_id").
		Where("orders.user_id = ? AND orders.status = ? AND lines.run_key = ?",
			userID, models.OrderStatusFulfilled, runKey).
		Select("COALESCE(SUM(lines.price), 0)").
		Scan(&total).Error
	return total, err
}

// CreateUnfulfilledOrder creates a pending payment order for an application's
// run. The application must be awaiting payment.
func (s *OrderService) CreateUnfulfilledOrder(tx *gorm.DB, user *models.User, app *models.BootcampApplication, run *models.BootcampRun, amount float64) (*models.Order, error) {
	if amount <= 0 {
		return nil, NewValidationError("Payment is less than or equal to zero")
	}
	if app.State != models.AppStateAwaitingPayment {
		return nil, NewInvalidApplicationStateError(
			"Cannot create a payment order in state %s", app.State)
	}

	appID := app.ID
	order := &models.Order{
		UserID:         user.ID,
		ApplicationID:  &appID,
		Status:         models.OrderStatusCreated,
		TotalPricePaid: amount,
	}

	if err := tx.Create(order).Error; err != nil {
		return nil, err
	}

	line := &models.Line{
		OrderID:     order.ID,
		RunKey:      run.RunKey,
		Price:       amount,
		Description: "Installment for " + run.Title,
	}
	if err := tx.Create(line).Error; err != nil {
		return nil, err
	}
	order.Lines = []models.Line{*line}

	if err := s.LogOrder(tx, order, &user.ID, nil); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"order_id": order.ID,
		"user_id":  user.ID,
		"run_key":  run.RunKey,
		"amount":   amount,
	}).Info("created unfulfilled order")

	return order, nil
}

// orderToDict flattens an order into the audit snapshot shape.
func orderToDict(order *models.Order) models.JSONB {
	if order == nil {
		return nil
	}

	lines := make([]interface{}, 0, len(order.Lines))
	for _, line := range order.Lines {
		lines = append(lines, map[string]interface{}{
			"id":          line.ID,
			"run_key":     line.RunKey,
			"price":       line.Price,
			"description": line.Description,
		})
	}

	dict := models.JSONB{
		"id":               order.ID,
		"user_id":          order.UserID,
		"status":           string(order.Status),
		"total_price_paid": order.TotalPricePaid,
		"lines":            lines,
	}
	if order.ApplicationID != nil {
		dict["application_id"] = *order.ApplicationID
	}
	return dict
}

// LogOrder appends an audit row for an order mutation. dataBefore is nil for
// creations.
func (s *OrderService) LogOrder(tx *gorm.DB, order *models.Order, actingUserID *uint, dataBefore models.JSONB) error {
	orderID := order.ID
	audit := &models.OrderAudit{
		OrderID:      &orderID,
		ActingUserID: actingUserID,
		DataBefore:   dataBefore,
		DataAfter:    orderToDict(order),
	}
	return tx.Create(audit).Error
}

// UpdateOrderStatus moves an order to a new status with an audit snapshot.
// Callers hold the row lock.
func (s *OrderService) UpdateOrderStatus(tx *gorm.DB, order *models.Order, status models.OrderStatus, actingUserID *uint) error {
	before := orderToDict(order)
	order.Status = status
	if err := tx.Model(order).Update("status", status).Error; err != nil {
		return err
	}
	return s.LogOrder(tx, order, actingUserID, before)
}

// GetOrderWithLines loads an order and its lines.
func (s *OrderService) GetOrderWithLines(tx *gorm.DB, orderID uint) (*models.Order, error) {
	var order models.Order
	if err := tx.Preload("Lines").First(&order, orderID).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

// RunStatement summarizes a user's payments toward one run: totals, the
// fulfilled payment lines behind them, and the run's installment schedule.
type RunStatement struct {
	RunKey       int                  `json:"run_key"`
	RunTitle     string               `json:"run_title"`
	Price        float64              `json:"price"`
	TotalPaid    float64              `json:"total_paid"`
	Balance      float64              `json:"balance"`
	LastPayment  *time.Time           `json:"last_payment,omitempty"`
	Lines        []models.Line        `json:"lines"`
	Installments []models.Installment `json:"installments"`
}

// buildRunStatement assembles the statement for one run.
func (s *OrderService) buildRunStatement(userID uint, run *models.BootcampRun) (*RunStatement, error) {
	price, err := s.RunPrice(s.db, userID, run)
	if err != nil {
		return nil, err
	}
	paid, err := s.TotalPaid(s.db, userID, run.RunKey)
	if err != nil {
		return nil, err
	}

	statement := &RunStatement{
		RunKey:    run.RunKey,
		RunTitle:  run.Title,
		Price:     price,
		TotalPaid: paid,
		Balance:   price - paid,
	}

	if err := s.db.Model(&models.Line{}).
		Joins("JOIN orders ON orders.id = lines.order_id").
		Where("orders.user_id = ? AND orders.status = ? AND lines.run_key = ?",
			userID, models.OrderStatusFulfilled, run.RunKey).
		Order("lines.id").
		Find(&statement.Lines).Error; err != nil {
		return nil, err
	}

	if err := s.db.
		Where("bootcamp_run_id = ?", run.ID).
		Order("deadline").
		Find(&statement.Installments).Error; err != nil {
		return nil, err
	}

	var lastOrder models.Order
	err = s.db.
		Joins("JOIN lines ON lines.order_id = orders.id").
		Where("orders.user_id = ? AND orders.status = ? AND lines.run_key = ?",
			userID, models.OrderStatusFulfilled, run.RunKey).
		Order("orders.updated_at DESC").
		First(&lastOrder).Error
	if err == nil {
		statement.LastPayment = &lastOrder.UpdatedAt
	} else if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	return statement, nil
}

// RunStatements returns one statement per run the user holds an application
// or a fulfilled payment for.
func (s *OrderService) RunStatements(userID uint) ([]RunStatement, error) {
	var runIDs []uint
	if err := s.db.Model(&models.BootcampApplication{}).
		Where("user_id = ?", userID).
		Distinct().Pluck("bootcamp_run_id", &runIDs).Error; err != nil {
		return nil, err
	}

	statements := make([]RunStatement, 0, len(runIDs))
	for _, runID := range runIDs {
		var run models.BootcampRun
		if err := s.db.First(&run, runID).Error; err != nil {
			return nil, err
		}

		statement, err := s.buildRunStatement(userID, &run)
		if err != nil {
			return nil, err
		}
		statements = append(statements, *statement)
	}

	return statements, nil
}

// RunStatementByKey returns the statement for a single run key.
func (s *OrderService) RunStatementByKey(userID uint, runKey int) (*RunStatement, error) {
	var run models.BootcampRun
	if err := s.db.Where("run_key = ?", runKey).First(&run).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("bootcamp run with key %d not found", runKey)
		}
		return nil, err
	}

	return s.buildRunStatement(userID, &run)
}
