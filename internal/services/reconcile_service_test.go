// internal/services/reconcile_service_test.go
package services

import (
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

type ReconcileTestSuite struct {
	suite.Suite
	db                 *gorm.DB
	orderService       *OrderService
	applicationService *ApplicationService
	cyberSource        *CyberSourceService
	reconcile          *ReconcileService

	user *models.User
	run  *models.BootcampRun
}

func (s *ReconcileTestSuite) SetupTest() {
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(s.T(), err)

	require.NoError(s.T(), db.AutoMigrate(
		&models.User{},
		&models.Profile{},
		&models.Bootcamp{},
		&models.BootcampRun{},
		&models.Installment{},
		&models.PersonalPrice{},
		&models.BootcampRunEnrollment{},
		&models.ApplicationStep{},
		&models.BootcampRunApplicationStep{},
		&models.BootcampApplication{},
		&models.ApplicationStepSubmission{},
		&models.Order{},
		&models.Line{},
		&models.OrderAudit{},
		&models.Receipt{},
	))

	cfg := &config.Config{}
	s.db = db
	s.orderService = NewOrderService(db)
	s.applicationService = NewApplicationService(db, s.orderService, nil, nil)
	s.cyberSource = NewCyberSourceService(config.CyberSourceConfig{
		SecurityKey:     "security",
		ReferencePrefix: "prefix",
	})
	s.reconcile = NewReconcileService(db, s.orderService, s.applicationService,
		s.cyberSource, NewNotificationService(db, cfg))

	// One learner with a complete profile applying to a $100 run.
	s.user = &models.User{Username: "learner1", Email: "learner@example.com", PasswordHash: "x"}
	require.NoError(s.T(), db.Create(s.user).Error)
	require.NoError(s.T(), db.Create(&models.Profile{UserID: s.user.ID, Name: "Jane Doe"}).Error)

	bootcamp := &models.Bootcamp{Title: "Example Bootcamp"}
	require.NoError(s.T(), db.Create(bootcamp).Error)
	s.run = &models.BootcampRun{BootcampID: bootcamp.ID, Title: "Example Run", RunKey: 77}
	require.NoError(s.T(), db.Create(s.run).Error)
	require.NoError(s.T(), db.Create(&models.Installment{
		BootcampRunID: s.run.ID,
		Deadline:      time.Now().Add(24 * time.Hour),
		Amount:        100,
	}).Error)
}

func (s *ReconcileTestSuite) createApplication(state models.AppState) *models.BootcampApplication {
	app := &models.BootcampApplication{
		UserID:        s.user.ID,
		BootcampRunID: s.run.ID,
		ResumeKey:     "resumes/1/resume.pdf",
		State:         state,
	}
	require.NoError(s.T(), s.db.Create(app).Error)
	return app
}

func (s *ReconcileTestSuite) createOrder(app *models.BootcampApplication, amount float64) *models.Order {
	var order *models.Order
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		var err error
		order, err = s.orderService.CreateUnfulfilledOrder(tx, s.user, app, s.run, amount)
		return err
	})
	require.NoError(s.T(), err)
	return order
}

func (s *ReconcileTestSuite) fulfillParams(order *models.Order, decision string) map[string]string {
	return map[string]string{
		"req_reference_number": s.cyberSource.MakeReferenceID(order.ID),
		"decision":             decision,
	}
}

func (s *ReconcileTestSuite) TestAcceptedCallbackFulfillsOrder() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 100)

	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	var reloaded models.Order
	require.NoError(s.T(), s.db.First(&reloaded, order.ID).Error)
	s.Equal(models.OrderStatusFulfilled, reloaded.Status)

	// Fully paid, so the application completes.
	var reloadedApp models.BootcampApplication
	require.NoError(s.T(), s.db.First(&reloadedApp, app.ID).Error)
	s.Equal(models.AppStateComplete, reloadedApp.State)

	var enrollment models.BootcampRunEnrollment
	require.NoError(s.T(), s.db.
		Where("user_id = ? AND bootcamp_run_id = ?", s.user.ID, s.run.ID).
		First(&enrollment).Error)
	s.True(enrollment.Active)

	var receiptCount int64
	s.db.Model(&models.Receipt{}).Where("order_id = ?", order.ID).Count(&receiptCount)
	s.Equal(int64(1), receiptCount)

	// One audit row for creation, one for fulfillment.
	var auditCount int64
	s.db.Model(&models.OrderAudit{}).Where("order_id = ?", order.ID).Count(&auditCount)
	s.Equal(int64(2), auditCount)
}

func (s *ReconcileTestSuite) TestPartialPaymentLeavesApplicationAwaitingPayment() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 40)

	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	var reloadedApp models.BootcampApplication
	require.NoError(s.T(), s.db.First(&reloadedApp, app.ID).Error)
	s.Equal(models.AppStateAwaitingPayment, reloadedApp.State)

	paid, err := s.orderService.TotalPaid(s.db, s.user.ID, s.run.RunKey)
	require.NoError(s.T(), err)
	s.Equal(40.0, paid)
}

func (s *ReconcileTestSuite) TestCancelledCallbackFailsOrderOnce() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 100)

	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionCancel)))

	var reloaded models.Order
	require.NoError(s.T(), s.db.First(&reloaded, order.ID).Error)
	s.Equal(models.OrderStatusFailed, reloaded.Status)

	var auditsBefore int64
	s.db.Model(&models.OrderAudit{}).Where("order_id = ?", order.ID).Count(&auditsBefore)

	// CyberSource resends cancellations; the duplicate is absorbed.
	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionCancel)))
	require.NoError(s.T(), s.db.First(&reloaded, order.ID).Error)
	s.Equal(models.OrderStatusFailed, reloaded.Status)

	// Absorbing means no mutation, so no new audit row either.
	var auditsAfter int64
	s.db.Model(&models.OrderAudit{}).Where("order_id = ?", order.ID).Count(&auditsAfter)
	s.Equal(auditsBefore, auditsAfter)

	// An accept for an already-failed order is not absorbable.
	err := s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept))
	require.Error(s.T(), err)
	var ecommerceErr *EcommerceError
	require.ErrorAs(s.T(), err, &ecommerceErr)
	s.Equal(fmt.Sprintf("Order %d is expected to have status 'created'", order.ID), ecommerceErr.Message)
}

func (s *ReconcileTestSuite) TestMalformedReferenceNumberIsRejected() {
	err := s.reconcile.ProcessFulfillment(map[string]string{
		"req_reference_number": "XYZ-1-3",
		"decision":             DecisionAccept,
	})
	require.Error(s.T(), err)
	var parseErr *ParseError
	require.ErrorAs(s.T(), err, &parseErr)

	// The raw callback is still on record.
	var receiptCount int64
	s.db.Model(&models.Receipt{}).Count(&receiptCount)
	s.Equal(int64(1), receiptCount)
}

func (s *ReconcileTestSuite) TestReferenceLookupHidesSettledOrders() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 100)
	reference := s.cyberSource.MakeReferenceID(order.ID)

	// Before fulfillment the reference resolves.
	found, err := s.reconcile.FindNewOrderByReference(reference)
	require.NoError(s.T(), err)
	s.Equal(order.ID, found.ID)

	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	// Afterwards the lookup answers exactly as it would for an unknown order,
	// revealing nothing about what became of a settled one.
	_, err = s.reconcile.FindNewOrderByReference(reference)
	require.Error(s.T(), err)
	var ecommerceErr *EcommerceError
	require.ErrorAs(s.T(), err, &ecommerceErr)
	s.Equal(fmt.Sprintf("Unable to find order %d", order.ID), ecommerceErr.Message)
}

func (s *ReconcileTestSuite) TestRunStatementListsLinesAndInstallments() {
	// A second installment with an earlier deadline than the seeded one.
	require.NoError(s.T(), s.db.Create(&models.Installment{
		BootcampRunID: s.run.ID,
		Deadline:      time.Now().Add(-24 * time.Hour),
		Amount:        40,
	}).Error)

	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 40)
	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	statement, err := s.orderService.RunStatementByKey(s.user.ID, s.run.RunKey)
	require.NoError(s.T(), err)

	s.Equal(140.0, statement.Price)
	s.Equal(40.0, statement.TotalPaid)
	s.Equal(100.0, statement.Balance)

	require.Len(s.T(), statement.Lines, 1)
	s.Equal("Installment for Example Run", statement.Lines[0].Description)
	s.Equal(40.0, statement.Lines[0].Price)

	require.Len(s.T(), statement.Installments, 2)
	s.Equal(40.0, statement.Installments[0].Amount)
	s.Equal(100.0, statement.Installments[1].Amount)
	s.True(statement.Installments[0].Deadline.Before(statement.Installments[1].Deadline))
}

func (s *ReconcileTestSuite) TestRefundValidation() {
	_, err := s.reconcile.ProcessRefund(s.user.ID, &CreateRefundRequest{
		UserID: s.user.ID,
		RunKey: s.run.RunKey,
		Amount: 0,
	})
	require.Error(s.T(), err)
	s.Equal("Amount to refund must be greater than zero", err.Error())
}

func (s *ReconcileTestSuite) TestRefundNeverExceedsTotalPaid() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 30)
	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	refund := func(amount float64) error {
		_, err := s.reconcile.ProcessRefund(s.user.ID, &CreateRefundRequest{
			UserID: s.user.ID,
			RunKey: s.run.RunKey,
			Amount: amount,
		})
		return err
	}

	err := refund(45.50)
	require.Error(s.T(), err)
	s.Equal("Refund exceeds total payment of $30.00", err.Error())

	require.NoError(s.T(), refund(11))
	require.NoError(s.T(), refund(11))

	// $8 remains; another $11 does not fit.
	err = refund(11)
	require.Error(s.T(), err)
	s.Equal("Refund exceeds total payment of $8.00", err.Error())

	paid, err := s.orderService.TotalPaid(s.db, s.user.ID, s.run.RunKey)
	require.NoError(s.T(), err)
	s.InDelta(8.0, paid, 0.001)
}

func (s *ReconcileTestSuite) TestRefundMovesCompletedApplicationToRefunded() {
	app := s.createApplication(models.AppStateAwaitingPayment)
	order := s.createOrder(app, 100)
	require.NoError(s.T(), s.reconcile.ProcessFulfillment(s.fulfillParams(order, DecisionAccept)))

	var reloadedApp models.BootcampApplication
	require.NoError(s.T(), s.db.First(&reloadedApp, app.ID).Error)
	require.Equal(s.T(), models.AppStateComplete, reloadedApp.State)

	refundOrder, err := s.reconcile.ProcessRefund(s.user.ID, &CreateRefundRequest{
		UserID: s.user.ID,
		RunKey: s.run.RunKey,
		Amount: 100,
	})
	require.NoError(s.T(), err)
	s.Equal(models.OrderStatusFulfilled, refundOrder.Status)
	s.Equal(-100.0, refundOrder.TotalPricePaid)
	require.NotNil(s.T(), refundOrder.ApplicationID)
	s.Equal(app.ID, *refundOrder.ApplicationID)

	require.NoError(s.T(), s.db.First(&reloadedApp, app.ID).Error)
	s.Equal(models.AppStateRefunded, reloadedApp.State)

	var enrollment models.BootcampRunEnrollment
	require.NoError(s.T(), s.db.
		Where("user_id = ? AND bootcamp_run_id = ?", s.user.ID, s.run.ID).
		First(&enrollment).Error)
	s.False(enrollment.Active)
	require.NotNil(s.T(), enrollment.ChangeStatus)
	s.Equal(models.EnrollChangeStatusRefunded, *enrollment.ChangeStatus)

	paid, err := s.orderService.TotalPaid(s.db, s.user.ID, s.run.RunKey)
	require.NoError(s.T(), err)
	s.InDelta(0.0, paid, 0.001)

	// The refund never reopens the application; terminal states stick.
	require.NoError(s.T(), database.WithTransaction(s.db, func(tx *gorm.DB) error {
		return s.applicationService.RefreshState(tx, &reloadedApp)
	}))
	require.NoError(s.T(), s.db.First(&reloadedApp, app.ID).Error)
	s.Equal(models.AppStateRefunded, reloadedApp.State)
}

func TestReconcileTestSuite(t *testing.T) {
	suite.Run(t, new(ReconcileTestSuite))
}
