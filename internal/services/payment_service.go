// internal/services/payment_service.go
package services

import (
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

// PaymentService starts a checkout: it creates the pending order and builds
// the signed form the frontend posts to the gateway's hosted checkout page.
type PaymentService struct {
	db                 *gorm.DB
	cfg                *config.Config
	orderService       *OrderService
	cyberSourceService *CyberSourceService
}

func NewPaymentService(db *gorm.DB, cfg *config.Config, orderService *OrderService, cyberSourceService *CyberSourceService) *PaymentService {
	return &PaymentService{
		db:                 db,
		cfg:                cfg,
		orderService:       orderService,
		cyberSourceService: cyberSourceService,
	}
}

type CreatePaymentRequest struct {
	ApplicationID uint    `json:"application_id" validate:"required"`
	Amount        float64 `json:"amount" validate:"required"`
}

type CreatePaymentResponse struct {
	OrderID uint              `json:"order_id"`
	URL     string            `json:"url"`
	Payload map[string]string `json:"payload"`
}

// CreatePayment creates a pending order for the application's run and returns
// the signed Secure Acceptance payload.
func (s *PaymentService) CreatePayment(userID uint, req *CreatePaymentRequest) (*CreatePaymentResponse, error) {
	var user models.User
	if err := s.db.Preload("Profile").First(&user, userID).Error; err != nil {
		return nil, err
	}

	var app models.BootcampApplication
	if err := s.db.First(&app, req.ApplicationID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("application %d not found", req.ApplicationID)
		}
		return nil, err
	}
	if app.UserID != userID {
		return nil, NewValidationError("application %d does not belong to user %d", app.ID, userID)
	}

	var run models.BootcampRun
	if err := s.db.Preload("Bootcamp").First(&run, app.BootcampRunID).Error; err != nil {
		return nil, err
	}

	var order *models.Order
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		var err error
		order, err = s.orderService.CreateUnfulfilledOrder(tx, &user, &app, &run, req.Amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	profileName := ""
	if user.Profile != nil {
		profileName = user.Profile.Name
	}

	redirectURL := s.cfg.Frontend.BaseURL + "/payments"
	payload, err := s.cyberSourceService.SAPayload(order, &run, &run.Bootcamp, &user, profileName, redirectURL)
	if err != nil {
		return nil, err
	}

	return &CreatePaymentResponse{
		OrderID: order.ID,
		URL:     s.cfg.CyberSource.SecureAcceptanceURL,
		Payload: payload,
	}, nil
}
