// internal/router/router.go
package router

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/handlers"
	"github.com/opencohort/bootcamp-backend/internal/middleware"
	"github.com/opencohort/bootcamp-backend/internal/services"
	"github.com/opencohort/bootcamp-backend/internal/utils"
)

func Initialize(db *gorm.DB, cfg *config.Config) (*gin.Engine, error) {
	// Initialize services
	notificationService := services.NewNotificationService(db, cfg)
	storageService, err := services.NewStorageService(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage service: %w", err)
	}
	cyberSourceService := services.NewCyberSourceService(cfg.CyberSource)

	orderService := services.NewOrderService(db)
	applicationService := services.NewApplicationService(db, orderService, storageService, notificationService)
	userService := services.NewUserService(db, applicationService)
	authService := services.NewAuthService(db, cfg)
	paymentService := services.NewPaymentService(db, cfg, orderService, cyberSourceService)
	reconcileService := services.NewReconcileService(db, orderService, applicationService, cyberSourceService, notificationService)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService, userService)
	applicationHandler := handlers.NewApplicationHandler(applicationService)
	paymentHandler := handlers.NewPaymentHandler(paymentService, orderService, reconcileService)
	adminHandler := handlers.NewAdminHandler(applicationService, reconcileService)

	// Set JWT secret
	utils.SetJWTSecret(cfg.JWT.SecretKey)

	// Initialize Gin router
	r := gin.New()

	// Global middleware
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger())
	r.Use(middleware.CORS(cfg))
	r.Use(middleware.GeneralRateLimit())

	// Health check
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"version": "1.0.0",
		})
	})

	// API v1 routes
	v1 := r.Group("/v1")
	{
		// Authentication routes
		auth := v1.Group("/auth")
		auth.Use(middleware.AuthRateLimit())
		{
			auth.POST("/register", authHandler.Register)
			auth.POST("/login", authHandler.Login)
			auth.POST("/refresh", authHandler.RefreshToken)
		}

		// User routes
		users := v1.Group("/users")
		users.Use(middleware.AuthRequired())
		{
			users.GET("/me", authHandler.GetMe)
			users.PUT("/me/profile", authHandler.UpdateProfile)
		}

		// Application routes
		applications := v1.Group("/applications")
		applications.Use(middleware.AuthRequired())
		{
			applications.POST("", applicationHandler.CreateApplication)
			applications.GET("", applicationHandler.ListApplications)
			applications.GET("/:id", applicationHandler.GetApplication)
			applications.POST("/:id/resume", middleware.UploadRateLimit(), applicationHandler.UploadResume)
			applications.POST("/:id/submissions", applicationHandler.CreateSubmission)
		}

		// Submission review (admin)
		submissions := v1.Group("/submissions")
		submissions.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			submissions.PUT("/:id/review", adminHandler.ReviewSubmission)
		}

		// Payment routes
		payments := v1.Group("/payments")
		{
			// Gateway callback; authenticated by its HMAC signature, not a JWT.
			payments.POST("/fulfill",
				middleware.WebhookRateLimit(),
				middleware.CyberSourceSignatureRequired(cyberSourceService),
				paymentHandler.Fulfill)

			protected := payments.Group("")
			protected.Use(middleware.AuthRequired())
			{
				protected.POST("", paymentHandler.CreatePayment)
				protected.GET("/runs", paymentHandler.ListRunStatements)
				protected.GET("/runs/:run_key", paymentHandler.GetRunStatement)
			}
		}

		// Admin routes
		admin := v1.Group("/admin")
		admin.Use(middleware.AuthRequired(), middleware.AdminRequired())
		{
			admin.POST("/refunds", middleware.RefundRateLimit(), adminHandler.CreateRefund)
			admin.GET("/orders/:reference_number", adminHandler.GetOrderByReference)
		}
	}

	return r, nil
}
