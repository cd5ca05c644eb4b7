// internal/database/connection.go
package database

import (
	"fmt"
	"log"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

var DB *gorm.DB

func Initialize(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var err error
	var gormConfig *gorm.Config

	// Configure GORM logger
	if cfg.LogLevel == "silent" {
		gormConfig = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Silent),
			TranslateError: true,
		}
	} else {
		gormConfig = &gorm.Config{
			Logger:         logger.Default.LogMode(logger.Info),
			TranslateError: true,
		}
	}

	// Connect to database
	DB, err = gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Get underlying sql.DB
	sqlDB, err := DB.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.MaxLifetime) * time.Second)

	// Test connection
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("Database connection established successfully")
	return DB, nil
}

func Close(db *gorm.DB) {
	sqlDB, err := db.DB()
	if err != nil {
		log.Printf("Error getting underlying sql.DB: %v", err)
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Printf("Error closing database connection: %v", err)
	} else {
		log.Println("Database connection closed successfully")
	}
}

func RunMigrations(db *gorm.DB) error {
	log.Println("Running database migrations...")

	err := db.AutoMigrate(
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
	)

	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Create indexes
	if err := createIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	log.Println("Database migrations completed successfully")
	return nil
}

func createIndexes(db *gorm.DB) error {
	indexes := []string{
		// User indexes
		"CREATE INDEX IF NOT EXISTS idx_users_email ON users(email)",
		"CREATE INDEX IF NOT EXISTS idx_users_username ON users(username)",

		// Application indexes
		"CREATE INDEX IF NOT EXISTS idx_applications_user ON bootcamp_applications(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_applications_run_state ON bootcamp_applications(bootcamp_run_id, state)",
		"CREATE INDEX IF NOT EXISTS idx_submissions_application ON application_step_submissions(bootcamp_application_id)",
		"CREATE INDEX IF NOT EXISTS idx_submissions_review ON application_step_submissions(review_status, review_status_date)",

		// Order indexes
		"CREATE INDEX IF NOT EXISTS idx_orders_user_status ON orders(user_id, status)",
		"CREATE INDEX IF NOT EXISTS idx_lines_order ON lines(order_id)",
		"CREATE INDEX IF NOT EXISTS idx_lines_run_key ON lines(run_key)",
		"CREATE INDEX IF NOT EXISTS idx_order_audits_order ON order_audits(order_id, created_at DESC)",
		"CREATE INDEX IF NOT EXISTS idx_receipts_order ON receipts(order_id)",

		// Enrollment indexes
		"CREATE INDEX IF NOT EXISTS idx_enrollments_run_active ON bootcamp_run_enrollments(bootcamp_run_id, active)",
	}

	for _, index := range indexes {
		if err := db.Exec(index).Error; err != nil {
			log.Printf("Warning: Failed to create index: %s, Error: %v", index, err)
			// Continue with other indexes instead of failing completely
		}
	}

	return nil
}

// Seed initial data
func SeedInitialData(db *gorm.DB) error {
	log.Println("Seeding initial data...")

	// Create default admin user
	var adminCount int64
	db.Model(&models.User{}).Where("user_type = ?", models.UserTypeAdmin).Count(&adminCount)

	if adminCount == 0 {
		admin := &models.User{
			Username: "admin",
			Email:    "admin@bootcamp.example.com",
			UserType: models.UserTypeAdmin,
		}

		if err := admin.SetPassword("admin123!@#"); err != nil {
			return fmt.Errorf("failed to set admin password: %w", err)
		}

		if err := db.Create(admin).Error; err != nil {
			return fmt.Errorf("failed to create admin user: %w", err)
		}

		log.Println("Default admin user created successfully")
	}

	log.Println("Initial data seeding completed")
	return nil
}

// ForUpdate adds a row lock on dialects that support it. SQLite serializes
// writers on its own.
func ForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

// AdvisoryLock takes a transaction-scoped advisory lock on the given key
// pair, serializing writers whose read set is an aggregate that row locks
// cannot cover (a SUM does not see rows a concurrent transaction is about to
// insert). SQLite serializes writers on its own.
func AdvisoryLock(tx *gorm.DB, key1, key2 uint) error {
	if tx.Dialector.Name() == "sqlite" {
		return nil
	}
	return tx.Exec("SELECT pg_advisory_xact_lock(?, ?)", int32(key1), int32(key2)).Error
}

// Transaction helper
func WithTransaction(db *gorm.DB, fn func(*gorm.DB) error) error {
	tx := db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	defer func() {
		if r := recover(); r != nil {
			tx.Rollback()
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit().Error
}
