// internal/models/klass.go
package models

import "time"

// Bootcamp is a program that candidates apply to via one of its runs.
type Bootcamp struct {
	BaseModel
	Title string `json:"title" gorm:"type:text;not null"`
}

// BootcampRun is one scheduled offering of a bootcamp. The run key is the
// identifier round-tripped through the payment gateway and payment lines.
type BootcampRun struct {
	BaseModel
	BootcampID uint       `json:"bootcamp_id" gorm:"not null;index"`
	Title      string     `json:"title" gorm:"type:text;not null"`
	RunKey     int        `json:"run_key" gorm:"uniqueIndex;not null"`
	StartDate  *time.Time `json:"start_date"`
	EndDate    *time.Time `json:"end_date"`

	// Relationships
	Bootcamp Bootcamp `json:"bootcamp,omitempty" gorm:"foreignKey:BootcampID"`
}

// Installment is one piece of a run's list price; the run price is the sum of
// its installments.
type Installment struct {
	BaseModel
	BootcampRunID uint      `json:"bootcamp_run_id" gorm:"not null;index"`
	Deadline      time.Time `json:"deadline"`
	Amount        float64   `json:"amount" gorm:"type:decimal(20,2);not null"`

	BootcampRun BootcampRun `json:"-" gorm:"foreignKey:BootcampRunID"`
}

// PersonalPrice is a per-user override of a run's list price. When present it
// wins outright.
type PersonalPrice struct {
	BaseModel
	BootcampRunID uint    `json:"bootcamp_run_id" gorm:"not null;uniqueIndex:idx_personal_price_user_run"`
	UserID        uint    `json:"user_id" gorm:"not null;uniqueIndex:idx_personal_price_user_run"`
	Price         float64 `json:"price" gorm:"type:decimal(20,2);not null"`
}

// BootcampRunEnrollment tracks an active (or deactivated) seat in a run.
type BootcampRunEnrollment struct {
	BaseModel
	UserID        uint    `json:"user_id" gorm:"not null;uniqueIndex:idx_enrollment_user_run"`
	BootcampRunID uint    `json:"bootcamp_run_id" gorm:"not null;uniqueIndex:idx_enrollment_user_run"`
	Active        bool    `json:"active" gorm:"default:true"`
	ChangeStatus  *string `json:"change_status" gorm:"size:20"`

	// Relationships
	User        User        `json:"-" gorm:"foreignKey:UserID"`
	BootcampRun BootcampRun `json:"-" gorm:"foreignKey:BootcampRunID"`
}
