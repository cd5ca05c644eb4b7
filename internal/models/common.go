// internal/models/common.go
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Base model with common fields
type BaseModel struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JSONB type for PostgreSQL
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return nil
	}

	return json.Unmarshal(bytes, j)
}

// Enums
type UserType string

const (
	UserTypeApplicant UserType = "applicant"
	UserTypeAdmin     UserType = "admin"
)

// AppState is the derived lifecycle stage of a bootcamp application. Except
// for the rejection and refund overrides, the state is always recomputed from
// stored facts, never hand-set.
type AppState string

const (
	AppStateAwaitingProfileCompletion AppState = "AWAITING_PROFILE_COMPLETION"
	AppStateAwaitingResume            AppState = "AWAITING_RESUME"
	AppStateAwaitingUserSubmissions   AppState = "AWAITING_USER_SUBMISSIONS"
	AppStateAwaitingSubmissionReview  AppState = "AWAITING_SUBMISSION_REVIEW"
	AppStateAwaitingPayment           AppState = "AWAITING_PAYMENT"
	AppStateComplete                  AppState = "COMPLETE"
	AppStateRejected                  AppState = "REJECTED"
	AppStateRefunded                  AppState = "REFUNDED"
)

// IsTerminal reports whether no further progression is possible.
func (s AppState) IsTerminal() bool {
	return s == AppStateRejected || s == AppStateRefunded
}

type ReviewStatus string

const (
	ReviewStatusPending  ReviewStatus = "pending"
	ReviewStatusApproved ReviewStatus = "approved"
	ReviewStatusRejected ReviewStatus = "rejected"
)

type SubmissionType string

const (
	SubmissionTypeVideoInterview SubmissionType = "videointerviewsubmission"
	SubmissionTypeQuiz           SubmissionType = "quizsubmission"
)

// ValidSubmissionTypes is the allowed kind set for application submissions.
var ValidSubmissionTypes = map[SubmissionType]bool{
	SubmissionTypeVideoInterview: true,
	SubmissionTypeQuiz:           true,
}

type OrderStatus string

const (
	OrderStatusCreated   OrderStatus = "created"
	OrderStatusFulfilled OrderStatus = "fulfilled"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Enrollment change statuses
const EnrollChangeStatusRefunded = "refunded"
