// internal/models/application.go
package models

import "time"

// ApplicationStep defines a stage in a bootcamp application for which users
// must submit/upload something. Immutable once referenced by a run.
type ApplicationStep struct {
	BaseModel
	BootcampID     uint           `json:"bootcamp_id" gorm:"not null;uniqueIndex:idx_app_step_order"`
	StepOrder      int            `json:"step_order" gorm:"not null;uniqueIndex:idx_app_step_order;default:1"`
	SubmissionType SubmissionType `json:"submission_type" gorm:"size:30;not null"`

	Bootcamp Bootcamp `json:"-" gorm:"foreignKey:BootcampID"`
}

// BootcampRunApplicationStep binds an ApplicationStep to a specific run with
// an optional due date. The step's bootcamp must equal the run's bootcamp;
// services validate this before creating one.
type BootcampRunApplicationStep struct {
	BaseModel
	ApplicationStepID uint       `json:"application_step_id" gorm:"not null;index"`
	BootcampRunID     uint       `json:"bootcamp_run_id" gorm:"not null;index"`
	DueDate           *time.Time `json:"due_date"`

	// Relationships
	ApplicationStep ApplicationStep `json:"application_step,omitempty" gorm:"foreignKey:ApplicationStepID"`
	BootcampRun     BootcampRun     `json:"-" gorm:"foreignKey:BootcampRunID"`
}

// BootcampApplication is a user's application to a run of a bootcamp.
type BootcampApplication struct {
	BaseModel
	UserID        uint     `json:"user_id" gorm:"not null;uniqueIndex:idx_application_user_run"`
	BootcampRunID uint     `json:"bootcamp_run_id" gorm:"not null;uniqueIndex:idx_application_user_run"`
	ResumeKey     string   `json:"resume_key" gorm:"size:512"`
	State         AppState `json:"state" gorm:"size:40;default:'AWAITING_PROFILE_COMPLETION';index"`

	// Relationships
	User        User                        `json:"user,omitempty" gorm:"foreignKey:UserID"`
	BootcampRun BootcampRun                 `json:"bootcamp_run,omitempty" gorm:"foreignKey:BootcampRunID"`
	Submissions []ApplicationStepSubmission `json:"submissions,omitempty" gorm:"foreignKey:BootcampApplicationID"`
}

// HasResume reports whether a resume has been uploaded for this application.
func (a *BootcampApplication) HasResume() bool {
	return a.ResumeKey != ""
}

// ApplicationStepSubmission is one reviewable artifact submitted for a run
// step of a bootcamp application. The submission kind is a tagged variant
// over the valid submission types, with a kind-specific payload (video file
// key, quiz start date, ...) stored alongside the tag.
type ApplicationStepSubmission struct {
	BaseModel
	BootcampApplicationID uint           `json:"bootcamp_application_id" gorm:"not null;index"`
	RunApplicationStepID  uint           `json:"run_application_step_id" gorm:"not null;index"`
	SubmissionType        SubmissionType `json:"submission_type" gorm:"size:30;not null"`
	Payload               JSONB          `json:"payload" gorm:"type:jsonb"`
	SubmittedDate         *time.Time     `json:"submitted_date"`
	ReviewStatus          ReviewStatus   `json:"review_status" gorm:"size:20;default:'pending';index"`
	ReviewStatusDate      *time.Time     `json:"review_status_date"`

	// Relationships
	BootcampApplication BootcampApplication        `json:"-" gorm:"foreignKey:BootcampApplicationID"`
	RunApplicationStep  BootcampRunApplicationStep `json:"run_application_step,omitempty" gorm:"foreignKey:RunApplicationStepID"`
}
