// internal/services/application_service.go
package services

import (
	"errors"
	"fmt"
	"mime/multipart"
	"path/filepath"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

// ApplicationService owns the application lifecycle. The state stored on an
// application is always the output of deriveState over the application's
// facts, except for the rejection and refund overrides which stick.
type ApplicationService struct {
	db                  *gorm.DB
	orderService        *OrderService
	storageService      *StorageService
	notificationService *NotificationService
}

func NewApplicationService(db *gorm.DB, orderService *OrderService, storageService *StorageService, notificationService *NotificationService) *ApplicationService {
	return &ApplicationService{
		db:                  db,
		orderService:        orderService,
		storageService:      storageService,
		notificationService: notificationService,
	}
}

// allowedResumeUploadStates / allowedSubmissionStates gate which lifecycle
// events an application accepts in each state.
var allowedResumeUploadStates = map[models.AppState]bool{
	models.AppStateAwaitingResume:          true,
	models.AppStateAwaitingUserSubmissions: true,
}

var allowedSubmissionStates = map[models.AppState]bool{
	models.AppStateAwaitingUserSubmissions:  true,
	models.AppStateAwaitingSubmissionReview: true,
}

var allowedResumeExtensions = map[string]bool{
	".pdf":  true,
	".doc":  true,
	".docx": true,
}

// applicationFacts is everything state derivation looks at. Collected under
// the caller's transaction so the derived state is consistent with it.
type applicationFacts struct {
	ProfileComplete bool
	HasResume       bool
	RequiredStepIDs []uint
	Submissions     []submissionFact
	Price           float64
	TotalPaid       float64
}

type submissionFact struct {
	RunStepID    uint
	ReviewStatus models.ReviewStatus
}

// deriveState maps application facts to a lifecycle state. Pure; it never
// emits REJECTED for any reason other than a rejected submission, and never
// emits REFUNDED at all (refunds are an override, not a derivation).
func deriveState(facts applicationFacts) models.AppState {
	for _, sub := range facts.Submissions {
		if sub.ReviewStatus == models.ReviewStatusRejected {
			return models.AppStateRejected
		}
	}

	if !facts.ProfileComplete {
		return models.AppStateAwaitingProfileCompletion
	}

	if !facts.HasResume {
		return models.AppStateAwaitingResume
	}

	submittedSteps := make(map[uint]bool)
	approvedSteps := make(map[uint]bool)
	pendingExists := false
	for _, sub := range facts.Submissions {
		submittedSteps[sub.RunStepID] = true
		switch sub.ReviewStatus {
		case models.ReviewStatusApproved:
			approvedSteps[sub.RunStepID] = true
		case models.ReviewStatusPending:
			pendingExists = true
		}
	}

	for _, stepID := range facts.RequiredStepIDs {
		if !submittedSteps[stepID] {
			return models.AppStateAwaitingUserSubmissions
		}
	}

	approvedCount := 0
	for _, stepID := range facts.RequiredStepIDs {
		if approvedSteps[stepID] {
			approvedCount++
		}
	}

	if approvedCount < len(facts.RequiredStepIDs) {
		// Every step has a submission but not all are approved. A fully
		// pending application is waiting on review; once reviewers have
		// started approving, the remaining unapproved steps need fresh
		// submissions from the user.
		if approvedCount == 0 && pendingExists {
			return models.AppStateAwaitingSubmissionReview
		}
		return models.AppStateAwaitingUserSubmissions
	}

	if pendingExists {
		return models.AppStateAwaitingSubmissionReview
	}

	if facts.TotalPaid < facts.Price {
		return models.AppStateAwaitingPayment
	}

	return models.AppStateComplete
}

// collectFacts loads the derivation inputs for an application.
func (s *ApplicationService) collectFacts(tx *gorm.DB, app *models.BootcampApplication) (applicationFacts, error) {
	facts := applicationFacts{HasResume: app.HasResume()}

	var profile models.Profile
	err := tx.Where("user_id = ?", app.UserID).First(&profile).Error
	switch {
	case err == nil:
		facts.ProfileComplete = profile.IsComplete()
	case err == gorm.ErrRecordNotFound:
		facts.ProfileComplete = false
	default:
		return facts, err
	}

	var runSteps []models.BootcampRunApplicationStep
	if err := tx.Where("bootcamp_run_id = ?", app.BootcampRunID).
		Order("id").Find(&runSteps).Error; err != nil {
		return facts, err
	}
	for _, step := range runSteps {
		facts.RequiredStepIDs = append(facts.RequiredStepIDs, step.ID)
	}

	var submissions []models.ApplicationStepSubmission
	if err := tx.Where("bootcamp_application_id = ? AND submitted_date IS NOT NULL", app.ID).
		Find(&submissions).Error; err != nil {
		return facts, err
	}
	for _, sub := range submissions {
		facts.Submissions = append(facts.Submissions, submissionFact{
			RunStepID:    sub.RunApplicationStepID,
			ReviewStatus: sub.ReviewStatus,
		})
	}

	var run models.BootcampRun
	if err := tx.First(&run, app.BootcampRunID).Error; err != nil {
		return facts, err
	}

	facts.Price, err = s.orderService.RunPrice(tx, app.UserID, &run)
	if err != nil {
		return facts, err
	}

	facts.TotalPaid, err = s.orderService.TotalPaid(tx, app.UserID, run.RunKey)
	if err != nil {
		return facts, err
	}

	return facts, nil
}

// RefreshState recomputes and persists the application state. Terminal states
// stick; derivation cannot move an application out of them.
func (s *ApplicationService) RefreshState(tx *gorm.DB, app *models.BootcampApplication) error {
	if app.State.IsTerminal() {
		return nil
	}

	facts, err := s.collectFacts(tx, app)
	if err != nil {
		return err
	}

	newState := deriveState(facts)
	if newState == app.State {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"application_id": app.ID,
		"from":           app.State,
		"to":             newState,
	}).Info("application state transition")

	app.State = newState
	return tx.Model(app).Update("state", newState).Error
}

// GetOrCreateApplication returns the user's application for a run, creating
// it if absent. Creation races resolve through the unique (user, run) index.
func (s *ApplicationService) GetOrCreateApplication(userID uint, runID uint) (*models.BootcampApplication, error) {
	var run models.BootcampRun
	if err := s.db.First(&run, runID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("bootcamp run %d not found", runID)
		}
		return nil, err
	}

	var app models.BootcampApplication
	err := s.db.Where("user_id = ? AND bootcamp_run_id = ?", userID, runID).First(&app).Error
	if err == nil {
		return &app, nil
	}
	if err != gorm.ErrRecordNotFound {
		return nil, err
	}

	app = models.BootcampApplication{
		UserID:        userID,
		BootcampRunID: runID,
		State:         models.AppStateAwaitingProfileCompletion,
	}

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Create(&app).Error; err != nil {
			return err
		}
		return s.RefreshState(tx, &app)
	})
	if err != nil {
		if isUniqueViolation(err) {
			// Lost the creation race; the winner's row is the application.
			if err := s.db.Where("user_id = ? AND bootcamp_run_id = ?", userID, runID).
				First(&app).Error; err != nil {
				return nil, err
			}
			return &app, nil
		}
		return nil, err
	}

	return &app, nil
}

// isUniqueViolation reports whether err is a unique-index conflict, either as
// GORM's translated sentinel or as the raw pgx driver error.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// GetApplication loads an application with its run and submissions.
func (s *ApplicationService) GetApplication(appID uint) (*models.BootcampApplication, error) {
	var app models.BootcampApplication
	if err := s.db.
		Preload("BootcampRun").
		Preload("BootcampRun.Bootcamp").
		Preload("Submissions").
		First(&app, appID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("application %d not found", appID)
		}
		return nil, err
	}
	return &app, nil
}

// UploadResume stores a resume file for the application and advances state.
func (s *ApplicationService) UploadResume(appID uint, userID uint, fileHeader *multipart.FileHeader) (*models.BootcampApplication, error) {
	app, err := s.GetApplication(appID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, NewValidationError("application %d does not belong to user %d", appID, userID)
	}
	if !allowedResumeUploadStates[app.State] {
		return nil, NewInvalidApplicationStateError(
			"Cannot upload a resume in state %s", app.State)
	}

	ext := strings.ToLower(filepath.Ext(fileHeader.Filename))
	if !allowedResumeExtensions[ext] {
		return nil, NewValidationError("Unsupported resume file type %q", ext)
	}

	key := fmt.Sprintf("resumes/%d/%d/%s", app.UserID, app.ID, fileHeader.Filename)
	if err := s.storageService.UploadFile(key, fileHeader); err != nil {
		return nil, fmt.Errorf("failed to store resume: %w", err)
	}

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		app.ResumeKey = key
		if err := tx.Model(app).Update("resume_key", key).Error; err != nil {
			return err
		}
		return s.RefreshState(tx, app)
	})
	if err != nil {
		return nil, err
	}

	return app, nil
}

// CreateSubmissionRequest is the payload for submitting an application step.
type CreateSubmissionRequest struct {
	RunApplicationStepID uint                   `json:"run_application_step_id" validate:"required"`
	SubmissionType       models.SubmissionType  `json:"submission_type" validate:"required,submission_type"`
	Payload              map[string]interface{} `json:"payload,omitempty"`
}

// CreateSubmission records a reviewable artifact for one run step of the
// application and advances state.
func (s *ApplicationService) CreateSubmission(appID uint, userID uint, req *CreateSubmissionRequest) (*models.ApplicationStepSubmission, error) {
	if !models.ValidSubmissionTypes[req.SubmissionType] {
		return nil, NewValidationError("invalid submission type %q", req.SubmissionType)
	}

	app, err := s.GetApplication(appID)
	if err != nil {
		return nil, err
	}
	if app.UserID != userID {
		return nil, NewValidationError("application %d does not belong to user %d", appID, userID)
	}
	if !allowedSubmissionStates[app.State] {
		return nil, NewInvalidApplicationStateError(
			"Cannot submit an application step in state %s", app.State)
	}

	var runStep models.BootcampRunApplicationStep
	if err := s.db.Preload("ApplicationStep").
		First(&runStep, req.RunApplicationStepID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("run application step %d not found", req.RunApplicationStepID)
		}
		return nil, err
	}
	if runStep.BootcampRunID != app.BootcampRunID {
		return nil, NewValidationError(
			"run application step %d does not belong to run %d", runStep.ID, app.BootcampRunID)
	}
	if runStep.ApplicationStep.SubmissionType != req.SubmissionType {
		return nil, NewValidationError(
			"step %d expects a %s submission", runStep.ID, runStep.ApplicationStep.SubmissionType)
	}

	now := time.Now().UTC()
	submission := &models.ApplicationStepSubmission{
		BootcampApplicationID: app.ID,
		RunApplicationStepID:  runStep.ID,
		SubmissionType:        req.SubmissionType,
		Payload:               models.JSONB(req.Payload),
		SubmittedDate:         &now,
		ReviewStatus:          models.ReviewStatusPending,
	}

	err = database.WithTransaction(s.db, func(tx *gorm.DB) error {
		if err := tx.Create(submission).Error; err != nil {
			return err
		}
		return s.RefreshState(tx, app)
	})
	if err != nil {
		return nil, err
	}

	return submission, nil
}

// ReviewSubmissionRequest is the payload for an admin review decision.
type ReviewSubmissionRequest struct {
	ReviewStatus models.ReviewStatus `json:"review_status" validate:"required,oneof=approved rejected"`
}

// ReviewSubmission records an approve/reject decision on a submission and
// advances the owning application's state.
func (s *ApplicationService) ReviewSubmission(submissionID uint, req *ReviewSubmissionRequest) (*models.ApplicationStepSubmission, error) {
	if req.ReviewStatus != models.ReviewStatusApproved && req.ReviewStatus != models.ReviewStatusRejected {
		return nil, NewValidationError("invalid review status %q", req.ReviewStatus)
	}

	var submission models.ApplicationStepSubmission
	if err := s.db.First(&submission, submissionID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewValidationError("submission %d not found", submissionID)
		}
		return nil, err
	}

	var app models.BootcampApplication
	if err := s.db.First(&app, submission.BootcampApplicationID).Error; err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	err := database.WithTransaction(s.db, func(tx *gorm.DB) error {
		submission.ReviewStatus = req.ReviewStatus
		submission.ReviewStatusDate = &now
		if err := tx.Model(&submission).Updates(map[string]interface{}{
			"review_status":      req.ReviewStatus,
			"review_status_date": now,
		}).Error; err != nil {
			return err
		}
		return s.RefreshState(tx, &app)
	})
	if err != nil {
		return nil, err
	}

	if req.ReviewStatus == models.ReviewStatusRejected {
		s.notifyRejection(&app)
	}

	return &submission, nil
}

// notifyRejection mails the applicant once their application lands in
// REJECTED. Best effort; the review decision stands either way.
func (s *ApplicationService) notifyRejection(app *models.BootcampApplication) {
	if s.notificationService == nil || app.State != models.AppStateRejected {
		return
	}

	var user models.User
	if err := s.db.First(&user, app.UserID).Error; err != nil {
		logrus.WithError(err).WithField("application_id", app.ID).
			Error("failed to load user for rejection email")
		return
	}
	var run models.BootcampRun
	if err := s.db.First(&run, app.BootcampRunID).Error; err != nil {
		logrus.WithError(err).WithField("application_id", app.ID).
			Error("failed to load run for rejection email")
		return
	}

	if err := s.notificationService.SendRejectionEmail(&user, run.Title); err != nil {
		logrus.WithError(err).WithField("application_id", app.ID).
			Error("failed to send rejection email")
	}
}

// MarkRefunded forces an application out of COMPLETE after its payment has
// been refunded. Only the refund path calls this.
func (s *ApplicationService) MarkRefunded(tx *gorm.DB, app *models.BootcampApplication) error {
	if app.State != models.AppStateComplete {
		return NewInvalidApplicationStateError(
			"Application %d is expected to have state 'COMPLETE'", app.ID)
	}

	logrus.WithFields(logrus.Fields{
		"application_id": app.ID,
		"from":           app.State,
		"to":             models.AppStateRefunded,
	}).Info("application state transition")

	app.State = models.AppStateRefunded
	return tx.Model(app).Update("state", models.AppStateRefunded).Error
}

// ListApplications returns the user's applications with runs preloaded.
func (s *ApplicationService) ListApplications(userID uint) ([]models.BootcampApplication, error) {
	var apps []models.BootcampApplication
	if err := s.db.
		Preload("BootcampRun").
		Preload("BootcampRun.Bootcamp").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&apps).Error; err != nil {
		return nil, err
	}
	return apps, nil
}
