// internal/services/application_service_test.go
package services

import (
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/models"
)

func TestDeriveState(t *testing.T) {
	baseFacts := func() applicationFacts {
		return applicationFacts{
			ProfileComplete: true,
			HasResume:       true,
			RequiredStepIDs: []uint{1, 2},
			Price:           100,
			TotalPaid:       0,
		}
	}

	tests := []struct {
		name  string
		facts applicationFacts
		want  models.AppState
	}{
		{
			name: "rejected submission wins over everything",
			facts: applicationFacts{
				ProfileComplete: false,
				RequiredStepIDs: []uint{1},
				Submissions: []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusRejected},
				},
			},
			want: models.AppStateRejected,
		},
		{
			name:  "incomplete profile",
			facts: applicationFacts{},
			want:  models.AppStateAwaitingProfileCompletion,
		},
		{
			name:  "no resume",
			facts: applicationFacts{ProfileComplete: true},
			want:  models.AppStateAwaitingResume,
		},
		{
			name:  "no submissions at all",
			facts: baseFacts(),
			want:  models.AppStateAwaitingUserSubmissions,
		},
		{
			name: "one step approved and the other never submitted",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
				}
				return f
			}(),
			want: models.AppStateAwaitingUserSubmissions,
		},
		{
			name: "all steps submitted and all pending review",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusPending},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusPending},
				}
				return f
			}(),
			want: models.AppStateAwaitingSubmissionReview,
		},
		{
			name: "one step approved and the other still pending",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusPending},
				}
				return f
			}(),
			want: models.AppStateAwaitingUserSubmissions,
		},
		{
			name: "all steps approved with a newer pending resubmission",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusPending},
				}
				return f
			}(),
			want: models.AppStateAwaitingSubmissionReview,
		},
		{
			name: "all steps approved and nothing paid",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusApproved},
				}
				return f
			}(),
			want: models.AppStateAwaitingPayment,
		},
		{
			name: "all steps approved and partially paid",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusApproved},
				}
				f.TotalPaid = 99.99
				return f
			}(),
			want: models.AppStateAwaitingPayment,
		},
		{
			name: "all steps approved and fully paid",
			facts: func() applicationFacts {
				f := baseFacts()
				f.Submissions = []submissionFact{
					{RunStepID: 1, ReviewStatus: models.ReviewStatusApproved},
					{RunStepID: 2, ReviewStatus: models.ReviewStatusApproved},
				}
				f.TotalPaid = 100
				return f
			}(),
			want: models.AppStateComplete,
		},
		{
			name: "run without steps goes straight to payment",
			facts: applicationFacts{
				ProfileComplete: true,
				HasResume:       true,
				Price:           50,
			},
			want: models.AppStateAwaitingPayment,
		},
		{
			name: "free run without steps completes immediately",
			facts: applicationFacts{
				ProfileComplete: true,
				HasResume:       true,
			},
			want: models.AppStateComplete,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, deriveState(tt.facts))
		})
	}
}

func TestDeriveStateNeverEmitsRefunded(t *testing.T) {
	// REFUNDED is an override applied by the refund path; no combination of
	// facts derives it.
	facts := applicationFacts{
		ProfileComplete: true,
		HasResume:       true,
		Price:           100,
		TotalPaid:       -50,
	}
	assert.Equal(t, models.AppStateAwaitingPayment, deriveState(facts))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, isUniqueViolation(gorm.ErrDuplicatedKey))
	assert.True(t, isUniqueViolation(fmt.Errorf("create failed: %w", gorm.ErrDuplicatedKey)))
	assert.True(t, isUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, isUniqueViolation(fmt.Errorf("create failed: %w", &pgconn.PgError{Code: "23505"})))

	assert.False(t, isUniqueViolation(nil))
	assert.False(t, isUniqueViolation(gorm.ErrRecordNotFound))
	assert.False(t, isUniqueViolation(&pgconn.PgError{Code: "23503"}))
}
