// internal/utils/validator_test.go
package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencohort/bootcamp-backend/internal/models"
)

func TestSubmissionTypeValidation(t *testing.T) {
	type payload struct {
		SubmissionType models.SubmissionType `validate:"required,submission_type"`
	}

	for kind := range models.ValidSubmissionTypes {
		assert.NoError(t, ValidateStruct(payload{SubmissionType: kind}))
	}

	err := ValidateStruct(payload{SubmissionType: "carrier_pigeon"})
	require.Error(t, err)
	errs := GetValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "submission_type", errs[0].Tag)
	assert.Equal(t, "Submission type must be one of the supported application step kinds", errs[0].Message)
}

func TestRunKeyValidation(t *testing.T) {
	type payload struct {
		RunKey int `validate:"required,run_key"`
	}

	assert.NoError(t, ValidateStruct(payload{RunKey: 77}))

	err := ValidateStruct(payload{RunKey: -3})
	require.Error(t, err)
	errs := GetValidationErrors(err)
	require.Len(t, errs, 1)
	assert.Equal(t, "run_key", errs[0].Tag)
}

func TestUsernameValidation(t *testing.T) {
	type payload struct {
		Username string `validate:"required,username"`
	}

	assert.NoError(t, ValidateStruct(payload{Username: "learner_1"}))
	assert.Error(t, ValidateStruct(payload{Username: "ab"}))
	assert.Error(t, ValidateStruct(payload{Username: "has spaces"}))
}
