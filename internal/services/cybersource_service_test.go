// internal/services/cybersource_service_test.go
package services

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

func newTestCyberSourceService() *CyberSourceService {
	svc := NewCyberSourceService(config.CyberSourceConfig{
		AccessKey:           "access",
		ProfileID:           "profile",
		SecurityKey:         "security",
		SecureAcceptanceURL: "https://testsecureacceptance.cybersource.com/pay",
		ReferencePrefix:     "prefix",
		Currency:            "USD",
		Locale:              "en-us",
	})
	svc.now = func() time.Time {
		return time.Date(2017, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	svc.newTransactionID = func() string {
		return "uuid"
	}
	return svc
}

func TestSignPayloadRoundTrip(t *testing.T) {
	svc := newTestCyberSourceService()

	signed := svc.SignPayload(map[string]string{
		"key_b": "value_b",
		"key_a": "value_a",
	})

	assert.Equal(t, "key_a,key_b,signed_field_names,unsigned_field_names",
		signed["signed_field_names"])
	assert.NotEmpty(t, signed["signature"])
	assert.True(t, svc.VerifySignature(signed))
}

func TestVerifySignatureRejectsTampering(t *testing.T) {
	svc := newTestCyberSourceService()

	signed := svc.SignPayload(map[string]string{"amount": "123.00"})
	signed["amount"] = "1.00"

	assert.False(t, svc.VerifySignature(signed))
}

func TestVerifySignatureRejectsWrongKey(t *testing.T) {
	svc := newTestCyberSourceService()
	signed := svc.SignPayload(map[string]string{"amount": "123.00"})

	other := newTestCyberSourceService()
	other.cfg.SecurityKey = "different"

	assert.False(t, other.VerifySignature(signed))
}

func TestMakeReferenceID(t *testing.T) {
	svc := newTestCyberSourceService()
	assert.Equal(t, "BOOTCAMP-prefix-123", svc.MakeReferenceID(123))
}

func TestParseReferenceNumber(t *testing.T) {
	svc := newTestCyberSourceService()

	orderID, err := svc.ParseReferenceNumber("BOOTCAMP-prefix-123")
	require.NoError(t, err)
	assert.Equal(t, uint(123), orderID)

	tests := []struct {
		reference string
		wantErr   string
	}{
		{"XYZ-1-3", "Reference number must start with BOOTCAMP-"},
		{"BOOTCAMP-no_dashes_here", "Unable to find order number in reference number"},
		{"BOOTCAMP-something-NaN", "Unable to parse order number"},
		{"BOOTCAMP-not_matching-3", "CyberSource prefix doesn't match"},
	}

	for _, tt := range tests {
		t.Run(tt.reference, func(t *testing.T) {
			_, err := svc.ParseReferenceNumber(tt.reference)
			require.Error(t, err)
			var parseErr *ParseError
			require.ErrorAs(t, err, &parseErr)
			assert.Equal(t, tt.wantErr, parseErr.Message)
		})
	}
}

func TestSAPayload(t *testing.T) {
	svc := newTestCyberSourceService()

	order := &models.Order{
		BaseModel:      models.BaseModel{ID: 7},
		UserID:         1,
		Status:         models.OrderStatusCreated,
		TotalPricePaid: 123.45,
	}
	run := &models.BootcampRun{
		Title:  "Example Run",
		RunKey: 77,
	}
	bootcamp := &models.Bootcamp{Title: "Example Bootcamp"}
	user := &models.User{Username: "learner1", Email: "learner@example.com"}

	payload, err := svc.SAPayload(order, run, bootcamp, user, "Jane Doe", "https://frontend/payments")
	require.NoError(t, err)

	assert.Equal(t, "access", payload["access_key"])
	assert.Equal(t, "123.45", payload["amount"])
	assert.Equal(t, "klass", payload["item_0_code"])
	assert.Equal(t, "Example Run", payload["item_0_name"])
	assert.Equal(t, "77", payload["item_0_sku"])
	assert.Equal(t, "123.45", payload["item_0_unit_price"])
	assert.Equal(t, "bootcamp", payload["merchant_defined_data1"])
	assert.Equal(t, "Example Bootcamp", payload["merchant_defined_data2"])
	assert.Equal(t, "klass", payload["merchant_defined_data3"])
	assert.Equal(t, "Example Run", payload["merchant_defined_data4"])
	assert.Equal(t, "77", payload["merchant_defined_data5"])
	assert.Equal(t, "learner", payload["merchant_defined_data6"])
	assert.Equal(t, "Jane Doe", payload["merchant_defined_data7"])
	assert.Equal(t, "learner@example.com", payload["merchant_defined_data8"])
	assert.Equal(t, "https://frontend/payments", payload["override_custom_cancel_page"])
	assert.Equal(t, "https://frontend/payments", payload["override_custom_receipt_page"])
	assert.NotContains(t, payload, "consumer_id")
	assert.NotContains(t, payload, "override_custom_success_page")
	assert.Equal(t, "profile", payload["profile_id"])
	assert.Equal(t, "BOOTCAMP-prefix-7", payload["reference_number"])
	assert.Equal(t, "2017-01-01T00:00:00Z", payload["signed_date_time"])
	assert.Equal(t, "sale", payload["transaction_type"])
	assert.Equal(t, "uuid", payload["transaction_uuid"])

	// Every field is signed, in sorted order.
	fieldNames := strings.Split(payload["signed_field_names"], ",")
	assert.Len(t, fieldNames, len(payload)-1)
	for i := 1; i < len(fieldNames); i++ {
		assert.Less(t, fieldNames[i-1], fieldNames[i])
	}
	assert.True(t, svc.VerifySignature(payload))
}

func TestSAPayloadStripsHTMLFromTitles(t *testing.T) {
	svc := newTestCyberSourceService()

	order := &models.Order{BaseModel: models.BaseModel{ID: 1}, TotalPricePaid: 10}
	run := &models.BootcampRun{Title: "<b>Bold Run</b>", RunKey: 5}
	bootcamp := &models.Bootcamp{Title: " <i>Bootcamp</i> "}
	user := &models.User{Username: "u", Email: "u@example.com"}

	payload, err := svc.SAPayload(order, run, bootcamp, user, "", "")
	require.NoError(t, err)
	assert.Equal(t, "Bold Run", payload["item_0_name"])
	assert.Equal(t, "Bootcamp", payload["merchant_defined_data2"])
}

func TestSAPayloadRejectsEmptyTitles(t *testing.T) {
	svc := newTestCyberSourceService()

	order := &models.Order{BaseModel: models.BaseModel{ID: 1}, TotalPricePaid: 10}
	user := &models.User{Username: "u", Email: "u@example.com"}

	_, err := svc.SAPayload(order,
		&models.BootcampRun{Title: "<p></p>", RunKey: 5},
		&models.Bootcamp{Title: "Fine"}, user, "", "")
	require.Error(t, err)
	assert.Equal(t, "Bootcamp run 5 title is either empty or contains only HTML.", err.Error())

	_, err = svc.SAPayload(order,
		&models.BootcampRun{Title: "Fine", RunKey: 5},
		&models.Bootcamp{BaseModel: models.BaseModel{ID: 9}, Title: "   "}, user, "", "")
	require.Error(t, err)
	assert.Equal(t, "Bootcamp 9 title is either empty or contains only HTML.", err.Error())
}
