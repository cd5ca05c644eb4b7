// internal/services/cybersource_service.go
package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opencohort/bootcamp-backend/internal/config"
	"github.com/opencohort/bootcamp-backend/internal/database"
	"github.com/opencohort/bootcamp-backend/internal/models"
)

// ISO8601Format is the timestamp layout CyberSource expects in signed payloads.
const ISO8601Format = "2006-01-02T15:04:05Z"

// ReferenceNumberPrefix starts every reference number this service issues.
const ReferenceNumberPrefix = "BOOTCAMP-"

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// CyberSourceService builds and signs Secure Acceptance payloads and parses
// the callbacks CyberSource sends back. The browser posts the signed payload
// to CyberSource's hosted checkout; we never call CyberSource ourselves.
type CyberSourceService struct {
	cfg config.CyberSourceConfig

	// Injection points for deterministic payloads in tests.
	now              func() time.Time
	newTransactionID func() string
}

func NewCyberSourceService(cfg config.CyberSourceConfig) *CyberSourceService {
	return &CyberSourceService{
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
		newTransactionID: func() string {
			return strings.ReplaceAll(uuid.New().String(), "-", "")
		},
	}
}

// Signature computes the Secure Acceptance signature over the fields listed
// in payload["signed_field_names"], in that order.
func (s *CyberSourceService) Signature(payload map[string]string) string {
	fieldNames := strings.Split(payload["signed_field_names"], ",")
	parts := make([]string, 0, len(fieldNames))
	for _, name := range fieldNames {
		parts = append(parts, name+"="+payload[name])
	}

	mac := hmac.New(sha256.New, []byte(s.cfg.SecurityKey))
	mac.Write([]byte(strings.Join(parts, ",")))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// SignPayload returns a copy of payload with signed_field_names and signature
// filled in. Every field is signed.
func (s *CyberSourceService) SignPayload(payload map[string]string) map[string]string {
	signed := make(map[string]string, len(payload)+3)
	for k, v := range payload {
		signed[k] = v
	}
	signed["unsigned_field_names"] = ""
	signed["signed_field_names"] = ""

	fieldNames := make([]string, 0, len(signed))
	for k := range signed {
		fieldNames = append(fieldNames, k)
	}
	sort.Strings(fieldNames)
	signed["signed_field_names"] = strings.Join(fieldNames, ",")

	signed["signature"] = s.Signature(signed)
	return signed
}

// VerifySignature checks an inbound callback against the shared security key.
func (s *CyberSourceService) VerifySignature(params map[string]string) bool {
	expected := s.Signature(params)
	return hmac.Equal([]byte(expected), []byte(params["signature"]))
}

// MakeReferenceID builds the reference number CyberSource round-trips back to
// us unchanged on every callback.
func (s *CyberSourceService) MakeReferenceID(orderID uint) string {
	return fmt.Sprintf("%s%s-%d", ReferenceNumberPrefix, s.cfg.ReferencePrefix, orderID)
}

// ParseReferenceNumber extracts the order id from a callback reference number.
func (s *CyberSourceService) ParseReferenceNumber(referenceNumber string) (uint, error) {
	if !strings.HasPrefix(referenceNumber, ReferenceNumberPrefix) {
		return 0, NewParseError("Reference number must start with %s", ReferenceNumberPrefix)
	}
	remainder := referenceNumber[len(ReferenceNumberPrefix):]

	dashPos := strings.LastIndex(remainder, "-")
	if dashPos < 0 {
		return 0, NewParseError("Unable to find order number in reference number")
	}

	orderID, err := strconv.Atoi(remainder[dashPos+1:])
	if err != nil {
		return 0, NewParseError("Unable to parse order number")
	}

	prefix := remainder[:dashPos]
	if prefix != s.cfg.ReferencePrefix {
		logrus.WithFields(logrus.Fields{
			"got":      prefix,
			"expected": s.cfg.ReferencePrefix,
		}).Error("CyberSource prefix doesn't match")
		return 0, NewParseError("CyberSource prefix doesn't match")
	}

	return uint(orderID), nil
}

// GetNewOrderByReferenceNumber resolves a reference number to an order that
// is still awaiting fulfillment, locking the row for the caller's transaction.
func (s *CyberSourceService) GetNewOrderByReferenceNumber(tx *gorm.DB, referenceNumber string) (*models.Order, error) {
	orderID, err := s.ParseReferenceNumber(referenceNumber)
	if err != nil {
		return nil, err
	}

	var order models.Order
	err = database.ForUpdate(tx).
		Preload("Lines").
		First(&order, orderID).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, NewEcommerceError("Unable to find order %d", orderID)
		}
		return nil, err
	}

	// A fulfilled or failed order resolves the same as a missing one; this
	// lookup answers reference numbers from outside callers and must not
	// reveal what happened to an order that is no longer payable.
	if order.Status != models.OrderStatusCreated {
		return nil, NewEcommerceError("Unable to find order %d", order.ID)
	}

	return &order, nil
}

// sanitizeTitle strips markup and surrounding whitespace from a title bound
// for a signed payload field.
func sanitizeTitle(title string) string {
	return strings.TrimSpace(htmlTagPattern.ReplaceAllString(title, ""))
}

// SAPayload builds the signed Secure Acceptance form payload for a created
// order. The order's single line names the run being paid for.
func (s *CyberSourceService) SAPayload(order *models.Order, run *models.BootcampRun, bootcamp *models.Bootcamp, user *models.User, profileName string, redirectURL string) (map[string]string, error) {
	runTitle := sanitizeTitle(run.Title)
	if runTitle == "" {
		return nil, NewValidationError(
			"Bootcamp run %d title is either empty or contains only HTML.", run.RunKey)
	}

	bootcampTitle := sanitizeTitle(bootcamp.Title)
	if bootcampTitle == "" {
		return nil, NewValidationError(
			"Bootcamp %d title is either empty or contains only HTML.", bootcamp.ID)
	}

	amount := fmt.Sprintf("%.2f", order.TotalPricePaid)
	payload := map[string]string{
		"access_key":                   s.cfg.AccessKey,
		"amount":                       amount,
		"currency":                     s.cfg.Currency,
		"locale":                       s.cfg.Locale,
		"item_0_code":                  "klass",
		"item_0_name":                  runTitle,
		"item_0_quantity":              "1",
		"item_0_sku":                   strconv.Itoa(run.RunKey),
		"item_0_tax_amount":            "0",
		"item_0_unit_price":            amount,
		"line_item_count":              "1",
		"merchant_defined_data1":       "bootcamp",
		"merchant_defined_data2":       bootcampTitle,
		"merchant_defined_data3":       "klass",
		"merchant_defined_data4":       runTitle,
		"merchant_defined_data5":       strconv.Itoa(run.RunKey),
		"merchant_defined_data6":       "learner",
		"merchant_defined_data7":       profileName,
		"merchant_defined_data8":       user.Email,
		"override_custom_cancel_page":  redirectURL,
		"override_custom_receipt_page": redirectURL,
		"profile_id":                   s.cfg.ProfileID,
		"reference_number":             s.MakeReferenceID(order.ID),
		"signed_date_time":             s.now().Format(ISO8601Format),
		"transaction_type":             "sale",
		"transaction_uuid":             s.newTransactionID(),
	}

	return s.SignPayload(payload), nil
}
