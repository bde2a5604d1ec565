// Package payments turns confirmed package purchases into ledger credits.
package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/roomledger/pkg/ledger"
)

var (
	ErrInvalidSignature    = errors.New("invalid payment signature")
	ErrInvalidConfirmation = errors.New("invalid payment confirmation")
	ErrAmountMismatch      = errors.New("amount paid does not match package price")
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-Payment-Signature"

const purchaseKeyPrefix = "purchase:"

// Confirmation is a payment provider's statement that a package was paid for.
type Confirmation struct {
	UserID          string `json:"user_id"`
	PackageID       string `json:"package_id"`
	PaymentRef      string `json:"payment_ref"`
	AmountPaidPence int64  `json:"amount_paid_pence"`
}

// Service credits purchased packages.
type Service struct {
	ledger  *ledger.Service
	catalog ledger.PackageCatalog
}

// NewService wires a Service.
func NewService(service *ledger.Service, catalog ledger.PackageCatalog) (*Service, error) {
	if service == nil {
		return nil, fmt.Errorf("%w: ledger service is nil", ledger.ErrInvalidServiceConfig)
	}
	return &Service{ledger: service, catalog: catalog}, nil
}

// ConfirmPurchase credits base plus bonus credits as a single purchase entry keyed by the
// payment reference, so a redelivered confirmation never credits twice.
func (service *Service) ConfirmPurchase(ctx context.Context, confirmation Confirmation) (ledger.Entry, error) {
	userID, err := ledger.NewUserID(confirmation.UserID)
	if err != nil {
		return ledger.Entry{}, fmt.Errorf("%w: %w", ErrInvalidConfirmation, err)
	}
	paymentRef := strings.TrimSpace(confirmation.PaymentRef)
	if paymentRef == "" {
		return ledger.Entry{}, fmt.Errorf("%w: payment reference is required", ErrInvalidConfirmation)
	}
	creditPackage, err := service.catalog.Lookup(confirmation.PackageID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if confirmation.AmountPaidPence != creditPackage.PricePence {
		return ledger.Entry{}, fmt.Errorf("%w: paid %d, package %s costs %d", ErrAmountMismatch, confirmation.AmountPaidPence, creditPackage.ID, creditPackage.PricePence)
	}
	key, err := ledger.NewIdempotencyKey(purchaseKeyPrefix + paymentRef)
	if err != nil {
		return ledger.Entry{}, err
	}
	metadata, err := purchaseMetadata(creditPackage, paymentRef, confirmation.AmountPaidPence)
	if err != nil {
		return ledger.Entry{}, err
	}
	return service.ledger.Credit(ctx, ledger.CreditRequest{
		UserID:         userID,
		Type:           ledger.EntryPurchase,
		Amount:         creditPackage.Total(),
		IdempotencyKey: key,
		Reference:      creditPackage.ID,
		Description:    describePackage(creditPackage),
		Metadata:       metadata,
	})
}

// Catalog returns the packages on sale.
func (service *Service) Catalog() ledger.PackageCatalog {
	return service.catalog
}

// ParseWebhook verifies signature against body and decodes the confirmation.
func ParseWebhook(secret string, body []byte, signature string) (Confirmation, error) {
	if !VerifySignature(secret, body, signature) {
		return Confirmation{}, ErrInvalidSignature
	}
	var confirmation Confirmation
	if err := json.Unmarshal(body, &confirmation); err != nil {
		return Confirmation{}, fmt.Errorf("%w: %w", ErrInvalidConfirmation, err)
	}
	return confirmation, nil
}

// Sign returns the hex HMAC-SHA256 of body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares signature with the expected HMAC in constant time. An empty secret
// or signature never verifies.
func VerifySignature(secret string, body []byte, signature string) bool {
	signature = strings.TrimSpace(signature)
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(secret, body)), []byte(strings.ToLower(signature)))
}

func describePackage(creditPackage ledger.CreditPackage) string {
	if creditPackage.Bonus > 0 {
		return fmt.Sprintf("%s (%d + %d bonus)", creditPackage.Name, creditPackage.Base.Int64(), creditPackage.Bonus.Int64())
	}
	return creditPackage.Name
}

func purchaseMetadata(creditPackage ledger.CreditPackage, paymentRef string, amountPaidPence int64) (ledger.MetadataJSON, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"package_id":        creditPackage.ID,
		"payment_ref":       paymentRef,
		"amount_paid_pence": amountPaidPence,
		"base":              creditPackage.Base.Int64(),
		"bonus":             creditPackage.Bonus.Int64(),
	})
	if err != nil {
		return ledger.MetadataJSON{}, err
	}
	return ledger.NewMetadataJSON(string(raw))
}
