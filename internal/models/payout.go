package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PayoutStatus статус выплаты продавцу
type PayoutStatus string

const (
	PayoutStatusPending   PayoutStatus = "pending"
	PayoutStatusInTransit PayoutStatus = "in_transit"
	PayoutStatusPaid      PayoutStatus = "paid"
	PayoutStatusFailed    PayoutStatus = "failed"
)

// Payout зеркало выплаты платежного провайдера
type Payout struct {
	ID            string          `json:"id"`
	VendorID      string          `json:"vendor_id"`
	ExternalID    string          `json:"external_id"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Status        PayoutStatus    `json:"status"`
	FailureReason *string         `json:"failure_reason,omitempty"`
	NotifiedAt    *time.Time      `json:"notified_at,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// RequestPayoutRequest запрос на ручную выплату продавцу
type RequestPayoutRequest struct {
	VendorID string          `json:"vendor_id"`
	Amount   decimal.Decimal `json:"amount"`
}
