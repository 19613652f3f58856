package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType тип записи в реестре движений средств
type TransactionType string

const (
	TransactionSale        TransactionType = "sale"
	TransactionRefund      TransactionType = "refund"
	TransactionTransfer    TransactionType = "transfer"
	TransactionPayout      TransactionType = "payout"
	TransactionPlatformFee TransactionType = "platform_fee"
)

// TransactionStatus статус записи реестра
type TransactionStatus string

const (
	TransactionStatusPending   TransactionStatus = "pending"
	TransactionStatusCompleted TransactionStatus = "completed"
	TransactionStatusFailed    TransactionStatus = "failed"
	TransactionStatusReversed  TransactionStatus = "reversed"
)

// Transaction запись реестра движений средств продавца
type Transaction struct {
	ID          string            `json:"id"`
	VendorID    string            `json:"vendor_id"`
	OrderID     *string           `json:"order_id,omitempty"`
	Type        TransactionType   `json:"type"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	ExternalID  *string           `json:"external_id,omitempty"`
	CompletedAt *time.Time        `json:"completed_at,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}

// VendorBalance баланс продавца
type VendorBalance struct {
	VendorID  string          `json:"vendor_id"`
	Available decimal.Decimal `json:"available"`
	Pending   decimal.Decimal `json:"pending"`
	Reserved  decimal.Decimal `json:"reserved"`
	UpdatedAt time.Time       `json:"updated_at"`
}
