package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// EventType тип внутреннего события в Kafka
type EventType string

const (
	EventOrderPaid       EventType = "order.paid"
	EventRefundCompleted EventType = "refund.completed"
	EventPayoutPaid      EventType = "payout.paid"
	EventCouponRedeemed  EventType = "coupon.redeemed"
)

// Event событие, публикуемое в Kafka
type Event struct {
	ID        string          `json:"id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// OrderPaidEvent данные события об успешной оплате заказа
type OrderPaidEvent struct {
	OrderID  string          `json:"order_id"`
	VendorID string          `json:"vendor_id"`
	Total    decimal.Decimal `json:"total"`
	Currency string          `json:"currency"`
}

// RefundCompletedEvent данные события о завершённом возврате
type RefundCompletedEvent struct {
	TransactionID string          `json:"transaction_id"`
	VendorID      string          `json:"vendor_id"`
	Amount        decimal.Decimal `json:"amount"`
}

// PayoutPaidEvent данные уведомления продавца о выплате
type PayoutPaidEvent struct {
	PayoutID string          `json:"payout_id"`
	VendorID string          `json:"vendor_id"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// CouponRedeemedEvent данные события о погашении купона
type CouponRedeemedEvent struct {
	Code           string          `json:"code"`
	OrderID        string          `json:"order_id"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// Типы событий платежного провайдера
const (
	ProviderCheckoutCompleted = "checkout.session.completed"
	ProviderPaymentSucceeded  = "payment_intent.succeeded"
	ProviderPaymentFailed     = "payment_intent.payment_failed"
	ProviderRefundCreated     = "refund.created"
	ProviderRefundUpdated     = "refund.updated"
	ProviderRefundFailed      = "refund.failed"
	ProviderTransferCreated   = "transfer.created"
	ProviderTransferUpdated   = "transfer.updated"
	ProviderAccountUpdated    = "account.updated"
	ProviderCapabilityUpdated = "capability.updated"
	ProviderPayoutCreated     = "payout.created"
	ProviderPayoutUpdated     = "payout.updated"
	ProviderPayoutPaid        = "payout.paid"
	ProviderPayoutFailed      = "payout.failed"
)

// ProviderEvent входящее событие вебхука платежного провайдера
type ProviderEvent struct {
	ID      string            `json:"id"`
	Type    string            `json:"type"`
	Created int64             `json:"created"`
	Data    ProviderEventData `json:"data"`
}

// ProviderEventData обертка полезной нагрузки события
type ProviderEventData struct {
	Object ProviderObject `json:"object"`
}

// ProviderObject объект провайдера внутри события. Набор заполненных полей
// зависит от типа события.
type ProviderObject struct {
	ID               string            `json:"id"`
	Amount           decimal.Decimal   `json:"amount"`
	Currency         string            `json:"currency"`
	Status           string            `json:"status"`
	PaymentIntent    string            `json:"payment_intent,omitempty"`
	FailureReason    string            `json:"failure_reason,omitempty"`
	Reversed         bool              `json:"reversed,omitempty"`
	ChargesEnabled   bool              `json:"charges_enabled,omitempty"`
	PayoutsEnabled   bool              `json:"payouts_enabled,omitempty"`
	DetailsSubmitted bool              `json:"details_submitted,omitempty"`
	AccountID        string            `json:"account,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	Splits           []VendorSplit     `json:"splits,omitempty"`
	LastPaymentError *PaymentError     `json:"last_payment_error,omitempty"`
}

// VendorSplit доля продавца в платеже с разделением
type VendorSplit struct {
	VendorID    string          `json:"vendor_id"`
	AccountID   string          `json:"account_id"`
	Amount      decimal.Decimal `json:"amount"`
	PlatformFee decimal.Decimal `json:"platform_fee"`
}

// PaymentError описание ошибки платежа от провайдера
type PaymentError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// OrderIDs собирает идентификаторы заказов из метаданных события в единый
// список: поддерживается список order_ids через запятую и устаревшее
// одиночное поле order_id. Дубликаты отбрасываются.
func (e *ProviderEvent) OrderIDs() []string {
	meta := e.Data.Object.Metadata
	if meta == nil {
		return nil
	}

	seen := make(map[string]struct{})
	var ids []string

	add := func(raw string) {
		id := strings.TrimSpace(raw)
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	for _, raw := range strings.Split(meta["order_ids"], ",") {
		add(raw)
	}
	add(meta["order_id"])

	return ids
}
