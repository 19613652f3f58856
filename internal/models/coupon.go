package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// DiscountType тип скидки купона
type DiscountType string

const (
	DiscountPercentage  DiscountType = "percentage"
	DiscountFixedAmount DiscountType = "fixed_amount"
	DiscountFreeShip    DiscountType = "free_shipping"
)

// Коды причин отказа при проверке купона
const (
	ReasonInvalidCode        = "invalid_code"
	ReasonInactive           = "inactive"
	ReasonWrongVendor        = "wrong_vendor"
	ReasonNotYetActive       = "not_yet_active"
	ReasonExpired            = "expired"
	ReasonUsageExhausted     = "usage_exhausted"
	ReasonUserLimitReached   = "user_limit_reached"
	ReasonBelowMinimum       = "below_minimum"
	ReasonProductNotEligible = "product_not_eligible"
	ReasonNotFirstTime       = "not_first_time"
)

// Coupon представляет купон на скидку
type Coupon struct {
	ID                    string           `json:"id"`
	Code                  string           `json:"code"`
	DiscountType          DiscountType     `json:"discount_type"`
	Value                 decimal.Decimal  `json:"value"`
	MinimumOrderAmount    *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	UsageLimit            int              `json:"usage_limit"`
	UsedCount             int              `json:"used_count"`
	UserUsageLimit        int              `json:"user_usage_limit"`
	StartsAt              *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt             *time.Time       `json:"expires_at,omitempty"`
	ProductIDs            []string         `json:"product_ids,omitempty"`
	FirstTimeOnly         bool             `json:"first_time_only"`
	Active                bool             `json:"active"`
	VendorID              *string          `json:"vendor_id,omitempty"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// CouponUsage фиксирует погашение купона по заказу
type CouponUsage struct {
	ID             string          `json:"id"`
	CouponCode     string          `json:"coupon_code"`
	OrderID        string          `json:"order_id"`
	UserID         *string         `json:"user_id,omitempty"`
	Email          *string         `json:"email,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ValidateCouponRequest запрос на проверку купона при оформлении заказа
type ValidateCouponRequest struct {
	Code       string          `json:"code"`
	VendorID   string          `json:"vendor_id"`
	UserID     *string         `json:"user_id,omitempty"`
	Email      *string         `json:"email,omitempty"`
	Subtotal   decimal.Decimal `json:"subtotal"`
	ProductIDs []string        `json:"product_ids,omitempty"`
}

// ValidationResult результат проверки купона
type ValidationResult struct {
	Valid          bool            `json:"valid"`
	Reason         string          `json:"reason,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	FreeShipping   bool            `json:"free_shipping"`
}

// RecordUsageRequest запрос на фиксацию погашения купона после оплаты
type RecordUsageRequest struct {
	Code           string          `json:"code"`
	OrderID        string          `json:"order_id"`
	UserID         *string         `json:"user_id,omitempty"`
	Email          *string         `json:"email,omitempty"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
}

// CreateCouponRequest запрос на создание купона
type CreateCouponRequest struct {
	Code                  string           `json:"code"`
	DiscountType          DiscountType     `json:"discount_type"`
	Value                 decimal.Decimal  `json:"value"`
	MinimumOrderAmount    *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	UsageLimit            int              `json:"usage_limit"`
	UserUsageLimit        int              `json:"user_usage_limit"`
	StartsAt              *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt             *time.Time       `json:"expires_at,omitempty"`
	ProductIDs            []string         `json:"product_ids,omitempty"`
	FirstTimeOnly         bool             `json:"first_time_only"`
	VendorID              *string          `json:"vendor_id,omitempty"`
}

// UpdateCouponRequest запрос на изменение купона
type UpdateCouponRequest struct {
	Value                 *decimal.Decimal `json:"value,omitempty"`
	MinimumOrderAmount    *decimal.Decimal `json:"minimum_order_amount,omitempty"`
	MaximumDiscountAmount *decimal.Decimal `json:"maximum_discount_amount,omitempty"`
	UsageLimit            *int             `json:"usage_limit,omitempty"`
	UserUsageLimit        *int             `json:"user_usage_limit,omitempty"`
	StartsAt              *time.Time       `json:"starts_at,omitempty"`
	ExpiresAt             *time.Time       `json:"expires_at,omitempty"`
	Active                *bool            `json:"active,omitempty"`
}
