package handlers

import (
	"context"

	"marketplace-system/internal/models"
)

// ----- Coupons -----

type CouponService interface {
	Validate(ctx context.Context, req *models.ValidateCouponRequest) (*models.ValidationResult, error)
	CreateCoupon(ctx context.Context, req *models.CreateCouponRequest) (*models.Coupon, error)
	GetCoupon(ctx context.Context, code string) (*models.Coupon, error)
	UpdateCoupon(ctx context.Context, code string, req *models.UpdateCouponRequest) (*models.Coupon, error)
	DeleteCoupon(ctx context.Context, code string) error
	ListCoupons(ctx context.Context, limit, offset int) ([]*models.Coupon, error)
}

// ----- Webhooks -----

type EventReconciler interface {
	HandleEvent(ctx context.Context, event *models.ProviderEvent) error
}

type SignatureVerifier interface {
	Verify(payload []byte, header string) error
}

// ----- Payouts -----

type PayoutService interface {
	RequestPayout(ctx context.Context, req *models.RequestPayoutRequest) (*models.Payout, error)
	GetPayout(ctx context.Context, id string) (*models.Payout, error)
	GetVendorBalance(ctx context.Context, vendorID string) (*models.VendorBalance, error)
}

// ----- Health -----

type DBHealth interface {
	Health() error
}

type RedisHealth interface {
	Health(ctx context.Context) error
}
