package services

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"marketplace-system/internal/apperror"
	"marketplace-system/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

var couponCols = []string{
	"id", "code", "discount_type", "value", "minimum_order_amount", "maximum_discount_amount",
	"usage_limit", "used_count", "user_usage_limit", "starts_at", "expires_at", "product_ids",
	"first_time_only", "active", "vendor_id", "created_at", "updated_at",
}

type couponRow struct {
	code          string
	discountType  models.DiscountType
	value         string
	minOrder      interface{}
	maxDiscount   interface{}
	usageLimit    int
	usedCount     int
	userLimit     int
	startsAt      interface{}
	expiresAt     interface{}
	productIDs    interface{}
	firstTimeOnly bool
	active        bool
	vendorID      interface{}
}

func couponRows(r couponRow) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(couponCols).AddRow(
		"c-1", r.code, r.discountType, r.value, r.minOrder, r.maxDiscount,
		r.usageLimit, r.usedCount, r.userLimit, r.startsAt, r.expiresAt, r.productIDs,
		r.firstTimeOnly, r.active, r.vendorID, now, now,
	)
}

func strPtr(s string) *string { return &s }

func TestValidate_UnknownCode(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("MISSING").
		WillReturnError(sql.ErrNoRows)

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "missing", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Valid || res.Reason != models.ReasonInvalidCode {
		t.Fatalf("expected invalid_code, got %+v", res)
	}
}

func TestValidate_Inactive(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("OFF").
		WillReturnRows(couponRows(couponRow{code: "OFF", discountType: models.DiscountFixedAmount, value: "5", active: false}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "OFF", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonInactive {
		t.Fatalf("expected inactive, got %q", res.Reason)
	}
}

func TestValidate_WrongVendor(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("VEND").
		WillReturnRows(couponRows(couponRow{code: "VEND", discountType: models.DiscountFixedAmount, value: "5", active: true, vendorID: "v-2"}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "VEND", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonWrongVendor {
		t.Fatalf("expected wrong_vendor, got %q", res.Reason)
	}
}

func TestValidate_Window(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	future := time.Now().Add(time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("SOON").
		WillReturnRows(couponRows(couponRow{code: "SOON", discountType: models.DiscountFixedAmount, value: "5", active: true, startsAt: future}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "SOON", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonNotYetActive {
		t.Fatalf("expected not_yet_active, got %q", res.Reason)
	}

	past := time.Now().Add(-time.Hour)
	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("OLD").
		WillReturnRows(couponRows(couponRow{code: "OLD", discountType: models.DiscountFixedAmount, value: "5", active: true, expiresAt: past}))

	res, err = service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "OLD", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonExpired {
		t.Fatalf("expected expired, got %q", res.Reason)
	}
}

func TestValidate_UsageExhausted(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("FULL").
		WillReturnRows(couponRows(couponRow{code: "FULL", discountType: models.DiscountFixedAmount, value: "5", active: true, usageLimit: 10, usedCount: 10}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "FULL", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonUsageExhausted {
		t.Fatalf("expected usage_exhausted, got %q", res.Reason)
	}
}

func TestValidate_UserLimitReached(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("ONCE").
		WillReturnRows(couponRows(couponRow{code: "ONCE", discountType: models.DiscountFixedAmount, value: "5", active: true, userLimit: 1}))
	mock.ExpectQuery("SELECT COUNT(.+) FROM coupon_usages").
		WithArgs("ONCE", "u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "ONCE", VendorID: "v-1", UserID: strPtr("u-1"), Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonUserLimitReached {
		t.Fatalf("expected user_limit_reached, got %q", res.Reason)
	}
}

func TestValidate_UserLimit_GuestMatchedByEmail(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("ONCE").
		WillReturnRows(couponRows(couponRow{code: "ONCE", discountType: models.DiscountFixedAmount, value: "5", active: true, userLimit: 1}))
	mock.ExpectQuery("SELECT COUNT(.+) FROM coupon_usages").
		WithArgs("ONCE", "guest@example.com").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "ONCE", VendorID: "v-1", Email: strPtr("Guest@Example.COM"), Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid result, got %+v", res)
	}
}

func TestValidate_BelowMinimum(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("MIN100").
		WillReturnRows(couponRows(couponRow{code: "MIN100", discountType: models.DiscountFixedAmount, value: "5", active: true, minOrder: "100.00"}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "MIN100", VendorID: "v-1", Subtotal: decimal.RequireFromString("99.99"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonBelowMinimum {
		t.Fatalf("expected below_minimum, got %q", res.Reason)
	}
}

func TestValidate_ProductNotEligible(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("PROD").
		WillReturnRows(couponRows(couponRow{code: "PROD", discountType: models.DiscountFixedAmount, value: "5", active: true, productIDs: "{p-1,p-2}"}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "PROD", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
		ProductIDs: []string{"p-9"},
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonProductNotEligible {
		t.Fatalf("expected product_not_eligible, got %q", res.Reason)
	}
}

func TestValidate_NotFirstTime(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("WELCOME").
		WillReturnRows(couponRows(couponRow{code: "WELCOME", discountType: models.DiscountFixedAmount, value: "5", active: true, firstTimeOnly: true}))
	mock.ExpectQuery("SELECT COUNT(.+) FROM orders").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "WELCOME", VendorID: "v-1", UserID: strPtr("u-1"), Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if res.Reason != models.ReasonNotFirstTime {
		t.Fatalf("expected not_first_time, got %q", res.Reason)
	}
}

func TestValidate_PercentageCappedDiscount(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	// 10% of 900 is 90, capped at 50.
	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("SAVE10").
		WillReturnRows(couponRows(couponRow{
			code: "SAVE10", discountType: models.DiscountPercentage, value: "10",
			minOrder: "100.00", maxDiscount: "50.00", active: true,
		}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "save10", VendorID: "v-1", Subtotal: decimal.RequireFromString("900.00"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid {
		t.Fatalf("expected valid result, got %+v", res)
	}
	if !res.DiscountAmount.Equal(decimal.RequireFromString("50.00")) {
		t.Fatalf("expected discount 50.00, got %s", res.DiscountAmount)
	}
}

func TestValidate_FixedClampedToSubtotal(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("BIG").
		WillReturnRows(couponRows(couponRow{code: "BIG", discountType: models.DiscountFixedAmount, value: "500", active: true}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "BIG", VendorID: "v-1", Subtotal: decimal.RequireFromString("80.00"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.DiscountAmount.Equal(decimal.RequireFromString("80.00")) {
		t.Fatalf("expected discount clamped to 80.00, got %s", res.DiscountAmount)
	}
}

func TestValidate_FreeShipping(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("SHIPFREE").
		WillReturnRows(couponRows(couponRow{code: "SHIPFREE", discountType: models.DiscountFreeShip, value: "0", active: true}))

	res, err := service.Validate(context.Background(), &models.ValidateCouponRequest{
		Code: "SHIPFREE", VendorID: "v-1", Subtotal: decimal.RequireFromString("100"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if !res.Valid || !res.FreeShipping {
		t.Fatalf("expected free shipping result, got %+v", res)
	}
	if !res.DiscountAmount.IsZero() {
		t.Fatalf("expected zero discount, got %s", res.DiscountAmount)
	}
}

func TestComputeDiscount_Rounding(t *testing.T) {
	coupon := &models.Coupon{DiscountType: models.DiscountPercentage, Value: decimal.RequireFromString("7.5")}
	discount, _ := computeDiscount(coupon, decimal.RequireFromString("33.33"))
	// 33.33 * 0.075 = 2.49975, rounds half-up to 2.50
	if !discount.Equal(decimal.RequireFromString("2.50")) {
		t.Fatalf("expected 2.50, got %s", discount)
	}
}

func TestRecordUsage_InsertsAndIncrements(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	events := &mockEvents{}
	service := NewCouponService(db, newTestLogger(), events)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO coupon_usages").
		WithArgs(sqlmock.AnyArg(), "SAVE10", "o-1", nil, "buyer@example.com", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE coupons SET used_count = used_count \\+ 1").
		WithArgs(sqlmock.AnyArg(), "SAVE10").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := service.RecordUsage(context.Background(), &models.RecordUsageRequest{
		Code: "save10", OrderID: "o-1", Email: strPtr("Buyer@Example.com"),
		DiscountAmount: decimal.RequireFromString("10.00"),
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if len(events.couponRedeemed) != 1 {
		t.Fatalf("expected one coupon.redeemed event, got %d", len(events.couponRedeemed))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestRecordUsage_DuplicateOrderIsNoOp(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	events := &mockEvents{}
	service := NewCouponService(db, newTestLogger(), events)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO coupon_usages").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := service.RecordUsage(context.Background(), &models.RecordUsageRequest{
		Code: "SAVE10", OrderID: "o-1", DiscountAmount: decimal.RequireFromString("10.00"),
	})
	if err != nil {
		t.Fatalf("expected converging no-op, got %v", err)
	}
	if len(events.couponRedeemed) != 0 {
		t.Fatalf("expected no event for duplicate, got %d", len(events.couponRedeemed))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCreateCoupon_DuplicateCode(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectExec("INSERT INTO coupons").
		WillReturnError(&pqUniqueViolation)

	_, err := service.CreateCoupon(context.Background(), &models.CreateCouponRequest{
		Code: "DUP", DiscountType: models.DiscountFixedAmount, Value: decimal.RequireFromString("5"),
	})
	if !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateCoupon_InvalidPayload(t *testing.T) {
	db, _ := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	_, err := service.CreateCoupon(context.Background(), &models.CreateCouponRequest{
		Code: "BAD", DiscountType: models.DiscountPercentage, Value: decimal.RequireFromString("150"),
	})
	if !apperror.Is(err, apperror.KindValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestDeleteCoupon_UsageHistoryConflict(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectExec("DELETE FROM coupons").
		WithArgs("USED").
		WillReturnError(&pqForeignKeyViolation)

	if err := service.DeleteCoupon(context.Background(), "USED"); !apperror.Is(err, apperror.KindConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestDeleteCoupon_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectExec("DELETE FROM coupons").
		WithArgs("MISS").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := service.DeleteCoupon(context.Background(), "MISS"); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestGetCoupon_NotFound(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("MISS").
		WillReturnError(sql.ErrNoRows)

	if _, err := service.GetCoupon(context.Background(), "miss"); !apperror.Is(err, apperror.KindNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestUpdateCoupon_DeactivateOnly(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("SAVE10").
		WillReturnRows(couponRows(couponRow{code: "SAVE10", discountType: models.DiscountPercentage, value: "10", active: true}))
	mock.ExpectExec("UPDATE coupons").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM coupons").
		WithArgs("SAVE10").
		WillReturnRows(couponRows(couponRow{code: "SAVE10", discountType: models.DiscountPercentage, value: "10", active: false}))

	inactive := false
	updated, err := service.UpdateCoupon(context.Background(), "SAVE10", &models.UpdateCouponRequest{Active: &inactive})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if updated.Active {
		t.Fatalf("expected coupon deactivated")
	}
}

func TestListCoupons(t *testing.T) {
	db, mock := newMockDB(t)
	defer db.Close()
	service := NewCouponService(db, newTestLogger(), nil)

	rows := couponRows(couponRow{code: "A", discountType: models.DiscountFixedAmount, value: "5", active: true})
	now := time.Now()
	rows.AddRow("c-2", "B", models.DiscountPercentage, "10", nil, nil, 0, 0, 0, nil, nil, nil, false, true, nil, now, now)

	mock.ExpectQuery("SELECT (.+) FROM coupons ORDER BY created_at DESC").
		WillReturnRows(rows)

	list, err := service.ListCoupons(context.Background(), 0, 0)
	if err != nil || len(list) != 2 {
		t.Fatalf("list failed: %v len=%d", err, len(list))
	}
}
