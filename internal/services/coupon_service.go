package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marketplace-system/internal/apperror"
	"marketplace-system/internal/database"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// couponEvents публикация событий погашения купонов
type couponEvents interface {
	PublishCouponRedeemed(payload models.CouponRedeemedEvent) error
}

// CouponService управляет купонами: проверка при оформлении заказа,
// фиксация погашения после оплаты и админский CRUD.
type CouponService struct {
	db     *database.DB
	log    *logger.Logger
	events couponEvents
	now    func() time.Time
}

// NewCouponService создаёт сервис купонов.
func NewCouponService(db *database.DB, log *logger.Logger, events couponEvents) *CouponService {
	return &CouponService{
		db:     db,
		log:    log,
		events: events,
		now:    time.Now,
	}
}

const couponColumns = `id, code, discount_type, value, minimum_order_amount, maximum_discount_amount,
	usage_limit, used_count, user_usage_limit, starts_at, expires_at, product_ids,
	first_time_only, active, vendor_id, created_at, updated_at`

func scanCoupon(row interface{ Scan(...interface{}) error }) (*models.Coupon, error) {
	c := &models.Coupon{}
	err := row.Scan(
		&c.ID, &c.Code, &c.DiscountType, &c.Value, &c.MinimumOrderAmount, &c.MaximumDiscountAmount,
		&c.UsageLimit, &c.UsedCount, &c.UserUsageLimit, &c.StartsAt, &c.ExpiresAt, pq.Array(&c.ProductIDs),
		&c.FirstTimeOnly, &c.Active, &c.VendorID, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Validate проверяет купон для корзины без побочных эффектов. Отказ — это
// не ошибка: результат с Valid=false и кодом причины. Проверки упорядочены
// от дешёвых к требующим дополнительных запросов и обрываются на первой
// неудачной.
func (s *CouponService) Validate(ctx context.Context, req *models.ValidateCouponRequest) (*models.ValidationResult, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if code == "" {
		return rejected(models.ReasonInvalidCode), nil
	}

	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, code))
	if err != nil {
		if err == sql.ErrNoRows {
			return rejected(models.ReasonInvalidCode), nil
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}

	if !coupon.Active {
		return rejected(models.ReasonInactive), nil
	}

	if coupon.VendorID != nil && *coupon.VendorID != req.VendorID {
		return rejected(models.ReasonWrongVendor), nil
	}

	now := s.now()
	if coupon.StartsAt != nil && now.Before(*coupon.StartsAt) {
		return rejected(models.ReasonNotYetActive), nil
	}
	if coupon.ExpiresAt != nil && now.After(*coupon.ExpiresAt) {
		return rejected(models.ReasonExpired), nil
	}

	if coupon.UsageLimit > 0 && coupon.UsedCount >= coupon.UsageLimit {
		return rejected(models.ReasonUsageExhausted), nil
	}

	if coupon.UserUsageLimit > 0 {
		used, err := s.userUsageCount(ctx, code, req.UserID, req.Email)
		if err != nil {
			return nil, err
		}
		if used >= coupon.UserUsageLimit {
			return rejected(models.ReasonUserLimitReached), nil
		}
	}

	if coupon.MinimumOrderAmount != nil && req.Subtotal.LessThan(*coupon.MinimumOrderAmount) {
		return rejected(models.ReasonBelowMinimum), nil
	}

	if len(coupon.ProductIDs) > 0 && !intersects(coupon.ProductIDs, req.ProductIDs) {
		return rejected(models.ReasonProductNotEligible), nil
	}

	if coupon.FirstTimeOnly {
		returning, err := s.hasPaidOrder(ctx, req.UserID, req.Email)
		if err != nil {
			return nil, err
		}
		if returning {
			return rejected(models.ReasonNotFirstTime), nil
		}
	}

	discount, freeShipping := computeDiscount(coupon, req.Subtotal)
	return &models.ValidationResult{
		Valid:          true,
		DiscountAmount: discount,
		FreeShipping:   freeShipping,
	}, nil
}

func rejected(reason string) *models.ValidationResult {
	return &models.ValidationResult{Valid: false, Reason: reason, DiscountAmount: decimal.Zero}
}

// userUsageCount считает погашения купона покупателем: по user_id для
// авторизованных, по email в нижнем регистре для гостей.
func (s *CouponService) userUsageCount(ctx context.Context, code string, userID, email *string) (int, error) {
	var (
		query string
		arg   string
	)
	switch {
	case userID != nil && *userID != "":
		query = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1 AND user_id = $2`
		arg = *userID
	case email != nil && *email != "":
		query = `SELECT COUNT(*) FROM coupon_usages WHERE coupon_code = $1 AND email = $2`
		arg = strings.ToLower(*email)
	default:
		return 0, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, code, arg).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count coupon usages: %w", err)
	}
	return count, nil
}

// hasPaidOrder сообщает, есть ли у покупателя оплаченный заказ.
func (s *CouponService) hasPaidOrder(ctx context.Context, userID, email *string) (bool, error) {
	var (
		query string
		arg   string
	)
	switch {
	case userID != nil && *userID != "":
		query = `SELECT COUNT(*) FROM orders WHERE user_id = $1 AND payment_status = 'succeeded'`
		arg = *userID
	case email != nil && *email != "":
		query = `SELECT COUNT(*) FROM orders WHERE LOWER(email) = $1 AND payment_status = 'succeeded'`
		arg = strings.ToLower(*email)
	default:
		return false, nil
	}

	var count int
	if err := s.db.QueryRowContext(ctx, query, arg).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count paid orders: %w", err)
	}
	return count > 0, nil
}

func intersects(restriction, cart []string) bool {
	set := make(map[string]struct{}, len(restriction))
	for _, id := range restriction {
		set[id] = struct{}{}
	}
	for _, id := range cart {
		if _, ok := set[id]; ok {
			return true
		}
	}
	return false
}

// computeDiscount рассчитывает скидку. Скидка никогда не превышает subtotal,
// округление до 2 знаков (half-up).
func computeDiscount(coupon *models.Coupon, subtotal decimal.Decimal) (decimal.Decimal, bool) {
	var discount decimal.Decimal

	switch coupon.DiscountType {
	case models.DiscountPercentage:
		discount = subtotal.Mul(coupon.Value).Div(decimal.NewFromInt(100))
		if coupon.MaximumDiscountAmount != nil && discount.GreaterThan(*coupon.MaximumDiscountAmount) {
			discount = *coupon.MaximumDiscountAmount
		}
	case models.DiscountFixedAmount:
		discount = coupon.Value
	case models.DiscountFreeShip:
		return decimal.Zero, true
	default:
		return decimal.Zero, false
	}

	if discount.GreaterThan(subtotal) {
		discount = subtotal
	}
	if discount.IsNegative() {
		discount = decimal.Zero
	}

	return discount.Round(2), false
}

// RecordUsageWithTx фиксирует погашение купона в рамках внешней транзакции:
// вставка строки использования и атомарный инкремент счётчика. order_id
// уникален, поэтому повторный вызов с тем же заказом сходится без второго
// инкремента. Возвращает признак того, что погашение записано впервые.
func (s *CouponService) RecordUsageWithTx(ctx context.Context, tx *sql.Tx, req *models.RecordUsageRequest) (bool, error) {
	code := strings.ToUpper(strings.TrimSpace(req.Code))

	var email *string
	if req.Email != nil {
		lowered := strings.ToLower(*req.Email)
		email = &lowered
	}

	insertQuery := `
		INSERT INTO coupon_usages (id, coupon_code, order_id, user_id, email, discount_amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (order_id) DO NOTHING
	`
	result, err := tx.ExecContext(ctx, insertQuery,
		uuid.New().String(), code, req.OrderID, req.UserID, email, req.DiscountAmount, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to insert coupon usage: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Погашение этого заказа уже записано.
		s.log.WithField("order_id", req.OrderID).Debug("Coupon usage already recorded")
		return false, nil
	}

	incrQuery := `UPDATE coupons SET used_count = used_count + 1, updated_at = $1 WHERE code = $2`
	if _, err := tx.ExecContext(ctx, incrQuery, s.now(), code); err != nil {
		return false, fmt.Errorf("failed to increment coupon usage: %w", err)
	}

	return true, nil
}

// RecordUsage фиксирует погашение купона после подтверждения оплаты в
// собственной транзакции.
func (s *CouponService) RecordUsage(ctx context.Context, req *models.RecordUsageRequest) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	recorded, err := s.RecordUsageWithTx(ctx, tx, req)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit coupon usage: %w", err)
	}

	if !recorded {
		return nil
	}

	code := strings.ToUpper(strings.TrimSpace(req.Code))
	if s.events != nil {
		if err := s.events.PublishCouponRedeemed(models.CouponRedeemedEvent{
			Code:           code,
			OrderID:        req.OrderID,
			DiscountAmount: req.DiscountAmount,
		}); err != nil {
			s.log.WithError(err).WithField("coupon_code", code).Warn("Failed to publish coupon redeemed event")
		}
	}

	s.log.WithField("coupon_code", code).WithField("order_id", req.OrderID).Info("Coupon usage recorded")
	return nil
}

// CreateCoupon создаёт купон.
func (s *CouponService) CreateCoupon(ctx context.Context, req *models.CreateCouponRequest) (*models.Coupon, error) {
	if err := validateCouponPayload(req.DiscountType, req.Value); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	now := s.now()
	coupon := &models.Coupon{
		ID:                    uuid.New().String(),
		Code:                  strings.ToUpper(strings.TrimSpace(req.Code)),
		DiscountType:          req.DiscountType,
		Value:                 req.Value,
		MinimumOrderAmount:    req.MinimumOrderAmount,
		MaximumDiscountAmount: req.MaximumDiscountAmount,
		UsageLimit:            req.UsageLimit,
		UserUsageLimit:        req.UserUsageLimit,
		StartsAt:              req.StartsAt,
		ExpiresAt:             req.ExpiresAt,
		ProductIDs:            req.ProductIDs,
		FirstTimeOnly:         req.FirstTimeOnly,
		Active:                true,
		VendorID:              req.VendorID,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	if coupon.Code == "" {
		return nil, apperror.Validation("code is required", nil)
	}

	query := `
		INSERT INTO coupons (id, code, discount_type, value, minimum_order_amount, maximum_discount_amount,
			usage_limit, used_count, user_usage_limit, starts_at, expires_at, product_ids,
			first_time_only, active, vendor_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err := s.db.ExecContext(ctx, query,
		coupon.ID, coupon.Code, coupon.DiscountType, coupon.Value,
		coupon.MinimumOrderAmount, coupon.MaximumDiscountAmount,
		coupon.UsageLimit, coupon.UserUsageLimit, coupon.StartsAt, coupon.ExpiresAt,
		pq.Array(coupon.ProductIDs), coupon.FirstTimeOnly, coupon.Active, coupon.VendorID,
		coupon.CreatedAt, coupon.UpdatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return nil, apperror.Conflict("coupon code already exists", err)
		}
		return nil, fmt.Errorf("failed to create coupon: %w", err)
	}

	s.log.WithField("coupon_code", coupon.Code).Info("Coupon created")
	return coupon, nil
}

// GetCoupon возвращает купон по коду.
func (s *CouponService) GetCoupon(ctx context.Context, code string) (*models.Coupon, error) {
	query := `SELECT ` + couponColumns + ` FROM coupons WHERE code = $1`
	coupon, err := scanCoupon(s.db.QueryRowContext(ctx, query, strings.ToUpper(strings.TrimSpace(code))))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("coupon not found", err)
		}
		return nil, fmt.Errorf("failed to get coupon: %w", err)
	}
	return coupon, nil
}

// ListCoupons возвращает список купонов.
func (s *CouponService) ListCoupons(ctx context.Context, limit, offset int) ([]*models.Coupon, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `SELECT ` + couponColumns + ` FROM coupons ORDER BY created_at DESC LIMIT $1 OFFSET $2`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list coupons: %w", err)
	}
	defer rows.Close()

	var coupons []*models.Coupon
	for rows.Next() {
		c, err := scanCoupon(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coupon: %w", err)
		}
		coupons = append(coupons, c)
	}

	return coupons, nil
}

// UpdateCoupon обновляет параметры купона.
func (s *CouponService) UpdateCoupon(ctx context.Context, code string, req *models.UpdateCouponRequest) (*models.Coupon, error) {
	code = strings.ToUpper(strings.TrimSpace(code))

	existing, err := s.GetCoupon(ctx, code)
	if err != nil {
		return nil, err
	}

	if req.Value != nil {
		existing.Value = *req.Value
	}
	if req.MinimumOrderAmount != nil {
		existing.MinimumOrderAmount = req.MinimumOrderAmount
	}
	if req.MaximumDiscountAmount != nil {
		existing.MaximumDiscountAmount = req.MaximumDiscountAmount
	}
	if req.UsageLimit != nil {
		existing.UsageLimit = *req.UsageLimit
	}
	if req.UserUsageLimit != nil {
		existing.UserUsageLimit = *req.UserUsageLimit
	}
	if req.StartsAt != nil {
		existing.StartsAt = req.StartsAt
	}
	if req.ExpiresAt != nil {
		existing.ExpiresAt = req.ExpiresAt
	}
	if req.Active != nil {
		existing.Active = *req.Active
	}

	if err := validateCouponPayload(existing.DiscountType, existing.Value); err != nil {
		return nil, apperror.Validation(err.Error(), err)
	}

	query := `
		UPDATE coupons
		SET value = $1, minimum_order_amount = $2, maximum_discount_amount = $3,
			usage_limit = $4, user_usage_limit = $5, starts_at = $6, expires_at = $7,
			active = $8, updated_at = $9
		WHERE code = $10
	`
	result, err := s.db.ExecContext(ctx, query,
		existing.Value, existing.MinimumOrderAmount, existing.MaximumDiscountAmount,
		existing.UsageLimit, existing.UserUsageLimit, existing.StartsAt, existing.ExpiresAt,
		existing.Active, s.now(), code)
	if err != nil {
		return nil, fmt.Errorf("failed to update coupon: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return nil, apperror.NotFound("coupon not found", nil)
	}

	return s.GetCoupon(ctx, code)
}

// DeleteCoupon удаляет купон. Купон с историей погашений удалить нельзя —
// его следует деактивировать.
func (s *CouponService) DeleteCoupon(ctx context.Context, code string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM coupons WHERE code = $1",
		strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23503" {
			return apperror.Conflict("coupon has usage history, deactivate it instead", err)
		}
		return fmt.Errorf("failed to delete coupon: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return apperror.NotFound("coupon not found", nil)
	}
	return nil
}

func validateCouponPayload(discountType models.DiscountType, value decimal.Decimal) error {
	switch discountType {
	case models.DiscountFixedAmount:
		if value.IsNegative() {
			return fmt.Errorf("value must be non-negative for fixed_amount discount")
		}
	case models.DiscountPercentage:
		if value.LessThanOrEqual(decimal.Zero) || value.GreaterThan(decimal.NewFromInt(100)) {
			return fmt.Errorf("percentage value must be between 0 and 100")
		}
	case models.DiscountFreeShip:
		// value is ignored
	default:
		return fmt.Errorf("invalid discount_type")
	}
	return nil
}
