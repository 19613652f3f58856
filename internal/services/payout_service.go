package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-system/internal/apperror"
	"marketplace-system/internal/client"
	"marketplace-system/internal/config"
	"marketplace-system/internal/database"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"
	"marketplace-system/internal/redis"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// payoutLocker сериализация параллельных запросов выплат по продавцу
type payoutLocker interface {
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, value string) error
}

// payoutClient исходящие выплаты продавцам
type payoutClient interface {
	CreatePayout(ctx context.Context, req *client.PayoutRequest) (*client.PayoutResponse, error)
}

// PayoutService обрабатывает ручные выплаты продавцам. Схема fail closed:
// вызов провайдера происходит внутри транзакции до локальных записей, при
// его сбое транзакция откатывается без частичного состояния.
type PayoutService struct {
	db        *database.DB
	log       *logger.Logger
	provider  payoutClient
	locks     payoutLocker
	minAmount decimal.Decimal
	currency  string
	lockTTL   time.Duration
	now       func() time.Time
}

// NewPayoutService создаёт сервис выплат.
func NewPayoutService(db *database.DB, log *logger.Logger, provider payoutClient, locks payoutLocker, cfg *config.PayoutConfig) *PayoutService {
	minAmount, err := decimal.NewFromString(cfg.MinAmount)
	if err != nil {
		log.WithError(err).WithField("min_amount", cfg.MinAmount).Warn("Invalid payout minimum, falling back to 1.00")
		minAmount = decimal.NewFromInt(1)
	}

	return &PayoutService{
		db:        db,
		log:       log,
		provider:  provider,
		locks:     locks,
		minAmount: minAmount,
		currency:  cfg.Currency,
		lockTTL:   time.Duration(cfg.LockTTLSeconds) * time.Second,
		now:       time.Now,
	}
}

// RequestPayout выполняет ручную выплату продавцу. Баланс читается под
// блокировкой строки, параллельные запросы по одному продавцу дополнительно
// сериализуются блокировкой в Redis.
func (s *PayoutService) RequestPayout(ctx context.Context, req *models.RequestPayoutRequest) (*models.Payout, error) {
	if req.VendorID == "" {
		return nil, apperror.Validation("vendor_id is required", nil)
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, apperror.Validation("amount must be positive", nil)
	}
	if req.Amount.LessThan(s.minAmount) {
		return nil, apperror.Validation(fmt.Sprintf("amount is below the %s minimum", s.minAmount), nil)
	}

	lockKey := redis.GenerateKey("payout_lock", req.VendorID)
	lockValue := uuid.New().String()
	acquired, err := s.locks.SetNX(ctx, lockKey, lockValue, s.lockTTL)
	if err != nil {
		return nil, apperror.Unavailable("failed to acquire payout lock", err)
	}
	if !acquired {
		return nil, apperror.Conflict("payout already in progress for vendor", nil)
	}
	defer func() {
		// Отмена запроса клиентом не должна оставлять блокировку висеть до TTL.
		if err := s.locks.ReleaseLock(context.Background(), lockKey, lockValue); err != nil {
			s.log.WithError(err).WithField("vendor_id", req.VendorID).Warn("Failed to release payout lock")
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var available decimal.Decimal
	balanceQuery := `SELECT available FROM vendor_balances WHERE vendor_id = $1 FOR UPDATE`
	if err := tx.QueryRowContext(ctx, balanceQuery, req.VendorID).Scan(&available); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("vendor balance not found", err)
		}
		return nil, fmt.Errorf("failed to read vendor balance: %w", err)
	}

	if available.LessThan(req.Amount) {
		return nil, apperror.Conflict(
			fmt.Sprintf("insufficient balance: available %s, requested %s", available, req.Amount), nil)
	}

	var (
		accountID      string
		payoutsEnabled bool
	)
	accountQuery := `SELECT provider_account_id, payouts_enabled FROM vendor_accounts WHERE vendor_id = $1`
	if err := tx.QueryRowContext(ctx, accountQuery, req.VendorID).Scan(&accountID, &payoutsEnabled); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("vendor payment account not found", err)
		}
		return nil, fmt.Errorf("failed to read vendor account: %w", err)
	}
	if !payoutsEnabled {
		return nil, apperror.Conflict("payouts are disabled for vendor", nil)
	}

	// Вызов провайдера до любых записей: при сбое транзакция откатывается
	// и локальное состояние не меняется.
	resp, err := s.provider.CreatePayout(ctx, &client.PayoutRequest{
		DestinationAccount: accountID,
		Amount:             req.Amount,
		Currency:           s.currency,
	})
	if err != nil {
		return nil, apperror.Unavailable("payout provider call failed", err)
	}

	now := s.now()
	debitQuery := `UPDATE vendor_balances SET available = available - $1, updated_at = $2 WHERE vendor_id = $3`
	if _, err := tx.ExecContext(ctx, debitQuery, req.Amount, now, req.VendorID); err != nil {
		return nil, fmt.Errorf("failed to debit vendor balance: %w", err)
	}

	ledgerQuery := `
		INSERT INTO transactions (id, vendor_id, type, amount, currency, status, external_id, completed_at, created_at)
		VALUES ($1, $2, 'payout', $3, $4, 'completed', $5, $6, $7)
	`
	if _, err := tx.ExecContext(ctx, ledgerQuery,
		uuid.New().String(), req.VendorID, req.Amount.Neg(), s.currency, resp.ID, now, now); err != nil {
		return nil, fmt.Errorf("failed to insert payout transaction: %w", err)
	}

	payout := &models.Payout{
		ID:         uuid.New().String(),
		VendorID:   req.VendorID,
		ExternalID: resp.ID,
		Amount:     req.Amount,
		Currency:   s.currency,
		Status:     models.PayoutStatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	payoutQuery := `
		INSERT INTO payouts (id, vendor_id, external_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, payoutQuery,
		payout.ID, payout.VendorID, payout.ExternalID, payout.Amount, payout.Currency,
		payout.Status, payout.CreatedAt, payout.UpdatedAt); err != nil {
		return nil, fmt.Errorf("failed to insert payout: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit payout: %w", err)
	}

	s.log.WithField("vendor_id", req.VendorID).
		WithField("payout_id", payout.ID).
		WithField("amount", req.Amount.String()).
		Info("Payout requested")

	return payout, nil
}

// GetPayout возвращает выплату по идентификатору.
func (s *PayoutService) GetPayout(ctx context.Context, id string) (*models.Payout, error) {
	query := `
		SELECT id, vendor_id, external_id, amount, currency, status, failure_reason, notified_at, created_at, updated_at
		FROM payouts
		WHERE id = $1
	`
	p := &models.Payout{}
	if err := s.db.QueryRowContext(ctx, query, id).Scan(
		&p.ID, &p.VendorID, &p.ExternalID, &p.Amount, &p.Currency,
		&p.Status, &p.FailureReason, &p.NotifiedAt, &p.CreatedAt, &p.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("payout not found", err)
		}
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

// GetVendorBalance возвращает баланс продавца.
func (s *PayoutService) GetVendorBalance(ctx context.Context, vendorID string) (*models.VendorBalance, error) {
	query := `SELECT vendor_id, available, pending, reserved, updated_at FROM vendor_balances WHERE vendor_id = $1`
	b := &models.VendorBalance{}
	if err := s.db.QueryRowContext(ctx, query, vendorID).Scan(
		&b.VendorID, &b.Available, &b.Pending, &b.Reserved, &b.UpdatedAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("vendor balance not found", err)
		}
		return nil, fmt.Errorf("failed to get vendor balance: %w", err)
	}
	return b, nil
}
