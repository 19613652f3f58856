package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marketplace-system/internal/client"
	"marketplace-system/internal/database"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// reconcilerEvents публикация событий расчетов после коммита
type reconcilerEvents interface {
	PublishOrderPaid(payload models.OrderPaidEvent) error
	PublishRefundCompleted(payload models.RefundCompletedEvent) error
	PublishPayoutPaid(payload models.PayoutPaidEvent) error
}

// transferClient исходящие переводы средств продавцам
type transferClient interface {
	CreateTransfer(ctx context.Context, req *client.TransferRequest) (*client.TransferResponse, error)
}

// couponRedeemer фиксация погашения купона в рамках транзакции расчета
type couponRedeemer interface {
	RecordUsageWithTx(ctx context.Context, tx *sql.Tx, req *models.RecordUsageRequest) (bool, error)
}

// ReconcilerService зеркалирует события платежного провайдера в локальные
// записи заказов, реестра и балансов. Провайдер — источник истины и владелец
// повторных доставок, поэтому каждая мутация идемпотентна: условные UPDATE,
// upsert по внешним идентификаторам.
type ReconcilerService struct {
	db       *database.DB
	log      *logger.Logger
	provider transferClient
	events   reconcilerEvents
	coupons  couponRedeemer
	currency string
	now      func() time.Time
}

// NewReconcilerService создаёт сервис сверки платежей.
func NewReconcilerService(db *database.DB, log *logger.Logger, provider transferClient, events reconcilerEvents, coupons couponRedeemer, currency string) *ReconcilerService {
	return &ReconcilerService{
		db:       db,
		log:      log,
		provider: provider,
		events:   events,
		coupons:  coupons,
		currency: currency,
		now:      time.Now,
	}
}

// HandleEvent обрабатывает событие провайдера. Неизвестные типы принимаются
// без ошибки.
func (s *ReconcilerService) HandleEvent(ctx context.Context, event *models.ProviderEvent) error {
	replay, err := s.markEventSeen(ctx, event)
	if err != nil {
		return err
	}
	if replay {
		s.log.WithField("event_id", event.ID).WithField("event_type", event.Type).Info("Provider event redelivered")
	}

	switch event.Type {
	case models.ProviderCheckoutCompleted:
		return s.handleCheckoutCompleted(ctx, event)
	case models.ProviderPaymentSucceeded:
		// Переход владеет checkout.session.completed, здесь только лог.
		s.log.WithField("payment_intent", event.Data.Object.ID).Info("Payment succeeded")
		return nil
	case models.ProviderPaymentFailed:
		return s.handlePaymentFailed(ctx, event)
	case models.ProviderRefundCreated:
		return s.handleRefundCreated(ctx, event)
	case models.ProviderRefundUpdated:
		return s.handleRefundUpdated(ctx, event)
	case models.ProviderRefundFailed:
		return s.handleRefundFailed(ctx, event)
	case models.ProviderTransferCreated:
		return s.handleTransferCreated(ctx, event)
	case models.ProviderTransferUpdated:
		return s.handleTransferUpdated(ctx, event)
	case models.ProviderAccountUpdated, models.ProviderCapabilityUpdated:
		return s.handleAccountUpdated(ctx, event)
	case models.ProviderPayoutCreated:
		return s.handlePayoutCreated(ctx, event)
	case models.ProviderPayoutUpdated:
		return s.handlePayoutUpdated(ctx, event)
	case models.ProviderPayoutPaid:
		return s.handlePayoutPaid(ctx, event)
	case models.ProviderPayoutFailed:
		return s.handlePayoutFailed(ctx, event)
	default:
		s.log.WithField("event_type", event.Type).Info("Ignoring unrecognized provider event")
		return nil
	}
}

// markEventSeen записывает событие в журнал доставок. Возвращает true, если
// событие уже приходило.
func (s *ReconcilerService) markEventSeen(ctx context.Context, event *models.ProviderEvent) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, event.ID, event.Type, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to record webhook event: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows == 0, nil
}

// handleCheckoutCompleted рассчитывает все заказы сессии и выполняет переводы
// по долям продавцов. Сбой перевода одной доли не блокирует остальные.
func (s *ReconcilerService) handleCheckoutCompleted(ctx context.Context, event *models.ProviderEvent) error {
	orderIDs := event.OrderIDs()
	if len(orderIDs) == 0 {
		s.log.WithField("event_id", event.ID).Warn("Checkout event without order ids")
		return nil
	}

	for _, orderID := range orderIDs {
		if err := s.settleOrder(ctx, orderID, event); err != nil {
			return fmt.Errorf("failed to settle order %s: %w", orderID, err)
		}
	}

	for _, split := range event.Data.Object.Splits {
		if err := s.transferSplit(ctx, event, split); err != nil {
			// Доли независимы: ошибка логируется и остается для ручного
			// разбора, остальные переводы продолжаются.
			s.log.WithError(err).
				WithField("vendor_id", split.VendorID).
				WithField("event_id", event.ID).
				Error("Vendor split transfer failed")
		}
	}

	return nil
}

// settleOrder переводит заказ в оплаченное состояние. Условный UPDATE
// выигрывает ровно один раз: только победитель списывает остатки, пишет
// запись реестра и фиксирует купон, поэтому повторная доставка сходится.
func (s *ReconcilerService) settleOrder(ctx context.Context, orderID string, event *models.ProviderEvent) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	updateQuery := `
		UPDATE orders
		SET payment_status = 'succeeded', status = 'processing', payment_intent_id = $1, updated_at = $2
		WHERE id = $3 AND payment_status = 'pending'
	`
	result, err := tx.ExecContext(ctx, updateQuery, event.Data.Object.PaymentIntent, now, orderID)
	if err != nil {
		return fmt.Errorf("failed to update order: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		s.log.WithField("order_id", orderID).Debug("Order already settled")
		return nil
	}

	var (
		vendorID   string
		userID     *string
		email      string
		discount   decimal.Decimal
		total      decimal.Decimal
		couponCode *string
	)
	selectQuery := `SELECT vendor_id, user_id, email, discount, total, coupon_code FROM orders WHERE id = $1`
	if err := tx.QueryRowContext(ctx, selectQuery, orderID).Scan(&vendorID, &userID, &email, &discount, &total, &couponCode); err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}

	stockQuery := `
		UPDATE products
		SET stock = stock - oi.quantity
		FROM order_items oi
		WHERE oi.order_id = $1 AND products.id = oi.product_id
	`
	if _, err := tx.ExecContext(ctx, stockQuery, orderID); err != nil {
		return fmt.Errorf("failed to decrement stock: %w", err)
	}

	saleQuery := `
		INSERT INTO transactions (id, vendor_id, order_id, type, amount, currency, status, external_id, completed_at, created_at)
		VALUES ($1, $2, $3, 'sale', $4, $5, 'completed', $6, $7, $8)
	`
	if _, err := tx.ExecContext(ctx, saleQuery,
		uuid.New().String(), vendorID, orderID, total, s.currency,
		event.Data.Object.PaymentIntent, now, now); err != nil {
		return fmt.Errorf("failed to insert sale transaction: %w", err)
	}

	if couponCode != nil && *couponCode != "" && s.coupons != nil {
		if _, err := s.coupons.RecordUsageWithTx(ctx, tx, &models.RecordUsageRequest{
			Code:           *couponCode,
			OrderID:        orderID,
			UserID:         userID,
			Email:          &email,
			DiscountAmount: discount,
		}); err != nil {
			return fmt.Errorf("failed to record coupon usage: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishOrderPaid(models.OrderPaidEvent{
			OrderID:  orderID,
			VendorID: vendorID,
			Total:    total,
			Currency: s.currency,
		}); err != nil {
			s.log.WithError(err).WithField("order_id", orderID).Warn("Failed to publish order paid event")
		}
	}

	s.log.WithField("order_id", orderID).WithField("vendor_id", vendorID).Info("Order settled")
	return nil
}

// transferSplit переводит долю продавцу и пишет записи реестра. Комиссия
// платформы фиксируется только после успешного перевода. Вызов провайдера
// нельзя сделать идемпотентным сам по себе, поэтому доля сначала
// закрепляется записью в журнале доставок: при повторной доставке события
// вставка проигрывает и деньги не переводятся второй раз.
func (s *ReconcilerService) transferSplit(ctx context.Context, event *models.ProviderEvent, split models.VendorSplit) error {
	claimed, err := s.claimSplit(ctx, event, split.VendorID)
	if err != nil {
		return err
	}
	if !claimed {
		s.log.WithField("event_id", event.ID).
			WithField("vendor_id", split.VendorID).
			Info("Vendor split already transferred")
		return nil
	}

	resp, err := s.provider.CreateTransfer(ctx, &client.TransferRequest{
		DestinationAccount: split.AccountID,
		Amount:             split.Amount,
		Currency:           s.currency,
		TransferGroup:      event.Data.Object.ID,
	})
	if err != nil {
		// Закрепление снимается, чтобы повторная доставка повторила перевод.
		s.releaseSplitClaim(ctx, event, split.VendorID)
		return fmt.Errorf("transfer call failed: %w", err)
	}

	now := s.now()
	transferQuery := `
		INSERT INTO transactions (id, vendor_id, type, amount, currency, status, external_id, created_at)
		VALUES ($1, $2, 'transfer', $3, $4, 'pending', $5, $6)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, transferQuery,
		uuid.New().String(), split.VendorID, split.Amount, s.currency, resp.ID, now); err != nil {
		return fmt.Errorf("failed to insert transfer transaction: %w", err)
	}

	feeQuery := `
		INSERT INTO transactions (id, vendor_id, type, amount, currency, status, external_id, completed_at, created_at)
		VALUES ($1, $2, 'platform_fee', $3, $4, 'completed', $5, $6, $7)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, feeQuery,
		uuid.New().String(), split.VendorID, split.PlatformFee, s.currency,
		"fee_"+resp.ID, now, now); err != nil {
		return fmt.Errorf("failed to insert platform fee transaction: %w", err)
	}

	s.log.WithField("vendor_id", split.VendorID).WithField("transfer_id", resp.ID).Info("Vendor split transferred")
	return nil
}

func splitClaimID(event *models.ProviderEvent, vendorID string) string {
	return fmt.Sprintf("%s:%s", event.ID, vendorID)
}

// claimSplit закрепляет долю за текущей доставкой события. Возвращает false,
// если доля уже была переведена ранее.
func (s *ReconcilerService) claimSplit(ctx context.Context, event *models.ProviderEvent, vendorID string) (bool, error) {
	query := `
		INSERT INTO webhook_events (event_id, event_type, processed_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_id) DO NOTHING
	`
	result, err := s.db.ExecContext(ctx, query, splitClaimID(event, vendorID), "checkout.split", s.now())
	if err != nil {
		return false, fmt.Errorf("failed to claim vendor split: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows > 0, nil
}

func (s *ReconcilerService) releaseSplitClaim(ctx context.Context, event *models.ProviderEvent, vendorID string) {
	query := `DELETE FROM webhook_events WHERE event_id = $1`
	if _, err := s.db.ExecContext(ctx, query, splitClaimID(event, vendorID)); err != nil {
		s.log.WithError(err).
			WithField("event_id", event.ID).
			WithField("vendor_id", vendorID).
			Warn("Failed to release split claim")
	}
}

// handlePaymentFailed помечает заказ неоплаченным. Заказ ищется по
// сохранённому идентификатору платежа; отсутствие совпадения — no-op.
func (s *ReconcilerService) handlePaymentFailed(ctx context.Context, event *models.ProviderEvent) error {
	reason := "payment failed"
	if event.Data.Object.LastPaymentError != nil && event.Data.Object.LastPaymentError.Message != "" {
		reason = event.Data.Object.LastPaymentError.Message
	}

	query := `
		UPDATE orders
		SET payment_status = 'failed', payment_failure_reason = $1, updated_at = $2
		WHERE payment_intent_id = $3 AND payment_status = 'pending'
	`
	result, err := s.db.ExecContext(ctx, query, reason, s.now(), event.Data.Object.ID)
	if err != nil {
		return fmt.Errorf("failed to mark order failed: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		// Событие может ссылаться на брошенную сессию без заказа.
		s.log.WithField("payment_intent", event.Data.Object.ID).Info("Payment failed event without matching order")
		return nil
	}

	s.log.WithField("payment_intent", event.Data.Object.ID).WithField("reason", reason).Info("Order payment marked failed")
	return nil
}

// handleRefundCreated зеркалирует новый возврат как pending запись реестра с
// отрицательной суммой. Ключ идемпотентности — внешний id возврата.
func (s *ReconcilerService) handleRefundCreated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	var orderID, vendorID string
	lookupQuery := `SELECT id, vendor_id FROM orders WHERE payment_intent_id = $1`
	if err := s.db.QueryRowContext(ctx, lookupQuery, obj.PaymentIntent).Scan(&orderID, &vendorID); err != nil {
		if err == sql.ErrNoRows {
			s.log.WithField("payment_intent", obj.PaymentIntent).Warn("Refund event without matching order")
			return nil
		}
		return fmt.Errorf("failed to find order for refund: %w", err)
	}

	query := `
		INSERT INTO transactions (id, vendor_id, order_id, type, amount, currency, status, external_id, created_at)
		VALUES ($1, $2, $3, 'refund', $4, $5, 'pending', $6, $7)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), vendorID, orderID, obj.Amount.Neg(), s.currency, obj.ID, s.now()); err != nil {
		return fmt.Errorf("failed to insert refund transaction: %w", err)
	}

	s.log.WithField("refund_id", obj.ID).WithField("order_id", orderID).Info("Refund mirrored")
	return nil
}

// handleRefundUpdated переносит статус возврата провайдера в запись реестра.
// Публикация refund.completed отсечена по переходу, а не по доставке.
func (s *ReconcilerService) handleRefundUpdated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	status := models.TransactionStatusPending
	switch obj.Status {
	case "succeeded":
		status = models.TransactionStatusCompleted
	case "failed":
		status = models.TransactionStatusFailed
	}

	var completedAt *time.Time
	if status == models.TransactionStatusCompleted {
		now := s.now()
		completedAt = &now
	}

	query := `
		UPDATE transactions
		SET status = $1, completed_at = $2
		WHERE external_id = $3 AND type = 'refund' AND status <> $1
		RETURNING id, vendor_id, amount
	`
	var (
		txID     string
		vendorID string
		amount   decimal.Decimal
	)
	if err := s.db.QueryRowContext(ctx, query, status, completedAt, obj.ID).Scan(&txID, &vendorID, &amount); err != nil {
		if err == sql.ErrNoRows {
			s.log.WithField("refund_id", obj.ID).Debug("Refund update is a no-op")
			return nil
		}
		return fmt.Errorf("failed to update refund transaction: %w", err)
	}

	if status == models.TransactionStatusCompleted && s.events != nil {
		if err := s.events.PublishRefundCompleted(models.RefundCompletedEvent{
			TransactionID: txID,
			VendorID:      vendorID,
			Amount:        amount,
		}); err != nil {
			s.log.WithError(err).WithField("refund_id", obj.ID).Warn("Failed to publish refund completed event")
		}
	}

	s.log.WithField("refund_id", obj.ID).WithField("status", status).Info("Refund status updated")
	return nil
}

// handleRefundFailed принудительно переводит возврат в failed, чтобы запись
// не зависла в pending.
func (s *ReconcilerService) handleRefundFailed(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	query := `
		UPDATE transactions
		SET status = 'failed'
		WHERE external_id = $1 AND type = 'refund' AND status <> 'failed'
	`
	if _, err := s.db.ExecContext(ctx, query, obj.ID); err != nil {
		return fmt.Errorf("failed to mark refund failed: %w", err)
	}

	s.log.WithField("refund_id", obj.ID).
		WithField("reason", obj.FailureReason).
		Error("Refund failed")
	return nil
}

// handleTransferCreated зеркалирует новый перевод как pending запись реестра.
func (s *ReconcilerService) handleTransferCreated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	vendorID := obj.Metadata["vendor_id"]
	if vendorID == "" {
		s.log.WithField("transfer_id", obj.ID).Warn("Transfer event without vendor id")
		return nil
	}

	query := `
		INSERT INTO transactions (id, vendor_id, type, amount, currency, status, external_id, created_at)
		VALUES ($1, $2, 'transfer', $3, $4, 'pending', $5, $6)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), vendorID, obj.Amount, s.currency, obj.ID, s.now()); err != nil {
		return fmt.Errorf("failed to insert transfer transaction: %w", err)
	}

	return nil
}

// handleTransferUpdated завершает или реверсирует перевод. Завершённый
// перевод зачисляет сумму на баланс продавца в той же транзакции, что и
// смена статуса.
func (s *ReconcilerService) handleTransferUpdated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	status := models.TransactionStatusCompleted
	if obj.Reversed {
		status = models.TransactionStatusReversed
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	query := `
		UPDATE transactions
		SET status = $1, completed_at = $2
		WHERE external_id = $3 AND type = 'transfer' AND status = 'pending'
		RETURNING vendor_id, amount
	`
	var (
		vendorID string
		amount   decimal.Decimal
	)
	if err := tx.QueryRowContext(ctx, query, status, now, obj.ID).Scan(&vendorID, &amount); err != nil {
		if err == sql.ErrNoRows {
			s.log.WithField("transfer_id", obj.ID).Debug("Transfer update is a no-op")
			return nil
		}
		return fmt.Errorf("failed to update transfer transaction: %w", err)
	}

	if status == models.TransactionStatusCompleted {
		balanceQuery := `
			INSERT INTO vendor_balances (vendor_id, available, pending, reserved, updated_at)
			VALUES ($1, $2, 0, 0, $3)
			ON CONFLICT (vendor_id) DO UPDATE
			SET available = vendor_balances.available + EXCLUDED.available, updated_at = EXCLUDED.updated_at
		`
		if _, err := tx.ExecContext(ctx, balanceQuery, vendorID, amount, now); err != nil {
			return fmt.Errorf("failed to credit vendor balance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transfer update: %w", err)
	}

	s.log.WithField("transfer_id", obj.ID).WithField("status", status).Info("Transfer status updated")
	return nil
}

// handleAccountUpdated зеркалирует флаги возможностей аккаунта продавца.
func (s *ReconcilerService) handleAccountUpdated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	vendorID := obj.Metadata["vendor_id"]
	if vendorID == "" {
		s.log.WithField("account_id", obj.ID).Warn("Account event without vendor id")
		return nil
	}

	accountID := obj.AccountID
	if accountID == "" {
		accountID = obj.ID
	}

	query := `
		INSERT INTO vendor_accounts (vendor_id, provider_account_id, charges_enabled, payouts_enabled, details_submitted, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (vendor_id) DO UPDATE
		SET provider_account_id = EXCLUDED.provider_account_id,
			charges_enabled = EXCLUDED.charges_enabled,
			payouts_enabled = EXCLUDED.payouts_enabled,
			details_submitted = EXCLUDED.details_submitted,
			updated_at = EXCLUDED.updated_at
	`
	if _, err := s.db.ExecContext(ctx, query,
		vendorID, accountID, obj.ChargesEnabled, obj.PayoutsEnabled, obj.DetailsSubmitted, s.now()); err != nil {
		return fmt.Errorf("failed to upsert vendor account: %w", err)
	}

	return nil
}

// handlePayoutCreated зеркалирует новую выплату. Выплаты, созданные через
// RequestPayout, уже существуют локально — конфликт по внешнему id сходится
// в no-op.
func (s *ReconcilerService) handlePayoutCreated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	vendorID := obj.Metadata["vendor_id"]
	if vendorID == "" {
		s.log.WithField("payout_id", obj.ID).Warn("Payout event without vendor id")
		return nil
	}

	now := s.now()
	query := `
		INSERT INTO payouts (id, vendor_id, external_id, amount, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', $6, $7)
		ON CONFLICT (external_id) DO NOTHING
	`
	if _, err := s.db.ExecContext(ctx, query,
		uuid.New().String(), vendorID, obj.ID, obj.Amount, s.currency, now, now); err != nil {
		return fmt.Errorf("failed to insert payout: %w", err)
	}

	return nil
}

// handlePayoutUpdated переносит статус выплаты провайдера в зеркало.
func (s *ReconcilerService) handlePayoutUpdated(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	status := models.PayoutStatusPending
	switch obj.Status {
	case "in_transit":
		status = models.PayoutStatusInTransit
	case "paid":
		status = models.PayoutStatusPaid
	case "failed":
		status = models.PayoutStatusFailed
	}

	// Терминальные статусы обрабатываются своими событиями.
	if status == models.PayoutStatusPaid {
		return s.handlePayoutPaid(ctx, event)
	}
	if status == models.PayoutStatusFailed {
		return s.handlePayoutFailed(ctx, event)
	}

	query := `
		UPDATE payouts
		SET status = $1, updated_at = $2
		WHERE external_id = $3 AND status NOT IN ('paid', 'failed')
	`
	if _, err := s.db.ExecContext(ctx, query, status, s.now(), obj.ID); err != nil {
		return fmt.Errorf("failed to update payout: %w", err)
	}

	return nil
}

// handlePayoutPaid завершает выплату и уведомляет продавца ровно один раз:
// публикация происходит только при выигрыше условного UPDATE, штампующего
// notified_at.
func (s *ReconcilerService) handlePayoutPaid(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object
	now := s.now()

	query := `
		UPDATE payouts
		SET status = 'paid', notified_at = $1, updated_at = $1
		WHERE external_id = $2 AND status <> 'paid'
		RETURNING id, vendor_id, amount, currency
	`
	var (
		payoutID string
		vendorID string
		amount   decimal.Decimal
		currency string
	)
	if err := s.db.QueryRowContext(ctx, query, now, obj.ID).Scan(&payoutID, &vendorID, &amount, &currency); err != nil {
		if err == sql.ErrNoRows {
			s.log.WithField("payout_id", obj.ID).Debug("Payout already paid")
			return nil
		}
		return fmt.Errorf("failed to mark payout paid: %w", err)
	}

	if s.events != nil {
		if err := s.events.PublishPayoutPaid(models.PayoutPaidEvent{
			PayoutID: payoutID,
			VendorID: vendorID,
			Amount:   amount,
			Currency: currency,
		}); err != nil {
			s.log.WithError(err).WithField("payout_id", payoutID).Warn("Failed to publish payout paid event")
		}
	}

	s.log.WithField("payout_id", payoutID).WithField("vendor_id", vendorID).Info("Payout paid")
	return nil
}

// handlePayoutFailed записывает причину сбоя выплаты.
func (s *ReconcilerService) handlePayoutFailed(ctx context.Context, event *models.ProviderEvent) error {
	obj := event.Data.Object

	query := `
		UPDATE payouts
		SET status = 'failed', failure_reason = $1, updated_at = $2
		WHERE external_id = $3 AND status <> 'failed'
	`
	if _, err := s.db.ExecContext(ctx, query, obj.FailureReason, s.now(), obj.ID); err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}

	s.log.WithField("payout_id", obj.ID).
		WithField("reason", obj.FailureReason).
		Error("Payout failed")
	return nil
}
