package services

import (
	"testing"

	"marketplace-system/internal/config"
	"marketplace-system/internal/database"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
)

var (
	pqUniqueViolation     = pq.Error{Code: "23505"}
	pqForeignKeyViolation = pq.Error{Code: "23503"}
)

func newTestLogger() *logger.Logger {
	return logger.New(&config.LoggerConfig{Level: "debug", Format: "json"})
}

func newMockDB(t *testing.T) (*database.DB, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create sqlmock: %v", err)
	}

	return &database.DB{DB: db}, mock
}

// mockEvents записывает публикации событий для проверки в тестах
type mockEvents struct {
	couponRedeemed  []models.CouponRedeemedEvent
	orderPaid       []models.OrderPaidEvent
	refundCompleted []models.RefundCompletedEvent
	payoutPaid      []models.PayoutPaidEvent
	err             error
}

func (m *mockEvents) PublishCouponRedeemed(p models.CouponRedeemedEvent) error {
	m.couponRedeemed = append(m.couponRedeemed, p)
	return m.err
}

func (m *mockEvents) PublishOrderPaid(p models.OrderPaidEvent) error {
	m.orderPaid = append(m.orderPaid, p)
	return m.err
}

func (m *mockEvents) PublishRefundCompleted(p models.RefundCompletedEvent) error {
	m.refundCompleted = append(m.refundCompleted, p)
	return m.err
}

func (m *mockEvents) PublishPayoutPaid(p models.PayoutPaidEvent) error {
	m.payoutPaid = append(m.payoutPaid, p)
	return m.err
}
