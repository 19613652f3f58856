package kafka

import (
	"encoding/json"
	"fmt"
	"time"

	"marketplace-system/internal/config"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

// Producer публикует события расчетов в Kafka
type Producer struct {
	producer sarama.SyncProducer
	log      *logger.Logger
	topics   *config.Topics
}

// NewProducer создает нового продюсера Kafka
func NewProducer(cfg *config.KafkaConfig, log *logger.Logger) (*Producer, error) {
	saramaCfg := sarama.NewConfig()
	saramaCfg.Producer.RequiredAcks = sarama.WaitForAll
	saramaCfg.Producer.Retry.Max = 3
	saramaCfg.Producer.Return.Successes = true

	producer, err := sarama.NewSyncProducer(cfg.Brokers, saramaCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	log.Info("Successfully connected to Kafka producer")

	return &Producer{
		producer: producer,
		log:      log,
		topics:   &cfg.Topics,
	}, nil
}

// Close закрывает продюсера
func (p *Producer) Close() error {
	if p == nil || p.producer == nil {
		return nil
	}
	return p.producer.Close()
}

// publishEvent сериализует событие и отправляет его в топик
func (p *Producer) publishEvent(topic string, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(event.ID),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.log.WithError(err).WithField("topic", topic).Error("Failed to publish event")
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}

	p.log.WithField("topic", topic).
		WithField("type", event.Type).
		WithField("partition", partition).
		WithField("offset", offset).
		Debug("Event published")

	return nil
}

// newEvent собирает конверт события с полезной нагрузкой
func newEvent(eventType models.EventType, payload interface{}) (models.Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return models.Event{}, fmt.Errorf("failed to marshal event payload: %w", err)
	}
	return models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// PublishOrderPaid публикует событие об успешной оплате заказа
func (p *Producer) PublishOrderPaid(payload models.OrderPaidEvent) error {
	event, err := newEvent(models.EventOrderPaid, payload)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Settlement, event)
}

// PublishRefundCompleted публикует событие о завершённом возврате
func (p *Producer) PublishRefundCompleted(payload models.RefundCompletedEvent) error {
	event, err := newEvent(models.EventRefundCompleted, payload)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Settlement, event)
}

// PublishCouponRedeemed публикует событие о погашении купона
func (p *Producer) PublishCouponRedeemed(payload models.CouponRedeemedEvent) error {
	event, err := newEvent(models.EventCouponRedeemed, payload)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Settlement, event)
}

// PublishPayoutPaid публикует уведомление продавца о выплате
func (p *Producer) PublishPayoutPaid(payload models.PayoutPaidEvent) error {
	event, err := newEvent(models.EventPayoutPaid, payload)
	if err != nil {
		return err
	}
	return p.publishEvent(p.topics.Notifications, event)
}
