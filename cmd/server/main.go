package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"marketplace-system/internal/client"
	"marketplace-system/internal/config"
	"marketplace-system/internal/database"
	"marketplace-system/internal/handlers"
	"marketplace-system/internal/kafka"
	"marketplace-system/internal/logger"
	"marketplace-system/internal/models"
	"marketplace-system/internal/redis"
	"marketplace-system/internal/services"
)

// Фабричные функции для подключения внешних сервисов (подменяемые в тестах).
var (
	dbConnect        = database.Connect
	redisConnect     = redis.Connect
	newKafkaProducer = kafka.NewProducer
	newKafkaConsumer = kafka.NewConsumer
	kafkaHealthCheck = handlers.CheckKafkaHealth
	loadConfig       = config.Load
	newLogger        = logger.New
)

// application агрегирует собранные зависимости.
type application struct {
	cfg      *config.Config
	log      *logger.Logger
	db       *database.DB
	redis    *redis.Client
	producer *kafka.Producer
	consumer *kafka.Consumer
	mux      *http.ServeMux
	server   *http.Server
}

func main() {
	app, err := buildApplication()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build app: %v\n", err)
		os.Exit(1)
	}
	app.log.Info("Starting marketplace settlement server...")

	go func() {
		app.log.WithField("address", app.server.Addr).Info("HTTP server starting")
		if err := app.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			app.log.WithError(err).Fatal("HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	app.log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = app.consumer.Stop()
	if err := app.server.Shutdown(ctx); err != nil {
		app.log.WithError(err).Error("Server forced to shutdown")
	}
	_ = app.producer.Close()
	_ = app.redis.Close()
	_ = app.db.Close()
	app.log.Info("Server exited")
}

// buildApplication создает все зависимости (подменяемые в тестах).
func buildApplication() (*application, error) {
	cfg := loadConfig()
	log := newLogger(&cfg.Logger)

	db, err := dbConnect(&cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}

	redisClient, err := redisConnect(&cfg.Redis, log)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("redis connect: %w", err)
	}

	producer, err := newKafkaProducer(&cfg.Kafka, log)
	if err != nil {
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	consumer, err := newKafkaConsumer(&cfg.Kafka, log)
	if err != nil {
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}

	provider := client.NewProvider(&cfg.Provider, log)
	verifier := services.NewSignatureVerifier(&cfg.Webhook)

	couponService := services.NewCouponService(db, log, producer)
	reconcilerService := services.NewReconcilerService(db, log, provider, producer, couponService, cfg.Payout.Currency)
	payoutService := services.NewPayoutService(db, log, provider, redisClient, &cfg.Payout)
	rateLimiter := services.NewRateLimiter(redisClient, log, &cfg.RateLimit)

	couponHandler := handlers.NewCouponHandler(couponService, log)
	webhookHandler := handlers.NewWebhookHandler(reconcilerService, verifier, log)
	payoutHandler := handlers.NewPayoutHandler(payoutService, log)
	healthHandler := handlers.NewHealthHandler(db, redisClient, cfg.Kafka.Brokers, kafkaHealthCheck)
	rateLimitHandler := handlers.NewRateLimitHandler(rateLimiter, log, &cfg.RateLimit)

	registerEventHandlers(consumer, log)
	if err := consumer.Start(); err != nil {
		_ = consumer.Stop()
		_ = producer.Close()
		_ = redisClient.Close()
		_ = db.Close()
		return nil, fmt.Errorf("kafka consumer start: %w", err)
	}

	mux := setupRoutes(couponHandler, webhookHandler, payoutHandler, healthHandler, rateLimitHandler, rateLimiter, log)
	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	return &application{
		cfg:      cfg,
		log:      log,
		db:       db,
		redis:    redisClient,
		producer: producer,
		consumer: consumer,
		mux:      mux,
		server:   server,
	}, nil
}

// setupRoutes настраивает маршруты HTTP сервера
func setupRoutes(couponHandler *handlers.CouponHandler, webhookHandler *handlers.WebhookHandler, payoutHandler *handlers.PayoutHandler, healthHandler *handlers.HealthHandler, rateLimitHandler *handlers.RateLimitHandler, rateLimiter *services.RateLimiter, log *logger.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	applyAPI := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, log, services.LimitScopeAPI, h))
	}
	// Публичная проверка купонов считается в своём окне, отдельно от API.
	applyValidate := func(h http.HandlerFunc) http.HandlerFunc {
		return corsMiddleware(handlers.RateLimitMiddleware(rateLimiter, log, services.LimitScopeValidate, h))
	}

	// Health check endpoints
	mux.HandleFunc("/health", corsMiddleware(healthHandler.Health))
	mux.HandleFunc("/health/readiness", corsMiddleware(healthHandler.Readiness))
	mux.HandleFunc("/health/liveness", corsMiddleware(healthHandler.Liveness))

	// Webhook провайдера: без CORS и rate limit, подпись сама по себе барьер
	mux.HandleFunc("/api/webhooks/payments", webhookHandler.HandleProviderWebhook)

	// Coupon endpoints
	mux.HandleFunc("/api/coupons", applyAPI(handleCouponsRoute(couponHandler)))
	mux.HandleFunc("/api/coupons/", applyAPI(handleCouponRoute(couponHandler)))
	mux.HandleFunc("/api/coupons/validate", applyValidate(couponHandler.ValidateCoupon))

	// Payout endpoints
	mux.HandleFunc("/api/payouts", applyAPI(payoutHandler.RequestPayout))
	mux.HandleFunc("/api/payouts/", applyAPI(payoutHandler.GetPayout))
	mux.HandleFunc("/api/vendors/", applyAPI(payoutHandler.GetVendorBalance))

	// Rate limit status
	mux.HandleFunc("/api/rate-limit/status", applyAPI(rateLimitHandler.Status))

	return mux
}

// handleCouponsRoute обрабатывает коллекцию купонов
func handleCouponsRoute(handler *handlers.CouponHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handler.ListCoupons(w, r)
		case http.MethodPost:
			handler.CreateCoupon(w, r)
		default:
			writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
		}
	}
}

// handleCouponRoute обрабатывает отдельный купон
func handleCouponRoute(handler *handlers.CouponHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/validate") {
			if r.Method == http.MethodPost {
				handler.ValidateCoupon(w, r)
			} else {
				writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
			}
			return
		}
		if r.Method == http.MethodGet {
			handler.GetCoupon(w, r)
			return
		}
		if r.Method == http.MethodPut {
			handler.UpdateCoupon(w, r)
			return
		}
		if r.Method == http.MethodDelete {
			handler.DeleteCoupon(w, r)
			return
		}
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// registerEventHandlers регистрирует обработчики событий Kafka
func registerEventHandlers(consumer *kafka.Consumer, log *logger.Logger) {
	consumer.RegisterHandler(models.EventOrderPaid, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Info("Processing order paid event")
		// Здесь можно добавить выдачу цифровых товаров, письма покупателю и т.д.
		return nil
	})

	consumer.RegisterHandler(models.EventPayoutPaid, func(ctx context.Context, event *models.Event) error {
		var payload models.PayoutPaidEvent
		if err := json.Unmarshal(event.Data, &payload); err != nil {
			return fmt.Errorf("decode payout paid payload: %w", err)
		}
		log.WithField("event_id", event.ID).
			WithField("vendor_id", payload.VendorID).
			WithField("amount", payload.Amount.String()).
			Info("Sending payout notification to vendor")
		return nil
	})

	consumer.RegisterHandler(models.EventRefundCompleted, func(ctx context.Context, event *models.Event) error {
		log.WithField("event_id", event.ID).Info("Processing refund completed event")
		return nil
	})
}

// corsMiddleware и другие helper функции
func corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	type errorResponse struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(errorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
	})
}
