package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"marketplace-system/internal/config"
	"marketplace-system/internal/logger"

	"github.com/shopspring/decimal"
)

// Provider клиент исходящих вызовов к платежному провайдеру
type Provider struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	log        *logger.Logger
}

// NewProvider создает клиента платежного провайдера
func NewProvider(cfg *config.ProviderConfig, log *logger.Logger) *Provider {
	return &Provider{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: time.Duration(cfg.TimeoutSeconds) * time.Second,
		},
		log: log,
	}
}

// TransferRequest запрос на перевод средств на аккаунт продавца
type TransferRequest struct {
	DestinationAccount string          `json:"destination"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	TransferGroup      string          `json:"transfer_group,omitempty"`
}

// TransferResponse ответ провайдера на перевод
type TransferResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// PayoutRequest запрос на выплату продавцу
type PayoutRequest struct {
	DestinationAccount string          `json:"destination"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
}

// PayoutResponse ответ провайдера на выплату
type PayoutResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type providerError struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// CreateTransfer создает перевод средств на аккаунт продавца
func (p *Provider) CreateTransfer(ctx context.Context, req *TransferRequest) (*TransferResponse, error) {
	var resp TransferResponse
	if err := p.post(ctx, "/transfers", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CreatePayout создает выплату продавцу
func (p *Provider) CreatePayout(ctx context.Context, req *PayoutRequest) (*PayoutResponse, error) {
	var resp PayoutResponse
	if err := p.post(ctx, "/payouts", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// post выполняет POST запрос к API провайдера и разбирает ответ
func (p *Provider) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("provider request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var perr providerError
		if err := json.Unmarshal(data, &perr); err == nil && perr.Error.Message != "" {
			p.log.WithField("status", resp.StatusCode).
				WithField("path", path).
				Error("Provider call rejected")
			return fmt.Errorf("provider error %d: %s", resp.StatusCode, perr.Error.Message)
		}
		return fmt.Errorf("provider error %d", resp.StatusCode)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to unmarshal provider response: %w", err)
	}
	return nil
}
