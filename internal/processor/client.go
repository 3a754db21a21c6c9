package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

// Client — HTTP-клиент платёжного процессора. Все create-вызовы принимают
// ключ идемпотентности внутри запроса: повтор с тем же ключом возвращает
// уже созданный ресурс, а не дубль.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт клиента процессора.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CreatePayment создаёт платёж по карте.
func (c *Client) CreatePayment(ctx context.Context, req CreateCardPaymentRequest) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments", req, &payment); err != nil {
		return nil, fmt.Errorf("processor: create payment: %w", err)
	}
	return &payment, nil
}

// CancelPayment отменяет платёж. Отмена после подтверждения невозможна,
// процессор ответит ошибкой состояния.
func (c *Client) CancelPayment(ctx context.Context, externalID string, idempotencyKey string) (*Payment, error) {
	body := map[string]string{"idempotencyKey": idempotencyKey}
	var payment Payment
	if err := c.do(ctx, http.MethodPost, "/v1/payments/"+externalID+"/cancel", body, &payment); err != nil {
		return nil, fmt.Errorf("processor: cancel payment: %w", err)
	}
	return &payment, nil
}

// GetPayment возвращает авторитативный статус платежа.
func (c *Client) GetPayment(ctx context.Context, externalID string) (*Payment, error) {
	var payment Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments/"+externalID, nil, &payment); err != nil {
		return nil, fmt.Errorf("processor: get payment: %w", err)
	}
	return &payment, nil
}

// GetPaymentsBySettlement возвращает платежи, закрытые пакетом settlement.
func (c *Client) GetPaymentsBySettlement(ctx context.Context, settlementID string) ([]Payment, error) {
	var payments []Payment
	if err := c.do(ctx, http.MethodGet, "/v1/payments?settlementId="+settlementID, nil, &payments); err != nil {
		return nil, fmt.Errorf("processor: payments by settlement: %w", err)
	}
	return payments, nil
}

// CreateWalletTransfer создаёт перевод между кошельками либо на блокчейн-адрес.
func (c *Client) CreateWalletTransfer(ctx context.Context, req CreateWalletTransferRequest) (*WalletTransfer, error) {
	var transfer WalletTransfer
	if err := c.do(ctx, http.MethodPost, "/v1/transfers", req, &transfer); err != nil {
		return nil, fmt.Errorf("processor: create wallet transfer: %w", err)
	}
	return &transfer, nil
}

// CreatePayout создаёт банковскую выплату.
func (c *Client) CreatePayout(ctx context.Context, req CreatePayoutRequest) (*Payout, error) {
	var payout Payout
	if err := c.do(ctx, http.MethodPost, "/v1/payouts", req, &payout); err != nil {
		return nil, fmt.Errorf("processor: create payout: %w", err)
	}
	return &payout, nil
}

// CreateBankAccount заводит банковский счёт для wire-выплат.
func (c *Client) CreateBankAccount(ctx context.Context, req CreateBankAccountRequest) (*BankAccount, error) {
	var account BankAccount
	if err := c.do(ctx, http.MethodPost, "/v1/banks/wires", req, &account); err != nil {
		return nil, fmt.Errorf("processor: create bank account: %w", err)
	}
	return &account, nil
}

// CreateWallet заводит кастодиальный кошелёк пользователя.
func (c *Client) CreateWallet(ctx context.Context, idempotencyKey string) (*Wallet, error) {
	body := map[string]string{"idempotencyKey": idempotencyKey}
	var wallet Wallet
	if err := c.do(ctx, http.MethodPost, "/v1/wallets", body, &wallet); err != nil {
		return nil, fmt.Errorf("processor: create wallet: %w", err)
	}
	return &wallet, nil
}

// GetWallet возвращает кошелёк по идентификатору.
func (c *Client) GetWallet(ctx context.Context, walletID string) (*Wallet, error) {
	var wallet Wallet
	if err := c.do(ctx, http.MethodGet, "/v1/wallets/"+walletID, nil, &wallet); err != nil {
		return nil, fmt.Errorf("processor: get wallet: %w", err)
	}
	return &wallet, nil
}

// GetBlockchainAddress возвращает депозитный адрес кошелька в сети chain,
// создавая его при первом обращении.
func (c *Client) GetBlockchainAddress(ctx context.Context, walletID, chain, idempotencyKey string) (*BlockchainAddress, error) {
	body := map[string]string{"idempotencyKey": idempotencyKey, "chain": chain}
	var addr BlockchainAddress
	if err := c.do(ctx, http.MethodPost, "/v1/wallets/"+walletID+"/addresses", body, &addr); err != nil {
		return nil, fmt.Errorf("processor: get blockchain address: %w", err)
	}
	return &addr, nil
}

// ScreenAddress проверяет внешний адрес по address-risk спискам процессора.
func (c *Client) ScreenAddress(ctx context.Context, address, chain string) (*RiskDecision, error) {
	body := map[string]string{"address": address, "chain": chain}
	var decision RiskDecision
	if err := c.do(ctx, http.MethodPost, "/v1/screening/addresses", body, &decision); err != nil {
		return nil, fmt.Errorf("processor: screen address: %w", err)
	}
	return &decision, nil
}

// Subscribe создаёт подписку на топик уведомлений. Уведомления начинают
// приходить только после подтверждения подписки через webhook.
func (c *Client) Subscribe(ctx context.Context, endpoint string) error {
	body := map[string]string{"endpoint": endpoint}
	if err := c.do(ctx, http.MethodPost, "/v1/notifications/subscriptions", body, nil); err != nil {
		return fmt.Errorf("processor: subscribe: %w", err)
	}
	return nil
}

// do выполняет запрос к процессору и разбирает ответ в out (если out != nil).
// Сетевые ошибки и ответы 5xx/429 считаются восстановимыми, остальные 4xx —
// невосстановимыми.
func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return apperror.Wrap(err, apperror.ErrCodeInternal, "marshal request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "build request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, apiErr.Message)
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return apperror.New(apperror.ErrCodeRecoverable, msg)
		}
		return apperror.New(apperror.ErrCodeUnrecoverable, msg)
	}

	if out == nil {
		return nil
	}
	// Процессор оборачивает тело ответа в {"data": ...}.
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "read response")
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && len(envelope.Data) > 0 {
		raw = envelope.Data
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "decode response")
	}
	return nil
}
