package chain

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

// AccountInfo — состояние аккаунта в сети.
type AccountInfo struct {
	Address string  `json:"address"`
	Balance int64   `json:"balance"`
	Assets  []Asset `json:"assets"`
}

// Asset — актив на балансе аккаунта.
type Asset struct {
	ID     int64 `json:"assetId"`
	Amount int64 `json:"amount"`
}

// SignedTransaction — подписанная транзакция, готовая к отправке.
type SignedTransaction struct {
	Blob []byte `json:"blob"`
}

// DecodedTransaction — разобранная подписанная транзакция. Используется для
// проверки депозитов: сумма, получатель и отправитель берутся из самой
// транзакции, а не со слов клиента.
type DecodedTransaction struct {
	TxID     string `json:"txId"`
	Sender   string `json:"sender"`
	Receiver string `json:"receiver"`
	Amount   int64  `json:"amount"`
	AssetID  int64  `json:"assetId"`
}

// TradeGroup — группа транзакций атомарной передачи актива: перевод NFT
// продавец -> покупатель и сопутствующие opt-in/комиссионные транзакции.
// Сеть применяет либо всю группу, либо ничего.
type TradeGroup struct {
	GroupID      string   `json:"groupId"`
	Transactions [][]byte `json:"transactions"`
}

// Client — HTTP-клиент узла сети.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewClient создаёт клиента узла.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetAccountInfo возвращает состояние аккаунта.
func (c *Client) GetAccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	var info AccountInfo
	if err := c.do(ctx, http.MethodGet, "/v2/accounts/"+address, nil, &info); err != nil {
		return nil, fmt.Errorf("chain: account info: %w", err)
	}
	return &info, nil
}

// GetAssetOwner возвращает адрес текущего держателя актива.
func (c *Client) GetAssetOwner(ctx context.Context, assetID int64) (string, error) {
	var out struct {
		Owner string `json:"owner"`
	}
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/v2/assets/%d/owner", assetID), nil, &out); err != nil {
		return "", fmt.Errorf("chain: asset owner: %w", err)
	}
	return out.Owner, nil
}

// GenerateTradeTransactions собирает и подписывает группу транзакций передачи
// актива от продавца покупателю. Подпись выполняет кастодиальный сервис узла.
func (c *Client) GenerateTradeTransactions(ctx context.Context, assetID int64, sellerAddr, buyerAddr string) (*TradeGroup, error) {
	body := map[string]any{
		"assetId": assetID,
		"from":    sellerAddr,
		"to":      buyerAddr,
	}
	var group TradeGroup
	if err := c.do(ctx, http.MethodPost, "/v2/trades", body, &group); err != nil {
		return nil, fmt.Errorf("chain: generate trade: %w", err)
	}
	return &group, nil
}

// SubmitTransaction отправляет группу транзакций в сеть и возвращает
// идентификатор первой транзакции группы.
func (c *Client) SubmitTransaction(ctx context.Context, group *TradeGroup) (string, error) {
	var out struct {
		TxID string `json:"txId"`
	}
	if err := c.do(ctx, http.MethodPost, "/v2/transactions", group, &out); err != nil {
		return "", fmt.Errorf("chain: submit: %w", err)
	}
	return out.TxID, nil
}

// WaitForConfirmation блокируется до подтверждения транзакции сетью либо до
// отмены контекста. Ошибка подтверждения восстановима: транзакция могла
// попасть в блок уже после таймаута, повтор обязан перепроверить владельца.
func (c *Client) WaitForConfirmation(ctx context.Context, txID string) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		var out struct {
			ConfirmedRound int64 `json:"confirmedRound"`
		}
		if err := c.do(ctx, http.MethodGet, "/v2/transactions/"+txID, nil, &out); err != nil {
			return fmt.Errorf("chain: wait confirmation: %w", err)
		}
		if out.ConfirmedRound > 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return apperror.Wrap(ctx.Err(), apperror.ErrCodeRecoverable, "confirmation timed out")
		case <-ticker.C:
		}
	}
}

// DecodeSignedTransaction разбирает подписанную клиентом транзакцию без
// отправки в сеть.
func (c *Client) DecodeSignedTransaction(ctx context.Context, signed *SignedTransaction) (*DecodedTransaction, error) {
	var decoded DecodedTransaction
	if err := c.do(ctx, http.MethodPost, "/v2/transactions/decode", signed, &decoded); err != nil {
		return nil, fmt.Errorf("chain: decode: %w", err)
	}
	return &decoded, nil
}

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
	req.Header.Set("X-API-Token", c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrCodeRecoverable, "request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(resp.Body)
		msg := fmt.Sprintf("status %d: %s", resp.StatusCode, bytes.TrimSpace(data))
		if resp.StatusCode >= 500 {
			return apperror.New(apperror.ErrCodeRecoverable, msg)
		}
		return apperror.New(apperror.ErrCodeUnrecoverable, msg)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.Wrap(err, apperror.ErrCodeInternal, "decode response")
	}
	return nil
}
