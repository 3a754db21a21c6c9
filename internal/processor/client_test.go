package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ignatzorin/collectibles-backend/internal/pkg/apperror"
)

func TestClient_CreatePayment(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/payments", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req CreateCardPaymentRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "key-1", req.IdempotencyKey)
		assert.Equal(t, int64(5000), req.Amount)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"pay-1","status":"pending","amount":5000}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	payment, err := client.CreatePayment(context.Background(), CreateCardPaymentRequest{
		IdempotencyKey: "key-1",
		Amount:         5000,
		Currency:       "USD",
		SourceCardID:   "card-1",
	})
	assert.NoError(t, err)
	assert.Equal(t, "pay-1", payment.ID)
	assert.Equal(t, StatusPending, payment.Status)
}

func TestClient_UnwrappedBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"walletId":"wal-1","balance":0}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	wallet, err := client.GetWallet(context.Background(), "wal-1")
	assert.NoError(t, err)
	assert.Equal(t, "wal-1", wallet.ID)
}

func TestClient_ServerErrorIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"code":503,"message":"maintenance"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.GetPayment(context.Background(), "pay-1")
	assert.Error(t, err)
	assert.True(t, apperror.IsRecoverable(err))
}

func TestClient_ClientErrorIsNotRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"code":422,"message":"card expired"}`))
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.CreatePayment(context.Background(), CreateCardPaymentRequest{IdempotencyKey: "key-1"})
	assert.Error(t, err)
	assert.False(t, apperror.IsRecoverable(err))
}

func TestClient_RateLimitIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	_, err := client.GetPayment(context.Background(), "pay-1")
	assert.True(t, apperror.IsRecoverable(err))
}

func TestClient_Subscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/notifications/subscriptions", r.URL.Path)
		var body map[string]string
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "https://api.example.com/webhooks", body["endpoint"])
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	assert.NoError(t, client.Subscribe(context.Background(), "https://api.example.com/webhooks"))
}
