package chain

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
)

func newTestClient(url string) *Client {
	return NewClient(Config{
		Chain:             "ethereum",
		BaseURL:           url,
		RateLimit:         1000,
		Burst:             100,
		MaxRetries:        2,
		RetryBackoff:      time.Millisecond,
		PollInterval:      time.Millisecond,
		ConfirmationDepth: 3,
	}, zap.NewNop())
}

func TestNewClient(t *testing.T) {
	client := NewClient(Config{Chain: "solana", BaseURL: "https://gw.example"}, zap.NewNop())

	assert.Equal(t, defaultTimeout, client.config.Timeout)
	assert.Equal(t, defaultMaxRetries, client.config.MaxRetries)
	assert.Equal(t, 1, client.config.ConfirmationDepth)
}

func TestLock(t *testing.T) {
	t.Run("returns tx ref on success", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/v1/lock", r.URL.Path)

			var req LockRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.True(t, req.Amount.Equal(decimal.NewFromInt(1000)))
			assert.Equal(t, "0xhash", req.DestinationHint)

			json.NewEncoder(w).Encode(SubmitResponse{TxRef: "lock-1"})
		}))
		defer server.Close()

		ref, err := newTestClient(server.URL).Lock(context.Background(), decimal.NewFromInt(1000), "0xhash")
		require.NoError(t, err)
		assert.Equal(t, "lock-1", string(ref))
	})

	t.Run("does not resubmit writes on server error", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			atomic.AddInt32(&calls, 1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lock(context.Background(), decimal.NewFromInt(1), "h")
		require.Error(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

		var chainErr *Error
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, CodeServer, chainErr.Code)
		assert.False(t, chainErr.IsRetryable())
	})

	t.Run("marks unavailable gateway as retryable", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lock(context.Background(), decimal.NewFromInt(1), "h")
		var chainErr *Error
		require.True(t, errors.As(err, &chainErr))
		assert.True(t, chainErr.IsRetryable())
	})

	t.Run("parses typed rejection", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]string{"code": "INSUFFICIENT_FUNDS", "message": "balance too low"})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lock(context.Background(), decimal.NewFromInt(1), "h")
		var chainErr *Error
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, "INSUFFICIENT_FUNDS", chainErr.Code)
		assert.Equal(t, "balance too low", chainErr.Message)
		assert.Equal(t, http.StatusUnprocessableEntity, chainErr.StatusCode)
		assert.False(t, chainErr.IsRetryable())
	})

	t.Run("rejects empty tx ref", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(SubmitResponse{})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).Lock(context.Background(), decimal.NewFromInt(1), "h")
		var chainErr *Error
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, CodeBadResponse, chainErr.Code)
	})
}

func TestMintOrReleaseAndRefund(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/deliveries":
			var req DeliveryRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "0xdest", req.DestinationAddress)
			json.NewEncoder(w).Encode(SubmitResponse{TxRef: "delivery-1"})
		case "/v1/refunds":
			var req RefundRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "lock-1", req.OriginalTxRef)
			json.NewEncoder(w).Encode(SubmitResponse{TxRef: "refund-1"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer server.Close()

	client := newTestClient(server.URL)

	ref, err := client.MintOrRelease(context.Background(), decimal.NewFromInt(988), "0xdest")
	require.NoError(t, err)
	assert.Equal(t, "delivery-1", string(ref))

	ref, err = client.Refund(context.Background(), "lock-1", decimal.NewFromInt(1000))
	require.NoError(t, err)
	assert.Equal(t, "refund-1", string(ref))
}

func TestAwaitConfirmation(t *testing.T) {
	t.Run("polls until confirmation depth", func(t *testing.T) {
		var polls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/transactions/lock-1", r.URL.Path)
			n := atomic.AddInt32(&polls, 1)
			resp := TransactionResponse{TxRef: "lock-1", Status: TxStatusPending}
			if n >= 2 {
				resp = TransactionResponse{TxRef: "lock-1", TxHash: "0xabc", Status: TxStatusConfirmed, Confirmations: int(n)}
			}
			json.NewEncoder(w).Encode(resp)
		}))
		defer server.Close()

		conf, err := newTestClient(server.URL).AwaitConfirmation(context.Background(), "lock-1")
		require.NoError(t, err)
		assert.True(t, conf.Confirmed)
		assert.Equal(t, "0xabc", conf.TxHash)
		assert.GreaterOrEqual(t, conf.Confirmations, 3)
	})

	t.Run("reports failed transaction", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(TransactionResponse{Status: TxStatusFailed, Error: "reverted"})
		}))
		defer server.Close()

		_, err := newTestClient(server.URL).AwaitConfirmation(context.Background(), "lock-1")
		var chainErr *Error
		require.True(t, errors.As(err, &chainErr))
		assert.Equal(t, CodeTxFailed, chainErr.Code)
		assert.True(t, bridge.IsTxFailed(err))
	})

	t.Run("retries reads on server errors", func(t *testing.T) {
		var calls int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if atomic.AddInt32(&calls, 1) == 1 {
				w.WriteHeader(http.StatusBadGateway)
				return
			}
			json.NewEncoder(w).Encode(TransactionResponse{TxHash: "0xabc", Status: TxStatusConfirmed, Confirmations: 5})
		}))
		defer server.Close()

		conf, err := newTestClient(server.URL).AwaitConfirmation(context.Background(), "lock-1")
		require.NoError(t, err)
		assert.Equal(t, "0xabc", conf.TxHash)
		assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
	})

	t.Run("stops when context ends", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(TransactionResponse{Status: TxStatusPending})
		}))
		defer server.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()

		_, err := newTestClient(server.URL).AwaitConfirmation(ctx, "lock-1")
		require.Error(t, err)
		assert.True(t, errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil)
	})
}

func TestPing(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/health", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	assert.NoError(t, newTestClient(server.URL).Ping(context.Background()))
}

func TestErrorString(t *testing.T) {
	err := &Error{Chain: "solana", Op: "lock", StatusCode: 429, Code: CodeRejected, Message: "slow down"}
	assert.Equal(t, "chain solana lock failed [429]: slow down (code: REJECTED)", err.Error())
	assert.True(t, err.IsRateLimited())
	assert.False(t, err.IsNotFound())
	assert.False(t, err.IsTxFailed())
}
