// Package chain implements the bridge ChainAdapter over a chain's HTTP
// transaction gateway.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/rail-service/bridge_core/internal/domain/services/bridge"
)

const (
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
	defaultRetryBackoff = time.Second
	defaultPollInterval = 2 * time.Second
	defaultRateLimit    = 10
)

// Config represents chain gateway client configuration
type Config struct {
	Chain             string
	BaseURL           string
	Timeout           time.Duration
	RateLimit         float64 // requests per second
	Burst             int
	MaxRetries        int // retries of idempotent reads
	RetryBackoff      time.Duration
	PollInterval      time.Duration
	ConfirmationDepth int
}

// Client is a bridge.ChainAdapter backed by an HTTP gateway
type Client struct {
	config         Config
	httpClient     *http.Client
	circuitBreaker *gobreaker.CircuitBreaker
	rateLimiter    *rate.Limiter
	logger         *zap.Logger
}

var (
	_ bridge.ChainAdapter  = (*Client)(nil)
	_ bridge.HealthChecker = (*Client)(nil)
)

// NewClient creates a new gateway client
func NewClient(config Config, logger *zap.Logger) *Client {
	if config.Timeout == 0 {
		config.Timeout = defaultTimeout
	}
	if config.MaxRetries == 0 {
		config.MaxRetries = defaultMaxRetries
	}
	if config.RetryBackoff == 0 {
		config.RetryBackoff = defaultRetryBackoff
	}
	if config.PollInterval == 0 {
		config.PollInterval = defaultPollInterval
	}
	if config.RateLimit == 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Burst == 0 {
		config.Burst = 1
	}
	if config.ConfirmationDepth < 1 {
		config.ConfirmationDepth = 1
	}

	cbSettings := gobreaker.Settings{
		Name:        "chain-" + config.Chain,
		MaxRequests: 5,
		Interval:    10 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures > 5
		},
		// a rejected business request says nothing about gateway health
		IsSuccessful: func(err error) bool {
			var chainErr *Error
			if errors.As(err, &chainErr) {
				return chainErr.Code == CodeTxFailed || (chainErr.StatusCode > 0 && chainErr.StatusCode < 500)
			}
			return err == nil
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Chain circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &Client{
		config:         config,
		httpClient:     &http.Client{Timeout: config.Timeout},
		circuitBreaker: gobreaker.NewCircuitBreaker(cbSettings),
		rateLimiter:    rate.NewLimiter(rate.Limit(config.RateLimit), config.Burst),
		logger:         logger,
	}
}

// Lock escrows amount on this chain
func (c *Client) Lock(ctx context.Context, amount decimal.Decimal, destinationHint string) (bridge.TxRef, error) {
	var resp SubmitResponse
	req := LockRequest{Amount: amount, DestinationHint: destinationHint}
	if err := c.doRequest(ctx, "lock", http.MethodPost, "/v1/lock", req, &resp); err != nil {
		return "", err
	}
	return c.submitted("lock", resp)
}

// MintOrRelease delivers amount to destinationAddress on this chain
func (c *Client) MintOrRelease(ctx context.Context, amount decimal.Decimal, destinationAddress string) (bridge.TxRef, error) {
	var resp SubmitResponse
	req := DeliveryRequest{Amount: amount, DestinationAddress: destinationAddress}
	if err := c.doRequest(ctx, "mint_or_release", http.MethodPost, "/v1/deliveries", req, &resp); err != nil {
		return "", err
	}
	return c.submitted("mint_or_release", resp)
}

// Refund returns escrowed funds of originalRef to the sender
func (c *Client) Refund(ctx context.Context, originalRef bridge.TxRef, amount decimal.Decimal) (bridge.TxRef, error) {
	var resp SubmitResponse
	req := RefundRequest{OriginalTxRef: string(originalRef), Amount: amount}
	if err := c.doRequest(ctx, "refund", http.MethodPost, "/v1/refunds", req, &resp); err != nil {
		return "", err
	}
	return c.submitted("refund", resp)
}

// AwaitConfirmation polls the transaction until it reaches the configured
// confirmation depth, fails, or ctx ends.
func (c *Client) AwaitConfirmation(ctx context.Context, ref bridge.TxRef) (*bridge.Confirmation, error) {
	endpoint := "/v1/transactions/" + url.PathEscape(string(ref))
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		var tx TransactionResponse
		if err := c.doRequest(ctx, "await_confirmation", http.MethodGet, endpoint, nil, &tx); err != nil {
			return nil, err
		}

		switch tx.Status {
		case TxStatusFailed:
			return nil, &Error{Chain: c.config.Chain, Op: "await_confirmation", Code: CodeTxFailed, Message: tx.Error}
		case TxStatusConfirmed:
			if tx.Confirmations >= c.config.ConfirmationDepth && tx.TxHash != "" {
				return &bridge.Confirmation{TxHash: tx.TxHash, Confirmed: true, Confirmations: tx.Confirmations}, nil
			}
		}

		c.logger.Debug("Waiting for chain confirmation",
			zap.String("chain", c.config.Chain),
			zap.String("tx_ref", string(ref)),
			zap.Int("confirmations", tx.Confirmations),
			zap.Int("required", c.config.ConfirmationDepth))

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Ping checks that the gateway is reachable
func (c *Client) Ping(ctx context.Context) error {
	return c.doRequest(ctx, "health", http.MethodGet, "/v1/health", nil, nil)
}

func (c *Client) submitted(op string, resp SubmitResponse) (bridge.TxRef, error) {
	if resp.TxRef == "" {
		return "", &Error{Chain: c.config.Chain, Op: op, Code: CodeBadResponse, Message: "gateway returned no tx_ref"}
	}
	c.logger.Info("Chain transaction submitted",
		zap.String("chain", c.config.Chain),
		zap.String("operation", op),
		zap.String("tx_ref", resp.TxRef))
	return bridge.TxRef(resp.TxRef), nil
}

func (c *Client) doRequest(ctx context.Context, op, method, endpoint string, body, response interface{}) error {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	_, err := c.circuitBreaker.Execute(func() (interface{}, error) {
		return nil, c.doRequestInternal(ctx, op, method, endpoint, body, response)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &Error{Chain: c.config.Chain, Op: op, Code: CodeCircuitOpen, Message: err.Error(), Retryable: true}
	}
	return err
}

// doRequestInternal retries reads on transport and server errors. Writes are
// sent once: a write that may have reached the chain must not be resubmitted
// here, the caller decides based on Error.Retryable.
func (c *Client) doRequestInternal(ctx context.Context, op, method, endpoint string, body, response interface{}) error {
	fullURL := c.config.BaseURL + endpoint
	idempotent := method == http.MethodGet

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	attempts := 1
	if idempotent {
		attempts += c.config.MaxRetries
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := c.config.RetryBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, fullURL, bytes.NewReader(payload))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Accept", "application/json")
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = &Error{Chain: c.config.Chain, Op: op, Code: CodeTransport, Message: err.Error(), Retryable: idempotent}
			continue
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = &Error{Chain: c.config.Chain, Op: op, Code: CodeTransport, Message: err.Error(), Retryable: idempotent}
			continue
		}

		if resp.StatusCode >= 400 {
			apiErr := c.parseError(op, resp.StatusCode, respBody, idempotent)
			if resp.StatusCode >= 500 && idempotent {
				lastErr = apiErr
				continue
			}
			return apiErr
		}

		if response != nil && len(respBody) > 0 {
			if err := json.Unmarshal(respBody, response); err != nil {
				return &Error{Chain: c.config.Chain, Op: op, Code: CodeBadResponse, Message: err.Error()}
			}
		}
		return nil
	}
	return lastErr
}

func (c *Client) parseError(op string, status int, body []byte, idempotent bool) *Error {
	apiErr := &Error{
		Chain:      c.config.Chain,
		Op:         op,
		StatusCode: status,
		Code:       CodeRejected,
		Retryable:  rejectedBeforeProcessing(status) || (idempotent && status >= 500),
	}
	if status >= 500 {
		apiErr.Code = CodeServer
	}

	var payload struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Message != "" {
		apiErr.Message = payload.Message
		if payload.Code != "" {
			apiErr.Code = payload.Code
		}
	} else {
		apiErr.Message = fmt.Sprintf("status %d, body: %s", status, string(body))
	}
	return apiErr
}
