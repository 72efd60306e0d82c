package paystack

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dejobratic/storefront/internal/orders/domain"
	"github.com/dejobratic/storefront/internal/orders/metrics"
	"github.com/dejobratic/storefront/internal/orders/ports"
	"github.com/dejobratic/storefront/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const (
	DefaultBaseURL           = "https://api.paystack.co"
	DefaultVerifyBaseDelay   = 2 * time.Second
	DefaultVerifyMaxAttempts = 5
)

type Config struct {
	SecretKey         string
	BaseURL           string
	VerifyBaseDelay   time.Duration
	VerifyMaxAttempts int
	RequestTimeout    time.Duration
}

// Client talks to the Paystack transaction API. It holds no state beyond
// configuration; persisting results is the caller's job.
type Client struct {
	cfg        Config
	httpClient *http.Client
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

type Option func(*Client)

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithSleep replaces the wait between verify attempts.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = sleep
	}
}

func NewClient(cfg Config, logger *slog.Logger, metrics *metrics.Metrics, opts ...Option) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.VerifyBaseDelay <= 0 {
		cfg.VerifyBaseDelay = DefaultVerifyBaseDelay
	}
	if cfg.VerifyMaxAttempts <= 0 {
		cfg.VerifyMaxAttempts = DefaultVerifyMaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 15 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		sleep:   sleepContext,
		logger:  logger,
		metrics: metrics,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) InitializeTransaction(ctx context.Context, req ports.InitializeRequest) (*ports.InitializeResult, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if !strings.Contains(req.Email, "@") {
		return nil, domain.Validationf("payer email is required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if strings.TrimSpace(req.CallbackURL) == "" {
		return nil, domain.Validationf("callback url is required")
	}

	body := initializeRequest{
		Email:       req.Email,
		Amount:      domain.ToMinorUnits(req.Amount),
		Currency:    domain.Currency,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}

	var data initializeData
	if err := c.do(ctx, "initialize", http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, unwrapRetryable(err)
	}
	if data.Reference == "" || data.AuthorizationURL == "" {
		return nil, fmt.Errorf("%w: initialize response missing reference or authorization url", domain.ErrProtocol)
	}

	return &ports.InitializeResult{
		Reference:        data.Reference,
		AuthorizationURL: data.AuthorizationURL,
		AccessCode:       data.AccessCode,
	}, nil
}

// VerifyTransaction polls the transaction status. While the gateway reports
// pending or fails transiently, attempt n waits VerifyBaseDelay*n before
// the next attempt. When the attempts are used up the result is
// domain.ErrTimeout for pending and domain.ErrUpstream for transient
// failures. A 404 or malformed response stops immediately.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*ports.Transaction, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if strings.TrimSpace(reference) == "" {
		return nil, domain.Validationf("reference is required")
	}

	ctx, span := telemetry.StartClientSpan(ctx, "Paystack.VerifyTransaction",
		attribute.String("payment.reference", reference),
	)
	defer span.End()

	path := "/transaction/verify/" + url.PathEscape(reference)

	var lastErr error
	for attempt := 1; attempt <= c.cfg.VerifyMaxAttempts; attempt++ {
		var data transactionData
		err := c.do(ctx, "verify", http.MethodGet, path, nil, &data)

		var retryable *retryableError
		switch {
		case err == nil && data.Status != ports.TxPending:
			tx, convErr := data.toTransaction()
			if convErr != nil {
				telemetry.RecordSpanError(span, convErr)
				return nil, convErr
			}
			telemetry.AddSpanAttributes(span,
				attribute.Int("verify.attempts", attempt),
				attribute.String("payment.status", tx.Status),
			)
			telemetry.SetSpanSuccess(span)
			return tx, nil
		case err == nil:
			lastErr = nil
		case errors.As(err, &retryable):
			lastErr = retryable.err
		default:
			telemetry.RecordSpanError(span, err)
			return nil, err
		}

		delay := c.cfg.VerifyBaseDelay * time.Duration(attempt)
		telemetry.AddSpanEvent(span, "verify.retry",
			attribute.Int("attempt", attempt),
			attribute.String("delay", delay.String()),
		)
		c.logger.DebugContext(ctx, "verify not settled, retrying",
			"reference", reference,
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		if err := c.sleep(ctx, delay); err != nil {
			err = fmt.Errorf("%w: verify %s interrupted: %w", domain.ErrTimeout, reference, err)
			telemetry.RecordSpanError(span, err)
			return nil, err
		}
	}

	err := fmt.Errorf("%w: transaction %s still pending after %d attempts", domain.ErrTimeout, reference, c.cfg.VerifyMaxAttempts)
	if lastErr != nil {
		err = lastErr
	}
	telemetry.RecordSpanError(span, err)
	return nil, err
}

func (c *Client) ChargeAuthorization(ctx context.Context, req ports.ChargeRequest) (*ports.Transaction, error) {
	if err := c.requireKey(); err != nil {
		return nil, err
	}
	if !strings.Contains(req.Email, "@") {
		return nil, domain.Validationf("payer email is required")
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Validationf("amount must be positive")
	}
	if req.AuthorizationCode == "" {
		return nil, domain.Validationf("authorization code is required")
	}

	body := chargeRequest{
		Email:             req.Email,
		Amount:            domain.ToMinorUnits(req.Amount),
		Currency:          domain.Currency,
		AuthorizationCode: req.AuthorizationCode,
		Reference:         req.Reference,
		Metadata:          req.Metadata,
	}

	var data transactionData
	if err := c.do(ctx, "charge_authorization", http.MethodPost, "/transaction/charge_authorization", body, &data); err != nil {
		return nil, unwrapRetryable(err)
	}
	return data.toTransaction()
}

func (c *Client) requireKey() error {
	if strings.TrimSpace(c.cfg.SecretKey) == "" {
		return fmt.Errorf("%w: paystack secret key", domain.ErrConfiguration)
	}
	return nil
}

// do performs one API call and decodes the envelope's data into out.
// Network failures, 429 and 5xx come back as *retryableError.
func (c *Client) do(ctx context.Context, operation, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", operation, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", operation, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordGatewayRequest(ctx, operation, time.Since(start).Seconds(), false)
		if ctx.Err() != nil {
			return fmt.Errorf("%w: %s: %w", domain.ErrTimeout, operation, ctx.Err())
		}
		return &retryableError{err: fmt.Errorf("%w: %s: %v", domain.ErrUpstream, operation, err)}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	c.metrics.RecordGatewayRequest(ctx, operation, time.Since(start).Seconds(), err == nil && resp.StatusCode < 400)
	if err != nil {
		return &retryableError{err: fmt.Errorf("%w: %s: read body: %v", domain.ErrUpstream, operation, err)}
	}

	var env envelope
	decodeErr := json.Unmarshal(raw, &env)

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return domain.NotFoundf("paystack %s: %s", operation, messageOr(env.Message, "transaction not found"))
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return &retryableError{err: fmt.Errorf("%w: paystack %s returned %d: %s",
			domain.ErrUpstream, operation, resp.StatusCode, messageOr(env.Message, http.StatusText(resp.StatusCode)))}
	case resp.StatusCode >= 400:
		return fmt.Errorf("%w: %w: paystack %s returned %d: %s",
			domain.ErrUpstream, ports.ErrRejected, operation, resp.StatusCode, messageOr(env.Message, http.StatusText(resp.StatusCode)))
	}

	if decodeErr != nil {
		return fmt.Errorf("%w: paystack %s: decode response: %v", domain.ErrProtocol, operation, decodeErr)
	}
	if !env.Status {
		return fmt.Errorf("%w: %w: paystack %s: %s", domain.ErrUpstream, ports.ErrRejected, operation, messageOr(env.Message, "request rejected"))
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return fmt.Errorf("%w: paystack %s: response has no data", domain.ErrProtocol, operation)
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("%w: paystack %s: decode data: %v", domain.ErrProtocol, operation, err)
	}
	return nil
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func unwrapRetryable(err error) error {
	var retryable *retryableError
	if errors.As(err, &retryable) {
		return retryable.err
	}
	return err
}

func messageOr(message, fallback string) string {
	if strings.TrimSpace(message) == "" {
		return fallback
	}
	return message
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
