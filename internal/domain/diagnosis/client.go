package diagnosis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/telecare/telecare/internal/platform/auth"
)

// TokenSource supplies bearer tokens for the diagnosis service.
// *auth.TokenManager satisfies it.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Refresh(ctx context.Context) (*auth.ServiceToken, error)
}

type serviceRequest struct {
	Symptoms       []string `json:"symptoms"`
	Severity       string   `json:"severity"`
	Duration       string   `json:"duration"`
	MedicalHistory []string `json:"medical_history"`
}

type SuggestedInvestigation struct {
	Name     string `json:"name"`
	Priority string `json:"priority"`
	Reason   string `json:"reason"`
}

// ServiceResponse is the diagnosis service's reply body.
type ServiceResponse struct {
	Diagnosis               string                   `json:"diagnosis"`
	ConfidenceScore         float64                  `json:"confidence_score"`
	SuggestedInvestigations []SuggestedInvestigation `json:"suggested_investigations"`
	RecommendedMedications  []string                 `json:"recommended_medications"`
}

// UpstreamError describes the last failed call after the retry loop gave up.
// StatusCode is 0 for network failures.
type UpstreamError struct {
	StatusCode int
	Attempts   int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("diagnosis service unreachable after %d attempt(s): %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("diagnosis service returned %d after %d attempt(s): %v", e.StatusCode, e.Attempts, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Degraded reports whether the failure should be answered with the
// rule-based fallback rather than surfaced to the caller.
func (e *UpstreamError) Degraded() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500
}

// RetryPolicy drives the call loop. Backoff receives the 1-based number of
// the attempt that just failed.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
	Retryable   func(status int) bool
}

// ExponentialBackoff doubles from one second and caps at five.
func ExponentialBackoff(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 4 {
		return 5 * time.Second
	}
	d := time.Second << (attempt - 1)
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

// RetryableStatus covers throttling and server errors.
func RetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests || status >= 500
}

func DefaultRetryPolicy(maxAttempts int) RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return RetryPolicy{MaxAttempts: maxAttempts, Backoff: ExponentialBackoff, Retryable: RetryableStatus}
}

type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithRetryPolicy(p RetryPolicy) ClientOption {
	return func(cl *Client) { cl.policy = p }
}

// WithSleep replaces the backoff sleeper.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) ClientOption {
	return func(cl *Client) { cl.sleep = sleep }
}

// Client calls the external diagnosis service.
type Client struct {
	baseURL    string
	tokens     TokenSource
	httpClient *http.Client
	policy     RetryPolicy
	sleep      func(ctx context.Context, d time.Duration) error
	logger     zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration, tokens TokenSource, logger zerolog.Logger, opts ...ClientOption) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		tokens:     tokens,
		httpClient: &http.Client{Timeout: timeout},
		policy:     DefaultRetryPolicy(3),
		sleep:      sleepCtx,
		logger:     logger,
	}
	for _, o := range opts {
		o(c)
	}
	if c.policy.MaxAttempts < 1 {
		c.policy.MaxAttempts = 1
	}
	if c.policy.Backoff == nil {
		c.policy.Backoff = ExponentialBackoff
	}
	if c.policy.Retryable == nil {
		c.policy.Retryable = RetryableStatus
	}
	return c
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Diagnose posts the request and retries per the client's policy. A 401
// forces a token refresh and is retried without delay; it still consumes an
// attempt.
func (c *Client) Diagnose(ctx context.Context, req *Request) (*ServiceResponse, error) {
	body, err := json.Marshal(serviceRequest{
		Symptoms:       req.Symptoms(),
		Severity:       string(req.Severity),
		Duration:       strings.TrimSpace(req.Duration),
		MedicalHistory: append([]string{}, req.MedicalHistory...),
	})
	if err != nil {
		return nil, fmt.Errorf("encode diagnosis request: %w", err)
	}

	var last *UpstreamError
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, fmt.Errorf("obtain service token: %w", err)
		}

		resp, status, err := c.post(ctx, token, body)
		if err == nil {
			return resp, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		last = &UpstreamError{StatusCode: status, Attempts: attempt, Err: err}

		log := c.logger.Warn().Err(err).Int("attempt", attempt).Int("status", status)
		switch {
		case status == http.StatusUnauthorized:
			log.Msg("diagnosis service rejected token, refreshing")
			if _, rerr := c.tokens.Refresh(ctx); rerr != nil {
				c.logger.Error().Err(rerr).Msg("service token refresh failed")
			}
			continue
		case status == 0 || c.policy.Retryable(status):
			log.Msg("diagnosis call failed, will retry")
		default:
			log.Msg("diagnosis call rejected")
			return nil, last
		}

		if attempt < c.policy.MaxAttempts {
			if err := c.sleep(ctx, c.policy.Backoff(attempt)); err != nil {
				return nil, err
			}
		}
	}
	return nil, last
}

// post performs one call. status is 0 when no HTTP response was received.
func (c *Client) post(ctx context.Context, token string, body []byte) (*ServiceResponse, int, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/diagnosis", bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, resp.StatusCode, fmt.Errorf("non-2xx response: %s", strings.TrimSpace(string(snippet)))
	}

	var out ServiceResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&out); err != nil {
		return nil, http.StatusBadGateway, fmt.Errorf("decode diagnosis response: %w", err)
	}
	if strings.TrimSpace(out.Diagnosis) == "" {
		return nil, http.StatusBadGateway, errors.New("diagnosis response has no diagnosis text")
	}
	return &out, resp.StatusCode, nil
}
