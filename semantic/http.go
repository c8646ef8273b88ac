package semantic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/liamcoop/casereview/policy"
	"github.com/liamcoop/casereview/rules"
)

const (
	defaultTimeout = 10 * time.Second
	maxBodySize    = 1 << 20
)

// ErrNoVerdict is returned when the service answers without a verdict object
var ErrNoVerdict = errors.New("semantic service returned no verdict")

// HTTPConfig configures the HTTP checker
type HTTPConfig struct {
	// URL receives one POST per semantic rule
	URL string

	// Timeout bounds each call, including the wait for the rate limiter. Default: 10s.
	Timeout time.Duration

	// RequestsPerSecond throttles calls; zero disables throttling
	RequestsPerSecond float64
	Burst             int
}

// HTTPChecker asks an external service whether a case violates a semantic rule
type HTTPChecker struct {
	config  HTTPConfig
	client  *http.Client
	limiter *rate.Limiter
}

var _ rules.SemanticChecker = (*HTTPChecker)(nil)

// NewHTTPChecker creates an HTTP-backed semantic checker
func NewHTTPChecker(cfg HTTPConfig) *HTTPChecker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}

	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}

	return &HTTPChecker{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

type checkRequest struct {
	RuleID      string         `json:"rule_id"`
	Description string         `json:"description"`
	VendorName  any            `json:"vendor_name"`
	LineItems   any            `json:"line_items"`
	Inputs      map[string]any `json:"inputs"`
}

type checkResponse struct {
	Violation *bool  `json:"violation"`
	Reason    string `json:"reason"`
}

// Check implements rules.SemanticChecker
func (c *HTTPChecker) Check(ctx context.Context, rule policy.Rule, in rules.Input) (rules.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to wait for rate limiter: %w", err)
	}

	body, err := json.Marshal(checkRequest{
		RuleID:      rule.ID,
		Description: rule.Description,
		VendorName:  in["vendor_name"],
		LineItems:   in[rules.FieldLineItems],
		Inputs:      in,
	})
	if err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.URL, bytes.NewReader(body))
	if err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to call semantic service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rules.Verdict{}, fmt.Errorf("semantic service returned status %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to read response: %w", err)
	}

	var out checkResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return rules.Verdict{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Violation == nil {
		return rules.Verdict{}, ErrNoVerdict
	}

	return rules.Verdict{Violation: *out.Violation, Reason: out.Reason}, nil
}
