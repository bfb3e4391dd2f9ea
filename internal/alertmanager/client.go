package alertmanager

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fieldtriage/fieldtriage/internal/types"
	"github.com/rs/zerolog"
)

const (
	alertsPath   = "/api/v2/alerts"
	silencesPath = "/api/v2/silences"

	defaultTimeout = 10 * time.Second
	maxErrorBody   = 4096
)

// Config describes how to reach and authenticate against the backend.
type Config struct {
	BaseURL string
	// Credentials is "user:password" for basic auth. Ignored when Token is set.
	Credentials string
	// Token is sent as a bearer token.
	Token   string
	Timeout time.Duration
}

// Client talks to the Alertmanager v2 API
type Client struct {
	baseURL    string
	authHeader string
	logger     zerolog.Logger
	client     *http.Client
}

// NewClient creates a new Alertmanager client
func NewClient(cfg Config, logger zerolog.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		authHeader: authorization(cfg),
		logger:     logger.With().Str("component", "alertmanager").Logger(),
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetHTTPClient replaces the underlying HTTP client
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.client = hc
}

func authorization(cfg Config) string {
	if cfg.Token != "" {
		return "Bearer " + cfg.Token
	}
	if cfg.Credentials != "" {
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Credentials))
	}
	return ""
}

// Matcher is a single label constraint of a silence
type Matcher struct {
	Name    string `json:"name"`
	Value   string `json:"value"`
	IsRegex bool   `json:"isRegex"`
	IsEqual bool   `json:"isEqual"`
}

// PostableSilence is the body of a silence creation request
type PostableSilence struct {
	Matchers  []Matcher `json:"matchers"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	CreatedBy string    `json:"createdBy"`
	Comment   string    `json:"comment"`
}

type postSilenceResponse struct {
	SilenceID string `json:"silenceID"`
}

// GetAlerts returns every alert the backend currently knows about,
// including silenced ones.
func (c *Client) GetAlerts(ctx context.Context) ([]types.Alert, error) {
	url := c.baseURL + alertsPath

	body, err := c.do(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	var alerts []types.Alert
	if err := json.Unmarshal(body, &alerts); err != nil {
		return nil, &types.TransportError{Op: http.MethodGet, URL: url, Err: fmt.Errorf("decoding alerts: %w", err)}
	}

	c.logger.Debug().
		Int("alert_count", len(alerts)).
		Msg("Fetched alerts")

	return alerts, nil
}

// PostSilence submits a silence and returns the id assigned by the backend
func (c *Client) PostSilence(ctx context.Context, silence PostableSilence) (string, error) {
	url := c.baseURL + silencesPath

	payload, err := json.Marshal(silence)
	if err != nil {
		return "", fmt.Errorf("failed to marshal silence: %w", err)
	}

	body, err := c.do(ctx, http.MethodPost, url, payload)
	if err != nil {
		return "", err
	}

	var resp postSilenceResponse
	if len(body) > 0 {
		if err := json.Unmarshal(body, &resp); err != nil {
			c.logger.Warn().
				Err(err).
				Msg("Silence accepted but response could not be decoded")
		}
	}

	c.logger.Info().
		Str("silence_id", resp.SilenceID).
		Int("matcher_count", len(silence.Matchers)).
		Time("ends_at", silence.EndsAt).
		Msg("Silence created")

	return resp.SilenceID, nil
}

// do performs one request; any failure is reported as a *types.TransportError
func (c *Client) do(ctx context.Context, method, url string, payload []byte) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, &types.TransportError{Op: method, URL: url, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.authHeader != "" {
		req.Header.Set("Authorization", c.authHeader)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &types.TransportError{Op: method, URL: url, Err: fmt.Errorf("failed to send request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &types.TransportError{
			Op:         method,
			URL:        url,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("alertmanager error: %s", strings.TrimSpace(string(body))),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &types.TransportError{Op: method, URL: url, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}
	return body, nil
}
