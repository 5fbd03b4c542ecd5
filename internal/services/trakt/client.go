package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL = "https://api.trakt.tv"
	apiVersion     = "2"
)

// APIError is a non-2xx Trakt response
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trakt API request failed with status %d: %s", e.StatusCode, e.Body)
}

func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Client handles communication with Trakt API
type Client struct {
	clientID     string
	clientSecret string
	baseURL      string
	tokenStore   TokenStore
	httpClient   *http.Client
	maxRetries   uint64
	now          func() time.Time
	logger       zerolog.Logger
}

// NewClient creates a new Trakt API client
func NewClient(clientID, clientSecret, tokenFile string, logger zerolog.Logger) *Client {
	return &Client{
		clientID:     clientID,
		clientSecret: clientSecret,
		baseURL:      defaultBaseURL,
		tokenStore:   NewFileTokenStore(tokenFile),
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		maxRetries:   3,
		now:          time.Now,
		logger:       logger.With().Str("component", "trakt").Logger(),
	}
}

// SetBaseURL points the client at another API root
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// doRequest performs an authenticated HTTP request to Trakt API
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	if err := c.ensureValidToken(ctx); err != nil {
		return fmt.Errorf("failed to ensure valid token: %w", err)
	}
	return c.send(ctx, method, path, body, result)
}

// send performs the request without touching the token, retrying 429 and 5xx
func (c *Client) send(ctx context.Context, method, path string, body interface{}, result interface{}) error {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	fullURL := c.baseURL + path
	c.logger.Debug().Str("method", method).Str("url", fullURL).Msg("Making Trakt API request")

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.maxRetries), ctx)
	op := func() error {
		err := c.once(ctx, method, fullURL, payload, result)
		if apiErr, ok := err.(*APIError); ok && !apiErr.retryable() {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		c.logger.Warn().Err(err).Dur("wait", wait).Str("path", path).Msg("Retrying Trakt request")
	})
}

func (c *Client) once(ctx context.Context, method, fullURL string, payload []byte, result interface{}) error {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, reqBody)
	if err != nil {
		return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", apiVersion)
	req.Header.Set("trakt-api-key", c.clientID)

	// public lists work without a token
	if token, err := c.tokenStore.GetToken(); err == nil && token != nil {
		req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(bodyBytes)}
	}

	if result != nil {
		if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
			return backoff.Permanent(fmt.Errorf("failed to decode response: %w", err))
		}
	}
	return nil
}

// ensureValidToken refreshes the token when it expires within 24 hours
func (c *Client) ensureValidToken(ctx context.Context) error {
	token, err := c.tokenStore.GetToken()
	if err != nil {
		c.logger.Debug().Msg("No valid token found, using public access")
		return nil
	}

	if token.ExpiresAt.Sub(c.now()) < 24*time.Hour {
		c.logger.Info().Msg("Token expires soon, refreshing")
		return c.RefreshToken(ctx)
	}
	return nil
}
