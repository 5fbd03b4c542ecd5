package debrid

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// apiClient holds what every provider needs to talk to its HTTP API
type apiClient struct {
	provider   string
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

func newAPIClient(provider, baseURL, apiKey string, logger zerolog.Logger) apiClient {
	return apiClient{
		provider: provider,
		baseURL:  strings.TrimRight(baseURL, "/"),
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		logger: logger.With().Str("component", provider).Logger(),
	}
}

// do executes a request and decodes a JSON response into out (when non-nil)
func (c *apiClient) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	c.logger.Debug().
		Str("method", method).
		Str("path", path).
		Int("status_code", resp.StatusCode).
		Msg("Provider API response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &HTTPError{Provider: c.provider, StatusCode: resp.StatusCode, Body: truncate(string(bodyBytes), 512)}
	}
	if out == nil || len(bodyBytes) == 0 {
		return nil
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, "", out)
}

func (c *apiClient) postForm(ctx context.Context, path string, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, strings.NewReader(form.Encode()), "application/x-www-form-urlencoded", out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, payload any, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(data), "application/json", out)
}

// postMultipart uploads a file field plus optional extra fields
func (c *apiClient) postMultipart(ctx context.Context, path, field, filename string, data []byte, fields map[string]string, out any) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile(field, filename)
	if err != nil {
		return fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("failed to write torrent data: %w", err)
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return fmt.Errorf("failed to add %s field: %w", k, err)
		}
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, nil, &buf, writer.FormDataContentType(), out)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// New builds the configured provider. baseURL may be empty to use the provider default.
func New(name, apiKey, baseURL string, logger zerolog.Logger) (Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%s API key is required", name)
	}
	switch name {
	case "realdebrid":
		return NewRealDebrid(apiKey, baseURL, logger), nil
	case "alldebrid":
		return NewAllDebrid(apiKey, baseURL, logger), nil
	case "torbox":
		return NewTorBox(apiKey, baseURL, logger), nil
	default:
		return nil, fmt.Errorf("unknown debrid provider %q", name)
	}
}
