package indexers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// SearchRequest describes the item being scraped
type SearchRequest struct {
	IMDBID    string
	Title     string
	Year      int
	MediaType models.MediaType
	Season    int
	Episode   int
}

// IsEpisode reports whether the request targets a TV episode
func (r SearchRequest) IsEpisode() bool {
	return r.MediaType == models.MediaTypeEpisode
}

// Indexer returns raw releases for a request
type Indexer interface {
	Name() string
	Search(ctx context.Context, req SearchRequest) ([]models.ScrapeResult, error)
}

// StatusError is a non-2xx indexer response
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("indexer returned status %d: %s", e.StatusCode, e.Body)
}

// base holds the transport shared by every adapter: timeout, token bucket and retry
type base struct {
	name       string
	baseURL    string
	apiKey     string
	options    string
	timeout    time.Duration
	limiter    *rate.Limiter
	httpClient *http.Client
	logger     zerolog.Logger
}

func newBase(cfg config.IndexerConfig, logger zerolog.Logger) base {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RateLimit
	if rps <= 0 {
		rps = 1
	}
	return base{
		name:       cfg.Name,
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		options:    strings.Trim(cfg.Options, "/"),
		timeout:    timeout,
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "indexer").Str("indexer", cfg.Name).Logger(),
	}
}

func (b *base) Name() string { return b.name }

// get fetches url with the indexer timeout, waiting on the token bucket before every attempt
func (b *base) get(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()

	var body []byte
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(500*time.Millisecond), 2), ctx)
	err := backoff.Retry(func() error {
		if err := b.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}
		req.Header.Set("User-Agent", "debridarr/1.0")

		resp, err := b.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("%s request failed: %w", b.name, err)
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
		if err != nil {
			return fmt.Errorf("failed to read response body: %w", err)
		}
		if resp.StatusCode != http.StatusOK {
			statusErr := &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 256)}
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}
		body = data
		return nil
	}, policy)
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (b *base) getJSON(ctx context.Context, url string, out any) error {
	data, err := b.get(ctx, url)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

// New builds an indexer from its configuration
func New(cfg config.IndexerConfig, logger zerolog.Logger) (Indexer, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("indexer %q has no url", cfg.Name)
	}
	switch strings.ToLower(cfg.Type) {
	case "torrentio":
		return NewStremio(cfg, logger), nil
	case "comet":
		return NewStremio(cfg, logger), nil
	case "torznab", "jackett", "prowlarr":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("indexer %q: torznab API key is required", cfg.Name)
		}
		return NewTorznab(cfg, logger), nil
	case "zilean":
		return NewZilean(cfg, logger), nil
	default:
		return nil, fmt.Errorf("indexer %q: unknown type %q", cfg.Name, cfg.Type)
	}
}

// NewAll builds every enabled indexer, skipping misconfigured ones with a warning
func NewAll(cfgs []config.IndexerConfig, logger zerolog.Logger) []Indexer {
	var out []Indexer
	for _, c := range cfgs {
		if !c.Enabled {
			continue
		}
		idx, err := New(c, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Indexer disabled")
			continue
		}
		out = append(out, idx)
	}
	return out
}

// ParseSizeGB converts "1.5 GB", "700MB", "2 TiB" to gigabytes
func ParseSizeGB(s string) float64 {
	s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
	if s == "" {
		return 0
	}
	i := 0
	for i < len(s) && (s[i] == '.' || (s[i] >= '0' && s[i] <= '9')) {
		i++
	}
	value, err := strconv.ParseFloat(s[:i], 64)
	if err != nil {
		return 0
	}
	switch strings.ToUpper(strings.TrimSpace(s[i:])) {
	case "TB", "TIB":
		return value * 1024
	case "GB", "GIB":
		return value
	case "MB", "MIB":
		return value / 1024
	case "KB", "KIB":
		return value / (1024 * 1024)
	default:
		return 0
	}
}

func bytesToGB(n int64) float64 {
	return float64(n) / (1 << 30)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

func intPtr(v int) *int {
	return &v
}
