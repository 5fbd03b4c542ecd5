package debrid

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/debridarr/internal/utils"
	"github.com/cenkalti/backoff/v4"
	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// GatewayConfig tunes the resilience wrappers around a provider
type GatewayConfig struct {
	RateLimit        float64 // requests per second
	Burst            int
	MaxRetries       uint64
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	BreakerThreshold int
	BreakerTimeout   time.Duration
	CacheTTL         time.Duration
	BatchSize        int
}

// DefaultGatewayConfig returns production defaults
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		RateLimit:        4,
		Burst:            2,
		MaxRetries:       4,
		InitialBackoff:   500 * time.Millisecond,
		MaxBackoff:       15 * time.Second,
		BreakerThreshold: 5,
		BreakerTimeout:   2 * time.Minute,
		CacheTTL:         10 * time.Minute,
		BatchSize:        100,
	}
}

// RequestObserver is told the outcome of every provider operation
type RequestObserver func(provider, operation, result string)

// Gateway composes a rate limiter, a circuit breaker and retry-with-backoff around a Provider.
// Mutations on the same torrent (or hash, for adds) are serialised.
type Gateway struct {
	provider Provider
	cfg      GatewayConfig
	limiter  *rate.Limiter
	breaker  *CircuitBreaker
	cache    *gocache.Cache
	locks    sync.Map // string -> *sync.Mutex
	observe  RequestObserver
	tracer   trace.Tracer
	logger   zerolog.Logger
}

// NewGateway wraps provider
func NewGateway(provider Provider, cfg GatewayConfig, logger zerolog.Logger) *Gateway {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 4
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 10 * time.Minute
	}
	return &Gateway{
		provider: provider,
		cfg:      cfg,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		breaker:  NewCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerTimeout, 1),
		cache:    gocache.New(cfg.CacheTTL, 2*cfg.CacheTTL),
		observe:  func(string, string, string) {},
		tracer:   utils.Tracer(),
		logger:   logger.With().Str("component", "debrid").Str("provider", provider.Name()).Logger(),
	}
}

// SetObserver installs a request observer (metrics)
func (g *Gateway) SetObserver(o RequestObserver) {
	if o != nil {
		g.observe = o
	}
}

// Name returns the wrapped provider name
func (g *Gateway) Name() string {
	return g.provider.Name()
}

// CircuitState exposes the breaker state
func (g *Gateway) CircuitState() CircuitState {
	return g.breaker.State()
}

func (g *Gateway) lock(key string) func() {
	mu, _ := g.locks.LoadOrStore(key, &sync.Mutex{})
	m := mu.(*sync.Mutex)
	m.Lock()
	return m.Unlock
}

func (g *Gateway) call(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	ctx, span := g.tracer.Start(ctx, "debrid."+op, trace.WithAttributes(attribute.String("provider", g.provider.Name())))
	defer span.End()

	if !g.breaker.Allow() {
		g.observe(g.provider.Name(), op, "circuit_open")
		span.SetStatus(codes.Error, "circuit open")
		return fmt.Errorf("%s: %w: circuit open", op, ErrTransient)
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = g.cfg.InitialBackoff
	expo.MaxInterval = g.cfg.MaxBackoff
	expo.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, g.cfg.MaxRetries), ctx)

	err := backoff.RetryNotify(func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := fn(ctx)
		if err == nil || !IsRetryable(err) {
			if err != nil {
				return backoff.Permanent(err)
			}
			return nil
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		g.logger.Warn().Err(err).Str("operation", op).Dur("retry_in", wait).Msg("Provider call failed, retrying")
	})

	switch {
	case err == nil:
		g.breaker.RecordSuccess()
		g.observe(g.provider.Name(), op, "success")
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case IsRetryable(err):
		g.breaker.RecordFailure()
		g.observe(g.provider.Name(), op, "transient")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%s: %w: %w", op, ErrTransient, err)
	default:
		// the provider answered, so it is reachable
		g.breaker.RecordSuccess()
		g.observe(g.provider.Name(), op, "error")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
}

// IsCached reports the cache status of hashes. Results are cached and misses are batched.
func (g *Gateway) IsCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	var missing []string
	seen := make(map[string]bool, len(hashes))
	for _, h := range hashes {
		h = normalizeHash(h)
		if h == "" || seen[h] {
			continue
		}
		seen[h] = true
		if v, ok := g.cache.Get(h); ok {
			out[h] = v.(bool)
			continue
		}
		missing = append(missing, h)
	}

	for start := 0; start < len(missing); start += g.cfg.BatchSize {
		end := start + g.cfg.BatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[start:end]

		var res map[string]bool
		err := g.call(ctx, "is_cached", func(ctx context.Context) error {
			var err error
			res, err = g.provider.IsCached(ctx, batch)
			return err
		})
		if err != nil {
			return out, err
		}
		for _, h := range batch {
			cached := res[h]
			out[h] = cached
			g.cache.Set(h, cached, gocache.DefaultExpiration)
		}
	}
	return out, nil
}

// AddTorrent submits a torrent. Concurrent adds of the same hash are serialised.
func (g *Gateway) AddTorrent(ctx context.Context, src TorrentSource) (*TorrentInfo, error) {
	if src.Hash != "" {
		defer g.lock("hash:" + normalizeHash(src.Hash))()
	}
	var info *TorrentInfo
	err := g.call(ctx, "add_torrent", func(ctx context.Context) error {
		var err error
		info, err = g.provider.AddTorrent(ctx, src)
		return err
	})
	if err != nil {
		return nil, err
	}
	if info.Hash == "" {
		info.Hash = normalizeHash(src.Hash)
	}
	if info.Status == StatusDownloaded {
		g.cache.Set(normalizeHash(info.Hash), true, gocache.DefaultExpiration)
	}
	g.logger.Info().
		Str("torrent_id", info.ID).
		Str("hash", info.Hash).
		Str("status", string(info.Status)).
		Int("files", len(info.Files)).
		Msg("Added torrent")
	return info, nil
}

// GetTorrentInfo fetches the provider view of a torrent
func (g *Gateway) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var info *TorrentInfo
	err := g.call(ctx, "get_torrent_info", func(ctx context.Context) error {
		var err error
		info, err = g.provider.GetTorrentInfo(ctx, id)
		return err
	})
	return info, err
}

// RemoveTorrent deletes a torrent. Removing an unknown torrent succeeds.
func (g *Gateway) RemoveTorrent(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	defer g.lock("torrent:" + id)()
	err := g.call(ctx, "remove_torrent", func(ctx context.Context) error {
		return g.provider.RemoveTorrent(ctx, id)
	})
	if errors.Is(err, ErrTorrentNotFound) {
		return nil
	}
	if err == nil {
		g.logger.Info().Str("torrent_id", id).Msg("Removed torrent")
	}
	return err
}

// GetActiveDownloads returns current slot usage
func (g *Gateway) GetActiveDownloads(ctx context.Context) (*ActiveDownloads, error) {
	var out *ActiveDownloads
	err := g.call(ctx, "get_active_downloads", func(ctx context.Context) error {
		var err error
		out, err = g.provider.GetActiveDownloads(ctx)
		return err
	})
	return out, err
}
