package debrid

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

var (
	// ErrTransient is returned when a provider call kept failing after retries or the circuit is open
	ErrTransient = errors.New("debrid provider temporarily unavailable")
	// ErrTorrentNotFound is returned when the provider does not know the torrent id
	ErrTorrentNotFound = errors.New("torrent not found on provider")
)

// TorrentStatus is the normalised provider status of a torrent
type TorrentStatus string

const (
	StatusDownloaded  TorrentStatus = "downloaded"
	StatusQueued      TorrentStatus = "queued"
	StatusDownloading TorrentStatus = "downloading"
	StatusError       TorrentStatus = "error"
)

// File is one file inside a torrent as reported by the provider
type File struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// TorrentInfo is the provider view of a torrent
type TorrentInfo struct {
	ID     string        `json:"id"`
	Hash   string        `json:"hash"`
	Name   string        `json:"name"`
	Status TorrentStatus `json:"status"`
	Files  []File        `json:"files"`
}

// ActiveDownloads is the provider's current download slot usage
type ActiveDownloads struct {
	Count int `json:"count"`
	Limit int `json:"limit"`
}

// Full reports whether no slot is free
func (a ActiveDownloads) Full() bool {
	return a.Limit > 0 && a.Count >= a.Limit
}

// TorrentSource is what gets submitted: a magnet link or raw .torrent bytes
type TorrentSource struct {
	Hash   string
	Magnet string
	File   []byte
	Name   string
}

// Provider is the capability set every debrid service implements
type Provider interface {
	Name() string
	IsCached(ctx context.Context, hashes []string) (map[string]bool, error)
	AddTorrent(ctx context.Context, src TorrentSource) (*TorrentInfo, error)
	GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error)
	RemoveTorrent(ctx context.Context, id string) error
	GetActiveDownloads(ctx context.Context) (*ActiveDownloads, error)
}

// HTTPError is a non-2xx provider response
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s API request failed with status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// IsRetryable reports whether err is worth retrying: rate limits, 5xx and network failures
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return isRetryableStatus(httpErr.StatusCode)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return code >= 500
}

func normalizeHash(h string) string {
	return strings.ToLower(strings.TrimSpace(h))
}
