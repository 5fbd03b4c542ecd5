package debrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/anacrolix/torrent/metainfo"
)

// maxTorrentFileSize bounds .torrent downloads
const maxTorrentFileSize = 10 << 20

// ErrNoHash is returned when no info-hash could be derived from a result
var ErrNoHash = errors.New("could not determine info-hash")

// IsMagnet reports whether link is a magnet URI
func IsMagnet(link string) bool {
	return strings.HasPrefix(strings.ToLower(strings.TrimSpace(link)), "magnet:")
}

// HashFromMagnet extracts the btih info-hash from a magnet link as lowercase hex
func HashFromMagnet(magnet string) (string, error) {
	m, err := metainfo.ParseMagnetUri(strings.TrimSpace(magnet))
	if err != nil {
		return "", fmt.Errorf("failed to parse magnet: %w", err)
	}
	return strings.ToLower(m.InfoHash.HexString()), nil
}

// ParseTorrentFile returns the info-hash and name of raw .torrent bytes
func ParseTorrentFile(data []byte) (hash string, name string, err error) {
	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse torrent metainfo: %w", err)
	}
	info, err := mi.UnmarshalInfo()
	if err != nil {
		return "", "", fmt.Errorf("failed to unmarshal torrent info: %w", err)
	}
	return strings.ToLower(mi.HashInfoBytes().HexString()), info.Name, nil
}

// MagnetFromHash builds a minimal magnet link for a hex info-hash
func MagnetFromHash(hash, name string) string {
	link := "magnet:?xt=urn:btih:" + normalizeHash(hash)
	if name != "" {
		link += "&dn=" + url.QueryEscape(name)
	}
	return link
}

// Resolved is a scrape result turned into something a provider can accept
type Resolved struct {
	Hash   string
	Magnet string
	File   []byte
}

// Source converts r into a TorrentSource
func (r Resolved) Source(name string) TorrentSource {
	return TorrentSource{Hash: r.Hash, Magnet: r.Magnet, File: r.File, Name: name}
}

// Fetcher resolves magnets and .torrent URLs to info-hashes
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. Redirects are not followed so that magnet redirects can be captured.
func NewFetcher(timeout time.Duration) *Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Fetcher{
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 5 {
					return errors.New("too many redirects")
				}
				if req.URL.Scheme == "magnet" {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// Resolve computes the info-hash of magnetOrURL. A known hash is trusted for magnets only.
func (f *Fetcher) Resolve(ctx context.Context, magnetOrURL, knownHash string) (*Resolved, error) {
	if IsMagnet(magnetOrURL) {
		h, err := HashFromMagnet(magnetOrURL)
		if err != nil {
			return nil, err
		}
		return &Resolved{Hash: h, Magnet: magnetOrURL}, nil
	}
	if magnetOrURL == "" {
		if knownHash == "" {
			return nil, ErrNoHash
		}
		return &Resolved{Hash: normalizeHash(knownHash), Magnet: MagnetFromHash(knownHash, "")}, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, magnetOrURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download torrent: %w", err)
	}
	defer resp.Body.Close()

	if loc := resp.Header.Get("Location"); resp.StatusCode >= 300 && resp.StatusCode < 400 && IsMagnet(loc) {
		h, err := HashFromMagnet(loc)
		if err != nil {
			return nil, err
		}
		return &Resolved{Hash: h, Magnet: loc}, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("torrent download failed with status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "debridarr-*.torrent")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	defer tmp.Close()

	if _, err := io.Copy(tmp, io.LimitReader(resp.Body, maxTorrentFileSize)); err != nil {
		return nil, fmt.Errorf("failed to write torrent: %w", err)
	}
	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		return nil, err
	}
	h, _, err := ParseTorrentFile(data)
	if err != nil {
		return nil, err
	}
	return &Resolved{Hash: h, File: data}, nil
}
