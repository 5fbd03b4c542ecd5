package debrid

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"
)

const realDebridAPIBase = "https://api.real-debrid.com/rest/1.0"

// RealDebrid talks to the Real-Debrid REST API
type RealDebrid struct {
	api apiClient
}

type rdAddResponse struct {
	ID  string `json:"id"`
	URI string `json:"uri"`
}

type rdTorrentInfo struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Hash     string `json:"hash"`
	Status   string `json:"status"`
	Files    []struct {
		ID       int    `json:"id"`
		Path     string `json:"path"`
		Bytes    int64  `json:"bytes"`
		Selected int    `json:"selected"`
	} `json:"files"`
}

type rdActiveCount struct {
	Nb    int `json:"nb"`
	Limit int `json:"limit"`
}

// NewRealDebrid creates a Real-Debrid provider
func NewRealDebrid(apiKey, baseURL string, logger zerolog.Logger) *RealDebrid {
	if baseURL == "" {
		baseURL = realDebridAPIBase
	}
	return &RealDebrid{api: newAPIClient("realdebrid", baseURL, apiKey, logger)}
}

func (r *RealDebrid) Name() string { return "realdebrid" }

// IsCached uses instantAvailability; a hash is cached when any file variant is offered
func (r *RealDebrid) IsCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	var raw map[string]any
	if err := r.api.getJSON(ctx, "/torrents/instantAvailability/"+strings.Join(hashes, "/"), nil, &raw); err != nil {
		return nil, err
	}
	for _, h := range hashes {
		out[h] = false
		entry, ok := raw[strings.ToLower(h)]
		if !ok {
			entry, ok = raw[strings.ToUpper(h)]
		}
		if !ok {
			continue
		}
		hosts, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		for _, variants := range hosts {
			if list, ok := variants.([]any); ok && len(list) > 0 {
				out[h] = true
				break
			}
		}
	}
	return out, nil
}

// AddTorrent adds a magnet or .torrent, selects all files and returns the resulting info
func (r *RealDebrid) AddTorrent(ctx context.Context, src TorrentSource) (*TorrentInfo, error) {
	var added rdAddResponse
	var err error
	if len(src.File) > 0 {
		err = r.api.do(ctx, http.MethodPut, "/torrents/addTorrent", nil, bytes.NewReader(src.File), "application/x-bittorrent", &added)
	} else {
		magnet := src.Magnet
		if magnet == "" {
			magnet = MagnetFromHash(src.Hash, src.Name)
		}
		err = r.api.postForm(ctx, "/torrents/addMagnet", url.Values{"magnet": {magnet}}, &added)
	}
	if err != nil {
		return nil, err
	}
	if added.ID == "" {
		return nil, fmt.Errorf("realdebrid returned no torrent id")
	}

	if err := r.api.postForm(ctx, "/torrents/selectFiles/"+added.ID, url.Values{"files": {"all"}}, nil); err != nil {
		_ = r.RemoveTorrent(ctx, added.ID)
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	return r.GetTorrentInfo(ctx, added.ID)
}

func (r *RealDebrid) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var info rdTorrentInfo
	if err := r.api.getJSON(ctx, "/torrents/info/"+id, nil, &info); err != nil {
		return nil, notFound(err)
	}
	out := &TorrentInfo{
		ID:     info.ID,
		Hash:   normalizeHash(info.Hash),
		Name:   info.Filename,
		Status: rdStatus(info.Status),
	}
	for _, f := range info.Files {
		if f.Selected == 0 {
			continue
		}
		out.Files = append(out.Files, File{Path: strings.TrimPrefix(f.Path, "/"), Size: f.Bytes})
	}
	return out, nil
}

func (r *RealDebrid) RemoveTorrent(ctx context.Context, id string) error {
	return notFound(r.api.do(ctx, http.MethodDelete, "/torrents/delete/"+id, nil, nil, "", nil))
}

func (r *RealDebrid) GetActiveDownloads(ctx context.Context) (*ActiveDownloads, error) {
	var count rdActiveCount
	if err := r.api.getJSON(ctx, "/torrents/activeCount", nil, &count); err != nil {
		return nil, err
	}
	return &ActiveDownloads{Count: count.Nb, Limit: count.Limit}, nil
}

func rdStatus(s string) TorrentStatus {
	switch s {
	case "downloaded":
		return StatusDownloaded
	case "queued", "magnet_conversion", "waiting_files_selection":
		return StatusQueued
	case "downloading", "compressing", "uploading":
		return StatusDownloading
	default:
		return StatusError
	}
}

// notFound maps a 404 response to ErrTorrentNotFound
func notFound(err error) error {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrTorrentNotFound, httpErr.Body)
	}
	return err
}
