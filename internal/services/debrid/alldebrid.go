package debrid

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/rs/zerolog"
)

const allDebridAPIBase = "https://api.alldebrid.com/v4"

const allDebridAgent = "debridarr"

// AllDebrid talks to the AllDebrid v4 API
type AllDebrid struct {
	api apiClient
}

type adError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type adEnvelope[T any] struct {
	Status string   `json:"status"`
	Data   T        `json:"data"`
	Error  *adError `json:"error"`
}

type adUploaded struct {
	ID    int64    `json:"id"`
	Hash  string   `json:"hash"`
	Name  string   `json:"name"`
	Ready bool     `json:"ready"`
	Error *adError `json:"error"`
}

type adMagnet struct {
	ID         int64  `json:"id"`
	Filename   string `json:"filename"`
	Hash       string `json:"hash"`
	Status     string `json:"status"`
	StatusCode int    `json:"statusCode"`
	Links      []struct {
		Filename string `json:"filename"`
		Size     int64  `json:"size"`
	} `json:"links"`
}

// NewAllDebrid creates an AllDebrid provider
func NewAllDebrid(apiKey, baseURL string, logger zerolog.Logger) *AllDebrid {
	if baseURL == "" {
		baseURL = allDebridAPIBase
	}
	return &AllDebrid{api: newAPIClient("alldebrid", baseURL, apiKey, logger)}
}

func (a *AllDebrid) Name() string { return "alldebrid" }

func (a *AllDebrid) query(v url.Values) url.Values {
	if v == nil {
		v = url.Values{}
	}
	v.Set("agent", allDebridAgent)
	return v
}

func (e *adError) err() error {
	if e == nil {
		return nil
	}
	if e.Code == "MAGNET_INVALID_ID" {
		return fmt.Errorf("%w: %s", ErrTorrentNotFound, e.Message)
	}
	return fmt.Errorf("alldebrid error %s: %s", e.Code, e.Message)
}

func (a *AllDebrid) IsCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	q := url.Values{}
	for _, h := range hashes {
		q.Add("magnets[]", h)
	}
	var resp adEnvelope[struct {
		Magnets []struct {
			Hash    string `json:"hash"`
			Magnet  string `json:"magnet"`
			Instant bool   `json:"instant"`
		} `json:"magnets"`
	}]
	if err := a.api.getJSON(ctx, "/magnet/instant", a.query(q), &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.err(); err != nil {
		return nil, err
	}
	for _, h := range hashes {
		out[h] = false
	}
	for _, m := range resp.Data.Magnets {
		h := normalizeHash(m.Hash)
		if h == "" {
			h = normalizeHash(m.Magnet)
		}
		out[h] = m.Instant
	}
	return out, nil
}

func (a *AllDebrid) AddTorrent(ctx context.Context, src TorrentSource) (*TorrentInfo, error) {
	var uploaded adUploaded
	if len(src.File) > 0 {
		var resp adEnvelope[struct {
			Files []adUploaded `json:"files"`
		}]
		name := src.Name
		if name == "" {
			name = "upload"
		}
		if err := a.api.postMultipart(ctx, "/magnet/upload/file?"+a.query(nil).Encode(), "files[]", name+".torrent", src.File, nil, &resp); err != nil {
			return nil, err
		}
		if err := resp.Error.err(); err != nil {
			return nil, err
		}
		if len(resp.Data.Files) == 0 {
			return nil, fmt.Errorf("alldebrid returned no upload result")
		}
		uploaded = resp.Data.Files[0]
	} else {
		magnet := src.Magnet
		if magnet == "" {
			magnet = MagnetFromHash(src.Hash, src.Name)
		}
		var resp adEnvelope[struct {
			Magnets []adUploaded `json:"magnets"`
		}]
		if err := a.api.getJSON(ctx, "/magnet/upload", a.query(url.Values{"magnets[]": {magnet}}), &resp); err != nil {
			return nil, err
		}
		if err := resp.Error.err(); err != nil {
			return nil, err
		}
		if len(resp.Data.Magnets) == 0 {
			return nil, fmt.Errorf("alldebrid returned no upload result")
		}
		uploaded = resp.Data.Magnets[0]
	}
	if err := uploaded.Error.err(); err != nil {
		return nil, err
	}
	return a.GetTorrentInfo(ctx, strconv.FormatInt(uploaded.ID, 10))
}

func (a *AllDebrid) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	var resp adEnvelope[struct {
		Magnets adMagnet `json:"magnets"`
	}]
	if err := a.api.getJSON(ctx, "/magnet/status", a.query(url.Values{"id": {id}}), &resp); err != nil {
		return nil, notFound(err)
	}
	if err := resp.Error.err(); err != nil {
		return nil, err
	}
	m := resp.Data.Magnets
	out := &TorrentInfo{
		ID:     strconv.FormatInt(m.ID, 10),
		Hash:   normalizeHash(m.Hash),
		Name:   m.Filename,
		Status: adStatus(m.StatusCode),
	}
	for _, l := range m.Links {
		out.Files = append(out.Files, File{Path: l.Filename, Size: l.Size})
	}
	return out, nil
}

func (a *AllDebrid) RemoveTorrent(ctx context.Context, id string) error {
	var resp adEnvelope[struct {
		Message string `json:"message"`
	}]
	if err := a.api.getJSON(ctx, "/magnet/delete", a.query(url.Values{"id": {id}}), &resp); err != nil {
		return notFound(err)
	}
	return resp.Error.err()
}

// GetActiveDownloads counts magnets still processing; AllDebrid publishes no slot limit
func (a *AllDebrid) GetActiveDownloads(ctx context.Context) (*ActiveDownloads, error) {
	var resp adEnvelope[struct {
		Magnets []adMagnet `json:"magnets"`
	}]
	if err := a.api.getJSON(ctx, "/magnet/status", a.query(url.Values{"status": {"active"}}), &resp); err != nil {
		return nil, err
	}
	if err := resp.Error.err(); err != nil {
		return nil, err
	}
	return &ActiveDownloads{Count: len(resp.Data.Magnets)}, nil
}

// adStatus maps AllDebrid status codes: 0-3 processing, 4 ready, 5+ failed
func adStatus(code int) TorrentStatus {
	switch {
	case code == 0:
		return StatusQueued
	case code >= 1 && code <= 3:
		return StatusDownloading
	case code == 4:
		return StatusDownloaded
	default:
		return StatusError
	}
}
