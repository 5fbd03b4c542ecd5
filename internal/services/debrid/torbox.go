package debrid

import (
	"context"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const torboxAPIBase = "https://api.torbox.app/v1/api"

// defaultTorBoxSlots is the active download limit assumed for TorBox accounts
const defaultTorBoxSlots = 10

// TorBox talks to the TorBox torrents API
type TorBox struct {
	api   apiClient
	slots int
}

// torboxResponse is the common TorBox envelope
type torboxResponse[T any] struct {
	Success bool    `json:"success"`
	Error   *string `json:"error"`
	Detail  string  `json:"detail"` // e.g., "Found cached torrent. Using cached torrent."
	Data    T       `json:"data"`
}

type torboxCreated struct {
	Hash      string `json:"hash"`
	TorrentID int64  `json:"torrent_id"`
	AuthID    string `json:"auth_id"`
}

// torboxFile represents a file within a torrent
type torboxFile struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	Size      int64  `json:"size"`
	ShortName string `json:"short_name"`
	MimeType  string `json:"mimetype"`
}

// torboxTorrent represents a torrent from TorBox
type torboxTorrent struct {
	ID               int64        `json:"id"`
	Name             string       `json:"name"`
	Hash             string       `json:"hash"`
	DownloadState    string       `json:"download_state"`
	Progress         float64      `json:"progress"`
	Size             int64        `json:"size"`
	Files            []torboxFile `json:"files"`
	Active           bool         `json:"active"`
	Cached           bool         `json:"cached"`
	DownloadPresent  bool         `json:"download_present"`
	DownloadFinished bool         `json:"download_finished"`
}

// NewTorBox creates a TorBox provider
func NewTorBox(apiKey, baseURL string, logger zerolog.Logger) *TorBox {
	if baseURL == "" {
		baseURL = torboxAPIBase
	}
	return &TorBox{api: newAPIClient("torbox", baseURL, apiKey, logger), slots: defaultTorBoxSlots}
}

func (t *TorBox) Name() string { return "torbox" }

// SetSlots overrides the assumed active download limit
func (t *TorBox) SetSlots(n int) {
	if n > 0 {
		t.slots = n
	}
}

func (t *TorBox) IsCached(ctx context.Context, hashes []string) (map[string]bool, error) {
	out := make(map[string]bool, len(hashes))
	if len(hashes) == 0 {
		return out, nil
	}
	q := url.Values{
		"hash":   {strings.Join(hashes, ",")},
		"format": {"object"},
	}
	var resp torboxResponse[map[string]struct {
		Name string `json:"name"`
		Size int64  `json:"size"`
		Hash string `json:"hash"`
	}]
	if err := t.api.getJSON(ctx, "/torrents/checkcached", q, &resp); err != nil {
		return nil, err
	}
	for _, h := range hashes {
		_, ok := resp.Data[normalizeHash(h)]
		out[h] = ok
	}
	return out, nil
}

// AddTorrent creates a torrent job by uploading the .torrent file or passing the magnet
func (t *TorBox) AddTorrent(ctx context.Context, src TorrentSource) (*TorrentInfo, error) {
	var resp torboxResponse[torboxCreated]
	fields := map[string]string{}
	if src.Name != "" {
		// helps TorBox identify the download in webhooks
		fields["name"] = src.Name
	}

	var err error
	if len(src.File) > 0 {
		err = t.api.postMultipart(ctx, "/torrents/createtorrent", "file", "upload.torrent", src.File, fields, &resp)
	} else {
		magnet := src.Magnet
		if magnet == "" {
			magnet = MagnetFromHash(src.Hash, src.Name)
		}
		form := url.Values{"magnet": {magnet}}
		for k, v := range fields {
			form.Set(k, v)
		}
		err = t.api.postForm(ctx, "/torrents/createtorrent", form, &resp)
	}
	if err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("torrent creation failed: %s", resp.Detail)
	}

	t.api.logger.Debug().
		Int64("torrent_id", resp.Data.TorrentID).
		Str("detail", resp.Detail).
		Msg("Created TorBox torrent")

	return t.GetTorrentInfo(ctx, strconv.FormatInt(resp.Data.TorrentID, 10))
}

func (t *TorBox) GetTorrentInfo(ctx context.Context, id string) (*TorrentInfo, error) {
	q := url.Values{"id": {id}, "bypass_cache": {"true"}}
	var resp torboxResponse[*torboxTorrent]
	if err := t.api.getJSON(ctx, "/torrents/mylist", q, &resp); err != nil {
		return nil, notFound(err)
	}
	if !resp.Success || resp.Data == nil {
		return nil, fmt.Errorf("%w: %s", ErrTorrentNotFound, resp.Detail)
	}
	return resp.Data.info(), nil
}

func (tt *torboxTorrent) info() *TorrentInfo {
	out := &TorrentInfo{
		ID:     strconv.FormatInt(tt.ID, 10),
		Hash:   normalizeHash(tt.Hash),
		Name:   tt.Name,
		Status: torboxStatus(tt),
	}
	for _, f := range tt.Files {
		// names are prefixed with the torrent folder
		out.Files = append(out.Files, File{Path: f.Name, Size: f.Size})
	}
	return out
}

// RemoveTorrent deletes a torrent through controltorrent
func (t *TorBox) RemoveTorrent(ctx context.Context, id string) error {
	torrentID, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid torrent ID: %w", err)
	}
	data := map[string]any{
		"torrent_id": torrentID,
		"operation":  "delete",
	}
	var resp torboxResponse[any]
	if err := t.api.postJSON(ctx, "/torrents/controltorrent", data, &resp); err != nil {
		return notFound(err)
	}
	if !resp.Success {
		return fmt.Errorf("%w: %s", ErrTorrentNotFound, resp.Detail)
	}
	return nil
}

// GetActiveDownloads counts unfinished torrents against the configured slot count
func (t *TorBox) GetActiveDownloads(ctx context.Context) (*ActiveDownloads, error) {
	var resp torboxResponse[[]torboxTorrent]
	if err := t.api.getJSON(ctx, "/torrents/mylist", url.Values{"bypass_cache": {"true"}}, &resp); err != nil {
		return nil, err
	}
	if !resp.Success {
		return nil, fmt.Errorf("failed to list torrents: %s", resp.Detail)
	}
	count := 0
	for _, tt := range resp.Data {
		if tt.Active && !tt.DownloadFinished {
			count++
		}
	}
	return &ActiveDownloads{Count: count, Limit: t.slots}, nil
}

func torboxStatus(tt *torboxTorrent) TorrentStatus {
	if tt.DownloadFinished && tt.DownloadPresent {
		return StatusDownloaded
	}
	switch {
	case strings.HasPrefix(tt.DownloadState, "queued"), tt.DownloadState == "metaDL", tt.DownloadState == "checkingResumeData":
		return StatusQueued
	case strings.Contains(tt.DownloadState, "error"), tt.DownloadState == "failed", tt.DownloadState == "stalled (no seeds)":
		return StatusError
	default:
		return StatusDownloading
	}
}

// WebhookPayload represents the webhook payload from TorBox
type WebhookPayload struct {
	Type      string           `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      NotificationData `json:"data"`
}

// NotificationData contains the notification details
type NotificationData struct {
	Title   string `json:"title"`
	Message string `json:"message"`
}

var webhookNameRe = regexp.MustCompile(`download (.+?) has`)

// ExtractDownloadName extracts the download name from the notification message
// Message format: "download Bosch.Legacy.S03E01.720p has completed"
func (p *WebhookPayload) ExtractDownloadName() (string, error) {
	match := webhookNameRe.FindStringSubmatch(p.Data.Message)
	if len(match) < 2 {
		return "", fmt.Errorf("failed to extract download name from message: %s", p.Data.Message)
	}
	return match[1], nil
}

// Completed reports whether the notification announces a finished torrent download
func (p *WebhookPayload) Completed() bool {
	return strings.Contains(strings.ToLower(p.Data.Title), "download completed") ||
		strings.Contains(strings.ToLower(p.Data.Message), "has completed")
}
