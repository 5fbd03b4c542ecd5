package torbox

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var (
	downloadNameRe = regexp.MustCompile(`download (.+?) has`)
	hashRe         = regexp.MustCompile(`\b([a-fA-F0-9]{40}|[a-fA-F0-9]{32})\b`)
)

// Download statuses reported by GetStatus
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusUnknown   = "unknown"
)

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

// ExtractDownloadName extracts the download name from the notification message
// Message format: "download The.Matrix.1999.1080p.BluRay has completed"
func (p *WebhookPayload) ExtractDownloadName() (string, error) {
	match := downloadNameRe.FindStringSubmatch(p.Data.Message)
	if len(match) < 2 {
		return "", fmt.Errorf("failed to extract download name from message: %s", p.Data.Message)
	}
	return match[1], nil
}

// ExtractHash extracts an info-hash from the notification message, lowercased
func (p *WebhookPayload) ExtractHash() (string, error) {
	match := hashRe.FindStringSubmatch(p.Data.Message)
	if len(match) < 2 {
		return "", fmt.Errorf("failed to extract hash from message: %s", p.Data.Message)
	}
	return strings.ToLower(match[1]), nil
}

// GetStatus returns the download status based on the title.
// Torrent, usenet and web downloads share the "... Download Completed/Failed" titles.
func (p *WebhookPayload) GetStatus() string {
	title := strings.TrimSpace(p.Data.Title)
	switch {
	case strings.HasSuffix(title, "Download Completed"):
		return StatusCompleted
	case strings.HasSuffix(title, "Download Failed"):
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// Actionable reports whether the notification should wake the queue
func (p *WebhookPayload) Actionable() bool {
	return p.GetStatus() != StatusUnknown
}
