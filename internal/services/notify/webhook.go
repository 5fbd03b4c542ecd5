package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Webhook posts batches to a URL. Discord webhooks get embeds, anything else a generic JSON body.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a webhook sender
func NewWebhook(url string) *Webhook {
	return &Webhook{
		url:    url,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *Webhook) Send(ctx context.Context, events []Event) error {
	var payload interface{}
	if strings.Contains(w.url, "discord.com/api/webhooks") {
		payload = discordPayload(events)
	} else {
		payload = map[string]interface{}{
			"source": "debridarr",
			"events": events,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func discordPayload(events []Event) map[string]interface{} {
	embeds := make([]map[string]interface{}, 0, len(events))
	for _, e := range events {
		// discord accepts at most 10 embeds per message
		if len(embeds) == 10 {
			break
		}
		title := strings.ReplaceAll(string(e.Kind), "_", " ")
		if e.Item != nil {
			title += ": " + e.Item.Label
		}
		embeds = append(embeds, map[string]interface{}{
			"title":       title,
			"description": e.Message,
			"timestamp":   e.Time.UTC().Format(time.RFC3339),
		})
	}
	return map[string]interface{}{"embeds": embeds}
}

// LogSender writes events to the log when no webhook is configured
type LogSender struct {
	logger zerolog.Logger
}

// NewLogSender creates a log-only sender
func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger.With().Str("component", "notify").Logger()}
}

func (l *LogSender) Send(_ context.Context, events []Event) error {
	for _, e := range events {
		ev := l.logger.Info().Str("kind", string(e.Kind))
		if e.Item != nil {
			ev = ev.Uint64("item_id", e.Item.ID).Str("item", e.Item.Label)
		}
		ev.Msg(e.Message)
	}
	return nil
}

// NewSender picks the webhook sender when a URL is configured
func NewSender(url string, logger zerolog.Logger) Sender {
	if url == "" {
		return NewLogSender(logger)
	}
	return NewWebhook(url)
}
