package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind is a notification category
type Kind string

const (
	KindProgramStart  Kind = "program_start"
	KindProgramStop   Kind = "program_stop"
	KindProgramCrash  Kind = "program_crash"
	KindQueuePause    Kind = "queue_pause"
	KindQueueResume   Kind = "queue_resume"
	KindUpgradeFailed Kind = "upgrade_failed"
	KindStateChange   Kind = "state_change"
)

// maxPending bounds the persisted queue; older entries are dropped first
const maxPending = 20

// ItemRef identifies the media item an event is about
type ItemRef struct {
	ID      uint64 `json:"id"`
	IMDBId  string `json:"imdb_id"`
	Label   string `json:"label"`
	State   string `json:"state,omitempty"`
	Version string `json:"version,omitempty"`
}

// Event is one notification. Seq increases with every published event.
type Event struct {
	Seq     uint64    `json:"seq"`
	Kind    Kind      `json:"kind"`
	Item    *ItemRef  `json:"item,omitempty"`
	Message string    `json:"message"`
	Time    time.Time `json:"time"`
}

// Sender delivers a batch of events
type Sender interface {
	Send(ctx context.Context, events []Event) error
}

// Notifier batches events: a batch goes out once no event arrived for the batch window,
// or once its oldest event waited for the max delay. Undelivered events persist to a JSON file.
type Notifier struct {
	sender   Sender
	path     string
	window   time.Duration
	maxDelay time.Duration
	now      func() time.Time
	logger   zerolog.Logger

	mu      sync.Mutex
	seq     uint64
	pending []Event
	first   time.Time
	last    time.Time
	retryAt time.Time
	sendMu  sync.Mutex
}

// New creates a notifier and loads events left over from a previous run
func New(sender Sender, path string, window, maxDelay time.Duration, logger zerolog.Logger) *Notifier {
	if window <= 0 {
		window = 10 * time.Second
	}
	if maxDelay <= 0 {
		maxDelay = 60 * time.Second
	}
	n := &Notifier{
		sender:   sender,
		path:     path,
		window:   window,
		maxDelay: maxDelay,
		now:      time.Now,
		logger:   logger.With().Str("component", "notify").Logger(),
	}
	n.load()
	return n
}

// SetClock replaces the time source
func (n *Notifier) SetClock(now func() time.Time) {
	n.now = now
}

func (n *Notifier) load() {
	if n.path == "" {
		return
	}
	data, err := os.ReadFile(n.path)
	if err != nil {
		if !os.IsNotExist(err) {
			n.logger.Warn().Err(err).Msg("Failed to read pending notifications")
		}
		return
	}
	var events []Event
	if err := json.Unmarshal(data, &events); err != nil {
		n.logger.Warn().Err(err).Msg("Discarding unreadable pending notifications")
		return
	}
	if len(events) > maxPending {
		events = events[len(events)-maxPending:]
	}
	for i := range events {
		n.seq++
		events[i].Seq = n.seq
	}
	n.pending = events
	if len(events) > 0 {
		now := n.now()
		n.first, n.last = now, now
	}
}

// persist writes the pending list; callers hold mu
func (n *Notifier) persist() {
	if n.path == "" {
		return
	}
	data, err := json.Marshal(n.pending)
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to encode pending notifications")
		return
	}
	tmp, err := os.CreateTemp(filepath.Dir(n.path), ".notifications-*")
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to persist pending notifications")
		return
	}
	_, werr := tmp.Write(data)
	cerr := tmp.Close()
	if werr != nil || cerr != nil {
		os.Remove(tmp.Name())
		n.logger.Warn().Err(fmt.Errorf("write: %v, close: %v", werr, cerr)).Msg("Failed to persist pending notifications")
		return
	}
	if err := os.Rename(tmp.Name(), n.path); err != nil {
		os.Remove(tmp.Name())
		n.logger.Warn().Err(err).Msg("Failed to persist pending notifications")
	}
}

// Publish queues an event
func (n *Notifier) Publish(kind Kind, item *ItemRef, message string) {
	now := n.now()
	n.mu.Lock()
	defer n.mu.Unlock()

	if len(n.pending) == 0 {
		n.first = now
	}
	n.last = now
	n.seq++
	n.pending = append(n.pending, Event{Seq: n.seq, Kind: kind, Item: item, Message: message, Time: now})
	if over := len(n.pending) - maxPending; over > 0 {
		n.pending = append([]Event(nil), n.pending[over:]...)
	}
	n.persist()
}

// Pending returns a copy of the undelivered events
func (n *Notifier) Pending() []Event {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]Event(nil), n.pending...)
}

// Due reports whether the current batch should be sent
func (n *Notifier) Due() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.dueLocked(n.now())
}

func (n *Notifier) dueLocked(now time.Time) bool {
	if len(n.pending) == 0 || now.Before(n.retryAt) {
		return false
	}
	return now.Sub(n.last) >= n.window || now.Sub(n.first) >= n.maxDelay
}

// FlushIfDue sends the batch when its window or max delay has elapsed
func (n *Notifier) FlushIfDue(ctx context.Context) error {
	if !n.Due() {
		return nil
	}
	return n.Flush(ctx)
}

// Flush sends every pending event now. Delivered events are dropped; on failure they stay queued.
func (n *Notifier) Flush(ctx context.Context) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()

	n.mu.Lock()
	batch := append([]Event(nil), n.pending...)
	n.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	err := n.sender.Send(ctx, batch)

	n.mu.Lock()
	defer n.mu.Unlock()
	if err != nil {
		n.retryAt = n.now().Add(n.window)
		n.logger.Warn().Err(err).Int("events", len(batch)).Msg("Failed to deliver notifications")
		return err
	}

	// events published while sending stay queued; drop only what went out
	delivered := batch[len(batch)-1].Seq
	sent := 0
	for sent < len(n.pending) && n.pending[sent].Seq <= delivered {
		sent++
	}
	n.pending = append([]Event(nil), n.pending[sent:]...)
	n.retryAt = time.Time{}
	if len(n.pending) > 0 {
		n.first = n.now()
	}
	n.persist()
	n.logger.Debug().Int("events", sent).Msg("Notifications delivered")
	return nil
}

// Run flushes due batches until ctx is done, then makes a last attempt
func (n *Notifier) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = n.Flush(flushCtx)
			cancel()
			return
		case <-ticker.C:
			_ = n.FlushIfDue(ctx)
		}
	}
}
