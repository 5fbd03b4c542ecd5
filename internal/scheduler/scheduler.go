package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/amaumene/debridarr/internal/config"
	"github.com/amaumene/debridarr/internal/controllers"
	"github.com/amaumene/debridarr/internal/models"
	"github.com/amaumene/debridarr/internal/services/debrid"
	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/amaumene/debridarr/internal/utils"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

// ErrCrashed is returned by Run when a panic escaped the tick loop
var ErrCrashed = errors.New("scheduler crashed")

// tickTimeout bounds one tick once it no longer follows the caller's cancellation
const tickTimeout = 10 * time.Minute

// Pipeline groups the stage handlers a tick drives
type Pipeline struct {
	Scraping *controllers.ScrapingController
	Adding   *controllers.AddingController
	Checking *controllers.CheckingController
	Upgrade  *controllers.UpgradeController
	Policy   *controllers.Policy
	Sync     *controllers.SyncController
	Verifier *controllers.Verifier
}

// Breaker exposes the provider circuit state. *debrid.Gateway implements it.
type Breaker interface {
	CircuitState() debrid.CircuitState
}

// Notifier is the subset of *notify.Notifier the scheduler uses
type Notifier interface {
	Publish(kind notify.Kind, item *notify.ItemRef, message string)
	Flush(ctx context.Context) error
}

// TickObserver records tick durations (metrics)
type TickObserver interface {
	ObserveTick(d time.Duration)
}

// Scheduler advances the item queues on a fixed tick and runs the periodic jobs
type Scheduler struct {
	db       *models.Database
	pipeline *Pipeline
	breaker  Breaker
	notifier Notifier
	observer TickObserver
	cron     *cron.Cron
	tracer   trace.Tracer
	logger   zerolog.Logger

	interval      time.Duration
	scrapingCap   int
	addingWorkers int
	ingestSpec    string
	verifierSpec  string
	now           func() time.Time

	trigger chan struct{}

	// work serialises ticks with the verifier, which must not see a half-committed collection
	work sync.Mutex

	mu            sync.Mutex
	adminPaused   bool
	breakerPaused bool
}

// NewScheduler creates a new scheduler
func NewScheduler(cfg *config.Config, db *models.Database, pipeline *Pipeline, breaker Breaker, notifier Notifier, observer TickObserver, logger zerolog.Logger) *Scheduler {
	logger = logger.With().Str("component", "scheduler").Logger()
	s := &Scheduler{
		db:            db,
		pipeline:      pipeline,
		breaker:       breaker,
		notifier:      notifier,
		observer:      observer,
		tracer:        utils.Tracer(),
		logger:        logger,
		interval:      cfg.TickInterval,
		scrapingCap:   cfg.ScrapingCap,
		addingWorkers: cfg.AddingWorkers,
		ingestSpec:    cfg.IngestSchedule,
		verifierSpec:  cfg.VerifierSchedule,
		now:           time.Now,
		trigger:       make(chan struct{}, 1),
	}
	if s.interval <= 0 {
		s.interval = 5 * time.Second
	}
	if s.scrapingCap <= 0 {
		s.scrapingCap = 5
	}
	if s.addingWorkers <= 0 {
		s.addingWorkers = 2
	}
	cl := cronLogger{logger}
	s.cron = cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)))

	db.OnTransition(s.onTransition)
	return s
}

// SetClock overrides the time source
func (s *Scheduler) SetClock(now func() time.Time) {
	s.now = now
}

// onTransition publishes the state changes users care about
func (s *Scheduler) onTransition(item *models.MediaItem, from, to models.State, cause string) {
	if to != models.StateCollected && to != models.StateBlacklisted {
		return
	}
	s.notifier.Publish(notify.KindStateChange, controllers.ItemRef(item), fmt.Sprintf("%s -> %s: %s", from, to, cause))
}

// Trigger asks for a tick as soon as possible
func (s *Scheduler) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

// Pause stops the tick loop from advancing items until Resume
func (s *Scheduler) Pause() {
	s.mu.Lock()
	was := s.pausedLocked()
	s.adminPaused = true
	s.mu.Unlock()
	if !was {
		s.logger.Info().Msg("Queue paused by admin")
		s.notifier.Publish(notify.KindQueuePause, nil, "paused by admin")
	}
}

// Resume lifts an admin pause. A pause caused by the provider breaker stays in effect.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	s.adminPaused = false
	now := s.pausedLocked()
	s.mu.Unlock()
	if !now {
		s.logger.Info().Msg("Queue resumed by admin")
		s.notifier.Publish(notify.KindQueueResume, nil, "resumed by admin")
	}
	s.Trigger()
}

// Paused reports whether ticks are currently skipped
func (s *Scheduler) Paused() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pausedLocked()
}

func (s *Scheduler) pausedLocked() bool {
	return s.adminPaused || s.breakerPaused
}

// followBreaker pauses the queue while the provider circuit is open
func (s *Scheduler) followBreaker() {
	if s.breaker == nil {
		return
	}
	open := s.breaker.CircuitState() == debrid.CircuitOpen

	s.mu.Lock()
	changed := open != s.breakerPaused
	s.breakerPaused = open
	s.mu.Unlock()
	if !changed {
		return
	}
	if open {
		s.logger.Warn().Msg("Debrid provider unavailable, pausing queue")
		s.notifier.Publish(notify.KindQueuePause, nil, "debrid provider circuit open")
		return
	}
	s.logger.Info().Msg("Debrid provider recovered, resuming queue")
	s.notifier.Publish(notify.KindQueueResume, nil, "debrid provider circuit closed")
}

// Run resets interrupted items and ticks until ctx is cancelled. A panic escaping a tick
// publishes program_crash and returns ErrCrashed.
func (s *Scheduler) Run(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Msg("Scheduler crashed")
			s.notifier.Publish(notify.KindProgramCrash, nil, fmt.Sprint(r))
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			_ = s.notifier.Flush(flushCtx)
			cancel()
			err = fmt.Errorf("%w: %v", ErrCrashed, r)
		}
	}()

	reset, err := s.db.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("failed to reset interrupted items: %w", err)
	}
	if reset > 0 {
		s.logger.Info().Int("count", reset).Msg("Reset interrupted items to Wanted")
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.logger.Info().Dur("interval", s.interval).Msg("Queue loop started")

	for {
		s.Tick(ctx)
		select {
		case <-ctx.Done():
			s.logger.Info().Msg("Queue loop stopped")
			return nil
		case <-ticker.C:
		case <-s.trigger:
		}
	}
}

// Tick runs every stage once, in order. A failing stage is logged and does not stop the others.
// Stage work is detached from ctx so that a stop request lets the running stage finish; ctx is
// only consulted between stages.
func (s *Scheduler) Tick(ctx context.Context) {
	s.followBreaker()
	if s.Paused() || ctx.Err() != nil {
		return
	}
	s.work.Lock()
	defer s.work.Unlock()

	start := s.now()
	work, cancel := detach(ctx, tickTimeout)
	defer cancel()
	work, span := s.tracer.Start(work, "scheduler.tick")
	defer span.End()

	stages := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"wanted", s.processWanted},
		{"scraping", s.processScraping},
		{"adding", s.processAdding},
		{"checking", s.processChecking},
		{"sleeping", s.processSleeping},
		{"upgrading", s.processUpgrading},
	}
	for _, st := range stages {
		if ctx.Err() != nil {
			s.logger.Debug().Str("stage", st.name).Msg("Stop requested, ending tick early")
			return
		}
		s.stage(work, st.name, st.fn)
	}

	if s.observer != nil {
		s.observer.ObserveTick(s.now().Sub(start))
	}
}

// detach returns a context carrying ctx's values but not its cancellation, bounded by timeout
func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), timeout)
}

func (s *Scheduler) stage(ctx context.Context, name string, fn func(context.Context) error) {
	ctx, span := s.tracer.Start(ctx, "stage."+name)
	defer span.End()
	if err := fn(ctx); err != nil && ctx.Err() == nil {
		span.RecordError(err)
		s.logger.Error().Err(err).Str("stage", name).Msg("Stage failed")
	}
}
