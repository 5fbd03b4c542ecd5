package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/amaumene/debridarr/internal/services/notify"
	"github.com/rs/zerolog"
)

const (
	defaultIngestSpec   = "@every 30m"
	defaultVerifierSpec = "@every 6h"
	metadataPurgeSpec   = "@hourly"
)

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// Start registers the periodic jobs, starts cron and kicks off an initial ingest
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info().Msg("Starting scheduler")

	ingest := s.ingestSpec
	if ingest == "" {
		ingest = defaultIngestSpec
	}
	verify := s.verifierSpec
	if verify == "" {
		verify = defaultVerifierSpec
	}

	jobs := []struct {
		name string
		spec string
		fn   func(context.Context)
	}{
		{"ingest", ingest, s.RunSync},
		{"verifier", verify, s.RunVerifier},
		{"metadata_purge", metadataPurgeSpec, s.runMetadataPurge},
	}
	for _, job := range jobs {
		if _, err := s.cron.AddFunc(job.spec, func() { job.fn(ctx) }); err != nil {
			return fmt.Errorf("failed to add %s job: %w", job.name, err)
		}
	}

	s.cron.Start()
	s.notifier.Publish(notify.KindProgramStart, nil, "debridarr started")
	s.logger.Info().Str("ingest", ingest).Str("verifier", verify).Msg("Scheduler started")

	go func() {
		s.RunSync(ctx)
		s.Trigger()
	}()
	return nil
}

// Stop waits for running jobs, then publishes program_stop and flushes pending notifications
func (s *Scheduler) Stop() {
	s.logger.Info().Msg("Stopping scheduler")
	<-s.cron.Stop().Done()

	s.notifier.Publish(notify.KindProgramStop, nil, "debridarr stopped")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.notifier.Flush(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Failed to flush notifications on stop")
	}
}

// RunSync pulls every content source into the store
func (s *Scheduler) RunSync(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.logger.Info().Msg("Running content sync")
	stats, err := s.pipeline.Sync.SyncAll(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Sync job failed")
		return
	}
	s.logger.Info().
		Int("sources", stats.Sources).
		Int("created", stats.Created).
		Int("updated", stats.Updated).
		Int("failed", stats.Failed).
		Msg("Sync job completed")
	if stats.Created > 0 {
		s.Trigger()
	}
}

// RunVerifier checks collected files against the mount and the library
func (s *Scheduler) RunVerifier(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	s.work.Lock()
	defer s.work.Unlock()
	report, err := s.pipeline.Verifier.Run(ctx)
	if err != nil {
		s.logger.Error().Err(err).Msg("Verifier job failed")
		return
	}
	s.logger.Info().
		Int("checked", report.Checked).
		Int("missing", report.Missing).
		Int("requeued", report.Requeued).
		Int("orphans", report.Orphans).
		Msg("Verifier job completed")
}

func (s *Scheduler) runMetadataPurge(ctx context.Context) {
	n, err := s.db.PurgeExpiredMetadata(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Failed to purge metadata cache")
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("count", n).Msg("Purged expired metadata")
	}
}
