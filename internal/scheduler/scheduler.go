// Package scheduler runs bundle builds on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Builder runs one build pass
type Builder interface {
	Build(ctx context.Context) (*bundle.Manifest, error)
}

// Leader reports whether this instance should run shared work. A nil Leader
// means the instance always runs.
type Leader interface {
	IsLeader() bool
}

// Scheduler triggers Builder.Build on a cron expression
type Scheduler struct {
	cron     *cron.Cron
	schedule string
	builder  Builder
	leader   Leader
	entry    cron.EntryID
	running  atomic.Bool
	runs     atomic.Int64
	stopOnce sync.Once
	ctx      context.Context
	cancel   context.CancelFunc
}

// parser accepts 5-field expressions, 6-field expressions with seconds and
// descriptors such as @hourly
var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// New validates schedule and registers the build job
func New(schedule string, builder Builder, leader Leader) (*Scheduler, error) {
	if _, err := parser.Parse(schedule); err != nil {
		return nil, fmt.Errorf("invalid bundle schedule %q: %w", schedule, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:     cron.New(cron.WithParser(parser)),
		schedule: schedule,
		builder:  builder,
		leader:   leader,
		ctx:      ctx,
		cancel:   cancel,
	}

	entry, err := s.cron.AddFunc(schedule, func() { s.RunOnce() })
	if err != nil {
		cancel()
		return nil, err
	}
	s.entry = entry

	return s, nil
}

// Start begins firing the schedule
func (s *Scheduler) Start() {
	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Time("next", s.Next()).Msg("Bundle build scheduler started")
}

// Stop cancels a running build and waits for it to return
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		log.Info().Msg("Stopping bundle build scheduler")
		s.cancel()

		ctx := s.cron.Stop()
		select {
		case <-ctx.Done():
		case <-time.After(30 * time.Second):
			log.Warn().Msg("Scheduler shutdown timeout - build may not have completed")
		}
	})
}

// Next returns the next activation time, zero before Start
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Runs returns how many builds the scheduler has started
func (s *Scheduler) Runs() int64 {
	return s.runs.Load()
}

// RunOnce runs a build now unless another instance leads or a scheduled
// build is still running. It reports whether a build was attempted.
func (s *Scheduler) RunOnce() bool {
	if s.leader != nil && !s.leader.IsLeader() {
		log.Debug().Msg("Skipping scheduled bundle build - not the leader")
		return false
	}
	if !s.running.CompareAndSwap(false, true) {
		log.Warn().Msg("Skipping scheduled bundle build - previous build still running")
		return false
	}
	defer s.running.Store(false)

	s.runs.Add(1)
	manifest, err := s.builder.Build(s.ctx)
	switch {
	case errors.Is(err, bundle.ErrBuildInProgress):
		log.Info().Msg("Scheduled bundle build skipped - a manual build is running")
	case err != nil:
		log.Error().Err(err).Msg("Scheduled bundle build failed")
	default:
		log.Info().
			Str("build_id", manifest.BuildID).
			Int("files", len(manifest.Files)).
			Msg("Scheduled bundle build completed")
	}
	return true
}
