package api

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/fluxbase-eu/pagepack/internal/pubsub"
	"github.com/fluxbase-eu/pagepack/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// BundleEvent is published after a build or clear so other instances reload
// the manifest from shared storage
type BundleEvent struct {
	Action   string `json:"action"` // built or cleared
	BuildID  string `json:"build_id,omitempty"`
	Instance string `json:"instance"`
}

// BundleSync wraps a builder and keeps the catalogs of all instances in step
type BundleSync struct {
	BundleBuilder

	ps        pubsub.PubSub
	dir       storage.Directory
	bundleDir string
	instance  string

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBundleSync creates a sync over ps. dir and bundleDir locate the manifest.
func NewBundleSync(builder BundleBuilder, ps pubsub.PubSub, dir storage.Directory, bundleDir string) *BundleSync {
	return &BundleSync{
		BundleBuilder: builder,
		ps:            ps,
		dir:           dir,
		bundleDir:     bundleDir,
		instance:      uuid.NewString(),
	}
}

// Instance identifies this process in published events
func (s *BundleSync) Instance() string {
	return s.instance
}

// Build runs a build and announces the new manifest
func (s *BundleSync) Build(ctx context.Context) (*bundle.Manifest, error) {
	manifest, err := s.BundleBuilder.Build(ctx)
	if err != nil {
		return nil, err
	}
	s.publish(ctx, BundleEvent{Action: "built", BuildID: manifest.BuildID})
	return manifest, nil
}

// Clear removes the bundles and announces it
func (s *BundleSync) Clear(ctx context.Context) error {
	if err := s.BundleBuilder.Clear(ctx); err != nil {
		return err
	}
	s.publish(ctx, BundleEvent{Action: "cleared"})
	return nil
}

// publish failures are logged only; peers pick the manifest up on restart
func (s *BundleSync) publish(ctx context.Context, event BundleEvent) {
	event.Instance = s.instance
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	if err := s.ps.Publish(ctx, pubsub.BundlesChannel, payload); err != nil {
		log.Warn().Err(err).Str("action", event.Action).Msg("Failed to announce bundle change")
	}
}

// Start subscribes to events from other instances
func (s *BundleSync) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	msgs, err := s.ps.Subscribe(ctx, pubsub.BundlesChannel)
	if err != nil {
		cancel()
		return err
	}
	s.cancel = cancel

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for msg := range msgs {
			s.handle(ctx, msg)
		}
	}()
	return nil
}

func (s *BundleSync) handle(ctx context.Context, msg pubsub.Message) {
	var event BundleEvent
	if err := json.Unmarshal(msg.Payload, &event); err != nil {
		log.Warn().Err(err).Msg("Ignoring malformed bundle event")
		return
	}
	if event.Instance == s.instance {
		return
	}

	if err := s.Catalog().Refresh(ctx, s.dir, s.bundleDir); err != nil {
		log.Error().Err(err).Str("build_id", event.BuildID).Msg("Failed to reload bundle manifest")
		return
	}
	log.Info().
		Str("action", event.Action).
		Str("build_id", event.BuildID).
		Str("from", event.Instance).
		Msg("Bundle catalog reloaded")
}

// Stop ends the subscription
func (s *BundleSync) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}
