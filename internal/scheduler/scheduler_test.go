package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fluxbase-eu/pagepack/internal/bundle"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBuilder struct {
	mu      sync.Mutex
	calls   int
	err     error
	block   chan struct{}
	started chan struct{}
}

func (b *fakeBuilder) Build(ctx context.Context) (*bundle.Manifest, error) {
	b.mu.Lock()
	b.calls++
	b.mu.Unlock()
	if b.started != nil {
		b.started <- struct{}{}
	}
	if b.block != nil {
		<-b.block
	}
	if b.err != nil {
		return nil, b.err
	}
	return &bundle.Manifest{BuildID: "test"}, nil
}

func (b *fakeBuilder) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

type fixedLeader bool

func (l fixedLeader) IsLeader() bool { return bool(l) }

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		schedule string
		wantErr  bool
	}{
		{"five fields", "*/5 * * * *", false},
		{"six fields", "0 */5 * * * *", false},
		{"descriptor", "@hourly", false},
		{"garbage", "every now and then", true},
		{"empty", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.schedule, &fakeBuilder{}, nil)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			s.Stop()
		})
	}
}

func TestScheduler_RunOnce(t *testing.T) {
	t.Run("builds when leading", func(t *testing.T) {
		b := &fakeBuilder{}
		s, err := New("@hourly", b, fixedLeader(true))
		require.NoError(t, err)

		assert.True(t, s.RunOnce())
		assert.Equal(t, 1, b.count())
		assert.Equal(t, int64(1), s.Runs())
	})

	t.Run("followers skip", func(t *testing.T) {
		b := &fakeBuilder{}
		s, err := New("@hourly", b, fixedLeader(false))
		require.NoError(t, err)

		assert.False(t, s.RunOnce())
		assert.Zero(t, b.count())
	})

	t.Run("build errors are absorbed", func(t *testing.T) {
		for _, buildErr := range []error{errors.New("disk full"), bundle.ErrBuildInProgress} {
			s, err := New("@hourly", &fakeBuilder{err: buildErr}, nil)
			require.NoError(t, err)
			assert.True(t, s.RunOnce())
		}
	})

	t.Run("overlapping runs are skipped", func(t *testing.T) {
		b := &fakeBuilder{block: make(chan struct{}), started: make(chan struct{}, 1)}
		s, err := New("@hourly", b, nil)
		require.NoError(t, err)

		done := make(chan bool)
		go func() { done <- s.RunOnce() }()
		<-b.started

		assert.False(t, s.RunOnce())
		close(b.block)
		assert.True(t, <-done)
		assert.Equal(t, 1, b.count())
	})
}

func TestScheduler_StartStop(t *testing.T) {
	s, err := New("@every 1h", &fakeBuilder{}, nil)
	require.NoError(t, err)

	s.Start()
	assert.WithinDuration(t, time.Now().Add(time.Hour), s.Next(), 5*time.Second)
	s.Stop()
	s.Stop()
}
