package changes

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discsync/discsync-server/internal/domain"
)

type countingReaper struct {
	calls atomic.Int32
	err   error
}

func (c *countingReaper) ReapStaleRuns(_ context.Context, olderThan time.Duration) ([]*domain.ProcessingRun, error) {
	c.calls.Add(1)
	if olderThan != 6*time.Hour {
		return nil, errors.New("unexpected timeout")
	}
	if c.err != nil {
		return nil, c.err
	}
	return []*domain.ProcessingRun{{ID: "run-1", EntityType: domain.EntityArtist}}, nil
}

func TestReapInterval(t *testing.T) {
	assert.Equal(t, 90*time.Minute, ReapInterval(6*time.Hour))
	assert.Equal(t, time.Minute, ReapInterval(2*time.Minute))
}

func TestReapStaleRunsEvery(t *testing.T) {
	for _, reapErr := range []error{nil, errors.New("store offline")} {
		r := &countingReaper{err: reapErr}
		ctx, cancel := context.WithCancel(context.Background())

		done := make(chan struct{})
		go func() {
			ReapStaleRunsEvery(ctx, r, 6*time.Hour, 10*time.Millisecond, slog.New(slog.DiscardHandler))
			close(done)
		}()

		require.Eventually(t, func() bool { return r.calls.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
		cancel()

		select {
		case <-done:
		case <-time.After(time.Second):
			t.Fatal("reaper did not stop")
		}
	}
}
