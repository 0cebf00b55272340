package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/elonfeng/socialpulse/internal/pipeline"
	"github.com/elonfeng/socialpulse/pkg/source"
)

type countingRunner struct {
	mu      sync.Mutex
	runs    int
	active  int
	overlap bool
	delay   time.Duration
}

func (c *countingRunner) Run(ctx context.Context, refs []source.Ref) pipeline.Summary {
	c.mu.Lock()
	c.runs++
	c.active++
	if c.active > 1 {
		c.overlap = true
	}
	c.mu.Unlock()

	time.Sleep(c.delay)

	c.mu.Lock()
	c.active--
	c.mu.Unlock()
	return pipeline.Summary{RunID: "run"}
}

func (c *countingRunner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.runs
}

func TestSchedulerRunsImmediatelyAndRepeats(t *testing.T) {
	runner := &countingRunner{delay: 5 * time.Millisecond}
	var (
		mu    sync.Mutex
		after int
	)
	s := New(runner, []source.Ref{{Platform: source.PlatformTimeline, Handle: "a", Count: 1}}, 10*time.Millisecond,
		func(context.Context, pipeline.Summary) {
			mu.Lock()
			after++
			mu.Unlock()
		}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 80*time.Millisecond)
	defer cancel()

	err := s.Run(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	assert.GreaterOrEqual(t, runner.count(), 2)
	assert.False(t, runner.overlap)
	mu.Lock()
	assert.GreaterOrEqual(t, after, 1)
	mu.Unlock()
}

func TestSchedulerDefaultsInterval(t *testing.T) {
	s := New(&countingRunner{}, nil, 0, nil, nil)
	assert.Equal(t, time.Hour, s.interval)
}
