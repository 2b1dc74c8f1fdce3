package sampler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/powercal/powercal/pkg/fcerr"
	"github.com/powercal/powercal/pkg/types"
)

type counter struct {
	mu    sync.Mutex
	n     int
	err   error
	onHit func(n int)
}

func (c *counter) Sample() (float64, float64, error) {
	c.mu.Lock()
	c.n++
	n := c.n
	hook := c.onHit
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	if c.err != nil {
		return 0, 0, c.err
	}
	return 11 + float64(n)/100, 1, nil
}

func TestCount(t *testing.T) {
	assert.Equal(t, 25, Count(5*time.Second, 200*time.Millisecond))
	assert.Equal(t, 1, Count(200*time.Millisecond, 200*time.Millisecond))
	assert.Equal(t, 0, Count(time.Second, 0))
}

func TestCollect(t *testing.T) {
	src := &counter{}
	var seen []types.Sample

	start := time.Now()
	samples, err := Collect(context.Background(), src, 50*time.Millisecond, 10*time.Millisecond,
		WithObserver(func(s types.Sample) { seen = append(seen, s) }))
	require.NoError(t, err)

	require.Len(t, samples, 5)
	assert.Equal(t, samples, seen)
	assert.InDelta(t, 11.01, samples[0].Voltage, 1e-9)
	assert.InDelta(t, 11.05, samples[4].Voltage, 1e-9)
	// The first sample is taken immediately, the rest one interval apart.
	assert.Less(t, samples[0].Timestamp.Sub(start), 10*time.Millisecond)
	assert.GreaterOrEqual(t, samples[4].Timestamp.Sub(samples[0].Timestamp), 35*time.Millisecond)
	for i := 1; i < len(samples); i++ {
		assert.True(t, samples[i].Timestamp.After(samples[i-1].Timestamp))
	}
}

func TestCollectCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	src := &counter{onHit: func(n int) {
		if n == 3 {
			cancel()
		}
	}}

	samples, err := Collect(ctx, src, time.Second, 10*time.Millisecond)
	assert.Nil(t, samples)
	assert.True(t, errors.Is(err, fcerr.Cancelled))
	assert.Equal(t, 3, src.n)
}

func TestCollectCancelledBeforeStart(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &counter{}
	samples, err := Collect(ctx, src, time.Second, 10*time.Millisecond)
	assert.Nil(t, samples)
	assert.Equal(t, fcerr.Cancelled, fcerr.Of(err))
	assert.Zero(t, src.n)
}

func TestCollectSampleError(t *testing.T) {
	src := &counter{err: fcerr.IOTimeout}
	samples, err := Collect(context.Background(), src, 50*time.Millisecond, 10*time.Millisecond)
	assert.Nil(t, samples)
	assert.Equal(t, fcerr.IOTimeout, fcerr.Of(err))
	assert.Equal(t, 1, src.n)
}

func TestCollectEmptyWindow(t *testing.T) {
	_, err := Collect(context.Background(), &counter{}, 5*time.Millisecond, 10*time.Millisecond)
	assert.Equal(t, fcerr.InvalidResults, fcerr.Of(err))
}

func TestCollectClock(t *testing.T) {
	base := time.Unix(1000, 0)
	i := 0
	clock := func() time.Time {
		i++
		return base.Add(time.Duration(i) * time.Second)
	}
	samples, err := Collect(context.Background(), &counter{}, 20*time.Millisecond, 10*time.Millisecond, WithClock(clock))
	require.NoError(t, err)
	require.Len(t, samples, 2)
	assert.Equal(t, base.Add(time.Second), samples[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Second), samples[1].Timestamp)
}

func TestOne(t *testing.T) {
	s, err := One(&counter{})
	require.NoError(t, err)
	assert.InDelta(t, 11.01, s.Voltage, 1e-9)
	assert.False(t, s.Timestamp.IsZero())

	_, err = One(&counter{err: fcerr.IOError})
	assert.Equal(t, fcerr.IOError, fcerr.Of(err))
}
