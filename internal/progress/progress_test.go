package progress

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	updates []Update
	err     error
}

func (c *captureSink) Publish(u Update) error {
	if c.err != nil {
		return c.err
	}
	c.updates = append(c.updates, u)
	return nil
}

// runFullJob drives a tracker through a complete simulated run.
func runFullJob(t *testing.T, tr *Tracker, pages, batches int) {
	t.Helper()
	require.NoError(t, tr.Starting())
	require.NoError(t, tr.Rasterized(pages))
	for page := range pages {
		pt := tr.Page(page)
		require.NoError(t, pt.Preparing())
		for b := 1; b <= batches; b++ {
			require.NoError(t, pt.Detection(b, batches))
		}
		require.NoError(t, pt.Extracting())
		require.NoError(t, pt.Measuring())
		require.NoError(t, pt.Saving())
		require.NoError(t, pt.Done())
	}
	require.NoError(t, tr.Exporting())
	require.NoError(t, tr.Persisting())
	require.NoError(t, tr.Complete(42))
}

func TestTrackerMonotonicFullRun(t *testing.T) {
	for _, pages := range []int{1, 2, 3, 7} {
		sink := &captureSink{}
		runFullJob(t, NewTracker(sink), pages, 5)

		require.NotEmpty(t, sink.updates)
		prev := -1
		for _, u := range sink.updates {
			assert.GreaterOrEqual(t, u.Percent, prev, "progress regressed at %q", u.Message)
			assert.LessOrEqual(t, u.Percent, 100)
			assert.GreaterOrEqual(t, u.Percent, 0)
			prev = u.Percent
		}
		last := sink.updates[len(sink.updates)-1]
		assert.Equal(t, 100, last.Percent)
		assert.Contains(t, last.Message, "42")
	}
}

func TestTrackerBandBoundaries(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(sink)
	require.NoError(t, tr.Starting())
	assert.Equal(t, 0, tr.Current())

	require.NoError(t, tr.Rasterized(2))
	assert.Equal(t, 5, tr.Current())

	// First of two pages owns 5..47, second 47..90.
	p0 := tr.Page(0)
	require.NoError(t, p0.Done())
	assert.Equal(t, 47, tr.Current())

	p1 := tr.Page(1)
	require.NoError(t, p1.Done())
	assert.Equal(t, 90, tr.Current())

	require.NoError(t, tr.Exporting())
	assert.Equal(t, 92, tr.Current())
	require.NoError(t, tr.Complete(0))
	assert.Equal(t, 100, tr.Current())
}

func TestPageDetectionFractionWithinBand(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(sink)
	require.NoError(t, tr.Rasterized(1))

	pt := tr.Page(0)
	require.NoError(t, pt.Detection(0, 10))
	assert.Equal(t, 5, tr.Current())

	// Detection never exceeds 70% of the page band (5 + 0.70*85 = 64).
	require.NoError(t, pt.Detection(10, 10))
	assert.Equal(t, 64, tr.Current())

	require.NoError(t, pt.Done())
	assert.Equal(t, 90, tr.Current())
}

func TestTrackerClampsRegression(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(sink)
	require.NoError(t, tr.Rasterized(1))

	pt := tr.Page(0)
	require.NoError(t, pt.Detection(8, 10))
	at := tr.Current()

	// A caller re-reporting an earlier checkpoint must not regress the
	// displayed value.
	require.NoError(t, pt.Detection(2, 10))
	assert.Equal(t, at, tr.Current())
}

func TestTrackerZeroTotalDetection(t *testing.T) {
	sink := &captureSink{}
	tr := NewTracker(sink)
	require.NoError(t, tr.Rasterized(1))
	pt := tr.Page(0)
	require.NoError(t, pt.Detection(0, 0))
	assert.Empty(t, sink.updates[1:])
}

func TestTrackerSinkErrorSurfaced(t *testing.T) {
	boom := errors.New("store write failed")
	tr := NewTracker(&captureSink{err: boom})
	err := tr.Starting()
	require.ErrorIs(t, err, boom)
}

func TestSinkFunc(t *testing.T) {
	var got Update
	sink := SinkFunc(func(u Update) error {
		got = u
		return nil
	})
	require.NoError(t, NewTracker(sink).Complete(3))
	assert.Equal(t, 100, got.Percent)
}
