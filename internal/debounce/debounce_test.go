package debounce

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ts(seconds int) time.Time {
	return time.Date(2023, 11, 14, 22, 13, 0, 0, time.UTC).Add(time.Duration(seconds) * time.Second)
}

func TestDebouncer_StartupAdoptionEmitsNoTransition(t *testing.T) {
	d := New(2)
	assert.Nil(t, d.Observe(false, ts(0)))
	assert.Nil(t, d.Observe(false, ts(1)))
}

func TestDebouncer_PluggedTransitionTimestampsAtFirstObservation(t *testing.T) {
	d := New(2)
	require.Nil(t, d.Observe(false, ts(0)))
	require.Nil(t, d.Observe(false, ts(1)))

	require.Nil(t, d.Observe(true, ts(2)))
	transition := d.Observe(true, ts(3))
	require.NotNil(t, transition)
	assert.Equal(t, Plugged, transition.Kind)
	assert.Equal(t, ts(2), transition.PluggedAt)
}

func TestDebouncer_UnpluggedTransitionUsesPluggedAtFromTransitionStart(t *testing.T) {
	d := New(2)
	require.Nil(t, d.Observe(false, ts(0)))
	require.Nil(t, d.Observe(false, ts(1)))
	require.Nil(t, d.Observe(true, ts(2)))
	plugged := d.Observe(true, ts(3))
	require.NotNil(t, plugged)

	require.Nil(t, d.Observe(false, ts(10)))
	unplugged := d.Observe(false, ts(11))
	require.NotNil(t, unplugged)
	assert.Equal(t, Unplugged, unplugged.Kind)
	assert.Equal(t, ts(2), unplugged.PluggedAt)
	assert.Equal(t, ts(10), unplugged.UnpluggedAt)
}

func TestDebouncer_FlapIsAbsorbedWithoutEmittingTransition(t *testing.T) {
	d := New(3)
	require.Nil(t, d.Observe(false, ts(0)))
	require.Nil(t, d.Observe(false, ts(1)))
	require.Nil(t, d.Observe(false, ts(2)))

	// A single opposite-value blip that never reaches the threshold must
	// not affect the stable state.
	require.Nil(t, d.Observe(true, ts(3)))
	require.Nil(t, d.Observe(false, ts(4)))
	require.Nil(t, d.Observe(false, ts(5)))

	require.Nil(t, d.Observe(true, ts(6)))
	require.Nil(t, d.Observe(true, ts(7)))
	transition := d.Observe(true, ts(8))
	require.NotNil(t, transition)
	assert.Equal(t, ts(6), transition.PluggedAt)
}

func TestDebouncer_SingleSampleThresholdActsImmediately(t *testing.T) {
	d := New(1)
	require.Nil(t, d.Observe(false, ts(0)))

	transition := d.Observe(true, ts(1))
	require.NotNil(t, transition)
	assert.Equal(t, Plugged, transition.Kind)
	assert.Equal(t, ts(1), transition.PluggedAt)
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func TestDebouncer_ObserveNowUsesClock(t *testing.T) {
	d := New(1)
	require.Nil(t, d.ObserveNow(false, fixedClock{ts(0)}))
	transition := d.ObserveNow(true, fixedClock{ts(5)})
	require.NotNil(t, transition)
	assert.Equal(t, ts(5), transition.PluggedAt)
}
