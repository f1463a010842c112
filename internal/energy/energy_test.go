package energy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func TestCompute_PresentSessionDeltaIsPreferred(t *testing.T) {
	start := &Snapshot{PresentKWh: f(1.0), TotalKWh: f(100.0)}
	end := Snapshot{PresentKWh: f(6.0), TotalKWh: f(104.0)}

	kwh, source, warnings, err := Compute(start, end)
	require.NoError(t, err)
	assert.Equal(t, 5.0, kwh)
	assert.Equal(t, PresentSessionDelta, source)
	assert.Empty(t, warnings)
}

func TestCompute_NegativePresentSessionDeltaClampedToZero(t *testing.T) {
	start := &Snapshot{PresentKWh: f(8.0)}
	end := Snapshot{PresentKWh: f(3.0)}

	kwh, source, warnings, err := Compute(start, end)
	require.NoError(t, err)
	assert.Equal(t, 0.0, kwh)
	assert.Equal(t, PresentSessionDelta, source)
	require.Len(t, warnings, 1)
	assert.Equal(t, NegativePresentSessionDeltaClamped, warnings[0])
}

func TestCompute_PresentSessionAbsoluteWhenNoStart(t *testing.T) {
	kwh, source, warnings, err := Compute(nil, Snapshot{PresentKWh: f(2.5)})
	require.NoError(t, err)
	assert.Equal(t, 2.5, kwh)
	assert.Equal(t, PresentSession, source)
	assert.Empty(t, warnings)
}

func TestCompute_NegativePresentSessionValueClamped(t *testing.T) {
	kwh, source, warnings, err := Compute(nil, Snapshot{PresentKWh: f(-1.0)})
	require.NoError(t, err)
	assert.Equal(t, 0.0, kwh)
	assert.Equal(t, PresentSession, source)
	require.Len(t, warnings, 1)
	assert.Equal(t, NegativePresentSessionValueClamped, warnings[0])
}

func TestCompute_TotalDeltaFallbackWhenPresentAbsent(t *testing.T) {
	start := &Snapshot{TotalKWh: f(100.0)}
	end := Snapshot{TotalKWh: f(107.5)}

	kwh, source, warnings, err := Compute(start, end)
	require.NoError(t, err)
	assert.Equal(t, 7.5, kwh)
	assert.Equal(t, TotalDelta, source)
	assert.Empty(t, warnings)
}

func TestCompute_NegativeTotalDeltaClamped(t *testing.T) {
	start := &Snapshot{TotalKWh: f(107.5)}
	end := Snapshot{TotalKWh: f(100.0)}

	kwh, source, warnings, err := Compute(start, end)
	require.NoError(t, err)
	assert.Equal(t, 0.0, kwh)
	assert.Equal(t, TotalDelta, source)
	require.Len(t, warnings, 1)
	assert.Equal(t, NegativeTotalDeltaClamped, warnings[0])
}

func TestCompute_NoUsableDataIsError(t *testing.T) {
	_, _, _, err := Compute(nil, Snapshot{})
	assert.ErrorIs(t, err, ErrNoUsableEnergyData)
}

func TestCompute_NilStartWithOnlyEndTotalIsError(t *testing.T) {
	// start is nil entirely (never captured a start snapshot), but end
	// carries only total energy: there is no usable delta since
	// start.TotalKWh is also nil, so this must fail, not silently use the
	// raw total as a delta.
	_, _, _, err := Compute(nil, Snapshot{TotalKWh: f(50.0)})
	assert.ErrorIs(t, err, ErrNoUsableEnergyData)
}
