package payload

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlugReport_ExactKeys(t *testing.T) {
	report, err := ParsePlugReport(json.RawMessage(`{"Plug": 1, "Seconds": 42}`))
	require.NoError(t, err)
	assert.True(t, report.Plugged)
	require.NotNil(t, report.Seconds)
	assert.EqualValues(t, 42, *report.Seconds)
}

func TestParsePlugReport_FallsBackToState(t *testing.T) {
	report, err := ParsePlugReport(json.RawMessage(`{"State": 3}`))
	require.NoError(t, err)
	assert.True(t, report.Plugged)
}

func TestParsePlugReport_NormalizedKeyMatch(t *testing.T) {
	report, err := ParsePlugReport(json.RawMessage(`{"  p l u g  ": 0}`))
	require.NoError(t, err)
	assert.False(t, report.Plugged)
}

func TestParsePlugReport_MissingFieldIsError(t *testing.T) {
	_, err := ParsePlugReport(json.RawMessage(`{"foo": 1}`))
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
}

func TestParsePlugReport_ObservedAtOverrideFromTsMs(t *testing.T) {
	report, err := ParsePlugReport(json.RawMessage(`{"Plug": 1, "__tsMs": 1700000000000}`))
	require.NoError(t, err)
	require.NotNil(t, report.ObservedAtOverride)
	assert.EqualValues(t, 1700000000000, report.ObservedAtOverride.UnixMilli())
}

func TestParsePlugReport_NonObjectPayloadIsError(t *testing.T) {
	_, err := ParsePlugReport(json.RawMessage(`[1,2,3]`))
	assert.ErrorIs(t, err, ErrInvalidPayloadType)
}

func TestParseEnergyReport_WhUnitConvertedToKWh(t *testing.T) {
	report, err := ParseEnergyReport(json.RawMessage(`{"E pres": 5830, "Total energy": 1200000}`))
	require.NoError(t, err)
	require.NotNil(t, report.PresentSessionKWh)
	require.NotNil(t, report.TotalKWh)
	assert.InDelta(t, 5.83, *report.PresentSessionKWh, 1e-9)
	assert.InDelta(t, 1200.0, *report.TotalKWh, 1e-9)
}

func TestParseEnergyReport_KWhUnitPassedThrough(t *testing.T) {
	report, err := ParseEnergyReport(json.RawMessage(`{"Energy (present session)": "10,83 kWh"}`))
	require.NoError(t, err)
	require.NotNil(t, report.PresentSessionKWh)
	assert.InDelta(t, 10.83, *report.PresentSessionKWh, 1e-9)
}

func TestParseEnergyReport_MissingBothIsError(t *testing.T) {
	_, err := ParseEnergyReport(json.RawMessage(`{"unrelated": 1}`))
	var missing *MissingFieldError
	require.ErrorAs(t, err, &missing)
}

func TestParseF64FromText_LocaleDisambiguation(t *testing.T) {
	tests := []struct {
		name string
		text string
		want float64
	}{
		{"lone comma is decimal", "10,83", 10.83},
		{"lone dot is decimal", "10.83", 10.83},
		{"comma after dot: dot is thousands", "1.234,56", 1234.56},
		{"dot after comma: comma is thousands", "1,234.56", 1234.56},
		{"multiple dots are thousands", "1.234.567", 1234567},
		{"trailing unit text ignored", "10,83 kWh", 10.83},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := parseF64FromText(tc.text)
			require.True(t, ok)
			assert.InDelta(t, tc.want, got, 1e-9)
		})
	}
}

func TestToNonNegativeU64_RejectsNegativeAndHuge(t *testing.T) {
	_, ok := toNonNegativeU64(-1)
	assert.False(t, ok)

	_, ok = toNonNegativeU64(2e18)
	assert.False(t, ok)

	v, ok := toNonNegativeU64(42)
	require.True(t, ok)
	assert.EqualValues(t, 42, v)
}
