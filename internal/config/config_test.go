package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_RequiresKebaIP(t *testing.T) {
	t.Setenv("KEBA_IP", "")
	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_DebugFileSourceRequiresDataFile(t *testing.T) {
	t.Setenv("KEBA_IP", "10.0.0.5")
	t.Setenv("KEBA_SOURCE", "debug_file")
	t.Setenv("KEBA_DEBUG_DATA_FILE", "")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_RejectsUnrecognizedSource(t *testing.T) {
	t.Setenv("KEBA_IP", "10.0.0.5")
	t.Setenv("KEBA_SOURCE", "carrier_pigeon")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_RejectsZeroDebounceSamples(t *testing.T) {
	t.Setenv("KEBA_IP", "10.0.0.5")
	t.Setenv("KEBA_SOURCE", "udp")
	t.Setenv("DEBOUNCE_SAMPLES", "0")

	_, err := FromEnv()
	assert.Error(t, err)
}

func TestFromEnv_DefaultsApplyWhenUnset(t *testing.T) {
	t.Setenv("KEBA_IP", "10.0.0.5")
	t.Setenv("KEBA_SOURCE", "")
	t.Setenv("DEBOUNCE_SAMPLES", "")

	cfg, err := FromEnv()
	require.NoError(t, err)
	assert.Equal(t, SourceUDP, cfg.KebaSource)
	assert.Equal(t, 2, cfg.DebounceSamples)
	assert.Equal(t, 7090, cfg.KebaUDPPort)
}

func TestParseStatusStations_ParsesMultipleEntries(t *testing.T) {
	stations, err := parseStatusStations("Garage@10.0.0.5:7090;Carport@10.0.0.6:7090")
	require.NoError(t, err)
	require.Len(t, stations, 2)
	assert.Equal(t, StatusStation{Name: "Garage", Addr: "10.0.0.5:7090"}, stations[0])
	assert.Equal(t, StatusStation{Name: "Carport", Addr: "10.0.0.6:7090"}, stations[1])
}

func TestParseStatusStations_RejectsMissingAtSign(t *testing.T) {
	_, err := parseStatusStations("Garage-10.0.0.5:7090")
	assert.Error(t, err)
}

func TestParseStatusStations_EmptyStringYieldsNoStations(t *testing.T) {
	stations, err := parseStatusStations("")
	require.NoError(t, err)
	assert.Empty(t, stations)
}
