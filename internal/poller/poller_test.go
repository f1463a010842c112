package poller

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aj9599/keba-telemetry/internal/charger"
	"github.com/aj9599/keba-telemetry/internal/session"
	"github.com/aj9599/keba-telemetry/internal/storage"
)

// fakeClient replays a fixed sequence of report2/report3 responses (or
// errors) from queues, one per call, grounded in the debug replay
// transport's own queue-draining design.
type fakeClient struct {
	report2 []json.RawMessage
	report3 []json.RawMessage
	err3    []error

	report2Idx int
	report3Idx int
}

func (f *fakeClient) FetchPlugReport(ctx context.Context) (json.RawMessage, error) {
	raw := f.report2[f.report2Idx]
	f.report2Idx++
	return raw, nil
}

func (f *fakeClient) FetchEnergyReport(ctx context.Context) (json.RawMessage, error) {
	idx := f.report3Idx
	f.report3Idx++
	if idx < len(f.err3) && f.err3[idx] != nil {
		return nil, f.err3[idx]
	}
	return f.report3[idx], nil
}

// sequenceClock returns each of times in order, once per call, then repeats
// the last entry — sufficient to drive one Tick per scripted observation.
type sequenceClock struct {
	times []time.Time
	idx   int
}

func (c *sequenceClock) Now() time.Time {
	if c.idx >= len(c.times) {
		return c.times[len(c.times)-1]
	}
	t := c.times[c.idx]
	c.idx++
	return t
}

func plugReport(plugged bool) json.RawMessage {
	state := 0
	if plugged {
		state = 1
	}
	raw, _ := json.Marshal(map[string]any{"Plug": state})
	return raw
}

func energyReport(presentWh, totalWh float64) json.RawMessage {
	raw, _ := json.Marshal(map[string]any{"E pres": presentWh, "Total energy": totalWh})
	return raw
}

func newTestCommands(t *testing.T) session.CommandHandler {
	t.Helper()
	path := filepath.Join(t.TempDir(), "keba.db")
	db, err := storage.OpenWriter(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return session.New(db)
}

const msPerSecond = int64(time.Second / time.Millisecond)

func at(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func tickTimes() []time.Time {
	return []time.Time{
		at(1_699_999_998_000), // unplugged
		at(1_699_999_999_000), // unplugged
		at(1_700_000_000_000), // plugged (first)
		at(1_700_000_000_500), // plugged (second, debounce fires here; PluggedAt = first's time)
		at(1_700_000_060_000), // unplugged (first)
		at(1_700_000_060_500), // unplugged (second, debounce fires here; UnpluggedAt = first's time)
	}
}

func newHappyPathPoller(client charger.Client, commands session.CommandHandler) *Poller {
	return New(client, &sequenceClock{times: tickTimes()}, commands, 2, Config{
		Source:         "udp",
		PollIntervalMs: 1000,
		StationID:      "station-1",
	}, zerolog.Nop())
}

func TestScenario1_HappyPathSession(t *testing.T) {
	commands := newTestCommands(t)
	client := &fakeClient{
		report2: []json.RawMessage{plugReport(false), plugReport(false), plugReport(true), plugReport(true), plugReport(false), plugReport(false)},
		report3: []json.RawMessage{energyReport(2000, 100000), energyReport(7000, 105000)},
	}
	p := newHappyPathPoller(client, commands)

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Tick(context.Background()))
	}

	latest, err := commands.(interface {
		GetLatestSession() (*storage.Session, error)
	}).GetLatestSession()
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.Equal(t, "completed", latest.Status)
	assert.Equal(t, "plug_state_transition", latest.FinishedReason)
	assert.Equal(t, 5.0, latest.EnergyKWh)
	require.NotNil(t, latest.StartedAt)
	assert.Equal(t, "2023-11-14T22:13:20.000Z", *latest.StartedAt)
	assert.Equal(t, "2023-11-14T22:14:20.000Z", latest.FinishedAt)
}

func TestScenario2_AbortedOnUnplugWhenEnergyFetchFails(t *testing.T) {
	commands := newTestCommands(t)
	client := &fakeClient{
		report2: []json.RawMessage{plugReport(false), plugReport(false), plugReport(true), plugReport(true), plugReport(false), plugReport(false)},
		report3: []json.RawMessage{energyReport(2000, 100000), nil},
		err3:     []error{nil, &charger.Error{Kind: charger.Timeout}},
	}
	p := newHappyPathPoller(client, commands)

	for i := 0; i < 6; i++ {
		_ = p.Tick(context.Background())
	}

	latest, err := commands.(interface {
		GetLatestSession() (*storage.Session, error)
	}).GetLatestSession()
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.Equal(t, "aborted", latest.Status)
	assert.Equal(t, "report3_fetch_failed", latest.FinishedReason)
	assert.Equal(t, 0.0, latest.EnergyKWh)
	assert.Nil(t, latest.RawReport3End)
}

func TestScenario3_InvalidEnergyWhenNonMonotone(t *testing.T) {
	commands := newTestCommands(t)
	client := &fakeClient{
		report2: []json.RawMessage{plugReport(false), plugReport(false), plugReport(true), plugReport(true), plugReport(false), plugReport(false)},
		report3: []json.RawMessage{energyReport(10000, 100000), energyReport(3000, 100000)},
	}
	p := newHappyPathPoller(client, commands)

	for i := 0; i < 6; i++ {
		_ = p.Tick(context.Background())
	}

	latest, err := commands.(interface {
		GetLatestSession() (*storage.Session, error)
	}).GetLatestSession()
	require.NoError(t, err)
	require.NotNil(t, latest)

	assert.Equal(t, "invalid", latest.Status)
	assert.Equal(t, "energy_clamped", latest.FinishedReason)
	assert.Equal(t, 0.0, latest.EnergyKWh)
}

func TestScenario4_StartupInPluggedStateEmitsNoSession(t *testing.T) {
	commands := newTestCommands(t)
	client := &fakeClient{
		report2: []json.RawMessage{plugReport(true), plugReport(true)},
	}
	p := New(client, &sequenceClock{times: []time.Time{at(0), at(1000)}}, commands, 2, Config{
		Source: "udp", PollIntervalMs: 1000,
	}, zerolog.Nop())

	for i := 0; i < 2; i++ {
		require.NoError(t, p.Tick(context.Background()))
	}

	latest, err := commands.(interface {
		GetLatestSession() (*storage.Session, error)
	}).GetLatestSession()
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestScenario5_FlapIsAbsorbed(t *testing.T) {
	commands := newTestCommands(t)
	client := &fakeClient{
		report2: []json.RawMessage{
			plugReport(false), plugReport(false),
			plugReport(true), plugReport(false), plugReport(true), plugReport(false),
		},
	}
	times := make([]time.Time, 6)
	for i := range times {
		times[i] = at(int64(i) * msPerSecond)
	}
	p := New(client, &sequenceClock{times: times}, commands, 2, Config{
		Source: "udp", PollIntervalMs: 1000,
	}, zerolog.Nop())

	for i := 0; i < 6; i++ {
		require.NoError(t, p.Tick(context.Background()))
	}

	latest, err := commands.(interface {
		GetLatestSession() (*storage.Session, error)
	}).GetLatestSession()
	require.NoError(t, err)
	assert.Nil(t, latest)
}
