package charger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// ReplayScript is the on-disk format for the replay transport, per
// the on-disk replay script format. loop_forever defaults to true
// when the JSON field is absent, matching the original source's
// #[serde(default = "default_true")] behavior.
type ReplayScript struct {
	LoopForever *bool          `json:"loop_forever"`
	Report2     []ReplayEvent  `json:"report2"`
	Report3     []ReplayEvent  `json:"report3"`
}

// ReplayEvent is a single scripted response: either {"ok": <payload>} or
// {"error": "<kind>"}.
type ReplayEvent struct {
	Ok    json.RawMessage `json:"ok,omitempty"`
	Error string          `json:"error,omitempty"`
}

// ReplayClient deterministically replays a scripted sequence of plug/energy
// reports, used for tests and offline debugging. Grounded in
// original_source/src/adapters/keba_debug_file.rs.
type ReplayClient struct {
	mu           sync.Mutex
	loopForever  bool
	report2      []ReplayEvent
	report3      []ReplayEvent
	report2Index int
	report3Index int
}

// NewReplayClientFromFile loads a ReplayScript from path.
func NewReplayClientFromFile(path string) (*ReplayClient, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read replay script: %w", err)
	}
	var script ReplayScript
	if err := json.Unmarshal(data, &script); err != nil {
		return nil, fmt.Errorf("parse replay script: %w", err)
	}
	return NewReplayClient(script), nil
}

// NewReplayClient builds a client from an already-parsed script.
func NewReplayClient(script ReplayScript) *ReplayClient {
	loopForever := true
	if script.LoopForever != nil {
		loopForever = *script.LoopForever
	}
	return &ReplayClient{
		loopForever: loopForever,
		report2:     script.Report2,
		report3:     script.Report3,
	}
}

// FetchPlugReport is the only transport boundary where exhausting a
// non-looping script raises UnexpectedEOF — the Runtime's clean-shutdown
// signal. This asymmetry (energy-report exhaustion does not signal
// shutdown) is intentional and mirrors the original transport's behavior.
func (c *ReplayClient) FetchPlugReport(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next(c.report2, &c.report2Index, true)
}

func (c *ReplayClient) FetchEnergyReport(ctx context.Context) (json.RawMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.next(c.report3, &c.report3Index, false)
}

func (c *ReplayClient) next(events []ReplayEvent, index *int, eofSignalsShutdown bool) (json.RawMessage, error) {
	if len(events) == 0 {
		return nil, newError(OtherIO, fmt.Errorf("replay script has no events for this report"))
	}

	if *index >= len(events) {
		if !c.loopForever {
			if eofSignalsShutdown {
				return nil, newError(UnexpectedEOF, fmt.Errorf("replay script exhausted"))
			}
			// Energy-report exhaustion without loop_forever keeps
			// replaying the final scripted event rather than signalling
			// shutdown, since only plug-report fetch is the shutdown
			// seam.
			return eventToResult(events[len(events)-1])
		}
		*index = 0
	}

	event := events[*index]
	*index++
	return eventToResult(event)
}

func eventToResult(event ReplayEvent) (json.RawMessage, error) {
	if event.Error != "" {
		return nil, mapScriptError(event.Error)
	}
	return event.Ok, nil
}

// mapScriptError mirrors the original source's map_script_error table.
func mapScriptError(kind string) error {
	switch kind {
	case "timeout":
		return newError(Timeout, fmt.Errorf("scripted timeout"))
	case "network_unreachable", "internet_down":
		return newError(NetworkUnreachable, fmt.Errorf("scripted network unreachable"))
	case "host_unreachable", "wallbox_unreachable":
		return newError(HostUnreachable, fmt.Errorf("scripted host unreachable"))
	case "connection_refused":
		return newError(ConnectionRefused, fmt.Errorf("scripted connection refused"))
	case "broken_pipe":
		return newError(BrokenPipe, fmt.Errorf("scripted broken pipe"))
	case "invalid_json":
		return newError(DecodeError, fmt.Errorf("scripted invalid json"))
	default:
		return newError(OtherIO, fmt.Errorf("unrecognized scripted error kind %q", kind))
	}
}
