// Package poller drives the plug-observation loop: fetch -> parse ->
// debounce -> (on transition) resolve energy or failure reason -> persist
// session and linked log events, handling retries against database
// contention. Grounded end-to-end in original_source/src/app/runtime.rs's
// SessionPoller.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/aj9599/keba-telemetry/internal/charger"
	"github.com/aj9599/keba-telemetry/internal/debounce"
	"github.com/aj9599/keba-telemetry/internal/energy"
	"github.com/aj9599/keba-telemetry/internal/payload"
	"github.com/aj9599/keba-telemetry/internal/session"
	"github.com/aj9599/keba-telemetry/internal/storage"
)

const (
	sessionPersistMaxRetries     = 3
	sessionPersistRetryBackoffMs = 250
)

// Clock abstracts time.Now; satisfied by debounce.Clock too.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// SystemClock is the production Clock backed by the wall clock.
var SystemClock Clock = systemClock{}

// Config carries the immutable fields a Poller needs beyond its
// collaborators.
type Config struct {
	Source            string
	PollIntervalMs    int64
	StationID         string
	ResultsOutputFile string
}

// Poller owns the debouncer and per-session staging state, and drives one
// tick at a time.
type Poller struct {
	client   charger.Client
	clock    Clock
	commands session.CommandHandler
	machine  *debounce.Debouncer
	log      zerolog.Logger

	startSnapshot   *energy.Snapshot
	startReport2Raw string
	startReport3Raw string
	haveStart       bool
	lastSeconds     *uint64

	source                  string
	pollIntervalMs          int64
	debounceSamples         int64
	stationID               string
	errorCountDuringSession int64
	pendingLogEventIDs      []string
	resultsOutputFile       string
}

// New builds a Poller.
func New(client charger.Client, clock Clock, commands session.CommandHandler, debounceSamples int, cfg Config, log zerolog.Logger) *Poller {
	return &Poller{
		client:            client,
		clock:             clock,
		commands:          commands,
		machine:           debounce.New(debounceSamples),
		source:            cfg.Source,
		pollIntervalMs:    cfg.PollIntervalMs,
		debounceSamples:   int64(debounceSamples),
		stationID:         cfg.StationID,
		resultsOutputFile: cfg.ResultsOutputFile,
		log:               log,
	}
}

// tickError tags a failed tick with the closed log-event code so
// NotePollError and the outer loop can react without re-deriving it.
type tickError struct {
	code string
	err  error
}

func (e *tickError) Error() string { return e.err.Error() }
func (e *tickError) Unwrap() error { return e.err }

// IsDebugReplayFinished reports whether err is the replay-exhaustion
// signal from FetchPlugReport — the Runtime's clean-shutdown condition.
func IsDebugReplayFinished(err error) bool {
	var te *tickError
	if !errors.As(err, &te) || te.code != CodeFetchReport2 {
		return false
	}
	var cerr *charger.Error
	return errors.As(te.err, &cerr) && cerr.Kind == charger.UnexpectedEOF
}

// Tick runs one poll cycle: fetch, parse, debounce, and react to any
// emitted transition.
func (p *Poller) Tick(ctx context.Context) error {
	report2Raw, err := p.client.FetchPlugReport(ctx)
	if err != nil {
		return &tickError{code: CodeFetchReport2, err: fmt.Errorf("fetch report 2: %w", err)}
	}

	report2, err := payload.ParsePlugReport(report2Raw)
	if err != nil {
		return &tickError{code: CodeParseReport2, err: fmt.Errorf("parse report 2: %w", err)}
	}

	if p.lastSeconds != nil && report2.Seconds != nil && *report2.Seconds < *p.lastSeconds {
		p.log.Warn().
			Uint64("previous_seconds", *p.lastSeconds).
			Uint64("current_seconds", *report2.Seconds).
			Msg("report2 seconds counter moved backwards")
	}
	p.lastSeconds = report2.Seconds

	observedAt := p.clock.Now()
	if report2.ObservedAtOverride != nil {
		observedAt = *report2.ObservedAtOverride
	}

	transition := p.machine.Observe(report2.Plugged, observedAt)
	if transition == nil {
		return nil
	}

	switch transition.Kind {
	case debounce.Plugged:
		p.handlePlugged(ctx, transition.PluggedAt, report2Raw)
		return nil
	case debounce.Unplugged:
		return p.handleUnplugged(ctx, transition.PluggedAt, transition.UnpluggedAt, report2Raw)
	default:
		return nil
	}
}

// NotePollError records a failed tick as a log event, bumping the
// active-session error counter if a session is currently open.
func (p *Poller) NotePollError(err error) {
	var te *tickError
	code := CodeDatabase
	if errors.As(err, &te) {
		code = te.code
	}

	isActive := p.haveStart
	if isActive {
		p.errorCountDuringSession++
	}

	details, _ := json.Marshal(map[string]any{
		"activeSession":           isActive,
		"errorCountDuringSession": p.errorCountDuringSession,
	})
	p.persistLogEvent("warn", code, err.Error(), isActive, details)
}

func (p *Poller) persistLogEvent(level, code, message string, linkToActiveSession bool, details json.RawMessage) {
	var detailsPtr *string
	if len(details) > 0 {
		s := string(details)
		detailsPtr = &s
	}
	var stationPtr *string
	if p.stationID != "" {
		stationPtr = &p.stationID
	}

	id, err := p.commands.InsertLogEvent(storage.NewLogEvent{
		CreatedAt:   isoTimestamp(p.clock.Now()),
		Level:       level,
		Code:        code,
		Message:     message,
		Source:      p.source,
		StationID:   stationPtr,
		DetailsJSON: detailsPtr,
	})
	if err != nil {
		p.log.Warn().Err(err).Msg("failed to persist log event")
		return
	}
	if linkToActiveSession {
		p.pendingLogEventIDs = append(p.pendingLogEventIDs, id)
	}
}

func (p *Poller) handlePlugged(ctx context.Context, pluggedAt time.Time, report2Raw json.RawMessage) {
	report3Raw, err := p.client.FetchEnergyReport(ctx)
	if err != nil {
		p.startSnapshotFailed()
		p.errorCountDuringSession++
		p.persistLogEvent("warn", CodeFetchReport3OnPlugged, fmt.Sprintf("fetch report 3 on plugged: %v", err), true, nil)
		p.log.Warn().Err(err).Msg("failed to fetch report 3 on plugged transition")
		return
	}

	report3, err := payload.ParseEnergyReport(report3Raw)
	if err != nil {
		p.startSnapshotFailed()
		p.errorCountDuringSession++
		p.persistLogEvent("warn", CodeParseReport3OnPlugged, fmt.Sprintf("parse report 3 on plugged: %v", err), true, nil)
		p.log.Warn().Err(err).Msg("failed to parse report 3 on plugged transition")
		return
	}

	p.startReport2Raw = string(report2Raw)
	p.startReport3Raw = string(report3Raw)
	p.errorCountDuringSession = 0
	p.pendingLogEventIDs = nil
	p.haveStart = true
	p.startSnapshot = &energy.Snapshot{PresentKWh: report3.PresentSessionKWh, TotalKWh: report3.TotalKWh}

	p.log.Info().Str("plugged_at", isoTimestamp(pluggedAt)).Msg("charging session started")
}

func (p *Poller) startSnapshotFailed() {
	p.startSnapshot = nil
	p.haveStart = false
}

type sessionCompletion struct {
	energyKWh      float64
	status         string
	finishedReason string
	report2EndRaw  string
	report3EndRaw  *string
}

func (p *Poller) handleUnplugged(ctx context.Context, pluggedAt, unpluggedAt time.Time, report2Raw json.RawMessage) error {
	report3Raw, err := p.client.FetchEnergyReport(ctx)
	if err != nil {
		p.persistLogEvent("warn", CodeFetchReport3OnUnplugged, fmt.Sprintf("fetch report 3 on unplugged: %v", err), true,
			mustJSON(map[string]any{"startedAt": isoTimestamp(pluggedAt), "finishedAt": isoTimestamp(unpluggedAt)}))
		newSession := p.buildSessionRecord(pluggedAt, unpluggedAt, sessionCompletion{
			status:         StatusAborted,
			finishedReason: ReasonReport3FetchFailed,
			report2EndRaw:  string(report2Raw),
		})
		return p.persistSessionAndFinalize(newSession)
	}

	report3, err := payload.ParseEnergyReport(report3Raw)
	if err != nil {
		raw := string(report3Raw)
		p.persistLogEvent("warn", CodeParseReport3OnUnplugged, fmt.Sprintf("parse report 3 on unplugged: %v", err), true,
			mustJSON(map[string]any{"startedAt": isoTimestamp(pluggedAt), "finishedAt": isoTimestamp(unpluggedAt)}))
		newSession := p.buildSessionRecord(pluggedAt, unpluggedAt, sessionCompletion{
			status:         StatusInvalid,
			finishedReason: ReasonReport3ParseFailed,
			report2EndRaw:  string(report2Raw),
			report3EndRaw:  &raw,
		})
		return p.persistSessionAndFinalize(newSession)
	}

	endSnapshot := energy.Snapshot{PresentKWh: report3.PresentSessionKWh, TotalKWh: report3.TotalKWh}
	kwh, _, warnings, err := energy.Compute(p.startSnapshot, endSnapshot)

	var status, reason string
	switch {
	case err != nil:
		p.persistLogEvent("warn", CodeComputeEnergyOnUnplugged, fmt.Sprintf("compute session kwh: %v", err), true,
			mustJSON(map[string]any{"startedAt": isoTimestamp(pluggedAt), "finishedAt": isoTimestamp(unpluggedAt)}))
		kwh, status, reason = 0.0, StatusInvalid, ReasonEnergyComputeFailed
	case len(warnings) > 0:
		warningStrings := make([]string, len(warnings))
		for i, w := range warnings {
			warningStrings[i] = w.String()
		}
		p.persistLogEvent("warn", CodeEnergyWarning, "energy clamped due to negative delta/value", true,
			mustJSON(map[string]any{"warnings": strings.Join(warningStrings, ",")}))
		status, reason = StatusInvalid, ReasonEnergyClamped
	default:
		status, reason = StatusCompleted, ReasonPlugStateTransition
	}

	raw3 := string(report3Raw)
	newSession := p.buildSessionRecord(pluggedAt, unpluggedAt, sessionCompletion{
		energyKWh:      kwh,
		status:         status,
		finishedReason: reason,
		report2EndRaw:  string(report2Raw),
		report3EndRaw:  &raw3,
	})

	if err := p.persistSessionAndFinalize(newSession); err != nil {
		return err
	}

	p.log.Info().
		Str("started_at", strOrEmpty(newSession.StartedAt)).
		Str("finished_at", newSession.FinishedAt).
		Float64("kwh", newSession.EnergyKWh).
		Msg("charging session persisted")

	if p.resultsOutputFile != "" {
		durationMs := unpluggedAt.Sub(pluggedAt).Milliseconds()
		if durationMs < 0 {
			durationMs = 0
		}
		if err := appendSessionResult(p.resultsOutputFile, newSession, durationMs); err != nil {
			return &tickError{code: CodeResultsIO, err: fmt.Errorf("append session result: %w", err)}
		}
	}

	return nil
}

func (p *Poller) buildSessionRecord(pluggedAt, unpluggedAt time.Time, completion sessionCompletion) storage.NewSession {
	startedAt := isoTimestamp(pluggedAt)
	durationMs := unpluggedAt.Sub(pluggedAt).Milliseconds()
	if durationMs < 0 {
		durationMs = 0
	}

	var stationPtr *string
	if p.stationID != "" {
		stationPtr = &p.stationID
	}
	var startReport2Ptr, startReport3Ptr *string
	if p.haveStart {
		startReport2Ptr = &p.startReport2Raw
		startReport3Ptr = &p.startReport3Raw
	}
	report2EndRaw := completion.report2EndRaw

	return storage.NewSession{
		StartedAt:               &startedAt,
		FinishedAt:              isoTimestamp(unpluggedAt),
		DurationMs:              durationMs,
		EnergyKWh:               completion.energyKWh,
		Source:                  p.source,
		Status:                  completion.status,
		StartedReason:           ReasonPlugStateTransition,
		FinishedReason:          completion.finishedReason,
		PollIntervalMs:          p.pollIntervalMs,
		DebounceSamples:         p.debounceSamples,
		ErrorCountDuringSession: p.errorCountDuringSession,
		StationID:               stationPtr,
		CreatedAt:               isoTimestamp(unpluggedAt),
		RawReport2Start:         startReport2Ptr,
		RawReport3Start:         startReport3Ptr,
		RawReport2End:           &report2EndRaw,
		RawReport3End:           completion.report3EndRaw,
	}
}

func (p *Poller) persistSessionAndFinalize(newSession storage.NewSession) error {
	sessionID, err := p.retryOnBusy(func() (string, error) {
		return p.commands.InsertSession(newSession)
	})
	if err != nil {
		return mapPersistenceError(err)
	}

	_, err = p.retryOnBusy(func() (string, error) {
		return "", p.commands.LinkSessionLogEvents(sessionID, p.pendingLogEventIDs)
	})
	if err != nil {
		return mapPersistenceError(err)
	}

	p.startSnapshot = nil
	p.haveStart = false
	p.startReport2Raw = ""
	p.startReport3Raw = ""
	p.errorCountDuringSession = 0
	p.pendingLogEventIDs = nil

	return nil
}

func (p *Poller) retryOnBusy(op func() (string, error)) (string, error) {
	var lastErr error
	for attempt := 0; attempt <= sessionPersistMaxRetries; attempt++ {
		result, err := op()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if attempt >= sessionPersistMaxRetries || !storage.IsRetryableBusy(err) {
			return "", err
		}
		sleepMs := sessionPersistRetryBackoffMs * (attempt + 1)
		p.log.Warn().Int("attempt", attempt+1).Int("max_attempts", sessionPersistMaxRetries).
			Int("sleep_ms", sleepMs).Err(err).Msg("persistence hit db contention; retrying")
		time.Sleep(time.Duration(sleepMs) * time.Millisecond)
	}
	return "", lastErr
}

func mapPersistenceError(err error) error {
	if errors.Is(err, session.ErrLockPoisoned) {
		return &tickError{code: CodeDbLockPoisoned, err: err}
	}
	return &tickError{code: CodeDatabase, err: err}
}

func appendSessionResult(path string, newSession storage.NewSession, durationMs int64) error {
	type resultEntry struct {
		From       string  `json:"from"`
		To         string  `json:"to"`
		DurationMs int64   `json:"durationMs"`
		KWh        float64 `json:"kwh"`
	}

	var existing []resultEntry
	if content, err := os.ReadFile(path); err == nil {
		trimmed := strings.TrimSpace(string(content))
		if trimmed != "" {
			if err := json.Unmarshal([]byte(trimmed), &existing); err != nil {
				return fmt.Errorf("parse existing results json: %w", err)
			}
		}
	} else if !os.IsNotExist(err) {
		return err
	}

	existing = append(existing, resultEntry{
		From:       strOrEmpty(newSession.StartedAt),
		To:         newSession.FinishedAt,
		DurationMs: durationMs,
		KWh:        newSession.EnergyKWh,
	})

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	out, err := json.MarshalIndent(existing, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize results json: %w", err)
	}
	return os.WriteFile(path, out, 0o644)
}

func isoTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

func strOrEmpty(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}
