// Package payload decodes lenient JSON charger responses into typed
// PlugReport/EnergyReport values. Ported field-for-field from the original
// Rust domain::keba_payload module: the same alias tables, the same
// exact-then-normalized key lookup, and the same numeric-token extraction
// for strings like "10,83 kWh".
package payload

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrInvalidPayloadType is returned when the raw JSON is not an object.
	ErrInvalidPayloadType = errors.New("payload must be a JSON object")
)

// MissingFieldError names which alias group was absent.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// PlugReport is the decoded shape of a "report 2" response.
type PlugReport struct {
	Plugged             bool
	Seconds             *uint64
	ObservedAtOverride  *time.Time
}

// EnergyReport is the decoded shape of a "report 3" response.
type EnergyReport struct {
	PresentSessionKWh *float64
	TotalKWh          *float64
}

var (
	plugKeys    = []string{"Plug", "plug", "plugged"}
	stateKeys   = []string{"State", "state", "Charging state", "charging_state"}
	secondsKeys = []string{"Seconds", "seconds", "Sec", "sec", "plugged seconds"}
)

type energyUnit int

const (
	unitWh energyUnit = iota
	unitKWh
)

type energyAlias struct {
	key  string
	unit energyUnit
}

var (
	presentEnergyKeys = []energyAlias{
		{"E pres", unitWh},
		{"Energy (present session)", unitKWh},
		{"energy_present_session", unitKWh},
		{"EnergyPresentSession", unitKWh},
	}
	totalEnergyKeys = []energyAlias{
		{"Total energy", unitWh},
		{"Energy (total)", unitKWh},
		{"energy_total", unitKWh},
		{"EnergyTotal", unitKWh},
	}
)

// ParsePlugReport decodes raw into a PlugReport.
func ParsePlugReport(raw json.RawMessage) (PlugReport, error) {
	obj, err := asObject(raw)
	if err != nil {
		return PlugReport{}, err
	}

	plugged, ok := findNumber(obj, plugKeys)
	if !ok {
		plugged, ok = findNumber(obj, stateKeys)
	}
	if !ok {
		return PlugReport{}, &MissingFieldError{Field: "Plug|State"}
	}

	report := PlugReport{Plugged: plugged > 0}

	if seconds, ok := findNumber(obj, secondsKeys); ok {
		if s, ok := toNonNegativeU64(seconds); ok {
			report.Seconds = &s
		}
	}

	if ts, ok := obj["__tsMs"]; ok {
		if ms, ok := parseF64(ts); ok {
			t := time.UnixMilli(int64(ms)).UTC()
			report.ObservedAtOverride = &t
		}
	}

	return report, nil
}

// ParseEnergyReport decodes raw into an EnergyReport.
func ParseEnergyReport(raw json.RawMessage) (EnergyReport, error) {
	obj, err := asObject(raw)
	if err != nil {
		return EnergyReport{}, err
	}

	present := findEnergyKWh(obj, presentEnergyKeys)
	total := findEnergyKWh(obj, totalEnergyKeys)

	if present == nil && total == nil {
		return EnergyReport{}, &MissingFieldError{Field: "E pres|Energy (present session)|Total energy"}
	}

	return EnergyReport{PresentSessionKWh: present, TotalKWh: total}, nil
}

func asObject(raw json.RawMessage) (map[string]any, error) {
	var value any
	if err := json.Unmarshal(raw, &value); err != nil {
		return nil, ErrInvalidPayloadType
	}
	obj, ok := value.(map[string]any)
	if !ok {
		return nil, ErrInvalidPayloadType
	}
	return obj, nil
}

func findEnergyKWh(obj map[string]any, aliases []energyAlias) *float64 {
	for _, alias := range aliases {
		value, ok := findValue(obj, []string{alias.key})
		if !ok {
			continue
		}
		number, ok := parseF64(value)
		if !ok {
			continue
		}
		if alias.unit == unitWh {
			number /= 1000.0
		}
		return &number
	}
	return nil
}

func findNumber(obj map[string]any, aliases []string) (float64, bool) {
	value, ok := findValue(obj, aliases)
	if !ok {
		return 0, false
	}
	return parseF64(value)
}

func findValue(obj map[string]any, aliases []string) (any, bool) {
	for _, alias := range aliases {
		if value, ok := obj[alias]; ok {
			return value, true
		}
	}

	normalizedAliases := make([]string, len(aliases))
	for i, alias := range aliases {
		normalizedAliases[i] = normalizeKey(alias)
	}

	for key, value := range obj {
		normalizedKey := normalizeKey(key)
		for _, alias := range normalizedAliases {
			if alias == normalizedKey {
				return value, true
			}
		}
	}
	return nil, false
}

func normalizeKey(s string) string {
	var b strings.Builder
	for _, r := range s {
		if (r >= '0' && r <= '9') || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(toLowerRune(r))
		}
	}
	return b.String()
}

func toLowerRune(r rune) rune {
	if r >= 'A' && r <= 'Z' {
		return r - 'A' + 'a'
	}
	return r
}

func parseF64(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		return parseF64FromText(v)
	default:
		return 0, false
	}
}

func parseF64FromText(text string) (float64, bool) {
	for _, token := range extractNumericTokens(text) {
		normalized, ok := normalizeNumericToken(token)
		if !ok {
			continue
		}
		f, err := strconv.ParseFloat(normalized, 64)
		if err == nil {
			return f, true
		}
	}
	return 0, false
}

func extractNumericTokens(text string) []string {
	var tokens []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}

	for _, r := range text {
		if (r >= '0' && r <= '9') || r == ',' || r == '.' || r == '-' {
			current.WriteRune(r)
		} else {
			flush()
		}
	}
	flush()

	return tokens
}

func normalizeNumericToken(token string) (string, bool) {
	commaCount := strings.Count(token, ",")
	dotCount := strings.Count(token, ".")

	if commaCount > 0 && dotCount > 0 {
		commaIndex := strings.LastIndex(token, ",")
		dotIndex := strings.LastIndex(token, ".")
		if commaIndex > dotIndex {
			return strings.ReplaceAll(strings.ReplaceAll(token, ".", ""), ",", "."), true
		}
		return strings.ReplaceAll(token, ",", ""), true
	}

	if commaCount > 0 {
		return strings.ReplaceAll(token, ",", "."), true
	}

	if dotCount > 1 {
		return strings.ReplaceAll(token, ".", ""), true
	}

	return token, true
}

func toNonNegativeU64(value float64) (uint64, bool) {
	if value < 0 {
		return 0, false
	}
	// NaN/Inf are excluded by the value < 0 check being false for NaN too,
	// so guard those explicitly.
	if value != value || value > 1e18 {
		return 0, false
	}
	return uint64(value), true
}
