// Package status implements a small standalone console reporter for a
// fleet of KEBA stations, independent of the session-recording pipeline.
// It is a supplemented feature: original_source has no equivalent to the
// session poller's database, but its runtime.rs carries this console
// status job alongside it (log_console_station_statuses and friends), so
// it is carried here too as a peer package. Unlike the core session
// pipeline, it has no tests of its own.
package status

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aj9599/keba-telemetry/internal/charger"
	"github.com/aj9599/keba-telemetry/internal/config"
)

// Station pairs a configured name/address with a charger.Client able to
// fetch its two reports.
type Station struct {
	Name   string
	Addr   string
	Client charger.Client
}

// NewStations builds one UDP-backed Station per config.StatusStation entry.
func NewStations(stations []config.StatusStation) ([]Station, error) {
	result := make([]Station, 0, len(stations))
	for _, s := range stations {
		host, portStr, err := splitHostPort(s.Addr)
		if err != nil {
			return nil, fmt.Errorf("status station %q: %w", s.Name, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return nil, fmt.Errorf("status station %q: invalid port %q", s.Name, portStr)
		}
		client, err := charger.NewUDPClient(host, port)
		if err != nil {
			return nil, fmt.Errorf("status station %q: %w", s.Name, err)
		}
		result = append(result, Station{Name: s.Name, Addr: s.Addr, Client: client})
	}
	return result, nil
}

func splitHostPort(addr string) (host, port string, err error) {
	host, port, ok := strings.Cut(addr, ":")
	if !ok || host == "" || port == "" {
		return "", "", fmt.Errorf("expected host:port, got %q", addr)
	}
	return host, port, nil
}

// LogAll fetches and prints one status line per station to stdout, in the
// original console job's German-language format. Fetch failures are
// reported inline rather than aborting the batch.
func LogAll(stations []Station) {
	ctx := context.Background()
	for _, station := range stations {
		report2Raw, err := station.Client.FetchPlugReport(ctx)
		if err != nil {
			printStationError(station, err)
			continue
		}
		report3Raw, err := station.Client.FetchEnergyReport(ctx)
		if err != nil {
			printStationError(station, err)
			continue
		}

		var report2, report3 map[string]any
		if err := json.Unmarshal(report2Raw, &report2); err != nil {
			printStationError(station, err)
			continue
		}
		if err := json.Unmarshal(report3Raw, &report3); err != nil {
			printStationError(station, err)
			continue
		}

		fmt.Printf("[%s] %s (%s) | %s | Stecker: %s | Laden: %s | E pres: %s\n",
			time.Now().UTC().Format(time.RFC3339),
			station.Name, station.Addr,
			deriveConsoleStatus(report2, report3),
			boolText(findNumber(report2, "Plug") != 0),
			boolText(findNumber(report3, "P") > 0),
			sessionEnergyText(report3),
		)
	}
}

func printStationError(station Station, err error) {
	fmt.Printf("[%s] %s (%s) | FEHLER beim Statuspolling: %v\n",
		time.Now().UTC().Format(time.RFC3339), station.Name, station.Addr, err)
}

func deriveConsoleStatus(report2, report3 map[string]any) string {
	plugged := findNumber(report2, "Plug") != 0
	enabled := findNumber(report2, "Enable sys") == 1 &&
		findNumber(report2, "Enable user") == 1 &&
		findNumber(report2, "Max curr") > 0
	fault := findNumber(report2, "Error1") != 0 || findNumber(report2, "Error2") != 0
	charging := findNumber(report3, "P") > 0

	switch {
	case fault:
		return "Fehler"
	case !plugged:
		return "Nicht angesteckt"
	case charging:
		return "Laedt"
	case !enabled:
		return "Angesteckt, gesperrt/deaktiviert"
	default:
		return "Angesteckt, wartet/bereit"
	}
}

func sessionEnergyText(report3 map[string]any) string {
	if raw := findNumber(report3, "E pres"); raw != 0 {
		return fmt.Sprintf("%.3f kWh", raw/10000.0)
	}
	if kwh := findNumber(report3, "Energy (present session)"); kwh != 0 {
		return fmt.Sprintf("%.3f kWh", kwh)
	}
	return "n/a"
}

func findNumber(payload map[string]any, alias string) float64 {
	if v, ok := payload[alias]; ok {
		if n, ok := parseNumber(v); ok {
			return n
		}
	}
	normalizedAlias := normalizeKey(alias)
	for k, v := range payload {
		if normalizeKey(k) == normalizedAlias {
			if n, ok := parseNumber(v); ok {
				return n
			}
		}
	}
	return 0
}

func normalizeKey(input string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(input) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func parseNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		return parseNumberFromText(v)
	default:
		return 0, false
	}
}

func parseNumberFromText(text string) (float64, bool) {
	cleaned := strings.ReplaceAll(strings.TrimSpace(text), ",", ".")
	var token strings.Builder
	started := false
	for _, r := range cleaned {
		isDigitLike := (r >= '0' && r <= '9') || r == '.' || r == '-'
		if isDigitLike {
			token.WriteRune(r)
			started = true
		} else if started {
			break
		}
	}
	if token.Len() == 0 {
		return 0, false
	}
	n, err := strconv.ParseFloat(token.String(), 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

func boolText(value bool) string {
	if value {
		return "ja"
	}
	return "nein"
}
