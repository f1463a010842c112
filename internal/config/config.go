// Package config loads the telemetry agent's settings from the process
// environment, following the same getEnv/getEnvInt helper convention the
// rest of this codebase's sibling services use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ChargerSource selects which ChargerClient adapter the runtime wires up.
type ChargerSource string

const (
	SourceUDP       ChargerSource = "udp"
	SourceModbus    ChargerSource = "modbus"
	SourceDebugFile ChargerSource = "debug_file"
)

// AppConfig is the fully resolved, validated configuration for one run.
type AppConfig struct {
	KebaIP         string
	KebaUDPPort    int
	KebaSource     ChargerSource
	ModbusPort     int
	ModbusUnitID   int
	ModbusEnergyWh float64

	DebugDataFile string

	ResultsOutputFile string

	PollInterval time.Duration
	DBPath       string
	HTTPBind     string

	DebounceSamples int
	StationID       string

	StatusLogInterval time.Duration
	StatusStations     []StatusStation

	LogFormat string
}

// StatusStation is one entry of the STATUS_STATIONS env var, used only by
// the standalone status CLI (internal/status) and not by the core pipeline.
type StatusStation struct {
	Name string
	Addr string
}

// FromEnv builds an AppConfig for combined/service run modes.
func FromEnv() (AppConfig, error) {
	cfg := AppConfig{
		KebaIP:         os.Getenv("KEBA_IP"),
		KebaUDPPort:    getEnvInt("KEBA_UDP_PORT", 7090),
		KebaSource:     ChargerSource(getEnv("KEBA_SOURCE", string(SourceUDP))),
		ModbusPort:     getEnvInt("KEBA_MODBUS_PORT", 502),
		ModbusUnitID:   getEnvInt("KEBA_MODBUS_UNIT_ID", 255),
		ModbusEnergyWh: getEnvFloat("KEBA_MODBUS_ENERGY_FACTOR_WH", 0.1),
		DebugDataFile:  os.Getenv("KEBA_DEBUG_DATA_FILE"),

		ResultsOutputFile: os.Getenv("RESULTS_OUTPUT_FILE"),

		PollInterval: time.Duration(getEnvInt("POLL_INTERVAL_MS", 1000)) * time.Millisecond,
		DBPath:       getEnv("DB_PATH", defaultDBPath()),
		HTTPBind:     getEnv("HTTP_BIND", "0.0.0.0:8080"),

		DebounceSamples: getEnvInt("DEBOUNCE_SAMPLES", 2),
		StationID:       os.Getenv("STATION_ID"),

		StatusLogInterval: time.Duration(getEnvInt("STATUS_LOG_INTERVAL_SECONDS", 5)) * time.Second,

		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "console")),
	}

	stations, err := parseStatusStations(os.Getenv("STATUS_STATIONS"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STATUS_STATIONS: %w", err)
	}
	cfg.StatusStations = stations

	if cfg.KebaIP == "" {
		return AppConfig{}, fmt.Errorf("KEBA_IP is required")
	}
	switch cfg.KebaSource {
	case SourceUDP, SourceModbus:
	case SourceDebugFile:
		if cfg.DebugDataFile == "" {
			return AppConfig{}, fmt.Errorf("KEBA_DEBUG_DATA_FILE is required when KEBA_SOURCE=debug_file")
		}
	default:
		return AppConfig{}, fmt.Errorf("unrecognized KEBA_SOURCE %q", cfg.KebaSource)
	}
	if cfg.DebounceSamples < 1 {
		return AppConfig{}, fmt.Errorf("DEBOUNCE_SAMPLES must be >= 1, got %d", cfg.DebounceSamples)
	}

	return cfg, nil
}

// FromEnvForAPI builds an AppConfig for the read-only api run mode, which
// needs an existing DB_PATH but none of the charger transport settings.
func FromEnvForAPI() (AppConfig, error) {
	stations, err := parseStatusStations(os.Getenv("STATUS_STATIONS"))
	if err != nil {
		return AppConfig{}, fmt.Errorf("invalid STATUS_STATIONS: %w", err)
	}

	cfg := AppConfig{
		DBPath:            getEnv("DB_PATH", defaultDBPath()),
		HTTPBind:          getEnv("HTTP_BIND", "0.0.0.0:8080"),
		LogFormat:         strings.ToLower(getEnv("LOG_FORMAT", "console")),
		StatusStations:    stations,
		StatusLogInterval: time.Duration(getEnvInt("STATUS_LOG_INTERVAL_SECONDS", 5)) * time.Second,
	}
	return cfg, nil
}

func defaultDBPath() string {
	return "./keba-telemetry.db"
}

func parseStatusStations(raw string) ([]StatusStation, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}

	var stations []StatusStation
	for _, entry := range strings.Split(raw, ";") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, addr, ok := strings.Cut(entry, "@")
		if !ok || name == "" || addr == "" {
			return nil, fmt.Errorf("expected Name@IP:Port, got %q", entry)
		}
		stations = append(stations, StatusStation{Name: name, Addr: addr})
	}
	return stations, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}
