// Command keba-status runs a standalone console status job against a
// configured fleet of KEBA stations, independent of the session-recording
// agent. Grounded in original_source/src/bin/keba_status_job.rs.
package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/aj9599/keba-telemetry/internal/config"
	"github.com/aj9599/keba-telemetry/internal/status"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.FromEnv()
	if err != nil {
		// Only STATUS_STATIONS/STATUS_LOG_INTERVAL_SECONDS matter here, but
		// config.FromEnv also validates KEBA_IP; fall back to a minimal
		// parse when running status-only without that agent config set.
		cfg, err = config.FromEnvForAPI()
		if err != nil {
			os.Stderr.WriteString("invalid configuration: " + err.Error() + "\n")
			os.Exit(1)
		}
	}

	stations, err := status.NewStations(cfg.StatusStations)
	if err != nil {
		os.Stderr.WriteString("invalid STATUS_STATIONS: " + err.Error() + "\n")
		os.Exit(1)
	}
	if len(stations) == 0 {
		os.Stderr.WriteString("no STATUS_STATIONS configured\n")
		os.Exit(1)
	}

	interval := cfg.StatusLogInterval
	if interval <= 0 {
		interval = 5 * time.Second
	}

	for {
		status.LogAll(stations)
		time.Sleep(interval)
	}
}
