// Command keba-agent is the telemetry agent entrypoint: it loads
// configuration from the environment, picks a run mode, and blocks until
// signalled to shut down. Grounded in original_source/src/main.rs's
// mode dispatch.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/aj9599/keba-telemetry/internal/config"
	"github.com/aj9599/keba-telemetry/internal/logging"
	"github.com/aj9599/keba-telemetry/internal/runtime"
)

func main() {
	_ = godotenv.Load()

	mode := strings.ToLower(os.Getenv("RUN_MODE"))
	if mode == "" {
		mode = "combined"
	}

	var log = logging.Init(os.Getenv("LOG_FORMAT"))
	log = logging.WithComponent(log, "keba-agent")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch mode {
	case "combined":
		cfg, cfgErr := config.FromEnv()
		if cfgErr != nil {
			log.Fatal().Err(cfgErr).Msg("invalid configuration")
		}
		err = runtime.RunCombined(ctx, cfg, log)
	case "service":
		cfg, cfgErr := config.FromEnv()
		if cfgErr != nil {
			log.Fatal().Err(cfgErr).Msg("invalid configuration")
		}
		err = runtime.RunService(ctx, cfg, log)
	case "api":
		cfg, cfgErr := config.FromEnvForAPI()
		if cfgErr != nil {
			log.Fatal().Err(cfgErr).Msg("invalid configuration")
		}
		err = runtime.RunAPI(ctx, cfg, log)
	default:
		log.Fatal().Str("run_mode", mode).Msg("unrecognized RUN_MODE, expected combined|service|api")
	}

	if err != nil {
		log.Fatal().Err(err).Msg("keba-agent exited with error")
	}
	log.Info().Msg("keba-agent shut down cleanly")
}
