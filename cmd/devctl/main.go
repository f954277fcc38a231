package main

import (
	"errors"
	"flag"
	"fmt"
	"os"

	"github.com/danmuck/devctl/internal/config"
	"github.com/danmuck/devctl/internal/device"
	"github.com/danmuck/devctl/internal/observability"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

func main() {
	configPath := flag.String("config", "", "device config path (TOML)")
	envPath := flag.String("env", ".env", "optional dotenv file")
	flag.Parse()

	if err := loadDotEnv(*envPath); err != nil {
		fmt.Fprintf(os.Stderr, "devctl: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devctl: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger("devctl", cfg.ID)
	observability.RegisterMetrics()

	if err := device.NewService(cfg).Run(); err != nil {
		log.Error().Err(err).Msg("devctl exited")
		os.Exit(1)
	}
}

// loadDotEnv loads environment variables from path. Missing files are ignored.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
