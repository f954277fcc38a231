package observability

import (
	"github.com/danmuck/devctl/internal/logging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the runtime logger and returns one tagged with app and device.
func InitLogger(app, deviceID string) zerolog.Logger {
	logging.ConfigureRuntime()
	logger := log.Logger.With().Str("app", app).Str("device", deviceID).Logger()
	log.Logger = logger
	return logger
}
