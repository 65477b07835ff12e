package observability

import (
	"io"
	"log/slog"
	"os"

	"github.com/fairyhunter13/vat-extraction-service/internal/config"
)

// SetupLogger builds the process-wide JSON logger. Dev lowers the level to
// debug; every line carries service and env fields for log aggregation.
func SetupLogger(cfg config.Config) *slog.Logger {
	return newLogger(os.Stdout, cfg)
}

func newLogger(w io.Writer, cfg config.Config) *slog.Logger {
	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(h).With(
		slog.String("service", cfg.OTELServiceName),
		slog.String("env", cfg.AppEnv),
	)
}
