package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Config controls where log records go and which levels survive.
type Config struct {
	// Level is the minimum level: debug, info, warn, or error.
	Level string
	// FilePath is the rotating log file destination.
	FilePath string
	// MaxSizeMB caps the active file size before rotation.
	MaxSizeMB int
	// MaxFiles caps how many rotated files are kept.
	MaxFiles int
	// WriteToStderr mirrors records to stderr in addition to the file.
	WriteToStderr bool
}

// DefaultConfig logs at info to ~/.framefind/logs/framefind.log and stderr.
func DefaultConfig() Config {
	return Config{
		Level:         "info",
		FilePath:      DefaultLogPath(),
		MaxSizeMB:     10,
		MaxFiles:      5,
		WriteToStderr: true,
	}
}

// DebugConfig is DefaultConfig at debug level.
func DebugConfig() Config {
	cfg := DefaultConfig()
	cfg.Level = "debug"
	return cfg
}

// Setup opens the rotating log file, installs a JSON slog handler as the
// process default logger, and returns it with a cleanup that flushes and
// closes the file.
func Setup(cfg Config) (*slog.Logger, func(), error) {
	writer, err := NewRotatingWriter(cfg.FilePath, cfg.MaxSizeMB, cfg.MaxFiles)
	if err != nil {
		return nil, nil, err
	}

	var dest io.Writer = writer
	if cfg.WriteToStderr {
		dest = io.MultiWriter(writer, os.Stderr)
	}

	logger := slog.New(slog.NewJSONHandler(dest, &slog.HandlerOptions{
		Level: parseLevel(cfg.Level),
	}))
	slog.SetDefault(logger)

	cleanup := func() {
		_ = writer.Sync()
		_ = writer.Close()
	}
	return logger, cleanup, nil
}

// parseLevel maps a config string to a slog level. Unknown strings mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
