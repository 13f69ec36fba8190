package app

import (
	"strings"

	logging "github.com/ipfs/go-log/v2"

	"github.com/petervdpas/tandem/internal/config"
)

var log = logging.Logger("app")

// setupLogging applies level and format from cfg and returns a pipe that
// receives every log line in plaintext, for the in-memory log buffer.
func setupLogging(cfg config.Log) (*logging.PipeReader, error) {
	lvl, err := logging.LevelFromString(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, err
	}

	format := logging.PlaintextOutput
	switch cfg.Format {
	case "color":
		format = logging.ColorizedOutput
	case "json":
		format = logging.JSONOutput
	}

	logging.SetupLogging(logging.Config{
		Format: format,
		Level:  lvl,
		Stderr: true,
	})
	return logging.NewPipeReader(logging.PipeFormat(logging.PlaintextOutput)), nil
}

// applyLogLevel changes the level of every subsystem logger at runtime.
func applyLogLevel(level string) {
	if err := logging.SetLogLevel("*", strings.ToLower(level)); err != nil {
		log.Warnf("APP: log level %q not applied: %v", level, err)
	}
}
