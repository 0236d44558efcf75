package logging

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/config"
)

// New returns a logger writing to stdout with the given prefix, level and
// format from cfg. Unknown levels fall back to info.
func New(prefix string, cfg config.LogConfig) *log.Logger {
	return NewWithWriter(os.Stdout, prefix, cfg)
}

func NewWithWriter(w io.Writer, prefix string, cfg config.LogConfig) *log.Logger {
	level, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = log.InfoLevel
	}

	logger := log.NewWithOptions(w, log.Options{
		Prefix:          prefix,
		Level:           level,
		ReportTimestamp: true,
		Formatter:       formatter(cfg.Format),
	})
	return logger
}

func formatter(name string) log.Formatter {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "json":
		return log.JSONFormatter
	case "logfmt":
		return log.LogfmtFormatter
	default:
		return log.TextFormatter
	}
}
