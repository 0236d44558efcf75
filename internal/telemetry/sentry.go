package telemetry

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/config"
	"github.com/getsentry/sentry-go"
)

// Reporter sends failures to Sentry. The zero value and a Reporter built
// without a DSN drop everything.
type Reporter struct {
	hub *sentry.Hub
}

// SetupSentry initializes the Sentry client when cfg.DSN is set. The returned
// function flushes buffered events.
func SetupSentry(serviceName string, cfg config.SentryConfig, logger *log.Logger) (*Reporter, func(), error) {
	if cfg.DSN == "" {
		return &Reporter{}, func() {}, nil
	}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		ServerName:  serviceName,
	})
	if err != nil {
		return nil, nil, err
	}

	hub := sentry.NewHub(client, sentry.NewScope())
	if logger != nil {
		logger.Info("sentry reporting enabled", "environment", cfg.Environment)
	}
	return &Reporter{hub: hub}, func() { client.Flush(2 * time.Second) }, nil
}

// NewReporter wraps an existing hub.
func NewReporter(hub *sentry.Hub) *Reporter {
	return &Reporter{hub: hub}
}

func (r *Reporter) Enabled() bool {
	return r != nil && r.hub != nil && r.hub.Client() != nil
}

// CaptureFailure records err with tags, one event per call.
func (r *Reporter) CaptureFailure(_ context.Context, err error, tags map[string]string) {
	if !r.Enabled() || err == nil {
		return
	}
	// Handlers run concurrently; each capture gets its own scope stack.
	hub := r.hub.Clone()
	hub.ConfigureScope(func(scope *sentry.Scope) {
		scope.SetTags(tags)
	})
	hub.CaptureException(err)
}
