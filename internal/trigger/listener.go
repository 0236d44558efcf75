package trigger

import (
	"context"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/queue"
	"github.com/hibiken/asynq"
	"github.com/minio/minio-go/v7/pkg/notification"
)

type notificationSource interface {
	ListenObjectCreated(ctx context.Context, bucket, prefix, suffix string) <-chan notification.Info
}

type enqueuer interface {
	EnqueueRenditions(ctx context.Context, payload queue.RenditionsPayload, delay time.Duration) (*asynq.TaskInfo, error)
}

// Listener turns bucket notifications into queued runs, one run per
// notification batch.
type Listener struct {
	source     notificationSource
	queue      enqueuer
	bucket     string
	prefix     string
	suffix     string
	newRunID   func() string
	logger     *log.Logger
	retryDelay time.Duration
}

type Options struct {
	Source   notificationSource
	Queue    enqueuer
	Bucket   string
	Prefix   string
	Suffix   string
	NewRunID func() string
	Logger   *log.Logger
}

func NewListener(opts Options) *Listener {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}
	return &Listener{
		source:     opts.Source,
		queue:      opts.Queue,
		bucket:     opts.Bucket,
		prefix:     opts.Prefix,
		suffix:     opts.Suffix,
		newRunID:   opts.NewRunID,
		logger:     logger,
		retryDelay: 5 * time.Second,
	}
}

// Run listens until ctx ends. The notification stream is reopened when the
// server closes it.
func (l *Listener) Run(ctx context.Context) error {
	for {
		l.logger.Info("listening for bucket notifications", "bucket", l.bucket, "prefix", l.prefix, "suffix", l.suffix)
		l.consume(ctx, l.source.ListenObjectCreated(ctx, l.bucket, l.prefix, l.suffix))

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.retryDelay):
		}
	}
}

func (l *Listener) consume(ctx context.Context, infos <-chan notification.Info) {
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-infos:
			if !ok {
				return
			}
			l.handle(ctx, info)
		}
	}
}

func (l *Listener) handle(ctx context.Context, info notification.Info) {
	if info.Err != nil {
		l.logger.Error("bucket notification error", "bucket", l.bucket, "err", info.Err)
		return
	}

	event, err := domain.FromNotification(info)
	if err != nil {
		l.logger.Warn("ignoring notification", "bucket", l.bucket, "err", err)
		return
	}

	payload := queue.RenditionsPayload{
		RunID:       l.newRunID(),
		Records:     event.Records,
		Attempt:     1,
		RequestedAt: time.Now().UTC(),
	}
	if _, err := l.queue.EnqueueRenditions(ctx, payload, 0); err != nil {
		l.logger.Error("enqueue notification failed", "run_id", payload.RunID, "records", len(payload.Records), "err", err)
		return
	}
	l.logger.Info("run enqueued", "run_id", payload.RunID, "records", len(payload.Records))
}
