package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/config"
	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/pipeline"
	"github.com/dunamismax/rendition/internal/queue"
	"github.com/dunamismax/rendition/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type eventProcessor interface {
	ProcessEvent(ctx context.Context, event domain.TriggerEvent) pipeline.EventResult
}

type retryEnqueuer interface {
	EnqueueRenditions(ctx context.Context, payload queue.RenditionsPayload, delay time.Duration) (*asynq.TaskInfo, error)
}

type webhookSender interface {
	Send(ctx context.Context, endpoint, event string, payload any) error
}

type failureReporter interface {
	CaptureFailure(ctx context.Context, err error, tags map[string]string)
}

type Options struct {
	Logger     *log.Logger
	Queue      config.QueueConfig
	Worker     config.WorkerConfig
	Processor  eventProcessor
	Retries    retryEnqueuer
	Webhook    webhookSender
	WebhookURL string
	Reporter   failureReporter
}

type Server struct {
	logger         *log.Logger
	server         *asynq.Server
	sem            chan struct{}
	processor      eventProcessor
	retries        retryEnqueuer
	maxAttempts    int
	retryBaseDelay time.Duration
	webhookClient  webhookSender
	webhookURL     string
	reporter       failureReporter
	metrics        *metrics
	tracer         trace.Tracer
}

func NewServer(opts Options) (*Server, error) {
	if opts.Processor == nil {
		return nil, fmt.Errorf("processor is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	s := &Server{
		logger: logger,
		server: asynq.NewServer(
			opts.Queue.RedisClientOpt(),
			asynq.Config{
				Concurrency: max(1, opts.Worker.Concurrency),
				Queues: map[string]int{
					opts.Queue.Name: 1,
				},
				LogLevel: asynq.InfoLevel,
				ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
					retried, _ := asynq.GetRetryCount(ctx)
					maxRetry, _ := asynq.GetMaxRetry(ctx)
					logger.Error("task failed", "type", task.Type(), "retry", retried, "max_retry", maxRetry, "err", err)
				}),
			},
		),
		sem:            make(chan struct{}, max(1, opts.Worker.MaxActiveRuns)),
		processor:      opts.Processor,
		retries:        opts.Retries,
		maxAttempts:    max(1, opts.Worker.MaxAttempts),
		retryBaseDelay: opts.Worker.RetryBaseDelay,
		webhookClient:  opts.Webhook,
		webhookURL:     opts.WebhookURL,
		reporter:       opts.Reporter,
		metrics:        newMetrics(),
		tracer:         otel.Tracer("rendition/worker"),
	}
	return s, nil
}

func (s *Server) Handler() asynq.Handler {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProcessRenditions, s.handleRenditions)
	return mux
}

// Run blocks until the process receives a termination signal.
func (s *Server) Run() error {
	return s.server.Run(s.Handler())
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

// handleRenditions processes one trigger event. Rendition failures never fail
// the task: retryable ones are re-enqueued as a smaller follow-up task and
// the original is acknowledged.
func (s *Server) handleRenditions(ctx context.Context, task *asynq.Task) error {
	startedAt := time.Now()
	status := domain.StatusFailed

	payload, err := queue.ParseRenditionsPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}

	ctx, span := s.tracer.Start(ctx, "worker.process_renditions", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(
		attribute.String("run.id", payload.RunID),
		attribute.Int("run.attempt", payload.Attempt),
		attribute.Int("run.sources", len(payload.Records)),
	)
	defer span.End()
	defer func() {
		s.metrics.runDuration.WithLabelValues(status).Observe(time.Since(startedAt).Seconds())
		s.metrics.runsTotal.WithLabelValues(status).Inc()
	}()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeRuns.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRuns.Dec()
	}()

	s.logger.Info("working", "run_id", payload.RunID, "attempt", payload.Attempt, "sources", len(payload.Records))

	result := s.processor.ProcessEvent(ctx, payload.Event())
	status = result.Status()
	s.record(ctx, payload, result)

	retrySubset := result.RetrySubset()
	if len(retrySubset) > 0 && payload.Attempt < s.maxAttempts && s.retries != nil {
		span.SetAttributes(attribute.String("run.status", status))
		if err := s.scheduleRetry(ctx, payload, retrySubset, settle(payload.Settled, result, false)); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "schedule retry failed")
			return err
		}
		span.SetStatus(codes.Error, status)
		return nil
	}

	if len(retrySubset) > 0 {
		s.logger.Warn("giving up on retryable failures", "run_id", payload.RunID, "attempt", payload.Attempt, "sources", len(retrySubset))
	}

	settled := settle(payload.Settled, result, true)
	status = queue.RunStatus(settled)
	span.SetAttributes(attribute.String("run.status", status))

	s.logger.Info("processed", "run_id", payload.RunID, "status", status, "attempt", payload.Attempt, "failures", len(queue.SettledFailures(settled)), "elapsed", time.Since(startedAt).Round(time.Millisecond))
	if err := s.dispatchWebhook(ctx, payload, status, result, settled); err != nil {
		span.RecordError(err)
	}

	if status == domain.StatusCompleted {
		span.SetStatus(codes.Ok, "processed")
	} else {
		span.SetStatus(codes.Error, status)
	}
	return nil
}

func (s *Server) scheduleRetry(ctx context.Context, payload queue.RenditionsPayload, subset []domain.SourceRef, settled []queue.SettledSource) error {
	next := queue.RenditionsPayload{
		RunID:       payload.RunID,
		Records:     subset,
		Attempt:     payload.Attempt + 1,
		RequestedAt: payload.RequestedAt,
		Settled:     settled,
	}
	delay := queue.RetryDelay(s.retryBaseDelay, next.Attempt)

	info, err := s.retries.EnqueueRenditions(ctx, next, delay)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) {
			s.logger.Warn("retry already scheduled", "run_id", payload.RunID, "attempt", next.Attempt)
			return nil
		}
		return fmt.Errorf("schedule retry: %w", err)
	}

	s.metrics.retriesScheduledTotal.Inc()
	taskID := ""
	if info != nil {
		taskID = info.ID
	}
	s.logger.Info("retry scheduled", "run_id", payload.RunID, "attempt", next.Attempt, "sources", len(subset), "delay", delay, "task_id", taskID)
	return nil
}

func (s *Server) record(ctx context.Context, payload queue.RenditionsPayload, result pipeline.EventResult) {
	for _, r := range result.Results {
		s.metrics.sourceBytesFetchedTotal.Add(float64(r.SourceBytes))
		if r.Fatal != nil {
			s.metrics.failuresTotal.WithLabelValues(string(r.FatalKind)).Inc()
			s.report(ctx, payload, r.Source, "", r.FatalKind, r.Fatal)
			continue
		}
		for _, o := range r.Outcomes {
			if o.Succeeded() {
				s.metrics.renditionsTotal.WithLabelValues(o.Label, "succeeded").Inc()
				s.metrics.bytesPublishedTotal.Add(float64(o.Bytes))
				s.metrics.pixelsRenderedTotal.Add(float64(o.Width * o.Height))
				continue
			}
			s.metrics.renditionsTotal.WithLabelValues(o.Label, "failed").Inc()
			s.metrics.failuresTotal.WithLabelValues(string(o.Kind)).Inc()
			s.report(ctx, payload, r.Source, o.Label, o.Kind, o.Err)
		}
	}
}

func (s *Server) report(ctx context.Context, payload queue.RenditionsPayload, src domain.SourceRef, label string, kind domain.ErrorKind, err error) {
	if s.reporter == nil {
		return
	}
	s.reporter.CaptureFailure(ctx, err, map[string]string{
		"run_id":   payload.RunID,
		"location": src.Location,
		"key":      src.Key,
		"label":    label,
		"kind":     string(kind),
	})
}

// runSummary is the webhook body. Sources covers every attempt of the run;
// Results only the last one.
type runSummary struct {
	RunID       string                `json:"run_id"`
	Status      string                `json:"status"`
	Attempt     int                   `json:"attempt"`
	RequestedAt time.Time             `json:"requested_at"`
	FinishedAt  time.Time             `json:"finished_at"`
	Sources     []queue.SettledSource `json:"sources"`
	Failures    []domain.Failure      `json:"failures,omitempty"`
	Results     []pipeline.Result     `json:"results"`
}

func (s *Server) dispatchWebhook(ctx context.Context, payload queue.RenditionsPayload, status string, result pipeline.EventResult, settled []queue.SettledSource) error {
	if s.webhookURL == "" || s.webhookClient == nil {
		return nil
	}

	event := webhook.EventForStatus(status)
	body := runSummary{
		RunID:       payload.RunID,
		Status:      status,
		Attempt:     payload.Attempt,
		RequestedAt: payload.RequestedAt,
		FinishedAt:  time.Now().UTC(),
		Sources:     settled,
		Failures:    queue.SettledFailures(settled),
		Results:     result.Results,
	}
	if err := s.webhookClient.Send(ctx, s.webhookURL, event, body); err != nil {
		s.logger.Error("webhook delivery failed", "run_id", payload.RunID, "event", event, "err", err)
		return fmt.Errorf("dispatch webhook: %w", err)
	}
	return nil
}
