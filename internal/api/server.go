package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/config"
	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/id"
	"github.com/dunamismax/rendition/internal/queue"
	"github.com/dunamismax/rendition/internal/ratelimit"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

type Server struct {
	logger       *log.Logger
	queueClient  queueEnqueuer
	storage      objectStorage
	sourceBucket string
	upload       config.UploadConfig
	rateLimiter  RateLimiter
	validate     *validator.Validate
	metrics      *metrics
	tracer       trace.Tracer
	router       chi.Router
}

type queueEnqueuer interface {
	EnqueueRenditions(ctx context.Context, payload queue.RenditionsPayload, delay time.Duration) (*asynq.TaskInfo, error)
}

type objectStorage interface {
	PresignedPutURL(ctx context.Context, bucket, key, contentType string, expiry time.Duration) (string, error)
}

type Options struct {
	Logger       *log.Logger
	Queue        queueEnqueuer
	Storage      objectStorage
	SourceBucket string
	Upload       config.UploadConfig
	RateLimiter  RateLimiter
}

func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Storage == nil {
		opts.Storage = unavailableObjectStorage{}
	}
	if opts.Upload.URLTTL <= 0 {
		opts.Upload.URLTTL = 300 * time.Second
	}
	if opts.Upload.ContentType == "" {
		opts.Upload.ContentType = "image/jpg"
	}
	if opts.Upload.DefaultFilename == "" {
		opts.Upload.DefaultFilename = "image.jpg"
	}

	s := &Server{
		logger:       opts.Logger,
		queueClient:  opts.Queue,
		storage:      opts.Storage,
		sourceBucket: opts.SourceBucket,
		upload:       opts.Upload,
		rateLimiter:  opts.RateLimiter,
		validate:     newValidator(),
		metrics:      newMetrics(),
		tracer:       otel.Tracer("rendition/api"),
	}
	s.routes()
	return s
}

type unavailableObjectStorage struct{}

func (unavailableObjectStorage) PresignedPutURL(context.Context, string, string, string, time.Duration) (string, error) {
	return "", errors.New("object storage is unavailable")
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(s.withTracing, s.metrics.withHTTPMetrics)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.metricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(withCORS)
			r.Options("/upload-url", handlePreflight)
			r.With(s.withRateLimit(ratelimit.PolicyUpload)).Get("/upload-url", s.handleUploadURL)
		})
		r.Post("/events", s.handleEvents)
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type uploadURLRequest struct {
	Filename string `validate:"required,max=1024,objectkey"`
}

// handleUploadURL returns a short-lived presigned PUT for the source bucket.
// The client must upload with the same Content-Type the URL was signed for.
func (s *Server) handleUploadURL(w http.ResponseWriter, r *http.Request) {
	req := uploadURLRequest{Filename: s.upload.DefaultFilename}
	if values, ok := r.URL.Query()["filename"]; ok && len(values) > 0 {
		req.Filename = values[0]
	}
	if err := s.validate.Struct(req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("invalid filename %q", req.Filename)})
		return
	}

	url, err := s.storage.PresignedPutURL(r.Context(), s.sourceBucket, req.Filename, s.upload.ContentType, s.upload.URLTTL)
	if err != nil {
		s.logger.Error("generate presigned url failed", "bucket", s.sourceBucket, "key", req.Filename, "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to generate upload URL"})
		return
	}

	s.metrics.uploadURLsIssued.Inc()
	writeJSON(w, http.StatusOK, map[string]string{
		"uploadURL": url,
		"filename":  req.Filename,
	})
}

// handleEvents accepts an S3 style bucket notification and enqueues it as a
// single run.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "failed to read body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "body too large"})
		return
	}

	event, err := domain.ParseS3Notification(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !s.admit(w, r, ratelimit.PolicyEvents, len(event.Records)) {
		return
	}

	info, err := Enqueue(r.Context(), s.queueClient, event)
	if err != nil {
		s.logger.Error("enqueue failed", "records", len(event.Records), "err", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to enqueue event"})
		return
	}
	s.metrics.queueEnqueued.WithLabelValues(info.Queue).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run_id":      info.RunID,
		"records":     len(event.Records),
		"queue":       info.Queue,
		"task_id":     info.TaskID,
		"enqueued_at": info.EnqueuedAt,
	})
}

type EnqueueInfo struct {
	RunID      string
	TaskID     string
	Queue      string
	EnqueuedAt time.Time
}

// Enqueue starts a new run for event.
func Enqueue(ctx context.Context, q queueEnqueuer, event domain.TriggerEvent) (EnqueueInfo, error) {
	if q == nil {
		return EnqueueInfo{}, errors.New("queue is unavailable")
	}
	if err := event.Validate(); err != nil {
		return EnqueueInfo{}, err
	}

	payload := queue.RenditionsPayload{
		RunID:       id.New(),
		Records:     event.Records,
		Attempt:     1,
		RequestedAt: time.Now().UTC(),
	}
	taskInfo, err := q.EnqueueRenditions(ctx, payload, 0)
	if err != nil {
		return EnqueueInfo{}, err
	}
	return EnqueueInfo{
		RunID:      payload.RunID,
		TaskID:     taskInfo.ID,
		Queue:      taskInfo.Queue,
		EnqueuedAt: taskInfo.NextProcessAt,
	}, nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("objectkey", func(fl validator.FieldLevel) bool {
		return validObjectKey(fl.Field().String())
	})
	return v
}

func validObjectKey(key string) bool {
	if strings.TrimSpace(key) == "" || strings.HasPrefix(key, "/") {
		return false
	}
	for _, segment := range strings.Split(key, "/") {
		if segment == ".." {
			return false
		}
	}
	return !strings.ContainsAny(key, "\x00\r\n")
}

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}
