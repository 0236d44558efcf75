package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

type Options struct {
	Fetcher     Fetcher
	Publisher   Publisher
	Transcoder  Transcoder
	Catalog     domain.Catalog
	Destination DestinationResolver

	// RenditionConcurrency bounds encode+publish work per source. Defaults
	// to the catalog size.
	RenditionConcurrency int
	// SourceConcurrency bounds how many sources of one event run at once.
	SourceConcurrency int

	Logger *log.Logger
	Tracer trace.Tracer
}

// Processor runs fetch, decode, plan and the per-rendition encode+publish
// fan-out for every source of a trigger event.
type Processor struct {
	fetcher     Fetcher
	publisher   Publisher
	transcoder  Transcoder
	planner     Planner
	destination DestinationResolver
	renditions  int
	sources     int
	logger      *log.Logger
	tracer      trace.Tracer
}

func NewProcessor(opts Options) (*Processor, error) {
	if opts.Fetcher == nil {
		return nil, errors.New("fetcher is required")
	}
	if opts.Publisher == nil {
		return nil, errors.New("publisher is required")
	}
	if opts.Destination == nil {
		return nil, errors.New("destination resolver is required")
	}
	if opts.Catalog.Len() == 0 {
		opts.Catalog = domain.DefaultCatalog()
	}
	if opts.Transcoder == nil {
		transcoder, err := newTranscoder()
		if err != nil {
			return nil, fmt.Errorf("build transcoder: %w", err)
		}
		opts.Transcoder = transcoder
	}
	if opts.RenditionConcurrency <= 0 {
		opts.RenditionConcurrency = opts.Catalog.Len()
	}
	if opts.SourceConcurrency <= 0 {
		opts.SourceConcurrency = 1
	}
	if opts.Logger == nil {
		opts.Logger = log.New(io.Discard)
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer("rendition/pipeline")
	}

	return &Processor{
		fetcher:     opts.Fetcher,
		publisher:   opts.Publisher,
		transcoder:  opts.Transcoder,
		planner:     NewPlanner(opts.Catalog),
		destination: opts.Destination,
		renditions:  opts.RenditionConcurrency,
		sources:     opts.SourceConcurrency,
		logger:      opts.Logger,
		tracer:      opts.Tracer,
	}, nil
}

// NewLocalProcessor treats locations as directories: sources are read from
// disk and renditions written below the resolved destination directory.
// Any Fetcher or Publisher in opts is replaced.
func NewLocalProcessor(opts Options) (*Processor, error) {
	opts.Fetcher = LocalFileFetcher{}
	opts.Publisher = LocalFilePublisher{}
	return NewProcessor(opts)
}

// ProcessEvent processes every record of event. Results are in record order
// and independent of each other.
func (p *Processor) ProcessEvent(ctx context.Context, event domain.TriggerEvent) EventResult {
	results := make([]Result, len(event.Records))

	var g errgroup.Group
	g.SetLimit(p.sources)
	for i, rec := range event.Records {
		g.Go(func() error {
			results[i] = p.ProcessSource(ctx, rec)
			return nil
		})
	}
	_ = g.Wait()

	return EventResult{Results: results}
}

// ProcessSource fetches and decodes ref once, then encodes and publishes
// every planned rendition. A fetch or decode failure is fatal for the
// source; rendition failures are recorded and never stop their siblings.
func (p *Processor) ProcessSource(ctx context.Context, ref domain.SourceRef) Result {
	startedAt := time.Now()
	ctx, span := p.tracer.Start(ctx, "pipeline.source")
	span.SetAttributes(
		attribute.String("source.location", ref.Location),
		attribute.String("source.key", ref.Key),
	)
	defer span.End()

	result := Result{Source: ref}
	fatal := func(err error, fallback domain.ErrorKind) Result {
		result.Fatal = err
		result.FatalKind = classify(err, fallback)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(result.FatalKind))
		p.logger.Error("source failed", "location", ref.Location, "key", ref.Key, "kind", result.FatalKind, "err", err)
		return result
	}

	if err := ref.Validate(); err != nil {
		return fatal(fmt.Errorf("%w: %v", ErrConfig, err), domain.KindConfig)
	}

	raw, err := p.fetcher.Fetch(ctx, ref.Location, ref.Key)
	if err != nil {
		return fatal(fmt.Errorf("fetch stage: %w", err), domain.KindFetch)
	}
	result.SourceBytes = len(raw)

	src, err := p.transcoder.Decode(ctx, raw)
	if err != nil {
		return fatal(fmt.Errorf("decode stage: %w", err), domain.KindDecode)
	}
	defer src.Close()
	result.SourceWidth, result.SourceHeight = src.Width(), src.Height()

	planned, unknown := p.planner.PlanLabels(src.Width(), src.Height(), ref.Labels)
	result.Outcomes = make([]Outcome, len(planned), len(planned)+len(unknown))

	destLocation, destErr := p.destination.Resolve(ref.Location)
	if destErr != nil {
		for i, plan := range planned {
			result.Outcomes[i] = p.failed(ref, plan.Spec.Label, fmt.Errorf("publish stage: %w", destErr), domain.KindConfig)
		}
	} else {
		var g errgroup.Group
		g.SetLimit(p.renditions)
		for i, plan := range planned {
			g.Go(func() error {
				result.Outcomes[i] = p.render(ctx, src, ref, destLocation, plan)
				return nil
			})
		}
		_ = g.Wait()
	}

	for _, label := range unknown {
		result.Outcomes = append(result.Outcomes, p.failed(ref, label, fmt.Errorf("%w: unknown rendition label %q", ErrConfig, label), domain.KindConfig))
	}

	status := result.Status()
	span.SetAttributes(attribute.String("source.status", status))
	if status != domain.StatusCompleted {
		span.SetStatus(codes.Error, status)
	}
	p.logger.Info("source processed",
		"location", ref.Location,
		"key", ref.Key,
		"status", status,
		"renditions", len(result.Outcomes),
		"failed", len(result.Failed()),
		"elapsed", time.Since(startedAt).Round(time.Millisecond),
	)
	return result
}

func (p *Processor) render(ctx context.Context, src Source, ref domain.SourceRef, destLocation string, plan PlannedRendition) Outcome {
	spec := plan.Spec
	ctx, span := p.tracer.Start(ctx, "pipeline.rendition")
	span.SetAttributes(
		attribute.String("rendition.label", spec.Label),
		attribute.Int("rendition.width", plan.Width),
		attribute.Int("rendition.height", plan.Height),
	)
	defer span.End()

	fail := func(err error, fallback domain.ErrorKind) Outcome {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rendition failed")
		return p.failed(ref, spec.Label, err, fallback)
	}

	if err := ctx.Err(); err != nil {
		return fail(err, domain.KindCanceled)
	}

	data, err := p.transcoder.Encode(ctx, src, plan.Width, plan.Height, spec.Format, spec.Quality)
	if err != nil {
		return fail(fmt.Errorf("transcode stage: %w", err), domain.KindEncode)
	}

	key := BuildKey(ref.Key, spec.Label, spec.Format.Extension())
	contentType := spec.Format.ContentType()
	if err := p.publisher.Publish(ctx, destLocation, key, data, contentType); err != nil {
		return fail(fmt.Errorf("publish stage: %w", err), domain.KindWrite)
	}

	p.logger.Debug("rendition published", "location", destLocation, "key", key, "width", plan.Width, "height", plan.Height, "bytes", len(data))
	return Outcome{
		Label:       spec.Label,
		Location:    destLocation,
		Key:         key,
		ContentType: contentType,
		Width:       plan.Width,
		Height:      plan.Height,
		Bytes:       len(data),
	}
}

func (p *Processor) failed(ref domain.SourceRef, label string, err error, fallback domain.ErrorKind) Outcome {
	kind := classify(err, fallback)
	p.logger.Error("rendition failed", "location", ref.Location, "key", ref.Key, "label", label, "kind", kind, "err", err)
	return Outcome{Label: label, Kind: kind, Err: err}
}
