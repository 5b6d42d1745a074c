// Package pipeline runs an Operation through the ordered stage list on an
// engine: open, orient, shrink, resize, adjust, composite and encode.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dunamismax/pixelpipe/internal/accounting"
	"github.com/dunamismax/pixelpipe/internal/domain"
	"github.com/dunamismax/pixelpipe/internal/encoder"
	"github.com/dunamismax/pixelpipe/internal/engine"
	"github.com/dunamismax/pixelpipe/internal/imagetype"
	"github.com/dunamismax/pixelpipe/internal/input"
	"github.com/dunamismax/pixelpipe/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ObjectStore reads inputs from and writes outputs to object storage.
type ObjectStore interface {
	input.ObjectReader
	encoder.ObjectWriter
}

type Options struct {
	// Objects serves object inputs and outputs. Nil disables both.
	Objects ObjectStore
	// Counters is shared with whoever reports queue depth. Nil gets a
	// private, unregistered instance.
	Counters    *accounting.Counters
	Concurrency int
	Logger      *logrus.Entry
	// Registerer receives the stage duration histogram. Nil skips metrics.
	Registerer prometheus.Registerer
}

type Processor struct {
	engine   engine.Engine
	inputs   *input.Resolver
	encoder  *encoder.Encoder
	counters *accounting.Counters
	pool     *pool
	logger   *logrus.Entry
	tracer   trace.Tracer

	stageDuration *prometheus.HistogramVec
	runsTotal     *prometheus.CounterVec
}

func New(eng engine.Engine, opts Options) *Processor {
	var (
		reader input.ObjectReader
		writer encoder.ObjectWriter
	)
	if opts.Objects != nil {
		reader, writer = opts.Objects, opts.Objects
	}
	counters := opts.Counters
	if counters == nil {
		counters = accounting.New(nil)
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.New("pipeline")
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = eng.Concurrency()
	}

	p := &Processor{
		engine:   eng,
		inputs:   input.NewResolver(eng, reader),
		encoder:  encoder.New(eng, writer),
		counters: counters,
		pool:     newPool(concurrency),
		logger:   logger,
		tracer:   otel.Tracer("pixelpipe/pipeline"),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "pixelpipe_pipeline_stage_duration_seconds",
			Help:    "Time spent in each pipeline stage.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 4, 8),
		}, []string{"stage"}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelpipe_pipeline_runs_total",
			Help: "Pipeline runs by outcome kind.",
		}, []string{"outcome"}),
	}
	if opts.Registerer != nil {
		opts.Registerer.MustRegister(p.stageDuration, p.runsTotal)
	}
	return p
}

func (p *Processor) Engine() engine.Engine {
	return p.engine
}

// Inputs is the resolver runs open their images with, shared by the
// metadata and statistics readers.
func (p *Processor) Inputs() *input.Resolver {
	return p.inputs
}

func (p *Processor) Counters() *accounting.Counters {
	return p.counters
}

func (p *Processor) Concurrency() int {
	return p.pool.size()
}

// SetConcurrency changes how many runs may execute at once. It applies to
// waiting runs immediately.
func (p *Processor) SetConcurrency(n int) {
	p.pool.setLimit(n)
	p.engine.SetConcurrency(n)
}

// Submit runs op on its own goroutine and calls done with the outcome. It
// returns as soon as the run is queued.
func (p *Processor) Submit(ctx context.Context, op domain.Operation, done func(Result, error)) {
	ticket := p.counters.Enqueue()
	go func() {
		res, err := p.run(ctx, op, ticket)
		if done != nil {
			done(res, err)
		}
	}()
}

// Run processes op and blocks until it completes.
func (p *Processor) Run(ctx context.Context, op domain.Operation) (Result, error) {
	return p.run(ctx, op, p.counters.Enqueue())
}

func (p *Processor) run(ctx context.Context, op domain.Operation, ticket *accounting.Ticket) (res Result, err error) {
	defer ticket.Finish()
	requested, err := prepare(&op)
	if err != nil {
		p.runsTotal.WithLabelValues(domain.KindOf(err)).Inc()
		return Result{}, err
	}
	if err := p.pool.acquire(ctx); err != nil {
		return Result{}, err
	}
	defer p.pool.release()
	ticket.Start()

	ctx, span := p.tracer.Start(ctx, "pipeline.run", trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	if op.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(op.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	startedAt := time.Now()
	e := env{ctx: ctx, engine: p.engine, inputs: p.inputs, encoder: p.encoder, op: op, requested: requested}
	s := state{loadShrink: 1, loadScale: 1}
	defer func() {
		if s.img != nil {
			s.img.Close()
		}
	}()

	for i, st := range stages {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = p.cancelled(op, ctxErr, i)
			break
		}
		s, err = p.stage(ctx, e, s, st)
		if err != nil {
			break
		}
	}

	outcome := "ok"
	if err != nil {
		outcome = domain.KindOf(err)
	}
	p.runsTotal.WithLabelValues(outcome).Inc()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		p.logger.WithError(err).WithField("kind", outcome).Debug("run failed")
		return Result{}, err
	}

	for _, msg := range engine.Warnings.Drain() {
		s.warn("engine", "%s", msg)
	}
	res = Result{Data: s.output.Data, Info: s.info(), Warnings: s.warnings}
	for _, w := range res.Warnings {
		p.logger.WithFields(logrus.Fields{"stage": w.Stage}).Warn(w.Message)
	}
	span.SetAttributes(
		attribute.String("output.format", res.Info.Format),
		attribute.Int("output.width", res.Info.Width),
		attribute.Int("output.height", res.Info.Height),
	)
	span.SetStatus(codes.Ok, "processed")
	p.logger.WithFields(logrus.Fields{
		"format":   res.Info.Format,
		"width":    res.Info.Width,
		"height":   res.Info.Height,
		"size":     res.Info.Size,
		"duration": time.Since(startedAt).String(),
	}).Debug("run completed")
	return res, nil
}

// prepare canonicalises and validates op, and parses the requested output
// format so a bad format fails before any input is opened.
func prepare(op *domain.Operation) (imagetype.Format, error) {
	if err := op.Normalize(); err != nil {
		return 0, err
	}
	if err := op.Validate(); err != nil {
		return 0, err
	}
	return imagetype.ParseFormat(op.Format)
}

func (p *Processor) stage(ctx context.Context, e env, s state, st stage) (state, error) {
	_, span := p.tracer.Start(ctx, "pipeline."+st.name)
	defer span.End()
	startedAt := time.Now()
	next, err := st.apply(e, s)
	p.stageDuration.WithLabelValues(st.name).Observe(time.Since(startedAt).Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, st.name)
	}
	return next, err
}

// cancelled maps a context error seen before stage i into the run error. A
// deadline set by the operation's own timeout reports progress.
func (p *Processor) cancelled(op domain.Operation, err error, i int) error {
	if op.TimeoutSeconds > 0 && errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %d%% complete", domain.ErrTimeout, i*100/len(stages))
	}
	return err
}

func (s state) info() domain.Info {
	info := domain.Info{
		Format:         s.format.ReportedID(),
		Width:          s.img.Width(),
		Height:         s.img.Height(),
		Channels:       s.img.Bands(),
		Premultiplied:  s.premultiplied,
		Size:           s.output.Size,
		CropOffsetLeft: s.cropLeft,
		CropOffsetTop:  s.cropTop,
		AttentionX:     s.attentionX,
		AttentionY:     s.attentionY,
		TrimOffsetLeft: s.trimLeft,
		TrimOffsetTop:  s.trimTop,
		TextAutofitDPI: s.autofitDPI,
		Path:           s.output.Path,
		ObjectKey:      s.output.Key,
	}
	if s.multiPage() {
		info.PageHeight, info.Pages = s.pageHeight, s.pages
	}
	return info
}
