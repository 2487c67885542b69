// Package batch runs Phase 1 over a set of partitions with bounded
// concurrency. Each partition is opened, extracted and checkpointed by one
// worker; a failure or panic in one partition never affects another.
package batch

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/geosample/geosample/pkg/checkpoint"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/extract"
	"github.com/geosample/geosample/pkg/raster"
)

// Status is the result of processing one partition.
type Status int

const (
	StatusSucceeded Status = iota
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome records what happened to one partition.
type Outcome struct {
	PartitionID string
	Path        string
	Status      Status
	Pixels      int64
	Err         error
	Duration    time.Duration
}

// Summary aggregates the outcomes of a run.
type Summary struct {
	RunID     string
	Outcomes  []Outcome
	Succeeded int
	Skipped   int
	Failed    int
	Pixels    int64
	Elapsed   time.Duration

	// Done and Total describe global progress after the run: partitions
	// with a completion marker out of all partitions given to Run.
	Done  int
	Total int
}

// Err combines every partition failure, or returns nil.
func (s *Summary) Err() error {
	var result *multierror.Error
	for _, o := range s.Outcomes {
		if o.Status == StatusFailed {
			result = multierror.Append(result, fmt.Errorf("%s: %w", o.PartitionID, o.Err))
		}
	}
	return result.ErrorOrNil()
}

// Complete reports whether every partition is DONE.
func (s *Summary) Complete() bool {
	return s.Total > 0 && s.Done == s.Total
}

// Option configures a Runner.
type Option func(*Runner)

// WithWorkers bounds the number of partitions processed at once.
func WithWorkers(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.workers = n
		}
	}
}

// WithForce makes the runner re-extract DONE partitions.
func WithForce(force bool) Option {
	return func(r *Runner) { r.force = force }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithProgress registers a callback invoked once per finished partition.
// Calls are serialized.
func WithProgress(fn func(Outcome)) Option {
	return func(r *Runner) { r.onProgress = fn }
}

// Runner executes Phase 1.
type Runner struct {
	opener     raster.Opener
	extractor  *extract.Extractor
	store      *checkpoint.Store
	workers    int
	force      bool
	logger     *slog.Logger
	tracer     trace.Tracer
	onProgress func(Outcome)
	progressMu sync.Mutex
}

// NewRunner creates a runner.
func NewRunner(opener raster.Opener, extractor *extract.Extractor, store *checkpoint.Store, opts ...Option) *Runner {
	r := &Runner{
		opener:    opener,
		extractor: extractor,
		store:     store,
		workers:   1,
		logger:    slog.Default(),
		tracer:    otel.Tracer("github.com/geosample/geosample/pkg/batch"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run processes every path whose partition is not yet DONE. Partition
// failures are reported in the summary, not as the returned error; the
// error is non-nil only for invalid input or cancellation.
func (r *Runner) Run(ctx context.Context, paths []string) (*Summary, error) {
	start := time.Now()
	summary := &Summary{
		RunID:    uuid.NewString(),
		Outcomes: make([]Outcome, len(paths)),
		Total:    len(paths),
	}

	ids := make([]string, len(paths))
	seen := make(map[string]string, len(paths))
	for i, path := range paths {
		id := raster.PartitionID(path)
		if prev, ok := seen[id]; ok {
			return nil, gserrors.InvalidConfig("input", path, "duplicate partition id").
				WithContext("other", prev)
		}
		seen[id] = path
		ids[i] = id
	}

	store := r.store.WithRunID(summary.RunID)
	r.logger.Info("extract started",
		"run_id", summary.RunID,
		"partitions", len(paths),
		"workers", r.workers,
		"backend", store.Name())

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, path := range paths {
		g.Go(func() error {
			o := r.process(ctx, store, ids[i], path)
			summary.Outcomes[i] = o
			r.progress(o)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range summary.Outcomes {
		switch o.Status {
		case StatusSucceeded:
			summary.Succeeded++
			summary.Pixels += o.Pixels
		case StatusSkipped:
			summary.Skipped++
		case StatusFailed:
			summary.Failed++
		}
	}

	pending, err := store.ListIncomplete(context.WithoutCancel(ctx), ids)
	if err != nil {
		return summary, err
	}
	summary.Done = summary.Total - len(pending)
	summary.Elapsed = time.Since(start)

	r.logger.Info("extract finished",
		"run_id", summary.RunID,
		"succeeded", summary.Succeeded,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"done", summary.Done,
		"total", summary.Total,
		"elapsed", summary.Elapsed.Round(time.Millisecond))

	if err := ctx.Err(); err != nil {
		return summary, gserrors.ContextCanceled("extract", err)
	}
	return summary, nil
}

func (r *Runner) progress(o Outcome) {
	if r.onProgress == nil {
		return
	}
	r.progressMu.Lock()
	defer r.progressMu.Unlock()
	r.onProgress(o)
}

// process handles one partition and never panics.
func (r *Runner) process(ctx context.Context, store *checkpoint.Store, id, path string) (o Outcome) {
	start := time.Now()
	o = Outcome{PartitionID: id, Path: path}

	ctx, span := r.tracer.Start(ctx, "extract.partition",
		trace.WithAttributes(attribute.String("partition", id)))
	defer func() {
		o.Duration = time.Since(start)
		span.SetAttributes(
			attribute.String("status", o.Status.String()),
			attribute.Int64("pixels", o.Pixels))
		if o.Err != nil {
			span.RecordError(o.Err)
			span.SetStatus(codes.Error, o.Err.Error())
		}
		span.End()
	}()

	if err := ctx.Err(); err != nil {
		o.Status = StatusFailed
		o.Err = gserrors.ContextCanceled("extract", err)
		return o
	}

	if r.force {
		if err := store.Delete(ctx, id); err != nil {
			o.Status = StatusFailed
			o.Err = err
			return o
		}
	} else {
		done, err := store.Exists(ctx, id)
		if err != nil {
			o.Status = StatusFailed
			o.Err = err
			return o
		}
		if done {
			o.Status = StatusSkipped
			r.logger.Debug("partition already done", "partition", id)
			return o
		}
	}

	pixels, err := r.extract(ctx, store, id, path)
	if err != nil {
		o.Status = StatusFailed
		o.Err = err
		// A failed partition must not leave a half-written checkpoint behind.
		if derr := store.Delete(context.WithoutCancel(ctx), id); derr != nil {
			r.logger.Error("failed to remove partial checkpoint", "partition", id, "error", derr)
			o.Err = multierror.Append(err, derr)
		}
		level := slog.LevelError
		if gserrors.IsPartitionFatal(err) {
			level = slog.LevelWarn
		}
		r.logger.Log(ctx, level, "partition failed",
			"partition", id,
			"code", gserrors.GetCode(err),
			"error", o.Err)
		return o
	}

	o.Status = StatusSucceeded
	o.Pixels = pixels
	r.logger.Info("partition done",
		"partition", id,
		"pixels", pixels,
		"duration", time.Since(start).Round(time.Millisecond))
	return o
}

func (r *Runner) extract(ctx context.Context, store *checkpoint.Store, id, path string) (pixels int64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Debug("partition panic", "partition", id, "stack", string(debug.Stack()))
			err = gserrors.Newf(gserrors.CodePanic, "panic: %v", rec).WithContext("partition", id)
		}
	}()

	p, err := r.opener.Open(ctx, path)
	if err != nil {
		if gserrors.GetCode(err) == gserrors.CodeUnknown {
			err = gserrors.Wrap(err, gserrors.CodeRasterOpen, "open partition")
		}
		return 0, err
	}
	defer p.Close()

	res, err := r.extractor.Extract(ctx, p)
	if err != nil {
		return 0, err
	}
	res.PartitionID = id
	res.Source = path

	if err := store.Save(ctx, id, res); err != nil {
		return 0, err
	}
	return res.TotalPixels(), nil
}
