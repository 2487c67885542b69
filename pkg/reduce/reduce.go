// Package reduce runs Phase 2: it merges the per-partition samples stored in
// the checkpoint store into one final sample per class.
//
// The final reservoir is fed the concatenation of Phase-1 reservoir
// contents, not the original pixel stream. The result is uniform over
// Phase-1 samples but only approximately uniform over pixels: a partition
// holding more pixels of a class than the Phase-1 capacity contributes no
// more than that capacity, so classes concentrated in few partitions are
// under-represented relative to their true abundance. The sample is exact
// when no partition discarded pixels of the class, which FinalSampleSet.Exact
// reports. Raising the Phase-1 capacity shrinks the error; counts are always
// exact.
//
// Reduction is sequential and reads each DONE record once regardless of how
// many classes are requested. Partitions are visited in sorted id order and
// every class draws from its own random stream, so a seeded reduction is
// reproducible and independent of which other classes are reduced with it.
package reduce

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/reservoir"
)

// Source gives read access to completed partition results.
// *checkpoint.Store implements it.
type Source interface {
	Exists(ctx context.Context, id string) (bool, error)
	Load(ctx context.Context, id string) (*model.PartitionResult, error)
}

// Config is the immutable Phase-2 configuration.
type Config struct {
	// FinalCapacity is the size of the final sample per class.
	FinalCapacity int

	// Seed makes reduction reproducible; nil draws from OS entropy.
	Seed *uint64

	// Classes names the classes in results. Optional.
	Classes model.ClassMap
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.FinalCapacity <= 0 {
		return gserrors.InvalidConfig("reduce.final_capacity", c.FinalCapacity, "capacity must be positive")
	}
	return nil
}

// Option configures a Reducer.
type Option func(*Reducer)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reducer) {
		if l != nil {
			r.logger = l
		}
	}
}

// Reducer performs Phase-2 sampling.
type Reducer struct {
	cfg    Config
	logger *slog.Logger
	tracer trace.Tracer
}

// New creates a Reducer.
func New(cfg Config, opts ...Option) (*Reducer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Reducer{
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/geosample/geosample/pkg/reduce"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Reduce produces the final sample for one class.
func (r *Reducer) Reduce(ctx context.Context, src Source, ids []string, class model.ClassID) (*model.FinalSampleSet, error) {
	sets, err := r.ReduceClasses(ctx, src, ids, []model.ClassID{class})
	if err != nil {
		return nil, err
	}
	return sets[0], nil
}

type accumulator struct {
	set  *model.FinalSampleSet
	pool *reservoir.Reservoir[model.SamplePoint]

	// extracted is set once a record lists the class in its counts.
	extracted bool
}

// ReduceClasses produces the final samples for several classes in one pass
// over the DONE partitions among ids. Results are returned in ascending
// class order. A class with no pixels yields an empty set, not an error. A
// class that no DONE partition was extracted for is an invalid selection.
func (r *Reducer) ReduceClasses(ctx context.Context, src Source, ids []string, classes []model.ClassID) ([]*model.FinalSampleSet, error) {
	classes = slices.Clone(classes)
	slices.Sort(classes)
	classes = slices.Compact(classes)
	if len(classes) == 0 {
		return nil, gserrors.InvalidConfig("reduce.classes", classes, "no classes selected")
	}

	order := slices.Clone(ids)
	slices.Sort(order)
	order = slices.Compact(order)

	ctx, span := r.tracer.Start(ctx, "reduce.classes", trace.WithAttributes(
		attribute.Int("classes", len(classes)),
		attribute.Int("partitions", len(order))))
	defer span.End()

	accs := make([]accumulator, len(classes))
	for i, c := range classes {
		accs[i] = accumulator{
			set: &model.FinalSampleSet{
				Class:     c,
				ClassName: r.cfg.Classes.Name(c),
				Capacity:  r.cfg.FinalCapacity,
			},
			pool: reservoir.New[model.SamplePoint](r.cfg.FinalCapacity,
				reservoir.Source(r.cfg.Seed, fmt.Sprintf("class-%d", c))),
		}
	}

	var crs *model.CRS
	var crsFrom string
	pending, loaded := 0, 0
	for _, id := range order {
		if err := ctx.Err(); err != nil {
			return nil, gserrors.ContextCanceled("reduce", err)
		}
		done, err := src.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !done {
			pending++
			r.logger.Debug("skipping pending partition", "partition", id)
			continue
		}
		rec, err := src.Load(ctx, id)
		if err != nil {
			return nil, err
		}
		loaded++

		if rec.CRS != nil {
			if crs == nil {
				crs, crsFrom = rec.CRS, id
			} else if !crs.Equal(rec.CRS) {
				return nil, gserrors.New(gserrors.CodeCRSMismatch, "partitions use different coordinate reference systems").
					WithContext("partition", id).
					WithContext("crs", rec.CRS.String()).
					WithContext("expected", crs.String()).
					WithContext("expected_from", crsFrom)
			}
		}

		for i := range accs {
			accs[i].add(rec)
		}
	}

	if pending > 0 {
		r.logger.Warn("reducing over a partial set of partitions",
			"pending", pending,
			"total", len(order))
	}

	if loaded > 0 {
		for _, a := range accs {
			if !a.extracted {
				return nil, gserrors.InvalidClass(a.set.Class).
					WithContext("reason", "class was not an extraction target")
			}
		}
	}

	out := make([]*model.FinalSampleSet, len(accs))
	for i, a := range accs {
		a.set.CRS = crs
		a.set.Samples = a.pool.Items()
		out[i] = a.set
		r.warn(a.set)
	}
	return out, nil
}

func (a *accumulator) add(rec *model.PartitionResult) {
	c := a.set.Class
	count, ok := rec.Counts[c]
	if !ok {
		return
	}
	a.extracted = true
	if count == 0 {
		return
	}
	a.set.Count += count
	a.set.Partitions++
	if rec.Saturated(c) {
		a.set.SaturatedPartitions++
	}
	for _, pt := range rec.Samples[c] {
		a.set.Offered++
		a.pool.Offer(pt)
	}
}

func (r *Reducer) warn(s *model.FinalSampleSet) {
	log := r.logger.With("class", s.Class, "name", s.ClassName)
	switch {
	case s.Empty():
		log.Warn("class has no pixels in any partition")
		return
	case s.Count < int64(s.Capacity):
		log.Warn("fewer pixels than final capacity, keeping all",
			"pixels", s.Count,
			"capacity", s.Capacity)
	case s.Offered < int64(s.Capacity):
		log.Warn("fewer Phase-1 samples than final capacity, keeping all",
			"offered", s.Offered,
			"capacity", s.Capacity)
	}
	if !s.Exact() {
		log.Warn("final sample is approximate",
			"saturated_partitions", s.SaturatedPartitions,
			"partitions", s.Partitions)
	}
	log.Info("class reduced",
		"pixels", s.Count,
		"samples", len(s.Samples),
		"partitions", s.Partitions)
}
