// Package extract runs Phase 1: it scans one raster partition and keeps an
// independent reservoir sample plus an exact pixel count for every target
// class.
//
// An Extractor holds only immutable configuration. Each Extract call owns
// its reservoirs exclusively, so partitions can be extracted concurrently
// without locking.
package extract

import (
	"context"
	"time"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/raster"
	"github.com/geosample/geosample/pkg/reservoir"
)

// MaxClassID is the largest class value a 16-bit raster can hold.
const MaxClassID model.ClassID = 65535

// Config is the immutable Phase-1 configuration.
type Config struct {
	// TargetClasses are the class values to sample.
	TargetClasses []model.ClassID

	// PerClassCapacity is the Phase-1 reservoir size per class and partition.
	PerClassCapacity int

	// Seed makes sampling reproducible; nil draws from OS entropy.
	Seed *uint64
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if len(c.TargetClasses) == 0 {
		return gserrors.InvalidConfig("extract.classes", c.TargetClasses, "no target classes")
	}
	if c.PerClassCapacity <= 0 {
		return gserrors.InvalidConfig("extract.per_class_capacity", c.PerClassCapacity, "capacity must be positive")
	}
	for _, id := range c.TargetClasses {
		if id < 0 || id > MaxClassID {
			return gserrors.InvalidClass(id).
				WithContext("max", MaxClassID)
		}
	}
	return nil
}

// Extractor performs Phase-1 sampling.
type Extractor struct {
	cfg     Config
	members classSet
}

// New creates an Extractor.
func New(cfg Config) (*Extractor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.TargetClasses = append([]model.ClassID(nil), cfg.TargetClasses...)
	return &Extractor{cfg: cfg, members: newClassSet(cfg.TargetClasses)}, nil
}

// Config returns the extractor's configuration.
func (e *Extractor) Config() Config {
	return e.cfg
}

// Extract scans every block of p and returns its Phase-1 result. A missing
// CRS fails before any pixel is read.
func (e *Extractor) Extract(ctx context.Context, p raster.Partition) (*model.PartitionResult, error) {
	crs := p.CRS()
	if crs == nil {
		return nil, gserrors.MissingCRS(p.ID())
	}

	rng := reservoir.Source(e.cfg.Seed, p.ID())
	samples := make(map[model.ClassID]*reservoir.Reservoir[model.SamplePoint], len(e.cfg.TargetClasses))
	counts := make(map[model.ClassID]int64, len(e.cfg.TargetClasses))
	for _, id := range e.cfg.TargetClasses {
		samples[id] = reservoir.New[model.SamplePoint](e.cfg.PerClassCapacity, rng)
		counts[id] = 0
	}

	gt := p.Transform()
	err := p.EachBlock(ctx, func(b *raster.Block) error {
		if !e.members.any(b.Values) {
			return nil
		}
		for r := 0; r < b.Height; r++ {
			row := b.Values[r*b.Width : (r+1)*b.Width]
			for c, v := range row {
				if !e.members.has(v) {
					continue
				}
				x, y := gt.XY(b.RowOff+r, b.ColOff+c)
				counts[v]++
				samples[v].Offer(model.SamplePoint{X: x, Y: y, Class: v})
			}
		}
		return ctx.Err()
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, gserrors.ContextCanceled("extract "+p.ID(), ctx.Err())
		}
		if gserrors.GetCode(err) != gserrors.CodeUnknown {
			return nil, err
		}
		return nil, gserrors.Wrap(err, gserrors.CodeRasterDecode, "scan partition").WithContext("partition", p.ID())
	}

	result := &model.PartitionResult{
		PartitionID:      p.ID(),
		CRS:              crs,
		PerClassCapacity: e.cfg.PerClassCapacity,
		Samples:          make(map[model.ClassID][]model.SamplePoint, len(samples)),
		Counts:           counts,
		ExtractedAt:      time.Now().UTC(),
	}
	for id, r := range samples {
		result.Samples[id] = r.Items()
	}
	return result, nil
}

// classSet is a dense membership table over non-negative class values.
type classSet []bool

func newClassSet(ids []model.ClassID) classSet {
	var maxID model.ClassID
	for _, id := range ids {
		maxID = max(maxID, id)
	}
	s := make(classSet, int(maxID)+1)
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s classSet) has(v model.ClassID) bool {
	return v >= 0 && int(v) < len(s) && s[v]
}

// any reports whether a block holds at least one target value. It only lets
// Extract skip blocks early and never changes the result.
func (s classSet) any(values []model.ClassID) bool {
	for _, v := range values {
		if s.has(v) {
			return true
		}
	}
	return false
}
