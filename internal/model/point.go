// Package model defines core data structures for geosample.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// ClassID is a land-cover class value as stored in the raster.
type ClassID int32

// SamplePoint is one classified pixel centre in the partition's CRS.
// Points are immutable once created.
type SamplePoint struct {
	X     float64
	Y     float64
	Class ClassID
}

// MarshalJSON encodes the point as a compact [x, y, class] triple.
func (p SamplePoint) MarshalJSON() ([]byte, error) {
	return json.Marshal([3]any{p.X, p.Y, p.Class})
}

// UnmarshalJSON decodes a [x, y, class] triple.
func (p *SamplePoint) UnmarshalJSON(data []byte) error {
	var raw [3]json.Number
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("sample point: %w", err)
	}
	x, err := raw[0].Float64()
	if err != nil {
		return fmt.Errorf("sample point x: %w", err)
	}
	y, err := raw[1].Float64()
	if err != nil {
		return fmt.Errorf("sample point y: %w", err)
	}
	c, err := raw[2].Int64()
	if err != nil {
		return fmt.Errorf("sample point class: %w", err)
	}
	p.X, p.Y, p.Class = x, y, ClassID(c)
	return nil
}

// CRS describes a coordinate reference system.
// EPSG is zero for user-defined systems, in which case Citation carries
// whatever description the source provided.
type CRS struct {
	EPSG     int    `json:"epsg,omitempty"`
	Citation string `json:"citation,omitempty"`
}

// String returns "EPSG:<code>" or the citation.
func (c *CRS) String() string {
	if c == nil {
		return "<none>"
	}
	if c.EPSG > 0 {
		return fmt.Sprintf("EPSG:%d", c.EPSG)
	}
	if c.Citation != "" {
		return c.Citation
	}
	return "user-defined"
}

// Equal reports whether two CRS descriptors name the same system.
func (c *CRS) Equal(o *CRS) bool {
	if c == nil || o == nil {
		return c == o
	}
	if c.EPSG > 0 || o.EPSG > 0 {
		return c.EPSG == o.EPSG
	}
	return c.Citation == o.Citation
}

// PartitionResult is the Phase-1 output for one raster partition.
// Samples holds the reservoir contents per class, Counts the exact number
// of qualifying pixels per class. It is immutable after it is persisted.
type PartitionResult struct {
	PartitionID      string                    `json:"partition_id"`
	Source           string                    `json:"source,omitempty"`
	CRS              *CRS                      `json:"crs"`
	PerClassCapacity int                       `json:"per_class_capacity"`
	Samples          map[ClassID][]SamplePoint `json:"samples"`
	Counts           map[ClassID]int64         `json:"counts"`
	ExtractedAt      time.Time                 `json:"extracted_at"`
}

// TotalPixels sums the exact counts over all classes.
func (r *PartitionResult) TotalPixels() int64 {
	var n int64
	for _, c := range r.Counts {
		n += c
	}
	return n
}

// Saturated reports whether Phase 1 discarded pixels of class c in this partition.
func (r *PartitionResult) Saturated(c ClassID) bool {
	return r.Counts[c] > int64(len(r.Samples[c]))
}

// Classes returns the classes present in Counts, sorted ascending.
func (r *PartitionResult) Classes() []ClassID {
	out := make([]ClassID, 0, len(r.Counts))
	for c := range r.Counts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// FinalSampleSet is the Phase-2 output for one class.
type FinalSampleSet struct {
	Class     ClassID
	ClassName string
	CRS       *CRS
	Samples   []SamplePoint

	// Count is the exact global pixel count for Class.
	Count int64

	// Offered is the length of the Phase-2 stream, i.e. the number of
	// Phase-1 samples fed to the final reservoir.
	Offered int64

	Capacity            int
	Partitions          int
	SaturatedPartitions int
}

// Empty reports whether no pixel of the class was found.
func (s *FinalSampleSet) Empty() bool {
	return s.Count == 0
}

// Exact reports whether the sample is exactly uniform over all original
// pixels, which holds when no partition discarded pixels of this class in
// Phase 1.
func (s *FinalSampleSet) Exact() bool {
	return s.SaturatedPartitions == 0
}
