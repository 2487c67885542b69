// Package checkpoint persists Phase-1 partition results so that extraction
// can be interrupted and resumed, and so that the reducer can run any number
// of times without rescanning rasters.
//
// Each partition has two artifacts: a record holding the encoded result and
// a completion marker. Save writes the record first and the marker second.
// The marker is the commit point: a partition is DONE exactly when its
// marker exists, and a marker is never present without a complete record.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
)

// State is a partition's checkpoint state.
type State int

const (
	// StatePending means no completion marker exists; the partition must be
	// (re-)extracted.
	StatePending State = iota
	// StateDone means the record is fully persisted and safe to reuse.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateDone:
		return "DONE"
	default:
		return "PENDING"
	}
}

// Backend is the durable key-value mechanism under a Store. Put must not
// return before data is durable. Get and Has report missing keys with
// os.ErrNotExist and false respectively. Remove of a missing key succeeds.
type Backend interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Has(ctx context.Context, key string) (bool, error)
	Remove(ctx context.Context, key string) error

	// Name returns the backend name for logging/debugging.
	Name() string
}

// Marker is the content of a completion marker.
type Marker struct {
	PartitionID string      `json:"partition_id"`
	RunID       string      `json:"run_id,omitempty"`
	Checksum    uint64      `json:"xxhash64"`
	Size        int         `json:"size"`
	Compression Compression `json:"compression"`
	CompletedAt time.Time   `json:"completed_at"`
}

// Store implements the partition checkpoint protocol over a Backend.
// Distinct partitions may be saved concurrently; a single partition must
// only ever be written by one worker at a time.
type Store struct {
	backend Backend
	codec   *Codec
	runID   string
}

// NewStore creates a store.
func NewStore(backend Backend, codec *Codec) *Store {
	return &Store{backend: backend, codec: codec}
}

// WithRunID returns a store that stamps runID into the markers it writes.
func (s *Store) WithRunID(runID string) *Store {
	c := *s
	c.runID = runID
	return &c
}

// Name returns the backend name.
func (s *Store) Name() string {
	return s.backend.Name()
}

// RecordKey returns the record key for a partition.
func RecordKey(id string) string {
	return "temp_" + id + ".rec"
}

// MarkerKey returns the completion marker key for a partition.
func MarkerKey(id string) string {
	return RecordKey(id) + ".done"
}

// Exists reports whether the partition's completion marker is present.
func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	ok, err := s.backend.Has(ctx, MarkerKey(id))
	if err != nil {
		return false, gserrors.Wrap(err, gserrors.CodeCheckpointRead, "check completion marker").
			WithContext("partition", id)
	}
	return ok, nil
}

// State returns StateDone when the marker is present.
func (s *Store) State(ctx context.Context, id string) (State, error) {
	ok, err := s.Exists(ctx, id)
	if err != nil || !ok {
		return StatePending, err
	}
	return StateDone, nil
}

// Save durably writes the record and then the completion marker.
func (s *Store) Save(ctx context.Context, id string, r *model.PartitionResult) error {
	data, err := s.codec.Encode(r)
	if err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "encode partition record").
			WithContext("partition", id)
	}
	if err := s.backend.Put(ctx, RecordKey(id), data); err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "write partition record").
			WithContext("partition", id)
	}

	marker, err := json.Marshal(Marker{
		PartitionID: id,
		RunID:       s.runID,
		Checksum:    xxhash.Sum64(data),
		Size:        len(data),
		Compression: s.codec.Compression(),
		CompletedAt: time.Now().UTC(),
	})
	if err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "encode completion marker")
	}
	if err := s.backend.Put(ctx, MarkerKey(id), marker); err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "write completion marker").
			WithContext("partition", id)
	}
	return nil
}

// Marker reads a partition's completion marker.
func (s *Store) Marker(ctx context.Context, id string) (*Marker, error) {
	data, err := s.backend.Get(ctx, MarkerKey(id))
	if errors.Is(err, os.ErrNotExist) {
		return nil, gserrors.New(gserrors.CodeCheckpointMissing, "partition not completed").
			WithContext("partition", id)
	}
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeCheckpointRead, "read completion marker").
			WithContext("partition", id)
	}
	var m Marker
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeCheckpointCorrupt, "decode completion marker").
			WithContext("partition", id)
	}
	return &m, nil
}

// Load reads a DONE partition's result, verifying it against the checksum
// in its marker.
func (s *Store) Load(ctx context.Context, id string) (*model.PartitionResult, error) {
	m, err := s.Marker(ctx, id)
	if err != nil {
		return nil, err
	}

	data, err := s.backend.Get(ctx, RecordKey(id))
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeCheckpointRead, "read partition record").
			WithContext("partition", id)
	}
	if len(data) != m.Size || xxhash.Sum64(data) != m.Checksum {
		return nil, gserrors.New(gserrors.CodeCheckpointCorrupt, "partition record does not match its marker").
			WithContext("partition", id)
	}

	r, err := s.codec.Decode(data)
	if err != nil {
		return nil, gserrors.Wrap(err, gserrors.CodeCheckpointCorrupt, "decode partition record").
			WithContext("partition", id)
	}
	return r, nil
}

// Delete removes a partition's marker and then its record, returning it to
// PENDING. Deleting a partition with no artifacts succeeds.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.Remove(ctx, MarkerKey(id)); err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "remove completion marker").
			WithContext("partition", id)
	}
	if err := s.backend.Remove(ctx, RecordKey(id)); err != nil {
		return gserrors.Wrap(err, gserrors.CodeCheckpointWrite, "remove partition record").
			WithContext("partition", id)
	}
	return nil
}

// ListIncomplete returns the ids, in input order, that have no marker.
func (s *Store) ListIncomplete(ctx context.Context, ids []string) ([]string, error) {
	var pending []string
	for _, id := range ids {
		ok, err := s.Exists(ctx, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			pending = append(pending, id)
		}
	}
	return pending, nil
}
