package reduce

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/internal/model"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/extract"
	"github.com/geosample/geosample/pkg/raster"
	"github.com/geosample/geosample/pkg/reservoir"
)

var utm = &model.CRS{EPSG: 32633}

func seed(v uint64) *uint64 { return &v }

// memSource is an in-memory Source. Entries with a nil result are pending.
type memSource map[string]*model.PartitionResult

func (m memSource) Exists(ctx context.Context, id string) (bool, error) {
	return m[id] != nil, nil
}

func (m memSource) Load(ctx context.Context, id string) (*model.PartitionResult, error) {
	r := m[id]
	if r == nil {
		return nil, gserrors.New(gserrors.CodeCheckpointMissing, "partition not completed")
	}
	return r, nil
}

func (m memSource) ids() []string {
	out := make([]string, 0, len(m))
	for id := range m {
		out = append(out, id)
	}
	return out
}

// partition builds a result holding n pixels of class c with a Phase-1
// reservoir of size capacity.
func partition(id string, c model.ClassID, n, capacity int, offset float64) *model.PartitionResult {
	pool := reservoir.New[model.SamplePoint](capacity, reservoir.Stream(1, id))
	for i := 0; i < n; i++ {
		pool.Offer(model.SamplePoint{X: offset + float64(i), Y: offset, Class: c})
	}
	return &model.PartitionResult{
		PartitionID:      id,
		CRS:              utm,
		PerClassCapacity: capacity,
		Samples:          map[model.ClassID][]model.SamplePoint{c: pool.Items()},
		Counts:           map[model.ClassID]int64{c: int64(n)},
	}
}

func newReducer(t *testing.T, capacity int, s *uint64) *Reducer {
	t.Helper()
	r, err := New(Config{FinalCapacity: capacity, Seed: s, Classes: model.WorldCoverClasses()},
		WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)
	return r
}

func TestReduceTwoPartitions(t *testing.T) {
	ex, err := extract.New(extract.Config{TargetClasses: []model.ClassID{10}, PerClassCapacity: 10})
	require.NoError(t, err)

	src := memSource{}
	for _, id := range []string{"a.tif", "b.tif"} {
		res, err := ex.Extract(context.Background(), raster.Filled(id, utm, 10, 10, 10))
		require.NoError(t, err)
		src[id] = res
	}

	set, err := newReducer(t, 15, nil).Reduce(context.Background(), src, src.ids(), 10)
	require.NoError(t, err)
	assert.EqualValues(t, 200, set.Count)
	assert.Len(t, set.Samples, 15)
	assert.EqualValues(t, 20, set.Offered)
	assert.Equal(t, 2, set.Partitions)
	assert.Equal(t, 2, set.SaturatedPartitions)
	assert.False(t, set.Exact())
	assert.Equal(t, "Tree cover", set.ClassName)
	assert.Equal(t, utm, set.CRS)
}

func TestReduceAbsentClassIsEmpty(t *testing.T) {
	a := partition("a.tif", 10, 50, 10, 0)
	a.Counts[80] = 0
	src := memSource{"a.tif": a}

	set, err := newReducer(t, 15, nil).Reduce(context.Background(), src, src.ids(), 80)
	require.NoError(t, err)
	assert.True(t, set.Empty())
	assert.Empty(t, set.Samples)
	assert.Zero(t, set.Partitions)
	assert.True(t, set.Exact())
}

func TestReduceRejectsClassNotExtracted(t *testing.T) {
	ex, err := extract.New(extract.Config{TargetClasses: []model.ClassID{10}, PerClassCapacity: 10})
	require.NoError(t, err)
	res, err := ex.Extract(context.Background(), raster.Filled("a.tif", utm, 10, 10, 20))
	require.NoError(t, err)
	src := memSource{"a.tif": res}

	_, err = newReducer(t, 15, nil).Reduce(context.Background(), src, src.ids(), 20)
	require.Error(t, err)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeInvalidClass))

	set, err := newReducer(t, 15, nil).Reduce(context.Background(), src, src.ids(), 10)
	require.NoError(t, err)
	assert.True(t, set.Empty())
}

func TestReduceSeededIsReproducible(t *testing.T) {
	src := memSource{
		"a.tif": partition("a.tif", 10, 40, 20, 0),
		"b.tif": partition("b.tif", 10, 30, 20, 1000),
		"c.tif": partition("c.tif", 10, 5, 20, 2000),
	}

	run := func() []byte {
		set, err := newReducer(t, 12, seed(42)).Reduce(context.Background(), src, src.ids(), 10)
		require.NoError(t, err)
		data, err := json.Marshal(set)
		require.NoError(t, err)
		return data
	}
	assert.Equal(t, run(), run())
}

func TestReduceOrderInvariant(t *testing.T) {
	src := memSource{
		"a.tif": partition("a.tif", 10, 8, 20, 0),
		"b.tif": partition("b.tif", 10, 8, 20, 100),
		"c.tif": partition("c.tif", 10, 8, 20, 200),
	}
	r := newReducer(t, 5, seed(7))

	first, err := r.Reduce(context.Background(), src, []string{"a.tif", "b.tif", "c.tif"}, 10)
	require.NoError(t, err)
	second, err := r.Reduce(context.Background(), src, []string{"c.tif", "a.tif", "b.tif"}, 10)
	require.NoError(t, err)
	assert.Equal(t, first.Samples, second.Samples)
}

func TestReduceWithoutDiscardMatchesSingleReservoir(t *testing.T) {
	src := memSource{
		"a.tif": partition("a.tif", 10, 6, 10, 0),
		"b.tif": partition("b.tif", 10, 9, 10, 100),
		"c.tif": partition("c.tif", 10, 3, 10, 200),
	}

	set, err := newReducer(t, 7, seed(3)).Reduce(context.Background(), src, src.ids(), 10)
	require.NoError(t, err)
	assert.True(t, set.Exact())
	assert.EqualValues(t, 18, set.Count)
	assert.EqualValues(t, 18, set.Offered)

	// One reservoir over the whole stream in the same order.
	want := reservoir.New[model.SamplePoint](7, reservoir.Stream(3, "class-10"))
	for _, id := range []string{"a.tif", "b.tif", "c.tif"} {
		for _, pt := range src[id].Samples[10] {
			want.Offer(pt)
		}
	}
	assert.Equal(t, want.Items(), set.Samples)
}

func TestReduceWithoutDiscardIsUniform(t *testing.T) {
	src := memSource{
		"a.tif": partition("a.tif", 10, 4, 10, 0),
		"b.tif": partition("b.tif", 10, 4, 10, 100),
		"c.tif": partition("c.tif", 10, 4, 10, 200),
	}
	r := newReducer(t, 3, nil)

	const trials = 30000
	hits := make(map[model.SamplePoint]int)
	for i := 0; i < trials; i++ {
		set, err := r.Reduce(context.Background(), src, src.ids(), 10)
		require.NoError(t, err)
		for _, pt := range set.Samples {
			hits[pt]++
		}
	}

	require.Len(t, hits, 12)
	for pt, n := range hits {
		assert.InDelta(t, 0.25, float64(n)/trials, 0.02, "point %v", pt)
	}
}

func TestReduceClassesMatchesSingleClass(t *testing.T) {
	a := partition("a.tif", 10, 30, 10, 0)
	b := partition("a.tif", 20, 25, 10, 500)
	a.Samples[20], a.Counts[20] = b.Samples[20], b.Counts[20]
	src := memSource{
		"a.tif": a,
		"b.tif": partition("b.tif", 20, 12, 10, 900),
	}
	r := newReducer(t, 8, seed(11))

	sets, err := r.ReduceClasses(context.Background(), src, src.ids(), []model.ClassID{20, 10, 20})
	require.NoError(t, err)
	require.Len(t, sets, 2)
	assert.Equal(t, model.ClassID(10), sets[0].Class)
	assert.Equal(t, model.ClassID(20), sets[1].Class)
	assert.EqualValues(t, 37, sets[1].Count)
	assert.Equal(t, 2, sets[1].Partitions)

	single, err := r.Reduce(context.Background(), src, src.ids(), 20)
	require.NoError(t, err)
	assert.Equal(t, single.Samples, sets[1].Samples)
}

func TestReduceSkipsPendingPartitions(t *testing.T) {
	src := memSource{
		"a.tif": partition("a.tif", 10, 5, 10, 0),
		"b.tif": nil,
	}
	set, err := newReducer(t, 10, nil).Reduce(context.Background(), src, []string{"a.tif", "b.tif"}, 10)
	require.NoError(t, err)
	assert.EqualValues(t, 5, set.Count)
	assert.Equal(t, 1, set.Partitions)
}

func TestReduceRejectsMixedCRS(t *testing.T) {
	b := partition("b.tif", 10, 5, 10, 0)
	b.CRS = &model.CRS{EPSG: 4326}
	src := memSource{
		"a.tif": partition("a.tif", 10, 5, 10, 0),
		"b.tif": b,
	}
	_, err := newReducer(t, 10, nil).Reduce(context.Background(), src, src.ids(), 10)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeCRSMismatch))
}

func TestReduceCanceled(t *testing.T) {
	src := memSource{"a.tif": partition("a.tif", 10, 5, 10, 0)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newReducer(t, 10, nil).Reduce(ctx, src, src.ids(), 10)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeContextCanceled))
}

func TestConfigValidate(t *testing.T) {
	_, err := New(Config{FinalCapacity: 0})
	assert.True(t, gserrors.IsConfigFatal(err))

	r := newReducer(t, 5, nil)
	_, err = r.ReduceClasses(context.Background(), memSource{}, nil, nil)
	assert.True(t, gserrors.IsConfigFatal(err))
}

func Example() {
	src := memSource{
		"a.tif": partition("a.tif", 10, 100, 10, 0),
		"b.tif": partition("b.tif", 10, 100, 10, 1000),
	}
	r, _ := New(Config{FinalCapacity: 15, Seed: seed(1)}, WithLogger(slog.New(slog.DiscardHandler)))
	set, _ := r.Reduce(context.Background(), src, src.ids(), 10)
	fmt.Println(set.Count, len(set.Samples), set.Exact())
	// Output: 200 15 false
}
