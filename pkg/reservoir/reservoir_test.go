package reservoir

import (
	"fmt"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat/combin"
	"gonum.org/v1/gonum/stat/distuv"
)

func TestReservoirFillsBeforeReplacing(t *testing.T) {
	r := New[int](5, Stream(1, "fill"))
	for i := 0; i < 5; i++ {
		require.True(t, r.Offer(i))
		assert.Equal(t, i+1, r.Len())
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, r.Items())
	assert.EqualValues(t, 5, r.Seen())
}

func TestReservoirLenIsMinOfSeenAndCap(t *testing.T) {
	r := New[int](10, Stream(2, "len"))
	for i := 1; i <= 1000; i++ {
		r.Offer(i)
		assert.Equal(t, min(i, 10), r.Len())
		assert.EqualValues(t, i, r.Seen())
	}
}

func TestReservoirZeroCapacityOnlyCounts(t *testing.T) {
	r := New[string](0, nil)
	for i := 0; i < 20; i++ {
		assert.False(t, r.Offer("x"))
	}
	assert.Equal(t, 0, r.Len())
	assert.EqualValues(t, 20, r.Seen())
}

func TestReservoirSameSeedSameSample(t *testing.T) {
	run := func() []int {
		r := New[int](7, Stream(99, "p1.tif"))
		for i := 0; i < 10000; i++ {
			r.Offer(i)
		}
		return append([]int(nil), r.Items()...)
	}
	assert.Equal(t, run(), run())

	other := New[int](7, Stream(99, "p2.tif"))
	for i := 0; i < 10000; i++ {
		other.Offer(i)
	}
	assert.NotEqual(t, run(), other.Items())
}

// Every size-c subset of n offered items must be equally likely.
func TestReservoirSubsetsUniform(t *testing.T) {
	const (
		n      = 6
		c      = 3
		trials = 60000
	)
	rng := Stream(7, "subsets")
	counts := make(map[string]int)
	for trial := 0; trial < trials; trial++ {
		r := New[int](c, rng)
		for i := 0; i < n; i++ {
			r.Offer(i)
		}
		counts[subsetKey(r.Items())]++
	}

	k := combin.Binomial(n, c)
	require.Len(t, counts, k, "every subset should occur")

	expected := float64(trials) / float64(k)
	var chi2 float64
	for _, obs := range counts {
		d := float64(obs) - expected
		chi2 += d * d / expected
	}
	p := 1 - distuv.ChiSquared{K: float64(k - 1)}.CDF(chi2)
	assert.Greater(t, p, 0.001, "chi2=%.2f over %d subsets", chi2, k)
}

// Each of the n items is retained with probability c/n.
func TestReservoirInclusionProbability(t *testing.T) {
	const (
		n      = 50
		c      = 10
		trials = 20000
	)
	rng := Stream(11, "inclusion")
	hits := make([]int, n)
	for trial := 0; trial < trials; trial++ {
		r := New[int](c, rng)
		for i := 0; i < n; i++ {
			r.Offer(i)
		}
		for _, v := range r.Items() {
			hits[v]++
		}
	}

	expected := float64(trials) * c / n
	var chi2 float64
	for _, h := range hits {
		d := float64(h) - expected
		chi2 += d * d / expected
	}
	// The per-item counts are not independent (they sum to trials*c), so
	// this is conservative.
	p := 1 - distuv.ChiSquared{K: n - 1}.CDF(chi2)
	assert.Greater(t, p, 0.001, "chi2=%.2f", chi2)
}

func subsetKey(items []int) string {
	s := append([]int(nil), items...)
	sort.Ints(s)
	return fmt.Sprint(s)
}
