package tui

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/pkg/batch"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/report"
)

func TestParseSelection(t *testing.T) {
	classes := model.WorldCoverClasses()

	ids, err := ParseSelection("10", classes)
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{10}, ids)

	ids, err = ParseSelection("permanent water bodies, 20", classes)
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{80, 20}, ids)

	ids, err = ParseSelection("tree_cover,grassland", classes)
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{10, 30}, ids)

	ids, err = ParseSelection("Snow-and-ice", classes)
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{70}, ids)

	ids, err = ParseSelection("ALL", classes)
	require.NoError(t, err)
	assert.Equal(t, classes.IDs(), ids)

	_, err = ParseSelection("11", classes)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeInvalidClass))

	_, err = ParseSelection("", classes)
	assert.True(t, gserrors.IsConfigFatal(err))
}

func TestPromptClass(t *testing.T) {
	var out bytes.Buffer
	ids, err := PromptClass(strings.NewReader("Tree cover\n"), &out, model.WorldCoverClasses())
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{10}, ids)
	assert.Contains(t, out.String(), "Moss and lichen")

	// No trailing newline still parses.
	ids, err = PromptClass(strings.NewReader("95"), &out, model.WorldCoverClasses())
	require.NoError(t, err)
	assert.Equal(t, []model.ClassID{95}, ids)

	_, err = PromptClass(strings.NewReader(""), &out, model.WorldCoverClasses())
	assert.Error(t, err)
}

func TestPrintRunStatus(t *testing.T) {
	var out bytes.Buffer
	assert.True(t, PrintRunStatus(&out, 3, 5))
	assert.Contains(t, out.String(), "pending")

	out.Reset()
	assert.False(t, PrintRunStatus(&out, 5, 5))
	assert.Contains(t, out.String(), "geosample reduce")
}

func TestPrintSummary(t *testing.T) {
	var out bytes.Buffer
	PrintSummary(&out, &batch.Summary{
		Outcomes: []batch.Outcome{
			{PartitionID: "a.tif", Status: batch.StatusSucceeded, Pixels: 100},
			{PartitionID: "b.tif", Status: batch.StatusFailed, Err: errors.New("decode failed")},
		},
		Succeeded: 1,
		Failed:    1,
		Pixels:    100,
		Elapsed:   1500 * time.Millisecond,
		Done:      1,
		Total:     2,
	})
	s := out.String()
	assert.Contains(t, s, "FAILURES")
	assert.Contains(t, s, "decode failed")
	assert.Contains(t, s, "1/2")
}

func TestPrintClassResult(t *testing.T) {
	var out bytes.Buffer
	PrintClassResult(&out, &model.FinalSampleSet{Class: 95, ClassName: "Mangroves"}, "")
	assert.Contains(t, out.String(), "no pixels")

	out.Reset()
	PrintClassResult(&out, &model.FinalSampleSet{
		Class: 10, ClassName: "Tree cover",
		Samples: make([]model.SamplePoint, 5), Count: 5, Offered: 5, Capacity: 15,
		Partitions: 1,
	}, "/out/FINAL_SAMPLES_CLASS_10.gpkg")
	assert.Contains(t, out.String(), "all kept")
	assert.Contains(t, out.String(), "FINAL_SAMPLES_CLASS_10.gpkg")
}

func TestPrintStatusAndReport(t *testing.T) {
	var out bytes.Buffer
	PrintStatus(&out, []PartitionState{{"a.tif", "DONE"}, {"b.tif", "PENDING"}})
	assert.Contains(t, out.String(), "1/2 (50%)")

	out.Reset()
	PrintReport(&out, &report.Report{
		Partitions: 2, Done: 2,
		Classes: []report.ClassRow{{Class: 10, Name: "Tree cover", Pixels: 2000, Share: 1, Present: 2, Saturated: 1}},
	})
	s := out.String()
	assert.Contains(t, s, "Tree cover")
	assert.Contains(t, s, "100.0%")
	assert.Contains(t, s, "2.0K")
}

func TestFormatting(t *testing.T) {
	assert.Equal(t, "999", formatNumber(999))
	assert.Equal(t, "1.5M", formatNumber(1500000))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "2m5s", formatDuration(125*time.Second))
}
