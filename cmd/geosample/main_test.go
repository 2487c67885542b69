package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/geosample/geosample/internal/model"
	"github.com/geosample/geosample/pkg/checkpoint"
	"github.com/geosample/geosample/pkg/config"
	gserrors "github.com/geosample/geosample/pkg/errors"
	"github.com/geosample/geosample/pkg/tui"
)

// workspace holds an input directory of placeholder partitions and a local
// checkpoint store with results for some of them.
type workspace struct {
	input, checkpoints, output string
}

func newWorkspace(t *testing.T, partitions int, done int) *workspace {
	t.Helper()
	root := t.TempDir()
	ws := &workspace{
		input:       filepath.Join(root, "tiles"),
		checkpoints: filepath.Join(root, "ckpt"),
		output:      filepath.Join(root, "out"),
	}
	require.NoError(t, os.MkdirAll(ws.input, 0755))

	backend, err := checkpoint.NewLocalBackend(ws.checkpoints)
	require.NoError(t, err)
	codec, err := checkpoint.NewCodec(checkpoint.CompressionZstd)
	require.NoError(t, err)
	store := checkpoint.NewStore(backend, codec)

	for i := 0; i < partitions; i++ {
		id := fmt.Sprintf("tile_%02d.tif", i)
		require.NoError(t, os.WriteFile(filepath.Join(ws.input, id), nil, 0644))
		if i >= done {
			continue
		}
		var pts []model.SamplePoint
		for j := 0; j < 50; j++ {
			pts = append(pts, model.SamplePoint{X: float64(i*100 + j), Y: float64(j), Class: 10})
		}
		require.NoError(t, store.Save(context.Background(), id, &model.PartitionResult{
			PartitionID:      id,
			CRS:              &model.CRS{EPSG: 32633},
			PerClassCapacity: 100,
			Samples:          map[model.ClassID][]model.SamplePoint{10: pts},
			Counts:           map[model.ClassID]int64{10: 50, 20: 0},
			ExtractedAt:      time.Now(),
		}))
	}
	return ws
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		resetFlags(rootCmd.PersistentFlags())
		for _, c := range rootCmd.Commands() {
			resetFlags(c.Flags())
		}
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func resetFlags(fs *pflag.FlagSet) {
	fs.VisitAll(func(f *pflag.Flag) {
		if f.Changed {
			f.Value.Set(f.DefValue)
			f.Changed = false
		}
	})
}

func TestReduceWritesDatasetPerPresentClass(t *testing.T) {
	ws := newWorkspace(t, 3, 3)

	out, err := execute(t, "reduce",
		"-i", ws.input,
		"--checkpoint-dir", ws.checkpoints,
		"--class", "10,20",
		"--final-capacity", "40",
		"--format", "parquet",
		"-o", ws.output,
		"--seed", "7")
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(ws.output, "FINAL_SAMPLES_CLASS_10.parquet"))
	assert.NoFileExists(t, filepath.Join(ws.output, "FINAL_SAMPLES_CLASS_20.parquet"))
	assert.Contains(t, out, "no pixels found")
	assert.Equal(t, 40, current.cfg.Reduce.FinalCapacity)
	require.NotNil(t, current.cfg.Seed)
	assert.Equal(t, uint64(7), *current.cfg.Seed)
}

func TestReduceRejectsClassNotExtracted(t *testing.T) {
	ws := newWorkspace(t, 2, 2)

	_, err := execute(t, "reduce",
		"-i", ws.input,
		"--checkpoint-dir", ws.checkpoints,
		"--class", "grassland",
		"-o", ws.output)
	require.Error(t, err)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeInvalidClass))
	assert.NoDirExists(t, ws.output)
}

func TestReduceWithoutClassOutsideTerminal(t *testing.T) {
	if tui.IsTerminal(os.Stdin) {
		t.Skip("stdin is a terminal")
	}
	ws := newWorkspace(t, 1, 1)

	_, err := execute(t, "reduce", "-i", ws.input, "--checkpoint-dir", ws.checkpoints)
	require.Error(t, err)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeInvalidClass))
}

func TestStatusShowsCheckpointStates(t *testing.T) {
	ws := newWorkspace(t, 3, 2)

	out, err := execute(t, "status", "-i", ws.input, "--checkpoint-dir", ws.checkpoints)
	require.NoError(t, err)
	assert.Contains(t, out, "tile_00.tif")
	assert.Contains(t, out, "PENDING")
	assert.Contains(t, out, "2/3")
}

func TestMissingPartitionsIsConfigFatal(t *testing.T) {
	_, err := execute(t, "status", "-i", t.TempDir(), "--checkpoint-dir", t.TempDir())
	require.Error(t, err)
	assert.True(t, gserrors.IsCode(err, gserrors.CodeNoPartitions))
}

func TestConfigPrintsEffectiveYAML(t *testing.T) {
	out, err := execute(t, "config", "--backend", "redis", "--pattern", "*.tiff")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: redis")
	assert.Contains(t, out, "*.tiff")
}

func TestConfigSaveWritesLoadableFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "geosample.yaml")
	out, err := execute(t, "config", "--backend", "redis", "--save", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	m := config.NewManager()
	m.SetSearchPaths()
	require.NoError(t, m.Load(path))
	assert.Equal(t, "redis", m.Get().Checkpoint.Backend)
}

func TestExitCode(t *testing.T) {
	var out bytes.Buffer
	assert.Equal(t, 2, exitCode(&out, gserrors.NoPartitions("/in", "*.tif")))
	assert.Equal(t, 1, exitCode(&out, gserrors.MissingCRS("a.tif")))
	assert.Equal(t, 1, exitCode(&out, fmt.Errorf("plain")))
	assert.Contains(t, out.String(), "plain")
}

func TestApplyExtractFlags(t *testing.T) {
	cmd := &cobra.Command{}
	cmd.Flags().IntVarP(&workersFlag, "workers", "w", 0, "")
	cmd.Flags().IntVar(&capacityFlag, "capacity", 0, "")
	cmd.Flags().StringVar(&classesFlag, "classes", "", "")
	require.NoError(t, cmd.Flags().Parse([]string{"--workers", "3", "--classes", "10, 30"}))

	cfg := config.Default()
	require.NoError(t, applyExtractFlags(cmd, cfg))
	assert.Equal(t, 3, cfg.Extract.Workers)
	assert.Equal(t, 20000, cfg.Extract.PerClassCapacity)
	assert.Equal(t, []model.ClassID{10, 30}, cfg.Extract.Classes)

	require.NoError(t, cmd.Flags().Parse([]string{"--classes", "ten"}))
	assert.Error(t, applyExtractFlags(cmd, cfg))
}
