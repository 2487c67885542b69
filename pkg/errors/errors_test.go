package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorMessageIncludesSortedContext(t *testing.T) {
	err := NoPartitions("/data", "*.tif")
	assert.Equal(t, "[E201] no partitions found (dir=/data, pattern=*.tif)", err.Error())
}

func TestWrapKeepsCause(t *testing.T) {
	cause := fmt.Errorf("short read")
	err := Wrap(cause, CodeRasterDecode, "decode block")
	require.NotNil(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "short read")
	assert.Nil(t, Wrap(nil, CodeRasterDecode, "noop"))
}

func TestCodeMatchingThroughWrapping(t *testing.T) {
	err := fmt.Errorf("partition a.tif: %w", MissingCRS("a.tif"))
	assert.True(t, IsCode(err, CodeMissingCRS))
	assert.Equal(t, CodeMissingCRS, GetCode(err))
	assert.True(t, errors.Is(err, New(CodeMissingCRS, "")))
	assert.Equal(t, CodeUnknown, GetCode(fmt.Errorf("plain")))
}

func TestTaxonomy(t *testing.T) {
	assert.True(t, IsPartitionFatal(MissingCRS("x")))
	assert.True(t, IsPartitionFatal(New(CodeRasterDecode, "bad strip")))
	assert.False(t, IsPartitionFatal(InvalidClass(7)))

	assert.True(t, IsConfigFatal(InvalidClass(7)))
	assert.True(t, IsConfigFatal(InvalidConfig("workers", 0, "must be positive")))
	assert.False(t, IsConfigFatal(MissingCRS("x")))
}

func TestStackCaptured(t *testing.T) {
	err := New(CodeUnknown, "boom")
	require.NotEmpty(t, err.StackTrace)
	assert.Contains(t, err.FormatStack(), "TestStackCaptured")
}
