package exports

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExampleTensorIsDeterministic(t *testing.T) {
	shape := NewShape(1, 2, 64)
	first := NewExampleTensor(shape, 42)
	second := NewExampleTensor(shape, 42)
	assert.Equal(t, first.Data(), second.Data())

	other := NewExampleTensor(shape, 7)
	assert.NotEqual(t, first.Data(), other.Data())
}

func TestExampleTensorShape(t *testing.T) {
	d := NewExampleTensor(NewShape(1, 2, 2049, 100), 42)
	assert.Equal(t, []int{1, 2, 2049, 100}, []int(d.Shape()))
	backing, ok := d.Data().([]float32)
	require.True(t, ok)
	assert.Len(t, backing, 2*2049*100)
}

func TestWriteExampleTensorProducesNpy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "example.npy")
	require.NoError(t, WriteExampleTensor(path, NewShape(1, 2, 128), 42))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Greater(t, len(data), 6)
	assert.Equal(t, "\x93NUMPY", string(data[:6]))

	// identical inputs serialize to identical bytes
	other := filepath.Join(t.TempDir(), "again.npy")
	require.NoError(t, WriteExampleTensor(other, NewShape(1, 2, 128), 42))
	otherData, err := os.ReadFile(other)
	require.NoError(t, err)
	assert.Equal(t, data, otherData)
}
