package exports

import (
	"errors"
	"math/rand"
	"os"

	"gorgonia.org/tensor"
)

// NewExampleTensor builds the fixed-shape float32 tensor that stands in for
// real audio or spectral input during tracing. The values are drawn from a
// seeded normal distribution so that re-running an export feeds the tracer
// the exact same bytes.
func NewExampleTensor(shape Shape, seed int64) *tensor.Dense {
	rng := rand.New(rand.NewSource(seed))
	backing := make([]float32, shape.Elements())
	for i := range backing {
		backing[i] = float32(rng.NormFloat64())
	}
	dims := make([]int, len(shape))
	for i, d := range shape {
		dims[i] = int(d)
	}
	return tensor.New(tensor.WithShape(dims...), tensor.WithBacking(backing))
}

// WriteExampleTensor serializes the example tensor to path in numpy .npy
// format, which the Python driver loads with numpy.load.
func WriteExampleTensor(path string, shape Shape, seed int64) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	writeErr := NewExampleTensor(shape, seed).WriteNpy(f)
	return errors.Join(writeErr, f.Close())
}
