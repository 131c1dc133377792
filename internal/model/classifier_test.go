package model

import (
	"context"
	"errors"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/iris-classifier/internal/testmodel"
)

func requireRuntime(t *testing.T) string {
	t.Helper()
	lib := os.Getenv(LibraryPathEnv)
	if lib == "" {
		t.Skipf("ONNX Runtime library not available, set %s", LibraryPathEnv)
	}
	if _, err := os.Stat(lib); err != nil {
		t.Skipf("ONNX Runtime library not available: %v", err)
	}
	return lib
}

func writeModel(t *testing.T, m testmodel.Classifier) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, m.WriteFile(path))
	return path
}

func loadIris(t *testing.T) *Classifier {
	t.Helper()
	lib := requireRuntime(t)
	c, err := Load(context.Background(), Options{
		ModelPath:         writeModel(t, testmodel.Iris()),
		SharedLibraryPath: lib,
	})
	require.NoError(t, err)
	t.Cleanup(func() { assert.NoError(t, c.Close()) })
	return c
}

func TestLoadMissingModel(t *testing.T) {
	_, err := Load(context.Background(), Options{
		ModelPath: filepath.Join(t.TempDir(), "missing.onnx"),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	assert.Equal(t, 0, env.refs)
}

func TestCreateUsesWorkingDirectory(t *testing.T) {
	t.Chdir(t.TempDir())

	_, err := Create()
	require.Error(t, err)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "got %v", err)
	assert.Contains(t, err.Error(), DefaultModelPath)
}

func TestLoadMalformedModel(t *testing.T) {
	lib := requireRuntime(t)
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, os.WriteFile(path, []byte("not a model"), 0644))

	_, err := Load(context.Background(), Options{ModelPath: path, SharedLibraryPath: lib})
	require.Error(t, err)
	assert.False(t, errors.Is(err, fs.ErrNotExist))
	assert.Equal(t, 0, env.refs)
}

func TestLoadBindsSlots(t *testing.T) {
	c := loadIris(t)

	inputs, outputs := c.Inputs(), c.Outputs()
	require.Len(t, inputs, 1)
	require.Len(t, outputs, 1)
	assert.Equal(t, "features", inputs[0].Name)
	assert.Equal(t, []int64{1, 4}, inputs[0].Shape)
	assert.Equal(t, "probabilities", outputs[0].Name)
	assert.Equal(t, []int64{1, 3}, outputs[0].Shape)
	assert.Equal(t, CPU, c.Device().Kind)
}

func TestPredictFixedInput(t *testing.T) {
	c := loadIris(t)

	probs, err := c.Predict(2.0, 4.3, 0.1, 1.0)
	require.NoError(t, err)
	require.Len(t, probs, 3)

	var sum float64
	for _, p := range probs {
		assert.GreaterOrEqual(t, p, float32(0))
		assert.LessOrEqual(t, p, float32(1))
		sum += float64(p)
	}
	assert.InDelta(t, 1.0, sum, 1e-3)
}

func TestPredictIsDeterministic(t *testing.T) {
	c := loadIris(t)

	first, err := c.Predict(2.0, 4.3, 0.1, 1.0)
	require.NoError(t, err)
	second, err := c.Predict(2.0, 4.3, 0.1, 1.0)
	require.NoError(t, err)

	require.Len(t, second, len(first))
	for i := range first {
		assert.Equal(t, math.Float32bits(first[i]), math.Float32bits(second[i]), "class %d", i)
	}
}

func TestPredictIsOrderSensitive(t *testing.T) {
	c := loadIris(t)

	ordered, err := c.Predict(2.0, 4.3, 0.1, 1.0)
	require.NoError(t, err)
	reversed, err := c.Predict(1.0, 0.1, 4.3, 2.0)
	require.NoError(t, err)

	assert.NotEqual(t, ordered, reversed)
	assert.Equal(t, 0, Argmax(ordered))
	assert.NotEqual(t, 0, Argmax(reversed))
}

func TestPredictSetosaExemplar(t *testing.T) {
	c := loadIris(t)

	probs, err := c.PredictFeatures(NewFeatures(5.1, 3.5, 1.4, 0.2))
	require.NoError(t, err)
	assert.Equal(t, "Iris-setosa", IrisClasses[Argmax(probs)])
}

func TestShapeMismatchFailsAtPredict(t *testing.T) {
	lib := requireRuntime(t)
	c, err := Load(context.Background(), Options{
		ModelPath:         writeModel(t, testmodel.Iris().WithFeatures(5)),
		SharedLibraryPath: lib,
	})
	require.NoError(t, err, "shape is validated lazily")
	defer c.Close()

	probs, err := c.Predict(2.0, 4.3, 0.1, 1.0)
	require.Error(t, err)
	assert.Nil(t, probs)
}

func TestPredictUsesDeclaredInputShape(t *testing.T) {
	lib := requireRuntime(t)

	unbatched := testmodel.Iris()
	unbatched.Unbatched = true
	dynamic := testmodel.Iris()
	dynamic.DynamicBatch = true

	for name, m := range map[string]testmodel.Classifier{"unbatched": unbatched, "dynamic batch": dynamic} {
		t.Run(name, func(t *testing.T) {
			c, err := Load(context.Background(), Options{ModelPath: writeModel(t, m), SharedLibraryPath: lib})
			require.NoError(t, err)
			defer c.Close()

			probs, err := c.PredictFeatures(NewFeatures(5.1, 3.5, 1.4, 0.2))
			require.NoError(t, err)
			require.Len(t, probs, 3)
			assert.Equal(t, 0, Argmax(probs))
		})
	}
}

func TestCloseWaitsForPredictions(t *testing.T) {
	lib := requireRuntime(t)
	c, err := Load(context.Background(), Options{
		ModelPath:         writeModel(t, testmodel.Iris()),
		SharedLibraryPath: lib,
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				probs, err := c.Predict(2.0, 4.3, 0.1, 1.0)
				if errors.Is(err, ErrClosed) {
					return
				}
				assert.NoError(t, err)
				assert.Len(t, probs, 3)
			}
		}()
	}
	require.NoError(t, c.Close())
	wg.Wait()
	assert.Equal(t, 0, env.refs)
}

func TestCloseReleasesEnvironment(t *testing.T) {
	lib := requireRuntime(t)
	path := writeModel(t, testmodel.Iris())

	a, err := Load(context.Background(), Options{ModelPath: path, SharedLibraryPath: lib, IntraOpThreads: 1})
	require.NoError(t, err)
	b, err := Load(context.Background(), Options{ModelPath: path, SharedLibraryPath: lib})
	require.NoError(t, err)
	assert.Equal(t, 2, env.refs)

	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
	assert.Equal(t, 1, env.refs)

	_, err = a.Predict(2.0, 4.3, 0.1, 1.0)
	assert.ErrorIs(t, err, ErrClosed)

	_, err = b.Predict(2.0, 4.3, 0.1, 1.0)
	assert.NoError(t, err)

	require.NoError(t, b.Close())
	assert.Equal(t, 0, env.refs)
}
