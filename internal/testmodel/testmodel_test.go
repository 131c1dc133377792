package testmodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"
)

// fields splits a message into its top-level fields; bytes fields keep
// their payload.
func fields(t *testing.T, b []byte) map[protowire.Number][][]byte {
	t.Helper()
	out := map[protowire.Number][][]byte{}
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		require.GreaterOrEqual(t, n, 0, "bad tag")
		b = b[n:]

		var value []byte
		switch typ {
		case protowire.BytesType:
			v, m := protowire.ConsumeBytes(b)
			require.GreaterOrEqual(t, m, 0, "bad bytes field %d", num)
			value, n = v, m
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
			require.GreaterOrEqual(t, n, 0, "bad field %d", num)
			value = b[:n]
		}
		out[num] = append(out[num], value)
		b = b[n:]
	}
	return out
}

func TestMarshalIris(t *testing.T) {
	b, err := Iris().Marshal()
	require.NoError(t, err)

	model := fields(t, b)
	require.Len(t, model[7], 1, "one graph")
	require.Len(t, model[8], 1, "one opset import")

	graph := fields(t, model[7][0])
	assert.Len(t, graph[1], 2, "gemm and softmax nodes")
	assert.Len(t, graph[5], 2, "weight and bias initializers")
	require.Len(t, graph[11], 1)
	require.Len(t, graph[12], 1)

	input := fields(t, graph[11][0])
	assert.Equal(t, "features", string(input[1][0]))
	output := fields(t, graph[12][0])
	assert.Equal(t, "probabilities", string(output[1][0]))

	softmax := fields(t, graph[1][1])
	assert.Equal(t, "Softmax", string(softmax[4][0]))
}

func inputDims(t *testing.T, b []byte) [][]byte {
	t.Helper()
	model := fields(t, b)
	graph := fields(t, model[7][0])
	input := fields(t, graph[11][0])
	typ := fields(t, input[2][0])
	tensorType := fields(t, typ[1][0])
	shape := fields(t, tensorType[2][0])
	return shape[1]
}

func TestMarshalDynamicBatch(t *testing.T) {
	c := Iris()
	c.DynamicBatch = true
	b, err := c.Marshal()
	require.NoError(t, err)

	dims := inputDims(t, b)
	require.Len(t, dims, 2)
	assert.Equal(t, "batch", string(fields(t, dims[0])[2][0]))
	assert.NotContains(t, fields(t, dims[1]), protowire.Number(2))
}

func TestMarshalUnbatched(t *testing.T) {
	c := Iris()
	c.Unbatched = true
	b, err := c.Marshal()
	require.NoError(t, err)

	assert.Len(t, inputDims(t, b), 1)

	graph := fields(t, fields(t, b)[7][0])
	require.Len(t, graph[1], 3)
	assert.Equal(t, "MatMul", string(fields(t, graph[1][0])[4][0]))
	assert.Equal(t, "Add", string(fields(t, graph[1][1])[4][0]))
}

func TestWithFeatures(t *testing.T) {
	c := Iris().WithFeatures(5)
	require.Len(t, c.Weights, 5)
	assert.Equal(t, []float32{0, 0, 0}, c.Weights[4])
	assert.Equal(t, Iris().Weights[2], c.Weights[2])
	assert.Len(t, Iris().Weights, 4, "original is untouched")
}

func TestMarshalRejectsRaggedWeights(t *testing.T) {
	c := Iris()
	c.Weights[1] = []float32{1}
	_, err := c.Marshal()
	assert.Error(t, err)

	_, err = Classifier{}.Marshal()
	assert.Error(t, err)
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.onnx")
	require.NoError(t, Iris().WriteFile(path))

	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotEmpty(t, b)
}
