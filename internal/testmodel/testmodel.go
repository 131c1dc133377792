// Package testmodel writes small ONNX softmax classifiers so runtime tests
// can exercise a real graph without a checked-in artifact.
//
// The graph is Softmax(Gemm(input, weights, bias)) with a single float input
// of shape [1, features] and a single float output of shape [1, classes].
// DynamicBatch leaves the leading dimension symbolic; Unbatched drops it and
// uses MatMul and Add instead of Gemm.
package testmodel

import (
	"fmt"
	"math"
	"os"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	irVersion = 7
	opset     = 13

	elemFloat = 1 // TensorProto.FLOAT
	attrInt   = 2 // AttributeProto.INT

	// symbolicDim marks a dimension written as dim_param "batch".
	symbolicDim = -1
)

type Classifier struct {
	InputName  string
	OutputName string

	// Weights is indexed [feature][class].
	Weights [][]float32
	Bias    []float32

	// DynamicBatch declares the batch dimension as the symbolic "batch".
	DynamicBatch bool
	// Unbatched declares rank-1 input [features] and output [classes].
	Unbatched bool
}

// Iris returns a linear classifier that separates the three Iris species
// mostly on petal measurements.
func Iris() Classifier {
	return Classifier{
		InputName:  "features",
		OutputName: "probabilities",
		Weights: [][]float32{
			{0.1, 0.1, 0.0},
			{0.3, -0.2, -0.2},
			{-2.5, 0.3, 1.8},
			{-1.0, -0.5, 2.0},
		},
		Bias: []float32{6.0, 1.0, -9.0},
	}
}

// WithFeatures returns a copy whose input takes n features; extra weight rows
// are zero.
func (c Classifier) WithFeatures(n int) Classifier {
	classes := len(c.Bias)
	weights := make([][]float32, n)
	for i := range weights {
		weights[i] = make([]float32, classes)
		if i < len(c.Weights) {
			copy(weights[i], c.Weights[i])
		}
	}
	c.Weights = weights
	return c
}

func (c Classifier) validate() error {
	if len(c.Weights) == 0 || len(c.Bias) == 0 {
		return fmt.Errorf("classifier needs weights and bias")
	}
	for i, row := range c.Weights {
		if len(row) != len(c.Bias) {
			return fmt.Errorf("weight row %d has %d classes, bias has %d", i, len(row), len(c.Bias))
		}
	}
	return nil
}

// Marshal encodes the classifier as a serialized ModelProto.
func (c Classifier) Marshal() ([]byte, error) {
	if err := c.validate(); err != nil {
		return nil, err
	}
	features, classes := int64(len(c.Weights)), int64(len(c.Bias))

	weights := make([]float32, 0, features*classes)
	for _, row := range c.Weights {
		weights = append(weights, row...)
	}

	var graph []byte
	inputDims, outputDims := []int64{1, features}, []int64{1, classes}
	switch {
	case c.Unbatched:
		inputDims, outputDims = []int64{features}, []int64{classes}
		graph = appendMessage(graph, 1, node("matmul", "MatMul", []string{c.InputName, "W"}, []string{"product"}, nil))
		graph = appendMessage(graph, 1, node("add", "Add", []string{"product", "B"}, []string{"logits"}, nil))
		graph = appendMessage(graph, 1, node("softmax", "Softmax", []string{"logits"}, []string{c.OutputName},
			[][]byte{intAttribute("axis", 0)}))
	default:
		if c.DynamicBatch {
			inputDims[0], outputDims[0] = symbolicDim, symbolicDim
		}
		graph = appendMessage(graph, 1, node("gemm", "Gemm", []string{c.InputName, "W", "B"}, []string{"logits"}, nil))
		graph = appendMessage(graph, 1, node("softmax", "Softmax", []string{"logits"}, []string{c.OutputName},
			[][]byte{intAttribute("axis", 1)}))
	}
	graph = appendString(graph, 2, "classifier")
	graph = appendMessage(graph, 5, floatTensor("W", []int64{features, classes}, weights))
	graph = appendMessage(graph, 5, floatTensor("B", []int64{classes}, c.Bias))
	graph = appendMessage(graph, 11, valueInfo(c.InputName, inputDims))
	graph = appendMessage(graph, 12, valueInfo(c.OutputName, outputDims))

	var opsetID []byte
	opsetID = appendString(opsetID, 1, "")
	opsetID = appendVarint(opsetID, 2, opset)

	var model []byte
	model = appendVarint(model, 1, irVersion)
	model = appendString(model, 2, "iris-classifier-testmodel")
	model = appendMessage(model, 7, graph)
	model = appendMessage(model, 8, opsetID)
	return model, nil
}

func (c Classifier) WriteFile(path string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return os.WriteFile(path, b, 0644)
}

func node(name, opType string, inputs, outputs []string, attributes [][]byte) []byte {
	var b []byte
	for _, in := range inputs {
		b = appendString(b, 1, in)
	}
	for _, out := range outputs {
		b = appendString(b, 2, out)
	}
	b = appendString(b, 3, name)
	b = appendString(b, 4, opType)
	for _, attr := range attributes {
		b = appendMessage(b, 5, attr)
	}
	return b
}

func intAttribute(name string, v int64) []byte {
	var b []byte
	b = appendString(b, 1, name)
	b = appendVarint(b, 3, uint64(v))
	b = appendVarint(b, 20, attrInt)
	return b
}

func floatTensor(name string, dims []int64, data []float32) []byte {
	var b []byte
	for _, d := range dims {
		b = appendVarint(b, 1, uint64(d))
	}
	b = appendVarint(b, 2, elemFloat)

	var packed []byte
	for _, v := range data {
		packed = protowire.AppendFixed32(packed, math.Float32bits(v))
	}
	b = appendMessage(b, 4, packed)
	b = appendString(b, 8, name)
	return b
}

func valueInfo(name string, dims []int64) []byte {
	var shape []byte
	for _, d := range dims {
		var dim []byte
		if d == symbolicDim {
			dim = appendString(dim, 2, "batch")
		} else {
			dim = appendVarint(dim, 1, uint64(d))
		}
		shape = appendMessage(shape, 1, dim)
	}

	var tensorType []byte
	tensorType = appendVarint(tensorType, 1, elemFloat)
	tensorType = appendMessage(tensorType, 2, shape)

	var typ []byte
	typ = appendMessage(typ, 1, tensorType)

	var b []byte
	b = appendString(b, 1, name)
	b = appendMessage(b, 2, typ)
	return b
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, s string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, s)
}

func appendMessage(b []byte, num protowire.Number, m []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}
