package model

import (
	"errors"
	"fmt"
	"io"

	ort "github.com/yalue/onnxruntime_go"
)

var ErrClosed = errors.New("classifier is closed")

// IrisClasses is the label order the bundled Iris models were trained with.
// The model does not carry class names; callers pair them by index.
var IrisClasses = []string{
	"Iris-setosa",
	"Iris-versicolor",
	"Iris-virginica",
}

// Predict evaluates a single sample and returns one probability per class,
// in the order the model emits them.
func (c *Classifier) Predict(sepalLength, sepalWidth, petalLength, petalWidth float32) ([]float32, error) {
	return c.PredictFeatures(NewFeatures(sepalLength, sepalWidth, petalLength, petalWidth))
}

// PredictFeatures runs a batch of one. The input shape is not checked
// against the model; the runtime rejects mismatches during Run.
func (c *Classifier) PredictFeatures(f Features) ([]float32, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.session == nil {
		return nil, ErrClosed
	}

	batch := append([]float32(nil), f[:]...)
	input, err := ort.NewTensor(inputShape(c.inputs[0].Shape, len(batch)), batch)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer input.Destroy()

	// A nil output is allocated by the runtime with the shape it computes.
	outputs := []ort.ArbitraryTensor{nil}
	if err := c.session.Run([]ort.ArbitraryTensor{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	defer func() {
		if outputs[0] != nil {
			outputs[0].Destroy()
		}
	}()

	output, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("output %q is %T, want a float32 tensor", c.outputs[0].Name, outputs[0])
	}
	return firstRow(output.GetShape(), output.GetData()), nil
}

// inputShape fits n values to the declared input shape. A free leading
// dimension of a batched input becomes 1 and one other free dimension takes
// the remaining values. Shapes that cannot hold exactly n values fall back
// to [1, n] so the runtime reports the mismatch.
func inputShape(declared []int64, n int) ort.Shape {
	fallback := ort.NewShape(1, int64(n))
	if len(declared) == 0 {
		return fallback
	}

	shape := make(ort.Shape, len(declared))
	known, free := int64(1), -1
	for i, d := range declared {
		switch {
		case d > 0:
			shape[i] = d
			known *= d
		case i == 0 && len(declared) > 1:
			shape[i] = 1
		case free < 0:
			free = i
		default:
			return fallback
		}
	}
	if free >= 0 {
		if int64(n)%known != 0 {
			return fallback
		}
		shape[free] = int64(n) / known
	}
	if shape.FlattenedSize() != int64(n) {
		return fallback
	}
	return shape
}

// firstRow copies the first item of a batched output out of native memory.
func firstRow(shape ort.Shape, data []float32) []float32 {
	n := len(data)
	if len(shape) > 1 && shape[0] > 1 {
		n = len(data) / int(shape[0])
	}
	row := make([]float32, n)
	copy(row, data[:n])
	return row
}

// Argmax returns the index of the largest probability, or -1 for an empty vector.
func Argmax(probabilities []float32) int {
	if len(probabilities) == 0 {
		return -1
	}
	maxIdx := 0
	for i, p := range probabilities {
		if p > probabilities[maxIdx] {
			maxIdx = i
		}
	}
	return maxIdx
}

func NewPrediction(classes []string, probabilities []float32) (*PredictionResponse, error) {
	if len(probabilities) < len(classes) || len(classes) == 0 {
		return nil, fmt.Errorf("model returned %d probabilities for %d classes", len(probabilities), len(classes))
	}
	probabilities = probabilities[:len(classes)]

	predictions := make(map[string]float32, len(classes))
	for i, class := range classes {
		predictions[class] = probabilities[i]
	}
	maxIdx := Argmax(probabilities)

	return &PredictionResponse{
		Class:       classes[maxIdx],
		Confidence:  probabilities[maxIdx],
		Predictions: predictions,
	}, nil
}

// WriteProbabilities prints one "<class>: <probability>" line per class name.
func WriteProbabilities(w io.Writer, classes []string, probabilities []float32) error {
	if len(probabilities) < len(classes) {
		return fmt.Errorf("model returned %d probabilities for %d classes", len(probabilities), len(classes))
	}
	for i, class := range classes {
		if _, err := fmt.Fprintf(w, "%s: %f\n", class, probabilities[i]); err != nil {
			return err
		}
	}
	return nil
}
