package model

// Features is a single Iris sample in the order the model was trained on:
// sepal length, sepal width, petal length, petal width.
type Features [4]float32

func NewFeatures(sepalLength, sepalWidth, petalLength, petalWidth float32) Features {
	return Features{sepalLength, sepalWidth, petalLength, petalWidth}
}

// Slot describes a named input or output position of the loaded graph.
type Slot struct {
	Name        string  `json:"name"`
	Kind        string  `json:"kind"`
	ElementType string  `json:"element_type"`
	Shape       []int64 `json:"shape"`
}

type PredictionRequest struct {
	SepalLength float32 `json:"sepal_length"`
	SepalWidth  float32 `json:"sepal_width"`
	PetalLength float32 `json:"petal_length"`
	PetalWidth  float32 `json:"petal_width"`
}

func (r PredictionRequest) Features() Features {
	return NewFeatures(r.SepalLength, r.SepalWidth, r.PetalLength, r.PetalWidth)
}

type PredictionResponse struct {
	Class       string             `json:"class"`
	Confidence  float32            `json:"confidence"`
	Predictions map[string]float32 `json:"predictions"`
}

type ScoreResponse struct {
	Scores []float32 `json:"scores"`
}

type ModelInfo struct {
	Inputs  []Slot   `json:"inputs"`
	Outputs []Slot   `json:"outputs"`
	Device  Device   `json:"device"`
	Classes []string `json:"classes"`
}
