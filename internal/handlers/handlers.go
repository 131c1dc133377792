package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	lru "github.com/hashicorp/golang-lru"
	"github.com/julienschmidt/httprouter"
	"k8s.io/klog/v2"

	"github.com/Brownie44l1/iris-classifier/internal/model"
)

const maxBodyBytes = 1 << 20

// Classifier is the subset of *model.Classifier the handlers use.
type Classifier interface {
	PredictFeatures(f model.Features) ([]float32, error)
	Inputs() []model.Slot
	Outputs() []model.Slot
	Device() model.Device
}

type Handler struct {
	classifier Classifier
	classes    []string
	// cache maps model.Features to []float32; nil when disabled.
	cache *lru.Cache
}

func NewHandler(classifier Classifier, classes []string, cacheSize int) (*Handler, error) {
	h := &Handler{
		classifier: classifier,
		classes:    classes,
	}
	if cacheSize > 0 {
		cache, err := lru.New(cacheSize)
		if err != nil {
			return nil, fmt.Errorf("creating prediction cache: %w", err)
		}
		h.cache = cache
	}
	return h, nil
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, map[string]string{"status": "healthy"})
}

func (h *Handler) Model(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, model.ModelInfo{
		Inputs:  h.classifier.Inputs(),
		Outputs: h.classifier.Outputs(),
		Device:  h.classifier.Device(),
		Classes: h.classes,
	})
}

// Predict takes named Iris measurements and answers with the most likely class.
func (h *Handler) Predict(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := klog.FromContext(r.Context())

	var req model.PredictionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	probabilities, err := h.predict(req.Features())
	if err != nil {
		log.Error(err, "prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	result, err := model.NewPrediction(h.classes, probabilities)
	if err != nil {
		log.Error(err, "building prediction")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

// Score accepts a batch of feature rows and returns the raw class scores of
// the first row.
func (h *Handler) Score(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	log := klog.FromContext(r.Context())

	var rows [][]float32
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&rows); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if len(rows) == 0 {
		http.Error(w, "Expected at least one row", http.StatusBadRequest)
		return
	}

	var features model.Features
	if len(rows[0]) != len(features) {
		http.Error(w, fmt.Sprintf("Expected %d values, got %d", len(features), len(rows[0])),
			http.StatusBadRequest)
		return
	}
	copy(features[:], rows[0])

	scores, err := h.predict(features)
	if err != nil {
		log.Error(err, "prediction failed")
		http.Error(w, "Prediction failed", http.StatusInternalServerError)
		return
	}

	writeJSON(w, model.ScoreResponse{Scores: scores})
}

func (h *Handler) predict(f model.Features) ([]float32, error) {
	if h.cache != nil {
		if v, ok := h.cache.Get(f); ok {
			return append([]float32(nil), v.([]float32)...), nil
		}
	}

	probabilities, err := h.classifier.PredictFeatures(f)
	if err != nil {
		return nil, err
	}

	if h.cache != nil {
		h.cache.Add(f, append([]float32(nil), probabilities...))
	}
	return probabilities, nil
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		klog.Errorf("writing response: %v", err)
	}
}
