package handlers

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"
	"k8s.io/klog/v2"
)

const requestIDHeader = "X-Request-ID"

// Routes wires the endpoints. CORS is only enabled when origins are given.
func (h *Handler) Routes(corsOrigins []string) http.Handler {
	router := httprouter.New()
	router.GET("/health", h.Health)
	router.GET("/model", h.Model)
	router.POST("/predict", h.Predict)
	router.POST("/score", h.Score)

	var handler http.Handler = withRequestID(router)
	if len(corsOrigins) == 0 {
		return handler
	}
	c := cors.New(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodPost, http.MethodGet},
		AllowedHeaders: []string{"*"},
		MaxAge:         600,
	})
	return c.Handler(handler)
}

// withRequestID tags every request with an ID, echoed in the response and
// attached to the request's logger.
func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)

		log := klog.FromContext(r.Context()).WithValues("requestID", id)
		log.V(4).Info("handling request", "method", r.Method, "path", r.URL.Path)

		next.ServeHTTP(w, r.WithContext(klog.NewContext(r.Context(), log)))
	})
}
