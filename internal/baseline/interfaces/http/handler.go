package baselinehttp

import (
	"encoding/json"
	"log"
	"net/http"

	baselineapp "piam-analytics/internal/baseline/application"
)

// RecomputeHandler serves POST /api/v1/baselines/recompute. Recompute is
// a full replace, so triggering it twice is harmless.
type RecomputeHandler struct {
	calculator *baselineapp.Calculator
	logger     *log.Logger
}

// NewRecomputeHandler constructs a RecomputeHandler.
func NewRecomputeHandler(calculator *baselineapp.Calculator, logger *log.Logger) *RecomputeHandler {
	if logger == nil {
		logger = log.Default()
	}
	return &RecomputeHandler{calculator: calculator, logger: logger}
}

func (h *RecomputeHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h == nil || h.calculator == nil {
		http.Error(w, "server not ready", http.StatusServiceUnavailable)
		return
	}

	count, err := h.calculator.Recompute(r.Context())
	if err != nil {
		h.logger.Printf("baseline: recompute trigger: %v", err)
		http.Error(w, "baseline recompute error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Baselines int `json:"baselines"`
	}{Baselines: count})
}
