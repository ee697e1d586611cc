package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"ckdrisk/form"
	"ckdrisk/i18n"
	"ckdrisk/ml"
	"ckdrisk/predict"
)

type apiHandlers struct {
	deps Deps
}

func (h *apiHandlers) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/variants", h.handleVariants)
	mux.HandleFunc("GET /api/variants/{variant}/fields", h.handleFields)
	mux.HandleFunc("POST /api/variants/{variant}/predict", h.handlePredict)
	mux.HandleFunc("GET /api/predictions", h.handlePredictions)
	mux.HandleFunc("GET /api/metrics", h.handleMetrics)
	if h.deps.Hub != nil {
		mux.HandleFunc("GET /api/ws/predictions", h.deps.Hub.HandleWebSocket)
	}
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func (h *apiHandlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type variantInfo struct {
	Name        string        `json:"name"`
	Title       string        `json:"title"`
	Fields      int           `json:"fields"`
	ModelPath   string        `json:"model_path,omitempty"`
	ModelLoaded bool          `json:"model_loaded"`
	Model       *ml.ModelInfo `json:"model,omitempty"`
}

func (h *apiHandlers) handleVariants(w http.ResponseWriter, r *http.Request) {
	var out []variantInfo
	for _, name := range form.Names() {
		v, _ := form.Lookup(name)
		info := variantInfo{Name: v.Name, Title: v.Title, Fields: len(v.Fields)}
		info.ModelPath, _ = h.deps.Predictor.ModelPath(name)
		if h.deps.Predictor.Loaded(name) {
			info.ModelLoaded = true
			if model, err := h.deps.Predictor.Model(name); err == nil {
				mi := model.Info()
				info.Model = &mi
			}
		}
		out = append(out, info)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"variants":   out,
		"confidence": h.deps.Predictor.Mode(),
	})
}

func (h *apiHandlers) handleFields(w http.ResponseWriter, r *http.Request) {
	v, ok := form.Lookup(r.PathValue("variant"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown variant")
		return
	}
	respondJSON(w, http.StatusOK, v)
}

type predictRequest struct {
	Values map[string]interface{} `json:"values"`
}

type predictResponse struct {
	predict.Result
	Message        string `json:"message"`
	Advice         string `json:"advice,omitempty"`
	ConfidenceLine string `json:"confidence_line"`
}

func (h *apiHandlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	v, ok := form.Lookup(r.PathValue("variant"))
	if !ok {
		respondError(w, http.StatusNotFound, "unknown variant")
		return
	}
	values, err := decodeValues(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	printer := i18n.Printer(i18n.Match(r.URL.Query().Get("lang"), r.Header.Get("Accept-Language"), h.deps.Language))
	res, err := h.deps.Predictor.Predict(r.Context(), v.Name, values, GetRequestID(r.Context()))
	if err != nil {
		body := map[string]interface{}{"error": predict.ErrorMessage(printer, err)}
		var fieldErrs form.FieldErrors
		switch {
		case errors.As(err, &fieldErrs):
			body["fields"] = fieldErrs
			respondJSON(w, http.StatusBadRequest, body)
		case errors.Is(err, ml.ErrModelNotFound):
			respondJSON(w, http.StatusServiceUnavailable, body)
		default:
			respondJSON(w, http.StatusInternalServerError, body)
		}
		return
	}

	respondJSON(w, http.StatusOK, predictResponse{
		Result:         res,
		Message:        res.Message(printer),
		Advice:         res.Advice(printer),
		ConfidenceLine: res.ConfidenceLine(printer),
	})
}

// decodeValues accepts a JSON body {"values": {...}} or a form-encoded body.
func decodeValues(r *http.Request) (map[string]string, error) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			return nil, fmt.Errorf("invalid form body: %w", err)
		}
		values := make(map[string]string, len(r.PostForm))
		for key := range r.PostForm {
			values[key] = r.PostForm.Get(key)
		}
		return values, nil
	}

	var req predictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}
	values := make(map[string]string, len(req.Values))
	for key, raw := range req.Values {
		switch v := raw.(type) {
		case string:
			values[key] = v
		case float64:
			values[key] = strconv.FormatFloat(v, 'f', -1, 64)
		case nil:
		default:
			return nil, fmt.Errorf("value of %s must be a string or a number", key)
		}
	}
	return values, nil
}

func (h *apiHandlers) handlePredictions(w http.ResponseWriter, r *http.Request) {
	if h.deps.History == nil {
		respondError(w, http.StatusServiceUnavailable, "prediction history is disabled")
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		l, err := strconv.Atoi(raw)
		if err != nil || l <= 0 || l > 1000 {
			respondError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = l
	}
	variant := r.URL.Query().Get("variant")

	predictions, err := h.deps.History.RecentPredictions(r.Context(), variant, limit)
	if err != nil {
		h.deps.Logger.Error("query predictions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query predictions failed")
		return
	}
	totals, err := h.deps.History.CountByVariant(r.Context())
	if err != nil {
		h.deps.Logger.Error("count predictions failed", zap.Error(err))
		respondError(w, http.StatusInternalServerError, "query predictions failed")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"count":       len(predictions),
		"totals":      totals,
		"predictions": predictions,
	})
}

func (h *apiHandlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.deps.Metrics == nil {
		respondError(w, http.StatusServiceUnavailable, "metrics are disabled")
		return
	}
	body := map[string]interface{}{"metrics": h.deps.Metrics.Snapshot()}
	if h.deps.Hub != nil {
		body["websocket_clients"] = h.deps.Hub.Clients()
	}
	respondJSON(w, http.StatusOK, body)
}
