package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"ckdrisk/db"
	"ckdrisk/ml"
	"ckdrisk/monitoring"
	"ckdrisk/predict"
)

type fixedModel struct {
	label int
	proba []float64
}

func (f *fixedModel) Predict(features []float64) (int, error)           { return f.label, nil }
func (f *fixedModel) PredictProba(features []float64) ([]float64, error) { return f.proba, nil }
func (f *fixedModel) Classes() []int                                     { return []int{0, 1} }
func (f *fixedModel) Info() ml.ModelInfo {
	return ml.ModelInfo{Type: "fixed", Classes: []int{0, 1}, NFeatures: 24, Trees: 1}
}

type stubModels struct {
	model ml.Classifier
}

func (s stubModels) Get(path string) (ml.Classifier, error) { return s.model, nil }
func (s stubModels) Loaded(path string) bool                 { return true }

type testEnv struct {
	handler http.Handler
	store   *db.Store
	metrics *monitoring.Metrics
	hub     *monitoring.Hub
}

func newTestEnv(t *testing.T, models predict.ModelSource, imageDir string) *testEnv {
	t.Helper()
	store, err := db.Open(filepath.Join(t.TempDir(), "predictions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	metrics := monitoring.NewMetrics()
	hub := monitoring.NewHub(nil)
	svc, err := predict.NewService(predict.Options{
		Models:  models,
		Paths:   map[string]string{"full": "random_forest.json", "top10": "random_forest10.json"},
		History: store,
		Events:  hub,
		Metrics: metrics,
	})
	require.NoError(t, err)

	if imageDir == "" {
		imageDir = t.TempDir()
	}
	handler, err := NewHandler(DefaultServerConfig(), Deps{
		Predictor: svc,
		History:   store,
		Metrics:   metrics,
		Hub:       hub,
		Assets:    Assets{ImageDir: imageDir, HeaderImage: "gambar_ginjal.png", HomeImage: "Ginjal.png"},
	})
	require.NoError(t, err)
	return &testEnv{handler: handler, store: store, metrics: metrics, hub: hub}
}

func highRiskEnv(t *testing.T) *testEnv {
	return newTestEnv(t, stubModels{model: &fixedModel{label: 0, proba: []float64{0.975, 0.025}}}, "")
}

func missingModelEnv(t *testing.T) *testEnv {
	t.Helper()
	registry, err := ml.NewRegistry(2, nil)
	require.NoError(t, err)
	missing := filepath.Join(t.TempDir(), "model")
	return newTestEnv(t, pathRewriter{registry: registry, dir: missing}, "")
}

// pathRewriter resolves configured artifact names inside dir.
type pathRewriter struct {
	registry *ml.Registry
	dir      string
}

func (p pathRewriter) Get(path string) (ml.Classifier, error) {
	return p.registry.Get(filepath.Join(p.dir, path))
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealthHandler(t *testing.T) {
	env := highRiskEnv(t)
	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/health", nil))

	if status := rr.Code; status != http.StatusOK {
		t.Errorf("handler returned wrong status code: got %v want %v", status, http.StatusOK)
	}
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
}

func TestPredictAPI(t *testing.T) {
	env := highRiskEnv(t)
	body := `{"values":{"age":61,"bp":"90","htn":"Ya","sc":"3,5"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/variants/full/predict", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", "req-42")
	rr := serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, float64(0), payload["label"])
	assert.Equal(t, true, payload["high_risk"])
	assert.Equal(t, "97.5", payload["confidence_text"])
	assert.Equal(t, "Tingkat Keyakinan Model: 97.5%", payload["confidence_line"])
	assert.Equal(t, "Rekomendasi: Segera konsultasi dengan dokter spesialis ginjal", payload["advice"])
	features := payload["features"].(map[string]interface{})
	assert.Equal(t, 3.5, features["sc"])

	stored, err := env.store.RecentPredictions(context.Background(), "full", 10)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "req-42", stored[0].RequestID)
	assert.Equal(t, payload["id"], stored[0].ID)
}

// knownModels serves a model only for the configured artifact names.
type knownModels map[string]ml.Classifier

func (k knownModels) Get(path string) (ml.Classifier, error) {
	if m, ok := k[path]; ok {
		return m, nil
	}
	return nil, fmt.Errorf("%w: %s", ml.ErrModelNotFound, path)
}

func TestPredictAPIVariantCase(t *testing.T) {
	model := &fixedModel{label: 0, proba: []float64{0.9, 0.1}}
	env := newTestEnv(t, knownModels{"random_forest.json": model, "random_forest10.json": model}, "")

	for _, name := range []string{"full", "FULL", "Full"} {
		rr := serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/"+name+"/predict", strings.NewReader(`{"values":{}}`)))
		require.Equal(t, http.StatusOK, rr.Code, "%s: %s", name, rr.Body.String())

		var payload map[string]interface{}
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
		assert.Equal(t, "full", payload["variant"], name)
		assert.Equal(t, "🛑 Resiko Tinggi: Kemungkinan gangguan ginjal terdeteksi", payload["message"], name)
	}
	assert.Equal(t, int64(3), env.metrics.Snapshot().Predictions["full"].HighRisk)
}

func TestPredictAPIEnglish(t *testing.T) {
	env := newTestEnv(t, stubModels{model: &fixedModel{label: 1, proba: []float64{0.3, 0.7}}}, "")
	req := httptest.NewRequest(http.MethodPost, "/api/variants/top10/predict?lang=en", strings.NewReader(`{"values":{}}`))
	rr := serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, "✅ Negative Result: no chronic kidney disease detected", payload["message"])
	assert.Equal(t, "Model Confidence: 30.0%", payload["confidence_line"])
	assert.NotContains(t, payload, "advice")
}

func TestPredictAPIFormEncoded(t *testing.T) {
	env := highRiskEnv(t)
	form := url.Values{"hemo": {"9.5"}, "sg": {"1.010"}}
	req := httptest.NewRequest(http.MethodPost, "/api/variants/top10/predict", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var payload struct {
		Features map[string]float64 `json:"features"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Equal(t, 9.5, payload.Features["hemo"])
	assert.Equal(t, 1.010, payload.Features["sg"])
	assert.Equal(t, 40.0, payload.Features["pcv"])
}

func TestPredictAPIErrors(t *testing.T) {
	env := highRiskEnv(t)

	rr := serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/full/predict",
		strings.NewReader(`{"values":{"age":"500","htn":"mungkin"}}`)))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	var payload struct {
		Error  string            `json:"error"`
		Fields map[string]string `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &payload))
	assert.Contains(t, payload.Fields, "age")
	assert.Contains(t, payload.Fields, "htn")

	rr = serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/full/predict", strings.NewReader(`{"values":`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/full/predict", strings.NewReader(`{"values":{"age":[1]}}`)))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/mini/predict", strings.NewReader(`{}`)))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/variants/full/predict", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestPredictAPIModelMissing(t *testing.T) {
	env := missingModelEnv(t)

	rr := serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/full/predict", strings.NewReader(`{"values":{}}`)))
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.JSONEq(t, `{"error":"Model tidak ditemukan!"}`, rr.Body.String())

	rr = serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/full/predict?lang=en", strings.NewReader(`{"values":{}}`)))
	assert.JSONEq(t, `{"error":"Model not found!"}`, rr.Body.String())

	snap := env.metrics.Snapshot()
	assert.Equal(t, int64(2), snap.Predictions["full"].ModelMissing)
	assert.Equal(t, int64(2), snap.Requests[http.StatusServiceUnavailable])
}

func TestVariantAndFieldEndpoints(t *testing.T) {
	env := highRiskEnv(t)

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/variants", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var variants struct {
		Variants []struct {
			Name        string `json:"name"`
			Fields      int    `json:"fields"`
			ModelPath   string `json:"model_path"`
			ModelLoaded bool   `json:"model_loaded"`
		} `json:"variants"`
		Confidence string `json:"confidence"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &variants))
	require.Len(t, variants.Variants, 2)
	assert.Equal(t, "full", variants.Variants[0].Name)
	assert.Equal(t, 24, variants.Variants[0].Fields)
	assert.Equal(t, "random_forest.json", variants.Variants[0].ModelPath)
	assert.True(t, variants.Variants[0].ModelLoaded)
	assert.Equal(t, 10, variants.Variants[1].Fields)
	assert.Equal(t, "class0", variants.Confidence)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/variants/top10/fields", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var fields struct {
		Fields []struct {
			Key     string `json:"key"`
			Kind    string `json:"kind"`
			Options []struct {
				Label string  `json:"label"`
				Code  float64 `json:"code"`
			} `json:"options"`
		} `json:"fields"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &fields))
	require.Len(t, fields.Fields, 10)
	assert.Equal(t, "hemo", fields.Fields[0].Key)
	assert.Equal(t, "sg", fields.Fields[2].Key)
	assert.Len(t, fields.Fields[2].Options, 5)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/variants/mini/fields", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPredictionsAndMetricsEndpoints(t *testing.T) {
	env := highRiskEnv(t)
	for i := 0; i < 3; i++ {
		rr := serve(env.handler, httptest.NewRequest(http.MethodPost, "/api/variants/top10/predict", strings.NewReader(`{"values":{}}`)))
		require.Equal(t, http.StatusOK, rr.Code)
	}

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=2", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var history struct {
		Count       int             `json:"count"`
		Totals      map[string]int  `json:"totals"`
		Predictions []db.Prediction `json:"predictions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &history))
	assert.Equal(t, 2, history.Count)
	assert.Equal(t, map[string]int{"top10": 3}, history.Totals)
	assert.Equal(t, "top10", history.Predictions[0].Variant)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/predictions?limit=abc", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var metrics struct {
		Metrics monitoring.Snapshot `json:"metrics"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &metrics))
	assert.Equal(t, int64(3), metrics.Metrics.Predictions["top10"].HighRisk)
}

func TestHomePage(t *testing.T) {
	env := highRiskEnv(t)
	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "text/html; charset=utf-8", rr.Header().Get("Content-Type"))

	body := rr.Body.String()
	assert.Contains(t, body, "Prediksi Penyakit Ginjal Kronis")
	assert.Contains(t, body, "Model mencapai akurasi 97.5% dengan skor F1 96.55% pada data uji")
	assert.Contains(t, body, "93.33%")
	assert.Contains(t, body, "<li>Volume Sel Darah Merah (PCV)</li>")
	assert.Contains(t, body, "<li>Kreatinin Serum</li>")
	assert.NotContains(t, body, "<li>Hemoglobin (g/dL)</li>")
	assert.Contains(t, body, "Gambar tidak ditemukan!")
	assert.Contains(t, body, "Gambar ginjal tidak ditemukan!")

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/?lang=en", nil))
	assert.Contains(t, rr.Body.String(), "Chronic Kidney Disease Prediction")
	assert.Contains(t, rr.Body.String(), `href="/predict/top10?lang=en"`)
	assert.Contains(t, rr.Body.String(), "<li>Serum Creatinine</li>")

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/unknown", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHomePageImages(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gambar_ginjal.png"), []byte("png"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Ginjal.png"), []byte("png"), 0o644))
	env := newTestEnv(t, stubModels{model: &fixedModel{proba: []float64{1, 0}}}, dir)

	body := serve(env.handler, httptest.NewRequest(http.MethodGet, "/", nil)).Body.String()
	assert.Contains(t, body, `src="/img/gambar_ginjal.png"`)
	assert.Contains(t, body, `src="/img/Ginjal.png"`)
	assert.NotContains(t, body, "Gambar tidak ditemukan!")

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/img/Ginjal.png", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPredictPage(t *testing.T) {
	env := highRiskEnv(t)

	rr := serve(env.handler, httptest.NewRequest(http.MethodGet, "/predict/full", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `name="age"`)
	assert.Contains(t, body, `value="50"`)
	assert.Contains(t, body, "Prediksi Sekarang")

	form := url.Values{"age": {"61"}, "htn": {"Ya"}}
	req := httptest.NewRequest(http.MethodPost, "/predict/full", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code)
	body = rr.Body.String()
	assert.Contains(t, body, "Resiko Tinggi: Kemungkinan gangguan ginjal terdeteksi")
	assert.Contains(t, body, "Tingkat Keyakinan Model: 97.5%")
	assert.Contains(t, body, "Rekomendasi: Segera konsultasi dengan dokter spesialis ginjal")
	assert.Contains(t, body, `value="61"`)

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/predict", nil))
	assert.Equal(t, http.StatusFound, rr.Code)
	assert.Equal(t, "/predict/full", rr.Header().Get("Location"))

	rr = serve(env.handler, httptest.NewRequest(http.MethodGet, "/predict/mini", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPredictPageErrors(t *testing.T) {
	env := missingModelEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/predict/top10", strings.NewReader(""))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Model tidak ditemukan!")

	form := url.Values{"hemo": {"99"}}
	req = httptest.NewRequest(http.MethodPost, "/predict/top10", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = serve(env.handler, req)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Periksa kembali data pasien")
	assert.Contains(t, rr.Body.String(), `class="field-error"`)
}

func TestRecoveryMiddleware(t *testing.T) {
	handler := Chain(RecoveryMiddleware(zap.NewNop()))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := serve(handler, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.JSONEq(t, `{"error":"internal server error"}`, rr.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	handler := CORSMiddleware([]string{"https://clinic.example"})(http.NotFoundHandler())
	req := httptest.NewRequest(http.MethodOptions, "/api/variants/full/predict", nil)
	req.Header.Set("Origin", "https://clinic.example")
	rr := serve(handler, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://clinic.example", rr.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "https://other.example")
	rr = serve(handler, req)
	assert.Empty(t, rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestPredictionFeed(t *testing.T) {
	env := highRiskEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	go env.hub.Run(ctx)
	srv := httptest.NewServer(env.handler)
	defer func() {
		srv.Close()
		cancel()
		<-env.hub.Done()
	}()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/ws/predictions", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.hub.Clients() == 1 }, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Post(srv.URL+"/api/variants/top10/predict", "application/json", strings.NewReader(`{"values":{}}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg monitoring.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, monitoring.PredictionEvent, msg.Type)

	var res predict.Result
	require.NoError(t, json.Unmarshal(msg.Data, &res))
	assert.Equal(t, "top10", res.Variant)
	assert.True(t, res.HighRisk)
}
