// Package i18n holds the user-facing strings in Indonesian (default) and English.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	Title            = "title"
	MenuHome         = "menu.home"
	MenuPredict      = "menu.predict"
	AboutHeading     = "about.heading"
	AboutText        = "about.text"
	FeaturesHeading  = "features.heading"
	FeaturesText     = "features.text"
	AccuracyHeading  = "accuracy.heading"
	AccuracyText     = "accuracy.text"
	MetricHeading    = "metric.heading"
	ValueHeading     = "value.heading"
	InputHeading     = "input.heading"
	InputIntro       = "input.intro"
	PredictButton    = "predict.button"
	ResultHeading    = "result.heading"
	Confidence       = "result.confidence"
	ModelNotFound    = "error.model_not_found"
	PredictionFailed = "error.prediction"
	InvalidInput     = "error.invalid_input"
	ImageNotFound    = "warning.image"
	HomeImageMissing = "warning.home_image"
	MenuMain         = "menu.main"
	MetricAccuracy   = "metric.accuracy"
	MetricPrecision  = "metric.precision"
	MetricRecall     = "metric.recall"
	MetricF1         = "metric.f1"
)

// ResultKey names the outcome message of a variant; highRisk selects the branch.
func ResultKey(variant string, highRisk bool) string {
	if highRisk {
		return "result." + variant + ".high"
	}
	return "result." + variant + ".normal"
}

// FeatureKey names the display name of a form field on the home page.
func FeatureKey(field string) string {
	return "feature." + field
}

// AdviceKey names the recommendation line shown under a result.
func AdviceKey(variant string, highRisk bool) string {
	return ResultKey(variant, highRisk) + ".advice"
}

var (
	Indonesian = language.Indonesian
	English    = language.English

	matcher = language.NewMatcher([]language.Tag{Indonesian, English})
)

var catalog = map[string][2]string{
	Title:            {"Prediksi Penyakit Ginjal Kronis", "Chronic Kidney Disease Prediction"},
	MenuHome:         {"Beranda", "Home"},
	MenuPredict:      {"Prediksi", "Prediction"},
	AboutHeading:     {"Tentang Aplikasi", "About"},
	AboutText:        {"Aplikasi ini menggunakan model machine learning (Random Forest) untuk memprediksi risiko penyakit ginjal kronis berdasarkan parameter klinis pasien.", "This application uses a machine learning model (Random Forest) to predict the risk of chronic kidney disease from a patient's clinical parameters."},
	FeaturesHeading:  {"Fitur Penting", "Important Features"},
	FeaturesText:     {"5 fitur utama yang paling berpengaruh dalam prediksi:", "The 5 features with the most influence on the prediction:"},
	AccuracyHeading:  {"Akurasi Model", "Model Accuracy"},
	AccuracyText:     {"Model mencapai akurasi %s dengan skor F1 %s pada data uji", "The model reaches %s accuracy with an F1 score of %s on the test data"},
	MetricHeading:    {"Metrik", "Metric"},
	ValueHeading:     {"Nilai", "Value"},
	InputHeading:     {"Masukkan Data Pasien", "Enter Patient Data"},
	InputIntro:       {"Masukkan data pasien untuk memprediksi risiko penyakit ginjal kronis.", "Enter the patient's data to predict the risk of chronic kidney disease."},
	PredictButton:    {"Prediksi Sekarang", "Predict Now"},
	ResultHeading:    {"Hasil Prediksi", "Prediction Result"},
	Confidence:       {"Tingkat Keyakinan Model: %s%%", "Model Confidence: %s%%"},
	ModelNotFound:    {"Model tidak ditemukan!", "Model not found!"},
	PredictionFailed: {"Terjadi kesalahan dalam prediksi: %s", "An error occurred during prediction: %s"},
	InvalidInput:     {"Periksa kembali data pasien: %s", "Please check the patient data: %s"},
	ImageNotFound:    {"Gambar tidak ditemukan!", "Image not found!"},
	HomeImageMissing: {"Gambar ginjal tidak ditemukan!", "Kidney image not found!"},
	MenuMain:         {"Menu Utama", "Main Menu"},
	MetricAccuracy:   {"Akurasi", "Accuracy"},
	MetricPrecision:  {"Presisi", "Precision"},
	MetricRecall:     {"Recall", "Recall"},
	MetricF1:         {"F1-Score", "F1-Score"},

	"feature.hemo": {"Hemoglobin", "Hemoglobin"},
	"feature.pcv":  {"Volume Sel Darah Merah (PCV)", "Packed Cell Volume (PCV)"},
	"feature.sc":   {"Kreatinin Serum", "Serum Creatinine"},
	"feature.sg":   {"Gravitasi Spesifik", "Specific Gravity"},
	"feature.rbcc": {"Jumlah Sel Darah Merah", "Red Blood Cell Count"},

	"result.full.high":          {"🛑 Resiko Tinggi: Kemungkinan gangguan ginjal terdeteksi", "🛑 High Risk: possible kidney disorder detected"},
	"result.full.high.advice":   {"Rekomendasi: Segera konsultasi dengan dokter spesialis ginjal", "Recommendation: consult a kidney specialist promptly"},
	"result.full.normal":        {"✅ Hasil Normal: Tidak terdeteksi masalah ginjal", "✅ Normal Result: no kidney problem detected"},
	"result.full.normal.advice": {"Saran: Pertahankan pola hidup sehat dan cek rutin", "Advice: keep a healthy lifestyle and get regular check-ups"},
	"result.top10.high":         {"🛑 Hasil Positif: Terdeteksi Penyakit Ginjal Kronis", "🛑 Positive Result: chronic kidney disease detected"},
	"result.top10.normal":       {"✅ Hasil Negatif: Tidak Terdeteksi Penyakit Ginjal Kronis", "✅ Negative Result: no chronic kidney disease detected"},
}

func init() {
	for key, texts := range catalog {
		if err := message.SetString(Indonesian, key, texts[0]); err != nil {
			panic(err)
		}
		if err := message.SetString(English, key, texts[1]); err != nil {
			panic(err)
		}
	}
}

// Has reports whether key exists in the catalog.
func Has(key string) bool {
	_, ok := catalog[key]
	return ok
}

// Match picks a supported language from an explicit choice, then Accept-Language,
// falling back to fallback.
func Match(explicit, acceptLanguage string, fallback language.Tag) language.Tag {
	if explicit != "" {
		if tag, err := language.Parse(strings.TrimSpace(explicit)); err == nil {
			matched, _, conf := matcher.Match(tag)
			if conf != language.No {
				return base(matched)
			}
		}
	}
	if acceptLanguage != "" {
		if tags, _, err := language.ParseAcceptLanguage(acceptLanguage); err == nil && len(tags) > 0 {
			matched, _, conf := matcher.Match(tags...)
			if conf != language.No {
				return base(matched)
			}
		}
	}
	return fallback
}

// base strips the -u-rg extensions the matcher may attach.
func base(tag language.Tag) language.Tag {
	b, _ := tag.Base()
	switch b.String() {
	case "en":
		return English
	default:
		return Indonesian
	}
}

// Parse maps a config value like "id" or "en" to a supported tag.
func Parse(lang string) language.Tag {
	return Match(lang, "", Indonesian)
}

// Printer returns a message printer for tag.
func Printer(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}
