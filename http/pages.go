package http

import (
	"bytes"
	"embed"
	"errors"
	"html/template"
	"math"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/text/message"

	"ckdrisk/form"
	"ckdrisk/i18n"
	"ckdrisk/ml"
	"ckdrisk/predict"
)

//go:embed templates/*.html
var templatesFS embed.FS

// importantFeatures are the five most influential inputs shown on the home page.
var importantFeatures = []string{"hemo", "pcv", "sc", "sg", "rbcc"}

// referenceMetrics are shown until a loaded artifact carries its own evaluation.
var referenceMetrics = ml.Metrics{Accuracy: 0.975, Precision: 1, Recall: 0.9333, F1: 0.9655}

type pages struct {
	deps      Deps
	templates map[string]*template.Template
}

func newPages(deps Deps) (*pages, error) {
	p := &pages{deps: deps, templates: make(map[string]*template.Template)}
	for _, name := range []string{"home.html", "predict.html"} {
		tmpl, err := template.ParseFS(templatesFS, "templates/layout.html", "templates/"+name)
		if err != nil {
			return nil, err
		}
		p.templates[name] = tmpl
	}
	return p, nil
}

func (p *pages) register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", p.handleHome)
	mux.HandleFunc("GET /predict", p.handlePredictRedirect)
	mux.HandleFunc("GET /predict/{variant}", p.handlePredictForm)
	mux.HandleFunc("POST /predict/{variant}", p.handlePredictSubmit)
	mux.Handle("GET /img/", http.StripPrefix("/img/", http.FileServer(http.Dir(p.deps.Assets.ImageDir))))
}

// page carries what the layout needs on every request.
type page struct {
	printer *message.Printer

	Lang        string
	Active      string
	Variants    []*form.Variant
	HeaderImage string
}

// T translates key for the page language.
func (pg *page) T(key string, args ...interface{}) string {
	return pg.printer.Sprintf(key, args...)
}

// Link keeps a non-default language choice on internal links.
func (pg *page) Link(path string) string {
	if pg.Lang == "" {
		return path
	}
	return path + "?" + url.Values{"lang": {pg.Lang}}.Encode()
}

type metricRow struct {
	Key   string
	Value string
}

type homePage struct {
	*page
	Features  []string
	Metrics   []metricRow
	Accuracy  string
	F1        string
	HomeImage string
}

type resultView struct {
	HighRisk       bool
	Message        string
	Advice         string
	ConfidenceLine string
}

type predictPage struct {
	*page
	Variant *form.Variant
	Values  map[string]string
	Errors  form.FieldErrors
	Result  *resultView
	Error   string
}

func (p *pages) newPage(r *http.Request, active string) *page {
	explicit := r.URL.Query().Get("lang")
	tag := i18n.Match(explicit, r.Header.Get("Accept-Language"), p.deps.Language)
	pg := &page{
		printer: i18n.Printer(tag),
		Active:  active,
	}
	if explicit != "" {
		base, _ := tag.Base()
		pg.Lang = base.String()
	}
	for _, name := range form.Names() {
		v, _ := form.Lookup(name)
		pg.Variants = append(pg.Variants, v)
	}
	pg.HeaderImage = p.imageURL(p.deps.Assets.HeaderImage)
	return pg
}

// imageURL returns the served path of an asset, or "" when the file is missing.
func (p *pages) imageURL(name string) string {
	if name == "" {
		return ""
	}
	info, err := os.Stat(filepath.Join(p.deps.Assets.ImageDir, name))
	if err != nil || info.IsDir() {
		return ""
	}
	return "/img/" + url.PathEscape(name)
}

func (p *pages) handleHome(w http.ResponseWriter, r *http.Request) {
	pg := p.newPage(r, "home")
	m := p.metrics()

	data := &homePage{
		page:      pg,
		Accuracy:  formatRatio(m.Accuracy),
		F1:        formatRatio(m.F1),
		HomeImage: p.imageURL(p.deps.Assets.HomeImage),
		Metrics: []metricRow{
			{Key: i18n.MetricAccuracy, Value: formatRatio(m.Accuracy)},
			{Key: i18n.MetricPrecision, Value: formatRatio(m.Precision)},
			{Key: i18n.MetricRecall, Value: formatRatio(m.Recall)},
			{Key: i18n.MetricF1, Value: formatRatio(m.F1)},
		},
	}
	for _, key := range importantFeatures {
		data.Features = append(data.Features, data.T(i18n.FeatureKey(key)))
	}
	p.render(w, r, "home.html", http.StatusOK, data)
}

// metrics prefers the evaluation stored in an already loaded full model.
func (p *pages) metrics() ml.Metrics {
	if !p.deps.Predictor.Loaded(form.VariantFull) {
		return referenceMetrics
	}
	model, err := p.deps.Predictor.Model(form.VariantFull)
	if err != nil {
		return referenceMetrics
	}
	if m := model.Info().Metrics; m != nil {
		return *m
	}
	return referenceMetrics
}

func (p *pages) handlePredictRedirect(w http.ResponseWriter, r *http.Request) {
	target := "/predict/" + form.VariantFull
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (p *pages) handlePredictForm(w http.ResponseWriter, r *http.Request) {
	v, ok := form.Lookup(r.PathValue("variant"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	data := &predictPage{
		page:    p.newPage(r, v.Name),
		Variant: v,
		Values:  v.Defaults(),
	}
	p.render(w, r, "predict.html", http.StatusOK, data)
}

func (p *pages) handlePredictSubmit(w http.ResponseWriter, r *http.Request) {
	v, ok := form.Lookup(r.PathValue("variant"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form body", http.StatusBadRequest)
		return
	}

	values := v.Defaults()
	for _, f := range v.Fields {
		if _, present := r.PostForm[f.Key]; present {
			values[f.Key] = r.PostForm.Get(f.Key)
		}
	}

	data := &predictPage{
		page:    p.newPage(r, v.Name),
		Variant: v,
		Values:  values,
	}

	// The page itself renders with 200 whatever the outcome; the result area carries it.
	res, err := p.deps.Predictor.Predict(r.Context(), v.Name, values, GetRequestID(r.Context()))
	if err != nil {
		var fieldErrs form.FieldErrors
		if errors.As(err, &fieldErrs) {
			data.Errors = fieldErrs
		}
		data.Error = predict.ErrorMessage(data.printer, err)
	} else {
		data.Result = &resultView{
			HighRisk:       res.HighRisk,
			Message:        res.Message(data.printer),
			Advice:         res.Advice(data.printer),
			ConfidenceLine: res.ConfidenceLine(data.printer),
		}
	}
	p.render(w, r, "predict.html", http.StatusOK, data)
}

func (p *pages) render(w http.ResponseWriter, r *http.Request, name string, status int, data interface{}) {
	var buf bytes.Buffer
	if err := p.templates[name].ExecuteTemplate(&buf, "layout", data); err != nil {
		p.deps.Logger.Error("render page failed",
			zap.String("template", name),
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// formatRatio renders 0.9333 as "93.33%".
func formatRatio(v float64) string {
	return strconv.FormatFloat(math.Round(v*10000)/100, 'f', -1, 64) + "%"
}
