// Package predict runs one patient form through the variant's classifier and
// interprets the outcome.
package predict

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/message"

	"ckdrisk/db"
	"ckdrisk/form"
	"ckdrisk/i18n"
	"ckdrisk/ml"
	"ckdrisk/monitoring"
)

// HighRiskClass is the label the models assign to chronic kidney disease.
const HighRiskClass = 0

// Mode selects which class probability is reported as the confidence.
type Mode string

const (
	// ModeClass0 always reports the probability of HighRiskClass.
	ModeClass0 Mode = "class0"
	// ModePredicted reports the probability of the predicted class.
	ModePredicted Mode = "predicted"
)

// ErrUnknownVariant is returned for a variant name no form defines.
var ErrUnknownVariant = errors.New("unknown variant")

// InferenceError wraps any failure after the model was obtained.
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string { return e.Err.Error() }
func (e *InferenceError) Unwrap() error { return e.Err }

// ModelSource resolves an artifact path to a classifier.
type ModelSource interface {
	Get(path string) (ml.Classifier, error)
}

// History stores finished predictions.
type History interface {
	SavePrediction(ctx context.Context, p db.Prediction) error
}

// Publisher broadcasts prediction events.
type Publisher interface {
	Publish(t monitoring.MessageType, data interface{}) error
}

// Options configures NewService.
type Options struct {
	Models ModelSource
	// Paths maps variant names to artifact paths.
	Paths      map[string]string
	Confidence Mode
	History    History
	Events     Publisher
	Metrics    *monitoring.Metrics
	Logger     *zap.Logger
}

// Service runs predictions for every configured variant.
type Service struct {
	models  ModelSource
	paths   map[string]string
	mode    Mode
	history History
	events  Publisher
	metrics *monitoring.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// Result is the interpreted outcome of one prediction.
type Result struct {
	ID       string             `json:"id"`
	Variant  string             `json:"variant"`
	Label    int                `json:"label"`
	HighRisk bool               `json:"high_risk"`
	Features map[string]float64 `json:"features"`
	// Confidence is a percentage in [0, 100] rounded to one decimal.
	Confidence     float64 `json:"confidence"`
	ConfidenceText string  `json:"confidence_text"`
}

// NewService validates opts and returns a ready Service.
func NewService(opts Options) (*Service, error) {
	if opts.Models == nil {
		return nil, errors.New("predict: model source is required")
	}
	switch opts.Confidence {
	case "":
		opts.Confidence = ModeClass0
	case ModeClass0, ModePredicted:
	default:
		return nil, fmt.Errorf("predict: unknown confidence mode %q", opts.Confidence)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	paths := make(map[string]string, len(opts.Paths))
	for variant, path := range opts.Paths {
		paths[strings.ToLower(variant)] = path
	}
	return &Service{
		models:  opts.Models,
		paths:   paths,
		mode:    opts.Confidence,
		history: opts.History,
		events:  opts.Events,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		now:     time.Now,
	}, nil
}

// ModelPath returns the artifact configured for variant.
func (s *Service) ModelPath(variant string) (string, bool) {
	path, ok := s.paths[strings.ToLower(variant)]
	return path, ok
}

// Mode returns the confidence mode.
func (s *Service) Mode() Mode { return s.mode }

// Loaded reports whether the variant's model is already in memory. It never triggers
// a load.
func (s *Service) Loaded(variant string) bool {
	path, ok := s.ModelPath(variant)
	if !ok {
		return false
	}
	cache, ok := s.models.(interface{ Loaded(path string) bool })
	return ok && cache.Loaded(path)
}

// Model returns the classifier of variant, loading it on first use.
func (s *Service) Model(variant string) (ml.Classifier, error) {
	path, ok := s.ModelPath(variant)
	if !ok {
		return nil, fmt.Errorf("%w: no artifact configured for %s", ml.ErrModelNotFound, variant)
	}
	return s.models.Get(path)
}

// Predict validates values against the variant form, classifies them and records the
// outcome. The returned error is form.ErrValidation, ml.ErrModelNotFound or an
// *InferenceError; the process is never affected.
func (s *Service) Predict(ctx context.Context, variant string, values map[string]string, requestID string) (Result, error) {
	start := s.now()
	v, ok := form.Lookup(variant)
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrUnknownVariant, variant)
	}
	variant = v.Name

	vec, err := v.Parse(values)
	if err != nil {
		s.record(variant, monitoring.OutcomeInvalid, start)
		return Result{}, err
	}

	model, err := s.Model(variant)
	if err != nil {
		if errors.Is(err, ml.ErrModelNotFound) {
			s.record(variant, monitoring.OutcomeModelMissing, start)
			s.logger.Warn("model not found", zap.String("variant", variant), zap.Error(err))
			return Result{}, err
		}
		s.record(variant, monitoring.OutcomeError, start)
		return Result{}, &InferenceError{Err: err}
	}

	label, probability, err := s.classify(model, vec.Values)
	if err != nil {
		s.record(variant, monitoring.OutcomeError, start)
		s.logger.Error("prediction failed", zap.String("variant", variant), zap.String("request_id", requestID), zap.Error(err))
		return Result{}, &InferenceError{Err: err}
	}

	text := FormatPercent(Percent(probability))
	percent, _ := strconv.ParseFloat(text, 64)
	res := Result{
		ID:             uuid.NewString(),
		Variant:        variant,
		Label:          label,
		HighRisk:       label == HighRiskClass,
		Features:       vec.Named,
		Confidence:     percent,
		ConfidenceText: text,
	}

	outcome := monitoring.OutcomeNormal
	if res.HighRisk {
		outcome = monitoring.OutcomeHighRisk
	}
	s.record(variant, outcome, start)
	s.logger.Info("prediction",
		zap.String("variant", variant),
		zap.String("request_id", requestID),
		zap.Int("label", label),
		zap.String("confidence", res.ConfidenceText))

	s.persist(ctx, res, requestID)
	return res, nil
}

// classify runs the model and picks the reported probability. Panics inside the
// model surface as errors.
func (s *Service) classify(model ml.Classifier, features []float64) (label int, probability float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("model panic: %v", r)
		}
	}()

	label, err = model.Predict(features)
	if err != nil {
		return 0, 0, err
	}
	proba, err := model.PredictProba(features)
	if err != nil {
		return 0, 0, err
	}

	class := HighRiskClass
	if s.mode == ModePredicted {
		class = label
	}
	probability, err = ml.ClassProbability(model, proba, class)
	if err != nil {
		return 0, 0, fmt.Errorf("class %d: %w", class, err)
	}
	if math.IsNaN(probability) {
		return 0, 0, errors.New("model returned NaN probability")
	}
	return label, probability, nil
}

func (s *Service) persist(ctx context.Context, res Result, requestID string) {
	if s.history != nil {
		err := s.history.SavePrediction(ctx, db.Prediction{
			ID:         res.ID,
			RequestID:  requestID,
			Variant:    res.Variant,
			Features:   res.Features,
			Label:      res.Label,
			HighRisk:   res.HighRisk,
			Confidence: res.Confidence,
			CreatedAt:  s.now(),
		})
		if err != nil {
			s.logger.Warn("saving prediction failed", zap.String("id", res.ID), zap.Error(err))
		}
	}
	if s.events != nil {
		if err := s.events.Publish(monitoring.PredictionEvent, res); err != nil {
			s.logger.Warn("publishing prediction failed", zap.String("id", res.ID), zap.Error(err))
		}
	}
}

func (s *Service) record(variant string, outcome monitoring.Outcome, start time.Time) {
	if s.metrics != nil {
		s.metrics.RecordPrediction(variant, outcome, s.now().Sub(start))
	}
}

// Percent converts a probability to a percentage clamped to [0, 100]. Rounding is left
// to FormatPercent so the value is rounded once.
func Percent(probability float64) float64 {
	return math.Max(0, math.Min(100, probability*100))
}

// FormatPercent prints a percentage with exactly one decimal.
func FormatPercent(percent float64) string {
	return strconv.FormatFloat(percent, 'f', 1, 64)
}

// Message is the localized outcome line.
func (r Result) Message(p *message.Printer) string {
	return p.Sprintf(i18n.ResultKey(r.Variant, r.HighRisk))
}

// Advice is the localized recommendation, empty for variants without one.
func (r Result) Advice(p *message.Printer) string {
	key := i18n.AdviceKey(r.Variant, r.HighRisk)
	if !i18n.Has(key) {
		return ""
	}
	return p.Sprintf(key)
}

// ConfidenceLine is the localized confidence sentence.
func (r Result) ConfidenceLine(p *message.Printer) string {
	return p.Sprintf(i18n.Confidence, r.ConfidenceText)
}

// ErrorMessage renders err the way the result area shows it.
func ErrorMessage(p *message.Printer, err error) string {
	var inference *InferenceError
	switch {
	case errors.Is(err, ml.ErrModelNotFound):
		return p.Sprintf(i18n.ModelNotFound)
	case errors.Is(err, form.ErrValidation):
		return p.Sprintf(i18n.InvalidInput, err.Error())
	case errors.As(err, &inference):
		return p.Sprintf(i18n.PredictionFailed, inference.Err.Error())
	default:
		return p.Sprintf(i18n.PredictionFailed, err.Error())
	}
}
