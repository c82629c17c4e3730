// Package predict scores single raw booking records with a persisted
// artifact. Records are encoded with the training-time mappings and skew
// decisions and reordered to the artifact's feature order before they reach
// the model.
package predict

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/artifact"
	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
	"github.com/YuminosukeSato/bookingcancel/preprocessing"
)

// Record is one raw booking keyed by field name. Values may be strings,
// numbers or json.Number.
type Record map[string]any

// Prediction is the outcome for one record.
type Prediction struct {
	Label string
	Code  int
	// Probabilities maps label names to class probabilities.
	Probabilities map[string]float64
	// Probabilistic is false when Probabilities is the fallback placeholder.
	Probabilistic     bool
	UnknownCategories []string
}

// Predictor is safe for concurrent use once constructed.
type Predictor struct {
	artifact *artifact.Artifact
	pre      *preprocessing.Preprocessor
	model    model.Classifier
	fallback float64
	logger   log.Logger
}

// Option configures a Predictor.
type Option func(*Predictor)

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(p *Predictor) { p.logger = l }
}

// WithFallbackConfidence sets the placeholder probability given to the
// predicted class when the model has no PredictProba.
func WithFallbackConfidence(c float64) Option {
	return func(p *Predictor) { p.fallback = c }
}

// WithModel replaces the classifier restored from the artifact. Its input
// must follow the artifact's feature order.
func WithModel(m model.Classifier) Option {
	return func(p *Predictor) { p.model = m }
}

// New builds a Predictor around a validated artifact.
func New(a *artifact.Artifact, opts ...Option) (*Predictor, error) {
	if a == nil {
		return nil, errors.NewModelError("predict.New", "nil artifact", nil)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	p := &Predictor{
		artifact: a,
		fallback: config.DefaultFallbackConfidence,
		logger:   log.GetLoggerWithName("predict"),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.fallback < 0.5 || p.fallback > 1 {
		return nil, errors.NewValidationError("fallback_confidence", "must be in [0.5, 1]", p.fallback)
	}

	pre, err := preprocessing.FromState(a.Preprocessing, preprocessing.WithLogger(p.logger))
	if err != nil {
		return nil, err
	}
	p.pre = pre
	if p.model == nil {
		clf, err := a.Classifier()
		if err != nil {
			return nil, err
		}
		p.model = clf
	}
	p.logger = p.logger.With(log.RunIDKey, a.RunID)
	return p, nil
}

// Load reads the artifact at path and builds a Predictor.
func Load(path string, opts ...Option) (*Predictor, error) {
	a, err := artifact.Load(path)
	if err != nil {
		return nil, err
	}
	return New(a, opts...)
}

// Artifact returns the artifact the predictor was built from.
func (p *Predictor) Artifact() *artifact.Artifact {
	return p.artifact
}

// Predict encodes rec and scores it. A required field that is missing or
// not a number is an InferenceError; an unknown category is encoded as -1
// and reported in the result.
func (p *Predictor) Predict(ctx context.Context, rec Record) (*Prediction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	order := p.artifact.FeatureOrder

	raw, err := normalise(rec, order)
	if err != nil {
		return nil, err
	}
	enc, err := p.pre.TransformRecord(raw, order)
	if err != nil {
		return nil, err
	}
	x := mat.NewDense(1, len(order), nil)
	for j, name := range order {
		v, ok := enc.Value(name)
		if !ok {
			return nil, errors.NewInferenceError(name, "", "feature not encoded")
		}
		x.Set(0, j, v)
	}

	pred, err := p.model.Predict(x)
	if err != nil {
		return nil, errors.Wrap(err, "predict")
	}
	code := int(pred.At(0, 0))
	label, ok := p.artifact.ClassName(code)
	if !ok {
		return nil, errors.NewModelError("Predictor.Predict", fmt.Sprintf("model returned unknown class %d", code), nil)
	}

	out := &Prediction{
		Label:             label,
		Code:              code,
		Probabilities:     make(map[string]float64, 2),
		UnknownCategories: enc.UnknownCategories,
	}
	if pc, ok := p.model.(model.ProbabilisticClassifier); ok {
		proba, err := pc.PredictProba(x)
		if err != nil {
			return nil, errors.Wrap(err, "predict_proba")
		}
		// 列の順序は Classes() に従う。位置で決め打ちしない
		for c, class := range pc.Classes() {
			name, ok := p.artifact.ClassName(class)
			if !ok {
				return nil, errors.NewModelError("Predictor.Predict", fmt.Sprintf("class %d has no label name", class), nil)
			}
			out.Probabilities[name] = proba.At(0, c)
		}
		out.Probabilistic = true
	} else {
		for _, class := range p.model.Classes() {
			name, _ := p.artifact.ClassName(class)
			if class == code {
				out.Probabilities[name] = p.fallback
			} else {
				out.Probabilities[name] = 1 - p.fallback
			}
		}
		p.logger.Warn("Model has no probability estimates, returning placeholder",
			log.ConfidenceKey, p.fallback)
	}

	p.logger.Debug("Record scored",
		log.PhaseKey, log.PhaseInference,
		"label", label,
		log.ConfidenceKey, out.Probabilities[label],
	)
	return out, nil
}

// normalise converts the values of the required fields to strings. A field
// is looked up by its exact name first, then with spaces and underscores
// swapped, so "lead_time" also matches "lead time".
func normalise(rec Record, required []string) (map[string]string, error) {
	out := make(map[string]string, len(required))
	for _, name := range required {
		v, ok := lookup(rec, name)
		if !ok || v == nil {
			continue
		}
		s, err := toString(v)
		if err != nil {
			return nil, errors.NewInferenceError(name, fmt.Sprint(v), err.Error())
		}
		out[name] = s
	}
	return out, nil
}

func lookup(rec Record, name string) (any, bool) {
	if v, ok := rec[name]; ok {
		return v, true
	}
	for _, alt := range []string{
		strings.ReplaceAll(name, " ", "_"),
		strings.ReplaceAll(name, "_", " "),
	} {
		if alt == name {
			continue
		}
		if v, ok := rec[alt]; ok {
			return v, true
		}
	}
	return nil, false
}

func toString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t), nil
	case json.Number:
		return t.String(), nil
	case float64:
		return strconv.FormatFloat(t, 'g', -1, 64), nil
	case float32:
		return strconv.FormatFloat(float64(t), 'g', -1, 32), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	default:
		return "", errors.Newf("unsupported value type %T", v)
	}
}
