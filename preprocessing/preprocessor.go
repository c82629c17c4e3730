// Package preprocessing turns raw booking frames into numeric feature
// tables: identifier columns are dropped, duplicates removed, gaps
// forward-filled, categoricals label-encoded and skewed numerics log1p
// corrected. Everything learned on the training partition is captured in
// State and reused unchanged for the test partition and for inference.
package preprocessing

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// Preprocessor fits encodings on the training frame and applies them to
// any other frame or single record.
type Preprocessor struct {
	cfg    config.Processing
	state  *model.StateManager
	st     State
	skew   *SkewCorrector
	logger log.Logger
}

// Option configures a Preprocessor.
type Option func(*Preprocessor)

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(p *Preprocessor) { p.logger = l }
}

// NewPreprocessor creates an unfitted Preprocessor.
func NewPreprocessor(cfg config.Processing, opts ...Option) *Preprocessor {
	p := &Preprocessor{
		cfg:    cfg,
		state:  model.NewStateManager(),
		logger: log.GetLoggerWithName("preprocessing"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// FromState restores a fitted Preprocessor from a persisted State.
func FromState(st State, opts ...Option) (*Preprocessor, error) {
	if st.LabelCol == "" || len(st.Features) == 0 {
		return nil, errors.NewModelError("preprocessing.FromState", "incomplete preprocessing state", nil)
	}
	cfg := config.Processing{
		LabelCol:      st.LabelCol,
		DropCols:      st.DropCols,
		SkewThreshold: st.SkewThreshold,
	}
	for _, m := range st.Categorical {
		cfg.CategoricalCols = append(cfg.CategoricalCols, m.Column)
	}
	for _, d := range st.Skew {
		cfg.NumericalCols = append(cfg.NumericalCols, d.Column)
	}

	p := NewPreprocessor(cfg, opts...)
	p.st = st
	p.skew = SkewCorrectorFromDecisions(st.SkewThreshold, st.Skew)
	p.state.SetDimensions(len(st.Features), 0)
	p.state.SetFitted()
	return p, nil
}

// State returns a copy of what Fit learned.
func (p *Preprocessor) State() State {
	return p.st
}

// IsFitted reports whether Fit has completed.
func (p *Preprocessor) IsFitted() bool {
	return p.state.IsFitted()
}

// clean drops configured columns, removes duplicate rows and forward-fills
// gaps. The input frame is not modified.
func (p *Preprocessor) clean(op string, frame *dataset.Frame) (*dataset.Frame, error) {
	out, missing := frame.Drop(p.cfg.DropCols...)
	for _, col := range missing {
		p.logger.Warn("Configured drop column not present, skipping", log.ColumnKey, col, log.OperationKey, op)
	}

	out, removed := out.DropDuplicates()
	if removed > 0 {
		p.logger.Info("Duplicate rows removed", log.DuplicatesKey, removed, log.OperationKey, op)
	}

	if err := ForwardFill(out); err != nil {
		return nil, errors.Wrap(err, op)
	}
	return out, nil
}

// Fit learns feature columns, category mappings, label classes and skew
// decisions from the training frame.
func (p *Preprocessor) Fit(frame *dataset.Frame) (err error) {
	defer errors.Recover(&err, "Preprocessor.Fit")
	start := time.Now()

	if frame.Len() == 0 {
		return errors.NewDataError("Preprocessor.Fit", "", "training frame has no rows")
	}
	cleaned, err := p.clean("fit", frame)
	if err != nil {
		return err
	}
	if !cleaned.HasColumn(p.cfg.LabelCol) {
		return errors.NewDataError("Preprocessor.Fit", p.cfg.LabelCol, "label column not found")
	}

	for _, col := range p.cfg.FeatureColumns() {
		if !cleaned.HasColumn(col) {
			p.logger.Warn("Configured column not present, skipping", log.ColumnKey, col)
		}
	}

	st := State{
		LabelCol:      p.cfg.LabelCol,
		DropCols:      append([]string(nil), p.cfg.DropCols...),
		SkewThreshold: p.cfg.SkewThreshold,
	}
	for _, col := range cleaned.Header {
		if col == p.cfg.LabelCol {
			continue
		}
		st.Features = append(st.Features, col)
		if p.cfg.IsCategorical(col) {
			values, _ := cleaned.Column(col)
			m := FitCategoryMapping(col, values)
			if m.Numeric {
				errors.Warn(errors.NewDataConversionWarning(col, "string", "float64",
					"numeric categories are matched by value, so \"1\" and \"1.0\" share a code"))
			}
			st.Categorical = append(st.Categorical, m)
		} else if !p.isNumerical(col) {
			p.logger.Debug("Unconfigured column treated as numeric", log.ColumnKey, col)
		}
	}
	if len(st.Features) == 0 {
		return errors.NewDataError("Preprocessor.Fit", "", "no feature columns left after dropping")
	}
	labels, _ := cleaned.Column(p.cfg.LabelCol)
	st.Label = FitCategoryMapping(p.cfg.LabelCol, labels)

	p.st = st
	X, err := p.encodeFeatures("Preprocessor.Fit", cleaned)
	if err != nil {
		return err
	}

	p.skew = NewSkewCorrector(p.cfg.SkewThreshold)
	if err := p.skew.Fit(X, st.Features, p.cfg.NumericalCols); err != nil {
		return err
	}
	p.st.Skew = append([]SkewDecision(nil), p.skew.Decisions...)
	for _, d := range p.st.Skew {
		if d.Applied {
			p.logger.Info("Applying log1p to skewed column", log.ColumnKey, d.Column, "skewness", d.Skewness, log.ThresholdKey, p.cfg.SkewThreshold)
		}
	}

	p.state.SetDimensions(len(st.Features), cleaned.Len())
	p.state.SetFitted()
	p.logger.Info("Preprocessor fitted",
		log.SamplesKey, cleaned.Len(),
		log.FeaturesKey, len(st.Features),
		"label.classes", st.Label.Classes,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return nil
}

func (p *Preprocessor) isNumerical(col string) bool {
	for _, c := range p.cfg.NumericalCols {
		if c == col {
			return true
		}
	}
	return false
}

// encodeFeatures builds the feature matrix from an already cleaned frame,
// before skew correction.
func (p *Preprocessor) encodeFeatures(op string, frame *dataset.Frame) (*mat.Dense, error) {
	n := frame.Len()
	X := mat.NewDense(n, len(p.st.Features), nil)

	for j, col := range p.st.Features {
		k, ok := frame.ColumnIndex(col)
		if !ok {
			return nil, errors.NewDataError(op, col, "feature column not found")
		}

		if m, isCat := p.st.Mapping(col); isCat {
			unknown := 0
			for i, row := range frame.Rows {
				code := m.Encode(row[k])
				if code == UnknownCategory {
					unknown++
				}
				X.Set(i, j, float64(code))
			}
			if unknown > 0 {
				p.logger.Warn("Unknown categories encoded as -1", log.ColumnKey, col, "count", unknown)
			}
			continue
		}

		for i, row := range frame.Rows {
			v, err := strconv.ParseFloat(row[k], 64)
			if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, errors.NewDataRowError(op, col, i, fmt.Sprintf("not a finite number: %q", row[k]), err)
			}
			X.Set(i, j, v)
		}
	}
	return X, nil
}

// Transform applies the fitted encodings to frame. When frame contains the
// label column the label is encoded as Y; an unseen label is a DataError.
func (p *Preprocessor) Transform(frame *dataset.Frame) (*dataset.Table, error) {
	if err := p.state.RequireFitted("Preprocessor", "Transform"); err != nil {
		return nil, err
	}
	if frame.Len() == 0 {
		return nil, errors.NewDataError("Preprocessor.Transform", "", "frame has no rows")
	}
	cleaned, err := p.clean("transform", frame)
	if err != nil {
		return nil, err
	}

	X, err := p.encodeFeatures("Preprocessor.Transform", cleaned)
	if err != nil {
		return nil, err
	}
	if err := p.skew.Transform(X, p.st.Features); err != nil {
		return nil, err
	}

	var y *mat.VecDense
	if k, ok := cleaned.ColumnIndex(p.st.LabelCol); ok {
		y = mat.NewVecDense(cleaned.Len(), nil)
		for i, row := range cleaned.Rows {
			code := p.st.Label.Encode(row[k])
			if code == UnknownCategory {
				return nil, errors.NewDataRowError("Preprocessor.Transform", p.st.LabelCol, i,
					fmt.Sprintf("unknown label %q", row[k]), nil)
			}
			y.SetVec(i, float64(code))
		}
	}

	return dataset.NewTable(append([]string(nil), p.st.Features...), X, p.st.LabelCol, y)
}

// FitTransform fits on frame and transforms it.
func (p *Preprocessor) FitTransform(frame *dataset.Frame) (*dataset.Table, error) {
	if err := p.Fit(frame); err != nil {
		return nil, err
	}
	return p.Transform(frame)
}

// EncodedRecord is one record after encoding, in State.Features order.
type EncodedRecord struct {
	Features []string
	Values   []float64
	// UnknownCategories lists the columns whose value was not in the mapping.
	UnknownCategories []string
}

// Value returns the encoded value of a feature.
func (r *EncodedRecord) Value(name string) (float64, bool) {
	for i, f := range r.Features {
		if f == name {
			return r.Values[i], true
		}
	}
	return 0, false
}

// TransformRecord encodes a single record for inference. Only the features
// named in required are read; a nil required means every fitted feature.
// A required field that is absent or non-numeric is an InferenceError.
// Unknown categories are encoded as -1 and reported, not rejected.
func (p *Preprocessor) TransformRecord(record map[string]string, required []string) (*EncodedRecord, error) {
	if err := p.state.RequireFitted("Preprocessor", "TransformRecord"); err != nil {
		return nil, err
	}
	if required == nil {
		required = p.st.Features
	}

	out := &EncodedRecord{
		Features: append([]string(nil), required...),
		Values:   make([]float64, len(required)),
	}
	for j, col := range required {
		raw, ok := record[col]
		if !ok || IsMissing(raw) {
			return nil, errors.NewInferenceError(col, "", "missing value")
		}

		if m, isCat := p.st.Mapping(col); isCat {
			code := m.Encode(raw)
			if code == UnknownCategory {
				out.UnknownCategories = append(out.UnknownCategories, col)
				p.logger.Warn("Unknown category at inference, encoded as -1", log.ColumnKey, col, "value", raw)
			}
			out.Values[j] = float64(code)
			continue
		}

		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, errors.NewInferenceError(col, raw, "not a finite number")
		}
		v, err = p.skew.TransformValue(col, v)
		if err != nil {
			return nil, errors.NewInferenceError(col, raw, err.Error())
		}
		out.Values[j] = v
	}
	return out, nil
}
