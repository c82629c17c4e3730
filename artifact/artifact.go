// Package artifact persists everything inference needs from a training run:
// the fitted booster, the feature order it was trained on and the
// preprocessing state (category mappings, label classes, skew decisions).
package artifact

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/preprocessing"
	"github.com/YuminosukeSato/bookingcancel/sklearn/lightgbm"
)

// FormatVersion is bumped whenever the encoded layout changes.
const FormatVersion = 1

// Artifact is the unit written by training and read by prediction.
type Artifact struct {
	Version   int       `msgpack:"version" json:"version"`
	RunID     string    `msgpack:"run_id" json:"run_id"`
	CreatedAt time.Time `msgpack:"created_at" json:"created_at"`

	// FeatureOrder is the column order of the model's input matrix.
	FeatureOrder  []string            `msgpack:"feature_order" json:"feature_order"`
	Preprocessing preprocessing.State `msgpack:"preprocessing" json:"preprocessing"`
	MappingDigest string              `msgpack:"mapping_digest" json:"mapping_digest"`

	Model   *lightgbm.Model        `msgpack:"model" json:"-"`
	Classes []int                  `msgpack:"classes" json:"classes"`
	Params  map[string]interface{} `msgpack:"params" json:"params"`

	PositiveLabel string `msgpack:"positive_label" json:"positive_label"`
	NegativeLabel string `msgpack:"negative_label" json:"negative_label"`
}

// New assembles an artifact for a fitted classifier. runID may be empty, in
// which case a random UUID is assigned.
func New(runID string, state preprocessing.State, featureOrder []string, clf *lightgbm.LGBMClassifier, positive, negative string) (*Artifact, error) {
	if clf == nil || !clf.IsFitted() {
		return nil, errors.NewNotFittedError("LGBMClassifier", "artifact.New")
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	a := &Artifact{
		Version:       FormatVersion,
		RunID:         runID,
		CreatedAt:     time.Now().UTC(),
		FeatureOrder:  append([]string(nil), featureOrder...),
		Preprocessing: state,
		MappingDigest: state.Digest(),
		Model:         clf.Model,
		Classes:       clf.Classes(),
		Params:        clf.GetParams(),
		PositiveLabel: positive,
		NegativeLabel: negative,
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks that the parts of the artifact agree with each other.
func (a *Artifact) Validate() error {
	const op = "Artifact.Validate"
	if a.Version != FormatVersion {
		return errors.NewModelError(op, fmt.Sprintf("unsupported artifact version %d (want %d)", a.Version, FormatVersion), nil)
	}
	if a.Model == nil {
		return errors.NewModelError(op, "artifact has no model", nil)
	}
	if len(a.FeatureOrder) == 0 {
		return errors.NewModelError(op, "artifact has no feature order", nil)
	}
	if a.Model.NumFeatures != len(a.FeatureOrder) {
		return errors.NewModelError(op, fmt.Sprintf("model expects %d features, feature order lists %d",
			a.Model.NumFeatures, len(a.FeatureOrder)), nil)
	}
	known := make(map[string]bool, len(a.Preprocessing.Features))
	for _, f := range a.Preprocessing.Features {
		known[f] = true
	}
	for _, f := range a.FeatureOrder {
		if !known[f] {
			return errors.NewModelError(op, fmt.Sprintf("feature %q is not produced by the preprocessing state", f), nil)
		}
	}
	if got := a.Preprocessing.Digest(); got != a.MappingDigest {
		return errors.NewModelError(op, fmt.Sprintf("mapping digest mismatch: stored %s, computed %s", a.MappingDigest, got), nil)
	}
	if len(a.Classes) != 2 {
		return errors.NewModelError(op, fmt.Sprintf("expected 2 classes, got %v", a.Classes), nil)
	}
	for _, c := range a.Classes {
		if _, ok := a.Preprocessing.Label.Decode(c); !ok {
			return errors.NewModelError(op, fmt.Sprintf("class %d has no label name", c), nil)
		}
	}
	return nil
}

// Classifier rebuilds the fitted classifier.
func (a *Artifact) Classifier() (*lightgbm.LGBMClassifier, error) {
	return lightgbm.NewLGBMClassifierFromModel(a.Model, a.Classes)
}

// ClassName returns the label name of an encoded class.
func (a *Artifact) ClassName(code int) (string, bool) {
	return a.Preprocessing.Label.Decode(code)
}

// Save validates a and writes it to path atomically.
func Save(path string, a *Artifact) error {
	if err := a.Validate(); err != nil {
		return err
	}
	return model.SaveModel(a, path)
}

// Load reads and validates an artifact.
func Load(path string) (*Artifact, error) {
	var a Artifact
	if err := model.LoadModel(&a, path); err != nil {
		return nil, err
	}
	if err := a.Validate(); err != nil {
		return nil, errors.Wrapf(err, "artifact %s", path)
	}
	return &a, nil
}
