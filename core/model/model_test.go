package model

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

type savedModel struct {
	Name     string             `msgpack:"name"`
	Features []string           `msgpack:"features"`
	Weights  map[string]float64 `msgpack:"weights"`
	State    ModelState         `msgpack:"state"`
}

func TestStateManager(t *testing.T) {
	sm := NewStateManager()
	assert.False(t, sm.IsFitted())

	err := sm.RequireFitted("LGBMClassifier", "Predict")
	var notFitted *errors.NotFittedError
	require.True(t, errors.As(err, &notFitted))

	sm.SetDimensions(4, 100)
	sm.SetFitted()
	assert.NoError(t, sm.RequireFeatures("LGBMClassifier", "Predict", 4))

	err = sm.RequireFeatures("LGBMClassifier", "Predict", 3)
	var dimErr *errors.DimensionError
	require.True(t, errors.As(err, &dimErr))
	assert.Equal(t, 4, dimErr.Expected)
	assert.Equal(t, 3, dimErr.Got)

	state := sm.GetState()
	assert.Equal(t, ModelState{Fitted: true, NFeatures: 4, NSamples: 100}, state)

	sm.Reset()
	assert.False(t, sm.IsFitted())
	sm.SetState(state)
	assert.True(t, sm.IsFitted())
}

func TestSaveLoadModel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "model.msgpack")
	in := savedModel{
		Name:     "lgbm",
		Features: []string{"lead time", "average price"},
		Weights:  map[string]float64{"a": 1.5, "b": -2},
		State:    ModelState{Fitted: true, NFeatures: 2},
	}

	require.NoError(t, SaveModel(in, path))

	var out savedModel
	require.NoError(t, LoadModel(&out, path))
	assert.Equal(t, in, out)

	// 一時ファイルが残っていないこと
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadModel_Missing(t *testing.T) {
	var out savedModel
	err := LoadModel(&out, filepath.Join(t.TempDir(), "missing.msgpack"))
	require.Error(t, err)

	var modelErr *errors.ModelError
	require.True(t, errors.As(err, &modelErr))
	assert.Equal(t, "artifact missing", modelErr.Kind)
	assert.Equal(t, errors.KindModel, errors.KindOf(err))
}

func TestLoadModelFromReader_Corrupt(t *testing.T) {
	var out savedModel
	err := LoadModelFromReader(&out, bytes.NewReader([]byte{0xc1, 0x00, 0x01}))
	require.Error(t, err)

	var modelErr *errors.ModelError
	require.True(t, errors.As(err, &modelErr))
	assert.Equal(t, "artifact corrupt", modelErr.Kind)
}

func TestSaveModelToWriter_Deterministic(t *testing.T) {
	in := savedModel{Weights: map[string]float64{"z": 1, "a": 2, "m": 3}}

	var first, second bytes.Buffer
	require.NoError(t, SaveModelToWriter(in, &first))
	require.NoError(t, SaveModelToWriter(in, &second))
	assert.Equal(t, first.Bytes(), second.Bytes())
}
