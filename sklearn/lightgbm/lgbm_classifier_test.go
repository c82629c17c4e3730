package lightgbm

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// 符号化済みの列: room type, lead time, average price, special requests
const (
	featRoom = iota
	featLead
	featPrice
	featRequests
)

// encodedBookings returns n encoded bookings with label codes as the
// preprocessor writes them: 0 = Canceled (minority), 1 = Not_Canceled.
// Long lead times cancel, as do expensive room type 0 bookings without
// special requests.
func encodedBookings(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		room := float64(i % 4)
		lead := float64((i * 37) % 300)
		price := float64(60 + (i*13)%120)
		requests := float64((i / 4) % 3)
		X.SetRow(i, []float64{room, lead, price, requests})

		canceled := lead > 220 || (room == 0 && requests == 0 && price > 140)
		if !canceled {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func fittedBookingClassifier(t *testing.T, opts ...Option) (*LGBMClassifier, *mat.Dense, *mat.Dense) {
	t.Helper()
	X, y := encodedBookings(300)
	base := []Option{WithNEstimators(40), WithMinChildSamples(5), WithLogger(log.NewNopLogger())}
	clf := NewLGBMClassifier(append(base, opts...)...)
	require.NoError(t, clf.Fit(X, y))
	return clf, X, y
}

func TestLGBMClassifier_FitsEncodedBookings(t *testing.T) {
	clf, X, y := fittedBookingClassifier(t)

	canceled := 0
	for i := 0; i < 300; i++ {
		if y.At(i, 0) == 0 {
			canceled++
		}
	}
	require.Less(t, canceled, 150, "fixture should be imbalanced towards Not_Canceled")

	assert.True(t, clf.IsFitted())
	assert.Equal(t, []int{0, 1}, clf.Classes())
	assert.Len(t, clf.Model.Trees, 40)
	assert.Equal(t, 4, clf.Model.NumFeatures)

	score, err := clf.Score(X, y)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, score, 0.9)
}

func TestLGBMClassifier_ProbabilitiesFollowClassOrder(t *testing.T) {
	clf, _, _ := fittedBookingClassifier(t)

	bookings := mat.NewDense(2, 4, []float64{
		2, 290, 90, 1, // 長いリードタイム
		2, 20, 90, 1,
	})
	proba, err := clf.PredictProba(bookings)
	require.NoError(t, err)
	pred, err := clf.Predict(bookings)
	require.NoError(t, err)
	margin, err := clf.DecisionFunction(bookings)
	require.NoError(t, err)

	rows, cols := proba.Dims()
	require.Equal(t, 2, rows)
	require.Equal(t, 2, cols)

	// 列0 は Classes()[0] = Canceled の確率
	assert.Greater(t, proba.At(0, 0), 0.5)
	assert.Equal(t, 0.0, pred.At(0, 0))
	assert.Greater(t, proba.At(1, 1), 0.5)
	assert.Equal(t, 1.0, pred.At(1, 0))

	for i := 0; i < rows; i++ {
		assert.InDelta(t, 1.0, proba.At(i, 0)+proba.At(i, 1), 1e-12)
		// the margin scores Classes()[1]
		assert.InDelta(t, 1/(1+math.Exp(-margin.At(i, 0))), proba.At(i, 1), 1e-12)
	}
}

func TestLGBMClassifier_FeatureImportance(t *testing.T) {
	clf, _, _ := fittedBookingClassifier(t)

	gain := clf.GetFeatureImportance("gain")
	require.Len(t, gain, 4)
	for j := range gain {
		if j != featLead {
			assert.Greater(t, gain[featLead], gain[j], "lead time should dominate, got %v", gain)
		}
	}

	splits := clf.GetFeatureImportance("split")
	assert.Greater(t, splits[featLead], 0.0)

	sum := 0.0
	for _, v := range clf.GetFeatureImportances() {
		sum += v
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestLGBMClassifier_SeededSubsamplingIsDeterministic(t *testing.T) {
	opts := []Option{WithSubsample(0.7, 1), WithColsampleBytree(0.75), WithRandomState(7)}
	a, X, _ := fittedBookingClassifier(t, opts...)
	b, _, _ := fittedBookingClassifier(t, opts...)

	pa, err := a.PredictProba(X)
	require.NoError(t, err)
	pb, err := b.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.Equal(pa, pb))
}

func TestLGBMClassifier_FitRejects(t *testing.T) {
	X, _ := encodedBookings(60)
	labels := func(f func(i int) float64) *mat.Dense {
		y := mat.NewDense(60, 1, nil)
		for i := 0; i < 60; i++ {
			y.Set(i, 0, f(i))
		}
		return y
	}

	tests := []struct {
		name  string
		X     mat.Matrix
		y     mat.Matrix
		check func(t *testing.T, err error)
	}{
		{"single class", X, labels(func(int) float64 { return 1 }), isValidationError},
		{"three label codes", X, labels(func(i int) float64 { return float64(i % 3) }), isValidationError},
		{"fractional label", X, labels(func(i int) float64 { return float64(i%2) + 0.5 }), isValidationError},
		{"label rows mismatch", X, mat.NewDense(59, 1, nil), func(t *testing.T, err error) {
			var de *errors.DimensionError
			assert.True(t, errors.As(err, &de), "got %v", err)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clf := NewLGBMClassifier(WithLogger(log.NewNopLogger()))
			err := clf.Fit(tt.X, tt.y)
			require.Error(t, err)
			tt.check(t, err)
			assert.False(t, clf.IsFitted())
		})
	}
}

func isValidationError(t *testing.T, err error) {
	t.Helper()
	var ve *errors.ValidationError
	assert.True(t, errors.As(err, &ve), "got %v", err)
}

func TestLGBMClassifier_Params(t *testing.T) {
	clf := NewLGBMClassifier()

	// ランダムサーチは全ての値を float64 で渡す
	require.NoError(t, clf.SetParams(map[string]interface{}{
		"n_estimators":      150.0,
		"learning_rate":     0.05,
		"num_leaves":        31.0,
		"max_depth":         -1.0,
		"min_child_samples": 20.0,
		"subsample":         0.8,
		"colsample_bytree":  0.9,
		"reg_alpha":         0.1,
		"reg_lambda":        1.0,
	}))
	params := clf.GetParams()
	assert.Equal(t, 150, params["n_estimators"])
	assert.Equal(t, 0.05, params["learning_rate"])
	assert.Equal(t, -1, params["max_depth"])
	assert.Equal(t, 0.8, params["subsample"])

	// a rejected update leaves every parameter untouched
	assert.Error(t, clf.SetParams(map[string]interface{}{"n_estimators": 7, "boosting": "dart"}))
	assert.Equal(t, 150, clf.GetParams()["n_estimators"])
	assert.Error(t, clf.SetParams(map[string]interface{}{"num_leaves": 20.5}))

	clone := clf.Clone()
	assert.Equal(t, clf.GetParams(), clone.GetParams())
	assert.False(t, clone.IsFitted())
}

func TestLGBMClassifier_NotFitted(t *testing.T) {
	clf := NewLGBMClassifier()
	X, _ := encodedBookings(5)

	_, err := clf.Predict(X)
	assert.ErrorContains(t, err, "not fitted")
	_, err = clf.PredictProba(X)
	assert.ErrorContains(t, err, "not fitted")
	assert.Error(t, clf.SaveModel(filepath.Join(t.TempDir(), "model.msgpack")))
}

func TestLGBMClassifier_FeatureCountMismatch(t *testing.T) {
	clf, _, _ := fittedBookingClassifier(t)
	_, err := clf.PredictProba(mat.NewDense(1, 3, []float64{1, 200, 90}))
	assert.Error(t, err)
}

func TestLGBMClassifier_SaveLoad(t *testing.T) {
	clf, X, _ := fittedBookingClassifier(t)

	path := filepath.Join(t.TempDir(), "classifier.msgpack")
	require.NoError(t, clf.SaveModel(path))

	loaded := NewLGBMClassifier(WithLogger(log.NewNopLogger()))
	require.NoError(t, loaded.LoadModel(path))
	assert.Equal(t, clf.Classes(), loaded.Classes())
	assert.Equal(t, clf.GetFeatureImportances(), loaded.GetFeatureImportances())

	p1, err := clf.PredictProba(X)
	require.NoError(t, err)
	p2, err := loaded.PredictProba(X)
	require.NoError(t, err)
	assert.True(t, mat.EqualApprox(p1, p2, 1e-12))

	assert.Error(t, loaded.LoadModel(filepath.Join(t.TempDir(), "missing.msgpack")))
}
