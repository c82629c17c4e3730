package metrics

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// ラベル符号: 0 = Canceled (陽性, 少数派), 1 = Not_Canceled
const (
	canceled    = 0.0
	notCanceled = 1.0
)

// heldOut is a small held-out partition: three cancellations in ten
// bookings, one missed and one false alarm.
func heldOut() (yTrue, yPred, pCanceled *mat.VecDense) {
	yTrue = mat.NewVecDense(10, []float64{0, 0, 0, 1, 1, 1, 1, 1, 1, 1})
	yPred = mat.NewVecDense(10, []float64{0, 0, 1, 0, 1, 1, 1, 1, 1, 1})
	pCanceled = mat.NewVecDense(10, []float64{0.9, 0.8, 0.4, 0.6, 0.3, 0.2, 0.2, 0.1, 0.1, 0.05})
	return yTrue, yPred, pCanceled
}

// isCanceled converts label codes into the 0/1 indicator AUC and log loss expect.
func isCanceled(y *mat.VecDense) *mat.VecDense {
	out := mat.NewVecDense(y.Len(), nil)
	for i := 0; i < y.Len(); i++ {
		if y.AtVec(i) == canceled {
			out.SetVec(i, 1)
		}
	}
	return out
}

func TestLabelMetrics_HeldOutBookings(t *testing.T) {
	yTrue, yPred, _ := heldOut()

	acc, err := Accuracy(yTrue, yPred)
	require.NoError(t, err)
	assert.InDelta(t, 0.8, acc, 1e-12)

	tests := []struct {
		name      string
		pos       float64
		cm        ConfusionMatrix
		precision float64
		recall    float64
	}{
		{"canceled positive", canceled, ConfusionMatrix{TP: 2, FP: 1, TN: 6, FN: 1}, 2.0 / 3, 2.0 / 3},
		{"not canceled positive", notCanceled, ConfusionMatrix{TP: 6, FP: 1, TN: 2, FN: 1}, 6.0 / 7, 6.0 / 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cm, err := NewConfusionMatrix(yTrue, yPred, tt.pos)
			require.NoError(t, err)
			assert.Equal(t, tt.cm, cm)

			p, err := Precision(yTrue, yPred, tt.pos)
			require.NoError(t, err)
			assert.InDelta(t, tt.precision, p, 1e-12)

			r, err := Recall(yTrue, yPred, tt.pos)
			require.NoError(t, err)
			assert.InDelta(t, tt.recall, r, 1e-12)

			f1, err := F1Score(yTrue, yPred, tt.pos)
			require.NoError(t, err)
			assert.InDelta(t, 2*tt.precision*tt.recall/(tt.precision+tt.recall), f1, 1e-12)
		})
	}
}

func TestAUC(t *testing.T) {
	yTrue, _, score := heldOut()

	tests := []struct {
		name  string
		yTrue *mat.VecDense
		score *mat.VecDense
		want  float64
	}{
		// 0.4 のキャンセルだけが 0.6 の非キャンセルに負ける: 20/21
		{"held out", isCanceled(yTrue), score, 20.0 / 21},
		{"constant score", isCanceled(yTrue), mat.NewVecDense(10, []float64{0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}), 0.5},
		{"tie across classes", mat.NewVecDense(3, []float64{1, 0, 0}), mat.NewVecDense(3, []float64{0.7, 0.7, 0.1}), 0.75},
		{"no cancellations", mat.NewVecDense(3, []float64{0, 0, 0}), mat.NewVecDense(3, []float64{0.1, 0.4, 0.35}), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := AUC(tt.yTrue, tt.score)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-12)
		})
	}
}

func TestBinaryLogLoss(t *testing.T) {
	yTrue, _, score := heldOut()

	got, err := BinaryLogLoss(isCanceled(yTrue), score)
	require.NoError(t, err)
	assert.InDelta(t, 0.32260619, got, 1e-6)

	// 0 と 1 の確率はクリップされ、無限大にならない
	got, err = BinaryLogLoss(mat.NewVecDense(2, []float64{1, 0}), mat.NewVecDense(2, []float64{1, 0}))
	require.NoError(t, err)
	assert.Less(t, got, 1e-12)

	got, err = BinaryLogLoss(mat.NewVecDense(2, []float64{1, 0}), mat.NewVecDense(2, []float64{0, 1}))
	require.NoError(t, err)
	assert.Greater(t, got, 30.0)
	assert.False(t, math.IsInf(got, 0))
}

func TestMetrics_InvalidInput(t *testing.T) {
	codes := mat.NewVecDense(3, []float64{0, 1, 1})
	short := mat.NewVecDense(2, []float64{0, 1})
	encoded := mat.NewVecDense(3, []float64{0, 2, 1})

	tests := []struct {
		name    string
		fn      func() (float64, error)
		wantDim bool
	}{
		{"accuracy nil", func() (float64, error) { return Accuracy(nil, codes) }, false},
		{"accuracy empty", func() (float64, error) { return Accuracy(&mat.VecDense{}, &mat.VecDense{}) }, false},
		{"recall mismatch", func() (float64, error) { return Recall(codes, short, canceled) }, true},
		{"auc label code 2", func() (float64, error) { return AUC(encoded, codes) }, false},
		{"log loss mismatch", func() (float64, error) { return BinaryLogLoss(codes, short) }, true},
		{"log loss label code 2", func() (float64, error) { return BinaryLogLoss(encoded, codes) }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fn()
			require.Error(t, err)
			var de *errors.DimensionError
			assert.Equal(t, tt.wantDim, errors.As(err, &de), "got %v", err)
		})
	}
}

func TestPrecision_NoPredictedCancellationsWarns(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	t.Cleanup(func() { errors.SetWarningHandler(nil) })

	yTrue := mat.NewVecDense(4, []float64{0, 1, 1, 1})
	allKept := mat.NewVecDense(4, []float64{1, 1, 1, 1})

	p, err := Precision(yTrue, allKept, canceled)
	require.NoError(t, err)
	assert.Zero(t, p)
	require.Len(t, warnings, 1)
	var uw *errors.UndefinedMetricWarning
	require.True(t, errors.As(warnings[0], &uw))
	assert.Equal(t, "precision", uw.Metric)

	f1, err := F1Score(yTrue, allKept, canceled)
	require.NoError(t, err)
	assert.Zero(t, f1)
}

func BenchmarkAUC(b *testing.B) {
	n := 5000
	yTrue := mat.NewVecDense(n, nil)
	score := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		// 約3割がキャンセル
		if i%10 < 3 {
			yTrue.SetVec(i, 1)
		}
		score.SetVec(i, float64((i*7919)%n)/float64(n))
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = AUC(yTrue, score)
	}
}
