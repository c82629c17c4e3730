package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// 列: room type (符号化済み), lead time, average price, special requests
const (
	colRoom = iota
	colLead
	colPrice
	colRequests
)

// encodedBookings returns n encoded bookings. Label 0 (Canceled) marks lead
// times above 220 days, roughly a quarter of the rows.
func encodedBookings(n int) (*mat.Dense, *mat.Dense) {
	X := mat.NewDense(n, 4, nil)
	y := mat.NewDense(n, 1, nil)
	for i := 0; i < n; i++ {
		lead := float64((i * 37) % 300)
		X.SetRow(i, []float64{float64(i % 4), lead, float64(60 + (i*13)%90), float64(i % 3)})
		if lead <= 220 {
			y.Set(i, 0, 1)
		}
	}
	return X, y
}

func countLabel(y mat.Matrix, label float64) int {
	n, _ := y.Dims()
	c := 0
	for i := 0; i < n; i++ {
		if y.At(i, 0) == label {
			c++
		}
	}
	return c
}

func TestDecisionTreeClassifier_LearnsLeadTimeRule(t *testing.T) {
	X, y := encodedBookings(120)
	canceled := countLabel(y, 0)
	require.Greater(t, canceled, 15)
	require.Less(t, canceled, 60, "fixture should be imbalanced")

	for _, criterion := range []string{"gini", "entropy"} {
		t.Run(criterion, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(WithCriterion(criterion), WithMaxDepth(5))
			require.NoError(t, dt.Fit(X, y))

			assert.Equal(t, 1.0, dt.Score(X, y))
			assert.Equal(t, []int{0, 1}, dt.Classes())
			assert.Equal(t, 1, dt.GetDepth())
			assert.Equal(t, 2, dt.GetNLeaves())

			imp := dt.GetFeatureImportances()
			require.Len(t, imp, 4)
			assert.InDelta(t, 1.0, imp[colLead], 1e-12)
			assert.Zero(t, imp[colRoom])
			assert.Zero(t, imp[colPrice])

			root := dt.Nodes()[0]
			assert.Equal(t, colLead, root.Feature)
			assert.Equal(t, 120, root.NSamples)

			unseen := mat.NewDense(2, 4, []float64{
				2, 280, 95, 0,
				1, 30, 70, 2,
			})
			pred, err := dt.Predict(unseen)
			require.NoError(t, err)
			assert.Equal(t, 0.0, pred.At(0, 0), "long lead time cancels")
			assert.Equal(t, 1.0, pred.At(1, 0))
		})
	}
}

func TestDecisionTreeClassifier_PredictProba(t *testing.T) {
	X, y := encodedBookings(90)
	// special requests を持つ予約の一部はキャンセルしない: 深さ1では純粋な葉にならない
	for i := 0; i < 90; i++ {
		if X.At(i, colRequests) == 2 && i%2 == 0 {
			y.Set(i, 0, 1)
		}
	}

	dt := NewDecisionTreeClassifier(WithMaxDepth(1))
	require.NoError(t, dt.Fit(X, y))

	proba, err := dt.PredictProba(X)
	require.NoError(t, err)
	pred, err := dt.Predict(X)
	require.NoError(t, err)

	rows, cols := proba.Dims()
	require.Equal(t, 90, rows)
	require.Equal(t, 2, cols)
	classes := dt.Classes()
	for i := 0; i < rows; i++ {
		p0, p1 := proba.At(i, 0), proba.At(i, 1)
		assert.InDelta(t, 1.0, p0+p1, 1e-12)
		assert.True(t, p0 >= 0 && p0 <= 1, "row %d", i)
		want := classes[0]
		if p1 > p0 {
			want = classes[1]
		}
		assert.Equal(t, float64(want), pred.At(i, 0), "row %d", i)
	}
}

func TestDecisionTreeClassifier_GrowthLimits(t *testing.T) {
	X, y := encodedBookings(200)
	// room type 3 の予約は価格に応じてラベルを反転させ、深い木が必要になるようにする
	for i := 0; i < 200; i++ {
		if X.At(i, colRoom) == 3 && X.At(i, colPrice) > 100 {
			y.Set(i, 0, 1-y.At(i, 0))
		}
	}

	tests := []struct {
		name  string
		opts  []Option
		check func(t *testing.T, dt *DecisionTreeClassifier)
	}{
		{
			name: "max depth",
			opts: []Option{WithMaxDepth(2)},
			check: func(t *testing.T, dt *DecisionTreeClassifier) {
				assert.LessOrEqual(t, dt.GetDepth(), 2)
				assert.LessOrEqual(t, dt.GetNLeaves(), 4)
			},
		},
		{
			name: "min samples leaf",
			opts: []Option{WithMinSamplesLeaf(15)},
			check: func(t *testing.T, dt *DecisionTreeClassifier) {
				for _, nd := range dt.Nodes() {
					if nd.IsLeaf() {
						assert.GreaterOrEqual(t, nd.NSamples, 15)
					}
				}
			},
		},
		{
			name: "min samples split",
			opts: []Option{WithMinSamplesSplit(40)},
			check: func(t *testing.T, dt *DecisionTreeClassifier) {
				for _, nd := range dt.Nodes() {
					if !nd.IsLeaf() {
						assert.GreaterOrEqual(t, nd.NSamples, 40)
					}
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dt := NewDecisionTreeClassifier(tt.opts...)
			require.NoError(t, dt.Fit(X, y))
			tt.check(t, dt)

			sum := 0.0
			for _, v := range dt.GetFeatureImportances() {
				sum += v
			}
			assert.InDelta(t, 1.0, sum, 1e-9)
		})
	}
}

func TestDecisionTreeClassifier_MaxFeaturesDeterministic(t *testing.T) {
	X, y := encodedBookings(80)
	fit := func(seed int64) []float64 {
		dt := NewDecisionTreeClassifier(WithMaxFeatures(2), WithRandomState(seed), WithMaxDepth(4))
		require.NoError(t, dt.Fit(X, y))
		return dt.GetFeatureImportances()
	}
	assert.Equal(t, fit(7), fit(7))
}

func TestDecisionTreeClassifier_Params(t *testing.T) {
	dt := NewDecisionTreeClassifier()
	params := dt.GetParams()
	assert.Equal(t, "gini", params["criterion"])
	assert.Equal(t, 2, params["min_samples_split"])

	// YAML/JSON 由来の float64 も整数として受け付ける
	require.NoError(t, dt.SetParams(map[string]interface{}{
		"criterion":        "entropy",
		"max_depth":        float64(6),
		"min_samples_leaf": int64(3),
	}))
	params = dt.GetParams()
	assert.Equal(t, "entropy", params["criterion"])
	assert.Equal(t, 6, params["max_depth"])
	assert.Equal(t, 3, params["min_samples_leaf"])
}

func TestDecisionTreeClassifier_Errors(t *testing.T) {
	X, y := encodedBookings(20)

	t.Run("not fitted", func(t *testing.T) {
		dt := NewDecisionTreeClassifier()
		_, err := dt.Predict(X)
		assert.Error(t, err)
		_, err = dt.PredictProba(X)
		assert.Error(t, err)
		assert.False(t, dt.IsFitted())
	})

	t.Run("feature count mismatch", func(t *testing.T) {
		dt := NewDecisionTreeClassifier()
		require.NoError(t, dt.Fit(X, y))
		_, err := dt.Predict(mat.NewDense(1, 3, nil))
		assert.Error(t, err)
	})

	t.Run("label rows mismatch", func(t *testing.T) {
		err := NewDecisionTreeClassifier().Fit(X, mat.NewDense(19, 1, nil))
		var dimErr *errors.DimensionError
		assert.True(t, errors.As(err, &dimErr), "got %v", err)
	})

	invalid := []struct {
		name   string
		params map[string]interface{}
	}{
		{"unknown criterion", map[string]interface{}{"criterion": "mse"}},
		{"fractional depth", map[string]interface{}{"max_depth": 2.5}},
		{"unknown key", map[string]interface{}{"splitter": "best"}},
		{"leaf below one", map[string]interface{}{"min_samples_leaf": 0}},
	}
	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, NewDecisionTreeClassifier().SetParams(tt.params))
		})
	}

	assert.Error(t, NewDecisionTreeClassifier(WithCriterion("mse")).Fit(X, y))
	assert.Zero(t, NewDecisionTreeClassifier().Score(X, y), "unfitted tree scores zero")
}
