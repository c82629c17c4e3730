package preprocessing

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/config"
	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

func testProcessing() config.Processing {
	return config.Processing{
		CategoricalCols: []string{"room type", "repeated"},
		NumericalCols:   []string{"lead time", "average price", "missing numeric"},
		DropCols:        []string{"Booking_ID", "date of reservation"},
		LabelCol:        "booking status",
		SkewThreshold:   5,
	}
}

// bookingFrame builds n rows where "lead time" has a single extreme outlier
// (heavily skewed) and "average price" is roughly symmetric.
func bookingFrame(t *testing.T, n int) *dataset.Frame {
	t.Helper()
	header := []string{"Booking_ID", "room type", "repeated", "lead time", "average price", "date of reservation", "booking status"}
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		lead := "1"
		if i == 0 {
			lead = "10000"
		}
		status := "Not_Canceled"
		if i%3 == 0 {
			status = "Canceled"
		}
		rows[i] = []string{
			fmt.Sprintf("INN%05d", i),
			fmt.Sprintf("Room_Type %d", i%3+1),
			fmt.Sprintf("%d", i%2),
			lead,
			fmt.Sprintf("%d", 80+i),
			"2018-10-2",
			status,
		}
	}
	f, err := dataset.NewFrame(header, rows)
	require.NoError(t, err)
	return f
}

func TestFitCategoryMapping(t *testing.T) {
	m := FitCategoryMapping("room type", []string{"Room_Type 4", "Room_Type 1", "Room_Type 4", "Room_Type 2"})
	assert.Equal(t, []string{"Room_Type 1", "Room_Type 2", "Room_Type 4"}, m.Classes)
	assert.False(t, m.Numeric)
	assert.Equal(t, 0, m.Encode("Room_Type 1"))
	assert.Equal(t, 2, m.Encode("Room_Type 4"))
	assert.Equal(t, UnknownCategory, m.Encode("Room_Type 7"))

	label, ok := m.Decode(1)
	assert.True(t, ok)
	assert.Equal(t, "Room_Type 2", label)
	_, ok = m.Decode(-1)
	assert.False(t, ok)
}

func TestFitCategoryMapping_Numeric(t *testing.T) {
	m := FitCategoryMapping("repeated", []string{"10", "2", "1", "1.0"})
	assert.True(t, m.Numeric)
	assert.Equal(t, []string{"1", "2", "10"}, m.Classes)
	assert.Equal(t, 0, m.Encode("1.0"))
	assert.Equal(t, 2, m.Encode("10"))
	assert.Equal(t, UnknownCategory, m.Encode("yes"))
}

func TestCategoryMapping_Idempotent(t *testing.T) {
	values := []string{"Offline", "Online", "Corporate", "Online", "Aviation"}
	m := FitCategoryMapping("market segment type", values)

	first := make([]int, len(values))
	for i, v := range values {
		first[i] = m.Encode(v)
	}
	for i, v := range values {
		assert.Equal(t, first[i], m.Encode(v), "value %q", v)
	}
}

func TestIsMissing(t *testing.T) {
	for _, v := range []string{"", "NA", "NaN", "nan", "null", "None", " n/a "} {
		assert.True(t, IsMissing(v), v)
	}
	for _, v := range []string{"0", "Online", "-1"} {
		assert.False(t, IsMissing(v), v)
	}
}

func TestForwardFill(t *testing.T) {
	f, err := dataset.NewFrame([]string{"a", "b"}, [][]string{
		{"", "x"},
		{"1", ""},
		{"NaN", "y"},
		{"3", "null"},
	})
	require.NoError(t, err)

	require.NoError(t, ForwardFill(f))
	a, _ := f.Column("a")
	b, _ := f.Column("b")
	assert.Equal(t, []string{"1", "1", "1", "3"}, a)
	assert.Equal(t, []string{"x", "x", "y", "y"}, b)
}

func TestForwardFill_AllMissing(t *testing.T) {
	f, err := dataset.NewFrame([]string{"a"}, [][]string{{""}, {"NA"}})
	require.NoError(t, err)

	err = ForwardFill(f)
	require.Error(t, err)
	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "a", de.Column)
}

func TestSkewCorrector_Threshold(t *testing.T) {
	n := 50
	X := mat.NewDense(n, 2, nil)
	for i := 0; i < n; i++ {
		X.Set(i, 0, 1)
		X.Set(i, 1, float64(i))
	}
	X.Set(0, 0, 10000)
	columns := []string{"skewed", "uniform"}

	sc := NewSkewCorrector(5)
	require.NoError(t, sc.Fit(X, columns, []string{"skewed", "uniform", "absent"}))
	require.Len(t, sc.Decisions, 2)
	assert.Greater(t, sc.Decisions[0].Skewness, 5.0)
	assert.True(t, sc.Applied("skewed"))
	assert.False(t, sc.Applied("uniform"))

	require.NoError(t, sc.Transform(X, columns))
	assert.InDelta(t, math.Log1p(10000), X.At(0, 0), 1e-12)
	assert.InDelta(t, math.Log1p(1), X.At(1, 0), 1e-12)
	assert.Equal(t, 3.0, X.At(3, 1))
}

func TestSkewCorrector_RejectsValuesBelowMinusOne(t *testing.T) {
	sc := SkewCorrectorFromDecisions(5, []SkewDecision{{Column: "lead time", Skewness: 9, Applied: true}})

	_, err := sc.TransformValue("lead time", -1)
	require.Error(t, err)

	v, err := sc.TransformValue("other", -5)
	require.NoError(t, err)
	assert.Equal(t, -5.0, v)
}

func TestSkewCorrector_NotFitted(t *testing.T) {
	sc := NewSkewCorrector(5)
	err := sc.Transform(mat.NewDense(1, 1, nil), []string{"a"})
	var nf *errors.NotFittedError
	assert.True(t, errors.As(err, &nf))
}

func TestSampleSkew_Degenerate(t *testing.T) {
	assert.Equal(t, 0.0, sampleSkew([]float64{1, 2}))
	assert.Equal(t, 0.0, sampleSkew([]float64{3, 3, 3, 3}))
}

func TestPreprocessor_FitTransform(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	p := NewPreprocessor(testProcessing(), WithLogger(logger))

	table, err := p.FitTransform(bookingFrame(t, 60))
	require.NoError(t, err)

	st := p.State()
	assert.Equal(t, []string{"room type", "repeated", "lead time", "average price"}, st.Features)
	assert.Equal(t, st.Features, table.Columns)
	assert.Equal(t, []string{"Canceled", "Not_Canceled"}, st.Label.Classes)
	assert.Equal(t, 60, table.Len())

	// drop columns gone, label encoded alphabetically
	assert.Equal(t, -1, table.ColumnIndex("Booking_ID"))
	labels := table.Labels()
	assert.Equal(t, 0, labels[0])
	assert.Equal(t, 1, labels[1])

	// only the outlier column crosses the threshold
	require.Len(t, st.Skew, 2)
	assert.True(t, st.Skew[0].Applied)
	assert.Equal(t, "lead time", st.Skew[0].Column)
	assert.False(t, st.Skew[1].Applied)
	lead, _ := table.Column("lead time")
	assert.InDelta(t, math.Log1p(10000), lead[0], 1e-12)
	price, _ := table.Column("average price")
	assert.Equal(t, 80.0, price[0])

	assert.True(t, logger.ContainsField(log.ColumnKey, "missing numeric"))
	assert.True(t, logger.ContainsMessage("Configured column not present, skipping"))
}

func TestPreprocessor_WarnsOnNumericCategories(t *testing.T) {
	var warnings []error
	errors.SetWarningHandler(func(w error) { warnings = append(warnings, w) })
	defer errors.SetWarningHandler(func(error) {})

	_, err := NewPreprocessor(testProcessing(), WithLogger(log.NewNopLogger())).FitTransform(bookingFrame(t, 30))
	require.NoError(t, err)

	var columns []string
	for _, w := range warnings {
		var conv *errors.DataConversionWarning
		if errors.As(w, &conv) {
			columns = append(columns, conv.Column)
			assert.Equal(t, "float64", conv.ToType)
		}
	}
	// "room type" holds text labels, "repeated" holds 0/1 codes
	assert.Equal(t, []string{"repeated"}, columns)
}

func TestPreprocessor_RemovesDuplicatesAfterDroppingIDs(t *testing.T) {
	f, err := dataset.NewFrame(
		[]string{"Booking_ID", "lead time", "booking status"},
		[][]string{
			{"INN1", "5", "Canceled"},
			{"INN2", "5", "Canceled"},
			{"INN3", "7", "Not_Canceled"},
		},
	)
	require.NoError(t, err)

	cfg := testProcessing()
	cfg.CategoricalCols = nil
	logger, _ := log.NewTestLogger(log.LevelDebug)
	table, err := NewPreprocessor(cfg, WithLogger(logger)).FitTransform(f)
	require.NoError(t, err)
	assert.Equal(t, 2, table.Len())
	assert.True(t, logger.ContainsField(log.DuplicatesKey, float64(1)))
}

func TestPreprocessor_TransformUsesTrainingState(t *testing.T) {
	logger, _ := log.NewTestLogger(log.LevelDebug)
	p := NewPreprocessor(testProcessing(), WithLogger(logger))
	require.NoError(t, p.Fit(bookingFrame(t, 60)))
	digest := p.State().Digest()

	test, err := dataset.NewFrame(
		[]string{"Booking_ID", "room type", "repeated", "lead time", "average price", "booking status"},
		[][]string{
			{"INN9", "Room_Type 7", "1", "3", "95", "Canceled"},
			{"INN8", "Room_Type 2", "", "0", "90", "Not_Canceled"},
		},
	)
	require.NoError(t, err)

	table, err := p.Transform(test)
	require.NoError(t, err)
	room, _ := table.Column("room type")
	assert.Equal(t, []float64{UnknownCategory, 1}, room)
	repeated, _ := table.Column("repeated")
	assert.Equal(t, []float64{1, 1}, repeated, "forward fill before encoding")
	lead, _ := table.Column("lead time")
	assert.InDelta(t, math.Log1p(3), lead[0], 1e-12)

	assert.Equal(t, digest, p.State().Digest(), "Transform must not refit")
	assert.True(t, logger.ContainsMessage("Unknown categories encoded as -1"))
}

func TestPreprocessor_TransformErrors(t *testing.T) {
	p := NewPreprocessor(testProcessing(), WithLogger(log.NewNopLogger()))
	_, err := p.Transform(bookingFrame(t, 5))
	var nf *errors.NotFittedError
	require.True(t, errors.As(err, &nf))

	require.NoError(t, p.Fit(bookingFrame(t, 60)))

	t.Run("missing feature", func(t *testing.T) {
		f, _ := dataset.NewFrame([]string{"room type", "booking status"}, [][]string{{"Room_Type 1", "Canceled"}})
		_, err := p.Transform(f)
		var de *errors.DataError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "repeated", de.Column)
	})

	t.Run("not a number", func(t *testing.T) {
		f, _ := dataset.NewFrame(
			[]string{"room type", "repeated", "lead time", "average price"},
			[][]string{{"Room_Type 1", "0", "soon", "90"}},
		)
		_, err := p.Transform(f)
		var de *errors.DataError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "lead time", de.Column)
		assert.Equal(t, 0, de.Row)
	})

	t.Run("unknown label", func(t *testing.T) {
		f, _ := dataset.NewFrame(
			[]string{"room type", "repeated", "lead time", "average price", "booking status"},
			[][]string{{"Room_Type 1", "0", "1", "90", "Maybe"}},
		)
		_, err := p.Transform(f)
		var de *errors.DataError
		require.True(t, errors.As(err, &de))
		assert.Equal(t, "booking status", de.Column)
	})

	t.Run("unlabelled frame", func(t *testing.T) {
		f, _ := dataset.NewFrame(
			[]string{"room type", "repeated", "lead time", "average price"},
			[][]string{{"Room_Type 1", "0", "1", "90"}},
		)
		table, err := p.Transform(f)
		require.NoError(t, err)
		assert.Nil(t, table.Y)
	})
}

func TestPreprocessor_MissingLabel(t *testing.T) {
	cfg := testProcessing()
	cfg.LabelCol = "status"
	err := NewPreprocessor(cfg, WithLogger(log.NewNopLogger())).Fit(bookingFrame(t, 10))
	var de *errors.DataError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "status", de.Column)
}

func TestPreprocessor_FromState(t *testing.T) {
	p := NewPreprocessor(testProcessing(), WithLogger(log.NewNopLogger()))
	frame := bookingFrame(t, 40)
	want, err := p.FitTransform(frame)
	require.NoError(t, err)

	restored, err := FromState(p.State(), WithLogger(log.NewNopLogger()))
	require.NoError(t, err)
	assert.True(t, restored.IsFitted())
	assert.Equal(t, p.State().Digest(), restored.State().Digest())

	got, err := restored.Transform(frame)
	require.NoError(t, err)
	assert.True(t, mat.Equal(want.X, got.X))

	_, err = FromState(State{})
	assert.Error(t, err)
}

func TestPreprocessor_TransformRecord(t *testing.T) {
	p := NewPreprocessor(testProcessing(), WithLogger(log.NewNopLogger()))
	require.NoError(t, p.Fit(bookingFrame(t, 60)))

	rec, err := p.TransformRecord(map[string]string{
		"room type":     "Room_Type 3",
		"repeated":      "1",
		"lead time":     "9",
		"average price": "101.5",
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, p.State().Features, rec.Features)
	v, ok := rec.Value("room type")
	assert.True(t, ok)
	assert.Equal(t, 2.0, v)
	v, _ = rec.Value("lead time")
	assert.InDelta(t, math.Log1p(9), v, 1e-12)
	assert.Empty(t, rec.UnknownCategories)

	rec, err = p.TransformRecord(map[string]string{"room type": "Room_Type 9", "lead time": "1"}, []string{"lead time", "room type"})
	require.NoError(t, err)
	assert.Equal(t, []string{"room type"}, rec.UnknownCategories)
	assert.Equal(t, float64(UnknownCategory), rec.Values[1])

	_, err = p.TransformRecord(map[string]string{"room type": "Room_Type 1"}, nil)
	var ie *errors.InferenceError
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "repeated", ie.Field)

	_, err = p.TransformRecord(map[string]string{"lead time": "abc"}, []string{"lead time"})
	require.True(t, errors.As(err, &ie))
	assert.Equal(t, "abc", ie.Value)
}

func TestState_Digest(t *testing.T) {
	p := NewPreprocessor(testProcessing(), WithLogger(log.NewNopLogger()))
	require.NoError(t, p.Fit(bookingFrame(t, 60)))
	st := p.State()

	assert.Len(t, st.Digest(), 16)
	assert.Equal(t, st.Digest(), st.Digest())

	changed := st
	changed.Categorical = append([]CategoryMapping(nil), st.Categorical...)
	changed.Categorical[0] = CategoryMapping{Column: "room type", Classes: []string{"Room_Type 1"}}
	assert.NotEqual(t, st.Digest(), changed.Digest())

	m, ok := st.Mapping("repeated")
	assert.True(t, ok)
	assert.True(t, m.Numeric)
	_, ok = st.Mapping("lead time")
	assert.False(t, ok)
}
