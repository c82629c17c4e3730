package preprocessing

import (
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/YuminosukeSato/bookingcancel/core/model"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// SkewDecision は1列分の歪度と log1p 変換の適用有無です。
// 学習時に一度だけ決定され、推論時に再計算されることはありません。
type SkewDecision struct {
	Column   string  `msgpack:"column" json:"column"`
	Skewness float64 `msgpack:"skewness" json:"skewness"`
	Applied  bool    `msgpack:"applied" json:"applied"`
}

// SkewCorrector は歪度が閾値を超える数値列に log1p を適用する変換器です。
type SkewCorrector struct {
	state *model.StateManager

	// Threshold はこの値を厳密に超える歪度の列だけを変換します
	Threshold float64

	// Decisions は Fit で決定された列ごとの判定です
	Decisions []SkewDecision
}

// NewSkewCorrector は新しいSkewCorrectorを作成する
//
// 使用例:
//
//	sc := preprocessing.NewSkewCorrector(5.0)
//	err := sc.Fit(X, columns, []string{"lead time", "average price"})
//	err = sc.Transform(X, columns)
func NewSkewCorrector(threshold float64) *SkewCorrector {
	return &SkewCorrector{
		state:     model.NewStateManager(),
		Threshold: threshold,
	}
}

// SkewCorrectorFromDecisions は保存済みの判定から学習済みの変換器を復元します。
func SkewCorrectorFromDecisions(threshold float64, decisions []SkewDecision) *SkewCorrector {
	sc := NewSkewCorrector(threshold)
	sc.Decisions = append([]SkewDecision(nil), decisions...)
	sc.state.SetDimensions(len(decisions), 0)
	sc.state.SetFitted()
	return sc
}

// Fit は candidates に含まれる列の標本歪度（調整済み Fisher-Pearson 係数）を計算し、
// 変換の有無を決定する
//
// パラメータ:
//   - X: 訓練データ (n_samples × n_features の行列)
//   - columns: X の列名
//   - candidates: 判定対象の数値列。X に存在しない列は無視される
//
// 戻り値:
//   - error: エラーが発生した場合
func (s *SkewCorrector) Fit(X mat.Matrix, columns []string, candidates []string) error {
	r, c := X.Dims()
	if r == 0 || c == 0 {
		return errors.NewModelError("SkewCorrector.Fit", "empty data", errors.ErrEmptyData)
	}
	if c != len(columns) {
		return errors.NewDimensionError("SkewCorrector.Fit", len(columns), c, 1)
	}

	index := make(map[string]int, len(columns))
	for j, name := range columns {
		index[name] = j
	}

	s.Decisions = s.Decisions[:0]
	col := make([]float64, r)
	for _, name := range candidates {
		j, ok := index[name]
		if !ok {
			continue
		}
		mat.Col(col, j, X)
		skew := sampleSkew(col)
		s.Decisions = append(s.Decisions, SkewDecision{
			Column:   name,
			Skewness: skew,
			Applied:  skew > s.Threshold,
		})
	}

	s.state.SetDimensions(len(s.Decisions), r)
	s.state.SetFitted()
	return nil
}

// sampleSkew は pandas の Series.skew と同じ値を返す。
// 3件未満または分散0の列は 0 とする。
func sampleSkew(x []float64) float64 {
	if len(x) < 3 {
		return 0
	}
	skew := stat.Skew(x, nil)
	if math.IsNaN(skew) || math.IsInf(skew, 0) {
		return 0
	}
	return skew
}

// Transform は学習済みの判定に従って X の該当列に log1p をその場で適用する
//
// パラメータ:
//   - X: 変換するデータ
//   - columns: X の列名
//
// 戻り値:
//   - error: -1 以下の値を含む列があった場合
func (s *SkewCorrector) Transform(X *mat.Dense, columns []string) error {
	if !s.state.IsFitted() {
		return errors.NewNotFittedError("SkewCorrector", "Transform")
	}
	r, c := X.Dims()
	if c != len(columns) {
		return errors.NewDimensionError("SkewCorrector.Transform", len(columns), c, 1)
	}

	index := make(map[string]int, len(columns))
	for j, name := range columns {
		index[name] = j
	}
	for _, d := range s.Decisions {
		if !d.Applied {
			continue
		}
		j, ok := index[d.Column]
		if !ok {
			continue
		}
		for i := 0; i < r; i++ {
			v, err := s.log1p(d.Column, X.At(i, j))
			if err != nil {
				return errors.NewDataRowError("SkewCorrector.Transform", d.Column, i, err.Error(), nil)
			}
			X.Set(i, j, v)
		}
	}
	return nil
}

// TransformValue は1つの値に対して学習済みの判定を適用する
func (s *SkewCorrector) TransformValue(column string, v float64) (float64, error) {
	if !s.Applied(column) {
		return v, nil
	}
	return s.log1p(column, v)
}

func (s *SkewCorrector) log1p(column string, v float64) (float64, error) {
	if v <= -1 {
		return 0, errors.Newf("log1p undefined for %v in skew-corrected column %q", v, column)
	}
	return math.Log1p(v), nil
}

// Applied は列に log1p が適用されるかどうかを返す
func (s *SkewCorrector) Applied(column string) bool {
	for _, d := range s.Decisions {
		if d.Column == column {
			return d.Applied
		}
	}
	return false
}
