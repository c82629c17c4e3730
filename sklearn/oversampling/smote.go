// Package oversampling balances class counts by synthesising minority
// samples (SMOTE). It is applied to the training partition only.
package oversampling

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"
	"strconv"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/core/parallel"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
	"github.com/YuminosukeSato/bookingcancel/pkg/log"
)

// SMOTE は Synthetic Minority Over-sampling Technique の実装です。
// 少数クラスの各サンプルと同クラスの k 近傍の間を線形補間して
// 合成サンプルを作り、全クラスを多数クラスの件数に揃えます。
type SMOTE struct {
	kNeighbors  int
	randomState int64
	nJobs       int
	logger      log.Logger
}

// Option configures SMOTE.
type Option func(*SMOTE)

// WithKNeighbors sets the number of same-class neighbours to interpolate towards.
func WithKNeighbors(k int) Option {
	return func(s *SMOTE) { s.kNeighbors = k }
}

// WithRandomState seeds sample and neighbour selection.
func WithRandomState(seed int64) Option {
	return func(s *SMOTE) { s.randomState = seed }
}

// WithNJobs sets the neighbour-search workers (<= 0: all CPUs).
func WithNJobs(n int) Option {
	return func(s *SMOTE) { s.nJobs = n }
}

// WithLogger replaces the component logger.
func WithLogger(l log.Logger) Option {
	return func(s *SMOTE) { s.logger = l }
}

// NewSMOTE は新しいSMOTEを作成する
//
// 使用例:
//
//	sm := oversampling.NewSMOTE(oversampling.WithKNeighbors(5), oversampling.WithRandomState(42))
//	Xr, yr, err := sm.FitResample(X, y)
func NewSMOTE(opts ...Option) *SMOTE {
	s := &SMOTE{
		kNeighbors:  5,
		randomState: 42,
		logger:      log.GetLoggerWithName("oversampling"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FitResample は全クラスを多数クラスと同数にしたデータを返す
//
// 元のサンプルはそのままの順序で先頭に残り、合成サンプルはクラスの昇順に
// 末尾へ追加される。
//
// パラメータ:
//   - X: 特徴量 (n_samples × n_features)
//   - y: ラベル (n_samples)
//
// 戻り値:
//   - error: クラスが2つ未満、または合成が必要なクラスのサンプル数が k 以下の場合
func (s *SMOTE) FitResample(X mat.Matrix, y mat.Vector) (Xr *mat.Dense, yr *mat.VecDense, err error) {
	defer errors.Recover(&err, "SMOTE.FitResample")
	start := time.Now()

	if s.kNeighbors < 1 {
		return nil, nil, errors.NewValidationError("k_neighbors", "must be >= 1", s.kNeighbors)
	}
	n, p := X.Dims()
	if n == 0 || p == 0 {
		return nil, nil, errors.NewModelError("SMOTE.FitResample", "empty data", errors.ErrEmptyData)
	}
	if y.Len() != n {
		return nil, nil, errors.NewDimensionError("SMOTE.FitResample", n, y.Len(), 0)
	}

	members := make(map[float64][]int)
	for i := 0; i < n; i++ {
		members[y.AtVec(i)] = append(members[y.AtVec(i)], i)
	}
	classes := make([]float64, 0, len(members))
	majority := 0
	for c, idx := range members {
		classes = append(classes, c)
		if len(idx) > majority {
			majority = len(idx)
		}
	}
	sort.Float64s(classes)
	if len(classes) < 2 {
		return nil, nil, errors.NewDataError("SMOTE.FitResample", "", fmt.Sprintf("need at least 2 classes, got %d", len(classes)))
	}

	for _, c := range classes {
		if need := majority - len(members[c]); need > 0 && len(members[c]) <= s.kNeighbors {
			return nil, nil, errors.NewClassDataError("SMOTE.FitResample", formatClass(c),
				fmt.Sprintf("%d samples, need more than k_neighbors=%d to synthesise", len(members[c]), s.kNeighbors))
		}
	}

	total := majority * len(classes)
	Xr = mat.NewDense(total, p, nil)
	yr = mat.NewVecDense(total, nil)
	for i := 0; i < n; i++ {
		for j := 0; j < p; j++ {
			Xr.Set(i, j, X.At(i, j))
		}
		yr.SetVec(i, y.AtVec(i))
	}

	rng := rand.New(rand.NewPCG(uint64(s.randomState), uint64(s.randomState)))
	row := n
	for _, c := range classes {
		idx := members[c]
		need := majority - len(idx)
		if need == 0 {
			continue
		}

		pts := mat.NewDense(len(idx), p, nil)
		for k, i := range idx {
			pts.SetRow(k, Xr.RawRowView(i))
		}
		nn := s.neighbours(pts)

		for m := 0; m < need; m++ {
			a := rng.IntN(len(idx))
			b := nn[a][rng.IntN(len(nn[a]))]
			u := rng.Float64()
			xa, xb := pts.RawRowView(a), pts.RawRowView(b)
			dst := Xr.RawRowView(row)
			for j := range dst {
				dst[j] = xa[j] + u*(xb[j]-xa[j])
			}
			yr.SetVec(row, c)
			row++
		}
		s.logger.Info("Synthesised minority samples",
			log.ClassKey, formatClass(c),
			"original", len(idx),
			"synthetic", need,
		)
	}

	s.logger.Info("Classes balanced",
		log.OperationKey, log.OperationResample,
		log.SamplesKey, total,
		"per_class", majority,
		log.DurationMsKey, time.Since(start).Milliseconds(),
	)
	return Xr, yr, nil
}

// neighbours returns, for every row of pts, the indices of its k nearest
// other rows by Euclidean distance. Ties go to the lower index.
func (s *SMOTE) neighbours(pts *mat.Dense) [][]int {
	n, _ := pts.Dims()
	k := s.kNeighbors
	out := make([][]int, n)

	parallel.ParallelizeN(n, s.nJobs, func(start, end int) {
		bestD := make([]float64, k)
		bestI := make([]int, k)
		for i := start; i < end; i++ {
			for m := range bestD {
				bestD[m] = math.Inf(1)
				bestI[m] = -1
			}
			xi := pts.RawRowView(i)
			for j := 0; j < n; j++ {
				if j == i {
					continue
				}
				d := floats.Distance(xi, pts.RawRowView(j), 2)
				if d >= bestD[k-1] {
					continue
				}
				// insertion into the sorted top-k; equal distances keep the earlier index
				m := k - 1
				for m > 0 && bestD[m-1] > d {
					bestD[m], bestI[m] = bestD[m-1], bestI[m-1]
					m--
				}
				bestD[m], bestI[m] = d, j
			}
			out[i] = append([]int(nil), bestI...)
		}
	})
	return out
}

func formatClass(c float64) string {
	return strconv.FormatFloat(c, 'g', -1, 64)
}
