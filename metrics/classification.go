// Package metrics は分類モデルの評価指標を提供します。
package metrics

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// logLossEpsilon は log(0) を避けるための確率のクリップ幅
const logLossEpsilon = 1e-15

// checkPair は2つのベクトルが nil でも空でもなく、同じ長さであることを確認する
func checkPair(op string, yTrue, yPred *mat.VecDense) (int, error) {
	if yTrue == nil || yPred == nil {
		return 0, errors.NewValueError(op, "nil vector")
	}
	n := yTrue.Len()
	if n == 0 {
		return 0, errors.NewValueError(op, "empty vector")
	}
	if yPred.Len() != n {
		return 0, errors.NewDimensionError(op, n, yPred.Len(), 0)
	}
	return n, nil
}

func checkBinary(op string, y *mat.VecDense) error {
	for i := 0; i < y.Len(); i++ {
		if v := y.AtVec(i); v != 0 && v != 1 {
			return errors.NewValueError(op, fmt.Sprintf("labels must be 0 or 1, got %v at index %d", v, i))
		}
	}
	return nil
}

// Accuracy は正解率を計算する
func Accuracy(yTrue, yPred *mat.VecDense) (float64, error) {
	n, err := checkPair("Accuracy", yTrue, yPred)
	if err != nil {
		return 0, err
	}
	correct := 0
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == yPred.AtVec(i) {
			correct++
		}
	}
	return float64(correct) / float64(n), nil
}

// ConfusionMatrix は二値の混同行列を posLabel を陽性として数える
type ConfusionMatrix struct {
	TP, FP, TN, FN int
}

// NewConfusionMatrix は yTrue と yPred から混同行列を作成する
func NewConfusionMatrix(yTrue, yPred *mat.VecDense, posLabel float64) (ConfusionMatrix, error) {
	n, err := checkPair("ConfusionMatrix", yTrue, yPred)
	if err != nil {
		return ConfusionMatrix{}, err
	}
	var cm ConfusionMatrix
	for i := 0; i < n; i++ {
		actual := yTrue.AtVec(i) == posLabel
		predicted := yPred.AtVec(i) == posLabel
		switch {
		case actual && predicted:
			cm.TP++
		case !actual && predicted:
			cm.FP++
		case actual && !predicted:
			cm.FN++
		default:
			cm.TN++
		}
	}
	return cm, nil
}

// Precision は適合率 TP / (TP + FP) を計算する。
// 陽性の予測が1件もない場合は UndefinedMetricWarning を出して 0 を返す。
func Precision(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred, posLabel)
	if err != nil {
		return 0, errors.Wrap(err, "Precision")
	}
	return cm.precision(), nil
}

// Recall は再現率 TP / (TP + FN) を計算する。
// 陽性のサンプルが1件もない場合は UndefinedMetricWarning を出して 0 を返す。
func Recall(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred, posLabel)
	if err != nil {
		return 0, errors.Wrap(err, "Recall")
	}
	return cm.recall(), nil
}

// F1Score は適合率と再現率の調和平均を計算する
func F1Score(yTrue, yPred *mat.VecDense, posLabel float64) (float64, error) {
	cm, err := NewConfusionMatrix(yTrue, yPred, posLabel)
	if err != nil {
		return 0, errors.Wrap(err, "F1Score")
	}
	p, r := cm.precision(), cm.recall()
	if p+r == 0 {
		return 0, nil
	}
	return 2 * p * r / (p + r), nil
}

func (cm ConfusionMatrix) precision() float64 {
	if cm.TP+cm.FP == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("precision", "no predicted samples", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FP)
}

func (cm ConfusionMatrix) recall() float64 {
	if cm.TP+cm.FN == 0 {
		errors.Warn(errors.NewUndefinedMetricWarning("recall", "no true samples", 0))
		return 0
	}
	return float64(cm.TP) / float64(cm.TP+cm.FN)
}

// AUC は ROC 曲線下面積を Mann-Whitney の U 統計量として計算する。
// 同順位のスコアには平均順位を与える。片方のクラスしかない場合は 0.5 を返す。
func AUC(yTrue, yScore *mat.VecDense) (float64, error) {
	n, err := checkPair("AUC", yTrue, yScore)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("AUC", yTrue); err != nil {
		return 0, err
	}

	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return yScore.AtVec(idx[a]) < yScore.AtVec(idx[b]) })

	// 平均順位（1始まり）
	ranks := make([]float64, n)
	for i := 0; i < n; {
		j := i
		for j+1 < n && yScore.AtVec(idx[j+1]) == yScore.AtVec(idx[i]) {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var nPos, nNeg int
	var rankSum float64
	for i := 0; i < n; i++ {
		if yTrue.AtVec(i) == 1 {
			nPos++
			rankSum += ranks[i]
		} else {
			nNeg++
		}
	}
	if nPos == 0 || nNeg == 0 {
		return 0.5, nil
	}
	u := rankSum - float64(nPos)*float64(nPos+1)/2
	return u / (float64(nPos) * float64(nNeg)), nil
}

// BinaryLogLoss は二値交差エントロピーを計算する。yProb は陽性クラスの確率。
func BinaryLogLoss(yTrue, yProb *mat.VecDense) (float64, error) {
	n, err := checkPair("BinaryLogLoss", yTrue, yProb)
	if err != nil {
		return 0, err
	}
	if err := checkBinary("BinaryLogLoss", yTrue); err != nil {
		return 0, err
	}

	var sum float64
	for i := 0; i < n; i++ {
		p := math.Min(math.Max(yProb.AtVec(i), logLossEpsilon), 1-logLossEpsilon)
		if yTrue.AtVec(i) == 1 {
			sum -= math.Log(p)
		} else {
			sum -= math.Log(1 - p)
		}
	}
	return sum / float64(n), nil
}
