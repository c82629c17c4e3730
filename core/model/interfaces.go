package model

import (
	"gonum.org/v1/gonum/mat"
)

// Fitter は学習可能なモデルのインターフェースです。
// y は n×1 の行列で、クラスラベルを 0..k-1 の整数値として持ちます。
type Fitter interface {
	Fit(X, y mat.Matrix) error
}

// Predictor は予測可能なモデルのインターフェースです。
type Predictor interface {
	// Predict は n×1 の予測ラベル行列を返します。
	Predict(X mat.Matrix) (mat.Matrix, error)
}

// Classifier は分類器のインターフェースです。
type Classifier interface {
	Fitter
	Predictor

	// Classes は学習時に観測したクラスラベルを昇順で返します。
	Classes() []int
}

// ProbabilisticClassifier は確率を出力できる分類器です。
// 推論時、このインターフェースを満たさないモデルはプレースホルダ確率で扱われます。
type ProbabilisticClassifier interface {
	Classifier

	// PredictProba は n×nClasses の確率行列を返します。列の順序は Classes() と同じです。
	PredictProba(X mat.Matrix) (mat.Matrix, error)
}

// FeatureImporter は特徴量重要度を提供するモデルです。重要度は合計1に正規化されます。
type FeatureImporter interface {
	GetFeatureImportances() []float64
}

// ParameterGetter はハイパーパラメータを scikit-learn と同じ名前で返します。
type ParameterGetter interface {
	GetParams() map[string]interface{}
}

// ParameterSetter はハイパーパラメータを名前で設定します。
type ParameterSetter interface {
	SetParams(params map[string]interface{}) error
}

// Estimator はハイパーパラメータ探索で扱える分類器です。
type Estimator interface {
	ProbabilisticClassifier
	ParameterGetter
	ParameterSetter
}
