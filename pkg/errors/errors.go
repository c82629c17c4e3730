// Package errors はパイプライン全体のエラーハンドリングと警告システムを提供します。
// エラーは閉じた種別 (Configuration, Data, Model, Inference) に分類され、
// それぞれが構造化されたコンテキストとスタックトレースを保持します。
package errors

import (
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
)

// ===========================================================================
//
//	グローバル警告ハンドリング
//
// ===========================================================================
var (
	warningMutex   sync.Mutex
	warningHandler = func(w error) {
		log.Printf("bookingcancel-warning: %v\n", w)
	}
	// zerologロガー（循環importを避けるため遅延初期化）
	zerologWarnFunc func(warning error)
)

// SetWarningHandler は警告ハンドラを設定します。
func SetWarningHandler(handler func(w error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	warningHandler = handler
}

// SetZerologWarnFunc はzerolog警告関数を設定します（循環importを避けるため）。
// nil を渡すと従来のハンドラに戻ります。
func SetZerologWarnFunc(warnFunc func(warning error)) {
	warningMutex.Lock()
	defer warningMutex.Unlock()
	zerologWarnFunc = warnFunc
}

// Warn は警告を発生させます。
func Warn(w error) {
	warningMutex.Lock()
	defer warningMutex.Unlock()

	if zerologWarnFunc != nil {
		zerologWarnFunc(w)
		return
	}
	if warningHandler != nil {
		warningHandler(w)
	}
}

// ===========================================================================
//
//	警告型
//
// ===========================================================================

// DataConversionWarning はデータの型が暗黙的に変換された場合に発生する警告です。
type DataConversionWarning struct {
	Column   string
	FromType string
	ToType   string
	Reason   string
}

func (w *DataConversionWarning) Error() string {
	return fmt.Sprintf("column %q converted from %s to %s: %s", w.Column, w.FromType, w.ToType, w.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *DataConversionWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("column", w.Column).
		Str("from_type", w.FromType).
		Str("to_type", w.ToType).
		Str("reason", w.Reason).
		Str("type", "DataConversionWarning")
}

// NewDataConversionWarning は新しいDataConversionWarningを作成します。
func NewDataConversionWarning(column, from, to, reason string) *DataConversionWarning {
	return &DataConversionWarning{Column: column, FromType: from, ToType: to, Reason: reason}
}

// UndefinedMetricWarning は評価指標が計算できない場合に発生する警告です。
// 例えば、適合率(precision)を計算する際に、陽性クラスの予測が一つもなかった場合など。
type UndefinedMetricWarning struct {
	Metric    string
	Condition string
	Result    float64
}

func (w *UndefinedMetricWarning) Error() string {
	return fmt.Sprintf("'%s' is ill-defined and being set to %f due to %s.", w.Metric, w.Result, w.Condition)
}

// MarshalZerologObject はzerologのイベントに構造化された警告情報を追加します。
func (w *UndefinedMetricWarning) MarshalZerologObject(e *zerolog.Event) {
	e.Str("metric", w.Metric).
		Str("condition", w.Condition).
		Float64("result", w.Result).
		Str("type", "UndefinedMetricWarning")
}

// NewUndefinedMetricWarning は新しいUndefinedMetricWarningを作成します。
func NewUndefinedMetricWarning(metric, condition string, result float64) *UndefinedMetricWarning {
	return &UndefinedMetricWarning{Metric: metric, Condition: condition, Result: result}
}

// ===========================================================================
//
//	エラー種別
//
// ===========================================================================

// Kind は境界でエラーを分類するための閉じた種別です。
type Kind int

const (
	// KindUnknown は分類できないエラーです。
	KindUnknown Kind = iota
	// KindConfiguration は設定キーやファイルの欠落・不正です。
	KindConfiguration
	// KindData はスキーマ不一致や全欠損列などのデータ起因のエラーです。
	KindData
	// KindModel はモデル成果物の欠落・破損や学習失敗です。
	KindModel
	// KindInference は推論リクエストの不正です。
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindData:
		return "data"
	case KindModel:
		return "model"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// KindOf はエラーチェーンを辿り、最初に見つかった種別を返します。
func KindOf(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return KindConfiguration
	}
	var dataErr *DataError
	if errors.As(err, &dataErr) {
		return KindData
	}
	var infErr *InferenceError
	if errors.As(err, &infErr) {
		return KindInference
	}
	var modelErr *ModelError
	if errors.As(err, &modelErr) {
		return KindModel
	}
	var notFitted *NotFittedError
	if errors.As(err, &notFitted) {
		return KindModel
	}
	var panicErr *PanicError
	if errors.As(err, &panicErr) {
		return KindModel
	}
	return KindUnknown
}

// ===========================================================================
//
//	構造化されたエラー型
//
// ===========================================================================

// ConfigurationError は設定キーの欠落・不正、または必要なファイルの欠落を表します。
// 実行は中断されます。
type ConfigurationError struct {
	Key    string
	Path   string
	Reason string
	Err    error
}

func (e *ConfigurationError) Error() string {
	msg := "bookingcancel: configuration"
	if e.Key != "" {
		msg += fmt.Sprintf(" key %q", e.Key)
	}
	if e.Path != "" {
		msg += fmt.Sprintf(" path %q", e.Path)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ConfigurationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("key", e.Key).
		Str("path", e.Path).
		Str("reason", e.Reason).
		Str("type", "ConfigurationError")
}

// NewConfigurationError は設定キーに関するConfigurationErrorを作成し、スタックトレースを付与します。
func NewConfigurationError(key, reason string) error {
	return errors.WithStack(&ConfigurationError{Key: key, Reason: reason})
}

// NewConfigurationPathError はファイルパスに関するConfigurationErrorを作成します。
func NewConfigurationPathError(key, path, reason string, cause error) error {
	return errors.WithStack(&ConfigurationError{Key: key, Path: path, Reason: reason, Err: cause})
}

// DataError は予期しないスキーマ、全欠損列、クラスのサンプル不足などを表します。
// Row は 0 始まりの行番号で、該当しない場合は -1 です。
type DataError struct {
	Op     string
	Column string
	Class  string
	Row    int
	Reason string
	Err    error
}

func (e *DataError) Error() string {
	msg := fmt.Sprintf("bookingcancel: %s: data", e.Op)
	if e.Column != "" {
		msg += fmt.Sprintf(" column %q", e.Column)
	}
	if e.Class != "" {
		msg += fmt.Sprintf(" class %q", e.Class)
	}
	if e.Row >= 0 {
		msg += fmt.Sprintf(" row %d", e.Row)
	}
	msg += ": " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DataError) Unwrap() error { return e.Err }

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DataError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("column", e.Column).
		Str("class", e.Class).
		Int("row", e.Row).
		Str("reason", e.Reason).
		Str("type", "DataError")
}

// NewDataError は列に関するDataErrorを作成し、スタックトレースを付与します。
func NewDataError(op, column, reason string) error {
	return errors.WithStack(&DataError{Op: op, Column: column, Row: -1, Reason: reason})
}

// NewDataRowError は特定の行のセルに関するDataErrorを作成します。
func NewDataRowError(op, column string, row int, reason string, cause error) error {
	return errors.WithStack(&DataError{Op: op, Column: column, Row: row, Reason: reason, Err: cause})
}

// NewClassDataError はクラスに関するDataErrorを作成します。
func NewClassDataError(op, class, reason string) error {
	return errors.WithStack(&DataError{Op: op, Class: class, Row: -1, Reason: reason})
}

// ModelError はモデルや成果物に関するエラーです。
type ModelError struct {
	Op   string
	Kind string
	Path string
	Err  error
}

func (e *ModelError) Error() string {
	msg := fmt.Sprintf("bookingcancel: %s: %s", e.Op, e.Kind)
	if e.Path != "" {
		msg += fmt.Sprintf(" (%s)", e.Path)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ModelError) Unwrap() error {
	return e.Err
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ModelError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Str("kind", e.Kind).
		Str("path", e.Path).
		Str("type", "ModelError")
}

// NewModelError は新しいModelErrorを作成し、スタックトレースを付与します。
func NewModelError(op, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Err: err})
}

// NewArtifactError は成果物ファイルに関するModelErrorを作成します。
func NewArtifactError(op, path, kind string, err error) error {
	return errors.WithStack(&ModelError{Op: op, Kind: kind, Path: path, Err: err})
}

// InferenceError は推論リクエストのフィールドが欠落または不正な場合のエラーです。
type InferenceError struct {
	Field  string
	Value  string
	Reason string
}

func (e *InferenceError) Error() string {
	if e.Value != "" {
		return fmt.Sprintf("bookingcancel: field %q (value %q): %s", e.Field, e.Value, e.Reason)
	}
	return fmt.Sprintf("bookingcancel: field %q: %s", e.Field, e.Reason)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *InferenceError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("field", e.Field).
		Str("value", e.Value).
		Str("reason", e.Reason).
		Str("type", "InferenceError")
}

// NewInferenceError は新しいInferenceErrorを作成し、スタックトレースを付与します。
func NewInferenceError(field, value, reason string) error {
	return errors.WithStack(&InferenceError{Field: field, Value: value, Reason: reason})
}

// NotFittedError はモデルが未学習の状態で `Predict` や `Transform` を呼び出した場合のエラーです。
type NotFittedError struct {
	ModelName string
	Method    string
}

func (e *NotFittedError) Error() string {
	return fmt.Sprintf("bookingcancel: %s: this model is not fitted yet. Call Fit() before using %s()", e.ModelName, e.Method)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *NotFittedError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("model_name", e.ModelName).
		Str("method", e.Method).
		Str("type", "NotFittedError")
}

// NewNotFittedError は新しいNotFittedErrorを作成し、スタックトレースを付与します。
func NewNotFittedError(modelName, method string) error {
	return errors.WithStack(&NotFittedError{ModelName: modelName, Method: method})
}

// DimensionError は入力データの次元が期待値と異なる場合のエラーです。
type DimensionError struct {
	Op       string
	Expected int
	Got      int
	Axis     int // 0 for rows, 1 for columns/features
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("bookingcancel: %s: dimension mismatch on axis %d (%s). Expected %d, got %d", e.Op, e.Axis, e.axisName(), e.Expected, e.Got)
}

func (e *DimensionError) axisName() string {
	if e.Axis == 0 {
		return "rows"
	}
	return "features"
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *DimensionError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("operation", e.Op).
		Int("expected", e.Expected).
		Int("got", e.Got).
		Int("axis", e.Axis).
		Str("axis_name", e.axisName()).
		Str("type", "DimensionError")
}

// NewDimensionError は新しいDimensionErrorを作成し、スタックトレースを付与します。
func NewDimensionError(op string, expected, got, axis int) error {
	return errors.WithStack(&DimensionError{Op: op, Expected: expected, Got: got, Axis: axis})
}

// ValidationError は入力パラメータの検証に失敗した場合のエラーです。
type ValidationError struct {
	ParamName string
	Reason    string
	Value     interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("bookingcancel: validation failed for parameter '%s': %s (got: %v)", e.ParamName, e.Reason, e.Value)
}

// MarshalZerologObject はzerologのイベントに構造化されたエラー情報を追加します。
func (e *ValidationError) MarshalZerologObject(event *zerolog.Event) {
	event.Str("param_name", e.ParamName).
		Str("reason", e.Reason).
		Interface("value", e.Value).
		Str("type", "ValidationError")
}

// NewValidationError は新しいValidationErrorを作成し、スタックトレースを付与します。
func NewValidationError(param, reason string, value interface{}) error {
	return errors.WithStack(&ValidationError{ParamName: param, Reason: reason, Value: value})
}

// ValueError は引数の値が不適切または不正な場合に発生するエラーです。
type ValueError struct {
	Op      string
	Message string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("bookingcancel: %s: %s", e.Op, e.Message)
}

// NewValueError は新しいValueErrorを作成し、スタックトレースを付与します。
func NewValueError(op, message string) error {
	return errors.WithStack(&ValueError{Op: op, Message: message})
}

// ===========================================================================
//
//	cockroachdb/errors ラッパー関数
//
// ===========================================================================

// Is はエラーが特定のターゲットエラーかどうかを判定します。
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As はエラーが特定の型にキャスト可能かどうかを判定します。
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}

// Wrap は既存のエラーをメッセージ付きでラップします。
func Wrap(err error, message string) error {
	return errors.Wrap(err, message)
}

// Wrapf は既存のエラーをフォーマット文字列でラップします。
func Wrapf(err error, format string, args ...interface{}) error {
	return errors.Wrapf(err, format, args...)
}

// New は新しいエラーを作成します。
func New(message string) error {
	return errors.New(message)
}

// Newf は新しいフォーマット済みエラーを作成します。
func Newf(format string, args ...interface{}) error {
	return errors.Newf(format, args...)
}

// WithStack はエラーにスタックトレースを付与します。
func WithStack(err error) error {
	return errors.WithStack(err)
}

// ===========================================================================
//
//	共通エラー変数
//
// ===========================================================================

var (
	// ErrEmptyData は空のデータが渡された場合のエラーです。
	ErrEmptyData = New("empty data")
)
