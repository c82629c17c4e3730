package model

import (
	"sync"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// StateManager はモデルの学習状態と入力次元をスレッドセーフに管理します。
// 各推定器はこれを埋め込む代わりにフィールドとして保持します。
type StateManager struct {
	Fitted bool `msgpack:"fitted"`
	mu     sync.RWMutex

	NFeatures int `msgpack:"n_features"`
	NSamples  int `msgpack:"n_samples"`
}

// NewStateManager は未学習状態のStateManagerを作成します。
func NewStateManager() *StateManager {
	return &StateManager{}
}

// IsFitted は学習済みかどうかを返します。
func (s *StateManager) IsFitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Fitted
}

// SetFitted は学習済み状態に設定します。
func (s *StateManager) SetFitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = true
}

// Reset は未学習状態に戻します。
func (s *StateManager) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Fitted = false
	s.NFeatures = 0
	s.NSamples = 0
}

// SetDimensions は学習データの特徴量数とサンプル数を記録します。
func (s *StateManager) SetDimensions(nFeatures, nSamples int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.NFeatures = nFeatures
	s.NSamples = nSamples
}

// GetDimensions は記録された特徴量数とサンプル数を返します。
func (s *StateManager) GetDimensions() (nFeatures, nSamples int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.NFeatures, s.NSamples
}

// RequireFitted は未学習の場合にNotFittedErrorを返します。
func (s *StateManager) RequireFitted(modelName, method string) error {
	if !s.IsFitted() {
		return errors.NewNotFittedError(modelName, method)
	}
	return nil
}

// RequireFeatures は学習済みであり、かつ入力の特徴量数が学習時と一致することを確認します。
func (s *StateManager) RequireFeatures(modelName, method string, got int) error {
	if err := s.RequireFitted(modelName, method); err != nil {
		return err
	}
	nFeatures, _ := s.GetDimensions()
	if got != nFeatures {
		return errors.NewDimensionError(modelName+"."+method, nFeatures, got, 1)
	}
	return nil
}

// ModelState はシリアライズ用のモデル状態です。
type ModelState struct {
	Fitted    bool `msgpack:"fitted" json:"fitted"`
	NFeatures int  `msgpack:"n_features,omitempty" json:"n_features,omitempty"`
	NSamples  int  `msgpack:"n_samples,omitempty" json:"n_samples,omitempty"`
}

// GetState は現在の状態のスナップショットを返します。
func (s *StateManager) GetState() ModelState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ModelState{
		Fitted:    s.Fitted,
		NFeatures: s.NFeatures,
		NSamples:  s.NSamples,
	}
}

// SetState は保存された状態を復元します。
func (s *StateManager) SetState(state ModelState) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Fitted = state.Fitted
	s.NFeatures = state.NFeatures
	s.NSamples = state.NSamples
}
