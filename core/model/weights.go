package model

import (
	"github.com/goccy/go-json"

	"github.com/YuminosukeSato/otpboost/pkg/errors"
)

// WeightsVersion is the current format version of ModelWeights.
const WeightsVersion = "1"

// ModelWeights はモデルの重みを表す構造体（シリアライゼーション用）
type ModelWeights struct {
	// ModelType はモデルの種類（LogisticRegression等）
	ModelType string `json:"model_type"`

	// Version はフォーマットのバージョン（互換性チェック用）
	Version string `json:"version"`

	// Coefficients は入力列ごとの重み係数
	Coefficients []float64 `json:"coefficients"`

	// Intercept は切片
	Intercept float64 `json:"intercept"`

	// Features は学習時の特徴量の名前（順序付き）
	Features []string `json:"features"`

	// Hyperparameters はモデルのハイパーパラメータ
	Hyperparameters map[string]interface{} `json:"hyperparameters,omitempty"`

	// Metadata は追加のメタデータ（標準化の統計量やone-hotの水準等）
	Metadata map[string]json.RawMessage `json:"metadata,omitempty"`

	// BestIteration は早期終了で採用された反復（1始まり、0は未発動）
	BestIteration int `json:"best_iteration"`

	// IsFitted はモデルが学習済みかどうか
	IsFitted bool `json:"is_fitted"`
}

// SetMeta はメタデータにvをJSONとして格納する
func (mw *ModelWeights) SetMeta(key string, v interface{}) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "metadata %s", key)
	}
	if mw.Metadata == nil {
		mw.Metadata = make(map[string]json.RawMessage)
	}
	mw.Metadata[key] = raw
	return nil
}

// GetMeta はメタデータをvにデコードする
func (mw *ModelWeights) GetMeta(key string, v interface{}) error {
	raw, ok := mw.Metadata[key]
	if !ok {
		return errors.Newf("metadata %s not found", key)
	}
	return json.Unmarshal(raw, v)
}

// Validate はModelWeightsの妥当性を検証
func (mw *ModelWeights) Validate() error {
	if mw.ModelType == "" {
		return errors.New("model_type is required")
	}
	if mw.Version != WeightsVersion {
		return errors.Newf("unsupported weights version %q", mw.Version)
	}
	if !mw.IsFitted {
		return errors.New("weights are not fitted")
	}
	if len(mw.Coefficients) == 0 {
		return errors.New("fitted model must have coefficients")
	}
	if len(mw.Features) == 0 {
		return errors.New("features are required")
	}
	return nil
}
