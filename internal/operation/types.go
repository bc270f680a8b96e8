package operation

import (
	"errors"
	"time"
)

// Kind は操作の種別を表す
type Kind string

// Kind の定数定義
const (
	KindSequence Kind = "sequence" // 撮影シーケンス
	KindRawBurst Kind = "rawburst" // RAW連続撮影
	KindVideo    Kind = "video"    // 動画録画
	KindPreview  Kind = "preview"  // プレビューストリーミング
)

// State は操作の状態を表す
type State string

// State の定数定義
const (
	StatePending   State = "pending"   // 作成済み、実行開始前
	StateRunning   State = "running"   // 実行中
	StateDone      State = "done"      // 正常完了
	StateError     State = "error"     // エラーで中断
	StateCancelled State = "cancelled" // キャンセルで中断
)

// IsTerminal は終端状態（これ以上遷移しない状態）かどうかを返す
func (s State) IsTerminal() bool {
	switch s {
	case StateDone, StateError, StateCancelled:
		return true
	default:
		return false
	}
}

// Progress は操作の進捗を表す
// Total が 0 の場合は総数未知（無制限のRAWバースト等）を意味する
type Progress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// Operation は長時間実行されるカメラ操作のスナップショット
type Operation struct {
	ID               string    `json:"id"`                 // 一意識別子（作成時に生成、不変）
	Kind             Kind      `json:"kind"`               // 操作種別
	State            State     `json:"state"`              // 現在の状態
	Progress         Progress  `json:"progress"`           // 進捗
	LastArtifactPath string    `json:"last_path,omitempty"` // 最後に生成された成果物のパス
	ErrorDetail      string    `json:"error,omitempty"`    // State == error の場合のみ設定
	CreatedAt        time.Time `json:"created_at"`         // 作成時刻
}

// 操作照会・キャンセル時のエラー
var (
	// ErrNotFound は指定されたIDの操作が存在しないことを表す
	ErrNotFound = errors.New("操作が見つかりません")

	// ErrAlreadyTerminal は既に終端状態の操作に対する操作要求を表す
	// （停止ボタンの二度押し等、害のない競合）
	ErrAlreadyTerminal = errors.New("操作は既に終了しています")
)
