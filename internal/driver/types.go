package driver

import (
	"context"
	"errors"
	"image"
)

// ErrDriverFault はハードウェア・ドライバ呼び出しの失敗を表す
var ErrDriverFault = errors.New("ドライバ呼び出しに失敗しました")

// WhiteBalance は手動ホワイトバランスのR/Bゲイン
type WhiteBalance struct {
	Red  float64 `json:"r"`
	Blue float64 `json:"b"`
}

// Mode は撮影モードの設定
// ファイル出力のフォーマットは出力パスの拡張子（.jpg / .dng）で決まる
type Mode struct {
	Width     int           // 画像幅
	Height    int           // 画像高さ
	ShutterUs int64         // 露光時間（マイクロ秒）
	Gain      float64       // アナログゲイン（ISO相当）
	AWB       *WhiteBalance // nil の場合は自動ホワイトバランス
	Denoise   string        // ノイズ低減: off, cdn, auto
	FrameRate int           // フレームレート（動画・プレビュー用）
	Codec     string        // 動画コーデック: h264, mjpeg, yuv420
	Bitrate   string        // 動画ビットレート（例: 25M）
}

// Driver はカメラハードウェアの操作能力を表す
// 排他制御は行わない。同時に1つの呼び出しだけが行われることは
// 呼び出し側のリソースガードが保証する
type Driver interface {
	// Configure は撮影モードを設定する
	Configure(ctx context.Context, mode Mode) error

	// CaptureFrame は現在のモードで1フレームを取得する
	// プレビューストリーミングとフォーカス測定に使用する
	CaptureFrame(ctx context.Context) (image.Image, error)

	// CaptureToFile は指定モードで撮影し、成果物をパスに書き出す
	CaptureToFile(ctx context.Context, mode Mode, path string) error

	// Record は動画録画を開始し、ctx がキャンセルされるまでブロックする
	// 停止要求による終了は正常終了としてnilを返す
	Record(ctx context.Context, mode Mode, path string) error

	// Close はドライバのリソースを解放する
	Close() error
}
