package capture

import (
	"errors"
	"fmt"

	"astrocam/internal/driver"
)

// 受付・検証のエラー
var (
	// ErrBusy はカメラが別の操作に占有されていることを表す
	// 受付は待機せず即座にこのエラーで拒否される
	ErrBusy = errors.New("カメラは使用中です")

	// ErrInvalidParameters はリクエストパラメータの検証失敗を表す
	ErrInvalidParameters = errors.New("パラメータが無効です")
)

// フォーマット・種別の定義
const (
	FormatJPEG    = "jpeg"
	FormatDNG     = "dng"
	FormatJPEGDNG = "jpeg+dng"
)

// sequenceTypes はシーケンス撮影のフレーム種別
var sequenceTypes = map[string]bool{
	"subs":  true,
	"darks": true,
	"bias":  true,
	"flats": true,
}

// StillParams は静止画撮影のパラメータ
type StillParams struct {
	Mode      string               // M または Bulb
	Format    string               // jpeg, dng, jpeg+dng
	ShutterUs int64                // 露光時間（マイクロ秒）
	Gain      float64              // アナログゲイン
	AWB       *driver.WhiteBalance // 手動ホワイトバランス（nilで自動）
	Denoise   string               // off, cdn, auto
	Folder    string               // セッションフォルダ名（空でタイムスタンプ）
	Notes     map[string]string    // レンズ・対象などのメモ
}

// StillResult は静止画撮影の結果
type StillResult struct {
	PathJPEG  string         `json:"path_jpeg,omitempty"`
	PathDNG   string         `json:"path_dng,omitempty"`
	EXIF      map[string]any `json:"exif"`
	ElapsedMs int64          `json:"elapsed_ms"`
}

// SequenceParams はシーケンス撮影のパラメータ
type SequenceParams struct {
	Type       string               // subs, darks, bias, flats
	Frames     int                  // 撮影枚数
	ShutterUs  int64                // 露光時間（マイクロ秒）
	IntervalMs int                  // フレーム間隔（ミリ秒）
	Gain       float64              // アナログゲイン
	AWB        *driver.WhiteBalance // 手動ホワイトバランス
	Folder     string               // セッションフォルダ名
}

// RawBurstParams はRAWバーストのパラメータ
type RawBurstParams struct {
	FPS         float64 // 目標フレームレート
	LimitFrames int     // 最大フレーム数（0で停止要求まで無制限）
	Folder      string  // セッションフォルダ名
}

// VideoParams は動画録画のパラメータ
type VideoParams struct {
	Codec   string // h264, mjpeg, yuv420
	Width   int
	Height  int
	FPS     int
	Bitrate string // 例: 25M
}

// validateStill は静止画パラメータを検証する
func (c *Coordinator) validateStill(p *StillParams) error {
	if p.ShutterUs <= 0 {
		return fmt.Errorf("%w: shutter_usは正の値が必要です: %d", ErrInvalidParameters, p.ShutterUs)
	}
	if p.ShutterUs > c.camera.MaxExposureUs {
		return fmt.Errorf("%w: 露光時間が上限を超えています: %d > %d",
			ErrInvalidParameters, p.ShutterUs, c.camera.MaxExposureUs)
	}
	if p.Gain <= 0 {
		p.Gain = c.camera.DefaultGain
	}
	switch p.Format {
	case "":
		p.Format = FormatJPEGDNG
	case FormatJPEG, FormatDNG, FormatJPEGDNG:
	default:
		return fmt.Errorf("%w: 不明なフォーマット: %s", ErrInvalidParameters, p.Format)
	}
	return nil
}

// validateSequence はシーケンスパラメータを検証する
func (c *Coordinator) validateSequence(p *SequenceParams) error {
	if p.Frames <= 0 {
		return fmt.Errorf("%w: framesは正の値が必要です: %d", ErrInvalidParameters, p.Frames)
	}
	if p.ShutterUs <= 0 {
		return fmt.Errorf("%w: shutter_usは正の値が必要です: %d", ErrInvalidParameters, p.ShutterUs)
	}
	if p.ShutterUs > c.camera.MaxExposureUs {
		return fmt.Errorf("%w: 露光時間が上限を超えています: %d > %d",
			ErrInvalidParameters, p.ShutterUs, c.camera.MaxExposureUs)
	}
	if p.IntervalMs < 0 {
		return fmt.Errorf("%w: interval_msは負にできません: %d", ErrInvalidParameters, p.IntervalMs)
	}
	if !sequenceTypes[p.Type] {
		return fmt.Errorf("%w: 不明なシーケンス種別: %s", ErrInvalidParameters, p.Type)
	}
	if p.Gain <= 0 {
		p.Gain = c.camera.DefaultGain
	}
	return nil
}

// validateRawBurst はRAWバーストパラメータを検証する
func (c *Coordinator) validateRawBurst(p *RawBurstParams) error {
	if p.FPS <= 0 {
		return fmt.Errorf("%w: fpsは正の値が必要です: %g", ErrInvalidParameters, p.FPS)
	}
	if p.LimitFrames < 0 {
		return fmt.Errorf("%w: limit_framesは負にできません: %d", ErrInvalidParameters, p.LimitFrames)
	}
	return nil
}

// validateVideo は動画パラメータを検証し、デフォルト値を補う
func (c *Coordinator) validateVideo(p *VideoParams) error {
	switch p.Codec {
	case "":
		p.Codec = "h264"
	case "h264", "mjpeg", "yuv420":
	default:
		return fmt.Errorf("%w: 不明なコーデック: %s", ErrInvalidParameters, p.Codec)
	}
	if p.Width <= 0 {
		p.Width = 1920
	}
	if p.Height <= 0 {
		p.Height = 1080
	}
	if p.FPS <= 0 {
		p.FPS = 30
	}
	if p.Bitrate == "" {
		p.Bitrate = "25M"
	}
	return nil
}
