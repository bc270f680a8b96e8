package driver

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"sync"
	"time"
)

// Simulator はハードウェアなしで動作する決定的なドライバ実装
// フレームはフレームカウンタに基づくグラデーションパターンで合成される
type Simulator struct {
	mu       sync.Mutex
	mode     Mode
	captures int
	closed   bool

	// テスト制御用
	failAt int // 0以外の場合、failAt回目の撮影呼び出しを失敗させる
}

// NewSimulator は新しいSimulatorを作成する
func NewSimulator() *Simulator {
	return &Simulator{
		mode: Mode{
			Width:     640,
			Height:    480,
			Gain:      1.0,
			FrameRate: 10,
		},
	}
}

// SetFailAt はテスト用にn回目の撮影呼び出しを失敗させる
func (s *Simulator) SetFailAt(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failAt = n
}

// Configure は撮影モードを設定する
func (s *Simulator) Configure(_ context.Context, mode Mode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("%w: シミュレータはクローズ済みです", ErrDriverFault)
	}

	if mode.Width > 0 {
		s.mode.Width = mode.Width
	}
	if mode.Height > 0 {
		s.mode.Height = mode.Height
	}
	s.mode.ShutterUs = mode.ShutterUs
	if mode.Gain > 0 {
		s.mode.Gain = mode.Gain
	}
	s.mode.AWB = mode.AWB
	if mode.FrameRate > 0 {
		s.mode.FrameRate = mode.FrameRate
	}

	return nil
}

// CaptureFrame は合成フレームを1枚生成する
func (s *Simulator) CaptureFrame(ctx context.Context) (image.Image, error) {
	n, mode, err := s.beginCapture()
	if err != nil {
		return nil, err
	}

	if err := s.expose(ctx, mode.ShutterUs); err != nil {
		return nil, err
	}

	return s.synthesize(n, mode), nil
}

// CaptureToFile は合成フレームを撮影してファイルに書き出す
func (s *Simulator) CaptureToFile(ctx context.Context, mode Mode, path string) error {
	n, _, err := s.beginCapture()
	if err != nil {
		return err
	}

	if err := s.expose(ctx, mode.ShutterUs); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("成果物の作成に失敗: %w", err)
	}
	defer f.Close()

	if isRawPath(path) {
		// DNGのバイナリレイアウトは再現しない。識別可能なスタブを書く
		if _, err := fmt.Fprintf(f, "DNG-SIM frame=%06d shutter=%dus gain=%.2f\n",
			n, mode.ShutterUs, mode.Gain); err != nil {
			return fmt.Errorf("成果物の書き込みに失敗: %w", err)
		}
		return nil
	}

	img := s.synthesize(n, s.simSize(mode))
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 85}); err != nil {
		return fmt.Errorf("成果物のエンコードに失敗: %w", err)
	}

	return nil
}

// Record は停止要求まで模擬録画を継続する
// 録画先にはフレームごとにスタブデータを追記する
func (s *Simulator) Record(ctx context.Context, mode Mode, path string) error {
	if _, _, err := s.beginCapture(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("録画ファイルの作成に失敗: %w", err)
	}
	defer f.Close()

	fps := mode.FrameRate
	if fps <= 0 {
		fps = 30
	}
	interval := time.Second / time.Duration(fps)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	frame := 0
	for {
		select {
		case <-ctx.Done():
			// 停止要求は正常終了
			return nil
		case <-ticker.C:
			if _, err := fmt.Fprintf(f, "FRAME %08d\n", frame); err != nil {
				return fmt.Errorf("録画フレームの書き込みに失敗: %w", err)
			}
			frame++
		}
	}
}

// Close はシミュレータをクローズする
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// beginCapture は撮影カウンタを進め、失敗注入を判定する
func (s *Simulator) beginCapture() (int, Mode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, Mode{}, fmt.Errorf("%w: シミュレータはクローズ済みです", ErrDriverFault)
	}

	s.captures++
	if s.failAt > 0 && s.captures == s.failAt {
		return 0, Mode{}, fmt.Errorf("%w: 模擬センサーエラー (capture %d)", ErrDriverFault, s.captures)
	}

	return s.captures, s.mode, nil
}

// expose は露光時間ぶん待機する。待機はキャンセル可能
func (s *Simulator) expose(ctx context.Context, shutterUs int64) error {
	if shutterUs <= 0 {
		return nil
	}

	select {
	case <-ctx.Done():
		return fmt.Errorf("%w: 露光が中断されました: %v", ErrDriverFault, ctx.Err())
	case <-time.After(time.Duration(shutterUs) * time.Microsecond):
		return nil
	}
}

// synthesize はフレーム番号に基づく決定的なグラデーション画像を生成する
func (s *Simulator) synthesize(n int, mode Mode) *image.Gray {
	w, h := mode.Width, mode.Height
	if w <= 0 {
		w = 640
	}
	if h <= 0 {
		h = 480
	}

	img := image.NewGray(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8((x + y + n*7) % 256)})
		}
	}
	return img
}

// simSize はファイル書き出し時の合成サイズを決める
// フル解像度（4056x3040）のエンコードは模擬環境では不要なため上限を設ける
func (s *Simulator) simSize(mode Mode) Mode {
	out := mode
	if out.Width <= 0 || out.Width > 1280 {
		out.Width = 1280
	}
	if out.Height <= 0 || out.Height > 960 {
		out.Height = 960
	}
	return out
}

// isRawPath はRAW出力パスかどうかを判定する
func isRawPath(path string) bool {
	n := len(path)
	return n >= 4 && path[n-4:] == ".dng"
}
