package driver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// PiCamera はrpicam-appsコマンド経由でRaspberry Pi HQ Cameraを制御するDriver実装
type PiCamera struct {
	mu   sync.Mutex
	mode Mode
}

// NewPiCamera は新しいPiCameraを作成する
// rpicam-appsが利用できない環境ではエラーを返す（デグレードモードの判定に使う）
func NewPiCamera(ctx context.Context) (*PiCamera, error) {
	if _, err := exec.LookPath("rpicam-still"); err != nil {
		return nil, fmt.Errorf("%w: rpicam-stillが見つかりません: %v", ErrDriverFault, err)
	}

	c := &PiCamera{
		mode: Mode{
			Width:     4056,
			Height:    3040,
			Gain:      1.0,
			FrameRate: 10,
		},
	}

	// 起動時にカメラの存在を確認する
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cmd := exec.CommandContext(checkCtx, "rpicam-still", "--list-cameras")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: カメラが検出できません: %v", ErrDriverFault, err)
	}

	return c, nil
}

// Configure は撮影モードを設定する
// rpicam-appsは呼び出しごとにモードを渡すため、ここでは保持のみ行う
func (c *PiCamera) Configure(_ context.Context, mode Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if mode.Width > 0 {
		c.mode.Width = mode.Width
	}
	if mode.Height > 0 {
		c.mode.Height = mode.Height
	}
	c.mode.ShutterUs = mode.ShutterUs
	if mode.Gain > 0 {
		c.mode.Gain = mode.Gain
	}
	c.mode.AWB = mode.AWB
	c.mode.Denoise = mode.Denoise
	if mode.FrameRate > 0 {
		c.mode.FrameRate = mode.FrameRate
	}

	return nil
}

// CaptureFrame は1フレームをキャプチャして画像として返す
func (c *PiCamera) CaptureFrame(ctx context.Context) (image.Image, error) {
	c.mu.Lock()
	mode := c.mode
	c.mu.Unlock()

	// プレビュー用途のため低解像度・即時性を優先する
	args := []string{
		"--immediate",
		"--nopreview",
		"--width", "640",
		"--height", "480",
		"--encoding", "jpg",
		"--output", "-",
	}
	args = append(args, exposureArgs(mode)...)

	cmd := exec.CommandContext(ctx, "rpicam-still", args...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: フレームキャプチャに失敗: %v (stderr: %s)",
			ErrDriverFault, err, stderr.String())
	}

	img, err := jpeg.Decode(&stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: JPEG画像のデコードに失敗: %v", ErrDriverFault, err)
	}

	return img, nil
}

// CaptureToFile は指定モードで撮影し、成果物をパスに書き出す
func (c *PiCamera) CaptureToFile(ctx context.Context, mode Mode, path string) error {
	args := []string{
		"--immediate",
		"--nopreview",
		"--width", strconv.Itoa(mode.Width),
		"--height", strconv.Itoa(mode.Height),
		"--output", path,
	}

	if isRawPath(path) {
		args = append(args, "--raw")
	}
	args = append(args, exposureArgs(mode)...)

	cmd := exec.CommandContext(ctx, "rpicam-still", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: 静止画の撮影に失敗: %v (stderr: %s)",
			ErrDriverFault, err, stderr.String())
	}

	return nil
}

// Record は動画録画を開始し、ctx がキャンセルされるまでブロックする
func (c *PiCamera) Record(ctx context.Context, mode Mode, path string) error {
	args := []string{
		"--nopreview",
		"--timeout", "0", // 停止要求まで録画を継続
		"--width", strconv.Itoa(mode.Width),
		"--height", strconv.Itoa(mode.Height),
		"--framerate", strconv.Itoa(mode.FrameRate),
		"--codec", mode.Codec,
		"--output", path,
	}
	if mode.Bitrate != "" {
		args = append(args, "--bitrate", mode.Bitrate)
	}

	cmd := exec.CommandContext(ctx, "rpicam-vid", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctx.Err() != nil {
		// 停止要求によるプロセス終了は正常終了
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: 動画録画に失敗: %v (stderr: %s)",
			ErrDriverFault, err, stderr.String())
	}

	return nil
}

// Close はドライバのリソースを解放する
// rpicam-appsは呼び出しごとにプロセスを起動するため解放対象はない
func (c *PiCamera) Close() error {
	return nil
}

// exposureArgs は露光関連のコマンドライン引数を組み立てる
func exposureArgs(mode Mode) []string {
	var args []string

	if mode.ShutterUs > 0 {
		args = append(args, "--shutter", strconv.FormatInt(mode.ShutterUs, 10))
	}
	if mode.Gain > 0 {
		args = append(args, "--gain", strconv.FormatFloat(mode.Gain, 'f', 2, 64))
	}
	if mode.AWB != nil {
		args = append(args, "--awbgains",
			fmt.Sprintf("%.2f,%.2f", mode.AWB.Red, mode.AWB.Blue))
	} else {
		args = append(args, "--awb", "auto")
	}
	if mode.Denoise != "" {
		args = append(args, "--denoise", mode.Denoise)
	}

	return args
}
