package capture

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"path/filepath"
	"time"

	"astrocam/internal/driver"
)

// runSequence はシーケンス撮影のランナー
// フレームごとにガードを取得・解放し、フレーム間でキャンセルを確認する
func (c *Coordinator) runSequence(ctx context.Context, id string, p SequenceParams, dir string) {
	if c.reg.IsCancelRequested(id) {
		// ランナー開始前にキャンセルされた
		c.reg.MarkCancelled(id)
		return
	}

	c.reg.MarkRunning(id)
	c.reg.UpdateProgress(id, 0, p.Frames, "")

	mode := driver.Mode{
		Width:     4056,
		Height:    3040,
		ShutterUs: p.ShutterUs,
		Gain:      p.Gain,
		AWB:       p.AWB,
	}

	for i := 0; i < p.Frames; i++ {
		if c.reg.IsCancelRequested(id) {
			c.reg.MarkCancelled(id)
			return
		}
		if ctx.Err() != nil {
			// シャットダウンによる強制排出
			c.reg.MarkCancelled(id)
			return
		}

		token, ok := c.guard.TryAcquire()
		if !ok {
			// 受付が排他を保証しているため、ここに来るのはロジックバグ
			c.reg.MarkError(id, "カメラが予期せず使用中です")
			return
		}

		path := filepath.Join(dir, fmt.Sprintf("%s_%04d_%s.jpg", p.Type, i+1, artifactTimestamp()))
		err := c.drv.CaptureToFile(ctx, mode, path)
		token.Release()

		if err != nil {
			c.reg.MarkError(id, err.Error())
			return
		}

		c.reg.UpdateProgress(id, i+1, p.Frames, path)

		if i < p.Frames-1 {
			c.waitInterval(ctx, id, time.Duration(p.IntervalMs)*time.Millisecond)
		}
	}

	c.reg.MarkDone(id)
}

// runRawBurst はRAWバーストのランナー
// limit_framesが0の場合は停止要求まで無制限に撮影を続ける
func (c *Coordinator) runRawBurst(ctx context.Context, id string, p RawBurstParams, dir string) {
	if c.reg.IsCancelRequested(id) {
		c.reg.MarkCancelled(id)
		return
	}

	c.reg.MarkRunning(id)
	c.reg.UpdateProgress(id, 0, p.LimitFrames, "")

	mode := driver.Mode{
		Width:  4056,
		Height: 3040,
		Gain:   c.camera.DefaultGain,
	}
	interval := time.Duration(float64(time.Second) / p.FPS)

	count := 0
	for {
		if c.reg.IsCancelRequested(id) {
			c.reg.MarkCancelled(id)
			return
		}
		if ctx.Err() != nil {
			c.reg.MarkCancelled(id)
			return
		}
		if p.LimitFrames > 0 && count >= p.LimitFrames {
			c.reg.MarkDone(id)
			return
		}

		token, ok := c.guard.TryAcquire()
		if !ok {
			c.reg.MarkError(id, "カメラが予期せず使用中です")
			return
		}

		path := filepath.Join(dir, fmt.Sprintf("raw_%06d_%s.dng", count, artifactTimestamp()))
		err := c.drv.CaptureToFile(ctx, mode, path)
		token.Release()

		if err != nil {
			// ディスク枯渇による書き込み失敗もここでerrorとして終端する
			c.reg.MarkError(id, err.Error())
			return
		}

		count++
		c.reg.UpdateProgress(id, count, p.LimitFrames, path)

		c.waitInterval(ctx, id, interval)
	}
}

// runVideo は動画録画のランナー
// 録画期間中ガードを保持し続ける。停止要求は正常終了（done）
func (c *Coordinator) runVideo(ctx context.Context, id string, p VideoParams, outPath string) {
	if c.reg.IsCancelRequested(id) {
		c.reg.MarkCancelled(id)
		return
	}

	token, ok := c.guard.TryAcquire()
	if !ok {
		c.reg.MarkError(id, "カメラが予期せず使用中です")
		return
	}

	c.reg.MarkRunning(id)
	c.reg.UpdateProgress(id, 0, 0, outPath)

	mode := driver.Mode{
		Width:     p.Width,
		Height:    p.Height,
		FrameRate: p.FPS,
		Codec:     p.Codec,
		Bitrate:   p.Bitrate,
	}

	// 停止要求を録画コンテキストのキャンセルへ橋渡しする
	recCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-c.reg.CancelChan(id):
			cancel()
		case <-done:
		}
	}()

	err := c.drv.Record(recCtx, mode, outPath)
	token.Release()

	if err != nil {
		c.reg.MarkError(id, err.Error())
		return
	}

	// 停止要求・録画完了はいずれも正常終了
	c.reg.MarkDone(id)
}

// runPreview はプレビューストリーミングのランナー
// フレームごとにガードを取得・解放する。停止要求は正常終了（done）
func (c *Coordinator) runPreview(ctx context.Context, id string, frames chan []byte) {
	defer close(frames)

	if c.reg.IsCancelRequested(id) {
		c.reg.MarkCancelled(id)
		return
	}

	c.reg.MarkRunning(id)

	fps := c.camera.PreviewFPS
	if fps <= 0 {
		fps = 10
	}
	interval := time.Second / time.Duration(fps)

	quality := c.camera.PreviewQuality
	if quality <= 0 {
		quality = 80
	}

	// プレビューは低解像度・即時露光に設定する（露光待ちでfpsを落とさない）
	token, ok := c.guard.TryAcquire()
	if !ok {
		c.reg.MarkError(id, "カメラが予期せず使用中です")
		return
	}
	err := c.drv.Configure(ctx, driver.Mode{
		Width:     640,
		Height:    480,
		Gain:      c.camera.DefaultGain,
		FrameRate: fps,
	})
	token.Release()
	if err != nil {
		c.reg.MarkError(id, err.Error())
		return
	}

	count := 0
	for {
		if c.reg.IsCancelRequested(id) || ctx.Err() != nil {
			// プレビューの停止は期待された終了経路
			c.reg.MarkDone(id)
			return
		}

		token, ok := c.guard.TryAcquire()
		if !ok {
			c.reg.MarkError(id, "カメラが予期せず使用中です")
			return
		}

		img, err := c.drv.CaptureFrame(ctx)
		token.Release()

		if err != nil {
			if c.reg.IsCancelRequested(id) || ctx.Err() != nil {
				c.reg.MarkDone(id)
			} else {
				c.reg.MarkError(id, err.Error())
			}
			return
		}

		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
			c.reg.MarkError(id, err.Error())
			return
		}

		count++
		c.reg.UpdateProgress(id, count, 0, "")

		// 受信側が遅い場合は古いフレームを破棄して最新を届ける
		select {
		case frames <- buf.Bytes():
		default:
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- buf.Bytes():
			default:
			}
		}

		c.waitInterval(ctx, id, interval)
	}
}

// waitInterval はフレーム間隔を待機する
// キャンセル要求・シャットダウンで即座に打ち切られる
func (c *Coordinator) waitInterval(ctx context.Context, id string, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-c.reg.CancelChan(id):
	case <-ctx.Done():
	}
}

// artifactTimestamp は成果物ファイル名用のタイムスタンプを生成する（ミリ秒精度）
func artifactTimestamp() string {
	now := time.Now()
	return fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/1_000_000)
}
