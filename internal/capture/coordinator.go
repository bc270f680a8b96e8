package capture

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"astrocam/internal/config"
	"astrocam/internal/driver"
	"astrocam/internal/operation"
	"astrocam/internal/storage"
)

// Coordinator はカメラ操作の受付・調停を行う窓口
// カメラリソースの唯一の所有者であり、ガードの取得は全てここを経由する
type Coordinator struct {
	drv   driver.Driver
	store *storage.Service
	reg   *operation.Registry
	guard *Guard

	camera       config.CameraConfig
	minFreeBytes uint64

	// ランナーの寿命管理用
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// 受付判定用
	mu         sync.Mutex
	active     string // 実行中の排他操作のID（""は空き）
	syncActive int    // 実行中の同期撮影（静止画・フォーカス）の数
}

// NewCoordinator は新しいCoordinatorを作成する
func NewCoordinator(drv driver.Driver, store *storage.Service, cfg *config.Config) *Coordinator {
	ctx, cancel := context.WithCancel(context.Background())

	return &Coordinator{
		drv:          drv,
		store:        store,
		reg:          operation.NewRegistry(0),
		guard:        NewGuard(),
		camera:       cfg.Camera,
		minFreeBytes: uint64(cfg.Storage.MinFreeGB * 1024 * 1024 * 1024),
		ctx:          ctx,
		cancel:       cancel,
	}
}

// Registry は操作レジストリを返す（診断・テレメトリ用）
func (c *Coordinator) Registry() *operation.Registry {
	return c.reg
}

// admit は排他操作の受付を判定し、許可された場合は操作を登録する
// 別の排他操作・同期撮影が進行中の間はBusyで即座に拒否する
func (c *Coordinator) admit(kind operation.Kind) (operation.Operation, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conflictLocked(); err != nil {
		return operation.Operation{}, err
	}

	op := c.reg.Create(kind)
	c.active = op.ID
	return op, nil
}

// conflictLocked は進行中の操作との競合を判定する（c.muロック済み前提）
func (c *Coordinator) conflictLocked() error {
	if c.active != "" {
		if op, err := c.reg.Get(c.active); err == nil && !op.State.IsTerminal() {
			return fmt.Errorf("%w: %s (%s) が実行中です", ErrBusy, op.Kind, op.ID)
		}
		c.active = ""
	}
	if c.syncActive > 0 {
		return fmt.Errorf("%w: 同期撮影が実行中です", ErrBusy)
	}
	return nil
}

// acquireSync は同期撮影（静止画・フォーカス）の受付を判定し、ガードを取得する
// 排他操作が実行中の間は、ランナーがガードを解放しているフレーム間隔中でも
// Busyで拒否する。実行中の操作を後続の同期要求が壊すことはない
func (c *Coordinator) acquireSync() (*Token, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.conflictLocked(); err != nil {
		return nil, err
	}

	token, ok := c.guard.TryAcquire()
	if !ok {
		return nil, fmt.Errorf("%w: カメラは使用中です", ErrBusy)
	}

	c.syncActive++
	return token, nil
}

// releaseSync は同期撮影の終了を記録し、ガードを解放する
func (c *Coordinator) releaseSync(token *Token) {
	token.Release()

	c.mu.Lock()
	c.syncActive--
	c.mu.Unlock()
}

// finish は排他操作の終了を記録する
func (c *Coordinator) finish(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.active == id {
		c.active = ""
	}
}

// launch は操作のランナーを専用ゴルーチンで起動する
// 渡されるコンテキストはプロセス寿命に紐づき、シャットダウンの強制排出でのみ
// キャンセルされる。通常のキャンセル要求はランナーが反復境界で協調的に観測し、
// 実行中のハードウェア撮影は完了を待つ
func (c *Coordinator) launch(op operation.Operation, run func(ctx context.Context)) {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.finish(op.ID)
		run(c.ctx)
	}()
}

// CaptureStill は静止画を同期的に撮影する
// 長時間操作ではないためレジストリには登録しない
func (c *Coordinator) CaptureStill(ctx context.Context, p StillParams) (StillResult, error) {
	if err := c.validateStill(&p); err != nil {
		return StillResult{}, err
	}

	token, err := c.acquireSync()
	if err != nil {
		return StillResult{}, err
	}
	defer c.releaseSync(token)

	// ドライバの固着に備えて露光時間に応じたタイムアウトを設定する
	ctx, cancel := context.WithTimeout(ctx, captureTimeout(p.ShutterUs))
	defer cancel()

	start := time.Now()

	sessionPath, err := c.store.CreateSessionFolder(p.Folder)
	if err != nil {
		return StillResult{}, err
	}

	mode := driver.Mode{
		Width:     4056,
		Height:    3040,
		ShutterUs: p.ShutterUs,
		Gain:      p.Gain,
		AWB:       p.AWB,
		Denoise:   p.Denoise,
	}

	base := "IMG_" + time.Now().Format("20060102_150405")
	result := StillResult{EXIF: stillEXIF(p)}

	if p.Format == FormatJPEG || p.Format == FormatJPEGDNG {
		path := filepath.Join(sessionPath, base+".jpg")
		if err := c.drv.CaptureToFile(ctx, mode, path); err != nil {
			return StillResult{}, err
		}
		result.PathJPEG = path
	}

	if p.Format == FormatDNG || p.Format == FormatJPEGDNG {
		path := filepath.Join(sessionPath, base+".dng")
		if err := c.drv.CaptureToFile(ctx, mode, path); err != nil {
			return StillResult{}, err
		}
		result.PathDNG = path
	}

	result.ElapsedMs = time.Since(start).Milliseconds()
	return result, nil
}

// stillEXIF は撮影結果に添えるEXIFサマリを組み立てる
func stillEXIF(p StillParams) map[string]any {
	exif := map[string]any{
		"ExposureTime": float64(p.ShutterUs) / 1_000_000,
		"ISO":          p.Gain,
		"DateTime":     time.Now().Format(time.RFC3339),
		"Camera":       "Raspberry Pi HQ Camera",
	}
	if lens, ok := p.Notes["lens"]; ok {
		exif["Lens"] = lens
	} else {
		exif["Lens"] = "Unknown"
	}
	return exif
}

// StartSequence はシーケンス撮影を開始し、操作IDを返す
func (c *Coordinator) StartSequence(p SequenceParams) (operation.Operation, error) {
	if err := c.validateSequence(&p); err != nil {
		return operation.Operation{}, err
	}

	sessionPath, err := c.store.CreateSessionFolder(p.Folder)
	if err != nil {
		return operation.Operation{}, err
	}
	typePath, err := c.store.CreateSubfolder(sessionPath, p.Type)
	if err != nil {
		return operation.Operation{}, err
	}

	op, err := c.admit(operation.KindSequence)
	if err != nil {
		return operation.Operation{}, err
	}

	c.launch(op, func(ctx context.Context) {
		c.runSequence(ctx, op.ID, p, typePath)
	})

	log.Printf("シーケンスを開始しました: id=%s type=%s frames=%d", op.ID, p.Type, p.Frames)
	return op, nil
}

// StartRawBurst はRAWバーストを開始し、操作IDを返す
func (c *Coordinator) StartRawBurst(p RawBurstParams) (operation.Operation, string, error) {
	if err := c.validateRawBurst(&p); err != nil {
		return operation.Operation{}, "", err
	}

	// 無制限に書き続ける可能性があるため空き容量を事前確認する
	if free, err := c.store.FreeBytes(); err == nil && free < c.minFreeBytes {
		return operation.Operation{}, "", fmt.Errorf("%w: 空き容量が不足しています (%d bytes)",
			storage.ErrStorageFault, free)
	}

	sessionPath, err := c.store.CreateSessionFolder(p.Folder)
	if err != nil {
		return operation.Operation{}, "", err
	}
	burstPath, err := c.store.CreateSubfolder(sessionPath, "rawburst")
	if err != nil {
		return operation.Operation{}, "", err
	}

	op, err := c.admit(operation.KindRawBurst)
	if err != nil {
		return operation.Operation{}, "", err
	}

	c.launch(op, func(ctx context.Context) {
		c.runRawBurst(ctx, op.ID, p, burstPath)
	})

	log.Printf("RAWバーストを開始しました: id=%s fps=%g limit=%d", op.ID, p.FPS, p.LimitFrames)
	return op, burstPath, nil
}

// StartVideo は動画録画を開始し、操作IDを返す
func (c *Coordinator) StartVideo(p VideoParams) (operation.Operation, string, error) {
	if err := c.validateVideo(&p); err != nil {
		return operation.Operation{}, "", err
	}

	sessionPath, err := c.store.CreateSessionFolder("")
	if err != nil {
		return operation.Operation{}, "", err
	}
	videoPath, err := c.store.CreateSubfolder(sessionPath, "video")
	if err != nil {
		return operation.Operation{}, "", err
	}

	op, err := c.admit(operation.KindVideo)
	if err != nil {
		return operation.Operation{}, "", err
	}

	outPath := filepath.Join(videoPath,
		fmt.Sprintf("video_%s.%s", time.Now().Format("20060102_150405"), p.Codec))

	c.launch(op, func(ctx context.Context) {
		c.runVideo(ctx, op.ID, p, outPath)
	})

	log.Printf("動画録画を開始しました: id=%s codec=%s %dx%d@%d", op.ID, p.Codec, p.Width, p.Height, p.FPS)
	return op, outPath, nil
}

// StartPreview はプレビューストリーミングを開始する
// 返されるチャンネルからJPEGフレームを受信できる。チャンネルは操作の終了時に
// クローズされる
func (c *Coordinator) StartPreview() (operation.Operation, <-chan []byte, error) {
	op, err := c.admit(operation.KindPreview)
	if err != nil {
		return operation.Operation{}, nil, err
	}

	frames := make(chan []byte, 1)
	c.launch(op, func(ctx context.Context) {
		c.runPreview(ctx, op.ID, frames)
	})

	log.Printf("プレビューを開始しました: id=%s fps=%d", op.ID, c.camera.PreviewFPS)
	return op, frames, nil
}

// MeasureFocus は1フレームを取得し、ROIのフォーカス指標を計算する
// 短時間で完了するためレジストリには登録しない
func (c *Coordinator) MeasureFocus(ctx context.Context, roi [4]int) (float64, error) {
	if roi[2] <= 0 || roi[3] <= 0 {
		return 0, fmt.Errorf("%w: ROIの幅と高さは正の値が必要です: %v", ErrInvalidParameters, roi)
	}

	token, err := c.acquireSync()
	if err != nil {
		return 0, err
	}
	defer c.releaseSync(token)

	ctx, cancel := context.WithTimeout(ctx, captureTimeout(c.camera.DefaultShutterUs))
	defer cancel()

	// フォーカス測定は設定のデフォルト露光・ゲインで行う
	mode := driver.Mode{
		ShutterUs: c.camera.DefaultShutterUs,
		Gain:      c.camera.DefaultGain,
	}
	if err := c.drv.Configure(ctx, mode); err != nil {
		return 0, err
	}

	img, err := c.drv.CaptureFrame(ctx)
	if err != nil {
		return 0, err
	}

	return laplacianVariance(img, roi), nil
}

// Stop は操作のキャンセルを要求する
// 動画・プレビューでは正常終了（done）、シーケンス・RAWバーストでは
// キャンセル（cancelled）としてランナーが終端処理を行う
func (c *Coordinator) Stop(id string) error {
	return c.reg.RequestCancel(id)
}

// StopKind は指定種別の実行中操作に停止を要求し、そのIDを返す
// 操作IDを持たない停止エンドポイント（video/stop等）のために使う
func (c *Coordinator) StopKind(kind operation.Kind) (string, error) {
	c.mu.Lock()
	id := c.active
	c.mu.Unlock()

	if id == "" {
		return "", operation.ErrNotFound
	}

	op, err := c.reg.Get(id)
	if err != nil {
		return "", err
	}
	if op.Kind != kind {
		return "", operation.ErrNotFound
	}

	return id, c.reg.RequestCancel(id)
}

// Status は操作のスナップショットを取得する
func (c *Coordinator) Status(id string) (operation.Operation, error) {
	return c.reg.Get(id)
}

// List は全操作のスナップショットを取得する（診断用）
func (c *Coordinator) List() []operation.Operation {
	return c.reg.List()
}

// ActiveProgress は実行中の排他操作の進捗を返す（テレメトリ用）
func (c *Coordinator) ActiveProgress() (operation.Operation, bool) {
	c.mu.Lock()
	id := c.active
	c.mu.Unlock()

	if id == "" {
		return operation.Operation{}, false
	}

	op, err := c.reg.Get(id)
	if err != nil || op.State.IsTerminal() {
		return operation.Operation{}, false
	}
	return op, true
}

// Shutdown は全ての実行中操作にキャンセルを要求し、完了を待つ
// ランナーを置き去りにせず、グレースフルに排出する
func (c *Coordinator) Shutdown(ctx context.Context) error {
	for _, op := range c.reg.List() {
		if !op.State.IsTerminal() {
			c.reg.RequestCancel(op.ID)
		}
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.cancel()
		log.Println("全ての操作が終了しました")
		return nil
	case <-ctx.Done():
		// 協調的な排出が間に合わない場合は強制的に中断する
		c.cancel()
		return fmt.Errorf("操作の排出がタイムアウトしました: %w", ctx.Err())
	}
}

// captureTimeout は露光時間に応じた撮影タイムアウトを計算する
// ドライバが固着した場合でも有限時間で Error を返すための上限
func captureTimeout(shutterUs int64) time.Duration {
	exposure := time.Duration(shutterUs) * time.Microsecond
	return 3*exposure + 10*time.Second
}
