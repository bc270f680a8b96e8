package main

import (
	"context"
	"log"

	"astrocam/internal/capture"
	"astrocam/internal/config"
	"astrocam/internal/driver"
	"astrocam/internal/server"
	"astrocam/internal/storage"
	"astrocam/internal/telemetry"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	ctx := context.Background()

	// ストレージを初期化
	store, err := storage.NewService(cfg.DataPath)
	if err != nil {
		log.Fatalf("ストレージの初期化に失敗しました: %v", err)
	}

	// カメラドライバを初期化
	// 失敗してもデグレードモード（ファイル閲覧・テレメトリのみ）で起動する
	var coord *capture.Coordinator
	drv, err := driver.New(ctx, cfg.Camera.Simulate)
	if err != nil {
		log.Printf("カメラの初期化に失敗しました（デグレードモードで起動）: %v", err)
	} else {
		coord = capture.NewCoordinator(drv, store, cfg)
	}

	sampler := telemetry.NewSampler(cfg.DataPath)

	// サーバーを作成して起動
	srv := server.New(cfg, coord, store, sampler)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
