// Package main はAstrocamサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"astrocam/internal/capture"
	"astrocam/internal/config"
	"astrocam/internal/driver"
	"astrocam/internal/server"
	"astrocam/internal/storage"
	"astrocam/internal/telemetry"
)

func main() {
	// コマンドラインオプション
	var (
		host     = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port     = flag.Int("port", 0, "サーバーのポート (デフォルト: 8000)")
		dataPath = flag.String("data", "", "撮影データの保存先ディレクトリ")
		simulate = flag.Bool("simulate", false, "実カメラの代わりにシミュレータを使用")
		help     = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Astrocam")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *dataPath != "" {
		cfg.DataPath = *dataPath
	}
	if *simulate {
		cfg.Camera.Simulate = true
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
	log.Printf("Astrocam サーバーを起動します: %s", cfg.ServerAddress())
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}
