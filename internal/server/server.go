package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"astrocam/internal/capture"
	"astrocam/internal/config"
	"astrocam/internal/storage"
	"astrocam/internal/telemetry"
)

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	coord      *capture.Coordinator // nilの場合はデグレードモード（カメラなし）
	store      *storage.Service
	sampler    *telemetry.Sampler
	engine     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成する
// coord が nil の場合、カメラ系エンドポイントは503を返す
func New(cfg *config.Config, coord *capture.Coordinator, store *storage.Service, sampler *telemetry.Sampler) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	s := &Server{
		config:  cfg,
		coord:   coord,
		store:   store,
		sampler: sampler,
		engine:  engine,
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      engine,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}

	s.setupRoutes()
	return s
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	api := s.engine.Group("/api")

	api.GET("/health", s.handleHealth)
	api.GET("/preview.mjpeg", s.handlePreview)

	api.POST("/capture", s.handleCapture)
	api.POST("/sequence", s.handleStartSequence)
	api.GET("/sequence/:id/status", s.handleSequenceStatus)
	api.POST("/video/start", s.handleStartVideo)
	api.POST("/video/stop", s.handleStopVideo)
	api.POST("/rawburst/start", s.handleStartRawBurst)
	api.POST("/rawburst/stop", s.handleStopRawBurst)
	api.POST("/focus", s.handleFocus)
	api.GET("/operations", s.handleListOperations)

	api.GET("/sessions", s.handleListSessions)
	api.GET("/files", s.handleListFiles)
	api.GET("/files/thumb", s.handleThumbnail)
	api.GET("/files/stream", s.handleStreamFile)
	api.GET("/files/download", s.handleDownloadFile)
	api.GET("/sessions/:id/zip", s.handleSessionZip)

	s.engine.GET("/ws/telemetry", s.handleTelemetryWS)
}

// corsMiddleware はCORSヘッダを付与するミドルウェア
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		log.Printf("HTTPサーバーを起動しています: %s", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		log.Println("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		log.Printf("シグナルを受信しました: %v", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
// HTTPの受付を止めたあと、実行中の撮影操作を排出する
func (s *Server) Shutdown() error {
	log.Println("サーバーをシャットダウンしています...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	if s.coord != nil {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer drainCancel()

		if err := s.coord.Shutdown(drainCtx); err != nil {
			log.Printf("操作の排出に失敗: %v", err)
		}
	}

	log.Println("サーバーが正常にシャットダウンされました")
	return nil
}
