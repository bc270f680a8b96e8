package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigPath はデフォルトの設定ファイルパス
const DefaultConfigPath = "/etc/astrocam/config.yaml"

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	DataPath string        `yaml:"data_path"` // 撮影データの保存先
	Server   ServerConfig  `yaml:"server"`
	Camera   CameraConfig  `yaml:"camera"`
	Storage  StorageConfig `yaml:"storage"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	DefaultGain      float64 `yaml:"default_gain"`       // デフォルトアナログゲイン
	DefaultShutterUs int64   `yaml:"default_shutter_us"` // デフォルト露光時間（マイクロ秒）
	MaxExposureUs    int64   `yaml:"max_exposure_us"`    // 露光時間の上限（マイクロ秒）
	PreviewFPS       int     `yaml:"preview_fps"`        // プレビューのフレームレート
	PreviewQuality   int     `yaml:"preview_quality"`    // プレビューJPEG品質 (1-100)
	Simulate         bool    `yaml:"simulate"`           // シミュレータドライバを使用する
}

// StorageConfig はストレージ関連の設定
type StorageConfig struct {
	MinFreeGB float64 `yaml:"min_free_gb"` // 撮影開始に必要な最小空き容量 (GB)
}

// Load は設定を読み込む
// 設定ファイル（ASTROCAM_CONFIG または DefaultConfigPath）が存在する場合は
// それを読み込み、環境変数による上書きを適用する
func Load() (*Config, error) {
	cfg := defaultConfig()

	path := getEnvOrDefault("ASTROCAM_CONFIG", DefaultConfigPath)
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("設定ファイルの読み込みに失敗 (%s): %w", path, err)
	}

	// 環境変数による上書き
	cfg.Server.Host = getEnvOrDefault("SERVER_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnvAsIntOrDefault("PORT", cfg.Server.Port)
	cfg.DataPath = getEnvOrDefault("ASTROCAM_DATA_PATH", cfg.DataPath)
	if os.Getenv("ASTROCAM_SIMULATE") != "" {
		cfg.Camera.Simulate = true
	}

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// defaultConfig はデフォルト設定を作成する
func defaultConfig() *Config {
	return &Config{
		DataPath: "/data",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8000,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			DefaultGain:      1.0,
			DefaultShutterUs: 1_000_000,   // 1秒
			MaxExposureUs:    600_000_000, // 10分
			PreviewFPS:       10,
			PreviewQuality:   80,
		},
		Storage: StorageConfig{
			MinFreeGB: 1.0,
		},
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("無効なポート番号: %d", c.Server.Port)
	}

	if c.DataPath == "" {
		return fmt.Errorf("data_pathが設定されていません")
	}

	if c.Camera.MaxExposureUs <= 0 {
		return fmt.Errorf("無効な露光時間上限: %d", c.Camera.MaxExposureUs)
	}

	if c.Camera.PreviewFPS < 1 || c.Camera.PreviewFPS > 60 {
		return fmt.Errorf("無効なプレビューFPS: %d", c.Camera.PreviewFPS)
	}

	if c.Camera.PreviewQuality < 1 || c.Camera.PreviewQuality > 100 {
		return fmt.Errorf("無効なプレビュー品質: %d", c.Camera.PreviewQuality)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}
