package config

import (
	"os"
	"path/filepath"
	"testing"
)

// TestConfigLoad は設定の読み込みをテストする
func TestConfigLoad(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg == nil {
		t.Fatal("設定がnilです")
	}

	// サーバー設定の検証
	if cfg.Server.Host == "" {
		t.Error("サーバーホストが設定されていません")
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		t.Errorf("無効なポート番号: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout <= 0 {
		t.Error("読み込みタイムアウトが設定されていません")
	}
	// WriteTimeout はストリーミング配信のため 0（無効）でも正常
	if cfg.Server.WriteTimeout < 0 {
		t.Error("書き込みタイムアウトが負の値です")
	}

	// カメラ設定のデフォルト値の検証
	if cfg.Camera.DefaultGain <= 0 {
		t.Error("デフォルトゲインが設定されていません")
	}
	if cfg.Camera.DefaultShutterUs <= 0 {
		t.Error("デフォルト露光時間が設定されていません")
	}
	if cfg.Camera.MaxExposureUs <= 0 {
		t.Error("露光時間上限が設定されていません")
	}
	if cfg.Camera.PreviewFPS <= 0 {
		t.Error("プレビューFPSが設定されていません")
	}

	if cfg.DataPath == "" {
		t.Error("データパスが設定されていません")
	}
}

// TestConfigValidation は設定の検証をテストする
func TestConfigValidation(t *testing.T) {
	valid := func() *Config {
		return &Config{
			DataPath: "/data",
			Server: ServerConfig{
				Host: "localhost",
				Port: 8000,
			},
			Camera: CameraConfig{
				MaxExposureUs:  600_000_000,
				PreviewFPS:     10,
				PreviewQuality: 80,
			},
		}
	}

	testCases := []struct {
		name      string
		mutate    func(*Config)
		expectErr bool
	}{
		{
			name:      "正常な設定",
			mutate:    func(c *Config) {},
			expectErr: false,
		},
		{
			name:      "無効なポート番号",
			mutate:    func(c *Config) { c.Server.Port = 99999 },
			expectErr: true,
		},
		{
			name:      "データパスなし",
			mutate:    func(c *Config) { c.DataPath = "" },
			expectErr: true,
		},
		{
			name:      "無効な露光時間上限",
			mutate:    func(c *Config) { c.Camera.MaxExposureUs = 0 },
			expectErr: true,
		},
		{
			name:      "無効なプレビューFPS",
			mutate:    func(c *Config) { c.Camera.PreviewFPS = 0 },
			expectErr: true,
		},
		{
			name:      "無効なプレビュー品質",
			mutate:    func(c *Config) { c.Camera.PreviewQuality = 101 },
			expectErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.Validate()
			if tc.expectErr && err == nil {
				t.Error("エラーが期待されましたが、エラーが発生しませんでした")
			}
			if !tc.expectErr && err != nil {
				t.Errorf("予期しないエラーが発生しました: %v", err)
			}
		})
	}
}

// TestServerAddress はサーバーアドレスの生成をテストする
func TestServerAddress(t *testing.T) {
	cfg := &Config{
		Server: ServerConfig{
			Host: "192.168.1.100",
			Port: 9090,
		},
	}

	expected := "192.168.1.100:9090"
	actual := cfg.ServerAddress()

	if actual != expected {
		t.Errorf("サーバーアドレスが一致しません: got %s, want %s", actual, expected)
	}
}

// TestEnvironmentVariables は環境変数の処理をテストする
// 注意: このテストは環境変数を変更するため、parallelは使わない
func TestEnvironmentVariables(t *testing.T) {
	t.Setenv("SERVER_HOST", "test.example.com")
	t.Setenv("PORT", "9999")
	t.Setenv("ASTROCAM_DATA_PATH", "/tmp/astrocam-test")
	t.Setenv("ASTROCAM_SIMULATE", "1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.Server.Host != "test.example.com" {
		t.Errorf("環境変数のホストが反映されていません: got %s, want test.example.com", cfg.Server.Host)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("環境変数のポートが反映されていません: got %d, want 9999", cfg.Server.Port)
	}
	if cfg.DataPath != "/tmp/astrocam-test" {
		t.Errorf("環境変数のデータパスが反映されていません: got %s", cfg.DataPath)
	}
	if !cfg.Camera.Simulate {
		t.Error("環境変数のシミュレートフラグが反映されていません")
	}
}

// TestConfigFile は設定ファイルの読み込みをテストする
func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	content := []byte(`
data_path: /mnt/ssd
server:
  port: 8080
camera:
  default_gain: 4.0
  simulate: true
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("設定ファイルの作成に失敗しました: %v", err)
	}

	t.Setenv("ASTROCAM_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	if cfg.DataPath != "/mnt/ssd" {
		t.Errorf("データパスが反映されていません: got %s", cfg.DataPath)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("ポートが反映されていません: got %d", cfg.Server.Port)
	}
	if cfg.Camera.DefaultGain != 4.0 {
		t.Errorf("ゲインが反映されていません: got %g", cfg.Camera.DefaultGain)
	}
	if !cfg.Camera.Simulate {
		t.Error("シミュレートフラグが反映されていません")
	}

	// ファイルに書かれていない値はデフォルトのまま
	if cfg.Camera.MaxExposureUs != 600_000_000 {
		t.Errorf("露光時間上限がデフォルトではありません: got %d", cfg.Camera.MaxExposureUs)
	}
}
