package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"astrocam/internal/capture"
	"astrocam/internal/config"
	"astrocam/internal/driver"
	"astrocam/internal/storage"
	"astrocam/internal/telemetry"
)

// newTestServer はシミュレータを使うテスト用Serverを作成する
func newTestServer(t *testing.T) *Server {
	t.Helper()

	cfg := testConfig(t)

	store, err := storage.NewService(cfg.DataPath)
	if err != nil {
		t.Fatalf("ストレージの初期化に失敗しました: %v", err)
	}

	coord := capture.NewCoordinator(driver.NewSimulator(), store, cfg)
	srv := New(cfg, coord, store, telemetry.NewSampler(cfg.DataPath))

	t.Cleanup(func() {
		srv.Shutdown()
	})

	return srv
}

// testConfig はテスト用の設定を作成する
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		DataPath: t.TempDir(),
		Server: config.ServerConfig{
			Host: "127.0.0.1",
			Port: 0,
		},
		Camera: config.CameraConfig{
			DefaultGain:      1.0,
			DefaultShutterUs: 1000,
			MaxExposureUs:    600_000_000,
			PreviewFPS:       30,
			PreviewQuality:   70,
			Simulate:         true,
		},
	}
}

// doJSON はJSONリクエストを実行し、レスポンスを返す
func doJSON(t *testing.T, srv *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("リクエストのエンコードに失敗しました: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.engine.ServeHTTP(w, req)
	return w
}

// decodeJSON はレスポンスボディをJSONとして解析する
func decodeJSON(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()

	var m map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &m); err != nil {
		t.Fatalf("レスポンスの解析に失敗しました: %v (body=%s)", err, w.Body.String())
	}
	return m
}

// TestHealthEndpoint はヘルスチェックをテストする
func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ステータスコードが期待値と異なります: %d", w.Code)
	}

	body := decodeJSON(t, w)
	if body["status"] != "healthy" {
		t.Errorf("statusが期待値と異なります: %v", body["status"])
	}
	if body["camera_available"] != true {
		t.Errorf("camera_availableが期待値と異なります: %v", body["camera_available"])
	}
}

// TestDegradedMode はカメラなし起動時の挙動をテストする
// ファイル系・ヘルス・テレメトリは動作し、カメラ系は503を返す
func TestDegradedMode(t *testing.T) {
	cfg := testConfig(t)
	store, err := storage.NewService(cfg.DataPath)
	if err != nil {
		t.Fatalf("ストレージの初期化に失敗しました: %v", err)
	}

	srv := New(cfg, nil, store, telemetry.NewSampler(cfg.DataPath))

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ヘルスチェックが失敗しました: %d", w.Code)
	}
	if body := decodeJSON(t, w); body["camera_available"] != false {
		t.Errorf("camera_availableが期待値と異なります: %v", body["camera_available"])
	}

	// カメラ系エンドポイントは503
	for _, path := range []string{"/api/capture", "/api/sequence", "/api/video/start", "/api/rawburst/start", "/api/focus"} {
		w := doJSON(t, srv, http.MethodPost, path, map[string]any{})
		if w.Code != http.StatusServiceUnavailable {
			t.Errorf("%s: 503が期待されました: %d", path, w.Code)
		}
	}

	// ファイル系は動作する
	w = doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Errorf("セッション一覧が失敗しました: %d", w.Code)
	}
}

// TestCaptureEndpoint は静止画撮影APIをテストする
func TestCaptureEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"shutter_us": 1000,
		"gain":       2.0,
		"format":     "jpeg+dng",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("撮影が失敗しました: %d (%s)", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	if body["path_jpeg"] == "" || body["path_jpeg"] == nil {
		t.Error("JPEGパスが返されていません")
	}
	if body["path_dng"] == "" || body["path_dng"] == nil {
		t.Error("DNGパスが返されていません")
	}
	if _, ok := body["exif"]; !ok {
		t.Error("EXIFが返されていません")
	}
}

// TestCaptureValidation はパラメータ検証のHTTPマッピングをテストする
func TestCaptureValidation(t *testing.T) {
	srv := newTestServer(t)

	// 露光時間ゼロは400
	w := doJSON(t, srv, http.MethodPost, "/api/capture", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("400が期待されました: %d", w.Code)
	}

	// 不正なJSONも400
	req := httptest.NewRequest(http.MethodPost, "/api/capture", bytes.NewBufferString("{broken"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("400が期待されました: %d", rec.Code)
	}
}

// TestSequenceEndpoints はシーケンスの開始・状態・排他をテストする
func TestSequenceEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/sequence", map[string]any{
		"type":        "subs",
		"frames":      50,
		"shutter_us":  2000,
		"interval_ms": 20,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("シーケンスの開始が失敗しました: %d (%s)", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	id, _ := body["id"].(string)
	if id == "" {
		t.Fatal("操作IDが返されていません")
	}
	if body["started_at"] == "" {
		t.Error("開始時刻が返されていません")
	}
	if body["eta"] == nil {
		t.Error("ETAが返されていません")
	}

	// 実行中の二重開始は503
	w = doJSON(t, srv, http.MethodPost, "/api/sequence", map[string]any{
		"type": "subs", "frames": 1, "shutter_us": 1000,
	})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("503が期待されました: %d", w.Code)
	}

	// 状態の照会
	w = doJSON(t, srv, http.MethodGet, "/api/sequence/"+id+"/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("状態の照会が失敗しました: %d", w.Code)
	}
	status := decodeJSON(t, w)
	if status["total"] != float64(50) {
		t.Errorf("総数が期待値と異なります: %v", status["total"])
	}

	// 存在しないIDは404
	w = doJSON(t, srv, http.MethodGet, "/api/sequence/unknown/status", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("404が期待されました: %d", w.Code)
	}

	// 後始末
	srv.coord.Stop(id)
}

// TestVideoStartStop は動画の開始・停止APIをテストする
func TestVideoStartStop(t *testing.T) {
	srv := newTestServer(t)

	// 何も実行されていない状態での停止は404
	w := doJSON(t, srv, http.MethodPost, "/api/video/stop", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("404が期待されました: %d", w.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/video/start", map[string]any{
		"codec": "h264",
		"fps":   30,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("動画の開始が失敗しました: %d (%s)", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["current_path"] == "" || body["current_path"] == nil {
		t.Error("録画先パスが返されていません")
	}
	id, _ := body["id"].(string)

	// 録画が開始されるまで待つ
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if op, err := srv.coord.Status(id); err == nil && op.State == "running" {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/video/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("動画の停止が失敗しました: %d (%s)", w.Code, w.Body.String())
	}
	stop := decodeJSON(t, w)
	if stop["status"] != "stopped" && stop["status"] != "already_stopped" {
		t.Errorf("停止ステータスが期待値と異なります: %v", stop["status"])
	}
}

// TestRawBurstEndpoints はRAWバーストの開始・停止APIをテストする
func TestRawBurstEndpoints(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/rawburst/start", map[string]any{
		"fps": 50,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("バーストの開始が失敗しました: %d (%s)", w.Code, w.Body.String())
	}
	body := decodeJSON(t, w)
	if body["folder"] == "" || body["folder"] == nil {
		t.Error("バーストフォルダが返されていません")
	}

	// 不正なfpsは400
	w2 := doJSON(t, srv, http.MethodPost, "/api/rawburst/start", map[string]any{"fps": -1})
	if w2.Code != http.StatusBadRequest && w2.Code != http.StatusServiceUnavailable {
		t.Errorf("400または503が期待されました: %d", w2.Code)
	}

	w = doJSON(t, srv, http.MethodPost, "/api/rawburst/stop", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("バーストの停止が失敗しました: %d (%s)", w.Code, w.Body.String())
	}
}

// TestFocusEndpoint はフォーカス測定APIをテストする
func TestFocusEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodPost, "/api/focus", map[string]any{
		"roi": []int{0, 0, 320, 240},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("フォーカス測定が失敗しました: %d (%s)", w.Code, w.Body.String())
	}

	body := decodeJSON(t, w)
	metric, ok := body["metric"].(float64)
	if !ok || metric <= 0 {
		t.Errorf("指標が正ではありません: %v", body["metric"])
	}

	// 無効なROIは400
	w = doJSON(t, srv, http.MethodPost, "/api/focus", map[string]any{
		"roi": []int{0, 0, 0, 0},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("400が期待されました: %d", w.Code)
	}
}

// TestFileEndpoints はファイル一覧・パス検証をテストする
func TestFileEndpoints(t *testing.T) {
	srv := newTestServer(t)

	// 撮影して成果物を作る
	w := doJSON(t, srv, http.MethodPost, "/api/capture", map[string]any{
		"shutter_us": 1000,
		"format":     "jpeg",
		"folder":     "night1",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("撮影が失敗しました: %d", w.Code)
	}

	// セッション一覧
	w = doJSON(t, srv, http.MethodGet, "/api/sessions", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("セッション一覧が失敗しました: %d", w.Code)
	}
	sessions := decodeJSON(t, w)["sessions"].([]any)
	if len(sessions) != 1 {
		t.Fatalf("セッション数が期待値と異なります: %d", len(sessions))
	}

	// ファイル一覧
	w = doJSON(t, srv, http.MethodGet, "/api/files?type=jpeg", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("ファイル一覧が失敗しました: %d", w.Code)
	}
	files := decodeJSON(t, w)["files"].([]any)
	if len(files) != 1 {
		t.Fatalf("ファイル数が期待値と異なります: %d", len(files))
	}
	path := files[0].(map[string]any)["path"].(string)

	// ストリーミング配信
	w = doJSON(t, srv, http.MethodGet, "/api/files/stream?path="+path, nil)
	if w.Code != http.StatusOK {
		t.Errorf("ファイル配信が失敗しました: %d", w.Code)
	}

	// サムネイル
	w = doJSON(t, srv, http.MethodGet, "/api/files/thumb?path="+path, nil)
	if w.Code != http.StatusOK {
		t.Errorf("サムネイル取得が失敗しました: %d", w.Code)
	}

	// セッションZIP
	w = doJSON(t, srv, http.MethodGet, "/api/sessions/night1/zip", nil)
	if w.Code != http.StatusOK {
		t.Errorf("ZIP取得が失敗しました: %d", w.Code)
	}

	// データディレクトリ外へのアクセスは400
	w = doJSON(t, srv, http.MethodGet, "/api/files/stream?path=/etc/passwd", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("400が期待されました: %d", w.Code)
	}
	w = doJSON(t, srv, http.MethodGet, "/api/files?path="+path+"/../../../..", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("400が期待されました: %d", w.Code)
	}
}

// TestOperationsEndpoint は操作一覧APIをテストする
func TestOperationsEndpoint(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/operations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("操作一覧が失敗しました: %d", w.Code)
	}
	if _, ok := decodeJSON(t, w)["operations"]; !ok {
		t.Error("operationsキーがありません")
	}
}

// TestCORSMiddleware はCORSヘッダとプリフライトをテストする
func TestCORSMiddleware(t *testing.T) {
	srv := newTestServer(t)

	w := doJSON(t, srv, http.MethodGet, "/api/health", nil)
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("CORSヘッダが期待値と異なります: %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	rec := httptest.NewRecorder()
	srv.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("プリフライトのステータスが期待値と異なります: %d", rec.Code)
	}
}
