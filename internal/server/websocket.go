package server

import (
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// upgrader はWebSocketへのアップグレード設定
// ローカルネットワークのUIから接続されるためオリジン検証は行わない
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// telemetryInterval はテレメトリ配信の周期
const telemetryInterval = time.Second

// handleTelemetryWS はテレメトリWebSocketエンドポイントの実装
// 1秒ごとにシステム状態と実行中操作の進捗を配信する
func (s *Server) handleTelemetryWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("WebSocketアップグレード失敗: %v", err)
		return
	}
	defer conn.Close()

	// クライアント切断を検知する読み取りループ
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(telemetryInterval)
	defer ticker.Stop()

	ctx := c.Request.Context()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			data := s.sampler.Sample(ctx)

			// 実行中操作があれば進捗を添付する
			if s.coord != nil {
				if op, ok := s.coord.ActiveProgress(); ok {
					data.SequenceProgress = map[string]any{
						"id":        op.ID,
						"kind":      string(op.Kind),
						"state":     string(op.State),
						"done":      op.Progress.Done,
						"total":     op.Progress.Total,
						"last_path": op.LastArtifactPath,
					}
				}
			}

			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(data); err != nil {
				return
			}
		}
	}
}
