package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// handlePreview はMJPEGプレビューストリームを配信する
// プレビュー操作を開始し、クライアント切断時に停止する
func (s *Server) handlePreview(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	op, frames, err := s.coord.StartPreview()
	if err != nil {
		respondError(c, err)
		return
	}
	// 切断時にプレビューを停止し、残りのフレームを捨てる
	defer func() {
		s.coord.Stop(op.ID)
		for range frames {
		}
	}()

	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	clientGone := c.Request.Context().Done()

	// ストリーミングループ
	for {
		select {
		case <-clientGone:
			// クライアントが切断された
			return

		case frame, ok := <-frames:
			if !ok {
				// プレビューが終了した
				return
			}

			if _, err := writer.Write([]byte("--frame\r\n")); err != nil {
				return
			}
			if _, err := writer.Write([]byte("Content-Type: image/jpeg\r\n\r\n")); err != nil {
				return
			}
			if _, err := writer.Write(frame); err != nil {
				return
			}
			if _, err := writer.Write([]byte("\r\n")); err != nil {
				return
			}

			flusher.Flush()
		}
	}
}
