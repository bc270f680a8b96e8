package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// resolveDataPath はクエリのパスを検証し、データディレクトリ外への
// アクセス（パストラバーサル）を拒否する
func (s *Server) resolveDataPath(raw string) (string, error) {
	if raw == "" {
		return "", errors.New("pathが指定されていません")
	}
	abs, err := filepath.Abs(filepath.Clean(raw))
	if err != nil {
		return "", err
	}
	root := s.store.DataPath()
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", errors.New("データディレクトリ外のパスです")
	}
	return abs, nil
}

// handleListSessions は撮影セッション一覧エンドポイントの実装
func (s *Server) handleListSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions()
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

// handleListFiles はファイル一覧エンドポイントの実装
// path, type, order, limit をクエリパラメータで受け取る
func (s *Server) handleListFiles(c *gin.Context) {
	path := c.Query("path")
	if path == "" {
		path = s.store.DataPath()
	}
	abs, err := s.resolveDataPath(path)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_path",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "0"))
	files, err := s.store.ListFiles(abs, c.DefaultQuery("type", "all"), c.DefaultQuery("order", "desc"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

// handleThumbnail はサムネイル取得エンドポイントの実装
// 生成済みキャッシュがあればそれを返す
func (s *Server) handleThumbnail(c *gin.Context) {
	abs, err := s.resolveDataPath(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_path",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	w, _ := strconv.Atoi(c.DefaultQuery("w", "320"))
	h, _ := strconv.Atoi(c.DefaultQuery("h", "240"))

	thumb, err := s.store.Thumbnail(abs, w, h)
	if err != nil {
		respondError(c, err)
		return
	}
	c.File(thumb)
}

// handleStreamFile はファイル閲覧エンドポイントの実装（インライン配信）
func (s *Server) handleStreamFile(c *gin.Context) {
	abs, err := s.resolveDataPath(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_path",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	c.File(abs)
}

// handleDownloadFile はファイルダウンロードエンドポイントの実装
func (s *Server) handleDownloadFile(c *gin.Context) {
	abs, err := s.resolveDataPath(c.Query("path"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_path",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}
	c.FileAttachment(abs, filepath.Base(abs))
}

// handleSessionZip はセッションZIPダウンロードエンドポイントの実装
// ZIPは初回要求時に生成され、セッションが変わらない限り再利用される
func (s *Server) handleSessionZip(c *gin.Context) {
	id := c.Param("id")
	// セッションIDにパス区切りが含まれていたら拒否
	if id != filepath.Base(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_path",
			Message:   "不正なセッションIDです",
			Timestamp: time.Now(),
		})
		return
	}

	zipPath, err := s.store.SessionZip(id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.FileAttachment(zipPath, id+".zip")
}
