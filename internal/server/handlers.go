package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"astrocam/internal/capture"
	"astrocam/internal/driver"
	"astrocam/internal/operation"
	"astrocam/internal/storage"
)

// ErrorResponse はエラーレスポンスの共通形式
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// CaptureRequest は静止画撮影のリクエスト
type CaptureRequest struct {
	Mode      string               `json:"mode"`
	Format    string               `json:"format"`
	ShutterUs int64                `json:"shutter_us"`
	Gain      float64              `json:"gain"`
	AWB       *driver.WhiteBalance `json:"awb"`
	Denoise   string               `json:"denoise"`
	Folder    string               `json:"folder"`
	Notes     map[string]string    `json:"notes"`
}

// SequenceRequest はシーケンス撮影のリクエスト
type SequenceRequest struct {
	Type       string               `json:"type"`
	Frames     int                  `json:"frames"`
	ShutterUs  int64                `json:"shutter_us"`
	IntervalMs int                  `json:"interval_ms"`
	Gain       float64              `json:"gain"`
	AWB        *driver.WhiteBalance `json:"awb"`
	Folder     string               `json:"folder"`
}

// SequenceResponse はシーケンス開始のレスポンス
type SequenceResponse struct {
	ID        string  `json:"id"`
	StartedAt string  `json:"started_at"`
	ETA       *string `json:"eta"`
}

// SequenceStatusResponse はシーケンス状態のレスポンス
type SequenceStatusResponse struct {
	State    string `json:"state"`
	Done     int    `json:"done"`
	Total    int    `json:"total"`
	LastPath string `json:"last_path,omitempty"`
}

// VideoRequest は動画録画のリクエスト
type VideoRequest struct {
	Codec   string `json:"codec"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	FPS     int    `json:"fps"`
	Bitrate string `json:"bitrate"`
}

// VideoResponse は動画開始のレスポンス
type VideoResponse struct {
	ID          string `json:"id"`
	CurrentPath string `json:"current_path"`
}

// RawBurstRequest はRAWバーストのリクエスト
type RawBurstRequest struct {
	FPS         float64 `json:"fps"`
	LimitFrames int     `json:"limit_frames"`
	Folder      string  `json:"folder"`
}

// RawBurstResponse はRAWバースト開始のレスポンス
type RawBurstResponse struct {
	ID     string `json:"id"`
	Folder string `json:"folder"`
}

// FocusRequest はフォーカス測定のリクエスト
type FocusRequest struct {
	ROI [4]int `json:"roi"`
}

// FocusResponse はフォーカス測定のレスポンス
type FocusResponse struct {
	Metric float64 `json:"metric"`
	ROI    [4]int  `json:"roi"`
}

// handleHealth はヘルスチェックエンドポイントの実装
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"camera_available": s.coord != nil,
		"timestamp":        time.Now().UTC().Format(time.RFC3339),
	})
}

// requireCamera はカメラが利用可能か確認する
// デグレードモードの場合は503を返してfalseを返す
func (s *Server) requireCamera(c *gin.Context) bool {
	if s.coord == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:     "camera_unavailable",
			Message:   "カメラが利用できません",
			Timestamp: time.Now(),
		})
		return false
	}
	return true
}

// respondError はエラー種別をHTTPステータスに対応付けて返す
func respondError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"

	switch {
	case errors.Is(err, capture.ErrBusy):
		status = http.StatusServiceUnavailable
		code = "camera_busy"
	case errors.Is(err, capture.ErrInvalidParameters):
		status = http.StatusBadRequest
		code = "invalid_parameters"
	case errors.Is(err, operation.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, operation.ErrAlreadyTerminal):
		status = http.StatusConflict
		code = "already_terminal"
	case errors.Is(err, driver.ErrDriverFault):
		status = http.StatusInternalServerError
		code = "driver_fault"
	case errors.Is(err, storage.ErrStorageFault):
		status = http.StatusInternalServerError
		code = "storage_fault"
	}

	c.JSON(status, ErrorResponse{
		Error:     code,
		Message:   err.Error(),
		Timestamp: time.Now(),
	})
}

// handleCapture は静止画撮影エンドポイントの実装（同期）
func (s *Server) handleCapture(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req CaptureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	result, err := s.coord.CaptureStill(c.Request.Context(), capture.StillParams{
		Mode:      req.Mode,
		Format:    req.Format,
		ShutterUs: req.ShutterUs,
		Gain:      req.Gain,
		AWB:       req.AWB,
		Denoise:   req.Denoise,
		Folder:    req.Folder,
		Notes:     req.Notes,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// handleStartSequence はシーケンス開始エンドポイントの実装
func (s *Server) handleStartSequence(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req SequenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	op, err := s.coord.StartSequence(capture.SequenceParams{
		Type:       req.Type,
		Frames:     req.Frames,
		ShutterUs:  req.ShutterUs,
		IntervalMs: req.IntervalMs,
		Gain:       req.Gain,
		AWB:        req.AWB,
		Folder:     req.Folder,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	// 総所要時間からETAを見積もる
	perFrame := time.Duration(req.ShutterUs)*time.Microsecond +
		time.Duration(req.IntervalMs)*time.Millisecond
	eta := op.CreatedAt.Add(time.Duration(req.Frames) * perFrame).UTC().Format(time.RFC3339)

	c.JSON(http.StatusOK, SequenceResponse{
		ID:        op.ID,
		StartedAt: op.CreatedAt.UTC().Format(time.RFC3339),
		ETA:       &eta,
	})
}

// handleSequenceStatus はシーケンス状態取得エンドポイントの実装
func (s *Server) handleSequenceStatus(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	op, err := s.coord.Status(c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, SequenceStatusResponse{
		State:    string(op.State),
		Done:     op.Progress.Done,
		Total:    op.Progress.Total,
		LastPath: op.LastArtifactPath,
	})
}

// handleStartVideo は動画録画開始エンドポイントの実装
func (s *Server) handleStartVideo(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req VideoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	op, path, err := s.coord.StartVideo(capture.VideoParams{
		Codec:   req.Codec,
		Width:   req.Width,
		Height:  req.Height,
		FPS:     req.FPS,
		Bitrate: req.Bitrate,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, VideoResponse{ID: op.ID, CurrentPath: path})
}

// handleStopVideo は動画録画停止エンドポイントの実装
func (s *Server) handleStopVideo(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}
	s.stopByKind(c, operation.KindVideo)
}

// handleStartRawBurst はRAWバースト開始エンドポイントの実装
func (s *Server) handleStartRawBurst(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req RawBurstRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	op, folder, err := s.coord.StartRawBurst(capture.RawBurstParams{
		FPS:         req.FPS,
		LimitFrames: req.LimitFrames,
		Folder:      req.Folder,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, RawBurstResponse{ID: op.ID, Folder: folder})
}

// handleStopRawBurst はRAWバースト停止エンドポイントの実装
func (s *Server) handleStopRawBurst(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}
	s.stopByKind(c, operation.KindRawBurst)
}

// stopByKind は種別指定の停止要求を処理する
// 停止ボタンの二度押しは害のない競合としてエラーにしない
func (s *Server) stopByKind(c *gin.Context, kind operation.Kind) {
	id, err := s.coord.StopKind(kind)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"status": "stopped", "id": id})
	case errors.Is(err, operation.ErrAlreadyTerminal):
		c.JSON(http.StatusOK, gin.H{"status": "already_stopped", "id": id})
	default:
		respondError(c, err)
	}
}

// handleFocus はフォーカス測定エンドポイントの実装（同期）
func (s *Server) handleFocus(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	var req FocusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:     "invalid_request",
			Message:   err.Error(),
			Timestamp: time.Now(),
		})
		return
	}

	metric, err := s.coord.MeasureFocus(c.Request.Context(), req.ROI)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, FocusResponse{Metric: metric, ROI: req.ROI})
}

// handleListOperations は操作一覧エンドポイントの実装（診断用）
func (s *Server) handleListOperations(c *gin.Context) {
	if !s.requireCamera(c) {
		return
	}

	c.JSON(http.StatusOK, gin.H{"operations": s.coord.List()})
}
