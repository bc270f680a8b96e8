package storage

import (
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileInfo は撮影成果物ファイルの情報
type FileInfo struct {
	Path string         `json:"path"`
	Type string         `json:"type"` // jpeg, dng, tiff, h264, mjpeg, yuv, zip, unknown
	Size int64          `json:"size"`
	TS   string         `json:"ts"` // 最終更新時刻 (RFC3339)
	Meta map[string]any `json:"meta"`
}

// SessionInfo は撮影セッションの情報
type SessionInfo struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	CreatedAt    string   `json:"created_at"`
	FileCount    int      `json:"file_count"`
	TotalSize    int64    `json:"total_size"`
	Types        []string `json:"types"`
	HasQuicklook bool     `json:"has_quicklook"`
	ZipAvailable bool     `json:"zip_available"`
}

// classify は拡張子からファイル種別を判定する
func classify(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "jpeg"
	case ".dng":
		return "dng"
	case ".tif", ".tiff":
		return "tiff"
	case ".h264", ".mp4":
		return "h264"
	case ".mjpeg":
		return "mjpeg"
	case ".yuv", ".yuv420":
		return "yuv"
	case ".zip":
		return "zip"
	default:
		return "unknown"
	}
}

// ListSessions は全ての撮影セッションを新しい順で取得する
func (s *Service) ListSessions() ([]SessionInfo, error) {
	entries, err := os.ReadDir(s.sessionsPath)
	if err != nil {
		if os.IsNotExist(err) {
			return []SessionInfo{}, nil
		}
		return nil, err
	}

	sessions := make([]SessionInfo, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}

		dir := filepath.Join(s.sessionsPath, entry.Name())
		info, err := entry.Info()
		if err != nil {
			continue
		}

		var fileCount int
		var totalSize int64
		typeSet := make(map[string]struct{})

		filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
				return nil
			}
			fi, err := d.Info()
			if err != nil {
				return nil
			}
			fileCount++
			totalSize += fi.Size()
			if t := classify(path); t != "unknown" {
				typeSet[t] = struct{}{}
			}
			return nil
		})

		types := make([]string, 0, len(typeSet))
		for t := range typeSet {
			types = append(types, t)
		}
		sort.Strings(types)

		_, qlErr := os.Stat(filepath.Join(dir, "quicklook.tiff"))
		_, zipErr := os.Stat(filepath.Join(s.zipsPath, entry.Name()+".zip"))

		sessions = append(sessions, SessionInfo{
			ID:           entry.Name(),
			Path:         dir,
			CreatedAt:    info.ModTime().Format(time.RFC3339),
			FileCount:    fileCount,
			TotalSize:    totalSize,
			Types:        types,
			HasQuicklook: qlErr == nil,
			ZipAvailable: zipErr == nil,
		})
	}

	// 新しい順でソート
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].CreatedAt > sessions[j].CreatedAt
	})

	return sessions, nil
}

// ListFiles はディレクトリ内のファイルを一覧する
// fileType が "all" 以外の場合は種別で絞り込む
// order は "asc" または "desc"（更新時刻順）
// limit が正の場合は件数を制限する
func (s *Service) ListFiles(path, fileType, order string, limit int) ([]FileInfo, error) {
	st, err := os.Stat(path)
	if err != nil || !st.IsDir() {
		return []FileInfo{}, nil
	}

	var files []FileInfo

	filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		ftype := classify(p)
		if fileType != "" && fileType != "all" && ftype != fileType {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			return nil
		}

		// 隣接する .json サイドカーからメタデータを読み込む
		meta := map[string]any{}
		metaPath := strings.TrimSuffix(p, filepath.Ext(p)) + ".json"
		if metaPath != p {
			if data, err := os.ReadFile(metaPath); err == nil {
				json.Unmarshal(data, &meta)
			}
		}

		files = append(files, FileInfo{
			Path: p,
			Type: ftype,
			Size: fi.Size(),
			TS:   fi.ModTime().Format(time.RFC3339),
			Meta: meta,
		})
		return nil
	})

	asc := order == "asc"
	sort.Slice(files, func(i, j int) bool {
		if asc {
			return files[i].TS < files[j].TS
		}
		return files[i].TS > files[j].TS
	})

	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}

	if files == nil {
		files = []FileInfo{}
	}
	return files, nil
}
