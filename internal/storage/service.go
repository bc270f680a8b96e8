package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

// ストレージ操作のエラー
var (
	// ErrStorageFault はディスク書き込み等のストレージ障害を表す
	ErrStorageFault = errors.New("ストレージ操作に失敗しました")

	// ErrNotFound は指定されたファイル・セッションが存在しないことを表す
	ErrNotFound = errors.New("ファイルが見つかりません")
)

// Service は撮影データのファイル管理を担う
type Service struct {
	dataPath     string
	sessionsPath string
	thumbsPath   string
	zipsPath     string
}

// NewService は新しいServiceを作成し、必要なディレクトリを用意する
func NewService(dataPath string) (*Service, error) {
	s := &Service{
		dataPath:     dataPath,
		sessionsPath: filepath.Join(dataPath, "sessions"),
		thumbsPath:   filepath.Join(dataPath, ".thumbs"),
		zipsPath:     filepath.Join(dataPath, "zips"),
	}

	for _, dir := range []string{s.sessionsPath, s.thumbsPath, s.zipsPath} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("%w: ディレクトリの作成に失敗 (%s): %v", ErrStorageFault, dir, err)
		}
	}

	return s, nil
}

// DataPath はデータルートのパスを返す
func (s *Service) DataPath() string {
	return s.dataPath
}

// CreateSessionFolder はセッションフォルダを作成する
// 名前が空の場合はタイムスタンプが使われる
func (s *Service) CreateSessionFolder(name string) (string, error) {
	if name == "" {
		name = time.Now().Format("20060102_150405")
	}

	path := filepath.Join(s.sessionsPath, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("%w: セッションフォルダの作成に失敗 (%s): %v", ErrStorageFault, name, err)
	}

	return path, nil
}

// CreateSubfolder はセッション内のサブフォルダ（subs/darks/rawburst/video等）を作成する
func (s *Service) CreateSubfolder(sessionPath, name string) (string, error) {
	path := filepath.Join(sessionPath, name)
	if err := os.MkdirAll(path, 0755); err != nil {
		return "", fmt.Errorf("%w: サブフォルダの作成に失敗 (%s): %v", ErrStorageFault, path, err)
	}
	return path, nil
}

// FreeBytes はデータルートのファイルシステムの空きバイト数を返す
func (s *Service) FreeBytes() (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(s.dataPath, &st); err != nil {
		return 0, fmt.Errorf("%w: 空き容量の取得に失敗: %v", ErrStorageFault, err)
	}
	return st.Bavail * uint64(st.Bsize), nil
}
