package storage

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// SessionZip はセッションのZIPアーカイブを生成または取得し、そのパスを返す
// 生成済みでセッションより新しい場合はキャッシュを再利用する
func (s *Service) SessionZip(sessionID string) (string, error) {
	sessionPath := filepath.Join(s.sessionsPath, sessionID)
	sessionInfo, err := os.Stat(sessionPath)
	if err != nil {
		return "", fmt.Errorf("%w: セッション %s", ErrNotFound, sessionID)
	}

	zipPath := filepath.Join(s.zipsPath, sessionID+".zip")
	if zi, err := os.Stat(zipPath); err == nil && zi.ModTime().After(sessionInfo.ModTime()) {
		return zipPath, nil
	}

	if err := s.writeZip(sessionPath, zipPath); err != nil {
		// 部分的なZIPを残さない
		os.Remove(zipPath)
		return "", err
	}

	return zipPath, nil
}

// writeZip はセッション配下のファイルをZIPに書き出す
func (s *Service) writeZip(sessionPath, zipPath string) error {
	f, err := os.Create(zipPath)
	if err != nil {
		return fmt.Errorf("%w: ZIPの作成に失敗: %v", ErrStorageFault, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	err = filepath.WalkDir(sessionPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			return nil
		}

		rel, err := filepath.Rel(sessionPath, path)
		if err != nil {
			return err
		}

		w, err := zw.Create(rel)
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: ZIPの書き込みに失敗: %v", ErrStorageFault, err)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("%w: ZIPのクローズに失敗: %v", ErrStorageFault, err)
	}

	return nil
}
