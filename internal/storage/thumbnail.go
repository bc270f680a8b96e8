package storage

import (
	"fmt"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"golang.org/x/image/tiff"
)

// Thumbnail はサムネイルを生成または取得し、そのパスを返す
// 生成済みで元ファイルより新しい場合はキャッシュを再利用する
func (s *Service) Thumbnail(path string, width, height int) (string, error) {
	srcInfo, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	// 異なるセッションの同名ファイルが衝突しないよう、フルパスのハッシュを鍵に含める
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	thumbPath := filepath.Join(s.thumbsPath,
		fmt.Sprintf("%s_%08x_%dx%d.jpg", base, crc32.ChecksumIEEE([]byte(path)), width, height))

	if ti, err := os.Stat(thumbPath); err == nil && ti.ModTime().After(srcInfo.ModTime()) {
		return thumbPath, nil
	}

	var thumb image.Image
	switch classify(path) {
	case "jpeg", "tiff":
		thumb, err = s.scaleImage(path, width, height)
		if err != nil {
			// デコードできない画像はプレースホルダにフォールバック
			thumb = placeholder(width, height, "ERROR")
		}
	case "dng":
		// DNGの埋め込みプレビュー抽出は行わない
		thumb = placeholder(width, height, "DNG")
	case "h264", "mjpeg", "yuv":
		thumb = placeholder(width, height, "VIDEO")
	default:
		thumb = placeholder(width, height, "FILE")
	}

	f, err := os.Create(thumbPath)
	if err != nil {
		return "", fmt.Errorf("%w: サムネイルの作成に失敗: %v", ErrStorageFault, err)
	}
	defer f.Close()

	if err := jpeg.Encode(f, thumb, &jpeg.Options{Quality: 85}); err != nil {
		return "", fmt.Errorf("%w: サムネイルのエンコードに失敗: %v", ErrStorageFault, err)
	}

	return thumbPath, nil
}

// scaleImage は画像ファイルを読み込み、アスペクト比を保って縮小する
func (s *Service) scaleImage(path string, width, height int) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var src image.Image
	if classify(path) == "tiff" {
		src, err = tiff.Decode(f)
	} else {
		src, err = jpeg.Decode(f)
	}
	if err != nil {
		return nil, err
	}

	bounds := src.Bounds()
	sw, sh := bounds.Dx(), bounds.Dy()
	if sw <= width && sh <= height {
		return src, nil
	}

	// アスペクト比を保つ
	scale := float64(width) / float64(sw)
	if r := float64(height) / float64(sh); r < scale {
		scale = r
	}
	dw := int(float64(sw) * scale)
	dh := int(float64(sh) * scale)
	if dw < 1 {
		dw = 1
	}
	if dh < 1 {
		dh = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)
	return dst, nil
}

// placeholder はラベル付きのプレースホルダサムネイルを生成する
func placeholder(width, height int, label string) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{R: 0x2a, G: 0x2a, B: 0x2a, A: 0xff}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	face := basicfont.Face7x13
	textWidth := font.MeasureString(face, label).Ceil()

	d := font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.RGBA{R: 0x88, G: 0x88, B: 0x88, A: 0xff}),
		Face: face,
		Dot: fixed.P(
			(width-textWidth)/2,
			height/2,
		),
	}
	d.DrawString(label)

	return img
}
