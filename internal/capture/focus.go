package capture

import (
	"image"
)

// laplacianVariance はROI内のラプラシアン分散によるフォーカス指標を計算する
// 値が大きいほどエッジが鋭い（合焦している）ことを示す
// roi は [x, y, w, h]
func laplacianVariance(img image.Image, roi [4]int) float64 {
	gray := toGray(img, roi)
	bounds := gray.Bounds()
	w, h := bounds.Dx(), bounds.Dy()

	if w < 3 || h < 3 {
		return 0
	}

	// 3x3ラプラシアンカーネル（4近傍）を適用する
	n := 0
	var sum, sumSq float64
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			center := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y)
			up := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y-1).Y)
			down := float64(gray.GrayAt(bounds.Min.X+x, bounds.Min.Y+y+1).Y)
			left := float64(gray.GrayAt(bounds.Min.X+x-1, bounds.Min.Y+y).Y)
			right := float64(gray.GrayAt(bounds.Min.X+x+1, bounds.Min.Y+y).Y)

			lap := up + down + left + right - 4*center
			sum += lap
			sumSq += lap * lap
			n++
		}
	}

	if n == 0 {
		return 0
	}

	mean := sum / float64(n)
	return sumSq/float64(n) - mean*mean
}

// toGray は画像のROIをグレースケールに変換する
// ROIは画像の範囲内に切り詰められる
func toGray(img image.Image, roi [4]int) *image.Gray {
	rect := image.Rect(roi[0], roi[1], roi[0]+roi[2], roi[1]+roi[3])
	rect = rect.Intersect(img.Bounds())

	gray := image.NewGray(rect)
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			gray.Set(x, y, img.At(x, y))
		}
	}
	return gray
}
