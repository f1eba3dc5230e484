package video

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
)

// Placeholder renders the all-black frame written while the recorder is paused
func Placeholder(width, height, quality int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid placeholder size %dx%d", width, height)
	}
	img := image.NewGray(image.Rect(0, 0, width, height))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Black}, image.Point{}, draw.Src)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: clampQuality(quality)}); err != nil {
		return nil, fmt.Errorf("failed to encode placeholder frame: %w", err)
	}
	if !ValidFrame(buf.Bytes()) {
		return nil, fmt.Errorf("encoded placeholder is not a bracketed frame")
	}
	return buf.Bytes(), nil
}

func clampQuality(q int) int {
	if q < 1 {
		return jpeg.DefaultQuality
	}
	if q > 100 {
		return 100
	}
	return q
}
