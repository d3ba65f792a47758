package bitmap

import (
	"image"
	"image/draw"
)

// EncodeRGB565 returns the raw RGB565 frame buffer of src.
func EncodeRGB565(src image.Image) []byte {
	dst := NewRGB565(src.Bounds())
	draw.Draw(dst, dst.Rect, src, src.Bounds().Min, draw.Src)
	return dst.Pix
}

// EncodeMono returns the packed 1 bit frame buffer of src. Pixels are
// thresholded, so src should already be dithered.
func EncodeMono(src image.Image) []byte {
	dst := NewMono(src.Bounds())
	draw.Draw(dst, dst.Rect, src, src.Bounds().Min, draw.Src)
	return dst.Pix
}
