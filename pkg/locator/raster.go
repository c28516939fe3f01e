package locator

import (
	"image"
	"image/color"
)

// raster holds an image as three 8-bit channel planes, row-major, origin at 0,0.
type raster struct {
	w, h int
	pix  [3][]uint8
}

func newRaster(img image.Image) *raster {
	b := img.Bounds()
	r := &raster{w: b.Dx(), h: b.Dy()}
	for c := range r.pix {
		r.pix[c] = make([]uint8, r.w*r.h)
	}

	// Decoded JPEGs come back as YCbCr; avoid the interface call per pixel.
	if ycc, ok := img.(*image.YCbCr); ok {
		for y := 0; y < r.h; y++ {
			for x := 0; x < r.w; x++ {
				yi := ycc.YOffset(b.Min.X+x, b.Min.Y+y)
				ci := ycc.COffset(b.Min.X+x, b.Min.Y+y)
				cr, cg, cb := color.YCbCrToRGB(ycc.Y[yi], ycc.Cb[ci], ycc.Cr[ci])
				i := y*r.w + x
				r.pix[0][i], r.pix[1][i], r.pix[2][i] = cr, cg, cb
			}
		}
		return r
	}

	for y := 0; y < r.h; y++ {
		for x := 0; x < r.w; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			i := y*r.w + x
			r.pix[0][i] = uint8(cr >> 8)
			r.pix[1][i] = uint8(cg >> 8)
			r.pix[2][i] = uint8(cb >> 8)
		}
	}
	return r
}

// channelStats returns the per-channel sum and sum of squares of the whole raster.
func (r *raster) channelStats() (sum, sq [3]int64) {
	for c := range r.pix {
		for _, v := range r.pix[c] {
			iv := int64(v)
			sum[c] += iv
			sq[c] += iv * iv
		}
	}
	return sum, sq
}
