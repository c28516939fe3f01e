package locator

import (
	"math/bits"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// fftPlan runs 2-D transforms over n×n square buffers.
type fftPlan struct {
	n   int
	fft *fourier.CmplxFFT
	col []complex128
}

func newFFTPlan(n int) *fftPlan {
	return &fftPlan{n: n, fft: fourier.NewCmplxFFT(n), col: make([]complex128, n)}
}

// transform runs an in-place 1-D transform over a, len(a) == p.n.
// The inverse includes the 1/n scale.
func (p *fftPlan) transform(a []complex128, invert bool) {
	if !invert {
		p.fft.Coefficients(a, a)
		return
	}
	p.fft.Sequence(a, a)
	scale := complex(1/float64(p.n), 0)
	for i := range a {
		a[i] *= scale
	}
}

// transform2D runs the transform over rows then columns of an n×n buffer.
func (p *fftPlan) transform2D(data []complex128, invert bool) {
	n := p.n
	for r := 0; r < n; r++ {
		p.transform(data[r*n:(r+1)*n], invert)
	}
	for c := 0; c < n; c++ {
		for r := 0; r < n; r++ {
			p.col[r] = data[r*n+c]
		}
		p.transform(p.col, invert)
		for r := 0; r < n; r++ {
			data[r*n+c] = p.col[r]
		}
	}
}

func nextPow2(v int) int {
	if v <= 1 {
		return 1
	}
	return 1 << bits.Len(uint(v-1))
}

// minTile keeps tiny templates from producing thousands of tiles.
const minTile = 64

// tileSize picks the square transform size used for overlap-save correlation.
func tileSize(img, tpl *raster) int {
	n := max(nextPow2(2*max(tpl.w, tpl.h)), minTile)
	return min(n, nextPow2(max(img.w, img.h)))
}

// correlate returns Σc Σ I[y+j][x+i]·T[j][i] for every valid offset,
// row-major over (img.w-tpl.w+1) × (img.h-tpl.h+1).
//
// The image is processed in overlapping n×n tiles; each tile yields
// (n-tpl.w+1) × (n-tpl.h+1) offsets without circular wrap-around.
func correlate(img, tpl *raster) []float64 {
	outW, outH := img.w-tpl.w+1, img.h-tpl.h+1
	n := tileSize(img, tpl)
	plan := newFFTPlan(n)

	var spectra [3][]complex128
	for c := range spectra {
		s := make([]complex128, n*n)
		for j := 0; j < tpl.h; j++ {
			row := tpl.pix[c][j*tpl.w : (j+1)*tpl.w]
			for i, v := range row {
				s[j*n+i] = complex(float64(v), 0)
			}
		}
		plan.transform2D(s, false)
		spectra[c] = s
	}

	corr := make([]float64, outW*outH)
	stepX, stepY := n-tpl.w+1, n-tpl.h+1
	buf := make([]complex128, n*n)
	acc := make([]complex128, n*n)

	for oy := 0; oy < outH; oy += stepY {
		for ox := 0; ox < outW; ox += stepX {
			clear(acc)
			for c := 0; c < 3; c++ {
				clear(buf)
				for j := 0; j < n && oy+j < img.h; j++ {
					row := img.pix[c][(oy+j)*img.w : (oy+j+1)*img.w]
					for i := 0; i < n && ox+i < img.w; i++ {
						buf[j*n+i] = complex(float64(row[ox+i]), 0)
					}
				}
				plan.transform2D(buf, false)
				spec := spectra[c]
				for k, v := range buf {
					acc[k] += v * cmplx.Conj(spec[k])
				}
			}
			plan.transform2D(acc, true)

			for dy := 0; dy < stepY && oy+dy < outH; dy++ {
				for dx := 0; dx < stepX && ox+dx < outW; dx++ {
					corr[(oy+dy)*outW+ox+dx] = real(acc[dy*n+dx])
				}
			}
		}
	}
	return corr
}
