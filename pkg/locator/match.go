package locator

import (
	"image"
	"math"
)

// directCostLimit is the largest offsets×template-area product scored
// exhaustively; larger searches use FFT correlation plus exact re-scoring.
var directCostLimit = 1 << 26

// candidateTolerance bounds the FFT rounding error on a score. Offsets
// within it of the best approximate score are re-scored exactly.
const candidateTolerance = 1e-6

// matcher scores one template against one screenshot.
type matcher struct {
	img, tpl *raster
	area     int64
	sumT     [3]int64
	normT    float64 // sqrt(Σc n·ΣT² - (ΣT)²)
}

func newMatcher(img, tpl *raster) *matcher {
	m := &matcher{img: img, tpl: tpl, area: int64(tpl.w * tpl.h)}
	sum, sq := tpl.channelStats()
	m.sumT = sum
	var varT float64
	for c := 0; c < 3; c++ {
		varT += float64(m.area*sq[c] - sum[c]*sum[c])
	}
	m.normT = math.Sqrt(varT)
	return m
}

// score turns an n-scaled numerator and window variance into a coefficient.
// A zero denominator (flat window or flat template) scores 0.
func (m *matcher) score(num, varI float64) float64 {
	if m.normT == 0 || varI <= 0 {
		return 0
	}
	r := num / (m.normT * math.Sqrt(varI))
	switch {
	case r > 1:
		return 1
	case r < -1:
		return -1
	}
	return r
}

// exactScore computes the coefficient at (x, y) in integer arithmetic.
func (m *matcher) exactScore(x, y int) float64 {
	tw, th := m.tpl.w, m.tpl.h
	var num, varI float64
	for c := 0; c < 3; c++ {
		ip, tp := m.img.pix[c], m.tpl.pix[c]
		var sI, sqI, sTI int64
		for j := 0; j < th; j++ {
			row := ip[(y+j)*m.img.w+x : (y+j)*m.img.w+x+tw]
			trow := tp[j*tw : (j+1)*tw]
			for i, v := range row {
				iv := int64(v)
				sI += iv
				sqI += iv * iv
				sTI += iv * int64(trow[i])
			}
		}
		num += float64(m.area*sTI - m.sumT[c]*sI)
		varI += float64(m.area*sqI - sI*sI)
	}
	return m.score(num, varI)
}

func (m *matcher) outSize() (int, int) {
	return m.img.w - m.tpl.w + 1, m.img.h - m.tpl.h + 1
}

// search returns the best offset, first in row-major order on ties.
func (m *matcher) search() Match {
	if m.normT == 0 {
		// Every window scores 0; the first offset wins.
		return Match{Score: 0, TopLeft: image.Point{}}
	}
	outW, outH := m.outSize()
	if int64(outW)*int64(outH)*m.area <= int64(directCostLimit) {
		return m.searchDirect()
	}
	return m.searchFFT()
}

func (m *matcher) searchDirect() Match {
	outW, outH := m.outSize()
	best := Match{Score: math.Inf(-1)}
	for y := 0; y < outH; y++ {
		for x := 0; x < outW; x++ {
			if s := m.exactScore(x, y); s > best.Score {
				best = Match{Score: s, TopLeft: image.Pt(x, y)}
			}
		}
	}
	return best
}

func (m *matcher) searchFFT() Match {
	outW, outH := m.outSize()
	tw, th := m.tpl.w, m.tpl.h
	w := m.img.w

	scores := correlate(m.img, m.tpl)
	flat := make([]bool, len(scores))

	// Vertical running sums over th rows, per channel and column.
	var colSum, colSq [3][]int64
	for c := 0; c < 3; c++ {
		colSum[c] = make([]int64, w)
		colSq[c] = make([]int64, w)
		for j := 0; j < th; j++ {
			for x, v := range m.img.pix[c][j*w : (j+1)*w] {
				iv := int64(v)
				colSum[c][x] += iv
				colSq[c][x] += iv * iv
			}
		}
	}

	best := math.Inf(-1)
	for y := 0; y < outH; y++ {
		if y > 0 {
			for c := 0; c < 3; c++ {
				out := m.img.pix[c][(y-1)*w : y*w]
				in := m.img.pix[c][(y+th-1)*w : (y+th)*w]
				for x := 0; x < w; x++ {
					o, n := int64(out[x]), int64(in[x])
					colSum[c][x] += n - o
					colSq[c][x] += n*n - o*o
				}
			}
		}

		var sI, sqI [3]int64
		for c := 0; c < 3; c++ {
			for x := 0; x < tw; x++ {
				sI[c] += colSum[c][x]
				sqI[c] += colSq[c][x]
			}
		}

		for x := 0; x < outW; x++ {
			if x > 0 {
				for c := 0; c < 3; c++ {
					sI[c] += colSum[c][x+tw-1] - colSum[c][x-1]
					sqI[c] += colSq[c][x+tw-1] - colSq[c][x-1]
				}
			}

			idx := y*outW + x
			num := float64(m.area) * scores[idx]
			var varI float64
			for c := 0; c < 3; c++ {
				num -= float64(m.sumT[c]) * float64(sI[c])
				varI += float64(m.area*sqI[c] - sI[c]*sI[c])
			}
			if varI == 0 {
				flat[idx] = true
			}
			s := m.score(num, varI)
			scores[idx] = s
			if s > best {
				best = s
			}
		}
	}

	// Re-score everything that could be the true maximum.
	result := Match{Score: math.Inf(-1)}
	for idx, s := range scores {
		if s < best-candidateTolerance {
			continue
		}
		x, y := idx%outW, idx/outW
		exact := 0.0
		if !flat[idx] {
			exact = m.exactScore(x, y)
		}
		if exact > result.Score {
			result = Match{Score: exact, TopLeft: image.Pt(x, y)}
		}
	}
	return result
}
