// Package locator finds a reference image (such as a dialog button) inside a
// device screenshot and turns the match into tap coordinates.
//
// Matching uses the normalized correlation coefficient over all three colour
// channels (the TM_CCOEFF_NORMED measure): for every offset the template and
// the window under it are mean-subtracted per channel, and
//
//	R = Σc Σ T'·I' / sqrt(Σc Σ T'² · Σc Σ I'²)
//
// R lies in [-1, 1]. Windows or templates with no variance score 0.
package locator

import (
	"fmt"
	"image"
	_ "image/jpeg" // device snapshots
	_ "image/png"  // reference templates
	"os"

	"github.com/devicelab-dev/hap-runner/pkg/core"
)

// Match is the best-scoring template position.
type Match struct {
	Score   float64     `json:"score"`   // correlation coefficient in [-1, 1]
	TopLeft image.Point `json:"topLeft"` // in screenshot coordinates
}

// Result is a match plus the point to tap.
type Result struct {
	Match
	Tap          image.Point `json:"tap"`          // centre of the matched window
	TemplateSize image.Point `json:"templateSize"` // width, height
}

type options struct {
	minScore    float64
	hasMinScore bool
}

// Option configures Locate.
type Option func(*options)

// WithMinScore rejects matches scoring below s with core.ErrLowConfidence.
// Without it Locate always returns the best match found.
func WithMinScore(s float64) Option {
	return func(o *options) {
		o.minScore = s
		o.hasMinScore = true
	}
}

// MatchTemplate returns the best position of template inside screenshot.
// Ties go to the first offset in row-major order.
func MatchTemplate(screenshot, template image.Image) (Match, error) {
	if err := checkImages(screenshot, template); err != nil {
		return Match{}, err
	}
	m := newMatcher(newRaster(screenshot), newRaster(template))
	best := m.search()
	best.TopLeft = best.TopLeft.Add(screenshot.Bounds().Min)
	return best, nil
}

// Locate matches template against screenshot and returns the tap point:
// the matched top-left plus half the template size, truncated.
//
// When WithMinScore rejects the match, the Result is still returned
// alongside the error so callers can report the score.
func Locate(screenshot, template image.Image, opts ...Option) (Result, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	m, err := MatchTemplate(screenshot, template)
	if err != nil {
		return Result{}, err
	}

	size := template.Bounds().Size()
	res := Result{
		Match:        m,
		Tap:          m.TopLeft.Add(image.Pt(size.X/2, size.Y/2)),
		TemplateSize: size,
	}

	if o.hasMinScore && m.Score < o.minScore {
		return res, core.ErrLowConfidence.WithDetails(map[string]interface{}{
			"score":    m.Score,
			"minScore": o.minScore,
		}).WithMessage(fmt.Sprintf("best template match scored %.4f, below minimum %.4f", m.Score, o.minScore))
	}
	return res, nil
}

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path) //#nosec G304 -- user-provided screenshot/template path
	if err != nil {
		return nil, core.ErrIO.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, core.ErrImageDecode.WithCause(err).WithDetails(map[string]interface{}{"path": path})
	}
	if img.Bounds().Empty() {
		return nil, core.ErrImageDecode.WithMessage("decoded image is empty: " + path)
	}
	return img, nil
}

// LocateFiles loads both images from disk and locates the template.
func LocateFiles(screenshotPath, templatePath string, opts ...Option) (Result, error) {
	screenshot, err := LoadImage(screenshotPath)
	if err != nil {
		return Result{}, err
	}
	template, err := LoadImage(templatePath)
	if err != nil {
		return Result{}, err
	}
	return Locate(screenshot, template, opts...)
}

func checkImages(screenshot, template image.Image) error {
	if screenshot == nil || screenshot.Bounds().Empty() {
		return core.ErrImageDecode.WithMessage("screenshot is empty")
	}
	if template == nil || template.Bounds().Empty() {
		return core.ErrImageDecode.WithMessage("template is empty")
	}
	s, t := screenshot.Bounds().Size(), template.Bounds().Size()
	if t.X > s.X || t.Y > s.Y {
		return core.ErrTemplateTooLarge.WithDetails(map[string]interface{}{
			"template":   fmt.Sprintf("%dx%d", t.X, t.Y),
			"screenshot": fmt.Sprintf("%dx%d", s.X, s.Y),
		}).WithMessage(fmt.Sprintf("template %dx%d does not fit screenshot %dx%d", t.X, t.Y, s.X, s.Y))
	}
	return nil
}
