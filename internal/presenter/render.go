package presenter

import (
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/care/sentinel/internal/types"
)

var (
	colorWhite  = color.RGBA{255, 255, 255, 255}
	colorRed    = color.RGBA{220, 38, 38, 255}
	colorGreen  = color.RGBA{22, 163, 74, 255}
	colorBlue   = color.RGBA{37, 99, 235, 255}
	colorShadow = color.RGBA{0, 0, 0, 160}
)

// lineHeight matches basicfont.Face7x13 plus a little leading.
const lineHeight = 16

// ToRGBA converts a packed BGR24/RGB24 frame into an image.
func ToRGBA(f types.Frame) (*image.RGBA, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}

	img := image.NewRGBA(image.Rect(0, 0, f.Width, f.Height))
	r, b := 0, 2
	if f.Format == types.FormatBGR24 {
		r, b = 2, 0
	}

	src := f.Data
	dst := img.Pix
	for i, j := 0, 0; i < len(src); i, j = i+3, j+4 {
		dst[j] = src[i+r]
		dst[j+1] = src[i+1]
		dst[j+2] = src[i+b]
		dst[j+3] = 0xff
	}
	return img, nil
}

// Scale resizes src to width x height with bilinear filtering.
func Scale(src image.Image, width, height int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), xdraw.Src, nil)
	return dst
}

// drawText writes one line with its baseline at (x, y).
func drawText(dst *image.RGBA, x, y int, c color.Color, s string) {
	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(s)
}

// fillRect blends c over r.
func fillRect(dst *image.RGBA, r image.Rectangle, c color.Color) {
	xdraw.Draw(dst, r, image.NewUniform(c), image.Point{}, xdraw.Over)
}

// Panel is the text shown next to the live frame.
type Panel struct {
	// FrameCount is the frame's position within the current window
	FrameCount int
	Label      types.Label
	TheftPct   string
	NormalPct  string
	Attention  bool
}

// Lines returns the panel text in display order.
func (p Panel) Lines() []string {
	lines := []string{
		fmt.Sprintf("Frame Count: %d", p.FrameCount),
		"Theft: " + p.TheftPct,
		"Normal: " + p.NormalPct,
		"Predict: " + p.Label.String(),
	}
	if p.Attention {
		lines = append(lines, "Attention, Theft Behavior Has Been Detected!")
	}
	return lines
}

func (p Panel) predictColor() color.Color {
	switch p.Label {
	case types.LabelTheft:
		return colorRed
	case types.LabelNormal:
		return colorGreen
	default:
		return colorBlue
	}
}

// Annotate scales the frame to the display size and overlays the panel.
func Annotate(f types.Frame, p Panel, width, height int) (*image.RGBA, error) {
	src, err := ToRGBA(f)
	if err != nil {
		return nil, err
	}
	img := Scale(src, width, height)

	lines := p.Lines()
	fillRect(img, image.Rect(0, 0, width, 8+lineHeight*len(lines)), colorShadow)

	for i, line := range lines {
		c := color.Color(colorWhite)
		switch {
		case i == 3:
			c = p.predictColor()
		case i == 4:
			c = colorRed
		}
		drawText(img, 8, lineHeight*(i+1), c, line)
	}

	if p.Attention {
		border := 4
		b := img.Bounds()
		fillRect(img, image.Rect(0, 0, b.Dx(), border), colorRed)
		fillRect(img, image.Rect(0, b.Dy()-border, b.Dx(), b.Dy()), colorRed)
		fillRect(img, image.Rect(0, 0, border, b.Dy()), colorRed)
		fillRect(img, image.Rect(b.Dx()-border, 0, b.Dx(), b.Dy()), colorRed)
	}
	return img, nil
}

// Thumbnail scales the frame and writes a caption under it.
func Thumbnail(f types.Frame, caption string, width, height int) (*image.RGBA, error) {
	src, err := ToRGBA(f)
	if err != nil {
		return nil, err
	}
	img := Scale(src, width, height)
	fillRect(img, image.Rect(0, height-lineHeight-6, width, height), colorShadow)
	drawText(img, 6, height-8, colorWhite, caption)
	return img, nil
}
