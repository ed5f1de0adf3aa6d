package roof

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	minThumbnailSize = 64
	labelHeight      = 16
)

var (
	thumbBackground = color.RGBA{255, 255, 255, 255}
	thumbFacet      = color.NRGBA{240, 200, 120, 160}
	thumbLabelBar   = color.RGBA{30, 30, 30, 255}
	thumbLabelText  = color.RGBA{255, 255, 255, 255}
)

// ThumbnailLabel is the status line drawn under a thumbnail.
func ThumbnailLabel(result *MeasurementResult) string {
	switch MeasurementOutcome(result) {
	case OutcomeNoFootprint:
		return "NO FOOTPRINT"
	case OutcomeFailed:
		return "FAILED"
	case OutcomeReview:
		return fmt.Sprintf("REVIEW %.2f", result.QA.OverallScore)
	default:
		return fmt.Sprintf("PASS %.2f", result.QA.OverallScore)
	}
}

// RenderThumbnail draws a small square raster preview of a measurement with a
// status label along the bottom. Results without a footprint render as a
// blank tile with the label only.
func RenderThumbnail(result *MeasurementResult, size int) *image.RGBA {
	if size < minThumbnailSize {
		size = minThumbnailSize
	}
	img := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: thumbBackground}, image.Point{}, draw.Src)

	if result != nil && result.Footprint != nil {
		drawPlan(img, result, size-labelHeight)
	}

	draw.Draw(img, image.Rect(0, size-labelHeight, size, size), &image.Uniform{C: thumbLabelBar}, image.Point{}, draw.Src)
	drawText(img, 4, size-4, ThumbnailLabel(result), thumbLabelText)
	return img
}

// drawPlan scales the plan into the top plotH rows of img.
func drawPlan(img *image.RGBA, result *MeasurementResult, plotH int) {
	ring := result.Footprint.Ring
	if result.Topology != nil {
		ring = result.Topology.FootprintCoords
	}
	frame := NewLocalFrame(ring)
	feet := frame.RingToFeet(ring)
	if len(feet) == 0 {
		return
	}
	b := orb.LineString(feet).Bound()
	span := math.Max(b.Max[0]-b.Min[0], b.Max[1]-b.Min[1])
	if span <= 0 {
		return
	}
	const margin = 4
	width := img.Bounds().Dx()
	scale := float64(min(width, plotH)-2*margin) / span
	offX := (float64(width) - (b.Max[0]-b.Min[0])*scale) / 2
	offY := (float64(plotH) - (b.Max[1]-b.Min[1])*scale) / 2

	// Image rows grow downward, so y is flipped.
	toPixel := func(p orb.Point) orb.Point {
		f := frame.ToFeet(p)
		return orb.Point{
			offX + (f[0]-b.Min[0])*scale,
			float64(plotH) - offY - (f[1]-b.Min[1])*scale,
		}
	}
	toPixelRing := func(r orb.Ring) orb.Ring {
		out := make(orb.Ring, 0, len(r))
		for _, p := range r {
			out = append(out, toPixel(p))
		}
		return CloseRing(out)
	}

	if result.Areas != nil {
		for _, f := range result.Areas.Facets {
			if f.Closed && len(ringVertices(f.Polygon)) >= 3 {
				fillRing(img, toPixelRing(f.Polygon), thumbFacet)
			}
		}
	}

	if result.Topology == nil {
		pr := toPixelRing(ring)
		for i := 0; i+1 < len(pr); i++ {
			drawLine(img, pr[i], pr[i+1], DefaultEdgeColors[EdgeEave])
		}
		return
	}
	for _, e := range result.Topology.Skeleton {
		drawLine(img, toPixel(e.Start), toPixel(e.End), DefaultEdgeColors[e.Type])
	}
	for _, v := range result.Topology.Vertices {
		p := toPixel(v.Coordinate)
		drawCircle(img, int(math.Round(p[0])), int(math.Round(p[1])), 1, color.RGBA{0, 0, 0, 255})
	}
}

// fillRing alpha-blends c over every pixel whose center lies inside ring.
func fillRing(img *image.RGBA, ring orb.Ring, c color.NRGBA) {
	b := ring.Bound()
	bounds := img.Bounds()
	x0, y0 := max(int(math.Floor(b.Min[0])), bounds.Min.X), max(int(math.Floor(b.Min[1])), bounds.Min.Y)
	x1, y1 := min(int(math.Ceil(b.Max[0])), bounds.Max.X-1), min(int(math.Ceil(b.Max[1])), bounds.Max.Y-1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			if planar.RingContains(ring, orb.Point{float64(x) + 0.5, float64(y) + 0.5}) {
				img.Set(x, y, blendColors(img.RGBAAt(x, y), c))
			}
		}
	}
}

// drawLine draws a one-pixel line by stepping along its longer axis.
func drawLine(img *image.RGBA, a, b orb.Point, c color.RGBA) {
	dx, dy := b[0]-a[0], b[1]-a[1]
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		steps = 1
	}
	bounds := img.Bounds()
	for i := 0; i <= steps; i++ {
		t := float64(i) / float64(steps)
		x := int(math.Round(a[0] + dx*t))
		y := int(math.Round(a[1] + dy*t))
		if image.Pt(x, y).In(bounds) {
			img.SetRGBA(x, y, c)
		}
	}
}

// drawCircle draws a filled circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius && image.Pt(cx+dx, cy+dy).In(img.Bounds()) {
				img.SetRGBA(cx+dx, cy+dy, c)
			}
		}
	}
}

// blendColors alpha-blends fg over an opaque bg.
func blendColors(bg color.RGBA, fg color.NRGBA) color.RGBA {
	alpha := float64(fg.A) / 255.0
	inv := 1.0 - alpha
	return color.RGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*inv),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*inv),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*inv),
		A: 255,
	}
}

// drawText renders text onto an image with its baseline at y.
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
