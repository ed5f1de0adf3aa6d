package roof

import (
	"errors"
	"image/color"
	"image/png"
	"io"
	"math"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// ErrNothingToRender is returned when a result has no footprint.
var ErrNothingToRender = errors.New("measurement has no geometry to render")

// DefaultEdgeColors are the stroke colors per edge type.
var DefaultEdgeColors = map[EdgeType]color.RGBA{
	EdgeRidge:  {R: 200, G: 30, B: 30, A: 255},
	EdgeHip:    {R: 30, G: 90, B: 200, A: 255},
	EdgeValley: {R: 20, G: 150, B: 60, A: 255},
	EdgeEave:   {R: 40, G: 40, B: 40, A: 255},
	EdgeRake:   {R: 150, G: 90, B: 20, A: 255},
}

// DiagramRenderer draws a measurement's footprint, facets and skeleton as a
// plan view in feet.
type DiagramRenderer struct {
	Result      *MeasurementResult
	Padding     float64           // Padding in feet
	Resolution  canvas.Resolution // Resolution for PNG output
	GridSpacing float64           // Grid spacing in feet; 0 disables the grid
	EdgeWidth   float64           // Stroke width in feet
	EdgeColors  map[EdgeType]color.RGBA
	FacetFill   color.NRGBA
}

// NewDiagramRenderer creates a renderer with default settings.
func NewDiagramRenderer(result *MeasurementResult) *DiagramRenderer {
	return &DiagramRenderer{
		Result:      result,
		Padding:     5,
		Resolution:  canvas.DPI(300),
		GridSpacing: 10,
		EdgeWidth:   0.4,
		EdgeColors:  DefaultEdgeColors,
		FacetFill:   color.NRGBA{R: 240, G: 200, B: 120, A: 160},
	}
}

// canvasRenderer is implemented by both the svg and rasterizer renderers.
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// diagramLayout is the feet frame and extent of one drawing.
type diagramLayout struct {
	frame                  LocalFrame
	minX, minY, maxX, maxY float64
	width, height          float64
}

func (r *DiagramRenderer) layout() (*diagramLayout, error) {
	if r.Result == nil || r.Result.Footprint == nil {
		return nil, ErrNothingToRender
	}
	ring := r.Result.Footprint.Ring
	if r.Result.Topology != nil {
		ring = r.Result.Topology.FootprintCoords
	}
	frame := NewLocalFrame(ring)
	l := &diagramLayout{frame: frame}
	l.minX, l.minY = math.MaxFloat64, math.MaxFloat64
	l.maxX, l.maxY = -math.MaxFloat64, -math.MaxFloat64
	for _, p := range frame.RingToFeet(ring) {
		l.minX, l.minY = math.Min(l.minX, p[0]), math.Min(l.minY, p[1])
		l.maxX, l.maxY = math.Max(l.maxX, p[0]), math.Max(l.maxY, p[1])
	}
	if l.minX > l.maxX {
		return nil, ErrNothingToRender
	}
	l.width = (l.maxX - l.minX) + 2*r.Padding
	l.height = (l.maxY - l.minY) + 2*r.Padding
	return l, nil
}

// RenderToSVG writes the diagram as an SVG.
func (r *DiagramRenderer) RenderToSVG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	svgRenderer := svg.New(w, l.width, l.height, nil)
	r.renderToCanvas(svgRenderer, l)
	return svgRenderer.Close()
}

// RenderToPNG writes the diagram as a PNG.
func (r *DiagramRenderer) RenderToPNG(w io.Writer) error {
	l, err := r.layout()
	if err != nil {
		return err
	}
	rast := rasterizer.New(l.width, l.height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, l)
	return png.Encode(w, rast)
}

func (r *DiagramRenderer) renderToCanvas(renderer canvasRenderer, l *diagramLayout) {
	toCanvas := func(p orb.Point) (float64, float64) {
		f := l.frame.ToFeet(p)
		return f[0] - l.minX + r.Padding, f[1] - l.minY + r.Padding
	}
	polyPath := func(ring orb.Ring) *canvas.Path {
		cp := &canvas.Path{}
		for i, p := range ringVertices(ring) {
			x, y := toCanvas(p)
			if i == 0 {
				cp.MoveTo(x, y)
			} else {
				cp.LineTo(x, y)
			}
		}
		cp.Close()
		return cp
	}

	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(l.width, l.height), bgStyle, canvas.Identity)

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: canvas.Gray}
		gridStyle.StrokeWidth = r.EdgeWidth / 4
		gridStyle.Dashes = []float64{1, 1}
		for x := 0.0; x <= l.width; x += r.GridSpacing {
			gp := &canvas.Path{}
			gp.MoveTo(x, 0)
			gp.LineTo(x, l.height)
			renderer.RenderPath(gp, gridStyle, canvas.Identity)
		}
		for y := 0.0; y <= l.height; y += r.GridSpacing {
			gp := &canvas.Path{}
			gp.MoveTo(0, y)
			gp.LineTo(l.width, y)
			renderer.RenderPath(gp, gridStyle, canvas.Identity)
		}
	}

	if r.Result.Areas != nil {
		facetStyle := canvas.DefaultStyle
		facetStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(r.FacetFill)}
		facetStyle.Stroke = canvas.Paint{Color: canvas.Transparent}
		for _, f := range r.Result.Areas.Facets {
			if f.Closed && len(ringVertices(f.Polygon)) >= 3 {
				renderer.RenderPath(polyPath(f.Polygon), facetStyle, canvas.Identity)
			}
		}
	}

	if r.Result.Topology == nil {
		outline := canvas.DefaultStyle
		outline.Fill = canvas.Paint{Color: canvas.Transparent}
		outline.Stroke = canvas.Paint{Color: r.EdgeColors[EdgeEave]}
		outline.StrokeWidth = r.EdgeWidth
		renderer.RenderPath(polyPath(r.Result.Footprint.Ring), outline, canvas.Identity)
		return
	}

	for _, e := range r.Result.Topology.Skeleton {
		style := canvas.DefaultStyle
		style.Fill = canvas.Paint{Color: canvas.Transparent}
		style.Stroke = canvas.Paint{Color: r.EdgeColors[e.Type]}
		style.StrokeWidth = r.EdgeWidth
		if e.Type == EdgeValley {
			style.Dashes = []float64{2 * r.EdgeWidth, r.EdgeWidth}
		}
		ep := &canvas.Path{}
		x1, y1 := toCanvas(e.Start)
		x2, y2 := toCanvas(e.End)
		ep.MoveTo(x1, y1)
		ep.LineTo(x2, y2)
		renderer.RenderPath(ep, style, canvas.Identity)
	}

	vertexStyle := canvas.DefaultStyle
	vertexStyle.Stroke = canvas.Paint{Color: canvas.Black}
	vertexStyle.StrokeWidth = r.EdgeWidth / 4
	for _, v := range r.Result.Topology.Vertices {
		vertexStyle.Fill = canvas.Paint{Color: canvas.White}
		if v.Type != VertexPerimeterCorner {
			vertexStyle.Fill = canvas.Paint{Color: canvas.Black}
		}
		x, y := toCanvas(v.Coordinate)
		renderer.RenderPath(canvas.Circle(r.EdgeWidth).Translate(x, y), vertexStyle, canvas.Identity)
	}
}

// nrgbaToRGBA premultiplies alpha for the canvas library.
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	a := uint32(c.A)
	return color.RGBA{
		R: uint8(uint32(c.R) * a / 255),
		G: uint8(uint32(c.G) * a / 255),
		B: uint8(uint32(c.B) * a / 255),
		A: c.A,
	}
}
