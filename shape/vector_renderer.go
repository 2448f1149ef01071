package shape

import (
	"fmt"
	"image/color"
	"image/png"
	"io"

	"github.com/paulmach/orb"
	"github.com/tdewolff/canvas"
	"github.com/tdewolff/canvas/renderers/rasterizer"
	"github.com/tdewolff/canvas/renderers/svg"
)

// nrgbaToRGBA converts color.NRGBA to color.RGBA by premultiplying alpha
// This is needed for the canvas library which expects premultiplied RGBA
func nrgbaToRGBA(c color.NRGBA) color.RGBA {
	if c.A == 0 {
		return color.RGBA{0, 0, 0, 0}
	}
	if c.A == 255 {
		return color.RGBA{c.R, c.G, c.B, 255}
	}
	alpha32 := uint32(c.A)
	return color.RGBA{
		R: uint8((uint32(c.R) * alpha32) / 255),
		G: uint8((uint32(c.G) * alpha32) / 255),
		B: uint8((uint32(c.B) * alpha32) / 255),
		A: c.A,
	}
}

// VectorRenderer renders the XY projection of shape layers as vector
// graphics, one disk per element
type VectorRenderer struct {
	Layers      []RenderLayer
	Scale       float64           // canvas millimeters per shape unit
	Padding     float64           // padding in shape units
	Resolution  canvas.Resolution // resolution for PNG output (default: 300 DPI)
	GridSpacing float64           // grid line spacing in shape units; 0 disables
}

// NewVectorRenderer creates a vector renderer with default settings
func NewVectorRenderer(layers []RenderLayer) *VectorRenderer {
	return &VectorRenderer{
		Layers:      layers,
		Scale:       10.0,
		Padding:     2.0,
		Resolution:  canvas.DPI(300),
		GridSpacing: 5.0,
	}
}

// canvasRenderer is an interface that both svg and rasterizer renderers implement
type canvasRenderer interface {
	RenderPath(path *canvas.Path, style canvas.Style, m canvas.Matrix)
}

// bounds returns the padded drawing area in shape units
func (r *VectorRenderer) bounds() orb.Bound {
	return layerBounds(r.Layers).Pad(r.Padding)
}

func (r *VectorRenderer) canvasSize(b orb.Bound) (float64, float64) {
	return (b.Max[0] - b.Min[0]) * r.Scale, (b.Max[1] - b.Min[1]) * r.Scale
}

// RenderToSVG writes the layers as an SVG to the provided writer
func (r *VectorRenderer) RenderToSVG(w io.Writer) error {
	if len(r.Layers) == 0 {
		return fmt.Errorf("no shapes to render")
	}
	b := r.bounds()
	width, height := r.canvasSize(b)

	svgRenderer := svg.New(w, width, height, nil)
	r.renderToCanvas(svgRenderer, b, width, height)

	return svgRenderer.Close()
}

// RenderToPNG writes the layers as a PNG to the provided writer
func (r *VectorRenderer) RenderToPNG(w io.Writer) error {
	if len(r.Layers) == 0 {
		return fmt.Errorf("no shapes to render")
	}
	b := r.bounds()
	width, height := r.canvasSize(b)

	rast := rasterizer.New(width, height, r.Resolution, canvas.DefaultColorSpace)
	r.renderToCanvas(rast, b, width, height)

	// Rasterizer implements draw.Image
	return png.Encode(w, rast)
}

// renderToCanvas draws background, grid, element disks and feature markers
func (r *VectorRenderer) renderToCanvas(renderer canvasRenderer, b orb.Bound, width, height float64) {
	bgStyle := canvas.DefaultStyle
	bgStyle.Fill = canvas.Paint{Color: canvas.White}
	renderer.RenderPath(canvas.Rectangle(width, height), bgStyle, canvas.Identity)

	toCanvas := func(x, y float64) (float64, float64) {
		return (x - b.Min[0]) * r.Scale, (y - b.Min[1]) * r.Scale
	}

	if r.GridSpacing > 0 {
		gridStyle := canvas.DefaultStyle
		gridStyle.Fill = canvas.Paint{Color: canvas.Transparent}
		gridStyle.Stroke = canvas.Paint{Color: color.RGBA{211, 211, 211, 255}}
		gridStyle.StrokeWidth = 0.2
		gridStyle.Dashes = []float64{1.0, 1.0}

		for x := gridStart(b.Min[0], r.GridSpacing); x <= b.Max[0]; x += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(x, b.Min[1])
			x2, y2 := toCanvas(x, b.Max[1])
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
		for y := gridStart(b.Min[1], r.GridSpacing); y <= b.Max[1]; y += r.GridSpacing {
			gridPath := &canvas.Path{}
			x1, y1 := toCanvas(b.Min[0], y)
			x2, y2 := toCanvas(b.Max[0], y)
			gridPath.MoveTo(x1, y1)
			gridPath.LineTo(x2, y2)
			renderer.RenderPath(gridPath, gridStyle, canvas.Identity)
		}
	}

	// Shape disks first, feature markers on top
	for _, l := range r.Layers {
		diskStyle := canvas.DefaultStyle
		diskStyle.Fill = canvas.Paint{Color: nrgbaToRGBA(l.Color.Fill)}
		diskStyle.Stroke = canvas.Paint{Color: nrgbaToRGBA(l.Color.Outline)}
		diskStyle.StrokeWidth = 0.3

		for _, e := range l.Shape.Elements {
			if e.Color != 0 {
				continue
			}
			cx, cy := toCanvas(e.Position.X, e.Position.Y)
			renderer.RenderPath(canvas.Circle(e.Radius*r.Scale).Translate(cx, cy), diskStyle, canvas.Identity)
		}
	}

	for _, l := range r.Layers {
		for _, e := range l.Shape.Elements {
			if e.Color == 0 {
				continue
			}
			markerStyle := canvas.DefaultStyle
			markerStyle.Fill = canvas.Paint{Color: canvas.Transparent}
			markerStyle.Stroke = canvas.Paint{Color: featureColor(e.Color)}
			markerStyle.StrokeWidth = 0.5
			markerStyle.Dashes = []float64{0.8, 0.4}

			cx, cy := toCanvas(e.Position.X, e.Position.Y)
			renderer.RenderPath(canvas.Circle(e.Radius*r.Scale*0.5).Translate(cx, cy), markerStyle, canvas.Identity)
		}
	}
}

// gridStart returns the first multiple of spacing at or above v
func gridStart(v, spacing float64) float64 {
	n := int(v / spacing)
	start := float64(n) * spacing
	if start < v {
		start += spacing
	}
	return start
}
