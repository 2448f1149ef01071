package shape

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"os"

	"github.com/paulmach/orb"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ShapeColor defines how one drawn shape is colored
type ShapeColor struct {
	Fill    color.NRGBA
	Outline color.NRGBA
}

// DefaultColors returns distinct colors: the reference first, then candidates
func DefaultColors() []ShapeColor {
	return []ShapeColor{
		{ // Reference - Blue
			Fill:    color.NRGBA{100, 149, 237, 110}, // Cornflower blue
			Outline: color.NRGBA{0, 0, 139, 255},     // Dark blue
		},
		{ // Candidate - Red
			Fill:    color.NRGBA{255, 99, 71, 110}, // Tomato
			Outline: color.NRGBA{139, 0, 0, 255},   // Dark red
		},
		{ // Candidate - Green
			Fill:    color.NRGBA{144, 238, 144, 110}, // Light green
			Outline: color.NRGBA{0, 100, 0, 255},     // Dark green
		},
		{ // Candidate - Yellow
			Fill:    color.NRGBA{255, 255, 150, 110}, // Light yellow
			Outline: color.NRGBA{184, 134, 11, 255},  // Dark goldenrod
		},
	}
}

// featureColor returns the marker color of a color (feature) element
func featureColor(c uint) color.RGBA {
	palette := []color.RGBA{
		{128, 0, 128, 255}, // purple
		{255, 140, 0, 255}, // dark orange
		{0, 139, 139, 255}, // dark cyan
		{199, 21, 133, 255},
		{85, 107, 47, 255},
	}
	return palette[int(c-1)%len(palette)]
}

// RenderLayer is one shape drawn by a renderer
type RenderLayer struct {
	Label string
	Shape *ShapeFunction
	Color ShapeColor
}

// AlignmentLayers returns the reference plus each candidate conformer moved
// onto it by its hit, colored with DefaultColors
func AlignmentLayers(ref *ShapeFunction, hits []Hit, conformers []*ShapeFunction) []RenderLayer {
	colors := DefaultColors()
	layers := []RenderLayer{{Label: ref.Name, Shape: ref, Color: colors[0]}}
	for i, h := range hits {
		if h.ConformerIndex < 0 || h.ConformerIndex >= len(conformers) {
			continue
		}
		layers = append(layers, RenderLayer{
			Label: fmt.Sprintf("%s #%d (%.3f)", h.CandidateName, h.ConformerIndex, h.Score),
			Shape: h.Apply(conformers[h.ConformerIndex]),
			Color: colors[(i%(len(colors)-1))+1],
		})
	}
	return layers
}

// layerBounds returns the XY bounding box of all drawn element disks
func layerBounds(layers []RenderLayer) orb.Bound {
	var mp orb.MultiPoint
	for _, l := range layers {
		for _, e := range l.Shape.Elements {
			mp = append(mp,
				orb.Point{e.Position.X - e.Radius, e.Position.Y - e.Radius},
				orb.Point{e.Position.X + e.Radius, e.Position.Y + e.Radius},
			)
		}
	}
	if len(mp) == 0 {
		return orb.Bound{Min: orb.Point{-1, -1}, Max: orb.Point{1, 1}}
	}
	return mp.Bound()
}

// PreviewRenderer draws a small raster preview of the XY projection of the
// layers, with a caption per layer
type PreviewRenderer struct {
	Layers  []RenderLayer
	Width   int
	Height  int
	Padding float64 // shape units
}

// NewPreviewRenderer creates a preview renderer with default settings
func NewPreviewRenderer(layers []RenderLayer) *PreviewRenderer {
	return &PreviewRenderer{
		Layers:  layers,
		Width:   400,
		Height:  400,
		Padding: 2.0,
	}
}

// Render draws the preview image
func (r *PreviewRenderer) Render() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	for y := 0; y < r.Height; y++ {
		for x := 0; x < r.Width; x++ {
			img.Set(x, y, color.RGBA{255, 255, 255, 255})
		}
	}

	bound := layerBounds(r.Layers).Pad(r.Padding)
	spanX := bound.Max[0] - bound.Min[0]
	spanY := bound.Max[1] - bound.Min[1]
	scale := math.Min(float64(r.Width)/spanX, float64(r.Height)/spanY)
	offX := (float64(r.Width) - spanX*scale) / 2
	offY := (float64(r.Height) - spanY*scale) / 2

	// Image y grows downwards
	toImage := func(x, y float64) (int, int) {
		return int(offX + (x-bound.Min[0])*scale), int(float64(r.Height) - offY - (y-bound.Min[1])*scale)
	}

	for _, l := range r.Layers {
		for _, e := range l.Shape.Elements {
			if e.Color != 0 {
				continue
			}
			cx, cy := toImage(e.Position.X, e.Position.Y)
			fillCircle(img, cx, cy, int(e.Radius*scale), l.Color.Fill)
		}
	}
	for _, l := range r.Layers {
		for _, e := range l.Shape.Elements {
			cx, cy := toImage(e.Position.X, e.Position.Y)
			if e.Color != 0 {
				drawSquare(img, cx, cy, 6, featureColor(e.Color))
				continue
			}
			drawCircle(img, cx, cy, 2, nrgbaToRGBA(l.Color.Outline))
		}
	}

	r.drawLegend(img)
	return img
}

// RenderPNG writes the preview as PNG
func (r *PreviewRenderer) RenderPNG(w io.Writer) error {
	return png.Encode(w, r.Render())
}

// SavePNG saves the preview to a PNG file
func (r *PreviewRenderer) SavePNG(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return r.RenderPNG(f)
}

// fillCircle alpha-blends a filled circle
func fillCircle(img *image.RGBA, cx, cy, radius int, c color.NRGBA) {
	b := img.Bounds()
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy > radius*radius {
				continue
			}
			x, y := cx+dx, cy+dy
			if x < b.Min.X || x >= b.Max.X || y < b.Min.Y || y >= b.Max.Y {
				continue
			}
			img.Set(x, y, blendColors(img.RGBAAt(x, y), c))
		}
	}
}

// blendColors performs alpha blending of fg over an opaque background
func blendColors(bg color.RGBA, fg color.NRGBA) color.NRGBA {
	alpha := float64(fg.A) / 255.0
	invAlpha := 1.0 - alpha

	return color.NRGBA{
		R: uint8(float64(fg.R)*alpha + float64(bg.R)*invAlpha),
		G: uint8(float64(fg.G)*alpha + float64(bg.G)*invAlpha),
		B: uint8(float64(fg.B)*alpha + float64(bg.B)*invAlpha),
		A: 255,
	}
}

// drawCircle draws a filled opaque circle
func drawCircle(img *image.RGBA, cx, cy, radius int, c color.RGBA) {
	for dy := -radius; dy <= radius; dy++ {
		for dx := -radius; dx <= radius; dx++ {
			if dx*dx+dy*dy <= radius*radius {
				x, y := cx+dx, cy+dy
				if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
					img.Set(x, y, c)
				}
			}
		}
	}
}

// drawSquare draws a filled square
func drawSquare(img *image.RGBA, cx, cy, size int, c color.RGBA) {
	half := size / 2
	for dy := -half; dy <= half; dy++ {
		for dx := -half; dx <= half; dx++ {
			x, y := cx+dx, cy+dy
			if x >= 0 && x < img.Bounds().Max.X && y >= 0 && y < img.Bounds().Max.Y {
				img.Set(x, y, c)
			}
		}
	}
}

// drawLegend lists the layer labels in the top-left corner
func (r *PreviewRenderer) drawLegend(img *image.RGBA) {
	y := 15
	for _, l := range r.Layers {
		for dy := 0; dy < 12; dy++ {
			for dx := 0; dx < 12; dx++ {
				img.Set(10+dx, y+dy-10, l.Color.Outline)
			}
		}
		drawText(img, 28, y, l.Label, color.RGBA{0, 0, 0, 255})
		y += 18
	}
}

// drawText renders text onto an image at the specified position
func drawText(img *image.RGBA, x, y int, text string, c color.RGBA) {
	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.Point26_6{X: fixed.I(x), Y: fixed.I(y)},
	}
	d.DrawString(text)
}
