package shape

import (
	"bytes"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"gonum.org/v1/gonum/spatial/r3"
)

func testLayers() []RenderLayer {
	ref := irregularShape("ref")
	ref.Elements = append(ref.Elements, Element{Position: r3.Vec{X: 1, Y: 1}, Radius: 1, Hardness: 1, Color: 2})
	hit := Hit{CandidateName: "cand", ConformerIndex: 0, Score: 0.87, Transform: TranslationMatrix(r3.Vec{X: 0.5})}
	return AlignmentLayers(ref, []Hit{hit}, []*ShapeFunction{irregularShape("cand")})
}

func TestAlignmentLayers(t *testing.T) {
	layers := testLayers()
	if len(layers) != 2 {
		t.Fatalf("len(layers) = %d, want 2", len(layers))
	}
	if layers[0].Label != "ref" {
		t.Errorf("reference label = %q, want ref", layers[0].Label)
	}
	if layers[1].Label != "cand #0 (0.870)" {
		t.Errorf("candidate label = %q, want %q", layers[1].Label, "cand #0 (0.870)")
	}
	if got := layers[1].Shape.Elements[0].Position; got != (r3.Vec{X: 0.5}) {
		t.Errorf("candidate not moved by the hit transform: first element at %v", got)
	}
	if layers[0].Color == layers[1].Color {
		t.Error("reference and candidate should use different colors")
	}
}

func TestAlignmentLayers_SkipsMissingConformer(t *testing.T) {
	hits := []Hit{{ConformerIndex: 3}}
	layers := AlignmentLayers(irregularShape("ref"), hits, []*ShapeFunction{irregularShape("cand")})
	if len(layers) != 1 {
		t.Errorf("len(layers) = %d, want only the reference", len(layers))
	}
}

func TestLayerBounds(t *testing.T) {
	b := layerBounds(nil)
	if b.Min[0] != -1 || b.Max[1] != 1 {
		t.Errorf("empty bounds = %v, want [-1,1]x[-1,1]", b)
	}

	sf := &ShapeFunction{Elements: []Element{
		{Position: r3.Vec{X: 0, Y: 0}, Radius: 1},
		{Position: r3.Vec{X: 4, Y: -2, Z: 9}, Radius: 0.5},
	}}
	b = layerBounds([]RenderLayer{{Shape: sf}})
	if b.Min[0] != -1 || b.Min[1] != -2.5 || b.Max[0] != 4.5 || b.Max[1] != 1 {
		t.Errorf("bounds = %v, want [-1,-2.5]..[4.5,1]", b)
	}
}

func TestFeatureColor_Cycles(t *testing.T) {
	if featureColor(1) != featureColor(6) {
		t.Error("feature colors should cycle through the palette")
	}
	if featureColor(1) == featureColor(2) {
		t.Error("neighboring feature types should differ")
	}
}

// ---------------------------------------------------------------------------
// PreviewRenderer
// ---------------------------------------------------------------------------

func TestPreviewRenderer_Render(t *testing.T) {
	r := NewPreviewRenderer(testLayers())
	r.Width, r.Height = 200, 150

	img := r.Render()
	if img.Bounds().Dx() != 200 || img.Bounds().Dy() != 150 {
		t.Fatalf("image size = %v, want 200x150", img.Bounds())
	}

	// Corners stay background, the center is covered by shapes
	if c := img.RGBAAt(199, 149); c != (color.RGBA{255, 255, 255, 255}) {
		t.Errorf("corner pixel = %v, want white", c)
	}
	nonWhite := 0
	for y := 0; y < 150; y++ {
		for x := 0; x < 200; x++ {
			if img.RGBAAt(x, y) != (color.RGBA{255, 255, 255, 255}) {
				nonWhite++
			}
		}
	}
	if nonWhite < 1000 {
		t.Errorf("only %d drawn pixels, expected the shapes to cover more", nonWhite)
	}
}

func TestPreviewRenderer_SavePNG(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preview.png")
	if err := NewPreviewRenderer(testLayers()).SavePNG(path); err != nil {
		t.Fatalf("SavePNG: %v", err)
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() != 400 {
		t.Errorf("width = %d, want 400", img.Bounds().Dx())
	}
}

func TestBlendColors(t *testing.T) {
	white := color.RGBA{255, 255, 255, 255}
	if got := blendColors(white, color.NRGBA{0, 0, 0, 255}); got != (color.NRGBA{0, 0, 0, 255}) {
		t.Errorf("opaque blend = %v, want black", got)
	}
	if got := blendColors(white, color.NRGBA{0, 0, 0, 0}); got != (color.NRGBA{255, 255, 255, 255}) {
		t.Errorf("transparent blend = %v, want white", got)
	}
}

// ---------------------------------------------------------------------------
// VectorRenderer
// ---------------------------------------------------------------------------

func TestVectorRenderer_NoLayers(t *testing.T) {
	r := NewVectorRenderer(nil)
	var buf bytes.Buffer
	if err := r.RenderToSVG(&buf); err == nil {
		t.Error("RenderToSVG with no layers should fail")
	}
	if err := r.RenderToPNG(&buf); err == nil {
		t.Error("RenderToPNG with no layers should fail")
	}
}

func TestVectorRenderer_RenderToSVG(t *testing.T) {
	var buf bytes.Buffer
	if err := NewVectorRenderer(testLayers()).RenderToSVG(&buf); err != nil {
		t.Fatalf("RenderToSVG: %v", err)
	}
	out := buf.String()
	if !bytes.Contains(buf.Bytes(), []byte("<svg")) {
		t.Errorf("output is not an SVG: %.80s", out)
	}
	if !bytes.Contains(buf.Bytes(), []byte("<path")) {
		t.Error("SVG should contain drawn paths")
	}
}

func TestVectorRenderer_RenderToPNG(t *testing.T) {
	r := NewVectorRenderer(testLayers())
	r.Resolution = 2 // dots per millimeter keeps the test fast
	r.GridSpacing = 0

	var buf bytes.Buffer
	if err := r.RenderToPNG(&buf); err != nil {
		t.Fatalf("RenderToPNG: %v", err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if img.Bounds().Dx() == 0 || img.Bounds().Dy() == 0 {
		t.Errorf("empty image %v", img.Bounds())
	}
}

func TestNrgbaToRGBA(t *testing.T) {
	tests := []struct {
		in   color.NRGBA
		want color.RGBA
	}{
		{color.NRGBA{100, 150, 200, 255}, color.RGBA{100, 150, 200, 255}},
		{color.NRGBA{100, 150, 200, 0}, color.RGBA{0, 0, 0, 0}},
		{color.NRGBA{255, 0, 0, 51}, color.RGBA{51, 0, 0, 51}},
	}
	for _, tt := range tests {
		if got := nrgbaToRGBA(tt.in); got != tt.want {
			t.Errorf("nrgbaToRGBA(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestGridStart(t *testing.T) {
	tests := []struct {
		v, spacing, want float64
	}{
		{0, 5, 0},
		{1, 5, 5},
		{-7, 5, -5},
		{-10, 5, -10},
	}
	for _, tt := range tests {
		if got := gridStart(tt.v, tt.spacing); got != tt.want {
			t.Errorf("gridStart(%v, %v) = %v, want %v", tt.v, tt.spacing, got, tt.want)
		}
	}
}
