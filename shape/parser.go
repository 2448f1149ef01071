package shape

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/gonum/spatial/r3"
)

// fileElement is the on-disk form of an Element. Missing radius and
// hardness fall back to the package defaults.
type fileElement struct {
	Position [3]float64 `json:"position"`
	Radius   *float64   `json:"radius,omitempty"`
	Hardness *float64   `json:"hardness,omitempty"`
	Color    uint       `json:"color,omitempty"`
}

type fileShape struct {
	Name     string        `json:"name,omitempty"`
	Elements []fileElement `json:"elements"`
}

// ParseShapeFile reads and parses a shape JSON file
func ParseShapeFile(path string) ([]*ShapeFunction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	shapes, err := ParseShapes(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return shapes, nil
}

// ParseShapes parses shape JSON data holding either one shape object or an
// array of them
func ParseShapes(data []byte) ([]*ShapeFunction, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("parsing JSON: empty input")
	}

	var raw []fileShape
	if trimmed[0] == '[' {
		if err := json.Unmarshal(trimmed, &raw); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
	} else {
		var single fileShape
		if err := json.Unmarshal(trimmed, &single); err != nil {
			return nil, fmt.Errorf("parsing JSON: %w", err)
		}
		raw = []fileShape{single}
	}

	shapes := make([]*ShapeFunction, 0, len(raw))
	for i, fs := range raw {
		sf, err := fs.shapeFunction()
		if err != nil {
			return nil, fmt.Errorf("shape %d: %w", i, err)
		}
		shapes = append(shapes, sf)
	}
	return shapes, nil
}

func (fs fileShape) shapeFunction() (*ShapeFunction, error) {
	sf := &ShapeFunction{Name: fs.Name, Elements: make([]Element, 0, len(fs.Elements))}
	for j, fe := range fs.Elements {
		e := Element{
			Position: r3.Vec{X: fe.Position[0], Y: fe.Position[1], Z: fe.Position[2]},
			Radius:   DefaultElementRadius,
			Hardness: DefaultElementHardness,
			Color:    fe.Color,
		}
		if fe.Radius != nil {
			e.Radius = *fe.Radius
		}
		if fe.Hardness != nil {
			e.Hardness = *fe.Hardness
		}
		if e.Radius <= 0 {
			return nil, fmt.Errorf("element %d: radius must be positive, got %g", j, e.Radius)
		}
		if e.Hardness <= 0 {
			return nil, fmt.Errorf("element %d: hardness must be positive, got %g", j, e.Hardness)
		}
		if !isFinite(fe.Position[:]...) {
			return nil, fmt.Errorf("element %d: non-finite position", j)
		}
		sf.Elements = append(sf.Elements, e)
	}
	return sf, nil
}

// MarshalShapes encodes shapes in the shape file format
func MarshalShapes(shapes []*ShapeFunction) ([]byte, error) {
	raw := make([]fileShape, len(shapes))
	for i, sf := range shapes {
		raw[i] = fileShape{Name: sf.Name, Elements: make([]fileElement, len(sf.Elements))}
		for j, e := range sf.Elements {
			radius, hardness := e.Radius, e.Hardness
			raw[i].Elements[j] = fileElement{
				Position: [3]float64{e.Position.X, e.Position.Y, e.Position.Z},
				Radius:   &radius,
				Hardness: &hardness,
				Color:    e.Color,
			}
		}
	}
	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling shapes: %w", err)
	}
	return data, nil
}

// WriteShapeFile writes shapes as a JSON array
func WriteShapeFile(path string, shapes []*ShapeFunction) error {
	data, err := MarshalShapes(shapes)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating shape directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing shape file: %w", err)
	}
	return nil
}

// Candidate is a named group of conformers screened together
type Candidate struct {
	Name       string
	Conformers []*ShapeFunction
}

// GroupConformers groups consecutive shapes sharing a name into candidates.
// Unnamed shapes become single-conformer candidates named by position.
func GroupConformers(shapes []*ShapeFunction) []Candidate {
	var groups []Candidate
	for i, sf := range shapes {
		name := sf.Name
		if name == "" {
			name = fmt.Sprintf("shape-%d", i+1)
			groups = append(groups, Candidate{Name: name, Conformers: []*ShapeFunction{sf}})
			continue
		}
		if n := len(groups); n > 0 && groups[n-1].Name == name {
			groups[n-1].Conformers = append(groups[n-1].Conformers, sf)
			continue
		}
		groups = append(groups, Candidate{Name: name, Conformers: []*ShapeFunction{sf}})
	}
	return groups
}
