package drawing

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// Point is a position on a board's canvas. Coordinates are whatever the
// drawing client used; nothing is normalized to a canvas size.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p Point) valid() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

type Kind string

const (
	KindPath      Kind = "path"
	KindRectangle Kind = "rectangle"
	KindCircle    Kind = "circle"
	KindTriangle  Kind = "triangle"
	KindText      Kind = "text"
	KindArrow     Kind = "arrow"
	KindEraser    Kind = "eraser"
)

var ErrInvalidElement = errors.New("invalid element")

// Element is one committed drawing element. The set of implementations is
// closed: only the types in this file satisfy it.
type Element interface {
	Kind() Kind
	Validate() error
	element()
}

type Path struct {
	Points      []Point `json:"points"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

type Rectangle struct {
	Origin      Point   `json:"origin"`
	Width       float64 `json:"width"`
	Height      float64 `json:"height"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

type Circle struct {
	Center      Point   `json:"center"`
	Radius      float64 `json:"radius"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

type Triangle struct {
	Points      [3]Point `json:"points"`
	Color       string   `json:"color"`
	StrokeWidth float64  `json:"strokeWidth"`
}

type Text struct {
	Content  string `json:"content"`
	Position Point  `json:"position"`
	Color    string `json:"color"`
}

type Arrow struct {
	Start       Point   `json:"start"`
	End         Point   `json:"end"`
	Color       string  `json:"color"`
	StrokeWidth float64 `json:"strokeWidth"`
}

// Eraser is an erase stroke. Renderers paint it in the background colour.
type Eraser struct {
	Points []Point `json:"points"`
	Size   float64 `json:"size"`
}

func (Path) Kind() Kind      { return KindPath }
func (Rectangle) Kind() Kind { return KindRectangle }
func (Circle) Kind() Kind    { return KindCircle }
func (Triangle) Kind() Kind  { return KindTriangle }
func (Text) Kind() Kind      { return KindText }
func (Arrow) Kind() Kind     { return KindArrow }
func (Eraser) Kind() Kind    { return KindEraser }

func (Path) element()      {}
func (Rectangle) element() {}
func (Circle) element()    {}
func (Triangle) element()  {}
func (Text) element()      {}
func (Arrow) element()     {}
func (Eraser) element()    {}

func (p Path) Validate() error {
	if len(p.Points) == 0 {
		return fmt.Errorf("%w: path has no points", ErrInvalidElement)
	}
	if err := validPoints(p.Points...); err != nil {
		return err
	}
	return validWidth(p.StrokeWidth)
}

func (r Rectangle) Validate() error {
	if err := validPoints(r.Origin); err != nil {
		return err
	}
	if err := validSize("width", r.Width); err != nil {
		return err
	}
	if err := validSize("height", r.Height); err != nil {
		return err
	}
	return validWidth(r.StrokeWidth)
}

func (c Circle) Validate() error {
	if err := validPoints(c.Center); err != nil {
		return err
	}
	if err := validSize("radius", c.Radius); err != nil {
		return err
	}
	return validWidth(c.StrokeWidth)
}

func (t Triangle) Validate() error {
	if err := validPoints(t.Points[:]...); err != nil {
		return err
	}
	return validWidth(t.StrokeWidth)
}

func (t Text) Validate() error {
	if t.Content == "" {
		return fmt.Errorf("%w: empty text", ErrInvalidElement)
	}
	return validPoints(t.Position)
}

func (a Arrow) Validate() error {
	if err := validPoints(a.Start, a.End); err != nil {
		return err
	}
	return validWidth(a.StrokeWidth)
}

func (e Eraser) Validate() error {
	if len(e.Points) == 0 {
		return fmt.Errorf("%w: eraser has no points", ErrInvalidElement)
	}
	if err := validPoints(e.Points...); err != nil {
		return err
	}
	return validSize("size", e.Size)
}

func validPoints(points ...Point) error {
	for _, p := range points {
		if !p.valid() {
			return fmt.Errorf("%w: non-finite coordinate", ErrInvalidElement)
		}
	}
	return nil
}

func validSize(name string, v float64) error {
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return fmt.Errorf("%w: bad %s %v", ErrInvalidElement, name, v)
	}
	return nil
}

func validWidth(v float64) error {
	return validSize("stroke width", v)
}

// Any carries a single Element through JSON as an object tagged by "kind".
type Any struct {
	Element
}

func (a Any) MarshalJSON() ([]byte, error) {
	if a.Element == nil {
		return nil, fmt.Errorf("%w: nil element", ErrInvalidElement)
	}
	body, err := json.Marshal(a.Element)
	if err != nil {
		return nil, err
	}
	// splice the tag into the element's own object
	tag, _ := json.Marshal(a.Element.Kind())
	out := make([]byte, 0, len(body)+len(tag)+10)
	out = append(out, `{"kind":`...)
	out = append(out, tag...)
	if 2 < len(body) {
		out = append(out, ',')
		out = append(out, body[1:]...)
	} else {
		out = append(out, '}')
	}
	return out, nil
}

func (a *Any) UnmarshalJSON(data []byte) error {
	var head struct {
		Kind Kind `json:"kind"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return err
	}
	var e Element
	var err error
	switch head.Kind {
	case KindPath:
		e, err = decode[Path](data)
	case KindRectangle:
		e, err = decode[Rectangle](data)
	case KindCircle:
		e, err = decode[Circle](data)
	case KindTriangle:
		e, err = decode[Triangle](data)
	case KindText:
		e, err = decode[Text](data)
	case KindArrow:
		e, err = decode[Arrow](data)
	case KindEraser:
		e, err = decode[Eraser](data)
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidElement, head.Kind)
	}
	if err != nil {
		return err
	}
	a.Element = e
	return nil
}

func decode[T Element](data []byte) (Element, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}
