package drawing

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestDocumentJsonTagsKinds(t *testing.T) {
	doc := NewDocument(
		Path{Points: []Point{{1, 2}, {3, 4}}, Color: "#000", StrokeWidth: 2},
		Triangle{Points: [3]Point{{0, 0}, {1, 0}, {0, 1}}, Color: "red", StrokeWidth: 1},
		Text{Content: "hi", Position: Point{5, 6}, Color: "blue"},
		Eraser{Points: []Point{{7, 7}}, Size: 20},
	)

	b, err := json.Marshal(doc)
	assert.Equal(t, err, nil)

	var raw []map[string]any
	err = json.Unmarshal(b, &raw)
	assert.Equal(t, err, nil)
	assert.Equal(t, len(raw), 4)
	assert.Equal(t, raw[0]["kind"], "path")
	assert.Equal(t, raw[1]["kind"], "triangle")
	assert.Equal(t, raw[2]["content"], "hi")
	assert.Equal(t, raw[3]["size"], float64(20))

	decoded := &Document{}
	err = json.Unmarshal(b, decoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, decoded.Elements(), doc.Elements())
}

func TestUnknownKindRejected(t *testing.T) {
	var a Any
	err := json.Unmarshal([]byte(`{"kind":"hexagon","points":[]}`), &a)
	assert.Equal(t, errors.Is(err, ErrInvalidElement), true)

	err = json.Unmarshal([]byte(`{"points":[]}`), &a)
	assert.Equal(t, errors.Is(err, ErrInvalidElement), true)
}

func TestValidate(t *testing.T) {
	assert.Equal(t, Path{}.Validate() != nil, true)
	assert.Equal(t, Path{Points: []Point{{1, 1}}}.Validate(), nil)
	assert.Equal(t, Path{Points: []Point{{math.NaN(), 1}}}.Validate() != nil, true)
	assert.Equal(t, Rectangle{Width: -1}.Validate() != nil, true)
	assert.Equal(t, Circle{Radius: math.Inf(1)}.Validate() != nil, true)
	assert.Equal(t, Text{Position: Point{1, 1}}.Validate() != nil, true)
	assert.Equal(t, Arrow{End: Point{2, 2}}.Validate(), nil)
	assert.Equal(t, Eraser{Points: []Point{{0, 0}}, Size: -3}.Validate() != nil, true)
}

func TestTruncateAndVisible(t *testing.T) {
	a := Text{Content: "a"}
	b := Text{Content: "b"}
	c := Text{Content: "c"}
	doc := NewDocument(a, b, c)

	assert.Equal(t, doc.Visible(2), []Element{a, b})
	assert.Equal(t, doc.Visible(10), []Element{a, b, c})
	assert.Equal(t, len(doc.Visible(-1)), 0)

	clone := doc.Clone()
	doc.Truncate(1)
	doc.Append(c)
	assert.Equal(t, doc.Elements(), []Element{a, c})
	assert.Equal(t, clone.Len(), 3)
}
