package export

import (
	"bytes"
	"strings"
	"testing"

	"github.com/go-playground/assert/v2"

	"collabdraw/internal/drawing"
)

func testDocument() *drawing.Document {
	return drawing.NewDocument(
		drawing.Path{Points: []drawing.Point{{X: 1, Y: 1}, {X: 40, Y: 30}}, Color: "#ff0000", StrokeWidth: 2},
		drawing.Rectangle{Origin: drawing.Point{X: 10, Y: 10}, Width: 50, Height: 20, Color: "#00f", StrokeWidth: 1},
		drawing.Circle{Center: drawing.Point{X: 100, Y: 100}, Radius: 25, Color: "#000000", StrokeWidth: 1},
		drawing.Triangle{Points: [3]drawing.Point{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 5, Y: 8}}, StrokeWidth: 1},
		drawing.Text{Content: "a < b", Position: drawing.Point{X: 5, Y: 200}, Color: "#333333"},
		drawing.Arrow{Start: drawing.Point{X: 0, Y: 0}, End: drawing.Point{X: 60, Y: 60}, Color: "#000000", StrokeWidth: 2},
		drawing.Eraser{Points: []drawing.Point{{X: 20, Y: 20}}, Size: 10},
	)
}

func TestSVGRendersEveryKind(t *testing.T) {
	svg := SVG(testDocument(), 7)

	assert.Equal(t, strings.HasPrefix(svg, "<svg "), true)
	assert.Equal(t, strings.HasSuffix(svg, "</svg>\n"), true)
	assert.Equal(t, strings.Contains(svg, `<path d="M1 1 L40 30" fill="none" stroke="#ff0000" stroke-width="2"`), true)
	assert.Equal(t, strings.Contains(svg, `<rect x="10" y="10" width="50" height="20" fill="none" stroke="#0000ff"`), true)
	assert.Equal(t, strings.Contains(svg, `<circle cx="100" cy="100" r="25"`), true)
	assert.Equal(t, strings.Contains(svg, `<polygon points="0,0 10,0 5,8"`), true)
	assert.Equal(t, strings.Contains(svg, `>a &lt; b</text>`), true)
	assert.Equal(t, strings.Contains(svg, `<line x1="0" y1="0" x2="60" y2="60"`), true)
	assert.Equal(t, strings.Contains(svg, `<path d="M20 20 L20 20" fill="none" stroke="#ffffff" stroke-width="10"`), true)
}

func TestSVGStopsAtHistoryIndex(t *testing.T) {
	svg := SVG(testDocument(), 1)
	assert.Equal(t, strings.Contains(svg, `stroke="#ff0000"`), true)
	assert.Equal(t, strings.Contains(svg, "<circle"), false)

	empty := SVG(drawing.NewDocument(), 0)
	assert.Equal(t, strings.Count(empty, "\n"), 3)
}

func TestPDF(t *testing.T) {
	var out bytes.Buffer
	err := PDF(&out, testDocument(), 7)
	assert.Equal(t, err, nil)
	assert.Equal(t, bytes.HasPrefix(out.Bytes(), []byte("%PDF-")), true)

	out.Reset()
	err = PDF(&out, drawing.NewDocument(), 0)
	assert.Equal(t, err, nil)
	assert.NotEqual(t, out.Len(), 0)
}

func TestParseColor(t *testing.T) {
	assert.Equal(t, parseColor("#102030"), rgb{16, 32, 48})
	assert.Equal(t, parseColor("fff"), white)
	assert.Equal(t, parseColor("red"), black)
	assert.Equal(t, parseColor(""), black)
}
