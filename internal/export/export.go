package export

import (
	"fmt"
	"html"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/jung-kurt/gofpdf"

	"collabdraw/internal/drawing"
)

const margin = 20.0

// text elements carry no size, the client draws them at this size
const fontSize = 16.0

type rgb struct {
	r, g, b int
}

var black = rgb{0, 0, 0}
var white = rgb{255, 255, 255}

func parseColor(s string) rgb {
	s = strings.TrimPrefix(s, "#")
	if len(s) == 3 {
		s = string([]byte{s[0], s[0], s[1], s[1], s[2], s[2]})
	}
	if len(s) != 6 {
		return black
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return black
	}
	return rgb{int(v >> 16 & 0xff), int(v >> 8 & 0xff), int(v & 0xff)}
}

func (c rgb) hex() string {
	return fmt.Sprintf("#%02x%02x%02x", c.r, c.g, c.b)
}

type box struct {
	minX, minY, maxX, maxY float64
}

func (b *box) add(points ...drawing.Point) {
	for _, p := range points {
		b.minX = math.Min(b.minX, p.X)
		b.minY = math.Min(b.minY, p.Y)
		b.maxX = math.Max(b.maxX, p.X)
		b.maxY = math.Max(b.maxY, p.Y)
	}
}

// bounds covers the origin and every element, so exports of a board keep the
// client's coordinates.
func bounds(elements []drawing.Element) box {
	b := box{}
	for _, e := range elements {
		switch v := e.(type) {
		case drawing.Path:
			b.add(v.Points...)
		case drawing.Rectangle:
			b.add(v.Origin, drawing.Point{X: v.Origin.X + v.Width, Y: v.Origin.Y + v.Height})
		case drawing.Circle:
			b.add(
				drawing.Point{X: v.Center.X - v.Radius, Y: v.Center.Y - v.Radius},
				drawing.Point{X: v.Center.X + v.Radius, Y: v.Center.Y + v.Radius},
			)
		case drawing.Triangle:
			b.add(v.Points[:]...)
		case drawing.Text:
			width := fontSize * 0.6 * float64(len([]rune(v.Content)))
			b.add(v.Position, drawing.Point{X: v.Position.X + width, Y: v.Position.Y + fontSize})
		case drawing.Arrow:
			b.add(v.Start, v.End)
		case drawing.Eraser:
			b.add(v.Points...)
		}
	}
	return b
}

// arrowHead returns the two back corners of the head at the arrow's end.
func arrowHead(a drawing.Arrow) (drawing.Point, drawing.Point) {
	length := math.Max(10, 3*a.StrokeWidth)
	angle := math.Atan2(a.End.Y-a.Start.Y, a.End.X-a.Start.X)
	left := drawing.Point{
		X: a.End.X - length*math.Cos(angle-math.Pi/6),
		Y: a.End.Y - length*math.Sin(angle-math.Pi/6),
	}
	right := drawing.Point{
		X: a.End.X - length*math.Cos(angle+math.Pi/6),
		Y: a.End.Y - length*math.Sin(angle+math.Pi/6),
	}
	return left, right
}

func f(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func pathData(points []drawing.Point) string {
	var d strings.Builder
	for i, p := range points {
		if i == 0 {
			fmt.Fprintf(&d, "M%s %s", f(p.X), f(p.Y))
		} else {
			fmt.Fprintf(&d, " L%s %s", f(p.X), f(p.Y))
		}
	}
	if len(points) == 1 {
		// a single tap still leaves a dot
		fmt.Fprintf(&d, " L%s %s", f(points[0].X), f(points[0].Y))
	}
	return d.String()
}

// SVG renders the first upTo elements of the document, the part that is
// visible at that history index.
func SVG(doc *drawing.Document, upTo int) string {
	elements := doc.Visible(upTo)
	b := bounds(elements)
	x0 := math.Min(0, b.minX-margin)
	y0 := math.Min(0, b.minY-margin)
	width := b.maxX + margin - x0
	height := b.maxY + margin - y0

	var out strings.Builder
	fmt.Fprintf(&out, `<svg xmlns="http://www.w3.org/2000/svg" width="%s" height="%s" viewBox="%s %s %s %s">`,
		f(width), f(height), f(x0), f(y0), f(width), f(height))
	out.WriteString("\n")
	fmt.Fprintf(&out, `<rect x="%s" y="%s" width="%s" height="%s" fill="#ffffff"/>`, f(x0), f(y0), f(width), f(height))
	out.WriteString("\n")

	for _, e := range elements {
		switch v := e.(type) {
		case drawing.Path:
			fmt.Fprintf(&out, `<path d="%s" fill="none" stroke="%s" stroke-width="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
				pathData(v.Points), parseColor(v.Color).hex(), f(v.StrokeWidth))
		case drawing.Rectangle:
			fmt.Fprintf(&out, `<rect x="%s" y="%s" width="%s" height="%s" fill="none" stroke="%s" stroke-width="%s"/>`,
				f(v.Origin.X), f(v.Origin.Y), f(v.Width), f(v.Height), parseColor(v.Color).hex(), f(v.StrokeWidth))
		case drawing.Circle:
			fmt.Fprintf(&out, `<circle cx="%s" cy="%s" r="%s" fill="none" stroke="%s" stroke-width="%s"/>`,
				f(v.Center.X), f(v.Center.Y), f(v.Radius), parseColor(v.Color).hex(), f(v.StrokeWidth))
		case drawing.Triangle:
			fmt.Fprintf(&out, `<polygon points="%s,%s %s,%s %s,%s" fill="none" stroke="%s" stroke-width="%s"/>`,
				f(v.Points[0].X), f(v.Points[0].Y), f(v.Points[1].X), f(v.Points[1].Y), f(v.Points[2].X), f(v.Points[2].Y),
				parseColor(v.Color).hex(), f(v.StrokeWidth))
		case drawing.Text:
			fmt.Fprintf(&out, `<text x="%s" y="%s" font-family="sans-serif" font-size="%s" dominant-baseline="hanging" fill="%s">%s</text>`,
				f(v.Position.X), f(v.Position.Y), f(fontSize), parseColor(v.Color).hex(), html.EscapeString(v.Content))
		case drawing.Arrow:
			left, right := arrowHead(v)
			color := parseColor(v.Color).hex()
			fmt.Fprintf(&out, `<line x1="%s" y1="%s" x2="%s" y2="%s" stroke="%s" stroke-width="%s"/>`,
				f(v.Start.X), f(v.Start.Y), f(v.End.X), f(v.End.Y), color, f(v.StrokeWidth))
			fmt.Fprintf(&out, `<polygon points="%s,%s %s,%s %s,%s" fill="%s"/>`,
				f(v.End.X), f(v.End.Y), f(left.X), f(left.Y), f(right.X), f(right.Y), color)
		case drawing.Eraser:
			// erasing paints the background back over what is below
			fmt.Fprintf(&out, `<path d="%s" fill="none" stroke="%s" stroke-width="%s" stroke-linecap="round" stroke-linejoin="round"/>`,
				pathData(v.Points), white.hex(), f(v.Size))
		}
		out.WriteString("\n")
	}
	out.WriteString("</svg>\n")
	return out.String()
}

// PDF renders the first upTo elements of the document on a single page sized
// to the drawing. Canvas pixels map to points.
func PDF(w io.Writer, doc *drawing.Document, upTo int) error {
	elements := doc.Visible(upTo)
	b := bounds(elements)
	offsetX := math.Max(0, margin-b.minX)
	offsetY := math.Max(0, margin-b.minY)

	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size: gofpdf.SizeType{
			Wd: b.maxX + offsetX + margin,
			Ht: b.maxY + offsetY + margin,
		},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", fontSize)
	pdf.SetLineCapStyle("round")
	pdf.SetLineJoinStyle("round")
	translate := pdf.UnicodeTranslatorFromDescriptor("")

	at := func(p drawing.Point) (float64, float64) {
		return p.X + offsetX, p.Y + offsetY
	}
	stroke := func(color rgb, width float64) {
		pdf.SetDrawColor(color.r, color.g, color.b)
		pdf.SetLineWidth(width)
	}
	polyline := func(points []drawing.Point) {
		if len(points) == 1 {
			x, y := at(points[0])
			pdf.Line(x, y, x, y)
			return
		}
		for i := 1; i < len(points); i++ {
			x1, y1 := at(points[i-1])
			x2, y2 := at(points[i])
			pdf.Line(x1, y1, x2, y2)
		}
	}

	for _, e := range elements {
		switch v := e.(type) {
		case drawing.Path:
			stroke(parseColor(v.Color), v.StrokeWidth)
			polyline(v.Points)
		case drawing.Rectangle:
			stroke(parseColor(v.Color), v.StrokeWidth)
			x, y := at(v.Origin)
			pdf.Rect(x, y, v.Width, v.Height, "D")
		case drawing.Circle:
			stroke(parseColor(v.Color), v.StrokeWidth)
			x, y := at(v.Center)
			pdf.Circle(x, y, v.Radius, "D")
		case drawing.Triangle:
			stroke(parseColor(v.Color), v.StrokeWidth)
			points := make([]gofpdf.PointType, 0, 3)
			for _, p := range v.Points {
				x, y := at(p)
				points = append(points, gofpdf.PointType{X: x, Y: y})
			}
			pdf.Polygon(points, "D")
		case drawing.Text:
			color := parseColor(v.Color)
			pdf.SetTextColor(color.r, color.g, color.b)
			x, y := at(v.Position)
			// the canvas positions text by its top, pdf by its baseline
			pdf.Text(x, y+fontSize*0.8, translate(v.Content))
		case drawing.Arrow:
			color := parseColor(v.Color)
			stroke(color, v.StrokeWidth)
			x1, y1 := at(v.Start)
			x2, y2 := at(v.End)
			pdf.Line(x1, y1, x2, y2)
			left, right := arrowHead(v)
			lx, ly := at(left)
			rx, ry := at(right)
			pdf.SetFillColor(color.r, color.g, color.b)
			pdf.Polygon([]gofpdf.PointType{{X: x2, Y: y2}, {X: lx, Y: ly}, {X: rx, Y: ry}}, "F")
		case drawing.Eraser:
			stroke(white, v.Size)
			polyline(v.Points)
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	return pdf.Output(w)
}
