package drawing

import (
	"encoding/json"
	"slices"
)

// Document is the ordered log of committed elements for one board.
// A Document is not safe for concurrent use; its room serializes access.
type Document struct {
	elements []Element
}

func NewDocument(elements ...Element) *Document {
	return &Document{
		elements: slices.Clone(elements),
	}
}

func (d *Document) Append(e Element) {
	d.elements = append(d.elements, e)
}

func (d *Document) Len() int {
	return len(d.elements)
}

// Elements returns a copy of the full log.
func (d *Document) Elements() []Element {
	return slices.Clone(d.elements)
}

// Visible returns the first n elements, the part of the log a client renders
// when the history index is n.
func (d *Document) Visible(n int) []Element {
	n = max(0, min(n, len(d.elements)))
	return slices.Clone(d.elements[:n])
}

// Truncate drops every element at index n and beyond.
func (d *Document) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n < len(d.elements) {
		clear(d.elements[n:])
		d.elements = d.elements[:n]
	}
}

func (d *Document) Replace(elements []Element) {
	d.elements = slices.Clone(elements)
}

func (d *Document) Clone() *Document {
	return NewDocument(d.elements...)
}

func (d *Document) MarshalJSON() ([]byte, error) {
	return MarshalElements(d.elements)
}

func (d *Document) UnmarshalJSON(data []byte) error {
	elements, err := UnmarshalElements(data)
	if err != nil {
		return err
	}
	d.elements = elements
	return nil
}

func MarshalElements(elements []Element) ([]byte, error) {
	wrapped := make([]Any, len(elements))
	for i, e := range elements {
		wrapped[i] = Any{e}
	}
	return json.Marshal(wrapped)
}

func UnmarshalElements(data []byte) ([]Element, error) {
	var wrapped []Any
	if err := json.Unmarshal(data, &wrapped); err != nil {
		return nil, err
	}
	elements := make([]Element, len(wrapped))
	for i, w := range wrapped {
		elements[i] = w.Element
	}
	return elements, nil
}
