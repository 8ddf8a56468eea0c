package protocol

import (
	"encoding/json"
	"fmt"

	"collabdraw/internal/drawing"
)

type Type string

const (
	TypeJoin               Type = "join"
	TypeJoinAccepted       Type = "joinAccepted"
	TypeJoinRejected       Type = "joinRejected"
	TypeMemberJoined       Type = "memberJoined"
	TypeMemberLeft         Type = "memberLeft"
	TypeStrokeSegment      Type = "strokeSegment"
	TypeShapePreview       Type = "shapePreview"
	TypeElementCommitted   Type = "elementCommitted"
	TypeTextCommitted      Type = "textCommitted"
	TypeCursorMoved        Type = "cursorMoved"
	TypeRequestUndo        Type = "requestUndo"
	TypeRequestRedo        Type = "requestRedo"
	TypeHistoryMoved       Type = "historyMoved"
	TypeFullSync           Type = "fullSync"
	TypeRequestCanvasState Type = "requestCanvasState"
	TypeSendCanvasState    Type = "sendCanvasState"
)

type Direction string

const (
	Back    Direction = "back"
	Forward Direction = "forward"
)

// Ephemeral ops are relayed and never stored.
func (t Type) Ephemeral() bool {
	switch t {
	case TypeStrokeSegment, TypeShapePreview, TypeCursorMoved:
		return true
	default:
		return false
	}
}

// Commit ops append to the board's document.
func (t Type) Commit() bool {
	return t == TypeElementCommitted || t == TypeTextCommitted
}

// CanvasState is a full board state, as sent in FullSync and SendCanvasState.
type CanvasState struct {
	Elements     []drawing.Element `json:"-"`
	HistoryIndex int               `json:"historyIndex"`
	Version      uint64            `json:"version,omitempty"`
	// opaque raster fallback, e.g. a PNG data url
	Raster []byte `json:"raster,omitempty"`
}

type canvasStateJson struct {
	Elements     []drawing.Any `json:"elements"`
	HistoryIndex int           `json:"historyIndex"`
	Version      uint64        `json:"version,omitempty"`
	Raster       []byte        `json:"raster,omitempty"`
}

func (cs CanvasState) MarshalJSON() ([]byte, error) {
	out := canvasStateJson{
		Elements:     make([]drawing.Any, len(cs.Elements)),
		HistoryIndex: cs.HistoryIndex,
		Version:      cs.Version,
		Raster:       cs.Raster,
	}
	for i, e := range cs.Elements {
		out.Elements[i] = drawing.Any{Element: e}
	}
	return json.Marshal(out)
}

func (cs *CanvasState) UnmarshalJSON(data []byte) error {
	var in canvasStateJson
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	cs.Elements = make([]drawing.Element, len(in.Elements))
	for i, a := range in.Elements {
		cs.Elements[i] = a.Element
	}
	cs.HistoryIndex = in.HistoryIndex
	cs.Version = in.Version
	cs.Raster = in.Raster
	// a client that does not track history sends no index
	if !hasField(data, "historyIndex") {
		cs.HistoryIndex = len(cs.Elements)
	}
	return nil
}

func hasField(data []byte, name string) bool {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return false
	}
	_, ok := fields[name]
	return ok
}

// Message is every frame exchanged with a client. Which fields are set
// depends on Type.
type Message struct {
	Type    Type   `json:"type"`
	BoardID string `json:"boardId,omitempty"`
	UserID  string `json:"userId,omitempty"`

	// joinRejected
	Reason string `json:"reason,omitempty"`

	// strokeSegment
	From *drawing.Point `json:"from,omitempty"`
	To   *drawing.Point `json:"to,omitempty"`

	// shapePreview
	Tool            string         `json:"tool,omitempty"`
	Origin          *drawing.Point `json:"origin,omitempty"`
	CurrentPosition *drawing.Point `json:"currentPosition,omitempty"`

	// cursorMoved
	Position *drawing.Point `json:"position,omitempty"`

	// elementCommitted, textCommitted
	Element *drawing.Any `json:"element,omitempty"`

	// historyMoved
	Direction    Direction `json:"direction,omitempty"`
	By           string    `json:"by,omitempty"`
	HistoryIndex *int      `json:"historyIndex,omitempty"`

	// fullSync
	Document *CanvasState `json:"document,omitempty"`
	// sendCanvasState
	State *CanvasState `json:"state,omitempty"`
}

func Encode(msg *Message) ([]byte, error) {
	return json.Marshal(msg)
}

func Decode(data []byte) (*Message, error) {
	msg := &Message{}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("decode message: missing type")
	}
	return msg, nil
}

func Int(v int) *int {
	return &v
}
