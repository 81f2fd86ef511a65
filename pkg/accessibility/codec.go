package accessibility

import (
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
)

// ErrDecode is matched by every decoding failure.
var ErrDecode = errors.New("accessibility: decode failed")

// DecodeError locates a schema violation inside a snapshot.
type DecodeError struct {
	Path  string
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	loc := e.Path
	if loc == "" {
		loc = "$"
	}
	switch {
	case e.Field != "":
		return fmt.Sprintf("accessibility: decode %s: missing required field %q", loc, e.Field)
	case e.Err != nil:
		return fmt.Sprintf("accessibility: decode %s: %v", loc, e.Err)
	default:
		return "accessibility: decode " + loc
	}
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var codec = sonic.ConfigStd

type wireRect struct {
	X      *float64 `json:"x"`
	Y      *float64 `json:"y"`
	Width  *float64 `json:"width"`
	Height *float64 `json:"height"`
}

type wireNode struct {
	AXFrame         *string    `json:"AXFrame"`
	AXUniqueID      *string    `json:"AXUniqueId"`
	AXLabel         *string    `json:"AXLabel"`
	AXValue         *string    `json:"AXValue"`
	Frame           *wireRect  `json:"frame"`
	RoleDescription *string    `json:"roleDescription"`
	ContentRequired *bool      `json:"contentRequired"`
	Type            *string    `json:"type"`
	Title           *string    `json:"title"`
	Help            *string    `json:"help"`
	CustomActions   *[]string  `json:"customActions"`
	Enabled         *bool      `json:"enabled"`
	Role            *string    `json:"role"`
	Children        []wireNode `json:"children"`
	Subrole         *string    `json:"subrole"`
	PID             *int       `json:"pid"`
}

// Decode parses a snapshot document holding an array of root elements.
func Decode(data []byte) ([]Node, error) {
	var wire *[]wireNode
	if err := codec.Unmarshal(data, &wire); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if wire == nil {
		return nil, &DecodeError{Err: errors.New("document is null")}
	}
	return convertAll(*wire, "")
}

// DecodeNode parses a single element object.
func DecodeNode(data []byte) (Node, error) {
	var wire *wireNode
	if err := codec.Unmarshal(data, &wire); err != nil {
		return Node{}, &DecodeError{Err: err}
	}
	if wire == nil {
		return Node{}, &DecodeError{Err: errors.New("document is null")}
	}
	return convert(*wire, "")
}

func convertAll(wire []wireNode, path string) ([]Node, error) {
	if len(wire) == 0 {
		return nil, nil
	}
	nodes := make([]Node, 0, len(wire))
	for i, w := range wire {
		n, err := convert(w, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
	}
	return nodes, nil
}

func convert(w wireNode, path string) (Node, error) {
	missing := func(field string) error {
		return &DecodeError{Path: path, Field: field}
	}

	switch {
	case w.AXFrame == nil:
		return Node{}, missing("AXFrame")
	case w.Frame == nil:
		return Node{}, missing("frame")
	case w.Frame.X == nil:
		return Node{}, missing("frame.x")
	case w.Frame.Y == nil:
		return Node{}, missing("frame.y")
	case w.Frame.Width == nil:
		return Node{}, missing("frame.width")
	case w.Frame.Height == nil:
		return Node{}, missing("frame.height")
	case w.RoleDescription == nil:
		return Node{}, missing("roleDescription")
	case w.ContentRequired == nil:
		return Node{}, missing("contentRequired")
	case w.Type == nil:
		return Node{}, missing("type")
	case w.CustomActions == nil:
		return Node{}, missing("customActions")
	case w.Enabled == nil:
		return Node{}, missing("enabled")
	case w.Role == nil:
		return Node{}, missing("role")
	case w.PID == nil:
		return Node{}, missing("pid")
	}

	children, err := convertAll(w.Children, path+".children")
	if err != nil {
		return Node{}, err
	}

	actions := *w.CustomActions
	if actions == nil {
		actions = []string{}
	}

	return Node{
		AXFrame:         *w.AXFrame,
		AXUniqueID:      w.AXUniqueID,
		Frame:           Rect{X: *w.Frame.X, Y: *w.Frame.Y, Width: *w.Frame.Width, Height: *w.Frame.Height},
		RoleDescription: *w.RoleDescription,
		AXLabel:         w.AXLabel,
		ContentRequired: *w.ContentRequired,
		Type:            *w.Type,
		Title:           w.Title,
		Help:            w.Help,
		CustomActions:   actions,
		AXValue:         w.AXValue,
		Enabled:         *w.Enabled,
		Role:            *w.Role,
		Children:        children,
		Subrole:         w.Subrole,
		PID:             *w.PID,
	}, nil
}

type encodedRect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// encodedNode mirrors the snapshot writer: unique id and label are always
// present (null when unknown), other optionals are omitted.
type encodedNode struct {
	AXFrame         string        `json:"AXFrame"`
	AXUniqueID      *string       `json:"AXUniqueId"`
	Frame           encodedRect   `json:"frame"`
	RoleDescription string        `json:"roleDescription"`
	AXLabel         *string       `json:"AXLabel"`
	ContentRequired bool          `json:"contentRequired"`
	Type            string        `json:"type"`
	Title           *string       `json:"title,omitempty"`
	Help            *string       `json:"help,omitempty"`
	CustomActions   []string      `json:"customActions"`
	AXValue         *string       `json:"AXValue,omitempty"`
	Enabled         bool          `json:"enabled"`
	Role            string        `json:"role"`
	Children        []encodedNode `json:"children,omitempty"`
	Subrole         *string       `json:"subrole,omitempty"`
	PID             int           `json:"pid"`
}

func toEncoded(n Node) encodedNode {
	actions := n.CustomActions
	if actions == nil {
		actions = []string{}
	}
	var children []encodedNode
	if len(n.Children) > 0 {
		children = make([]encodedNode, 0, len(n.Children))
		for _, c := range n.Children {
			children = append(children, toEncoded(c))
		}
	}
	return encodedNode{
		AXFrame:         n.AXFrame,
		AXUniqueID:      n.AXUniqueID,
		Frame:           encodedRect{X: n.Frame.X, Y: n.Frame.Y, Width: n.Frame.Width, Height: n.Frame.Height},
		RoleDescription: n.RoleDescription,
		AXLabel:         n.AXLabel,
		ContentRequired: n.ContentRequired,
		Type:            n.Type,
		Title:           n.Title,
		Help:            n.Help,
		CustomActions:   actions,
		AXValue:         n.AXValue,
		Enabled:         n.Enabled,
		Role:            n.Role,
		Children:        children,
		Subrole:         n.Subrole,
		PID:             n.PID,
	}
}

// Encode writes nodes in the snapshot format accepted by Decode.
func Encode(nodes []Node) ([]byte, error) {
	out := make([]encodedNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toEncoded(n))
	}
	return codec.Marshal(out)
}

// EncodeNode writes a single element object.
func EncodeNode(n Node) ([]byte, error) {
	return codec.Marshal(toEncoded(n))
}

// EncodeIndent is Encode with two-space indentation for display.
func EncodeIndent(nodes []Node) ([]byte, error) {
	out := make([]encodedNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, toEncoded(n))
	}
	return codec.MarshalIndent(out, "", "  ")
}
