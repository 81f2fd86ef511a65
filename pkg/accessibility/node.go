// Package accessibility models the accessibility tree reported by a simulator
// and converts it to and from the JSON snapshot format.
package accessibility

import (
	"fmt"
	"io"
	"strings"
)

// Rect is a frame in screen points.
type Rect struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// Center returns the midpoint of the rectangle.
func (r Rect) Center() (float64, float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Node is one element of a decoded snapshot. Nodes are immutable once decoded.
//
// Children is nil both when the snapshot omitted the key and when it reported
// an empty list.
type Node struct {
	AXFrame         string
	AXUniqueID      *string
	Frame           Rect
	RoleDescription string
	AXLabel         *string
	ContentRequired bool
	Type            string
	Title           *string
	Help            *string
	CustomActions   []string
	AXValue         *string
	Enabled         bool
	Role            string
	Children        []Node
	Subrole         *string
	PID             int
}

// ID identifies the node within the snapshot it came from. It is derived from
// the frame string and is not unique across snapshots.
func (n Node) ID() string {
	return n.AXFrame
}

// DisplayName prefers the label, then the title, then the element type.
func (n Node) DisplayName() string {
	if n.AXLabel != nil {
		return *n.AXLabel
	}
	if n.Title != nil {
		return *n.Title
	}
	return n.Type
}

// TreeName decorates DisplayName with a glyph for leaves and branches.
func (n Node) TreeName() string {
	switch {
	case n.Children == nil:
		return "📄 " + n.DisplayName()
	case len(n.Children) == 0:
		return "📂 " + n.DisplayName()
	default:
		return "📁 " + n.DisplayName()
	}
}

// Label returns the accessibility label or an empty string.
func (n Node) Label() string {
	if n.AXLabel == nil {
		return ""
	}
	return *n.AXLabel
}

// Value returns the accessibility value or an empty string.
func (n Node) Value() string {
	if n.AXValue == nil {
		return ""
	}
	return *n.AXValue
}

// Walk visits nodes depth first. Returning false from fn prunes the subtree.
func Walk(nodes []Node, fn func(depth int, n Node) bool) {
	walk(nodes, 0, fn)
}

func walk(nodes []Node, depth int, fn func(int, Node) bool) {
	for _, n := range nodes {
		if fn(depth, n) {
			walk(n.Children, depth+1, fn)
		}
	}
}

// Find returns the first node in depth-first order matching the predicate.
func Find(nodes []Node, match func(Node) bool) (Node, bool) {
	var (
		found Node
		ok    bool
	)
	Walk(nodes, func(_ int, n Node) bool {
		if ok {
			return false
		}
		if match(n) {
			found, ok = n, true
			return false
		}
		return true
	})
	return found, ok
}

// FindByLabel matches the label exactly, falling back to a case-insensitive match.
func FindByLabel(nodes []Node, label string) (Node, bool) {
	if n, ok := Find(nodes, func(n Node) bool { return n.AXLabel != nil && *n.AXLabel == label }); ok {
		return n, true
	}
	return Find(nodes, func(n Node) bool { return n.AXLabel != nil && strings.EqualFold(*n.AXLabel, label) })
}

// Flatten lists every node depth first.
func Flatten(nodes []Node) []Node {
	var out []Node
	Walk(nodes, func(_ int, n Node) bool {
		out = append(out, n)
		return true
	})
	return out
}

// Render prints an indented outline of the tree.
func Render(w io.Writer, nodes []Node) error {
	var err error
	Walk(nodes, func(depth int, n Node) bool {
		if err != nil {
			return false
		}
		line := strings.Repeat("  ", depth) + n.TreeName()
		if n.Role != "" {
			line += " [" + n.Role + "]"
		}
		if v := n.Value(); v != "" {
			line += fmt.Sprintf(" = %q", v)
		}
		_, err = fmt.Fprintln(w, line)
		return true
	})
	return err
}
