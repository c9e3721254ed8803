// Package schemas defines the shared data model for the agent core: device
// snapshots, actions, decisions, plans, verification results, and the
// interfaces of the external collaborators. It is intentionally free of
// third-party imports so every internal package can depend on it without
// cycles.
package schemas

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// ElementKind is a coarse classification of a UI element reported by the
// capture collaborator.
type ElementKind string

const (
	ElementButton    ElementKind = "BUTTON"
	ElementText      ElementKind = "TEXT"
	ElementInput     ElementKind = "INPUT"
	ElementImage     ElementKind = "IMAGE"
	ElementList      ElementKind = "LIST"
	ElementCheckbox  ElementKind = "CHECKBOX"
	ElementSwitch    ElementKind = "SWITCH"
	ElementContainer ElementKind = "CONTAINER"
	ElementUnknown   ElementKind = "UNKNOWN"
)

// Bounds is the pixel rectangle occupied by an element on screen.
type Bounds struct {
	Left   int `json:"left"`
	Top    int `json:"top"`
	Right  int `json:"right"`
	Bottom int `json:"bottom"`
}

// Center returns the midpoint of the rectangle.
func (b Bounds) Center() (x, y int) {
	return (b.Left + b.Right) / 2, (b.Top + b.Bottom) / 2
}

// Width returns the horizontal extent of the rectangle.
func (b Bounds) Width() int { return b.Right - b.Left }

// Height returns the vertical extent of the rectangle.
func (b Bounds) Height() int { return b.Bottom - b.Top }

// Element describes one visible UI element at capture time.
type Element struct {
	ID         string      `json:"id"`
	Kind       ElementKind `json:"kind"`
	Text       string      `json:"text,omitempty"`
	Label      string      `json:"label,omitempty"` // Accessibility label.
	Bounds     Bounds      `json:"bounds"`
	Clickable  bool        `json:"clickable,omitempty"`
	Editable   bool        `json:"editable,omitempty"`
	Scrollable bool        `json:"scrollable,omitempty"`
	Focused    bool        `json:"focused,omitempty"`
}

// DisplayText returns the best human-readable string for the element,
// preferring visible text over the accessibility label.
func (e Element) DisplayText() string {
	if e.Text != "" {
		return e.Text
	}
	return e.Label
}

// Snapshot is an immutable description of the device state at one instant.
// Two snapshots taken around a single action are referred to as the "before"
// and "after" pair.
type Snapshot struct {
	ForegroundApp string    `json:"foreground_app"`          // Package/bundle identifier of the foreground app.
	Page          string    `json:"page,omitempty"`          // Activity/page identifier, when the platform reports one.
	Elements      []Element `json:"elements"`
	Image         []byte    `json:"image,omitempty"` // Optional rendered screenshot for the vision path.
	CapturedAt    time.Time `json:"captured_at"`
	Degraded      bool      `json:"degraded,omitempty"` // True when capture timed out and this is an empty substitute.
}

// EmptySnapshot returns the degraded placeholder used when capture fails or
// times out. The loop must keep moving rather than block on a capture.
func EmptySnapshot() *Snapshot {
	return &Snapshot{CapturedAt: time.Now().UTC(), Degraded: true}
}

// Summary renders a one-line digest of the snapshot for step records and
// memory digests.
func (s *Snapshot) Summary() string {
	if s == nil {
		return "no snapshot"
	}
	if s.Degraded {
		return "degraded snapshot (capture unavailable)"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "app=%s", s.ForegroundApp)
	if s.Page != "" {
		fmt.Fprintf(&b, " page=%s", s.Page)
	}
	fmt.Fprintf(&b, " elements=%d", len(s.Elements))
	return b.String()
}

// ElementTexts returns the sorted multiset of non-empty element display
// texts. The verifier compares these across a before/after pair to decide
// whether visible content changed.
func (s *Snapshot) ElementTexts() []string {
	if s == nil {
		return nil
	}
	texts := make([]string, 0, len(s.Elements))
	for _, el := range s.Elements {
		if t := el.DisplayText(); t != "" {
			texts = append(texts, t)
		}
	}
	sort.Strings(texts)
	return texts
}

// FindEditable returns the editable elements of the snapshot in order.
func (s *Snapshot) FindEditable() []Element {
	if s == nil {
		return nil
	}
	var out []Element
	for _, el := range s.Elements {
		if el.Editable {
			out = append(out, el)
		}
	}
	return out
}
