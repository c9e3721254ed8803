// Package device provides a scripted device simulator that stands in for
// the platform capture and input collaborators. The CLI uses it for demo
// runs; tests use it as a deterministic end-to-end device.
package device

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Screen is one node of the scripted screen graph.
type Screen struct {
	ID          string            `json:"id"`
	App         string            `json:"app"`
	Page        string            `json:"page"`
	Elements    []schemas.Element `json:"elements"`
	Transitions []Transition      `json:"transitions,omitempty"`
}

// Transition moves the simulator to another screen when a matching action
// is executed. Matching fields are optional; an empty field matches any
// value.
type Transition struct {
	OnKind     schemas.ActionKind `json:"on_kind"`
	TargetText string             `json:"target_text,omitempty"` // Element text the action must hit.
	App        string             `json:"app,omitempty"`         // For OPEN_APP / CLOSE_APP.
	Key        string             `json:"key,omitempty"`         // For KEY_PRESS.
	Direction  string             `json:"direction,omitempty"`   // For SWIPE / SCROLL.
	To         string             `json:"to"`
}

// Script is the full scripted device: a screen graph and its entry point.
type Script struct {
	Initial string   `json:"initial"`
	Screens []Screen `json:"screens"`
}

// tapTolerancePx is how far a tap may land from an element center and
// still count as hitting it.
const tapTolerancePx = 60

// Simulator is a deterministic in-memory device. It implements both
// schemas.SnapshotSource and schemas.ActionPerformer.
type Simulator struct {
	logger  *zap.Logger
	latency time.Duration

	mu      sync.Mutex
	screens map[string]*Screen
	current string
	history []string // Back stack of screen IDs.
	inputs  map[string]string
}

// NewSimulator builds a simulator from config. An empty script path loads
// the built-in demo script.
func NewSimulator(cfg config.DeviceConfig, logger *zap.Logger) (*Simulator, error) {
	script := defaultScript()
	if cfg.ScriptPath != "" {
		data, err := os.ReadFile(cfg.ScriptPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read device script %s: %w", cfg.ScriptPath, err)
		}
		var loaded Script
		if err := json.Unmarshal(data, &loaded); err != nil {
			return nil, fmt.Errorf("failed to parse device script %s: %w", cfg.ScriptPath, err)
		}
		script = &loaded
	}
	return NewSimulatorFromScript(script, cfg.Latency, logger)
}

// NewSimulatorFromScript builds a simulator directly from a screen graph.
func NewSimulatorFromScript(script *Script, latency time.Duration, logger *zap.Logger) (*Simulator, error) {
	if len(script.Screens) == 0 {
		return nil, fmt.Errorf("device script has no screens")
	}

	screens := make(map[string]*Screen, len(script.Screens))
	for i := range script.Screens {
		s := &script.Screens[i]
		if s.ID == "" {
			return nil, fmt.Errorf("device script screen %d has no id", i)
		}
		screens[s.ID] = s
	}
	initial := script.Initial
	if initial == "" {
		initial = script.Screens[0].ID
	}
	if _, ok := screens[initial]; !ok {
		return nil, fmt.Errorf("device script initial screen %q does not exist", initial)
	}
	for _, s := range screens {
		for _, tr := range s.Transitions {
			if _, ok := screens[tr.To]; !ok {
				return nil, fmt.Errorf("screen %s has a transition to unknown screen %q", s.ID, tr.To)
			}
		}
	}

	return &Simulator{
		logger:  logger.Named("device"),
		latency: latency,
		screens: screens,
		current: initial,
		inputs:  make(map[string]string),
	}, nil
}

// CurrentScreen returns the ID of the screen under the cursor.
func (s *Simulator) CurrentScreen() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// CaptureSnapshot assembles a snapshot from the current screen. The element
// listing and the screen metadata are fetched as separate simulated
// subsystems in parallel, each paying the configured latency.
func (s *Simulator) CaptureSnapshot(ctx context.Context) (*schemas.Snapshot, error) {
	s.mu.Lock()
	screen := s.screens[s.current]
	inputs := make(map[string]string, len(s.inputs))
	for k, v := range s.inputs {
		inputs[k] = v
	}
	s.mu.Unlock()

	snapshot := &schemas.Snapshot{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := s.pause(gctx); err != nil {
			return err
		}
		elements := make([]schemas.Element, len(screen.Elements))
		copy(elements, screen.Elements)
		for i := range elements {
			if text, ok := inputs[elementKey(screen.ID, elements[i])]; ok {
				elements[i].Text = text
			}
		}
		snapshot.Elements = elements
		return nil
	})
	g.Go(func() error {
		if err := s.pause(gctx); err != nil {
			return err
		}
		snapshot.ForegroundApp = screen.App
		snapshot.Page = screen.Page
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot capture interrupted: %w", err)
	}

	snapshot.CapturedAt = time.Now().UTC()
	return snapshot, nil
}

// ExecuteAction applies the action to the screen graph. Scripted
// transitions take priority; actions without a matching transition still
// succeed when they are plausible on the current screen (typing into an
// editable field, waiting, pressing back with history available).
func (s *Simulator) ExecuteAction(ctx context.Context, action schemas.Action) (*schemas.ExecutionResult, error) {
	if err := s.pause(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	screen := s.screens[s.current]
	s.logger.Debug("Executing action",
		zap.String("screen", s.current),
		zap.String("action", action.Describe()),
	)

	if to, ok := s.matchTransition(screen, action); ok {
		s.moveTo(to)
		return &schemas.ExecutionResult{Success: true, Message: "moved to " + to}, nil
	}

	switch action.Kind {
	case schemas.ActionWait, schemas.ActionScreenshot, schemas.ActionCopy, schemas.ActionPaste:
		return &schemas.ExecutionResult{Success: true, Message: "ok"}, nil

	case schemas.ActionInputText:
		if el, ok := s.editableAt(screen, action); ok {
			s.inputs[elementKey(screen.ID, *el)] = action.Text
			return &schemas.ExecutionResult{Success: true, Message: "text entered"}, nil
		}
		return &schemas.ExecutionResult{Success: false, Error: "no editable field on screen " + s.current}, nil

	case schemas.ActionClearText:
		if el, ok := s.editableAt(screen, action); ok {
			s.inputs[elementKey(screen.ID, *el)] = ""
			return &schemas.ExecutionResult{Success: true, Message: "field cleared"}, nil
		}
		return &schemas.ExecutionResult{Success: false, Error: "no editable field on screen " + s.current}, nil

	case schemas.ActionKeyPress:
		if action.Key == schemas.KeyBack && len(s.history) > 0 {
			s.current = s.history[len(s.history)-1]
			s.history = s.history[:len(s.history)-1]
			return &schemas.ExecutionResult{Success: true, Message: "back to " + s.current}, nil
		}
		return &schemas.ExecutionResult{Success: false, Error: fmt.Sprintf("key %s had no effect", action.Key)}, nil

	case schemas.ActionTap, schemas.ActionDoubleTap, schemas.ActionLongPress:
		// A tap that hits an element but has no scripted transition lands
		// on the same screen; report it delivered.
		if _, ok := s.elementAt(screen, action.X, action.Y); ok {
			return &schemas.ExecutionResult{Success: true, Message: "tap delivered"}, nil
		}
		return &schemas.ExecutionResult{Success: false, Error: fmt.Sprintf("nothing at (%d,%d)", action.X, action.Y)}, nil

	case schemas.ActionSwipe, schemas.ActionSwipeCustom, schemas.ActionScroll:
		return &schemas.ExecutionResult{Success: true, Message: "gesture delivered"}, nil

	case schemas.ActionOpenApp:
		return &schemas.ExecutionResult{Success: false, Error: fmt.Sprintf("app %q is not installed", action.App)}, nil

	default:
		return &schemas.ExecutionResult{Success: false, Error: fmt.Sprintf("action %s not supported on screen %s", action.Kind, s.current)}, nil
	}
}

// matchTransition finds the first scripted transition the action satisfies.
func (s *Simulator) matchTransition(screen *Screen, action schemas.Action) (string, bool) {
	for _, tr := range screen.Transitions {
		if tr.OnKind != action.Kind {
			continue
		}
		if tr.App != "" && !appMatches(tr.App, action.App) {
			continue
		}
		if tr.Key != "" && tr.Key != string(action.Key) {
			continue
		}
		if tr.Direction != "" && tr.Direction != string(action.Direction) {
			continue
		}
		if tr.TargetText != "" {
			el, ok := s.elementAt(screen, action.X, action.Y)
			if !ok || !strings.EqualFold(el.Text, tr.TargetText) {
				continue
			}
		}
		return tr.To, true
	}
	return "", false
}

// moveTo pushes the current screen on the back stack and switches.
func (s *Simulator) moveTo(id string) {
	if id == s.current {
		return
	}
	s.history = append(s.history, s.current)
	s.current = id
}

// elementAt returns the element whose center is nearest to (x, y) within
// the tap tolerance.
func (s *Simulator) elementAt(screen *Screen, x, y int) (*schemas.Element, bool) {
	var best *schemas.Element
	bestDist := tapTolerancePx*tapTolerancePx + 1
	for i := range screen.Elements {
		cx, cy := screen.Elements[i].Bounds.Center()
		dx, dy := cx-x, cy-y
		if d := dx*dx + dy*dy; d < bestDist {
			bestDist = d
			best = &screen.Elements[i]
		}
	}
	return best, best != nil
}

// editableAt picks the editable field the action addresses: the one under
// its coordinates when present, else the first editable on the screen.
func (s *Simulator) editableAt(screen *Screen, action schemas.Action) (*schemas.Element, bool) {
	if action.X != 0 || action.Y != 0 {
		if el, ok := s.elementAt(screen, action.X, action.Y); ok && el.Editable {
			return el, true
		}
	}
	for i := range screen.Elements {
		if screen.Elements[i].Editable {
			return &screen.Elements[i], true
		}
	}
	return nil, false
}

func (s *Simulator) pause(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(s.latency)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func elementKey(screenID string, el schemas.Element) string {
	cx, cy := el.Bounds.Center()
	return fmt.Sprintf("%s/%d,%d", screenID, cx, cy)
}

func appMatches(want, got string) bool {
	want, got = strings.ToLower(want), strings.ToLower(got)
	return want == got || strings.Contains(got, want) || strings.Contains(want, got)
}
