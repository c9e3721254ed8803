package schemas

import (
	"fmt"
	"time"
)

// ActionKind enumerates every action the decider may emit. Parsing and
// execution both switch over this tag; adding a kind forces updates at each
// switch site.
type ActionKind string

const (
	// -- Pointer gestures --
	ActionTap       ActionKind = "TAP"
	ActionLongPress ActionKind = "LONG_PRESS"
	ActionDoubleTap ActionKind = "DOUBLE_TAP"
	ActionSwipe       ActionKind = "SWIPE"        // Directional swipe from screen center.
	ActionSwipeCustom ActionKind = "SWIPE_CUSTOM" // Swipe between explicit endpoints.
	ActionScroll      ActionKind = "SCROLL"

	// -- Text --
	ActionInputText ActionKind = "INPUT_TEXT"
	ActionClearText ActionKind = "CLEAR_TEXT"
	ActionKeyPress  ActionKind = "KEY_PRESS"

	// -- App and system surfaces --
	ActionOpenApp            ActionKind = "OPEN_APP"
	ActionCloseApp           ActionKind = "CLOSE_APP"
	ActionOpenURL            ActionKind = "OPEN_URL"
	ActionOpenSetting        ActionKind = "OPEN_SETTING"
	ActionScreenshot         ActionKind = "SCREENSHOT"
	ActionCopy               ActionKind = "COPY"
	ActionPaste              ActionKind = "PASTE"
	ActionOpenNotifications  ActionKind = "OPEN_NOTIFICATIONS"
	ActionClearNotifications ActionKind = "CLEAR_NOTIFICATIONS"

	// -- Waiting --
	ActionWait           ActionKind = "WAIT"
	ActionWaitForElement ActionKind = "WAIT_FOR_ELEMENT"

	// -- Introspection --
	ActionDescribeScreen ActionKind = "DESCRIBE_SCREEN"

	// -- Terminal / user interaction --
	ActionAskUser  ActionKind = "ASK_USER"
	ActionFinished ActionKind = "FINISHED"
	ActionFailed   ActionKind = "FAILED"
)

// Well-known values for Action.Key.
const (
	KeyBack   = "BACK"
	KeyHome   = "HOME"
	KeyEnter  = "ENTER"
	KeyDelete = "DELETE"
)

// Swipe/scroll directions for Action.Direction.
const (
	DirectionUp    = "up"
	DirectionDown  = "down"
	DirectionLeft  = "left"
	DirectionRight = "right"
)

// Action is one concrete step decided for a single loop iteration. It is a
// tagged variant: Kind selects which of the optional fields are meaningful,
// and every field carries a JSON tag so the decider can decode it straight
// from a reasoning-backend response.
type Action struct {
	Kind ActionKind `json:"kind"`

	// Coordinates for pointer gestures. ToX/ToY are the endpoint of a
	// custom swipe.
	X   int `json:"x,omitempty"`
	Y   int `json:"y,omitempty"`
	ToX int `json:"to_x,omitempty"`
	ToY int `json:"to_y,omitempty"`

	Direction  string `json:"direction,omitempty"`   // Swipe/scroll direction.
	Distance   int    `json:"distance,omitempty"`    // Scroll distance in pixels, 0 = platform default.
	DurationMs int    `json:"duration_ms,omitempty"` // Gesture or wait duration.

	Text    string `json:"text,omitempty"`    // Text to input, or expected element text for waits.
	Key     string `json:"key,omitempty"`     // Key identifier for KEY_PRESS.
	App     string `json:"app,omitempty"`     // App name or package id for OPEN_APP/CLOSE_APP.
	URL     string `json:"url,omitempty"`     // Target for OPEN_URL.
	Setting string `json:"setting,omitempty"` // Settings page identifier for OPEN_SETTING.
	Target  string `json:"target,omitempty"`  // Free-form description of the intended target element.

	TimeoutMs int `json:"timeout_ms,omitempty"` // Budget for WAIT_FOR_ELEMENT.

	Question string `json:"question,omitempty"` // ASK_USER prompt.
	Message  string `json:"message,omitempty"`  // FINISHED/FAILED explanation.
}

// IsTerminal reports whether the action ends the task loop immediately.
func (a Action) IsTerminal() bool {
	switch a.Kind {
	case ActionFinished, ActionFailed, ActionAskUser:
		return true
	}
	return false
}

// NeedsVerification reports whether the engine should capture an "after"
// snapshot and run the verifier. Waits and terminal actions have no device
// effect to confirm.
func (a Action) NeedsVerification() bool {
	switch a.Kind {
	case ActionWait, ActionDescribeScreen, ActionFinished, ActionFailed, ActionAskUser:
		return false
	}
	return true
}

// HasCoordinates reports whether the action kind carries a screen position.
func (a Action) HasCoordinates() bool {
	switch a.Kind {
	case ActionTap, ActionLongPress, ActionDoubleTap, ActionSwipeCustom:
		return true
	}
	return false
}

// Signature returns a stable identity for "the same action", used by both
// the engine's identical-failure ceiling and the verifier's retry
// escalation. Coordinate-bearing kinds bucket their coordinates by
// tolerancePx so near-identical taps compare equal.
func (a Action) Signature(tolerancePx int) string {
	if tolerancePx <= 0 {
		tolerancePx = 1
	}
	switch a.Kind {
	case ActionTap, ActionLongPress, ActionDoubleTap:
		return fmt.Sprintf("%s@%d,%d", a.Kind, a.X/tolerancePx, a.Y/tolerancePx)
	case ActionSwipeCustom:
		return fmt.Sprintf("%s@%d,%d-%d,%d", a.Kind, a.X/tolerancePx, a.Y/tolerancePx, a.ToX/tolerancePx, a.ToY/tolerancePx)
	case ActionSwipe, ActionScroll:
		return fmt.Sprintf("%s:%s", a.Kind, a.Direction)
	case ActionInputText:
		return fmt.Sprintf("%s:%s", a.Kind, a.Text)
	case ActionKeyPress:
		return fmt.Sprintf("%s:%s", a.Kind, a.Key)
	case ActionOpenApp, ActionCloseApp:
		return fmt.Sprintf("%s:%s", a.Kind, a.App)
	case ActionOpenURL:
		return fmt.Sprintf("%s:%s", a.Kind, a.URL)
	case ActionOpenSetting:
		return fmt.Sprintf("%s:%s", a.Kind, a.Setting)
	default:
		return string(a.Kind)
	}
}

// Describe renders a short human-readable form for logs and memory digests.
func (a Action) Describe() string {
	switch a.Kind {
	case ActionTap, ActionLongPress, ActionDoubleTap:
		return fmt.Sprintf("%s at (%d,%d)", a.Kind, a.X, a.Y)
	case ActionSwipe, ActionScroll:
		return fmt.Sprintf("%s %s", a.Kind, a.Direction)
	case ActionSwipeCustom:
		return fmt.Sprintf("%s (%d,%d)->(%d,%d)", a.Kind, a.X, a.Y, a.ToX, a.ToY)
	case ActionInputText:
		return fmt.Sprintf("%s %q", a.Kind, a.Text)
	case ActionKeyPress:
		return fmt.Sprintf("%s %s", a.Kind, a.Key)
	case ActionOpenApp, ActionCloseApp:
		return fmt.Sprintf("%s %s", a.Kind, a.App)
	case ActionOpenURL:
		return fmt.Sprintf("%s %s", a.Kind, a.URL)
	case ActionOpenSetting:
		return fmt.Sprintf("%s %s", a.Kind, a.Setting)
	case ActionWait:
		return fmt.Sprintf("%s %dms", a.Kind, a.DurationMs)
	case ActionWaitForElement:
		return fmt.Sprintf("%s %q", a.Kind, a.Target)
	case ActionAskUser:
		return fmt.Sprintf("%s %q", a.Kind, a.Question)
	case ActionFinished, ActionFailed:
		return fmt.Sprintf("%s: %s", a.Kind, a.Message)
	default:
		return string(a.Kind)
	}
}

// Decision is the atomic output of the step decider for one iteration:
// the model's reasoning plus exactly one action.
type Decision struct {
	Thought string `json:"thought"`
	Action  Action `json:"action"`
}

// FailedDecision builds the safe default emitted when the reasoning backend
// is unavailable or its answer is unusable. Backend failures never propagate
// past the decider boundary as errors.
func FailedDecision(thought, message string) Decision {
	return Decision{
		Thought: thought,
		Action:  Action{Kind: ActionFailed, Message: message},
	}
}

// ExecutionResult reports the outcome of dispatching one action to the
// external executor collaborator.
type ExecutionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// StepRecord is the append-only record of one completed loop iteration. It
// is owned by the engine and mirrored into working memory; once appended it
// is never mutated.
type StepRecord struct {
	Index           int       `json:"index"`
	SnapshotSummary string    `json:"snapshot_summary"`
	Action          Action    `json:"action"`
	Thought         string    `json:"thought,omitempty"`
	AfterSummary    string    `json:"after_summary,omitempty"`
	Success         bool      `json:"success"`
	Error           string    `json:"error,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}
