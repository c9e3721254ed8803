package decider

import (
	"fmt"
	"strings"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

const baseSystemPrompt = `You are the mind of an autonomous phone operator.
You receive the current screen state as structured text (and sometimes a screenshot) and must
respond with a single JSON object describing exactly one next action toward the user's goal.

Response format (JSON only, no prose outside the object):
{"thought": "<one sentence of reasoning>", "action": {"kind": "<ACTION_KIND>", ...fields}}

Available action kinds and their fields:
  TAP {x, y} / LONG_PRESS {x, y, duration_ms} / DOUBLE_TAP {x, y}
  SWIPE {direction, distance} / SWIPE_CUSTOM {x, y, to_x, to_y, duration_ms} / SCROLL {direction, distance}
  INPUT_TEXT {text} / CLEAR_TEXT {} / KEY_PRESS {key: BACK|HOME|ENTER|DELETE}
  OPEN_APP {app} / CLOSE_APP {app} / OPEN_URL {url} / OPEN_SETTING {setting}
  SCREENSHOT {} / COPY {} / PASTE {} / OPEN_NOTIFICATIONS {} / CLEAR_NOTIFICATIONS {}
  WAIT {duration_ms} / WAIT_FOR_ELEMENT {target, timeout_ms}
  DESCRIBE_SCREEN {}
  ASK_USER {question} / FINISHED {message} / FAILED {message}

Rules:
  - Emit exactly one action per response. Never emit a list.
  - Coordinates refer to element centers from the screen listing below.
  - Use FINISHED only when the goal is visibly achieved; use FAILED only when no action can make progress.
  - Use ASK_USER when you need information only the user has.`

const forbidDescribePrompt = `
  - DESCRIBE_SCREEN was used last step. Do NOT use it again now; act on the description you already have.`

func buildSystemPrompt(forbidDescribeScreen bool) string {
	if forbidDescribeScreen {
		return baseSystemPrompt + forbidDescribePrompt
	}
	return baseSystemPrompt
}

// buildUserPrompt renders the per-iteration context: goal, compact element
// listing, recent step outcomes, and the active plan step hint.
func buildUserPrompt(req DecideRequest) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Goal: %s\n\n", req.Goal)

	if req.PlanStep != nil {
		fmt.Fprintf(&sb, "Current plan step: %s\n", req.PlanStep.Description)
		if req.PlanStep.TargetElement != "" {
			fmt.Fprintf(&sb, "Expected target: %s\n", req.PlanStep.TargetElement)
		}
		if req.PlanStep.VerificationCondition != "" {
			fmt.Fprintf(&sb, "Done when: %s\n", req.PlanStep.VerificationCondition)
		}
		sb.WriteString("\n")
	}

	sb.WriteString(renderSnapshot(req.Snapshot))

	if len(req.History) > 0 {
		sb.WriteString("\nRecent steps (oldest first):\n")
		for _, rec := range req.History {
			status := "ok"
			if !rec.Success {
				status = "FAILED"
			}
			fmt.Fprintf(&sb, "  %d. [%s] %s", rec.Index+1, status, rec.Action.Describe())
			if rec.Error != "" {
				fmt.Fprintf(&sb, " (%s)", rec.Error)
			}
			sb.WriteString("\n")
		}
	}

	sb.WriteString("\nDecide the single next action. Respond with one JSON object only.")
	return sb.String()
}

func renderSnapshot(snap *schemas.Snapshot) string {
	if snap == nil {
		return "Screen state: unavailable (capture failed). Reason from history alone.\n"
	}

	var sb strings.Builder
	if snap.Degraded {
		sb.WriteString("Screen state: DEGRADED capture, element listing may be incomplete.\n")
	}
	fmt.Fprintf(&sb, "Foreground app: %s\n", orUnknown(snap.ForegroundApp))
	if snap.Page != "" {
		fmt.Fprintf(&sb, "Page: %s\n", snap.Page)
	}

	if len(snap.Elements) == 0 {
		sb.WriteString("Visible elements: none detected\n")
		return sb.String()
	}

	sb.WriteString("Visible elements (index. kind text [center x,y] flags):\n")
	for i, el := range snap.Elements {
		cx, cy := el.Bounds.Center()
		fmt.Fprintf(&sb, "  %d. %s %q [%d,%d]%s\n", i, el.Kind, el.DisplayText(), cx, cy, elementFlags(el))
	}
	return sb.String()
}

func elementFlags(el schemas.Element) string {
	var flags []string
	if el.Clickable {
		flags = append(flags, "clickable")
	}
	if el.Editable {
		flags = append(flags, "editable")
	}
	if el.Scrollable {
		flags = append(flags, "scrollable")
	}
	if el.Focused {
		flags = append(flags, "focused")
	}
	if len(flags) == 0 {
		return ""
	}
	return " (" + strings.Join(flags, ",") + ")"
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
