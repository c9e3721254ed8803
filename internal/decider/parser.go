package decider

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// A regex to robustly extract a JSON object from a markdown code block.
var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// kindAliases maps natural-language synonyms the backend tends to produce
// onto canonical kinds. Keys are uppercased before lookup.
var kindAliases = map[string]schemas.ActionKind{
	"CLICK":             schemas.ActionTap,
	"PRESS":             schemas.ActionTap,
	"TOUCH":             schemas.ActionTap,
	"LONGPRESS":         schemas.ActionLongPress,
	"LONG_CLICK":        schemas.ActionLongPress,
	"HOLD":              schemas.ActionLongPress,
	"DOUBLE_CLICK":      schemas.ActionDoubleTap,
	"DOUBLECLICK":       schemas.ActionDoubleTap,
	"TYPE":              schemas.ActionInputText,
	"TYPE_TEXT":         schemas.ActionInputText,
	"INPUT":             schemas.ActionInputText,
	"ENTER_TEXT":        schemas.ActionInputText,
	"CLEAR":             schemas.ActionClearText,
	"DELETE_TEXT":       schemas.ActionClearText,
	"PRESS_KEY":         schemas.ActionKeyPress,
	"KEYPRESS":          schemas.ActionKeyPress,
	"LAUNCH_APP":        schemas.ActionOpenApp,
	"START_APP":         schemas.ActionOpenApp,
	"OPEN":              schemas.ActionOpenApp,
	"LAUNCH":            schemas.ActionOpenApp,
	"KILL_APP":          schemas.ActionCloseApp,
	"STOP_APP":          schemas.ActionCloseApp,
	"NAVIGATE":          schemas.ActionOpenURL,
	"GOTO_URL":          schemas.ActionOpenURL,
	"OPEN_SETTINGS":     schemas.ActionOpenSetting,
	"DRAG":              schemas.ActionSwipeCustom,
	"SLEEP":             schemas.ActionWait,
	"PAUSE":             schemas.ActionWait,
	"WAIT_FOR":          schemas.ActionWaitForElement,
	"DESCRIBE":          schemas.ActionDescribeScreen,
	"LOOK":              schemas.ActionDescribeScreen,
	"OBSERVE":           schemas.ActionDescribeScreen,
	"ASK":               schemas.ActionAskUser,
	"QUESTION":          schemas.ActionAskUser,
	"DONE":              schemas.ActionFinished,
	"COMPLETE":          schemas.ActionFinished,
	"COMPLETED":         schemas.ActionFinished,
	"SUCCESS":           schemas.ActionFinished,
	"TASK_COMPLETE":     schemas.ActionFinished,
	"FINISH":            schemas.ActionFinished,
	"FAIL":              schemas.ActionFailed,
	"FAILURE":           schemas.ActionFailed,
	"ABORT":             schemas.ActionFailed,
	"GIVE_UP":           schemas.ActionFailed,
	"CANNOT_PROCEED":    schemas.ActionFailed,
	"TAKE_SCREENSHOT":   schemas.ActionScreenshot,
	"NOTIFICATIONS":     schemas.ActionOpenNotifications,
	"OPEN_NOTIFICATION": schemas.ActionOpenNotifications,
}

// aliasSeeds resolves synonyms whose name embeds a field value, not just a
// kind. The seed supplies that value as the decode fallback so "SWIPE_DOWN"
// swipes down and "BACK" presses the BACK key even when the object carries
// no direction or key field.
var aliasSeeds = map[string]schemas.Action{
	"SWIPE_UP":    {Kind: schemas.ActionSwipe, Direction: schemas.DirectionUp},
	"SWIPE_DOWN":  {Kind: schemas.ActionSwipe, Direction: schemas.DirectionDown},
	"SWIPE_LEFT":  {Kind: schemas.ActionSwipe, Direction: schemas.DirectionLeft},
	"SWIPE_RIGHT": {Kind: schemas.ActionSwipe, Direction: schemas.DirectionRight},
	"SCROLL_UP":   {Kind: schemas.ActionScroll, Direction: schemas.DirectionUp},
	"SCROLL_DOWN": {Kind: schemas.ActionScroll, Direction: schemas.DirectionDown},
	"BACK":        {Kind: schemas.ActionKeyPress, Key: "BACK"},
	"HOME":        {Kind: schemas.ActionKeyPress, Key: "HOME"},
}

var canonicalKinds = map[schemas.ActionKind]bool{
	schemas.ActionTap: true, schemas.ActionLongPress: true, schemas.ActionDoubleTap: true,
	schemas.ActionSwipe: true, schemas.ActionSwipeCustom: true, schemas.ActionScroll: true,
	schemas.ActionInputText: true, schemas.ActionClearText: true, schemas.ActionKeyPress: true,
	schemas.ActionOpenApp: true, schemas.ActionCloseApp: true, schemas.ActionOpenURL: true,
	schemas.ActionOpenSetting: true, schemas.ActionScreenshot: true, schemas.ActionCopy: true,
	schemas.ActionPaste: true, schemas.ActionOpenNotifications: true, schemas.ActionClearNotifications: true,
	schemas.ActionWait: true, schemas.ActionWaitForElement: true, schemas.ActionDescribeScreen: true,
	schemas.ActionAskUser: true, schemas.ActionFinished: true, schemas.ActionFailed: true,
}

// ParseDecision extracts a Decision from a raw backend response. Extraction
// order: fenced code block, then first balanced brace object, then the raw
// text. A structured-parse failure falls back to keyword sniffing; the worst
// case is a FAILED decision, never an error.
func ParseDecision(response string, logger *zap.Logger) schemas.Decision {
	response = strings.TrimSpace(response)

	jsonText := extractJSON(response)
	if jsonText == "" {
		return sniffDecision(response)
	}

	var raw struct {
		Thought   string                 `json:"thought"`
		Rationale string                 `json:"rationale"`
		Action    map[string]interface{} `json:"action"`
		Kind      string                 `json:"kind"`
		Type      string                 `json:"type"`
	}
	if err := json.UnmarshalFromString(jsonText, &raw); err != nil {
		logger.Warn("Failed to unmarshal backend response",
			zap.String("extracted_json", jsonText),
			zap.Error(err))
		return sniffDecision(response)
	}

	thought := raw.Thought
	if thought == "" {
		thought = raw.Rationale
	}

	fields := raw.Action
	if fields == nil {
		// Some responses put the action fields at the top level.
		var flat map[string]interface{}
		if err := json.UnmarshalFromString(jsonText, &flat); err != nil || (raw.Kind == "" && raw.Type == "") {
			return sniffDecision(response)
		}
		fields = flat
	}

	kind, seed := resolveKind(asString(fields, "kind", "type", "action_type"))
	action := decodeAction(kind, seed, fields)

	if thought == "" {
		thought = "no reasoning provided"
	}
	return schemas.Decision{Thought: thought, Action: action}
}

func extractJSON(response string) string {
	matches := jsonBlockRegex.FindStringSubmatch(response)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	firstBracket := strings.Index(response, "{")
	lastBracket := strings.LastIndex(response, "}")
	if firstBracket != -1 && lastBracket != -1 && lastBracket > firstBracket {
		return response[firstBracket : lastBracket+1]
	}

	if strings.HasPrefix(response, "{") {
		return response
	}
	return ""
}

// resolveKind uppercases the declared kind and resolves it through the
// canonical table, then the seed table, then the alias table. The seed, when
// non-zero, carries field values embedded in the synonym itself. Unrecognized
// kinds degrade to the terminal FAILED kind rather than throwing.
func resolveKind(declared string) (schemas.ActionKind, schemas.Action) {
	upper := schemas.ActionKind(strings.ToUpper(strings.TrimSpace(strings.ReplaceAll(declared, " ", "_"))))
	if canonicalKinds[upper] {
		return upper, schemas.Action{}
	}
	if seed, ok := aliasSeeds[string(upper)]; ok {
		return seed.Kind, seed
	}
	if alias, ok := kindAliases[string(upper)]; ok {
		return alias, schemas.Action{}
	}
	return schemas.ActionFailed, schemas.Action{}
}

// decodeAction applies the per-kind field-extraction rule with its defaults.
// Explicit fields win over the seed; the seed wins over the kind default.
func decodeAction(kind schemas.ActionKind, seed schemas.Action, fields map[string]interface{}) schemas.Action {
	action := schemas.Action{Kind: kind}

	switch kind {
	case schemas.ActionTap, schemas.ActionDoubleTap:
		action.X = asInt(fields, "x")
		action.Y = asInt(fields, "y")
		action.Target = asString(fields, "target", "element")

	case schemas.ActionLongPress:
		action.X = asInt(fields, "x")
		action.Y = asInt(fields, "y")
		action.Target = asString(fields, "target", "element")
		action.DurationMs = asIntDefault(fields, 800, "duration_ms", "duration")

	case schemas.ActionSwipe:
		action.Direction = normalizeDirection(asString(fields, "direction"), fallbackDirection(seed, schemas.DirectionUp))
		action.Distance = asInt(fields, "distance")
		action.DurationMs = asIntDefault(fields, 300, "duration_ms", "duration")

	case schemas.ActionSwipeCustom:
		action.X = asInt(fields, "x", "from_x", "start_x")
		action.Y = asInt(fields, "y", "from_y", "start_y")
		action.ToX = asInt(fields, "to_x", "end_x")
		action.ToY = asInt(fields, "to_y", "end_y")
		action.DurationMs = asIntDefault(fields, 300, "duration_ms", "duration")

	case schemas.ActionScroll:
		action.Direction = normalizeDirection(asString(fields, "direction"), fallbackDirection(seed, schemas.DirectionDown))
		action.Distance = asInt(fields, "distance")

	case schemas.ActionInputText:
		action.Text = asString(fields, "text", "value", "content")
		action.Target = asString(fields, "target", "element")

	case schemas.ActionKeyPress:
		action.Key = strings.ToUpper(asString(fields, "key", "keycode"))
		if action.Key == "" {
			action.Key = seed.Key
		}

	case schemas.ActionOpenApp, schemas.ActionCloseApp:
		action.App = asString(fields, "app", "app_name", "package", "package_name")

	case schemas.ActionOpenURL:
		action.URL = asString(fields, "url", "link")

	case schemas.ActionOpenSetting:
		action.Setting = asString(fields, "setting", "page")

	case schemas.ActionWait:
		action.DurationMs = asIntDefault(fields, 1000, "duration_ms", "duration", "ms")

	case schemas.ActionWaitForElement:
		action.Target = asString(fields, "target", "element", "text")
		action.TimeoutMs = asIntDefault(fields, 5000, "timeout_ms", "timeout")

	case schemas.ActionAskUser:
		action.Question = asString(fields, "question", "message", "text")
		if action.Question == "" {
			action.Question = "I need more information to continue. How should I proceed?"
		}

	case schemas.ActionFinished, schemas.ActionFailed:
		action.Message = asString(fields, "message", "reason", "text")
	}

	return action
}

// sniffDecision is the last-resort fallback when no structured object can be
// parsed: look for completion or failure language in the raw text.
func sniffDecision(response string) schemas.Decision {
	lower := strings.ToLower(response)

	completionWords := []string{"task complete", "task is complete", "finished", "successfully completed", "goal achieved", "done"}
	for _, w := range completionWords {
		if strings.Contains(lower, w) {
			return schemas.Decision{
				Thought: "unstructured response indicated completion",
				Action:  schemas.Action{Kind: schemas.ActionFinished, Message: firstLine(response)},
			}
		}
	}

	failureWords := []string{"cannot", "unable", "impossible", "failed", "give up"}
	for _, w := range failureWords {
		if strings.Contains(lower, w) {
			return schemas.FailedDecision("unstructured response indicated failure", firstLine(response))
		}
	}

	return schemas.FailedDecision(
		"backend response contained no parsable action",
		"unparsable reasoning output",
	)
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if idx := strings.IndexByte(s, '\n'); idx != -1 {
		s = s[:idx]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

func fallbackDirection(seed schemas.Action, def string) string {
	if seed.Direction != "" {
		return seed.Direction
	}
	return def
}

func normalizeDirection(dir, fallback string) string {
	switch strings.ToLower(strings.TrimSpace(dir)) {
	case schemas.DirectionUp:
		return schemas.DirectionUp
	case schemas.DirectionDown:
		return schemas.DirectionDown
	case schemas.DirectionLeft:
		return schemas.DirectionLeft
	case schemas.DirectionRight:
		return schemas.DirectionRight
	default:
		return fallback
	}
}

// asString returns the first non-empty string value among the given keys.
func asString(fields map[string]interface{}, keys ...string) string {
	for _, key := range keys {
		if v, ok := fields[key]; ok {
			switch s := v.(type) {
			case string:
				if s != "" {
					return s
				}
			case float64:
				return strconv.FormatFloat(s, 'f', -1, 64)
			}
		}
	}
	return ""
}

// asInt coerces a duck-typed JSON number (float64, int, or numeric string)
// for the first present key; absent or unusable values yield 0.
func asInt(fields map[string]interface{}, keys ...string) int {
	return asIntDefault(fields, 0, keys...)
}

func asIntDefault(fields map[string]interface{}, def int, keys ...string) int {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		switch n := v.(type) {
		case float64:
			return int(n)
		case int:
			return n
		case string:
			if parsed, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
				return parsed
			}
		}
	}
	return def
}
