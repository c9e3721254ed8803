package verifier

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

func testVerifierConfig() config.VerifierConfig {
	return config.VerifierConfig{
		SignatureTolerancePx:  20,
		FailureWindow:         2 * time.Minute,
		RetryCeiling:          3,
		ElementCountTolerance: 2,
		KeyboardShiftPx:       100,
	}
}

func newTestVerifier(t *testing.T) *Verifier {
	return New(testVerifierConfig(), zaptest.NewLogger(t))
}

func snapshotWith(app string, texts ...string) *schemas.Snapshot {
	s := &schemas.Snapshot{ForegroundApp: app}
	for i, text := range texts {
		s.Elements = append(s.Elements, schemas.Element{
			Kind:   schemas.ElementText,
			Text:   text,
			Bounds: schemas.Bounds{Left: 0, Top: i * 100, Right: 200, Bottom: i*100 + 80},
		})
	}
	return s
}

func TestVerify_OpenApp_ExactForegroundMatch(t *testing.T) {
	v := newTestVerifier(t)
	after := snapshotWith("com.android.settings", "Network", "Display")

	result := v.Verify(schemas.Action{Kind: schemas.ActionOpenApp, App: "Settings"}, snapshotWith("launcher"), after, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestVerify_OpenApp_ChooserDetected(t *testing.T) {
	v := newTestVerifier(t)
	after := snapshotWith("com.android.intentresolver", "Open with")

	result := v.Verify(schemas.Action{Kind: schemas.ActionOpenApp, App: "Maps"}, snapshotWith("launcher"), after, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 0.5, result.Confidence)
	assert.Contains(t, result.Message, "chooser")
}

func TestVerify_OpenApp_HomeScreenIsChooserFailure(t *testing.T) {
	v := newTestVerifier(t)
	after := snapshotWith("com.sec.android.app.homescreen", "Apps", "Widgets")

	result := v.Verify(schemas.Action{Kind: schemas.ActionOpenApp, App: "Maps"}, snapshotWith("launcher"), after, nil)

	assert.False(t, result.Success)
	assert.Equal(t, 0.5, result.Confidence)
}

func TestVerify_OpenApp_FuzzyMatch(t *testing.T) {
	v := newTestVerifier(t)
	after := snapshotWith("com.google.android.apps.maps")

	result := v.Verify(schemas.Action{Kind: schemas.ActionOpenApp, App: "Google Maps"}, nil, after, nil)
	assert.True(t, result.Success)
}

func TestVerify_CloseApp(t *testing.T) {
	v := newTestVerifier(t)

	result := v.Verify(schemas.Action{Kind: schemas.ActionCloseApp, App: "Settings"},
		snapshotWith("com.android.settings"), snapshotWith("com.android.launcher"), nil)
	assert.True(t, result.Success)

	result = v.Verify(schemas.Action{Kind: schemas.ActionCloseApp, App: "Settings"},
		snapshotWith("com.android.settings"), snapshotWith("com.android.settings"), nil)
	assert.False(t, result.Success)
}

func TestVerify_InputText_EditableSubstringMatch(t *testing.T) {
	v := newTestVerifier(t)
	after := &schemas.Snapshot{
		ForegroundApp: "com.app",
		Elements: []schemas.Element{
			{Kind: schemas.ElementInput, Text: "the weather today", Editable: true},
		},
	}

	result := v.Verify(schemas.Action{Kind: schemas.ActionInputText, Text: "weather"}, nil, after, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestVerify_InputText_NonEditableMatchIsPartial(t *testing.T) {
	v := newTestVerifier(t)
	after := snapshotWith("com.app", "weather forecast")

	result := v.Verify(schemas.Action{Kind: schemas.ActionInputText, Text: "weather"}, nil, after, nil)

	assert.True(t, result.Success)
	assert.Less(t, result.Confidence, 1.0)
}

func TestVerify_ClearText(t *testing.T) {
	v := newTestVerifier(t)
	before := &schemas.Snapshot{Elements: []schemas.Element{{Text: "hello world", Editable: true}}}
	cleared := &schemas.Snapshot{Elements: []schemas.Element{{Text: "", Editable: true}}}

	result := v.Verify(schemas.Action{Kind: schemas.ActionClearText}, before, cleared, nil)
	assert.True(t, result.Success)

	result = v.Verify(schemas.Action{Kind: schemas.ActionClearText}, before, before, nil)
	assert.False(t, result.Success)
}

func TestVerify_Tap_StateChangeIsFullConfidence(t *testing.T) {
	v := newTestVerifier(t)
	before := snapshotWith("com.app", "Home", "Profile")
	after := snapshotWith("com.app", "Profile details", "Edit", "Back")

	result := v.Verify(schemas.Action{Kind: schemas.ActionTap, X: 100, Y: 40}, before, after, nil)

	assert.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)
}

func TestVerify_Tap_NoChangeIsLowConfidenceSuccess(t *testing.T) {
	v := newTestVerifier(t)
	snap := snapshotWith("com.app", "Home", "Profile")

	result := v.Verify(schemas.Action{Kind: schemas.ActionTap, X: 100, Y: 40}, snap, snap, nil)

	assert.True(t, result.Success, "no visible effect is ambiguous, not a failure")
	assert.Less(t, result.Confidence, 0.5)
}

func TestVerify_Tap_KeyboardShiftHeuristic(t *testing.T) {
	v := newTestVerifier(t)
	before := &schemas.Snapshot{ForegroundApp: "com.app", Elements: []schemas.Element{
		{Text: "Search", Bounds: schemas.Bounds{Top: 800, Bottom: 880}},
	}}
	after := &schemas.Snapshot{ForegroundApp: "com.app", Elements: []schemas.Element{
		{Text: "Search", Bounds: schemas.Bounds{Top: 300, Bottom: 380}},
	}}

	result := v.Verify(schemas.Action{Kind: schemas.ActionTap, X: 10, Y: 840, Target: "search bar"}, before, after, nil)

	assert.True(t, result.Success)
	assert.GreaterOrEqual(t, result.Confidence, 0.9)
}

func TestVerify_Scroll_TextSetDiff(t *testing.T) {
	v := newTestVerifier(t)
	before := snapshotWith("com.app", "Item 1", "Item 2", "Item 3")
	after := snapshotWith("com.app", "Item 2", "Item 3", "Item 4")

	result := v.Verify(schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.DirectionDown}, before, after, nil)
	assert.True(t, result.Success)
	assert.Equal(t, 1.0, result.Confidence)

	// Unchanged content is an assumed edge, still a (low confidence) success.
	result = v.Verify(schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.DirectionDown}, before, before, nil)
	assert.True(t, result.Success)
	assert.Less(t, result.Confidence, 0.5)
}

func TestVerify_PressBackAndHome(t *testing.T) {
	v := newTestVerifier(t)

	result := v.Verify(schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyBack},
		snapshotWith("com.app.detail"), snapshotWith("com.app"), nil)
	assert.True(t, result.Success)

	result = v.Verify(schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyHome},
		snapshotWith("com.app"), snapshotWith("com.android.launcher"), nil)
	assert.True(t, result.Success)

	result = v.Verify(schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyHome},
		snapshotWith("com.app"), snapshotWith("com.app"), nil)
	assert.False(t, result.Success)
}

func TestVerify_WaitAndTerminalAlwaysSucceed(t *testing.T) {
	v := newTestVerifier(t)
	for _, kind := range []schemas.ActionKind{schemas.ActionWait, schemas.ActionFinished, schemas.ActionFailed, schemas.ActionAskUser} {
		result := v.Verify(schemas.Action{Kind: kind}, nil, nil, nil)
		assert.True(t, result.Success, "kind %s requires no verification", kind)
	}
}

func TestVerify_DegradedAfterSnapshot(t *testing.T) {
	v := newTestVerifier(t)
	result := v.Verify(schemas.Action{Kind: schemas.ActionTap, X: 1, Y: 2}, snapshotWith("com.app"), schemas.EmptySnapshot(), nil)

	assert.True(t, result.Success)
	assert.Less(t, result.Confidence, 0.5)
}

func TestStateChanged_ElementCountTolerance(t *testing.T) {
	v := newTestVerifier(t)
	before := snapshotWith("com.app", "A", "B", "C")
	// Two extra elements sits inside the tolerance; the text-set check still
	// catches the difference, so strip texts to isolate the count check.
	after := &schemas.Snapshot{ForegroundApp: "com.app", Elements: make([]schemas.Element, 5)}
	bare := &schemas.Snapshot{ForegroundApp: "com.app", Elements: make([]schemas.Element, 3)}

	changed, _ := v.stateChanged(bare, after)
	assert.False(t, changed, "count diff of 2 is within tolerance")

	after.Elements = make([]schemas.Element, 6)
	changed, _ = v.stateChanged(bare, after)
	assert.True(t, changed)

	changed, _ = v.stateChanged(before, before)
	assert.False(t, changed)
}

func TestFailureHistory(t *testing.T) {
	v := newTestVerifier(t)
	tap := schemas.Action{Kind: schemas.ActionTap, X: 100, Y: 200}

	assert.Equal(t, 0, v.FailureCount(tap))

	v.RecordFailure(tap)
	v.RecordFailure(schemas.Action{Kind: schemas.ActionTap, X: 104, Y: 198}) // same bucket
	assert.Equal(t, 2, v.FailureCount(tap))

	other := schemas.Action{Kind: schemas.ActionTap, X: 500, Y: 500}
	assert.Equal(t, 0, v.FailureCount(other))

	v.ClearFailureHistory()
	assert.Equal(t, 0, v.FailureCount(tap))
}

func TestFailureHistory_WindowExpiry(t *testing.T) {
	v := newTestVerifier(t)
	current := time.Now()
	v.now = func() time.Time { return current }

	tap := schemas.Action{Kind: schemas.ActionTap, X: 1, Y: 1}
	v.RecordFailure(tap)
	require.Equal(t, 1, v.FailureCount(tap))

	current = current.Add(3 * time.Minute)
	assert.Equal(t, 0, v.FailureCount(tap), "failures expire outside the window")
}
