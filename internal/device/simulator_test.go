package device

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

func newSim(t *testing.T) *Simulator {
	t.Helper()
	sim, err := NewSimulator(config.DeviceConfig{}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return sim
}

func TestCaptureSnapshotReflectsCurrentScreen(t *testing.T) {
	sim := newSim(t)

	snap, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.sim.launcher", snap.ForegroundApp)
	assert.Equal(t, "launcher", snap.Page)
	assert.False(t, snap.Degraded)
	assert.Contains(t, snap.ElementTexts(), "Settings")
}

func TestCaptureSnapshotIsolatesCallers(t *testing.T) {
	sim := newSim(t)

	first, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	second, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(first.Elements, second.Elements); diff != "" {
		t.Fatalf("snapshots of an unchanged screen differ (-first +second):\n%s", diff)
	}

	// Mutating one capture must not leak into later ones.
	first.Elements[0].Text = "mutated"
	third, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	if diff := cmp.Diff(second.Elements, third.Elements); diff != "" {
		t.Fatalf("capture state leaked between snapshots:\n%s", diff)
	}
}

func TestTapTransitionFollowsScript(t *testing.T) {
	sim := newSim(t)

	// Center of the Settings icon.
	result, err := sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionTap, X: 180, Y: 360,
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "settings", sim.CurrentScreen())

	snap, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.sim.settings", snap.ForegroundApp)
}

func TestOpenAppTransition(t *testing.T) {
	sim := newSim(t)

	result, err := sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionOpenApp, App: "settings",
	})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "settings", sim.CurrentScreen())

	// Unknown apps fail instead of silently landing somewhere.
	result, err = sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionOpenApp, App: "nonexistent",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestBackKeyPopsHistory(t *testing.T) {
	sim := newSim(t)

	_, err := sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionOpenApp, App: "settings"})
	require.NoError(t, err)
	_, err = sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionTap, X: 360, Y: 250})
	require.NoError(t, err)
	require.Equal(t, "settings-wifi", sim.CurrentScreen())

	result, err := sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyBack})
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "settings", sim.CurrentScreen())

	// Back on the initial screen has nothing to pop.
	_, err = sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyBack})
	require.NoError(t, err)
	result, err = sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionKeyPress, Key: schemas.KeyBack})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestInputTextFillsEditableField(t *testing.T) {
	sim := newSim(t)

	_, err := sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionOpenApp, App: "messages"})
	require.NoError(t, err)

	result, err := sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionInputText, Text: "on my way",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	snap, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	assert.Contains(t, snap.ElementTexts(), "on my way")

	// Clearing restores the empty field.
	result, err = sim.ExecuteAction(context.Background(), schemas.Action{Kind: schemas.ActionClearText})
	require.NoError(t, err)
	require.True(t, result.Success)
	snap, err = sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, snap.ElementTexts(), "on my way")
}

func TestInputTextFailsWithoutEditableField(t *testing.T) {
	sim := newSim(t)

	result, err := sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionInputText, Text: "hello",
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
}

func TestTapMissesEmptySpace(t *testing.T) {
	sim := newSim(t)

	result, err := sim.ExecuteAction(context.Background(), schemas.Action{
		Kind: schemas.ActionTap, X: 700, Y: 1200,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, "home", sim.CurrentScreen())
}

func TestLatencyHonorsContextCancellation(t *testing.T) {
	sim, err := NewSimulator(config.DeviceConfig{Latency: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = sim.CaptureSnapshot(ctx)
	require.Error(t, err)
}

func TestLoadScriptFromFile(t *testing.T) {
	script := `{
		"initial": "only",
		"screens": [
			{
				"id": "only",
				"app": "com.sim.custom",
				"page": "custom/root",
				"elements": [
					{"id": "b", "kind": "BUTTON", "text": "Go", "bounds": {"left": 0, "top": 0, "right": 100, "bottom": 100}, "clickable": true}
				]
			}
		]
	}`
	path := filepath.Join(t.TempDir(), "script.json")
	require.NoError(t, os.WriteFile(path, []byte(script), 0o644))

	sim, err := NewSimulator(config.DeviceConfig{ScriptPath: path}, zaptest.NewLogger(t))
	require.NoError(t, err)

	snap, err := sim.CaptureSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "com.sim.custom", snap.ForegroundApp)
}

func TestScriptValidation(t *testing.T) {
	logger := zaptest.NewLogger(t)

	_, err := NewSimulatorFromScript(&Script{}, 0, logger)
	require.Error(t, err)

	_, err = NewSimulatorFromScript(&Script{
		Initial: "missing",
		Screens: []Screen{{ID: "a", App: "x"}},
	}, 0, logger)
	require.Error(t, err)

	_, err = NewSimulatorFromScript(&Script{
		Screens: []Screen{{ID: "a", App: "x", Transitions: []Transition{{OnKind: schemas.ActionTap, To: "nowhere"}}}},
	}, 0, logger)
	require.Error(t, err)
}
