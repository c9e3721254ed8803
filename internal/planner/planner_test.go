package planner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

type fakeLLM struct {
	response string
	err      error
	lastReq  schemas.GenerationRequest
}

func (f *fakeLLM) Generate(_ context.Context, req schemas.GenerationRequest) (string, error) {
	f.lastReq = req
	return f.response, f.err
}

func testPlannerConfig() config.PlannerConfig {
	return config.PlannerConfig{
		MaxPlanSteps:   10,
		MaxStepRetries: 3,
		KnownApps: map[string]string{
			"settings": "com.android.settings",
			"maps":     "com.google.android.apps.maps",
		},
		SensitiveKeywords: []string{"pay", "payment", "transfer", "delete"},
	}
}

const wellFormedPlanResponse = `{
  "refined_goal": "Open the Settings app and enable dark mode",
  "target_app": "settings",
  "complexity": "SIMPLE",
  "requires_confirmation": false,
  "steps": [
    {"description": "Open Settings", "expected_action": "open_app", "target_element": "Settings", "verification_condition": "Settings in foreground"},
    {"description": "Tap Display", "expected_action": "tap", "target_element": "Display row"},
    {"description": "Enable dark mode", "expected_action": "tap", "target_element": "Dark theme switch", "is_optional": false}
  ]
}`

func TestPlan_WellFormedResponse(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "enable dark mode", "")
	require.NotNil(t, plan)
	assert.Len(t, plan.Steps, 3)
	assert.Equal(t, "enable dark mode", plan.OriginalGoal)
	assert.Equal(t, schemas.ComplexitySimple, plan.Complexity)
	assert.Equal(t, "OPEN_APP", plan.Steps[0].ExpectedAction)
	for i, step := range plan.Steps {
		assert.Equal(t, i, step.Index)
	}
}

func TestPlan_BackendErrorFallsBack(t *testing.T) {
	llm := &fakeLLM{err: errors.New("quota exceeded")}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "open settings and check storage", "")
	require.NotNil(t, plan, "engine must always receive a usable plan")
	require.NotEmpty(t, plan.Steps)
	assert.Equal(t, "settings", plan.TargetApp)
}

func TestPlan_UnparsableResponseFallsBack(t *testing.T) {
	llm := &fakeLLM{response: "I think you should just do it manually."}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "search for coffee shops in maps", "")
	require.NotNil(t, plan)
	require.NotEmpty(t, plan.Steps)
	// Search intent produces the search skeleton.
	assert.Contains(t, plan.Steps[0].Description, "Open")
}

func TestPlan_SensitiveGoalForcesConfirmation(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse} // backend said false
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "delete all my photos", "")
	require.NotNil(t, plan)
	assert.True(t, plan.RequiresConfirmation)
}

func TestPlan_MemoryContextIncludedInPrompt(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	p.Plan(context.Background(), "goal", "Previously used Settings for display tasks.")
	assert.Contains(t, llm.lastReq.UserPrompt, "Previously used Settings")
}

func TestPlan_TruncatesToMaxSteps(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.MaxPlanSteps = 2
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, cfg, zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "goal", "")
	require.NotNil(t, plan)
	assert.Len(t, plan.Steps, 2)
}

func TestFallbackPlan_LongestAppNameWins(t *testing.T) {
	cfg := testPlannerConfig()
	cfg.KnownApps["google maps"] = "com.google.android.apps.maps"
	p := New(&fakeLLM{err: errors.New("down")}, cfg, zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "open google maps", "")
	require.NotNil(t, plan)
	assert.Equal(t, "google maps", plan.TargetApp)
}

func TestAdjustPlan_ReplacesRemainingSteps(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	original := p.Plan(context.Background(), "enable dark mode", "")
	state := p.StartExecution(original)
	p.MarkStepComplete(state)

	llm.response = `{"refined_goal": "recover", "complexity": "MODERATE", "steps": [{"description": "Go back", "expected_action": "key_press"}]}`
	adjusted := p.AdjustPlan(context.Background(), state, "unexpected dialog", "app=com.android.settings elements=4")

	require.NotNil(t, adjusted)
	assert.NotEqual(t, original.ID, adjusted.ID)
	assert.Len(t, adjusted.Steps, 1)
	assert.Contains(t, llm.lastReq.UserPrompt, "unexpected dialog")
	assert.Contains(t, llm.lastReq.UserPrompt, "Open Settings", "completed steps are reported")
}

func TestAdjustPlan_BackendFailureKeepsCurrentPlan(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	original := p.Plan(context.Background(), "enable dark mode", "")
	state := p.StartExecution(original)

	llm.err = errors.New("down")
	assert.Nil(t, p.AdjustPlan(context.Background(), state, "drift", "summary"))
}
