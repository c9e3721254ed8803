package planner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

func threeStepPlan() *schemas.Plan {
	return &schemas.Plan{
		ID:           "p1",
		OriginalGoal: "g",
		Steps: []schemas.PlanStep{
			{Index: 0, Description: "first"},
			{Index: 1, Description: "second", IsOptional: true},
			{Index: 2, Description: "third"},
		},
	}
}

func newTestPlanner(t *testing.T) *Planner {
	return New(&fakeLLM{}, testPlannerConfig(), zaptest.NewLogger(t))
}

func TestExecution_CompleteAdvancesCursor(t *testing.T) {
	p := newTestPlanner(t)
	state := p.StartExecution(threeStepPlan())

	require.NotNil(t, state.CurrentStep())
	assert.Equal(t, "first", state.CurrentStep().Description)

	p.MarkStepComplete(state)
	assert.Equal(t, "second", state.CurrentStep().Description)
	assert.Equal(t, []int{0}, state.CompletedSteps)

	p.MarkStepComplete(state)
	p.MarkStepComplete(state)
	assert.True(t, state.Completed())
	assert.Nil(t, state.CurrentStep())

	// Completing past the end is a no-op.
	p.MarkStepComplete(state)
	assert.Len(t, state.CompletedSteps, 3)
}

func TestExecution_FailedStepRetriesThenAdvances(t *testing.T) {
	p := newTestPlanner(t) // MaxStepRetries = 3
	state := p.StartExecution(threeStepPlan())

	assert.True(t, p.MarkStepFailed(state))
	assert.True(t, p.MarkStepFailed(state))
	assert.Equal(t, 0, state.CurrentStepIndex, "cursor holds while retries remain")

	assert.False(t, p.MarkStepFailed(state), "third failure exhausts the ceiling")
	assert.Equal(t, []int{0}, state.FailedSteps)
	assert.Equal(t, 1, state.CurrentStepIndex)
	assert.Equal(t, 0, state.RetryCount, "retry count resets for the next step")
}

func TestExecution_SkipOptionalStep(t *testing.T) {
	p := newTestPlanner(t)
	state := p.StartExecution(threeStepPlan())

	assert.False(t, p.SkipOptionalStep(state), "first step is not optional")

	p.MarkStepComplete(state)
	assert.True(t, p.SkipOptionalStep(state), "second step is optional")
	assert.Equal(t, "third", state.CurrentStep().Description)
}

func TestCurrentStepPrompt_PreservesOrder(t *testing.T) {
	p := newTestPlanner(t)
	state := p.StartExecution(threeStepPlan())
	p.MarkStepComplete(state)

	prompt := p.CurrentStepPrompt(state)
	assert.Contains(t, prompt, "[x] 1. first")
	assert.Contains(t, prompt, "[>] 2. second")
	assert.Contains(t, prompt, "[ ] 3. third")

	firstIdx := indexOf(prompt, "first")
	secondIdx := indexOf(prompt, "second")
	thirdIdx := indexOf(prompt, "third")
	assert.Less(t, firstIdx, secondIdx)
	assert.Less(t, secondIdx, thirdIdx)
}

func TestCurrentStepPrompt_RoundTripFromPlannerResponse(t *testing.T) {
	llm := &fakeLLM{response: wellFormedPlanResponse}
	p := New(llm, testPlannerConfig(), zaptest.NewLogger(t))

	plan := p.Plan(context.Background(), "enable dark mode", "")
	state := p.StartExecution(plan)
	prompt := p.CurrentStepPrompt(state)

	prev := -1
	for _, desc := range []string{"Open Settings", "Tap Display", "Enable dark mode"} {
		idx := indexOf(prompt, desc)
		require.GreaterOrEqual(t, idx, 0, "step %q present", desc)
		assert.Greater(t, idx, prev, "step %q in original order", desc)
		prev = idx
	}
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}
	return -1
}
