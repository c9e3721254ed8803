package planner

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// StartExecution creates a fresh cursor over the plan. The plan itself is
// never mutated during execution.
func (p *Planner) StartExecution(plan *schemas.Plan) *schemas.PlanExecutionState {
	return &schemas.PlanExecutionState{Plan: plan}
}

// MarkStepComplete records the current step as done and advances the cursor.
func (p *Planner) MarkStepComplete(state *schemas.PlanExecutionState) {
	if state == nil || state.CurrentStep() == nil {
		return
	}
	state.CompletedSteps = append(state.CompletedSteps, state.CurrentStepIndex)
	state.CurrentStepIndex++
	state.RetryCount = 0
}

// MarkStepFailed increments the retry count for the current step and reports
// whether the per-step retry ceiling still has room. When the ceiling is
// exhausted the step is recorded as failed and the cursor advances.
func (p *Planner) MarkStepFailed(state *schemas.PlanExecutionState) (retryAllowed bool) {
	if state == nil || state.CurrentStep() == nil {
		return false
	}

	state.RetryCount++
	if state.RetryCount < p.cfg.MaxStepRetries {
		return true
	}

	p.logger.Warn("Plan step exhausted its retries",
		zap.Int("step", state.CurrentStepIndex),
		zap.Int("retries", state.RetryCount),
	)
	state.FailedSteps = append(state.FailedSteps, state.CurrentStepIndex)
	state.CurrentStepIndex++
	state.RetryCount = 0
	return false
}

// SkipOptionalStep advances past the current step only if it is optional.
func (p *Planner) SkipOptionalStep(state *schemas.PlanExecutionState) bool {
	step := state.CurrentStep()
	if step == nil || !step.IsOptional {
		return false
	}
	p.logger.Info("Skipping optional plan step", zap.Int("step", state.CurrentStepIndex))
	state.CurrentStepIndex++
	state.RetryCount = 0
	return true
}

// CurrentStepPrompt renders the plan progress for inclusion in decider
// prompts: every step in original order with its status, the active step
// marked.
func (p *Planner) CurrentStepPrompt(state *schemas.PlanExecutionState) string {
	if state == nil || state.Plan == nil || len(state.Plan.Steps) == 0 {
		return ""
	}

	completed := make(map[int]bool, len(state.CompletedSteps))
	for _, i := range state.CompletedSteps {
		completed[i] = true
	}
	failed := make(map[int]bool, len(state.FailedSteps))
	for _, i := range state.FailedSteps {
		failed[i] = true
	}

	var sb strings.Builder
	sb.WriteString("Plan progress:\n")
	for _, step := range state.Plan.Steps {
		marker := "[ ]"
		switch {
		case completed[step.Index]:
			marker = "[x]"
		case failed[step.Index]:
			marker = "[!]"
		case step.Index == state.CurrentStepIndex:
			marker = "[>]"
		}
		fmt.Fprintf(&sb, "  %s %d. %s\n", marker, step.Index+1, step.Description)
	}
	return sb.String()
}
