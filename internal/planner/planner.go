// Package planner produces the pre-computed step skeleton for a goal and
// owns the execution cursor over it. Like the decider, it never fails the
// caller: an unreachable backend or unparsable response degrades to a
// deterministic keyword-derived plan, so the engine always receives a usable
// Plan.
package planner

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var jsonBlockRegex = regexp.MustCompile(fmt.Sprintf("(?s)%s(?:json)?\\s*(.*?)\\s*%s", "```", "```"))

// Planner builds plans via the reasoning backend with a deterministic
// fallback, and manages per-plan execution state.
type Planner struct {
	llmClient schemas.LLMClient
	cfg       config.PlannerConfig
	logger    *zap.Logger
}

// New creates a Planner.
func New(llmClient schemas.LLMClient, cfg config.PlannerConfig, logger *zap.Logger) *Planner {
	return &Planner{
		llmClient: llmClient,
		cfg:       cfg,
		logger:    logger.Named("planner"),
	}
}

const planSystemPrompt = `You are a task planner for an autonomous phone operator.
Given a user goal, produce a structured multi-step plan as a single JSON object:
{
  "refined_goal": "<restated goal>",
  "target_app": "<app name if one app is clearly involved, else empty>",
  "complexity": "SIMPLE" | "MODERATE" | "COMPLEX",
  "requires_confirmation": <true for payments, transfers, deletions, purchases>,
  "risks": ["<risk>", ...],
  "preconditions": ["<precondition>", ...],
  "steps": [
    {
      "description": "<what to do>",
      "expected_action": "<likely action kind, e.g. TAP, INPUT_TEXT, OPEN_APP>",
      "target_element": "<what to interact with>",
      "input_data": "<text to type, if any>",
      "verification_condition": "<how to tell the step worked>",
      "is_optional": <true if the task can succeed without this step>,
      "fallback": "<alternative approach if the step fails>"
    }
  ]
}
Keep plans short and concrete. Respond with the JSON object only.`

// Plan produces a plan for the goal. memoryContext may carry working and
// long-term memory digests; pass "" when none apply.
func (p *Planner) Plan(ctx context.Context, goal, memoryContext string) *schemas.Plan {
	userPrompt := fmt.Sprintf("Goal: %s", goal)
	if memoryContext != "" {
		userPrompt += "\n\nRelevant context from previous tasks:\n" + memoryContext
	}

	response, err := p.llmClient.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.3},
	})
	if err != nil {
		p.logger.Warn("Planning backend unavailable, using fallback planner", zap.Error(err))
		return p.fallbackPlan(goal)
	}

	plan, err := p.parsePlan(goal, response)
	if err != nil {
		p.logger.Warn("Unparsable plan response, using fallback planner", zap.Error(err))
		return p.fallbackPlan(goal)
	}

	p.logger.Info("Plan generated",
		zap.String("plan_id", plan.ID),
		zap.Int("steps", len(plan.Steps)),
		zap.String("complexity", string(plan.Complexity)),
	)
	return plan
}

// AdjustPlan re-invokes the backend mid-task to replace the remaining steps
// when the engine detects persistent drift from the plan. The original plan
// is not mutated; completed steps are carried into the replacement.
func (p *Planner) AdjustPlan(ctx context.Context, state *schemas.PlanExecutionState, reason, snapshotSummary string) *schemas.Plan {
	if state == nil || state.Plan == nil {
		return nil
	}
	old := state.Plan

	var done []string
	for _, idx := range state.CompletedSteps {
		if idx >= 0 && idx < len(old.Steps) {
			done = append(done, old.Steps[idx].Description)
		}
	}

	userPrompt := fmt.Sprintf(`Goal: %s

The plan in progress has drifted and needs its remaining steps replaced.
Drift reason: %s
Current screen: %s
Steps already completed:
%s

Produce a fresh plan covering only what remains.`,
		old.OriginalGoal, reason, snapshotSummary, bulletList(done))

	response, err := p.llmClient.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: planSystemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.3},
	})
	if err != nil {
		p.logger.Warn("Plan adjustment backend call failed, keeping current plan", zap.Error(err))
		return nil
	}

	plan, err := p.parsePlan(old.OriginalGoal, response)
	if err != nil {
		p.logger.Warn("Plan adjustment response unparsable, keeping current plan", zap.Error(err))
		return nil
	}

	plan.RequiresConfirmation = plan.RequiresConfirmation || old.RequiresConfirmation
	p.logger.Info("Plan adjusted", zap.String("old_plan_id", old.ID), zap.String("new_plan_id", plan.ID))
	return plan
}

// planPayload mirrors the backend's JSON shape before it is normalized into
// a schemas.Plan.
type planPayload struct {
	RefinedGoal          string   `json:"refined_goal"`
	TargetApp            string   `json:"target_app"`
	Complexity           string   `json:"complexity"`
	RequiresConfirmation bool     `json:"requires_confirmation"`
	Risks                []string `json:"risks"`
	Preconditions        []string `json:"preconditions"`
	Steps                []struct {
		Description           string `json:"description"`
		ExpectedAction        string `json:"expected_action"`
		TargetElement         string `json:"target_element"`
		InputData             string `json:"input_data"`
		VerificationCondition string `json:"verification_condition"`
		IsOptional            bool   `json:"is_optional"`
		Fallback              string `json:"fallback"`
	} `json:"steps"`
}

func (p *Planner) parsePlan(goal, response string) (*schemas.Plan, error) {
	jsonText := extractJSON(response)
	if jsonText == "" {
		return nil, fmt.Errorf("no JSON object in planning response")
	}

	var payload planPayload
	if err := json.UnmarshalFromString(jsonText, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal plan: %w", err)
	}
	if len(payload.Steps) == 0 {
		return nil, fmt.Errorf("plan has no steps")
	}

	maxSteps := p.cfg.MaxPlanSteps
	if maxSteps > 0 && len(payload.Steps) > maxSteps {
		payload.Steps = payload.Steps[:maxSteps]
	}

	plan := &schemas.Plan{
		ID:                   uuid.NewString(),
		OriginalGoal:         goal,
		RefinedGoal:          payload.RefinedGoal,
		TargetApp:            payload.TargetApp,
		Complexity:           normalizeComplexity(payload.Complexity),
		RequiresConfirmation: payload.RequiresConfirmation,
		Risks:                payload.Risks,
		Preconditions:        payload.Preconditions,
		CreatedAt:            time.Now().UTC(),
	}

	for i, s := range payload.Steps {
		plan.Steps = append(plan.Steps, schemas.PlanStep{
			Index:                 i,
			Description:           s.Description,
			ExpectedAction:        strings.ToUpper(s.ExpectedAction),
			TargetElement:         s.TargetElement,
			InputData:             s.InputData,
			VerificationCondition: s.VerificationCondition,
			IsOptional:            s.IsOptional,
			Fallback:              s.Fallback,
		})
	}

	// Sensitive operations require confirmation no matter what the backend
	// decided.
	if p.isSensitiveGoal(goal) {
		plan.RequiresConfirmation = true
	}

	return plan, nil
}

// isSensitiveGoal matches the configured sensitive keywords against the goal.
func (p *Planner) isSensitiveGoal(goal string) bool {
	lower := strings.ToLower(goal)
	for _, kw := range p.cfg.SensitiveKeywords {
		if kw != "" && strings.Contains(lower, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

func extractJSON(response string) string {
	response = strings.TrimSpace(response)
	if matches := jsonBlockRegex.FindStringSubmatch(response); len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}
	first := strings.Index(response, "{")
	last := strings.LastIndex(response, "}")
	if first != -1 && last > first {
		return response[first : last+1]
	}
	return ""
}

func normalizeComplexity(c string) schemas.PlanComplexity {
	switch schemas.PlanComplexity(strings.ToUpper(strings.TrimSpace(c))) {
	case schemas.ComplexitySimple:
		return schemas.ComplexitySimple
	case schemas.ComplexityComplex:
		return schemas.ComplexityComplex
	default:
		return schemas.ComplexityModerate
	}
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "  (none)"
	}
	var sb strings.Builder
	for _, it := range items {
		fmt.Fprintf(&sb, "  - %s\n", it)
	}
	return sb.String()
}
