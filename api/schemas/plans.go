package schemas

import "time"

// PlanComplexity classifies how demanding a plan is expected to be. The
// planner assigns it up front so the engine can budget steps accordingly.
type PlanComplexity string

const (
	ComplexitySimple   PlanComplexity = "SIMPLE"
	ComplexityModerate PlanComplexity = "MODERATE"
	ComplexityComplex  PlanComplexity = "COMPLEX"
)

// PlanStep is one ordered entry in a pre-computed plan. Steps are immutable
// once the plan is created; execution progress lives in PlanExecutionState.
type PlanStep struct {
	Index                 int    `json:"index"`
	Description           string `json:"description"`
	ExpectedAction        string `json:"expected_action,omitempty"` // Suggested ActionKind, advisory only.
	TargetElement         string `json:"target_element,omitempty"`
	InputData             string `json:"input_data,omitempty"`
	VerificationCondition string `json:"verification_condition,omitempty"`
	IsOptional            bool   `json:"is_optional,omitempty"`
	Fallback              string `json:"fallback,omitempty"`
}

// Plan is the ordered skeleton of expected steps toward a goal, produced
// once per task (or re-produced on mid-task adjustment). Sensitive
// operations must arrive with RequiresConfirmation set.
type Plan struct {
	ID                   string         `json:"id"`
	OriginalGoal         string         `json:"original_goal"`
	RefinedGoal          string         `json:"refined_goal,omitempty"`
	Steps                []PlanStep     `json:"steps"`
	TargetApp            string         `json:"target_app,omitempty"`
	Complexity           PlanComplexity `json:"complexity"`
	RequiresConfirmation bool           `json:"requires_confirmation,omitempty"`
	Risks                []string       `json:"risks,omitempty"`
	Preconditions        []string       `json:"preconditions,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
}

// PlanExecutionState is the mutable cursor over a Plan. It is owned
// exclusively by the engine; one instance exists per active task.
type PlanExecutionState struct {
	Plan             *Plan `json:"plan"`
	CurrentStepIndex int   `json:"current_step_index"`
	CompletedSteps   []int `json:"completed_steps"`
	FailedSteps      []int `json:"failed_steps"`
	RetryCount       int   `json:"retry_count"` // Retries spent on the current step.
}

// CurrentStep returns the step under the cursor, or nil when the plan is
// exhausted.
func (s *PlanExecutionState) CurrentStep() *PlanStep {
	if s == nil || s.Plan == nil || s.CurrentStepIndex < 0 || s.CurrentStepIndex >= len(s.Plan.Steps) {
		return nil
	}
	return &s.Plan.Steps[s.CurrentStepIndex]
}

// Completed reports whether every step has been passed, either completed or
// skipped past.
func (s *PlanExecutionState) Completed() bool {
	return s != nil && s.Plan != nil && s.CurrentStepIndex >= len(s.Plan.Steps)
}
