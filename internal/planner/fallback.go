package planner

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// fallbackPlan derives a plan from keyword matching when the backend is
// unavailable or its answer is unusable. It is deliberately dumb and
// deterministic; the decider compensates for skeleton-level vagueness at
// execution time.
func (p *Planner) fallbackPlan(goal string) *schemas.Plan {
	lower := strings.ToLower(goal)
	targetApp := p.detectApp(lower)

	var steps []schemas.PlanStep
	switch {
	case containsAny(lower, "search", "find", "look up", "look for"):
		steps = searchSkeleton(targetApp, goal)
	case containsAny(lower, "send", "message", "text", "reply"):
		steps = messageSkeleton(targetApp)
	case targetApp != "":
		steps = openAppSkeleton(targetApp, goal)
	default:
		steps = genericSkeleton(goal)
	}

	for i := range steps {
		steps[i].Index = i
	}

	plan := &schemas.Plan{
		ID:                   uuid.NewString(),
		OriginalGoal:         goal,
		RefinedGoal:          goal,
		TargetApp:            targetApp,
		Steps:                steps,
		Complexity:           schemas.ComplexitySimple,
		RequiresConfirmation: p.isSensitiveGoal(goal),
		CreatedAt:            time.Now().UTC(),
	}

	p.logger.Info("Fallback plan derived from keywords",
		zap.String("plan_id", plan.ID),
		zap.String("target_app", targetApp),
		zap.Int("steps", len(steps)),
	)
	return plan
}

// detectApp finds the configured app whose name appears in the goal,
// preferring the longest match so "google maps" beats "maps". Keys of
// KnownApps are lowercase app names, values are package identifiers.
func (p *Planner) detectApp(lowerGoal string) string {
	var best string
	for name := range p.cfg.KnownApps {
		if !strings.Contains(lowerGoal, name) {
			continue
		}
		if len(name) > len(best) || (len(name) == len(best) && name < best) {
			best = name
		}
	}
	return best
}

func searchSkeleton(app, goal string) []schemas.PlanStep {
	openTarget := app
	if openTarget == "" {
		openTarget = "browser"
	}
	return []schemas.PlanStep{
		{
			Description:           "Open " + openTarget,
			ExpectedAction:        string(schemas.ActionOpenApp),
			TargetElement:         openTarget,
			VerificationCondition: openTarget + " is in the foreground",
		},
		{
			Description:           "Tap the search field",
			ExpectedAction:        string(schemas.ActionTap),
			TargetElement:         "search field",
			VerificationCondition: "keyboard appeared",
			Fallback:              "scroll to reveal the search field",
		},
		{
			Description:           "Type the search query",
			ExpectedAction:        string(schemas.ActionInputText),
			TargetElement:         "search field",
			InputData:             goal,
			VerificationCondition: "query text visible in the field",
		},
		{
			Description:           "Submit the search",
			ExpectedAction:        string(schemas.ActionKeyPress),
			TargetElement:         "keyboard enter key",
			VerificationCondition: "results are shown",
		},
	}
}

func messageSkeleton(app string) []schemas.PlanStep {
	openTarget := app
	if openTarget == "" {
		openTarget = "messages"
	}
	return []schemas.PlanStep{
		{
			Description:           "Open " + openTarget,
			ExpectedAction:        string(schemas.ActionOpenApp),
			TargetElement:         openTarget,
			VerificationCondition: openTarget + " is in the foreground",
		},
		{
			Description:           "Open the conversation with the recipient",
			ExpectedAction:        string(schemas.ActionTap),
			TargetElement:         "conversation entry",
			VerificationCondition: "conversation view is shown",
			Fallback:              "use the search field to find the recipient",
		},
		{
			Description:           "Type the message",
			ExpectedAction:        string(schemas.ActionInputText),
			TargetElement:         "message input field",
			VerificationCondition: "message text visible in the field",
		},
		{
			Description:           "Tap send",
			ExpectedAction:        string(schemas.ActionTap),
			TargetElement:         "send button",
			VerificationCondition: "message appears in the conversation",
		},
	}
}

func openAppSkeleton(app, goal string) []schemas.PlanStep {
	return []schemas.PlanStep{
		{
			Description:           "Open " + app,
			ExpectedAction:        string(schemas.ActionOpenApp),
			TargetElement:         app,
			VerificationCondition: app + " is in the foreground",
		},
		{
			Description:           "Complete the goal inside " + app + ": " + goal,
			ExpectedAction:        string(schemas.ActionTap),
			VerificationCondition: "goal visibly achieved",
		},
	}
}

func genericSkeleton(goal string) []schemas.PlanStep {
	return []schemas.PlanStep{
		{
			Description:           "Inspect the current screen",
			ExpectedAction:        string(schemas.ActionDescribeScreen),
			VerificationCondition: "screen content understood",
			IsOptional:            true,
		},
		{
			Description:           "Work toward the goal: " + goal,
			VerificationCondition: "goal visibly achieved",
		},
	}
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
