package verifier

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// nudgeOffsets are the four deterministic coordinate adjustments cycled by
// attempt count when retrying a pointer action.
var nudgeOffsets = [4][2]int{
	{25, 0},
	{-25, 0},
	{0, 25},
	{0, -25},
}

// GenerateRetryDirective decides how the engine should recover from a failed
// verification. Escalation order: past the per-signature failure ceiling,
// prefer a plan-declared fallback, then skipping an optional step, then
// aborting; below the ceiling the directive is chosen per action kind.
func (v *Verifier) GenerateRetryDirective(action schemas.Action, result schemas.VerificationResult, planStep *schemas.PlanStep) schemas.RetryDirective {
	attempts := v.FailureCount(action)

	if attempts >= v.cfg.RetryCeiling {
		directive := v.escalate(action, attempts, planStep)
		v.logger.Info("Retry ceiling reached, escalating",
			zap.String("signature", action.Signature(v.cfg.SignatureTolerancePx)),
			zap.Int("attempts", attempts),
			zap.String("directive", string(directive.Type)),
		)
		return directive
	}

	switch {
	case action.HasCoordinates():
		return v.nudgeDirective(action, attempts)

	case action.Kind == schemas.ActionInputText || action.Kind == schemas.ActionClearText:
		// Input fields often need focus settle time before accepting text.
		return schemas.RetryDirective{
			Type:   schemas.RetryAfterWait,
			Reason: "waiting for input focus to settle before retrying",
			WaitMs: 1500,
		}

	case action.Kind == schemas.ActionOpenApp:
		return schemas.RetryDirective{
			Type:   schemas.RetryAfterWait,
			Reason: "app may still be launching, waiting longer before retrying",
			WaitMs: 3000,
		}

	case action.Kind == schemas.ActionSwipe || action.Kind == schemas.ActionScroll:
		// The gesture may have hit a content boundary; trying again is cheap.
		return schemas.RetryDirective{
			Type:   schemas.RetryUnchanged,
			Reason: "retrying the gesture unchanged",
		}

	default:
		return schemas.RetryDirective{
			Type:   schemas.RetryAfterWait,
			Reason: "brief wait before retrying: " + result.Message,
			WaitMs: 1000,
		}
	}
}

func (v *Verifier) escalate(action schemas.Action, attempts int, planStep *schemas.PlanStep) schemas.RetryDirective {
	if planStep != nil && planStep.Fallback != "" {
		return schemas.RetryDirective{
			Type:   schemas.RetryUseFallback,
			Reason: fmt.Sprintf("%d failed attempts, switching to fallback: %s", attempts, planStep.Fallback),
		}
	}
	if planStep != nil && planStep.IsOptional {
		return schemas.RetryDirective{
			Type:   schemas.RetrySkipOptional,
			Reason: fmt.Sprintf("%d failed attempts on an optional step, skipping it", attempts),
		}
	}
	return schemas.RetryDirective{
		Type:   schemas.RetryAbort,
		Reason: fmt.Sprintf("action %s failed %d times with no fallback available", action.Describe(), attempts),
	}
}

// nudgeDirective shifts the coordinates by a small offset cycled over four
// directions; once all four have been tried, scroll to bring the target into
// a different position instead.
func (v *Verifier) nudgeDirective(action schemas.Action, attempts int) schemas.RetryDirective {
	if attempts >= len(nudgeOffsets) {
		return schemas.RetryDirective{
			Type:   schemas.RetryAfterScroll,
			Reason: "coordinate nudges exhausted, scrolling before retry",
		}
	}

	offset := nudgeOffsets[attempts%len(nudgeOffsets)]
	adjusted := action
	adjusted.X += offset[0]
	adjusted.Y += offset[1]
	if action.Kind == schemas.ActionSwipeCustom {
		adjusted.ToX += offset[0]
		adjusted.ToY += offset[1]
	}

	return schemas.RetryDirective{
		Type:           schemas.RetryAdjusted,
		Reason:         fmt.Sprintf("nudging coordinates by (%d,%d)", offset[0], offset[1]),
		AdjustedAction: &adjusted,
	}
}
