package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/decider"
)

// runTask is the supervisor body: classify, plan, then iterate until a
// terminal condition. It is the only goroutine that touches memory and the
// plan cursor.
func (e *Engine) runTask(ctx context.Context, goal string) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in task supervisor", zap.Any("panic", r))
			e.memory.EndTask(context.Background(), false)
			e.failTask(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if e.classifyIntent(ctx, goal) == "chat" {
		e.answerChat(ctx, goal)
		return
	}

	e.setState(StatePlanning)
	memCtx := strings.TrimSpace(e.memory.BuildLongTermMemoryContext(goal))
	plan := e.planner.Plan(ctx, goal, memCtx)
	e.memory.UpdatePlan(plan)

	e.mu.Lock()
	e.planState = e.planner.StartExecution(plan)
	e.mu.Unlock()

	e.bus.Publish(schemas.EventPlanGenerated, plan.RefinedGoal, plan)

	if plan.RequiresConfirmation {
		e.bus.Publish(schemas.EventConfirmationRequired, "this task involves a sensitive operation", plan)
		if !e.confirmWithUser(ctx, plan) {
			if ctx.Err() != nil {
				e.handleCancellation()
				return
			}
			e.memory.EndTask(context.Background(), false)
			e.completeTask("task declined before execution")
			return
		}
	}

	e.setState(StateExecuting)
	e.loop(ctx)
}

// loop runs the capture/decide/execute/verify iterations. Each external call
// runs under a hard timeout; a timed-out capture degrades rather than
// stalling.
func (e *Engine) loop(ctx context.Context) {
	consecutiveFailures := 0
	lastWasDescribe := false

	// pendingAction forces the next iteration past the decider; retryRoot is
	// the decided action the retry chain descends from, so nudged variants
	// still count against the original action's failure signature.
	var pendingAction, retryRoot *schemas.Action

	for step := 0; ; step++ {
		if ctx.Err() != nil {
			e.handleCancellation()
			return
		}
		if !e.waitIfPaused(ctx) {
			e.handleCancellation()
			return
		}

		if step >= e.cfg.MaxSteps {
			e.memory.EndTask(context.Background(), false)
			e.failTask(fmt.Sprintf("max steps reached (%d) without completing the goal", e.cfg.MaxSteps))
			return
		}

		record, outcome := e.iterate(ctx, step, lastWasDescribe, pendingAction)
		forced := pendingAction != nil
		pendingAction = nil

		switch outcome.kind {
		case outcomeCancelled:
			e.handleCancellation()
			return

		case outcomeFinished:
			e.memory.EndTask(context.Background(), true)
			e.completeTask(outcome.message)
			return

		case outcomeFailed:
			e.memory.EndTask(context.Background(), false)
			e.failTask(outcome.message)
			return

		case outcomeAskUser:
			answer, ok := e.waitForAnswer(ctx, outcome.message)
			if !ok {
				e.handleCancellation()
				return
			}
			e.mu.Lock()
			e.goalContext = append(e.goalContext, answer)
			e.mu.Unlock()
			e.memory.AddUserMessage(answer)
			e.setState(StateExecuting)
			lastWasDescribe = false
			continue
		}

		lastWasDescribe = record.Action.Kind == schemas.ActionDescribeScreen

		if record.Success {
			consecutiveFailures = 0
			retryRoot = nil
			planFinished := false
			if advancesPlan(record.Action.Kind) {
				e.withPlanState(func(state *schemas.PlanExecutionState) {
					if state.CurrentStep() != nil {
						e.planner.MarkStepComplete(state)
						planFinished = state.Completed() && len(state.FailedSteps) == 0
					}
				})
			}
			if planFinished {
				e.memory.EndTask(context.Background(), true)
				e.completeTask("all plan steps completed")
				return
			}
			continue
		}

		// -- Failure accounting and the three ceilings --
		consecutiveFailures++
		failedAction := record.Action
		if forced && retryRoot != nil {
			failedAction = *retryRoot
		}
		e.verifier.RecordFailure(failedAction)
		e.withPlanState(func(state *schemas.PlanExecutionState) {
			if state.CurrentStep() != nil {
				e.planner.MarkStepFailed(state)
			}
		})

		if same := e.verifier.FailureCount(failedAction); same >= e.cfg.MaxSameActionFailures {
			e.memory.EndTask(context.Background(), false)
			e.failTask(fmt.Sprintf("the same action (%s) failed %d times in a row", failedAction.Describe(), same))
			return
		}
		if consecutiveFailures >= e.cfg.MaxConsecutiveFailures {
			e.memory.EndTask(context.Background(), false)
			e.failTask(fmt.Sprintf("%d consecutive step failures", consecutiveFailures))
			return
		}

		// A failed screen description is never force-retried; the next
		// iteration decides afresh under the no-repeat constraint.
		if failedAction.Kind == schemas.ActionDescribeScreen {
			retryRoot = nil
			continue
		}

		pendingAction = e.applyRetryDirective(ctx, failedAction, &outcome)
		if outcome.kind == outcomeFailed {
			e.memory.EndTask(context.Background(), false)
			e.failTask(outcome.message)
			return
		}
		if pendingAction == nil {
			retryRoot = nil
		} else if retryRoot == nil {
			retryRoot = &failedAction
		}
	}
}

// advancesPlan reports whether a successful action of this kind moves the
// plan cursor. Observational and idle actions do not.
func advancesPlan(kind schemas.ActionKind) bool {
	switch kind {
	case schemas.ActionWait, schemas.ActionDescribeScreen, schemas.ActionScreenshot:
		return false
	}
	return true
}

type outcomeKind int

const (
	outcomeContinue outcomeKind = iota
	outcomeFinished
	outcomeFailed
	outcomeAskUser
	outcomeCancelled
)

type iterationOutcome struct {
	kind         outcomeKind
	message      string
	verification schemas.VerificationResult
}

// iterate performs one full capture/decide/execute/verify cycle. forced,
// when non-nil, bypasses the decider with a retry-adjusted action. Panics in
// the iteration body degrade to a failed step rather than crashing the
// supervisor.
func (e *Engine) iterate(ctx context.Context, step int, forbidDescribe bool, forced *schemas.Action) (record schemas.StepRecord, outcome iterationOutcome) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("Panic in iteration, treating as step failure", zap.Int("step", step), zap.Any("panic", r))
			record.Success = false
			record.Error = fmt.Sprintf("internal iteration error: %v", r)
			outcome = iterationOutcome{kind: outcomeContinue}
			e.appendRecord(&record)
		}
	}()

	before := e.capture(ctx)

	var decision schemas.Decision
	if forced != nil {
		decision = schemas.Decision{Thought: "retrying with adjusted action", Action: *forced}
	} else {
		decision = e.decide(ctx, before, forbidDescribe)
	}
	if ctx.Err() != nil {
		return record, iterationOutcome{kind: outcomeCancelled}
	}

	action := decision.Action
	record = schemas.StepRecord{
		Index:           step,
		SnapshotSummary: before.Summary(),
		Action:          action,
		Thought:         decision.Thought,
		Timestamp:       time.Now().UTC(),
	}

	e.bus.Publish(schemas.EventStepStarted, action.Describe(), record)
	e.logger.Info("Step decided",
		zap.Int("step", step),
		zap.String("action", action.Describe()),
		zap.String("thought", decision.Thought),
	)

	// Terminal actions end the loop without dispatch.
	if action.IsTerminal() {
		record.Success = action.Kind != schemas.ActionFailed
		e.appendRecord(&record)
		switch action.Kind {
		case schemas.ActionFinished:
			return record, iterationOutcome{kind: outcomeFinished, message: action.Message}
		case schemas.ActionFailed:
			return record, iterationOutcome{kind: outcomeFailed, message: action.Message}
		default:
			return record, iterationOutcome{kind: outcomeAskUser, message: action.Question}
		}
	}

	// DESCRIBE_SCREEN is answered by the model, not the device.
	if action.Kind == schemas.ActionDescribeScreen {
		if forbidDescribe {
			// The backend ignored the no-repeat constraint. Refuse the
			// call as a failed step so the failure ceilings bound a
			// backend that keeps insisting.
			record.Success = false
			record.Error = "screen was already described last step, refusing a second consecutive description"
			verification := schemas.Unverified(record.Error, 0.9)
			e.appendRecord(&record)
			e.memory.RecordStep(record)
			e.bus.Publish(schemas.EventStepCompleted, verification.Message, record)
			return record, iterationOutcome{kind: outcomeContinue, verification: verification}
		}

		description, err := e.describeScreen(ctx, before)
		verification := schemas.Verified("screen described")
		record.Success = err == nil
		if err != nil {
			record.Error = err.Error()
			verification = schemas.Unverified(err.Error(), 0.9)
		} else {
			record.AfterSummary = description
			e.memory.AddSystemMessage("screen description: " + description)
		}
		e.appendRecord(&record)
		e.memory.RecordStep(record)
		e.bus.Publish(schemas.EventStepCompleted, verification.Message, record)
		return record, iterationOutcome{kind: outcomeContinue, verification: verification}
	}

	execResult := e.execute(ctx, action)
	if ctx.Err() != nil {
		return record, iterationOutcome{kind: outcomeCancelled}
	}

	verification := schemas.Verified("execution reported success")
	if !execResult.Success {
		verification = schemas.Unverified(execResult.Error, 0.9)
	} else if action.NeedsVerification() {
		e.settle(ctx)
		after := e.capture(ctx)
		record.AfterSummary = after.Summary()
		verification = e.verifier.Verify(action, before, after, e.currentPlanStep())
	}

	record.Success = execResult.Success && verification.Success
	if !record.Success {
		record.Error = verification.Message
		if execResult.Error != "" {
			record.Error = execResult.Error
		}
	}
	e.appendRecord(&record)
	e.memory.RecordStep(record)

	e.bus.Publish(schemas.EventStepCompleted, verification.Message, record)
	return record, iterationOutcome{kind: outcomeContinue, verification: verification}
}

// capture wraps snapshot capture in its hard timeout, substituting a
// degraded empty snapshot on any failure.
func (e *Engine) capture(ctx context.Context) *schemas.Snapshot {
	captureCtx, cancel := context.WithTimeout(ctx, e.cfg.CaptureTimeout)
	defer cancel()

	snap, err := e.source.CaptureSnapshot(captureCtx)
	if err != nil || snap == nil {
		e.logger.Warn("Snapshot capture failed, substituting degraded snapshot", zap.Error(err))
		return schemas.EmptySnapshot()
	}
	return snap
}

func (e *Engine) decide(ctx context.Context, snap *schemas.Snapshot, forbidDescribe bool) schemas.Decision {
	decideCtx, cancel := context.WithTimeout(ctx, e.cfg.DecideTimeout)
	defer cancel()

	req := decider.DecideRequest{
		Goal:                 e.effectiveGoal(),
		Snapshot:             snap,
		History:              e.recentRecords(),
		PlanStep:             e.currentPlanStep(),
		ForbidDescribeScreen: forbidDescribe,
	}
	if snap != nil && len(snap.Image) > 0 {
		req.Image = snap.Image
		req.ImageMIME = "image/png"
	}
	return e.decider.Decide(decideCtx, req)
}

// describeScreen asks the vision model for a textual description of the
// current screen. The result is fed back as context for the next decision.
func (e *Engine) describeScreen(ctx context.Context, snap *schemas.Snapshot) (string, error) {
	decideCtx, cancel := context.WithTimeout(ctx, e.cfg.DecideTimeout)
	defer cancel()

	req := schemas.GenerationRequest{
		SystemPrompt: "Describe the phone screen for an automation agent. List the visible UI and anything actionable. Be concise.",
		UserPrompt:   "Current state: " + snap.Summary(),
		Tier:         schemas.TierPowerful,
	}
	if len(snap.Image) > 0 {
		req.Image = snap.Image
		req.ImageMIME = "image/png"
	}
	return e.llm.Generate(decideCtx, req)
}

// execute dispatches the action under its hard timeout. Executor errors are
// results, not exceptions: triage belongs to the verifier and retry
// pipeline.
func (e *Engine) execute(ctx context.Context, action schemas.Action) *schemas.ExecutionResult {
	execCtx, cancel := context.WithTimeout(ctx, e.cfg.ExecuteTimeout)
	defer cancel()

	result, err := e.executor.ExecuteAction(execCtx, action)
	if err != nil {
		e.logger.Warn("Action execution failed", zap.String("action", action.Describe()), zap.Error(err))
		return &schemas.ExecutionResult{Success: false, Error: err.Error()}
	}
	if result == nil {
		return &schemas.ExecutionResult{Success: false, Error: "executor returned no result"}
	}
	return result
}

// applyRetryDirective acts on the verifier's recovery proposal. It may
// sleep, dispatch an auxiliary scroll, move the plan cursor, or force the
// next iteration's action. An abort directive surfaces through outcome.
func (e *Engine) applyRetryDirective(ctx context.Context, failed schemas.Action, outcome *iterationOutcome) *schemas.Action {
	directive := e.verifier.GenerateRetryDirective(failed, outcome.verification, e.currentPlanStep())
	e.bus.Publish(schemas.EventProgress, directive.Reason, directive)
	e.logger.Info("Applying retry directive",
		zap.String("type", string(directive.Type)),
		zap.String("reason", directive.Reason),
	)

	switch directive.Type {
	case schemas.RetryUnchanged:
		action := failed
		return &action

	case schemas.RetryAdjusted:
		return directive.AdjustedAction

	case schemas.RetryAfterWait:
		e.sleep(ctx, time.Duration(directive.WaitMs)*time.Millisecond)
		action := failed
		return &action

	case schemas.RetryAfterScroll:
		scroll := schemas.Action{Kind: schemas.ActionScroll, Direction: schemas.DirectionDown}
		if result := e.execute(ctx, scroll); !result.Success {
			e.logger.Debug("Auxiliary scroll before retry failed", zap.String("error", result.Error))
		}
		e.settle(ctx)
		action := failed
		return &action

	case schemas.RetrySkipOptional:
		e.withPlanState(func(state *schemas.PlanExecutionState) {
			e.planner.SkipOptionalStep(state)
		})
		return nil

	case schemas.RetryUseFallback:
		// Surface the declared fallback to the decider through an adjusted
		// plan produced from the drift.
		e.adjustPlanForFallback(ctx, directive.Reason)
		return nil

	case schemas.RetryAbort:
		*outcome = iterationOutcome{kind: outcomeFailed, message: directive.Reason}
		return nil

	default:
		return nil
	}
}

func (e *Engine) adjustPlanForFallback(ctx context.Context, reason string) {
	e.mu.Lock()
	state := e.planState
	e.mu.Unlock()
	if state == nil {
		return
	}

	summary := "unknown"
	if snap := e.capture(ctx); snap != nil {
		summary = snap.Summary()
	}

	if adjusted := e.planner.AdjustPlan(ctx, state, reason, summary); adjusted != nil {
		e.mu.Lock()
		e.planState = e.planner.StartExecution(adjusted)
		e.mu.Unlock()
		e.memory.UpdatePlan(adjusted)
		e.bus.Publish(schemas.EventPlanGenerated, "plan adjusted: "+reason, adjusted)
	}
}

// confirmWithUser blocks in WaitingForUser until the user approves or
// declines a sensitive plan.
func (e *Engine) confirmWithUser(ctx context.Context, plan *schemas.Plan) bool {
	question := fmt.Sprintf("This task (%s) involves a sensitive operation. Should I proceed?", plan.OriginalGoal)
	answer, ok := e.waitForAnswer(ctx, question)
	if !ok {
		return false
	}
	lower := strings.ToLower(answer)
	declined := strings.Contains(lower, "no") || strings.Contains(lower, "cancel") || strings.Contains(lower, "stop")
	return !declined
}

// waitForAnswer transitions to WaitingForUser and blocks until
// AnswerQuestion or cancellation.
func (e *Engine) waitForAnswer(ctx context.Context, question string) (string, bool) {
	e.setState(StateWaitingForUser)
	e.bus.Publish(schemas.EventAskUser, question, nil)
	e.speak(question)

	e.mu.Lock()
	answerCh := e.answerCh
	e.mu.Unlock()

	select {
	case answer := <-answerCh:
		return answer, true
	case <-ctx.Done():
		return "", false
	}
}

// waitIfPaused blocks while the engine is paused. Returns false when the
// task was cancelled while waiting.
func (e *Engine) waitIfPaused(ctx context.Context) bool {
	for {
		e.mu.Lock()
		paused := e.state == StatePaused
		resumeCh := e.resumeCh
		e.mu.Unlock()
		if !paused {
			return ctx.Err() == nil
		}
		select {
		case <-resumeCh:
		case <-ctx.Done():
			return false
		}
	}
}

func (e *Engine) handleCancellation() {
	e.logger.Info("Task cancelled")
	e.memory.EndTask(context.Background(), false)
	e.bus.Publish(schemas.EventProgress, "task cancelled", nil)
	e.setState(StateIdle)
}

func (e *Engine) completeTask(message string) {
	if message == "" {
		message = "task completed"
	}
	e.mu.Lock()
	e.result = message
	e.mu.Unlock()

	e.memory.AddAssistantMessage(message)
	e.bus.Publish(schemas.EventTaskCompleted, message, nil)
	e.speak(message)
	e.setState(StateCompleted)
}

func (e *Engine) failTask(message string) {
	if message == "" {
		message = "task failed"
	}
	e.mu.Lock()
	e.result = message
	e.mu.Unlock()

	e.bus.Publish(schemas.EventTaskFailed, message, nil)
	e.speak("I could not complete the task. " + message)
	e.setState(StateFailed)
}

func (e *Engine) appendRecord(record *schemas.StepRecord) {
	e.mu.Lock()
	e.records = append(e.records, *record)
	e.mu.Unlock()
}

func (e *Engine) recentRecords() []schemas.StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	window := e.cfg.HistoryWindow
	if window <= 0 || len(e.records) <= window {
		out := make([]schemas.StepRecord, len(e.records))
		copy(out, e.records)
		return out
	}
	out := make([]schemas.StepRecord, window)
	copy(out, e.records[len(e.records)-window:])
	return out
}

func (e *Engine) currentPlanStep() *schemas.PlanStep {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.planState == nil {
		return nil
	}
	return e.planState.CurrentStep()
}

func (e *Engine) withPlanState(fn func(*schemas.PlanExecutionState)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.planState != nil {
		fn(e.planState)
	}
}

func (e *Engine) effectiveGoal() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.goalContext) == 0 {
		return e.goal
	}
	return e.goal + "\nAdditional information from the user: " + strings.Join(e.goalContext, "; ")
}

func (e *Engine) settle(ctx context.Context) {
	e.sleep(ctx, e.cfg.SettleDelay)
}

func (e *Engine) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
