// Package decider turns one loop iteration's context (goal, snapshot,
// history, plan hint) into exactly one structured Action via the reasoning
// backend. Backend failures and malformed output never escape this boundary:
// every path returns a usable Decision, degrading to a terminal FAILED
// decision with an explanatory thought.
package decider

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// DecideRequest carries everything one decision needs. Image is optional;
// when absent the prompt degrades to the text-only path.
type DecideRequest struct {
	Goal      string
	Snapshot  *schemas.Snapshot
	History   []schemas.StepRecord
	PlanStep  *schemas.PlanStep
	Image     []byte
	ImageMIME string

	// ForbidDescribeScreen is set by the engine when the previous iteration
	// already used DESCRIBE_SCREEN, forcing an answer from existing context.
	ForbidDescribeScreen bool
}

// Decider asks the reasoning backend for the next action.
type Decider struct {
	llmClient schemas.LLMClient
	logger    *zap.Logger
}

// New creates a Decider.
func New(llmClient schemas.LLMClient, logger *zap.Logger) *Decider {
	return &Decider{
		llmClient: llmClient,
		logger:    logger.Named("decider"),
	}
}

// Decide queries the backend and returns exactly one Decision. It never
// returns an error: backend or parse failures produce a FAILED decision.
func (d *Decider) Decide(ctx context.Context, req DecideRequest) schemas.Decision {
	systemPrompt := buildSystemPrompt(req.ForbidDescribeScreen)
	userPrompt := buildUserPrompt(req)

	genReq := schemas.GenerationRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Tier:         schemas.TierPowerful,
		Options:      schemas.GenerationOptions{ForceJSONFormat: true, Temperature: 0.2},
	}
	if len(req.Image) > 0 {
		genReq.Image = req.Image
		genReq.ImageMIME = req.ImageMIME
	}

	start := time.Now()
	response, err := d.llmClient.Generate(ctx, genReq)
	if err != nil {
		d.logger.Warn("LLM generation failed, emitting failed decision", zap.Error(err))
		return schemas.FailedDecision(
			fmt.Sprintf("reasoning backend unavailable: %v", err),
			"could not reach the reasoning backend",
		)
	}

	decision := ParseDecision(response, d.logger)

	if req.ForbidDescribeScreen && decision.Action.Kind == schemas.ActionDescribeScreen {
		// The backend ignored the constraint. The engine refuses the
		// duplicate call and records it as a failed step.
		d.logger.Warn("Backend requested consecutive screen description despite constraint")
	}

	d.logger.Debug("Decision made",
		zap.String("kind", string(decision.Action.Kind)),
		zap.Duration("duration", time.Since(start)),
	)
	return decision
}
