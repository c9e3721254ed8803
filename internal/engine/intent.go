package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

const intentSystemPrompt = `Classify the user's request for a phone automation agent.
Respond with exactly one word:
  chat - a question or conversation answerable with text alone, no device interaction
  task - anything that requires operating the phone (opening apps, tapping, typing, navigating)
When unsure, answer task.`

// classifyIntent decides whether the goal needs the device loop at all.
// Classification errors default to treating the goal as a device task.
func (e *Engine) classifyIntent(ctx context.Context, goal string) string {
	response, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: intentSystemPrompt,
		UserPrompt:   goal,
		Tier:         schemas.TierFast,
		Options:      schemas.GenerationOptions{Temperature: 0},
	})
	if err != nil {
		e.logger.Debug("Intent classification failed, assuming device task", zap.Error(err))
		return "task"
	}

	if strings.Contains(strings.ToLower(response), "chat") {
		return "chat"
	}
	return "task"
}

// answerChat handles a chat-only goal: one reasoning call, no device loop.
func (e *Engine) answerChat(ctx context.Context, goal string) {
	memCtx := e.memory.BuildLongTermMemoryContext(goal)
	prompt := goal
	if memCtx != "" {
		prompt = "Context from previous tasks:\n" + memCtx + "\n\n" + goal
	}

	answer, err := e.llm.Generate(ctx, schemas.GenerationRequest{
		SystemPrompt: "You are a helpful phone assistant. Answer concisely.",
		UserPrompt:   prompt,
		Tier:         schemas.TierFast,
	})
	if err != nil {
		e.failTask("could not answer: " + err.Error())
		return
	}

	e.memory.EndTask(ctx, true)
	e.completeTask(answer)
}
