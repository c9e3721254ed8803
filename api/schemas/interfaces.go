package schemas

import "context"

// SnapshotSource is the capture collaborator: it produces point-in-time
// device state. Implementations are expected to be fallible and slow; the
// engine wraps every call in a hard timeout and substitutes a degraded
// empty snapshot on failure.
type SnapshotSource interface {
	CaptureSnapshot(ctx context.Context) (*Snapshot, error)
}

// ActionPerformer is the input-delivery collaborator. It must be safe to
// call repeatedly with the same action, since retry directives re-dispatch.
type ActionPerformer interface {
	ExecuteAction(ctx context.Context, action Action) (*ExecutionResult, error)
}

// ModelTier selects a reasoning model by capability preference rather than
// by name.
type ModelTier string

const (
	TierFast     ModelTier = "fast"     // Prefers a faster, less capable model.
	TierPowerful ModelTier = "powerful" // Prefers a more capable, slower model.
)

// GenerationOptions tunes one generation request.
type GenerationOptions struct {
	Temperature     float32 `json:"temperature,omitempty"`
	ForceJSONFormat bool    `json:"force_json_format,omitempty"`
	MaxTokens       int     `json:"max_tokens,omitempty"`
}

// GenerationRequest is a complete request to the reasoning backend. Image,
// when present, is attached as an inline part for vision-capable models;
// backends without vision support ignore it.
type GenerationRequest struct {
	SystemPrompt string            `json:"system_prompt"`
	UserPrompt   string            `json:"user_prompt"`
	Image        []byte            `json:"image,omitempty"`
	ImageMIME    string            `json:"image_mime,omitempty"`
	Tier         ModelTier         `json:"tier"`
	Options      GenerationOptions `json:"options"`
}

// LLMClient is the only surface the decider and planner use to reach a
// reasoning backend. Transport-level retries and auth are the
// implementation's responsibility, not the core's.
type LLMClient interface {
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// Voice is the optional speech collaborator. The core only uses it as a
// fire-and-forget notification surface for ask-user questions and task
// narration; it never blocks the state machine on speech completion.
type Voice interface {
	Speak(ctx context.Context, text string) error
	Listen(ctx context.Context) (string, error)
}
