package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
	"github.com/king0929zion/Zigent-sub000/internal/decider"
	"github.com/king0929zion/Zigent-sub000/internal/memory"
	"github.com/king0929zion/Zigent-sub000/internal/planner"
	"github.com/king0929zion/Zigent-sub000/internal/verifier"
)

// scriptedLLM routes generation requests to per-concern responses: intent
// classification, planning, and a consumable queue of step decisions.
type scriptedLLM struct {
	mu sync.Mutex

	intent    string
	planErr   error
	decisions []string
	requests  []schemas.GenerationRequest

	// blockDecide, when non-nil, is closed by the test to release a decide
	// call that would otherwise wait.
	blockDecide chan struct{}
}

func (s *scriptedLLM) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)

	switch {
	case strings.Contains(req.SystemPrompt, "Classify the user's request"):
		intent := s.intent
		s.mu.Unlock()
		if intent == "" {
			intent = "task"
		}
		return intent, nil

	case strings.Contains(req.SystemPrompt, "task planner"):
		planErr := s.planErr
		s.mu.Unlock()
		if planErr != nil {
			return "", planErr
		}
		// Unparsable on purpose: the deterministic fallback plan is
		// deliberate in these tests.
		return "no plan", nil

	case strings.Contains(req.SystemPrompt, "Describe the phone screen"):
		s.mu.Unlock()
		return "a home screen with a grid of app icons", nil

	case strings.Contains(req.SystemPrompt, "helpful phone assistant"):
		s.mu.Unlock()
		return "here is your answer", nil
	}

	block := s.blockDecide
	var response string
	if len(s.decisions) > 0 {
		response = s.decisions[0]
		if len(s.decisions) > 1 {
			s.decisions = s.decisions[1:]
		}
	} else {
		response = decisionJSON("nothing scripted", `{"kind": "FAILED", "message": "out of script"}`)
	}
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return response, nil
}

func (s *scriptedLLM) capturedRequests() []schemas.GenerationRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]schemas.GenerationRequest, len(s.requests))
	copy(out, s.requests)
	return out
}

func decisionJSON(thought, action string) string {
	return fmt.Sprintf(`{"thought": %q, "action": %s}`, thought, action)
}

// fakeSource returns snapshots from a generator, counting captures.
type fakeSource struct {
	mu       sync.Mutex
	captures int
	generate func(n int) *schemas.Snapshot
}

func (f *fakeSource) CaptureSnapshot(ctx context.Context) (*schemas.Snapshot, error) {
	f.mu.Lock()
	f.captures++
	n := f.captures
	gen := f.generate
	f.mu.Unlock()
	if gen != nil {
		return gen(n), nil
	}
	return &schemas.Snapshot{
		ForegroundApp: "com.android.launcher",
		Page:          fmt.Sprintf("screen-%d", n),
		CapturedAt:    time.Now(),
	}, nil
}

// fakeExecutor records dispatched actions. result, when set, overrides the
// default success.
type fakeExecutor struct {
	mu      sync.Mutex
	actions []schemas.Action
	result  func(action schemas.Action) *schemas.ExecutionResult
}

func (f *fakeExecutor) ExecuteAction(ctx context.Context, action schemas.Action) (*schemas.ExecutionResult, error) {
	f.mu.Lock()
	f.actions = append(f.actions, action)
	result := f.result
	f.mu.Unlock()
	if result != nil {
		return result(action), nil
	}
	return &schemas.ExecutionResult{Success: true, Message: "ok"}, nil
}

func (f *fakeExecutor) dispatched() []schemas.Action {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]schemas.Action, len(f.actions))
	copy(out, f.actions)
	return out
}

type fakeVoice struct {
	mu     sync.Mutex
	spoken []string
}

func (f *fakeVoice) Speak(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return nil
}

func (f *fakeVoice) Listen(ctx context.Context) (string, error) { return "", nil }

type harness struct {
	engine   *Engine
	llm      *scriptedLLM
	source   *fakeSource
	executor *fakeExecutor
	events   <-chan schemas.Event
	cancel   func()
}

func testEngineConfig() config.EngineConfig {
	return config.EngineConfig{
		MaxSteps:               10,
		MaxConsecutiveFailures: 3,
		MaxSameActionFailures:  3,
		CaptureTimeout:         2 * time.Second,
		DecideTimeout:          2 * time.Second,
		ExecuteTimeout:         2 * time.Second,
		SettleDelay:            0,
		Cooldown:               5 * time.Millisecond,
		HistoryWindow:          5,
		EventBufferSize:        256,
	}
}

func newHarness(t *testing.T, llm *scriptedLLM) *harness {
	t.Helper()
	return newHarnessWithConfig(t, llm, testEngineConfig())
}

func newHarnessWithConfig(t *testing.T, llm *scriptedLLM, cfg config.EngineConfig) *harness {
	t.Helper()
	logger := zaptest.NewLogger(t)

	mem := memory.NewStore(config.MemoryConfig{
		ShortTermCap:   50,
		WorkingStepCap: 20,
		LongTermCap:    10,
		PreferenceCap:  10,
	}, nil, logger)

	plannerCfg := config.PlannerConfig{
		MaxPlanSteps:      8,
		MaxStepRetries:    2,
		KnownApps:         map[string]string{"settings": "com.android.settings"},
		SensitiveKeywords: []string{"delete", "pay", "transfer"},
	}
	verifierCfg := config.VerifierConfig{
		SignatureTolerancePx:  20,
		FailureWindow:         time.Minute,
		RetryCeiling:          3,
		ElementCountTolerance: 2,
		KeyboardShiftPx:       100,
	}

	source := &fakeSource{}
	executor := &fakeExecutor{}

	eng, err := New(Options{
		Config:   cfg,
		Decider:  decider.New(llm, logger),
		Planner:  planner.New(llm, plannerCfg, logger),
		Verifier: verifier.New(verifierCfg, logger),
		Memory:   mem,
		Source:   source,
		Executor: executor,
		LLM:      llm,
		Voice:    &fakeVoice{},
		Logger:   logger,
	})
	if err != nil {
		t.Fatalf("engine construction failed: %v", err)
	}

	events, unsubscribe := eng.Subscribe()
	t.Cleanup(unsubscribe)
	return &harness{engine: eng, llm: llm, source: source, executor: executor, events: events}
}

// drainEvents collects everything published so far without blocking.
func (h *harness) drainEvents() []schemas.Event {
	var out []schemas.Event
	for {
		select {
		case ev, ok := <-h.events:
			if !ok {
				return out
			}
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventTypes(events []schemas.Event) []schemas.EventType {
	out := make([]schemas.EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func containsEvent(events []schemas.Event, t schemas.EventType) bool {
	for _, ev := range events {
		if ev.Type == t {
			return true
		}
	}
	return false
}
