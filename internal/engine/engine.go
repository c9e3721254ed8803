// Package engine implements the orchestration state machine: one supervisor
// goroutine per task driving the capture, decide, execute, verify cycle
// against the external collaborators, with hard timeouts on every external
// call and typed ceilings on failure.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
	"github.com/king0929zion/Zigent-sub000/internal/decider"
	"github.com/king0929zion/Zigent-sub000/internal/memory"
	"github.com/king0929zion/Zigent-sub000/internal/planner"
	"github.com/king0929zion/Zigent-sub000/internal/verifier"
)

// State is the engine's lifecycle position. Completed and Failed are
// terminal for the task but not the engine; a cooldown returns it to Idle.
type State string

const (
	StateIdle           State = "IDLE"
	StateAnalyzing      State = "ANALYZING" // Intent classification before planning.
	StatePlanning       State = "PLANNING"
	StateExecuting      State = "EXECUTING"
	StateWaitingForUser State = "WAITING_FOR_USER"
	StatePaused         State = "PAUSED"
	StateCompleted      State = "COMPLETED"
	StateFailed         State = "FAILED"
)

// Engine drives one task at a time. All collaborators are injected at
// construction; nothing is resolved through ambient globals.
type Engine struct {
	cfg      config.EngineConfig
	decider  *decider.Decider
	planner  *planner.Planner
	verifier *verifier.Verifier
	memory   *memory.Store
	source   schemas.SnapshotSource
	executor schemas.ActionPerformer
	llm      schemas.LLMClient
	voice    schemas.Voice // Optional, fire-and-forget only.
	bus      *EventBus
	logger   *zap.Logger

	mu          sync.Mutex
	state       State
	goal        string
	goalContext []string // User answers appended to the goal mid-task.
	records     []schemas.StepRecord
	planState   *schemas.PlanExecutionState
	cancelTask  context.CancelFunc
	taskDone    chan struct{}
	result      string

	resumeCh chan struct{}
	answerCh chan string
}

// Options bundles the collaborators for New.
type Options struct {
	Config   config.EngineConfig
	Decider  *decider.Decider
	Planner  *planner.Planner
	Verifier *verifier.Verifier
	Memory   *memory.Store
	Source   schemas.SnapshotSource
	Executor schemas.ActionPerformer
	LLM      schemas.LLMClient
	Voice    schemas.Voice // May be nil.
	Logger   *zap.Logger
}

// New creates an Engine in the Idle state.
func New(opts Options) (*Engine, error) {
	if opts.Decider == nil || opts.Planner == nil || opts.Verifier == nil || opts.Memory == nil {
		return nil, fmt.Errorf("decider, planner, verifier and memory are all required")
	}
	if opts.Source == nil || opts.Executor == nil || opts.LLM == nil {
		return nil, fmt.Errorf("snapshot source, executor and llm client are all required")
	}

	logger := opts.Logger.Named("engine")
	return &Engine{
		cfg:      opts.Config,
		decider:  opts.Decider,
		planner:  opts.Planner,
		verifier: opts.Verifier,
		memory:   opts.Memory,
		source:   opts.Source,
		executor: opts.Executor,
		llm:      opts.LLM,
		voice:    opts.Voice,
		bus:      NewEventBus(logger, opts.Config.EventBufferSize),
		logger:   logger,
		state:    StateIdle,
	}, nil
}

// State returns the current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StepRecords returns a copy of the records for the current or most recent
// task. Records survive task termination so ceilings remain auditable.
func (e *Engine) StepRecords() []schemas.StepRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]schemas.StepRecord, len(e.records))
	copy(out, e.records)
	return out
}

// Result returns the terminal message of the most recent task.
func (e *Engine) Result() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.result
}

// Subscribe attaches an event listener.
func (e *Engine) Subscribe() (<-chan schemas.Event, func()) {
	return e.bus.Subscribe()
}

// StartTask begins a new task. It is rejected while a task is actively
// running; a task stuck in WaitingForUser is superseded (cancelled) by the
// new one.
func (e *Engine) StartTask(ctx context.Context, goal string) error {
	e.mu.Lock()
	switch e.state {
	case StateIdle, StateCompleted, StateFailed:
		// Free to start.
	case StateWaitingForUser:
		// Superseded: cancel the waiting task before starting the new one.
		if e.cancelTask != nil {
			e.cancelTask()
		}
		done := e.taskDone
		e.mu.Unlock()
		if done != nil {
			<-done
		}
		e.mu.Lock()
	default:
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("engine is busy (state %s), cannot start a new task", state)
	}

	taskCtx, cancel := context.WithCancel(ctx)
	e.goal = goal
	e.goalContext = nil
	e.records = nil
	e.planState = nil
	e.result = ""
	e.cancelTask = cancel
	e.taskDone = make(chan struct{})
	e.resumeCh = make(chan struct{}, 1)
	e.answerCh = make(chan string, 1)
	done := e.taskDone
	e.mu.Unlock()

	e.verifier.ClearFailureHistory()
	e.memory.AddUserMessage(goal)
	e.memory.StartTask(goal)
	e.setState(StateAnalyzing)

	go func() {
		defer close(done)
		defer cancel()
		e.runTask(taskCtx, goal)
	}()
	return nil
}

// Wait blocks until the current task's supervisor goroutine exits. Returns
// immediately when no task has been started.
func (e *Engine) Wait() {
	e.mu.Lock()
	done := e.taskDone
	e.mu.Unlock()
	if done != nil {
		<-done
	}
}

// Pause stops new action dispatch until Resume. Only an Executing task can
// be paused.
func (e *Engine) Pause() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateExecuting {
		return fmt.Errorf("cannot pause in state %s", e.state)
	}
	e.state = StatePaused
	e.bus.Publish(schemas.EventStateChanged, string(StatePaused), nil)
	return nil
}

// Resume continues a paused task.
func (e *Engine) Resume() error {
	e.mu.Lock()
	if e.state != StatePaused {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("cannot resume in state %s", state)
	}
	e.state = StateExecuting
	resumeCh := e.resumeCh
	e.mu.Unlock()

	e.bus.Publish(schemas.EventStateChanged, string(StateExecuting), nil)
	select {
	case resumeCh <- struct{}{}:
	default:
	}
	return nil
}

// Cancel interrupts the current task promptly. Cancellation is not a
// failure: working memory is flushed as unsuccessful and the engine returns
// to Idle without emitting a task-failed event.
func (e *Engine) Cancel() {
	e.mu.Lock()
	cancel := e.cancelTask
	resumeCh := e.resumeCh
	e.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	// Unblock a paused loop so it can observe the cancellation.
	if resumeCh != nil {
		select {
		case resumeCh <- struct{}{}:
		default:
		}
	}
}

// AnswerQuestion resumes a task waiting on an ask-user action. The answer is
// appended to the goal context for subsequent decisions.
func (e *Engine) AnswerQuestion(text string) error {
	e.mu.Lock()
	if e.state != StateWaitingForUser {
		state := e.state
		e.mu.Unlock()
		return fmt.Errorf("no question is pending (state %s)", state)
	}
	answerCh := e.answerCh
	e.mu.Unlock()

	select {
	case answerCh <- text:
		return nil
	default:
		return fmt.Errorf("an answer is already queued")
	}
}

// setState transitions the lifecycle state and emits the change. Completed
// and Failed schedule the cooldown return to Idle.
func (e *Engine) setState(next State) {
	e.mu.Lock()
	if e.state == next {
		e.mu.Unlock()
		return
	}
	prev := e.state
	e.state = next
	e.mu.Unlock()

	e.logger.Info("State transition", zap.String("from", string(prev)), zap.String("to", string(next)))
	e.bus.Publish(schemas.EventStateChanged, string(next), nil)

	if next == StateCompleted || next == StateFailed {
		cooldown := e.cfg.Cooldown
		if cooldown <= 0 {
			cooldown = time.Second
		}
		time.AfterFunc(cooldown, func() {
			e.mu.Lock()
			if e.state == next {
				e.state = StateIdle
				e.mu.Unlock()
				e.bus.Publish(schemas.EventStateChanged, string(StateIdle), nil)
				return
			}
			e.mu.Unlock()
		})
	}
}

// speak narrates through the optional voice collaborator without ever
// blocking the state machine.
func (e *Engine) speak(text string) {
	if e.voice == nil || text == "" {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.voice.Speak(ctx, text); err != nil {
			e.logger.Debug("Voice narration failed", zap.Error(err))
		}
	}()
}
