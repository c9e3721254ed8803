// Package memory implements the three conversation-memory tiers: a capped
// short-term message FIFO, the working memory of the active task, and
// long-term task summaries with learned preferences. All tiers are mutated
// only by the single engine supervisor goroutine, so the package relies on
// that ownership rather than internal locking.
package memory

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

// Role tags a short-term message with its origin.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Message is one short-term conversation entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkingMemory is the execution-scoped state of the active task.
type WorkingMemory struct {
	Goal         string
	Plan         *schemas.Plan
	PlanProgress int // Count of plan steps passed, advanced on step success.
	Steps        []schemas.StepRecord
	StartedAt    time.Time
	Active       bool
}

// Store owns the three memory tiers and the optional persistent summary
// backend.
type Store struct {
	cfg    config.MemoryConfig
	logger *zap.Logger

	shortTerm []Message
	working   WorkingMemory
	longTerm  *LongTermMemory

	summaries SummaryStore // nil when persistence is not configured.
}

// SummaryStore persists task summaries across processes. The in-memory
// long-term tier works without one.
type SummaryStore interface {
	SaveSummary(ctx context.Context, summary TaskSummary) error
	RecentSummaries(ctx context.Context, limit int) ([]TaskSummary, error)
}

// NewStore creates the memory store. summaries may be nil.
func NewStore(cfg config.MemoryConfig, summaries SummaryStore, logger *zap.Logger) *Store {
	return &Store{
		cfg:       cfg,
		logger:    logger.Named("memory"),
		longTerm:  newLongTermMemory(cfg.LongTermCap, cfg.PreferenceCap),
		summaries: summaries,
	}
}

// -- Short-term tier --

// AddUserMessage appends a user message to the short-term FIFO.
func (s *Store) AddUserMessage(content string) { s.addMessage(RoleUser, content) }

// AddAssistantMessage appends an assistant message to the short-term FIFO.
func (s *Store) AddAssistantMessage(content string) { s.addMessage(RoleAssistant, content) }

// AddSystemMessage appends a system message to the short-term FIFO.
func (s *Store) AddSystemMessage(content string) { s.addMessage(RoleSystem, content) }

// Messages returns the short-term history, oldest first.
func (s *Store) Messages() []Message {
	out := make([]Message, len(s.shortTerm))
	copy(out, s.shortTerm)
	return out
}

func (s *Store) addMessage(role Role, content string) {
	s.shortTerm = append(s.shortTerm, Message{Role: role, Content: content, Timestamp: time.Now().UTC()})
	if limit := s.cfg.ShortTermCap; limit > 0 && len(s.shortTerm) > limit {
		s.shortTerm = s.shortTerm[len(s.shortTerm)-limit:]
	}
}

// -- Working tier --

// StartTask resets working memory for a new goal.
func (s *Store) StartTask(goal string) {
	s.working = WorkingMemory{
		Goal:      goal,
		StartedAt: time.Now().UTC(),
		Active:    true,
	}
	s.logger.Debug("Working memory started", zap.String("goal", goal))
}

// UpdatePlan attaches the plan for the active task.
func (s *Store) UpdatePlan(plan *schemas.Plan) {
	s.working.Plan = plan
}

// RecordStep appends a step record, mirrors a digest of it into short-term
// memory, and advances the plan-progress cursor when the step succeeded.
func (s *Store) RecordStep(rec schemas.StepRecord) {
	if !s.working.Active {
		return
	}

	s.working.Steps = append(s.working.Steps, rec)
	if limit := s.cfg.WorkingStepCap; limit > 0 && len(s.working.Steps) > limit {
		s.working.Steps = s.working.Steps[len(s.working.Steps)-limit:]
	}

	if rec.Success {
		s.working.PlanProgress++
		s.AddSystemMessage(fmt.Sprintf("step %d ok: %s", rec.Index+1, rec.Action.Describe()))
	} else {
		s.AddSystemMessage(fmt.Sprintf("step %d failed: %s (%s)", rec.Index+1, rec.Action.Describe(), rec.Error))
	}
}

// Working returns a copy of the current working memory.
func (s *Store) Working() WorkingMemory {
	w := s.working
	w.Steps = append([]schemas.StepRecord(nil), s.working.Steps...)
	return w
}

// EndTask closes the active task, producing a long-term TaskSummary and, on
// success only, reinforcing learned preferences. The context is used for the
// optional persistent store.
func (s *Store) EndTask(ctx context.Context, success bool) {
	if !s.working.Active {
		return
	}

	summary := s.summarizeWorking(success)
	s.longTerm.addSummary(summary)
	if success {
		s.longTerm.reinforcePreferences(summary)
	}

	if s.summaries != nil {
		if err := s.summaries.SaveSummary(ctx, summary); err != nil {
			s.logger.Warn("Failed to persist task summary", zap.Error(err))
		}
	}

	s.working = WorkingMemory{}
	s.logger.Debug("Working memory flushed",
		zap.String("goal", summary.Goal),
		zap.Bool("success", success),
	)
}

func (s *Store) summarizeWorking(success bool) TaskSummary {
	var actions []string
	appUsed := ""
	for _, rec := range s.working.Steps {
		actions = append(actions, string(rec.Action.Kind))
		if rec.Action.Kind == schemas.ActionOpenApp && rec.Success && rec.Action.App != "" {
			appUsed = rec.Action.App
		}
	}
	if appUsed == "" && s.working.Plan != nil {
		appUsed = s.working.Plan.TargetApp
	}

	return TaskSummary{
		Goal:           s.working.Goal,
		Category:       inferCategory(s.working.Goal),
		Success:        success,
		StepCount:      len(s.working.Steps),
		AppUsed:        appUsed,
		ActionSequence: actions,
		EndedAt:        time.Now().UTC(),
	}
}

// GetRelatedTasks returns long-term summaries whose goals share a keyword
// with the given goal.
func (s *Store) GetRelatedTasks(goal string) []TaskSummary {
	return s.longTerm.relatedTasks(goal)
}

// Preferences returns the learned preferences, most confident first.
func (s *Store) Preferences() []UserPreference {
	return s.longTerm.preferenceList()
}
