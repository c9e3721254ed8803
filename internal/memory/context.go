package memory

import (
	"fmt"
	"strings"
)

// BuildWorkingMemoryContext renders a bounded digest of the active task for
// decider and planner prompts. Empty when no task is active.
func (s *Store) BuildWorkingMemoryContext() string {
	if !s.working.Active {
		return ""
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Active task: %s\n", s.working.Goal)

	if plan := s.working.Plan; plan != nil {
		fmt.Fprintf(&sb, "Plan: %d steps, %d passed\n", len(plan.Steps), s.working.PlanProgress)
	}

	if n := len(s.working.Steps); n > 0 {
		sb.WriteString("Recent steps:\n")
		start := n - 5
		if start < 0 {
			start = 0
		}
		for _, rec := range s.working.Steps[start:] {
			status := "ok"
			if !rec.Success {
				status = "failed"
			}
			fmt.Fprintf(&sb, "  - [%s] %s\n", status, rec.Action.Describe())
		}
	}
	return sb.String()
}

// BuildLongTermMemoryContext renders related past tasks and relevant learned
// preferences for the goal. Empty when nothing applies.
func (s *Store) BuildLongTermMemoryContext(goal string) string {
	related := s.longTerm.relatedTasks(goal)
	category := inferCategory(goal)

	var sb strings.Builder

	if len(related) > 0 {
		sb.WriteString("Similar past tasks:\n")
		limit := len(related)
		if limit > 3 {
			limit = 3
		}
		for _, task := range related[:limit] {
			outcome := "succeeded"
			if !task.Success {
				outcome = "failed"
			}
			fmt.Fprintf(&sb, "  - %q %s in %d steps", task.Goal, outcome, task.StepCount)
			if task.AppUsed != "" {
				fmt.Fprintf(&sb, " using %s", task.AppUsed)
			}
			sb.WriteString("\n")
		}
	}

	if category != "" {
		if pref, ok := s.longTerm.preferences["app_for_"+category]; ok {
			fmt.Fprintf(&sb, "Preferred app for %s tasks: %s (confidence %.2f)\n",
				category, pref.Value, pref.Confidence)
		}
	}

	return sb.String()
}
