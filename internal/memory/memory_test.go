package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

func testMemoryConfig() config.MemoryConfig {
	return config.MemoryConfig{
		ShortTermCap:   10,
		WorkingStepCap: 20,
		LongTermCap:    30,
		PreferenceCap:  50,
	}
}

func newTestStore(t *testing.T) *Store {
	return NewStore(testMemoryConfig(), nil, zaptest.NewLogger(t))
}

func TestShortTerm_CappedFIFO(t *testing.T) {
	s := newTestStore(t)
	for i := 0; i < 15; i++ {
		s.AddUserMessage("message")
	}

	msgs := s.Messages()
	assert.Len(t, msgs, 10, "oldest messages are evicted at the cap")
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestRecordStep_MirrorsIntoShortTermAndAdvancesProgress(t *testing.T) {
	s := newTestStore(t)
	s.StartTask("send a message")

	s.RecordStep(schemas.StepRecord{
		Index:   0,
		Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Messages"},
		Success: true,
	})
	s.RecordStep(schemas.StepRecord{
		Index:   1,
		Action:  schemas.Action{Kind: schemas.ActionTap, X: 10, Y: 20},
		Success: false,
		Error:   "nothing happened",
	})

	w := s.Working()
	assert.Len(t, w.Steps, 2)
	assert.Equal(t, 1, w.PlanProgress, "only successful steps advance progress")

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "ok")
	assert.Contains(t, msgs[1].Content, "failed")
	assert.Contains(t, msgs[1].Content, "nothing happened")
}

func TestRecordStep_IgnoredWithoutActiveTask(t *testing.T) {
	s := newTestStore(t)
	s.RecordStep(schemas.StepRecord{Index: 0, Success: true})
	assert.Empty(t, s.Working().Steps)
}

func TestEndTask_RelatedTasksByKeywordOverlap(t *testing.T) {
	s := newTestStore(t)

	s.StartTask("check the weather in Paris")
	s.RecordStep(schemas.StepRecord{
		Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Weather"},
		Success: true,
	})
	s.EndTask(context.Background(), true)

	related := s.GetRelatedTasks("what is the weather tomorrow")
	require.Len(t, related, 1)
	assert.Equal(t, "check the weather in Paris", related[0].Goal)
	assert.True(t, related[0].Success)

	assert.Empty(t, s.GetRelatedTasks("order a pizza"))
	assert.False(t, s.Working().Active, "working memory is flushed on end")
}

func TestEndTask_SuccessReinforcesAppPreference(t *testing.T) {
	s := newTestStore(t)

	runTask := func(success bool) {
		s.StartTask("send a text to Alice")
		s.RecordStep(schemas.StepRecord{
			Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Messages"},
			Success: true,
		})
		s.EndTask(context.Background(), success)
	}

	runTask(true)
	prefs := s.Preferences()
	require.NotEmpty(t, prefs)
	first := prefs[0].Confidence

	runTask(true)
	assert.Greater(t, s.Preferences()[0].Confidence, first, "repetition reinforces")
	assert.LessOrEqual(t, s.Preferences()[0].Confidence, 1.0, "confidence saturates at 1.0")

	s2 := newTestStore(t)
	s2.StartTask("send a text to Bob")
	s2.RecordStep(schemas.StepRecord{
		Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Messages"},
		Success: true,
	})
	s2.EndTask(context.Background(), false)
	assert.Empty(t, s2.Preferences(), "failed tasks teach nothing")
}

func TestPreferenceEviction_LeastUsedGoesFirst(t *testing.T) {
	lt := newLongTermMemory(30, 2)
	lt.reinforce("app_for_search", "Browser")
	lt.reinforce("app_for_search", "Browser") // use count 2
	lt.reinforce("app_for_communication", "Messages")
	lt.reinforce("app_for_media", "Music") // exceeds cap of 2

	_, searchKept := lt.preferences["app_for_search"]
	assert.True(t, searchKept, "most used preference survives")
	assert.Len(t, lt.preferences, 2)
}

func TestBuildWorkingMemoryContext(t *testing.T) {
	s := newTestStore(t)
	assert.Empty(t, s.BuildWorkingMemoryContext(), "no active task, no context")

	s.StartTask("enable dark mode")
	s.UpdatePlan(&schemas.Plan{Steps: []schemas.PlanStep{{Description: "a"}, {Description: "b"}}})
	s.RecordStep(schemas.StepRecord{
		Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Settings"},
		Success: true,
	})

	ctx := s.BuildWorkingMemoryContext()
	assert.Contains(t, ctx, "enable dark mode")
	assert.Contains(t, ctx, "2 steps, 1 passed")
	assert.Contains(t, ctx, "OPEN_APP Settings")
}

func TestBuildLongTermMemoryContext(t *testing.T) {
	s := newTestStore(t)

	s.StartTask("play some music")
	s.RecordStep(schemas.StepRecord{
		Action:  schemas.Action{Kind: schemas.ActionOpenApp, App: "Spotify"},
		Success: true,
	})
	s.EndTask(context.Background(), true)

	ctx := s.BuildLongTermMemoryContext("play my music playlist")
	assert.Contains(t, ctx, "play some music")
	assert.Contains(t, ctx, "Spotify")
	assert.Contains(t, ctx, "Preferred app for media tasks")

	assert.Empty(t, s.BuildLongTermMemoryContext("transfer funds"))
}

func TestInferCategory(t *testing.T) {
	tests := []struct {
		goal string
		want string
	}{
		{"send a message to Bob", "communication"},
		{"navigate to the office", "navigation"},
		{"turn on dark mode in settings", "settings"},
		{"search for coffee nearby", "search"},
		{"hum a tune", ""},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.want, inferCategory(tc.goal), "goal: %s", tc.goal)
	}
}
