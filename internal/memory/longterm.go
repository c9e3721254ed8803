package memory

import (
	"sort"
	"strings"
	"time"
)

// TaskSummary is the long-term record of one finished task.
type TaskSummary struct {
	Goal           string    `json:"goal"`
	Category       string    `json:"category"`
	Success        bool      `json:"success"`
	StepCount      int       `json:"step_count"`
	AppUsed        string    `json:"app_used,omitempty"`
	ActionSequence []string  `json:"action_sequence,omitempty"`
	EndedAt        time.Time `json:"ended_at"`
}

// UserPreference is a learned association, e.g. which app satisfies a task
// category. Confidence saturates at 1.0 under repeated reinforcement.
type UserPreference struct {
	Key        string    `json:"key"`
	Value      string    `json:"value"`
	Confidence float64   `json:"confidence"`
	UseCount   int       `json:"use_count"`
	LastUsed   time.Time `json:"last_used"`
}

// LongTermMemory holds cross-task summaries and preferences, both bounded.
type LongTermMemory struct {
	summaryCap    int
	preferenceCap int

	summaries   []TaskSummary
	preferences map[string]*UserPreference
}

func newLongTermMemory(summaryCap, preferenceCap int) *LongTermMemory {
	return &LongTermMemory{
		summaryCap:    summaryCap,
		preferenceCap: preferenceCap,
		preferences:   make(map[string]*UserPreference),
	}
}

func (l *LongTermMemory) addSummary(summary TaskSummary) {
	l.summaries = append(l.summaries, summary)
	if l.summaryCap > 0 && len(l.summaries) > l.summaryCap {
		l.summaries = l.summaries[len(l.summaries)-l.summaryCap:]
	}
}

// reinforcePreferences derives preference updates from a successful task:
// which app satisfied the inferred category, and the action-kind sequence
// that satisfied it.
func (l *LongTermMemory) reinforcePreferences(summary TaskSummary) {
	if summary.Category == "" {
		return
	}
	if summary.AppUsed != "" {
		l.reinforce("app_for_"+summary.Category, summary.AppUsed)
	}
	if len(summary.ActionSequence) > 0 {
		l.reinforce("actions_for_"+summary.Category, strings.Join(summary.ActionSequence, ","))
	}
}

func (l *LongTermMemory) reinforce(key, value string) {
	now := time.Now().UTC()
	if pref, ok := l.preferences[key]; ok && pref.Value == value {
		pref.Confidence += (1.0 - pref.Confidence) * 0.3 // Saturates toward 1.0.
		if pref.Confidence > 1.0 {
			pref.Confidence = 1.0
		}
		pref.UseCount++
		pref.LastUsed = now
		return
	}

	l.preferences[key] = &UserPreference{
		Key:        key,
		Value:      value,
		Confidence: 0.5,
		UseCount:   1,
		LastUsed:   now,
	}
	l.evictIfNeeded()
}

// evictIfNeeded drops the least-used preference once the cap is exceeded.
func (l *LongTermMemory) evictIfNeeded() {
	if l.preferenceCap <= 0 || len(l.preferences) <= l.preferenceCap {
		return
	}
	var victim string
	for key, pref := range l.preferences {
		if victim == "" {
			victim = key
			continue
		}
		v := l.preferences[victim]
		if pref.UseCount < v.UseCount || (pref.UseCount == v.UseCount && pref.LastUsed.Before(v.LastUsed)) {
			victim = key
		}
	}
	delete(l.preferences, victim)
}

// relatedTasks returns summaries whose goals share at least one significant
// keyword with the given goal, most recent first.
func (l *LongTermMemory) relatedTasks(goal string) []TaskSummary {
	goalWords := significantWords(goal)
	if len(goalWords) == 0 {
		return nil
	}

	var out []TaskSummary
	for i := len(l.summaries) - 1; i >= 0; i-- {
		if overlaps(goalWords, significantWords(l.summaries[i].Goal)) {
			out = append(out, l.summaries[i])
		}
	}
	return out
}

func (l *LongTermMemory) preferenceList() []UserPreference {
	out := make([]UserPreference, 0, len(l.preferences))
	for _, pref := range l.preferences {
		out = append(out, *pref)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// categoryKeywords drives the keyword-overlap category inference. This is a
// lookup, not a classifier.
var categoryKeywords = map[string][]string{
	"communication": {"message", "send", "text", "reply", "call", "email", "chat"},
	"navigation":    {"map", "maps", "navigate", "directions", "route", "drive"},
	"settings":      {"setting", "settings", "wifi", "bluetooth", "brightness", "volume", "dark"},
	"media":         {"play", "music", "video", "photo", "song", "watch"},
	"shopping":      {"buy", "order", "cart", "purchase", "shop"},
	"search":        {"search", "find", "look", "weather", "news"},
}

func inferCategory(goal string) string {
	words := significantWords(goal)
	best, bestScore := "", 0
	keys := make([]string, 0, len(categoryKeywords))
	for k := range categoryKeywords {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, category := range keys {
		score := 0
		for _, kw := range categoryKeywords[category] {
			if words[kw] {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	return best
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "for": true, "of": true,
	"in": true, "on": true, "and": true, "my": true, "me": true, "is": true,
	"it": true, "with": true, "please": true,
}

func significantWords(s string) map[string]bool {
	words := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(s)) {
		w = strings.Trim(w, ".,!?\"'")
		if len(w) > 1 && !stopwords[w] {
			words[w] = true
		}
	}
	return words
}

func overlaps(a, b map[string]bool) bool {
	for w := range a {
		if b[w] {
			return true
		}
	}
	return false
}
