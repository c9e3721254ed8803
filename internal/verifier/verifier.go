// Package verifier judges whether an executed action had its intended effect
// by comparing the before/after snapshot pair, and proposes typed recovery
// directives when it did not. Judgments carry a heuristic confidence rather
// than a hard boolean: an action with no visible effect is an ambiguous
// low-confidence success, not a failure.
package verifier

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
	"github.com/king0929zion/Zigent-sub000/internal/config"
)

// Verifier implements per-action-kind verification and retry escalation.
type Verifier struct {
	cfg    config.VerifierConfig
	logger *zap.Logger

	mu       sync.Mutex
	failures map[string][]time.Time
	now      func() time.Time
}

// New creates a Verifier.
func New(cfg config.VerifierConfig, logger *zap.Logger) *Verifier {
	return &Verifier{
		cfg:      cfg,
		logger:   logger.Named("verifier"),
		failures: make(map[string][]time.Time),
		now:      time.Now,
	}
}

// Verify dispatches on the action kind and returns a judgment over the
// before/after pair. hint may be nil.
func (v *Verifier) Verify(action schemas.Action, before, after *schemas.Snapshot, hint *schemas.PlanStep) schemas.VerificationResult {
	// Waits and terminal actions have nothing to confirm.
	if !action.NeedsVerification() {
		return schemas.Verified("no verification required")
	}

	if after == nil || after.Degraded {
		return schemas.VerifiedWithConfidence("after-state unavailable, effect unconfirmed", 0.3)
	}

	var result schemas.VerificationResult
	switch action.Kind {
	case schemas.ActionOpenApp:
		result = v.verifyOpenApp(action, after)
	case schemas.ActionCloseApp:
		result = v.verifyCloseApp(action, before, after)
	case schemas.ActionInputText:
		result = v.verifyInputText(action, after)
	case schemas.ActionClearText:
		result = v.verifyClearText(before, after)
	case schemas.ActionTap, schemas.ActionLongPress, schemas.ActionDoubleTap:
		result = v.verifyPointer(action, before, after, hint)
	case schemas.ActionScroll, schemas.ActionSwipe, schemas.ActionSwipeCustom:
		result = v.verifyScroll(before, after)
	case schemas.ActionKeyPress:
		result = v.verifyKeyPress(action, before, after)
	default:
		result = v.verifyDefault(before, after)
	}

	v.logger.Debug("Verification complete",
		zap.String("kind", string(action.Kind)),
		zap.Bool("success", result.Success),
		zap.Float64("confidence", result.Confidence),
	)
	return result
}

var chooserMarkers = []string{"launcher", "resolver", "chooser", "home"}

var launcherMarkers = []string{"launcher", "home", "trebuchet", "pixel.launcher"}

func (v *Verifier) verifyOpenApp(action schemas.Action, after *schemas.Snapshot) schemas.VerificationResult {
	fg := strings.ToLower(after.ForegroundApp)

	if appMatches(action.App, after.ForegroundApp) {
		return schemas.Verified(fmt.Sprintf("foreground app is %s", after.ForegroundApp))
	}

	for _, marker := range chooserMarkers {
		if strings.Contains(fg, marker) {
			return schemas.Unverified(
				fmt.Sprintf("an app chooser or launcher (%s) is in the foreground instead of %s", after.ForegroundApp, action.App),
				0.5,
			)
		}
	}

	return schemas.Unverified(
		fmt.Sprintf("expected %s in the foreground, found %s", action.App, after.ForegroundApp),
		0.8,
	)
}

func (v *Verifier) verifyCloseApp(action schemas.Action, before, after *schemas.Snapshot) schemas.VerificationResult {
	if isLauncher(after.ForegroundApp) {
		return schemas.Verified("home launcher is in the foreground")
	}
	if before != nil && before.ForegroundApp != after.ForegroundApp {
		return schemas.Verified(fmt.Sprintf("foreground changed to %s", after.ForegroundApp))
	}
	return schemas.Unverified(fmt.Sprintf("%s still appears to be in the foreground", after.ForegroundApp), 0.7)
}

func (v *Verifier) verifyInputText(action schemas.Action, after *schemas.Snapshot) schemas.VerificationResult {
	expected := strings.ToLower(strings.TrimSpace(action.Text))
	if expected == "" {
		return schemas.VerifiedWithConfidence("no expected text to confirm", 0.5)
	}

	for _, el := range after.FindEditable() {
		if strings.Contains(strings.ToLower(el.DisplayText()), expected) {
			return schemas.Verified(fmt.Sprintf("editable element contains %q", action.Text))
		}
	}

	for _, el := range after.Elements {
		if strings.Contains(strings.ToLower(el.DisplayText()), expected) {
			return schemas.VerifiedWithConfidence(
				fmt.Sprintf("text %q found, but not in an editable element", action.Text), 0.7)
		}
	}

	return schemas.Unverified(fmt.Sprintf("text %q not found on screen", action.Text), 0.8)
}

func (v *Verifier) verifyClearText(before, after *schemas.Snapshot) schemas.VerificationResult {
	afterLen := editableTextLength(after)
	if afterLen == 0 {
		return schemas.Verified("editable fields are empty")
	}
	if before != nil && afterLen < editableTextLength(before) {
		return schemas.Verified("editable text length decreased")
	}
	return schemas.Unverified("editable text was not cleared", 0.8)
}

func (v *Verifier) verifyPointer(action schemas.Action, before, after *schemas.Snapshot, hint *schemas.PlanStep) schemas.VerificationResult {
	if changed, reason := v.stateChanged(before, after); changed {
		return schemas.Verified("screen state changed: " + reason)
	}

	// A tap on an input-like target that summons the keyboard shifts
	// existing elements upward without changing the text set.
	if targetsInput(action, hint) && v.keyboardShiftDetected(before, after) {
		return schemas.VerifiedWithConfidence("keyboard appears to have opened", 0.9)
	}

	return schemas.VerifiedWithConfidence("gesture delivered but no visible effect observed", 0.4)
}

func (v *Verifier) verifyScroll(before, after *schemas.Snapshot) schemas.VerificationResult {
	if !equalStringSlices(before.ElementTexts(), after.ElementTexts()) {
		return schemas.Verified("visible content changed")
	}
	if v.keyboardShiftDetected(before, after) {
		return schemas.VerifiedWithConfidence("elements shifted position", 0.7)
	}
	return schemas.VerifiedWithConfidence("content unchanged, likely scrolled to an edge", 0.4)
}

func (v *Verifier) verifyKeyPress(action schemas.Action, before, after *schemas.Snapshot) schemas.VerificationResult {
	switch action.Key {
	case schemas.KeyBack:
		if before != nil && (before.ForegroundApp != after.ForegroundApp || before.Page != after.Page) {
			return schemas.Verified("navigation context changed")
		}
		if changed, reason := v.stateChanged(before, after); changed {
			return schemas.Verified("screen state changed: " + reason)
		}
		return schemas.VerifiedWithConfidence("back press delivered but no visible change", 0.4)
	case schemas.KeyHome:
		if isLauncher(after.ForegroundApp) {
			return schemas.Verified("home launcher is in the foreground")
		}
		return schemas.Unverified(fmt.Sprintf("expected the launcher, found %s", after.ForegroundApp), 0.7)
	default:
		return v.verifyDefault(before, after)
	}
}

func (v *Verifier) verifyDefault(before, after *schemas.Snapshot) schemas.VerificationResult {
	if changed, reason := v.stateChanged(before, after); changed {
		return schemas.Verified("screen state changed: " + reason)
	}
	return schemas.Unverified("no observable state change", 0.6)
}

// appMatches compares an app name against a foreground package id, exactly
// or fuzzily (substring either direction against normalized keywords).
func appMatches(app, foreground string) bool {
	if app == "" || foreground == "" {
		return false
	}
	appNorm := normalizeAppID(app)
	fgNorm := normalizeAppID(foreground)
	if appNorm == fgNorm {
		return true
	}
	if strings.Contains(fgNorm, appNorm) || strings.Contains(appNorm, fgNorm) {
		return true
	}
	for _, word := range strings.Fields(strings.ToLower(app)) {
		if len(word) >= 3 && strings.Contains(fgNorm, word) {
			return true
		}
	}
	return false
}

func normalizeAppID(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), " ", "")
}

func isLauncher(foreground string) bool {
	fg := strings.ToLower(foreground)
	for _, marker := range launcherMarkers {
		if strings.Contains(fg, marker) {
			return true
		}
	}
	return false
}

// targetsInput guesses whether a pointer action aimed at something
// input/search-like.
func targetsInput(action schemas.Action, hint *schemas.PlanStep) bool {
	descriptions := []string{strings.ToLower(action.Target)}
	if hint != nil {
		descriptions = append(descriptions, strings.ToLower(hint.TargetElement), strings.ToLower(hint.Description))
	}
	for _, d := range descriptions {
		if d == "" {
			continue
		}
		for _, marker := range []string{"search", "input", "field", "text box", "textbox", "edit"} {
			if strings.Contains(d, marker) {
				return true
			}
		}
	}
	return false
}

func editableTextLength(snap *schemas.Snapshot) int {
	total := 0
	for _, el := range snap.FindEditable() {
		total += len(el.DisplayText())
	}
	return total
}

func equalStringSlices(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
