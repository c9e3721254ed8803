package verifier

import (
	"fmt"

	"github.com/king0929zion/Zigent-sub000/api/schemas"
)

// stateChanged reports whether any observable aspect of the screen differs
// between the pair: foreground app, page identity, element count beyond the
// configured tolerance, or the sorted element-text multiset.
func (v *Verifier) stateChanged(before, after *schemas.Snapshot) (bool, string) {
	if before == nil || after == nil {
		return false, ""
	}

	if before.ForegroundApp != after.ForegroundApp {
		return true, fmt.Sprintf("foreground %s -> %s", before.ForegroundApp, after.ForegroundApp)
	}
	if before.Page != after.Page {
		return true, fmt.Sprintf("page %s -> %s", before.Page, after.Page)
	}

	diff := len(after.Elements) - len(before.Elements)
	if diff < 0 {
		diff = -diff
	}
	if diff > v.cfg.ElementCountTolerance {
		return true, fmt.Sprintf("element count %d -> %d", len(before.Elements), len(after.Elements))
	}

	if !equalStringSlices(before.ElementTexts(), after.ElementTexts()) {
		return true, "visible texts changed"
	}

	return false, ""
}

// keyboardShiftDetected fires when any element with the same text moved
// vertically by more than the configured threshold, the typical signature of
// a soft keyboard pushing content up.
func (v *Verifier) keyboardShiftDetected(before, after *schemas.Snapshot) bool {
	if before == nil || after == nil {
		return false
	}

	threshold := v.cfg.KeyboardShiftPx
	if threshold <= 0 {
		threshold = 100
	}

	beforeByText := make(map[string]int)
	for _, el := range before.Elements {
		if t := el.DisplayText(); t != "" {
			_, cy := el.Bounds.Center()
			beforeByText[t] = cy
		}
	}

	for _, el := range after.Elements {
		t := el.DisplayText()
		if t == "" {
			continue
		}
		prevY, ok := beforeByText[t]
		if !ok {
			continue
		}
		_, cy := el.Bounds.Center()
		shift := cy - prevY
		if shift < 0 {
			shift = -shift
		}
		if shift > threshold {
			return true
		}
	}
	return false
}
