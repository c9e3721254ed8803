package schemas

// RetryType enumerates the typed recovery strategies the verifier can
// propose after a failed verification.
type RetryType string

const (
	RetryUnchanged    RetryType = "RETRY"          // Re-issue the same action.
	RetryAdjusted     RetryType = "RETRY_ADJUSTED" // Re-issue with an adjusted action (e.g. nudged coordinates).
	RetryAfterWait    RetryType = "WAIT_THEN_RETRY"
	RetryAfterScroll  RetryType = "SCROLL_THEN_RETRY"
	RetrySkipOptional RetryType = "SKIP_OPTIONAL_STEP"
	RetryUseFallback  RetryType = "USE_FALLBACK"
	RetryAbort        RetryType = "ABORT"
)

// RetryDirective tells the engine how to recover from a failed action. The
// Type discriminates which auxiliary fields are meaningful.
type RetryDirective struct {
	Type           RetryType `json:"type"`
	Reason         string    `json:"reason"`
	AdjustedAction *Action   `json:"adjusted_action,omitempty"` // Set for RETRY_ADJUSTED.
	WaitMs         int       `json:"wait_ms,omitempty"`         // Set for WAIT_THEN_RETRY.
}

// VerificationResult is the verifier's judgment of whether an action had its
// intended effect. Confidence is a heuristic weight in [0,1], not a
// probability: low-confidence success is allowed to proceed, while explicit
// failure triggers the retry pipeline.
type VerificationResult struct {
	Success     bool            `json:"success"`
	Message     string          `json:"message"`
	Confidence  float64         `json:"confidence"`
	Suggestion  string          `json:"suggestion,omitempty"`
	Retry       *RetryDirective `json:"retry,omitempty"`
	CanContinue bool            `json:"can_continue"`
}

// Verified is shorthand for an unambiguous success.
func Verified(message string) VerificationResult {
	return VerificationResult{Success: true, Message: message, Confidence: 1.0, CanContinue: true}
}

// VerifiedWithConfidence builds a success at reduced confidence.
func VerifiedWithConfidence(message string, confidence float64) VerificationResult {
	return VerificationResult{Success: true, Message: message, Confidence: confidence, CanContinue: true}
}

// Unverified builds a failure at the given confidence in that failure call.
func Unverified(message string, confidence float64) VerificationResult {
	return VerificationResult{Success: false, Message: message, Confidence: confidence, CanContinue: true}
}
