package pipeline

import (
	"context"
	"fmt"
)

// DefaultMaxAttempts bounds generation attempts per run
const DefaultMaxAttempts = 3

// Outcome is the terminal state of a retry loop
type Outcome struct {
	Answer   string
	Attempts int
	Passed   bool
	// Fallback is set when the terminal policy replaced the last draft
	Fallback bool
	// Verification is nil when the last attempt never reached the verifiers
	Verification *Verification
	GateIssues   []string
	// GenerateErr is the generation failure that ended the loop after attempt 1
	GenerateErr error
}

// TerminalPolicy decides what an exhausted loop returns
type TerminalPolicy func(last *Outcome)

// EmitLastDraft keeps the last draft and its failing verification
func EmitLastDraft() TerminalPolicy {
	return func(*Outcome) {}
}

// SubstituteFallback replaces the last draft with fixed safe text
func SubstituteFallback(text func() string) TerminalPolicy {
	return func(last *Outcome) {
		last.Answer = text()
		last.Fallback = true
	}
}

// RetryController runs generate, local gate, verify until a draft passes or attempts run out.
// Attempts are sequential; each one sees the previous attempt's feedback.
type RetryController struct {
	MaxAttempts int
	// Generate produces a draft for attempt (1-based)
	Generate func(ctx context.Context, attempt int, feedback *VerifierFeedback) (string, error)
	// Gate is an optional local pre-filter; any issue skips verification
	Gate func(draft string) []string
	// Verify checks a draft that passed the gate
	Verify func(ctx context.Context, attempt int, draft string) Verification
	// Failed is the verifier predicate
	Failed   func(Verification) bool
	Terminal TerminalPolicy
}

// Run executes the loop. A Generate error on attempt 1 aborts it; a later one ends
// the loop early and the terminal policy applies to the previous draft.
func (c *RetryController) Run(ctx context.Context) (*Outcome, error) {
	maxAttempts := c.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if c.Generate == nil || c.Verify == nil || c.Failed == nil {
		return nil, fmt.Errorf("retry controller is missing a generate, verify or failure function")
	}

	var (
		feedback *VerifierFeedback
		last     Outcome
	)
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		draft, err := c.Generate(ctx, attempt, feedback)
		if err != nil {
			if attempt == 1 {
				return nil, err
			}
			last.GenerateErr = err
			break
		}
		last = Outcome{Answer: draft, Attempts: attempt}

		if c.Gate != nil {
			if issues := c.Gate(draft); len(issues) > 0 {
				last.GateIssues = issues
				feedback = &VerifierFeedback{PolicyIssues: issues}
				continue
			}
		}

		v := c.Verify(ctx, attempt, draft)
		last.Verification = &v
		if !c.Failed(v) {
			last.Passed = true
			return &last, nil
		}
		feedback = FeedbackFrom(v)
	}

	if c.Terminal != nil {
		c.Terminal(&last)
	}
	return &last, nil
}
