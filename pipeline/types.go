package pipeline

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"finexplain/rag"
)

// Signals are four hedged interpretations of the bundle, one per data dimension
type Signals struct {
	FinancialSignal string `json:"financial_signal"`
	EventSignal     string `json:"event_signal"`
	MarketSignal    string `json:"market_signal"`
	PeerSignal      string `json:"peer_signal"`
}

// signalsWire enforces presence of all four keys; values may be empty strings
type signalsWire struct {
	FinancialSignal *string `json:"financial_signal" validate:"required"`
	EventSignal     *string `json:"event_signal" validate:"required"`
	MarketSignal    *string `json:"market_signal" validate:"required"`
	PeerSignal      *string `json:"peer_signal" validate:"required"`
}

func (w signalsWire) signals() Signals {
	return Signals{
		FinancialSignal: *w.FinancialSignal,
		EventSignal:     *w.EventSignal,
		MarketSignal:    *w.MarketSignal,
		PeerSignal:      *w.PeerSignal,
	}
}

// Agreement is the market-agreement outcome
type Agreement string

const (
	AgreementAgree    Agreement = "동의"
	AgreementPartial  Agreement = "부분 동의"
	AgreementDisagree Agreement = "불일치"
)

// normalizeAgreement accepts the Korean labels and their English equivalents
func normalizeAgreement(s string) (Agreement, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "동의", "agree":
		return AgreementAgree, true
	case "부분 동의", "부분동의", "partial", "partially agree":
		return AgreementPartial, true
	case "불일치", "disagree":
		return AgreementDisagree, true
	}
	return "", false
}

// MarketCheck scores whether market behavior agrees with the story
type MarketCheck struct {
	Agreement Agreement `json:"agreement" validate:"required"`
	Reason    string    `json:"reason"`
}

// PeerAdjust tempers the story with peer and industry context
type PeerAdjust struct {
	Adjustment        string `json:"adjustment"`
	IndustryVsCompany string `json:"industry_vs_company"`
}

// peerAdjustWire requires the adjustment key but accepts an empty value
type peerAdjustWire struct {
	Adjustment        *string `json:"adjustment" validate:"required"`
	IndustryVsCompany string  `json:"industry_vs_company"`
}

func (w peerAdjustWire) peerAdjust() PeerAdjust {
	return PeerAdjust{Adjustment: *w.Adjustment, IndustryVsCompany: w.IndustryVsCompany}
}

// Verdict is the policy verifier outcome
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictWarn Verdict = "WARN"
	VerdictFail Verdict = "FAIL"
)

// Violation is one flagged sentence
type Violation struct {
	Type     string `json:"type"`
	Sentence string `json:"sentence"`
	Reason   string `json:"reason"`
}

// PolicyResult is the policy verifier's verdict on a draft
type PolicyResult struct {
	Verdict    Verdict     `json:"verdict" validate:"required,oneof=PASS WARN FAIL"`
	Violations []Violation `json:"violations"`
	Suggestion string      `json:"suggestion,omitempty"`
	Reasons    []string    `json:"reasons,omitempty"`
}

// ConsistencyResult is the consistency verifier's verdict on a draft
type ConsistencyResult struct {
	OK                    bool     `json:"ok"`
	NumericOrPeriodIssues []string `json:"numeric_or_period_issues"`
	LogicDirectionIssues  []string `json:"logic_direction_issues"`
	Notes                 string   `json:"notes,omitempty"`
}

// HasIssues reports whether either issue list is non-empty
func (c ConsistencyResult) HasIssues() bool {
	return len(c.NumericOrPeriodIssues) > 0 || len(c.LogicDirectionIssues) > 0
}

// Verification pairs both verifier results for one draft
type Verification struct {
	Policy      PolicyResult      `json:"policy"`
	Consistency ConsistencyResult `json:"consistency"`
}

// Failed is the combined failure predicate. Non-strict mode only counts consistency
// issues when the verifier also reported ok=false.
func (v Verification) Failed(strict bool) bool {
	if v.Policy.Verdict != VerdictPass {
		return true
	}
	if !v.Consistency.HasIssues() {
		return false
	}
	return strict || !v.Consistency.OK
}

// ViolationTypes lists distinct policy violation types in order of appearance
func (v Verification) ViolationTypes() []string {
	seen := make(map[string]bool)
	var out []string
	for _, viol := range v.Policy.Violations {
		if viol.Type == "" || seen[viol.Type] {
			continue
		}
		seen[viol.Type] = true
		out = append(out, viol.Type)
	}
	return out
}

// VerifierFeedback carries a failed attempt's issues into the next generation
type VerifierFeedback struct {
	PolicyIssues      []string `json:"policy_issues"`
	ConsistencyIssues []string `json:"consistency_issues"`
}

// Empty reports whether there is nothing to feed back
func (f *VerifierFeedback) Empty() bool {
	return f == nil || (len(f.PolicyIssues) == 0 && len(f.ConsistencyIssues) == 0)
}

// FeedbackFrom collects the issues of a failed verification
func FeedbackFrom(v Verification) *VerifierFeedback {
	fb := &VerifierFeedback{}
	for _, viol := range v.Policy.Violations {
		issue := viol.Type
		if viol.Sentence != "" {
			issue += ": " + viol.Sentence
		}
		if viol.Reason != "" {
			issue += " (" + viol.Reason + ")"
		}
		fb.PolicyIssues = append(fb.PolicyIssues, issue)
	}
	fb.PolicyIssues = append(fb.PolicyIssues, v.Policy.Reasons...)
	if v.Policy.Suggestion != "" {
		fb.PolicyIssues = append(fb.PolicyIssues, "rewrite hint: "+v.Policy.Suggestion)
	}
	fb.ConsistencyIssues = append(fb.ConsistencyIssues, v.Consistency.NumericOrPeriodIssues...)
	fb.ConsistencyIssues = append(fb.ConsistencyIssues, v.Consistency.LogicDirectionIssues...)
	return fb
}

// Run is the correlation identity of one pipeline execution
type Run struct {
	RunID         string    `json:"run_id"`
	InputHash     string    `json:"input_hash"`
	Symbol        string    `json:"symbol"`
	Question      string    `json:"question,omitempty"`
	PromptVersion string    `json:"prompt_version"`
	CreatedAt     time.Time `json:"created_at"`
}

// NewRun assigns a fresh run id
func NewRun(symbol, question, inputHash, promptVersion string, now time.Time) Run {
	return Run{
		RunID:         uuid.New().String(),
		InputHash:     inputHash,
		Symbol:        strings.ToUpper(symbol),
		Question:      question,
		PromptVersion: promptVersion,
		CreatedAt:     now.UTC(),
	}
}

// JudgementRequest starts a judgement run
type JudgementRequest struct {
	Symbol   string `json:"symbol" validate:"required,max=32"`
	Question string `json:"question,omitempty" validate:"max=2000"`
}

// JudgementResult is everything one judgement run produced
type JudgementResult struct {
	Run          Run          `json:"run"`
	Bundle       *rag.Bundle  `json:"rag"`
	Signals      Signals      `json:"signals"`
	Story        string       `json:"story"`
	MarketCheck  MarketCheck  `json:"market_check"`
	PeerAdjust   PeerAdjust   `json:"peer_adjust"`
	Answer       string       `json:"answer"`
	Attempts     int          `json:"attempts"`
	Passed       bool         `json:"passed"`
	Verification Verification `json:"verifier"`
}
