package pipeline

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finexplain/llm"
)

// Failure reasons recorded when a verifier cannot produce a verdict
const (
	ReasonPolicyCallFailed       = "policy_verifier_call_failed"
	ReasonPolicyParseFailed      = "policy_verifier_parse_failed"
	ReasonConsistencyCallFailed  = "consistency_verifier_call_failed"
	ReasonConsistencyParseFailed = "consistency_verifier_parse_failed"
)

// DualVerifier runs the policy and consistency checks against one draft in parallel
type DualVerifier struct {
	policy      llm.Provider
	consistency llm.Provider
	strict      bool
	logger      *zap.Logger
}

// NewDualVerifier creates the verifier. A nil consistency provider selects the regex-only check.
func NewDualVerifier(policy, consistency llm.Provider, strict bool, logger *zap.Logger) *DualVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DualVerifier{
		policy:      policy,
		consistency: consistency,
		strict:      strict,
		logger:      logger,
	}
}

// Verify checks draft. reference is the material the draft was derived from.
// Verifier failures become failing verdicts, never errors.
func (v *DualVerifier) Verify(ctx context.Context, draft, reference string) Verification {
	var out Verification

	var g errgroup.Group
	g.Go(func() error {
		out.Policy = v.checkPolicy(ctx, draft)
		return nil
	})
	g.Go(func() error {
		out.Consistency = v.checkConsistency(ctx, draft, reference)
		return nil
	})
	_ = g.Wait()

	return out
}

// Failed applies the combined failure predicate with this verifier's strictness
func (v *DualVerifier) Failed(res Verification) bool {
	return res.Failed(v.strict)
}

func (v *DualVerifier) checkPolicy(ctx context.Context, draft string) PolicyResult {
	raw, err := v.policy.Complete(ctx, llm.Request{
		Purpose:     PurposePolicyVerify,
		System:      policyVerifySystem,
		Prompt:      PolicyVerifyPrompt(draft),
		Temperature: 0.01,
	})
	if err != nil {
		v.logger.Warn("policy verifier call failed", zap.Error(err))
		return PolicyResult{Verdict: VerdictFail, Reasons: []string{ReasonPolicyCallFailed}}
	}

	res, err := llm.DecodeJSON[PolicyResult](PurposePolicyVerify, raw)
	if err != nil {
		v.logger.Warn("policy verifier output unparseable", zap.Error(err))
		return PolicyResult{Verdict: VerdictFail, Reasons: []string{ReasonPolicyParseFailed}}
	}
	return res
}

func (v *DualVerifier) checkConsistency(ctx context.Context, draft, reference string) ConsistencyResult {
	if v.consistency == nil {
		return RegexConsistency(draft)
	}

	raw, err := v.consistency.Complete(ctx, llm.Request{
		Purpose:     PurposeConsistencyVerify,
		System:      consistencyVerifySystem,
		Prompt:      ConsistencyVerifyPrompt(draft, reference),
		Temperature: 0.01,
	})
	if err != nil {
		v.logger.Warn("consistency verifier call failed", zap.Error(err))
		return ConsistencyResult{OK: false, LogicDirectionIssues: []string{ReasonConsistencyCallFailed}}
	}

	res, err := llm.DecodeJSON[ConsistencyResult](PurposeConsistencyVerify, raw)
	if err != nil {
		v.logger.Warn("consistency verifier output unparseable", zap.Error(err))
		return ConsistencyResult{OK: false, LogicDirectionIssues: []string{ReasonConsistencyParseFailed}}
	}
	return res
}
