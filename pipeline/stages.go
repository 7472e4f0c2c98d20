package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"finexplain/llm"
	"finexplain/rag"
)

const (
	marketCheckFallbackReason = "응답 해석에 실패하여 보수적으로 부분 동의로 처리했습니다"
	storyLinkMaxCalls         = 2
)

// Stages wraps the generative LLM calls of the judgement pipeline.
// Each method is one request (the story linker may issue a second one on empty output).
type Stages struct {
	llm          llm.Provider
	signalBudget int
	logger       *zap.Logger
}

// NewStages creates the stage runner
func NewStages(provider llm.Provider, signalBudget int, logger *zap.Logger) *Stages {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stages{llm: provider, signalBudget: signalBudget, logger: logger}
}

// ExtractSignals reduces the bundle to four signals. Call and parse failures are fatal.
func (s *Stages) ExtractSignals(ctx context.Context, symbol, question string, bundle *rag.Bundle) (Signals, error) {
	bundleJSON, err := rag.TruncatedJSON(rag.PromptView(bundle), s.signalBudget)
	if err != nil {
		return Signals{}, &StageError{Stage: StageSignalExtract, Err: err}
	}

	raw, err := s.llm.Complete(ctx, llm.Request{
		Purpose: PurposeSignalExtract,
		System:  signalExtractSystem,
		Prompt:  SignalExtractPrompt(symbol, question, bundleJSON),
	})
	if err != nil {
		return Signals{}, &StageError{Stage: StageSignalExtract, Err: err}
	}

	wire, err := llm.DecodeJSON[signalsWire](PurposeSignalExtract, raw)
	if err != nil {
		return Signals{}, &StageError{Stage: StageSignalExtract, Err: err}
	}
	return wire.signals(), nil
}

// LinkStory produces the hedged causal narrative. An empty answer is retried once,
// then replaced by EmptyStoryPlaceholder.
func (s *Stages) LinkStory(ctx context.Context, signals Signals) (string, error) {
	req := llm.Request{
		Purpose: PurposeStoryLink,
		System:  storyLinkSystem,
		Prompt:  StoryLinkPrompt(signals),
	}

	for call := 1; call <= storyLinkMaxCalls; call++ {
		raw, err := s.llm.Complete(ctx, req)
		if err != nil {
			return "", &StageError{Stage: StageStoryLink, Err: err}
		}
		if story := strings.TrimSpace(raw); story != "" {
			return story, nil
		}
		s.logger.Warn("story linker returned empty text", zap.Int("call", call), zap.Error(ErrEmptyStory))
	}
	return EmptyStoryPlaceholder, nil
}

// CheckMarket scores market agreement. Failures degrade to a conservative partial agreement.
func (s *Stages) CheckMarket(ctx context.Context, marketSignal, story string) MarketCheck {
	fallback := MarketCheck{Agreement: AgreementPartial, Reason: marketCheckFallbackReason}

	raw, err := s.llm.Complete(ctx, llm.Request{
		Purpose: PurposeMarketCheck,
		System:  marketCheckSystem,
		Prompt:  MarketCheckPrompt(marketSignal, story),
	})
	if err != nil {
		s.logger.Warn("market check call failed, using fallback", zap.Error(err))
		return fallback
	}

	mc, err := llm.DecodeJSON[MarketCheck](PurposeMarketCheck, raw)
	if err != nil {
		s.logger.Warn("market check unparseable, using fallback", zap.Error(err))
		return fallback
	}
	agreement, ok := normalizeAgreement(string(mc.Agreement))
	if !ok {
		s.logger.Warn("market check returned unknown agreement", zap.String("agreement", string(mc.Agreement)))
		return fallback
	}
	mc.Agreement = agreement
	return mc
}

// AdjustForPeers tempers the story with peer context. Parse failures keep the raw text.
func (s *Stages) AdjustForPeers(ctx context.Context, peerSignal, story string) PeerAdjust {
	raw, err := s.llm.Complete(ctx, llm.Request{
		Purpose: PurposePeerAdjust,
		System:  peerAdjustSystem,
		Prompt:  PeerAdjustPrompt(peerSignal, story),
	})
	if err != nil {
		s.logger.Warn("peer adjust call failed, using fallback", zap.Error(err))
		return PeerAdjust{}
	}

	wire, err := llm.DecodeJSON[peerAdjustWire](PurposePeerAdjust, raw)
	if err != nil {
		s.logger.Debug("peer adjust unparseable, keeping raw text", zap.Error(err))
		return PeerAdjust{Adjustment: strings.TrimSpace(raw), IndustryVsCompany: ""}
	}
	return wire.peerAdjust()
}

// GenerateJudgement writes one final judgement draft
func (s *Stages) GenerateJudgement(ctx context.Context, in FinalJudgementInput, feedback *VerifierFeedback) (string, error) {
	raw, err := s.llm.Complete(ctx, llm.Request{
		Purpose: PurposeFinalJudgement,
		System:  finalJudgementSystem,
		Prompt:  FinalJudgementPrompt(in, feedback),
	})
	if err != nil {
		return "", &StageError{Stage: StageFinalJudgement, Err: err}
	}
	return strings.TrimSpace(raw), nil
}
