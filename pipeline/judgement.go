package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"finexplain/llm"
	"finexplain/rag"
)

// Collector gathers the documents for a symbol
type Collector interface {
	Collect(ctx context.Context, symbol string) *rag.Collection
}

// Options tune a Pipeline
type Options struct {
	MaxAttempts           int
	SignalBudgetChars     int
	CompactRefBudgetChars int
	PromptVersion         string
	RagVersion            string
	StrictConsistency     bool
}

// DefaultOptions mirrors the config defaults
func DefaultOptions() Options {
	return Options{
		MaxAttempts:           DefaultMaxAttempts,
		SignalBudgetChars:     120000,
		CompactRefBudgetChars: 8000,
		PromptVersion:         "judgement-v3",
		RagVersion:            "rag-v1",
	}
}

// Pipeline runs the judgement and chat state machines
type Pipeline struct {
	collector Collector
	provider  llm.Provider
	stages    *Stages
	verifier  *DualVerifier
	opts      Options
	logger    *zap.Logger
	validate  *validator.Validate
	now       func() time.Time
}

// New creates a pipeline. consistency may be nil for the regex-only consistency check.
func New(collector Collector, provider, consistency llm.Provider, opts Options, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultOptions()
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = def.MaxAttempts
	}
	if opts.SignalBudgetChars <= 0 {
		opts.SignalBudgetChars = def.SignalBudgetChars
	}
	if opts.CompactRefBudgetChars <= 0 {
		opts.CompactRefBudgetChars = def.CompactRefBudgetChars
	}
	if opts.PromptVersion == "" {
		opts.PromptVersion = def.PromptVersion
	}
	if opts.RagVersion == "" {
		opts.RagVersion = def.RagVersion
	}

	return &Pipeline{
		collector: collector,
		provider:  provider,
		stages:    NewStages(provider, opts.SignalBudgetChars, logger),
		verifier:  NewDualVerifier(provider, consistency, opts.StrictConsistency, logger),
		opts:      opts,
		logger:    logger,
		validate:  validator.New(),
		now:       time.Now,
	}
}

// RunJudgement executes collect → bundle → signals → story → (market check ∥ peer adjust) →
// final judgement with verify-and-retry, emitting each stage in order. A fatal error emits
// error then done and is returned.
func (p *Pipeline) RunJudgement(ctx context.Context, req JudgementRequest, em Emitter) (*JudgementResult, error) {
	s := newStream(em, p.logger)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Question = strings.TrimSpace(req.Question)

	s.status(StageStart, 0)
	if err := p.validate.Struct(req); err != nil {
		err = &StageError{Stage: StageStart, Err: err}
		s.fail(err)
		return nil, err
	}

	s.status(StageCollect, 0)
	collection := p.collector.Collect(ctx, req.Symbol)
	bundle := rag.Build(p.opts.RagVersion, req.Symbol, collection.Docs, p.now())
	inputHash := rag.InputHash(req.Symbol, req.Question, p.opts.RagVersion, bundle.Docs)
	run := NewRun(req.Symbol, req.Question, inputHash, p.opts.PromptVersion, p.now())
	log := p.logger.With(zap.String("run_id", run.RunID), zap.String("symbol", run.Symbol))

	minimized := rag.Minimize(bundle)
	s.emit(EventRag, RagPayload{RunID: run.RunID, InputHash: inputHash, RagMeta: bundle.Meta(collection.Failed)})
	s.emit(EventRagBundle, map[string]any{"rag": minimized})

	result := &JudgementResult{Run: run, Bundle: minimized}

	s.status(StageSignalExtract, 0)
	log.Debug("stage started", zap.String("stage", StageSignalExtract), zap.Int("docs", len(bundle.Docs)))
	signals, err := p.stages.ExtractSignals(ctx, req.Symbol, req.Question, bundle)
	if err != nil {
		log.Error("signal extraction failed", zap.Error(err))
		s.fail(err)
		return nil, err
	}
	result.Signals = signals
	s.emit(EventSignal, map[string]any{"signals": signals})

	s.status(StageStoryLink, 0)
	log.Debug("stage started", zap.String("stage", StageStoryLink))
	story, err := p.stages.LinkStory(ctx, signals)
	if err != nil {
		log.Error("story linking failed", zap.Error(err))
		s.fail(err)
		return nil, err
	}
	result.Story = story
	s.emit(EventStory, map[string]any{"story": story})

	// Both depend only on the story; events still go out in order
	var (
		g          errgroup.Group
		marketDone = make(chan struct{})
	)
	g.Go(func() error {
		defer close(marketDone)
		result.MarketCheck = p.stages.CheckMarket(ctx, signals.MarketSignal, story)
		return nil
	})
	g.Go(func() error {
		result.PeerAdjust = p.stages.AdjustForPeers(ctx, signals.PeerSignal, story)
		return nil
	})

	s.status(StageMarketCheck, 0)
	<-marketDone
	s.emit(EventMarketCheck, map[string]any{"marketCheck": result.MarketCheck})

	s.status(StagePeerAdjust, 0)
	_ = g.Wait()
	s.emit(EventPeerAdjust, map[string]any{"peerAdjust": result.PeerAdjust})

	in := FinalJudgementInput{
		Symbol:      req.Symbol,
		Question:    req.Question,
		Signals:     signals,
		Story:       story,
		MarketCheck: result.MarketCheck,
		PeerAdjust:  result.PeerAdjust,
		CompactRefs: rag.CompactRefs(bundle, p.opts.CompactRefBudgetChars),
	}
	reference := StoryLinkPrompt(signals) + "\n" + story

	ctrl := &RetryController{
		MaxAttempts: p.opts.MaxAttempts,
		Generate: func(ctx context.Context, attempt int, fb *VerifierFeedback) (string, error) {
			s.status(StageFinalJudgement, attempt)
			log.Debug("stage started", zap.String("stage", StageFinalJudgement), zap.Int("attempt", attempt))
			draft, err := p.stages.GenerateJudgement(ctx, in, fb)
			if err != nil {
				return "", err
			}
			return EnsureDisclaimer(draft, JudgementDisclaimer), nil
		},
		Verify: func(ctx context.Context, attempt int, draft string) Verification {
			s.status(StageVerify, attempt)
			v := p.verifier.Verify(ctx, draft, reference)
			log.Debug("draft verified",
				zap.Int("attempt", attempt),
				zap.String("policy", string(v.Policy.Verdict)),
				zap.Bool("consistency_ok", v.Consistency.OK),
			)
			return v
		},
		Failed:   p.verifier.Failed,
		Terminal: EmitLastDraft(),
	}

	outcome, err := ctrl.Run(ctx)
	if err != nil {
		log.Error("final judgement failed", zap.Error(err))
		s.fail(err)
		return nil, err
	}

	result.Answer = EnsureDisclaimer(outcome.Answer, JudgementDisclaimer)
	result.Attempts = outcome.Attempts
	result.Passed = outcome.Passed
	if outcome.Verification != nil {
		result.Verification = *outcome.Verification
	}
	switch {
	case outcome.GenerateErr != nil:
		log.Warn("generation failed, emitting previous draft",
			zap.Int("attempts", outcome.Attempts), zap.Error(outcome.GenerateErr))
	case !outcome.Passed:
		log.Warn("retries exhausted, emitting last draft", zap.Int("attempts", outcome.Attempts))
	}

	s.emit(EventFinal, FinalPayload{
		RunID:     run.RunID,
		InputHash: inputHash,
		Answer:    result.Answer,
		Attempts:  result.Attempts,
		Passed:    result.Passed,
		Verifier:  result.Verification,
	})
	s.done()

	log.Info("judgement run finished", zap.Int("attempts", result.Attempts), zap.Bool("passed", result.Passed))
	return result, nil
}
