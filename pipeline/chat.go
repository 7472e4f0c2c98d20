package pipeline

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"finexplain/llm"
	"finexplain/market"
	"finexplain/rag"
)

// ChatRequest is one chat question about the chart currently on screen
type ChatRequest struct {
	Symbol    string          `json:"symbol" validate:"required,max=32"`
	Interval  string          `json:"interval"`
	View      string          `json:"view"`
	Question  string          `json:"question" validate:"required,max=2000"`
	OHLCV     []market.Candle `json:"ohlcv,omitempty"`
	Screener  map[string]any  `json:"screener,omitempty"`
	Consensus map[string]any  `json:"consensus,omitempty"`
}

// GroundingSource is one reference collected during grounding
type GroundingSource struct {
	Title string `json:"title"`
	URL   string `json:"url"`
}

// Grounding is the topic and source context for a chat answer
type Grounding struct {
	Topics  []string          `json:"topics"`
	Sources []GroundingSource `json:"sources"`
}

// ChatResult is everything one chat run produced
type ChatResult struct {
	Request      ChatRequest   `json:"request"`
	Grounding    Grounding     `json:"grounding"`
	Answer       string        `json:"answer"`
	Fallback     bool          `json:"fallback"`
	Attempts     int           `json:"attempts"`
	Verification *Verification `json:"verifier,omitempty"`
}

const safeFallbackText = `요청하신 내용은 현재 안전한 범위 안에서 설명드리기 어렵습니다.
차트의 흐름이나 재무 지표의 의미처럼 일반적인 개념에 대한 질문이라면 다시 한 번 물어봐 주세요.`

// SafeFallback is the substitute answer for a chat draft that never passed the checks
func SafeFallback(g Grounding) string {
	var sb strings.Builder
	sb.WriteString(safeFallbackText)
	if len(g.Sources) > 0 {
		sb.WriteString("\n\n참고할 만한 자료:\n")
		for _, src := range g.Sources {
			sb.WriteString("- " + src.Title)
			if src.URL != "" {
				sb.WriteString(" (" + src.URL + ")")
			}
			sb.WriteString("\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

// RunChat executes grounding → explain draft → local gate → dual verify with retry,
// substituting SafeFallback when every attempt fails.
func (p *Pipeline) RunChat(ctx context.Context, req ChatRequest, em Emitter) (*ChatResult, error) {
	s := newStream(em, p.logger)
	req.Symbol = strings.ToUpper(strings.TrimSpace(req.Symbol))
	req.Question = strings.TrimSpace(req.Question)
	log := p.logger.With(zap.String("symbol", req.Symbol), zap.String("pipeline", "chat"))

	s.status(StageStart, 0)
	if err := p.validate.Struct(req); err != nil {
		err = &StageError{Stage: StageStart, Err: err}
		s.fail(err)
		return nil, err
	}

	s.status(StageGrounding, 0)
	grounding := p.ground(ctx, req)
	s.emit(EventGrounding, grounding)

	in := ChatExplainInput{
		Request:   req,
		Grounding: grounding,
		Context:   append(contextLines("screener", req.Screener), contextLines("consensus", req.Consensus)...),
	}
	if len(req.OHLCV) > 0 {
		b := rag.BehaviorFromCandles(req.OHLCV).Behavior
		in.Behavior = "추세 " + b.Trend + ", 변동성 " + b.Volatility
	}

	var reference strings.Builder
	reference.WriteString(req.Question)
	for _, t := range grounding.Topics {
		reference.WriteString("\n- " + t)
	}

	ctrl := &RetryController{
		MaxAttempts: p.opts.MaxAttempts,
		Generate: func(ctx context.Context, attempt int, fb *VerifierFeedback) (string, error) {
			s.status(StageExplain, attempt)
			raw, err := p.provider.Complete(ctx, llm.Request{
				Purpose: PurposeChatExplain,
				System:  chatExplainSystem,
				Prompt:  ChatExplainPrompt(in, fb),
			})
			if err != nil {
				return "", &StageError{Stage: StageExplain, Err: err}
			}
			return strings.TrimSpace(raw), nil
		},
		Gate: func(draft string) []string {
			issues := LocalGate(draft)
			if len(issues) > 0 {
				log.Debug("draft rejected by local gate", zap.Strings("issues", issues))
			}
			return issues
		},
		Verify: func(ctx context.Context, attempt int, draft string) Verification {
			s.status(StageVerify, attempt)
			return p.verifier.Verify(ctx, draft, reference.String())
		},
		Failed:   p.verifier.Failed,
		Terminal: SubstituteFallback(func() string { return SafeFallback(grounding) }),
	}

	outcome, err := ctrl.Run(ctx)
	if err != nil {
		log.Error("chat explain failed", zap.Error(err))
		s.fail(err)
		return nil, err
	}

	result := &ChatResult{
		Request:      req,
		Grounding:    grounding,
		Answer:       EnsureDisclaimer(outcome.Answer, ChatDisclaimer),
		Fallback:     outcome.Fallback,
		Attempts:     outcome.Attempts,
		Verification: outcome.Verification,
	}
	if result.Fallback {
		log.Warn("chat retries exhausted, substituted safe fallback", zap.Int("attempts", outcome.Attempts))
	}

	s.emit(EventFinal, ChatFinalPayload{
		Answer:   result.Answer,
		Fallback: result.Fallback,
		Attempts: result.Attempts,
		Verifier: result.Verification,
	})
	s.done()
	return result, nil
}

// ground collects topics and sources. Any failure yields empty grounding. Topics and
// titles that would trip the local gate are dropped so the fallback text stays clean.
func (p *Pipeline) ground(ctx context.Context, req ChatRequest) Grounding {
	empty := Grounding{Topics: []string{}, Sources: []GroundingSource{}}

	raw, err := p.provider.Complete(ctx, llm.Request{
		Purpose: PurposeGrounding,
		System:  groundingSystem,
		Prompt:  GroundingPrompt(req),
	})
	if err != nil {
		p.logger.Warn("grounding call failed", zap.Error(err))
		return empty
	}

	g, err := llm.DecodeJSON[Grounding](PurposeGrounding, raw)
	if err != nil {
		p.logger.Warn("grounding output unparseable", zap.Error(err))
		return empty
	}

	out := empty
	for _, t := range g.Topics {
		if t = strings.TrimSpace(t); t != "" && len(LocalGate(t)) == 0 {
			out.Topics = append(out.Topics, t)
		}
	}
	for _, src := range g.Sources {
		src.Title = strings.TrimSpace(src.Title)
		if src.Title == "" || len(LocalGate(src.Title)) > 0 {
			continue
		}
		out.Sources = append(out.Sources, src)
	}
	return out
}
