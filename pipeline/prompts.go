package pipeline

import (
	"fmt"
	"sort"
	"strings"
)

// LLM call purposes, used for logging and request routing in tests
const (
	PurposeSignalExtract     = "signal_extract"
	PurposeStoryLink         = "story_link"
	PurposeMarketCheck       = "market_check"
	PurposePeerAdjust        = "peer_adjust"
	PurposeFinalJudgement    = "final_judgement"
	PurposePolicyVerify      = "policy_verify"
	PurposeConsistencyVerify = "consistency_verify"
	PurposeGrounding         = "grounding"
	PurposeChatExplain       = "chat_explain"
)

// JudgementDisclaimer ends every judgement answer
const JudgementDisclaimer = "본 내용은 투자 권유가 아니며, 제공된 데이터에 기반한 조건부 해석입니다. 투자 판단과 그 결과에 대한 책임은 투자자 본인에게 있습니다."

// ChatDisclaimer ends every chat answer. It must stay free of digits and advice terms.
const ChatDisclaimer = "본 답변은 교육 목적의 일반적인 설명이며 투자 권유가 아닙니다. 투자 판단의 책임은 투자자 본인에게 있습니다."

// EmptyStoryPlaceholder stands in when the story linker returns nothing twice
const EmptyStoryPlaceholder = "- 현재 신호들 사이에서 뚜렷한 인과 관계를 도출하기 어려울 수 있습니다.\n- 추가 데이터가 확보되면 해석이 달라질 가능성이 있습니다."

const hedgingRules = `언어 규칙:
- 모든 해석은 가능성으로만 표현합니다 ("~일 수 있습니다", "~을 시사할 수 있습니다").
- 단정적 표현("반드시", "확실히", "틀림없이")을 쓰지 않습니다.
- 매수/매도/보유 권유, 목표가, 손절가 등 투자 지시를 절대 쓰지 않습니다.`

const signalExtractSystem = `당신은 금융 데이터 해석가입니다. 주어진 RAG 번들(JSON)만 근거로 네 가지 신호를 도출합니다.
` + hedgingRules + `
출력은 다음 네 개의 문자열 키만 가진 JSON 객체 하나여야 합니다:
{"financial_signal": "...", "event_signal": "...", "market_signal": "...", "peer_signal": "..."}
해당 데이터가 없으면 값에 "관련 데이터 없음"이라고 적고 추측하지 않습니다. JSON 외의 텍스트는 쓰지 않습니다.`

// SignalExtractPrompt builds the user prompt for signal extraction
func SignalExtractPrompt(symbol, question, bundleJSON string) string {
	var sb strings.Builder
	sb.Grow(len(bundleJSON) + 512)

	sb.WriteString(fmt.Sprintf("종목: %s\n", symbol))
	if question != "" {
		sb.WriteString(fmt.Sprintf("사용자 질문: %s\n", question))
	}
	sb.WriteString("\nRAG 번들:\n")
	sb.WriteString(bundleJSON)
	sb.WriteString("\n\n위 번들에서 financial_signal, event_signal, market_signal, peer_signal을 JSON으로만 답하세요.")
	return sb.String()
}

const storyLinkSystem = `당신은 신호들 사이의 인과 가설을 세우는 리서치 보조자입니다.
` + hedgingRules + `
출력은 3~6개의 글머리표("- ")로 된 짧은 인과 가설 목록입니다. 다른 설명은 쓰지 않습니다.`

// StoryLinkPrompt builds the user prompt for story linking
func StoryLinkPrompt(s Signals) string {
	var sb strings.Builder
	sb.WriteString("다음 신호들을 연결하는 원인-결과 가설을 작성하세요.\n\n")
	writeSignals(&sb, s)
	return sb.String()
}

const marketCheckSystem = `당신은 시장 흐름과 서사의 일치 여부를 점검합니다.
출력은 JSON 객체 하나: {"agreement": "동의" | "부분 동의" | "불일치", "reason": "..."}
reason은 한두 문장의 가능성 표현으로 씁니다. JSON 외의 텍스트는 쓰지 않습니다.`

// MarketCheckPrompt builds the user prompt for the market-agreement check
func MarketCheckPrompt(marketSignal, story string) string {
	var sb strings.Builder
	sb.WriteString("시장 신호:\n")
	sb.WriteString(orNone(marketSignal))
	sb.WriteString("\n\n인과 가설:\n")
	sb.WriteString(orNone(story))
	sb.WriteString("\n\n시장 신호가 가설과 얼마나 일치하는지 판단하세요.")
	return sb.String()
}

const peerAdjustSystem = `당신은 동종 업계 비교를 통해 해석을 보정합니다.
` + hedgingRules + `
출력은 JSON 객체 하나: {"adjustment": "보정된 해석", "industry_vs_company": "업계 공통 요인과 개별 기업 요인의 구분"}
JSON 외의 텍스트는 쓰지 않습니다.`

// PeerAdjustPrompt builds the user prompt for the peer adjustment
func PeerAdjustPrompt(peerSignal, story string) string {
	var sb strings.Builder
	sb.WriteString("동종 업계 신호:\n")
	sb.WriteString(orNone(peerSignal))
	sb.WriteString("\n\n인과 가설:\n")
	sb.WriteString(orNone(story))
	sb.WriteString("\n\n이 가설이 업계 전반의 흐름인지 개별 기업 고유의 흐름인지 구분해 보정하세요.")
	return sb.String()
}

const finalJudgementSystem = `당신은 조건부 종합 판단을 작성하는 리서치 보조자입니다.
` + hedgingRules + `
다음 마크다운 구조를 지킵니다:
## 상황 요약
## 신호 일관성 및 충돌
## 긍정 요인
## 주의 요인
## 조건부 종합
마지막 줄에는 다음 문장을 그대로 덧붙입니다:
` + JudgementDisclaimer

// FinalJudgementInput is everything the final judgement sees
type FinalJudgementInput struct {
	Symbol      string
	Question    string
	Signals     Signals
	Story       string
	MarketCheck MarketCheck
	PeerAdjust  PeerAdjust
	CompactRefs string
}

// FinalJudgementPrompt builds the user prompt for the final judgement.
// Feedback from a failed verification is rendered as an explicit fix list.
func FinalJudgementPrompt(in FinalJudgementInput, feedback *VerifierFeedback) string {
	var sb strings.Builder
	sb.Grow(2048 + len(in.CompactRefs))

	sb.WriteString(fmt.Sprintf("종목: %s\n", in.Symbol))
	if in.Question != "" {
		sb.WriteString(fmt.Sprintf("사용자 질문: %s\n", in.Question))
	}
	sb.WriteString("\n[신호]\n")
	writeSignals(&sb, in.Signals)
	sb.WriteString("\n[인과 가설]\n")
	sb.WriteString(orNone(in.Story))
	sb.WriteString(fmt.Sprintf("\n\n[시장 일치도] %s: %s\n", in.MarketCheck.Agreement, in.MarketCheck.Reason))
	sb.WriteString(fmt.Sprintf("[동종 업계 보정] %s\n", in.PeerAdjust.Adjustment))
	if in.PeerAdjust.IndustryVsCompany != "" {
		sb.WriteString(fmt.Sprintf("[업계 vs 기업] %s\n", in.PeerAdjust.IndustryVsCompany))
	}
	if in.CompactRefs != "" {
		sb.WriteString("\n[참조 문서]\n")
		sb.WriteString(in.CompactRefs)
	}
	writeFeedback(&sb, feedback)
	sb.WriteString("\n위 내용을 바탕으로 조건부 종합 판단을 작성하세요.")
	return sb.String()
}

const policyVerifySystem = `당신은 금융 콘텐츠 정책 검증기입니다. 초안에서 다음을 찾습니다:
- investment_directive: 매수/매도/보유 권유, 목표가, 손절가 등 투자 지시
- banned_term: 금지 용어
- absolute_claim: 단정적이거나 확신에 찬 표현
출력은 JSON 객체 하나:
{"verdict": "PASS" | "WARN" | "FAIL", "violations": [{"type": "...", "sentence": "...", "reason": "..."}], "suggestion": "수정 방향"}
위반이 없으면 verdict는 PASS, violations는 빈 배열입니다. JSON 외의 텍스트는 쓰지 않습니다.`

// PolicyVerifyPrompt builds the user prompt for the policy verifier
func PolicyVerifyPrompt(draft string) string {
	return "다음 초안을 검증하세요.\n\n[초안]\n" + draft
}

const consistencyVerifySystem = `당신은 금융 서술의 일관성 검증기입니다. 초안에서 다음을 찾습니다:
- 기간/분기 혼동, 수치 방향 오류 (numeric_or_period_issues)
- 근거 없는 인과 비약, 논리 방향 오류 (logic_direction_issues)
출력은 JSON 객체 하나:
{"ok": true | false, "numeric_or_period_issues": [], "logic_direction_issues": [], "notes": "..."}
JSON 외의 텍스트는 쓰지 않습니다.`

// ConsistencyVerifyPrompt builds the user prompt for the consistency verifier
func ConsistencyVerifyPrompt(draft, reference string) string {
	var sb strings.Builder
	if reference != "" {
		sb.WriteString("[참고 자료]\n")
		sb.WriteString(reference)
		sb.WriteString("\n\n")
	}
	sb.WriteString("[초안]\n")
	sb.WriteString(draft)
	sb.WriteString("\n\n참고 자료와 비교해 일관성을 검증하세요.")
	return sb.String()
}

const groundingSystem = `당신은 교육용 설명을 위한 배경 주제와 참고 출처를 수집합니다.
숫자, 가격, 비율, 날짜를 절대 쓰지 않습니다.
출력은 JSON 객체 하나: {"topics": ["..."], "sources": [{"title": "...", "url": "https://..."}]}
JSON 외의 텍스트는 쓰지 않습니다.`

// GroundingPrompt builds the user prompt for chat grounding
func GroundingPrompt(req ChatRequest) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("종목: %s\n", req.Symbol))
	if req.View != "" {
		sb.WriteString(fmt.Sprintf("화면: %s\n", req.View))
	}
	sb.WriteString(fmt.Sprintf("질문: %s\n", req.Question))
	sb.WriteString("\n이 질문을 이해하는 데 필요한 배경 주제와 신뢰할 수 있는 참고 출처를 제시하세요.")
	return sb.String()
}

const chatExplainSystem = `당신은 초보 투자자를 위한 금융 교육 도우미입니다.
규칙:
- 숫자, 가격, 비율, 퍼센트, 통화 기호를 절대 쓰지 않습니다.
- 매수, 매도, 추천, 목표가, 손절 등 투자 권유 표현을 절대 쓰지 않습니다.
- "분석"이라는 단어를 쓰지 않습니다. 대신 "설명", "해석"을 씁니다.
- 가능성 중심의 부드러운 표현으로 개념을 설명합니다.`

// ChatExplainInput is the grounded context for a chat draft
type ChatExplainInput struct {
	Request   ChatRequest
	Grounding Grounding
	Behavior  string
	Context   []string
}

// ChatExplainPrompt builds the user prompt for a chat explanation draft
func ChatExplainPrompt(in ChatExplainInput, feedback *VerifierFeedback) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("종목: %s\n", in.Request.Symbol))
	if in.Request.Interval != "" {
		sb.WriteString(fmt.Sprintf("차트 주기: %s\n", in.Request.Interval))
	}
	if in.Request.View != "" {
		sb.WriteString(fmt.Sprintf("화면: %s\n", in.Request.View))
	}
	sb.WriteString(fmt.Sprintf("질문: %s\n", in.Request.Question))
	if in.Behavior != "" {
		sb.WriteString(fmt.Sprintf("최근 시장 흐름: %s\n", in.Behavior))
	}
	if len(in.Context) > 0 {
		sb.WriteString("화면 맥락:\n")
		for _, c := range in.Context {
			sb.WriteString("- " + c + "\n")
		}
	}
	if len(in.Grounding.Topics) > 0 {
		sb.WriteString("배경 주제: " + strings.Join(in.Grounding.Topics, ", ") + "\n")
	}
	writeFeedback(&sb, feedback)
	sb.WriteString("\n위 규칙을 지켜 질문에 대한 교육용 설명을 작성하세요.")
	return sb.String()
}

func writeSignals(sb *strings.Builder, s Signals) {
	sb.WriteString("- financial_signal: " + orNone(s.FinancialSignal) + "\n")
	sb.WriteString("- event_signal: " + orNone(s.EventSignal) + "\n")
	sb.WriteString("- market_signal: " + orNone(s.MarketSignal) + "\n")
	sb.WriteString("- peer_signal: " + orNone(s.PeerSignal) + "\n")
}

func writeFeedback(sb *strings.Builder, fb *VerifierFeedback) {
	if fb.Empty() {
		return
	}
	sb.WriteString("\n[이전 초안의 문제점 - 반드시 수정]\n")
	for _, issue := range fb.PolicyIssues {
		sb.WriteString("- 정책: " + issue + "\n")
	}
	for _, issue := range fb.ConsistencyIssues {
		sb.WriteString("- 일관성: " + issue + "\n")
	}
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "(없음)"
	}
	return s
}

// contextLines renders map keys in stable order, skipping values that carry digits
func contextLines(label string, m map[string]any) []string {
	if len(m) == 0 {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		if containsDigit(k) {
			continue
		}
		v, ok := m[k].(string)
		if !ok || containsDigit(v) || strings.TrimSpace(v) == "" {
			lines = append(lines, fmt.Sprintf("%s: %s", label, k))
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s = %s", label, k, v))
	}
	return lines
}
