package pipeline

import (
	"regexp"
	"strings"
)

var (
	numericPattern = regexp.MustCompile(`[0-9０-９]|[%％]|[$₩€¥£]`)
	digitPattern   = regexp.MustCompile(`[0-9０-９]`)
	advicePattern  = regexp.MustCompile(`(?i)매수|매도|추천|목표\s*가|목표\s*주가|손절|익절|비중\s*(확대|축소)|사세요|파세요|\bbuy\b|\bsell\b|target\s+price|stop[\s-]?loss|\brecommend`)
	bannedPattern  = regexp.MustCompile(`(?i)분석|analy[sz]`)

	// consistency fallbacks used when no secondary verifier is configured
	invalidPeriodPattern = regexp.MustCompile(`(?i)\bQ[05-9]\b|(^|[^0-9])[05-9]\s*분기|(^|[^0-9])(1[3-9]|[2-9][0-9])\s*월`)
	causalLeapPattern    = regexp.MustCompile(`(?i)(때문에|그러므로|따라서|because|therefore)[^.\n]*(반드시|확실히|틀림없이|무조건|certainly|definitely|guaranteed)`)
)

// Gate issue prefixes
const (
	GateNumeric = "numeric_token"
	GateAdvice  = "advice_verb"
	GateBanned  = "banned_word"
)

// LocalGate flags numbers, advice verbs and the banned word in a chat draft.
// A non-empty result means the draft is discarded without calling verifiers.
func LocalGate(draft string) []string {
	var issues []string
	if m := numericPattern.FindString(draft); m != "" {
		issues = append(issues, GateNumeric+": "+m)
	}
	if m := advicePattern.FindString(draft); m != "" {
		issues = append(issues, GateAdvice+": "+m)
	}
	if m := bannedPattern.FindString(draft); m != "" {
		issues = append(issues, GateBanned+": "+m)
	}
	return issues
}

// RegexConsistency is the consistency check used without a secondary provider
func RegexConsistency(draft string) ConsistencyResult {
	res := ConsistencyResult{Notes: "regex-only consistency check"}
	for _, m := range invalidPeriodPattern.FindAllString(draft, 3) {
		res.NumericOrPeriodIssues = append(res.NumericOrPeriodIssues, "invalid period reference: "+strings.TrimSpace(m))
	}
	for _, m := range causalLeapPattern.FindAllString(draft, 3) {
		res.LogicDirectionIssues = append(res.LogicDirectionIssues, "unhedged causal claim: "+strings.TrimSpace(m))
	}
	res.OK = !res.HasIssues()
	return res
}

func containsDigit(s string) bool {
	return digitPattern.MatchString(s)
}

// EnsureDisclaimer appends disclaimer unless text already ends with it
func EnsureDisclaimer(text, disclaimer string) string {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if strings.HasSuffix(trimmed, disclaimer) {
		return trimmed
	}
	if trimmed == "" {
		return disclaimer
	}
	return trimmed + "\n\n" + disclaimer
}
