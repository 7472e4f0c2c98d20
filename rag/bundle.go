package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"finexplain/market"
)

// Storage-side bounds for Minimize
const (
	MaxStoredNews    = 20
	MaxStoredCandles = 80
	MaxStoredPeers   = 8
	MaxStoredQuotes  = 12
)

// TruncationMarker is appended when serialized input exceeds its budget
const TruncationMarker = "\n...[TRUNCATED]"

// Bundle is the versioned set of documents for one run. Read-only once built.
type Bundle struct {
	RagVersion string     `json:"rag_version"`
	Symbol     string     `json:"symbol"`
	AsOf       time.Time  `json:"asOf"`
	Docs       []Document `json:"docs"`
}

// Meta is the small summary emitted with the rag event
type Meta struct {
	RagVersion string            `json:"rag_version"`
	Symbol     string            `json:"symbol"`
	AsOf       time.Time         `json:"asOf"`
	DocCount   int               `json:"doc_count"`
	DocIDs     []string          `json:"doc_ids"`
	Missing    []DocType         `json:"missing_types,omitempty"`
	Failed     map[string]string `json:"failed_sources,omitempty"`
}

// DocRef is the identity projection of a Document
type DocRef struct {
	DocID string    `json:"id"`
	Type  DocType   `json:"type"`
	AsOf  time.Time `json:"asOf"`
}

// Build assembles docs into a bundle ordered by document type
func Build(ragVersion, symbol string, docs []Document, asOf time.Time) *Bundle {
	rank := make(map[DocType]int, len(docOrder))
	for i, t := range docOrder {
		rank[t] = i
	}

	sorted := append([]Document(nil), docs...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if rank[sorted[i].Type] != rank[sorted[j].Type] {
			return rank[sorted[i].Type] < rank[sorted[j].Type]
		}
		return sorted[i].DocID < sorted[j].DocID
	})

	return &Bundle{
		RagVersion: ragVersion,
		Symbol:     strings.ToUpper(symbol),
		AsOf:       asOf.UTC(),
		Docs:       sorted,
	}
}

// Meta summarizes the bundle
func (b *Bundle) Meta(failed map[string]string) Meta {
	m := Meta{
		RagVersion: b.RagVersion,
		Symbol:     b.Symbol,
		AsOf:       b.AsOf,
		DocCount:   len(b.Docs),
		DocIDs:     make([]string, 0, len(b.Docs)),
		Failed:     failed,
	}
	present := make(map[DocType]bool)
	for _, d := range b.Docs {
		m.DocIDs = append(m.DocIDs, d.DocID)
		present[d.Type] = true
	}
	for _, t := range docOrder {
		if !present[t] {
			m.Missing = append(m.Missing, t)
		}
	}
	return m
}

// Refs returns the identity projection of every document
func (b *Bundle) Refs() []DocRef {
	refs := make([]DocRef, 0, len(b.Docs))
	for _, d := range b.Docs {
		refs = append(refs, DocRef{DocID: d.DocID, Type: d.Type, AsOf: d.AsOf})
	}
	return refs
}

// Minimize returns a copy with bounded payloads for persistence and audit
func Minimize(b *Bundle) *Bundle {
	out := *b
	out.Docs = make([]Document, len(b.Docs))
	for i, d := range b.Docs {
		d.Payload = minimizePayload(d.Payload)
		out.Docs[i] = d
	}
	return &out
}

// PromptView returns a copy for model prompts. Market behavior keeps only the
// derived summary; raw candles stay in the stored bundle.
func PromptView(b *Bundle) *Bundle {
	out := *b
	out.Docs = make([]Document, len(b.Docs))
	for i, d := range b.Docs {
		if p, ok := d.Payload.(MarketBehaviorPayload); ok {
			d.Payload = MarketBehaviorPayload{Behavior: p.Behavior}
		}
		out.Docs[i] = d
	}
	return &out
}

func minimizePayload(payload any) any {
	switch p := payload.(type) {
	case []market.NewsItem:
		if len(p) > MaxStoredNews {
			return append([]market.NewsItem(nil), p[:MaxStoredNews]...)
		}
	case MarketBehaviorPayload:
		if len(p.Candles) > MaxStoredCandles {
			p.Candles = append([]market.Candle(nil), p.Candles[len(p.Candles)-MaxStoredCandles:]...)
		}
		return p
	case PeerComparisonPayload:
		if len(p.Peers) > MaxStoredPeers {
			p.Peers = append([]string(nil), p.Peers[:MaxStoredPeers]...)
		}
		if len(p.Quotes) > MaxStoredQuotes {
			p.Quotes = append([]market.Quote(nil), p.Quotes[:MaxStoredQuotes]...)
		}
		return p
	}
	return payload
}

// InputHash is a deterministic hash over the run inputs and document identities.
// Document order does not affect the result.
func InputHash(symbol, question, ragVersion string, docs []Document) string {
	refs := make([]DocRef, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, DocRef{DocID: d.DocID, Type: d.Type, AsOf: d.AsOf.UTC()})
	}
	sort.Slice(refs, func(i, j int) bool {
		if refs[i].DocID != refs[j].DocID {
			return refs[i].DocID < refs[j].DocID
		}
		if refs[i].Type != refs[j].Type {
			return refs[i].Type < refs[j].Type
		}
		return refs[i].AsOf.Before(refs[j].AsOf)
	})

	data, _ := json.Marshal(struct {
		Symbol     string   `json:"symbol"`
		Question   string   `json:"question"`
		RagVersion string   `json:"rag_version"`
		Docs       []DocRef `json:"docs"`
	}{strings.ToUpper(symbol), question, ragVersion, refs})

	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// CompactRefs renders doc ids and asOf times, one per line, within budget characters
func CompactRefs(b *Bundle, budget int) string {
	var sb strings.Builder
	used := 0
	for _, r := range b.Refs() {
		line := fmt.Sprintf("- %s (asOf %s)\n", r.DocID, r.AsOf.Format(time.RFC3339))
		n := utf8.RuneCountInString(line)
		if budget > 0 && used+n > budget {
			break
		}
		sb.WriteString(line)
		used += n
	}
	return sb.String()
}

// TruncatedJSON serializes v and cuts it to budget characters, appending TruncationMarker
func TruncatedJSON(v any, budget int) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal bundle: %w", err)
	}
	return Truncate(string(data), budget), nil
}

// Truncate cuts s to budget characters, appending TruncationMarker when anything was dropped
func Truncate(s string, budget int) string {
	if budget <= 0 || utf8.RuneCountInString(s) <= budget {
		return s
	}
	i, n := 0, 0
	for i < len(s) && n < budget {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
		n++
	}
	return s[:i] + TruncationMarker
}
