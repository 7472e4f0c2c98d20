package database

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finexplain/pipeline"
	"finexplain/rag"
)

func TestClampLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultListLimit},
		{-5, DefaultListLimit},
		{7, 7},
		{MaxListLimit + 1, MaxListLimit},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("limit_%d", tt.in), func(t *testing.T) {
			assert.Equal(t, tt.want, ClampLimit(tt.in))
		})
	}
}

func TestRunRecordFromResult(t *testing.T) {
	created := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	bundle := rag.Build("rag-v1", "AAPL", []rag.Document{
		rag.NewDocument("AAPL", rag.DocCompanyProfile, "", "yahoo", created, map[string]string{"name": "Apple"}),
	}, created)

	res := &pipeline.JudgementResult{
		Run: pipeline.Run{
			RunID:         "run-1",
			InputHash:     "abc",
			Symbol:        "AAPL",
			Question:      "왜 올랐나요?",
			PromptVersion: "judgement-v3",
			CreatedAt:     created,
		},
		Bundle:   bundle,
		Story:    "- 가설",
		Answer:   "답변",
		Attempts: 2,
		Verification: pipeline.Verification{
			Policy: pipeline.PolicyResult{
				Verdict: pipeline.VerdictWarn,
				Violations: []pipeline.Violation{
					{Type: "numeric"}, {Type: "advice"}, {Type: "numeric"},
				},
			},
		},
	}

	rec := RunRecordFromResult(res, created.Add(time.Minute))
	assert.Equal(t, "run-1", rec.RunID)
	assert.Equal(t, "rag-v1", rec.RagVersion)
	require.NotNil(t, rec.RagMeta)
	assert.Equal(t, 1, rec.RagMeta.DocCount)
	assert.Same(t, bundle, rec.RagBundle)
	assert.Equal(t, []string{"numeric", "advice"}, []string(rec.ViolationTypes))
	assert.Equal(t, created.Add(time.Minute), rec.FinishedAt)
}

func TestRunRecordFromResultWithoutViolations(t *testing.T) {
	rec := RunRecordFromResult(&pipeline.JudgementResult{Run: pipeline.Run{RunID: "r"}}, time.Now())
	assert.NotNil(t, rec.ViolationTypes)
	assert.Empty(t, rec.ViolationTypes)
	assert.Nil(t, rec.RagMeta)
}

func TestChatRecordFromResult(t *testing.T) {
	res := &pipeline.ChatResult{
		Request:   pipeline.ChatRequest{Symbol: " nvda ", Interval: "1d", Question: "이 구간은?"},
		Grounding: pipeline.Grounding{Topics: []string{"수급"}, Sources: []pipeline.GroundingSource{{Title: "기사"}}},
		Answer:    "설명",
		Fallback:  true,
		Attempts:  3,
	}

	rec := ChatRecordFromResult(res, time.Now())
	assert.Equal(t, "NVDA", rec.Symbol)
	assert.Equal(t, []string{"수급"}, []string(rec.Topics))
	assert.True(t, rec.Fallback)
	assert.Empty(t, rec.ViolationTypes)
	assert.Nil(t, rec.Verification)
}

func TestErrors(t *testing.T) {
	err := wrapOp("GetRun", NewNotFoundError("run", "x"))
	assert.True(t, IsNotFound(err))
	assert.Equal(t, `database: GetRun: run "x" not found`, err.Error())

	assert.Nil(t, wrapOp("noop", nil))
	assert.False(t, IsNotFound(&ValidationError{Field: "symbol", Reason: "must not be empty"}))
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "judgement_runs", RunRecord{}.TableName())
	assert.Equal(t, "chat_answers", ChatRecord{}.TableName())
}
