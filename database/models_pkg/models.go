package models

import (
	"time"

	"github.com/lib/pq"

	"finexplain/pipeline"
	"finexplain/rag"
)

// RunRecord is one persisted judgement run.
//
// Key Fields:
//   - RunID: uuid assigned when the bundle is built (primary key)
//   - InputHash: sha256 of symbol, question, rag version and doc refs; equal hashes mean equal inputs
//   - RagMeta: the same summary the rag event carried
//   - RagBundle: the minimized bundle, bounded for storage
//   - ViolationTypes: distinct policy violation types of the final verification (text[])
//
// Large structured fields are stored as jsonb through the gorm json serializer.
type RunRecord struct {
	RunID          string                `gorm:"primaryKey;size:36" json:"run_id"`
	InputHash      string                `gorm:"size:64;index;not null" json:"input_hash"`
	Symbol         string                `gorm:"size:32;index;not null" json:"symbol"`
	Question       string                `gorm:"type:text" json:"question,omitempty"`
	PromptVersion  string                `gorm:"size:32" json:"prompt_version"`
	RagVersion     string                `gorm:"size:32" json:"rag_version"`
	RagMeta        *rag.Meta             `gorm:"serializer:json;type:jsonb" json:"rag_meta,omitempty"`
	RagBundle      *rag.Bundle           `gorm:"serializer:json;type:jsonb" json:"rag,omitempty"`
	Signals        pipeline.Signals      `gorm:"serializer:json;type:jsonb" json:"signals"`
	Story          string                `gorm:"type:text" json:"story"`
	MarketCheck    pipeline.MarketCheck  `gorm:"serializer:json;type:jsonb" json:"market_check"`
	PeerAdjust     pipeline.PeerAdjust   `gorm:"serializer:json;type:jsonb" json:"peer_adjust"`
	Answer         string                `gorm:"type:text" json:"answer"`
	Attempts       int                   `gorm:"not null" json:"attempts"`
	Passed         bool                  `gorm:"index" json:"passed"`
	Verification   pipeline.Verification `gorm:"serializer:json;type:jsonb" json:"verifier"`
	ViolationTypes pq.StringArray        `gorm:"type:text[]" json:"violation_types"`
	CreatedAt      time.Time             `gorm:"index;not null" json:"created_at"`
	FinishedAt     time.Time             `json:"finished_at"`
}

// TableName specifies the table name for RunRecord
func (RunRecord) TableName() string {
	return "judgement_runs"
}

// ChatRecord is one persisted chat answer
type ChatRecord struct {
	ID             int64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Symbol         string                     `gorm:"size:32;index;not null" json:"symbol"`
	Interval       string                     `gorm:"size:16" json:"interval,omitempty"`
	View           string                     `gorm:"size:32" json:"view,omitempty"`
	Question       string                     `gorm:"type:text;not null" json:"question"`
	Topics         pq.StringArray             `gorm:"type:text[]" json:"topics"`
	Sources        []pipeline.GroundingSource `gorm:"serializer:json;type:jsonb" json:"sources"`
	Answer         string                     `gorm:"type:text" json:"answer"`
	Fallback       bool                       `gorm:"index" json:"fallback"`
	Attempts       int                        `json:"attempts"`
	Verification   *pipeline.Verification     `gorm:"serializer:json;type:jsonb" json:"verifier,omitempty"`
	ViolationTypes pq.StringArray             `gorm:"type:text[]" json:"violation_types"`
	CreatedAt      time.Time                  `gorm:"index;not null" json:"created_at"`
}

// TableName specifies the table name for ChatRecord
func (ChatRecord) TableName() string {
	return "chat_answers"
}
