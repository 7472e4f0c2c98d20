package database

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"finexplain/pipeline"
)

// List bounds for run and chat queries
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// RunRepository stores judgement runs and chat answers
type RunRepository struct {
	db *Database
}

// NewRunRepository creates a repository on an open connection
func NewRunRepository(db *Database) *RunRepository {
	return &RunRepository{db: db}
}

// InitSchema migrates the run and chat tables
func (r *RunRepository) InitSchema() error {
	if err := r.db.db.AutoMigrate(&RunRecord{}, &ChatRecord{}); err != nil {
		return wrapOp("InitSchema", err)
	}
	return nil
}

// SaveRun upserts a judgement run by run id
func (r *RunRepository) SaveRun(ctx context.Context, rec *RunRecord) error {
	if rec == nil || rec.RunID == "" {
		return &ValidationError{Field: "run_id", Reason: "must not be empty"}
	}
	if err := r.db.db.WithContext(ctx).Save(rec).Error; err != nil {
		return wrapOp("SaveRun", err)
	}
	return nil
}

// GetRun loads one run by id
func (r *RunRepository) GetRun(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := r.db.db.WithContext(ctx).Where("run_id = ?", runID).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, NewNotFoundError("run", runID)
	}
	if err != nil {
		return nil, wrapOp("GetRun", err)
	}
	return &rec, nil
}

// ListRuns returns the newest runs, optionally for one symbol
func (r *RunRepository) ListRuns(ctx context.Context, symbol string, limit int) ([]RunRecord, error) {
	q := r.db.db.WithContext(ctx).Order("created_at DESC").Limit(ClampLimit(limit))
	if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}

	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrapOp("ListRuns", err)
	}
	return recs, nil
}

// FindByInputHash returns earlier runs that saw exactly the same inputs
func (r *RunRepository) FindByInputHash(ctx context.Context, inputHash string, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	err := r.db.db.WithContext(ctx).
		Where("input_hash = ?", inputHash).
		Order("created_at DESC").
		Limit(ClampLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, wrapOp("FindByInputHash", err)
	}
	return recs, nil
}

// RunsWithViolation returns runs whose final verification reported the given policy violation type
func (r *RunRepository) RunsWithViolation(ctx context.Context, violationType string, limit int) ([]RunRecord, error) {
	var recs []RunRecord
	err := r.db.db.WithContext(ctx).
		Where("? = ANY(violation_types)", violationType).
		Order("created_at DESC").
		Limit(ClampLimit(limit)).
		Find(&recs).Error
	if err != nil {
		return nil, wrapOp("RunsWithViolation", err)
	}
	return recs, nil
}

// SaveChat inserts a chat answer
func (r *RunRepository) SaveChat(ctx context.Context, rec *ChatRecord) error {
	if rec == nil || rec.Symbol == "" {
		return &ValidationError{Field: "symbol", Reason: "must not be empty"}
	}
	if err := r.db.db.WithContext(ctx).Create(rec).Error; err != nil {
		return wrapOp("SaveChat", err)
	}
	return nil
}

// ListChats returns the newest chat answers for a symbol
func (r *RunRepository) ListChats(ctx context.Context, symbol string, limit int) ([]ChatRecord, error) {
	q := r.db.db.WithContext(ctx).Order("created_at DESC").Limit(ClampLimit(limit))
	if symbol = strings.ToUpper(strings.TrimSpace(symbol)); symbol != "" {
		q = q.Where("symbol = ?", symbol)
	}

	var recs []ChatRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, wrapOp("ListChats", err)
	}
	return recs, nil
}

// ClampLimit applies the default and maximum list sizes
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// RunRecordFromResult flattens a judgement result for storage
func RunRecordFromResult(res *pipeline.JudgementResult, finishedAt time.Time) *RunRecord {
	rec := &RunRecord{
		RunID:          res.Run.RunID,
		InputHash:      res.Run.InputHash,
		Symbol:         res.Run.Symbol,
		Question:       res.Run.Question,
		PromptVersion:  res.Run.PromptVersion,
		Signals:        res.Signals,
		Story:          res.Story,
		MarketCheck:    res.MarketCheck,
		PeerAdjust:     res.PeerAdjust,
		Answer:         res.Answer,
		Attempts:       res.Attempts,
		Passed:         res.Passed,
		Verification:   res.Verification,
		ViolationTypes: pq.StringArray(res.Verification.ViolationTypes()),
		CreatedAt:      res.Run.CreatedAt,
		FinishedAt:     finishedAt.UTC(),
	}
	if res.Bundle != nil {
		meta := res.Bundle.Meta(nil)
		rec.RagVersion = res.Bundle.RagVersion
		rec.RagMeta = &meta
		rec.RagBundle = res.Bundle
	}
	if rec.ViolationTypes == nil {
		rec.ViolationTypes = pq.StringArray{}
	}
	return rec
}

// ChatRecordFromResult flattens a chat result for storage
func ChatRecordFromResult(res *pipeline.ChatResult, createdAt time.Time) *ChatRecord {
	rec := &ChatRecord{
		Symbol:         strings.ToUpper(strings.TrimSpace(res.Request.Symbol)),
		Interval:       res.Request.Interval,
		View:           res.Request.View,
		Question:       res.Request.Question,
		Topics:         pq.StringArray(append([]string{}, res.Grounding.Topics...)),
		Sources:        res.Grounding.Sources,
		Answer:         res.Answer,
		Fallback:       res.Fallback,
		Attempts:       res.Attempts,
		Verification:   res.Verification,
		ViolationTypes: pq.StringArray{},
		CreatedAt:      createdAt.UTC(),
	}
	if res.Verification != nil {
		rec.ViolationTypes = append(rec.ViolationTypes, res.Verification.ViolationTypes()...)
	}
	return rec
}
