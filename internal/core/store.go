package core

import (
	"context"
	"time"
)

// Store runs work inside a transaction. Implementations commit when fn
// returns nil and roll back otherwise.
type Store interface {
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is the write surface the importer needs within one transaction.
type Tx interface {
	CreateRecord(ctx context.Context, userID string, rec Record) (string, error)
	DeleteByNaturalKey(ctx context.Context, userID string, entity EntityKind, key string) (int64, error)
	CreateCategory(ctx context.Context, userID string, c Category) (Category, error)
	SetCategoriesHidden(ctx context.Context, userID string, ids []string, hidden bool) error
}

// ReferenceSource lists the entities rows may reference.
type ReferenceSource interface {
	ListCategories(ctx context.Context, userID string) ([]Category, error)
	ListAccounts(ctx context.Context, userID string) ([]Account, error)
}

// Recorder receives import metrics. The zero Service uses a no-op recorder.
type Recorder interface {
	BatchCommitted(entity EntityKind, rows int, elapsed time.Duration)
	BatchFailed(entity EntityKind, rows int, elapsed time.Duration)
	RowsRejected(entity EntityKind, reason string, n int)
	CorrectionSubmitted(entity EntityKind, outcome string)
	RunsActive(n int)
}

type nopRecorder struct{}

func (nopRecorder) BatchCommitted(EntityKind, int, time.Duration) {}
func (nopRecorder) BatchFailed(EntityKind, int, time.Duration)    {}
func (nopRecorder) RowsRejected(EntityKind, string, int)          {}
func (nopRecorder) CorrectionSubmitted(EntityKind, string)        {}
func (nopRecorder) RunsActive(int)                                {}
