package core

// batch.go persists validated records in fixed-size batches.
//
// Each batch is one transaction bounded by a timeout. Batches run strictly
// one after another so categories created by an earlier batch are visible
// to later ones. A failed batch rolls back as a unit; its rows are handed
// back to the caller and the next batch proceeds.

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultBatchSize is used when no size is configured.
const DefaultBatchSize = 10

// DefaultBatchTimeout bounds one batch transaction.
const DefaultBatchTimeout = 30 * time.Second

// PendingRow is a validated row waiting to be persisted.
type PendingRow struct {
	Row    int
	Cells  []string
	Mapped MappedRow
	Record Record
}

// ImportedRow is a committed row and the id the store assigned it.
type ImportedRow struct {
	Row int
	ID  string
}

// FailedRow is a row whose batch did not commit.
type FailedRow struct {
	PendingRow
	Err error
}

// BatchOutcome is the result of ImportBatches.
type BatchOutcome struct {
	Imported []ImportedRow
	Failed   []FailedRow
	// Created lists categories created by committed batches.
	Created []Category
}

// BatchImporter writes records for one user through a Store.
type BatchImporter struct {
	Store     Store
	Refs      *ReferenceIndex
	UserID    string
	Entity    EntityKind
	BatchSize int
	Timeout   time.Duration
	Logger    *slog.Logger
	Recorder  Recorder
}

func (b *BatchImporter) defaults() {
	if b.BatchSize <= 0 {
		b.BatchSize = DefaultBatchSize
	}
	if b.Timeout <= 0 {
		b.Timeout = DefaultBatchTimeout
	}
	if b.Logger == nil {
		b.Logger = slog.Default()
	}
	if b.Recorder == nil {
		b.Recorder = nopRecorder{}
	}
	if b.Refs == nil {
		b.Refs = NewReferenceIndex(nil, nil)
	}
}

// ImportBatches persists rows in order. ctx is only consulted between
// batches: a batch that has begun runs to completion. Rows of batches never
// started fail with ErrImportCancelled.
func (b *BatchImporter) ImportBatches(ctx context.Context, rows []PendingRow) BatchOutcome {
	b.defaults()
	var out BatchOutcome

	for start := 0; start < len(rows); start += b.BatchSize {
		end := min(start+b.BatchSize, len(rows))
		batch := rows[start:end]

		if err := ctx.Err(); err != nil {
			b.Logger.Warn("import stopped before batch", "first_row", batch[0].Row, "remaining", len(rows)-start, "error", err)
			for _, r := range rows[start:] {
				out.Failed = append(out.Failed, FailedRow{PendingRow: r, Err: ErrImportCancelled})
			}
			return out
		}

		began := time.Now()
		ids, created, err := b.importBatch(ctx, batch)
		elapsed := time.Since(began)

		if err != nil {
			b.Logger.Error("batch failed",
				"first_row", batch[0].Row,
				"rows", len(batch),
				"duration_ms", elapsed.Milliseconds(),
				"error", err,
			)
			b.Recorder.BatchFailed(b.Entity, len(batch), elapsed)
			for _, r := range batch {
				out.Failed = append(out.Failed, FailedRow{PendingRow: r, Err: err})
			}
			continue
		}

		b.Refs.AddCategories(created...)
		out.Created = append(out.Created, created...)
		for i, r := range batch {
			out.Imported = append(out.Imported, ImportedRow{Row: r.Row, ID: ids[i]})
		}

		b.Logger.Info("batch committed",
			"first_row", batch[0].Row,
			"rows", len(batch),
			"categories_created", len(created),
			"duration_ms", elapsed.Milliseconds(),
		)
		b.Recorder.BatchCommitted(b.Entity, len(batch), elapsed)
	}

	return out
}

// importBatch runs one transaction detached from caller cancellation.
func (b *BatchImporter) importBatch(ctx context.Context, batch []PendingRow) ([]string, []Category, error) {
	txCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), b.Timeout)
	defer cancel()

	var (
		ids     []string
		created []Category
	)
	err := b.Store.InTx(txCtx, func(ctx context.Context, tx Tx) error {
		ids = ids[:0]
		created = created[:0]
		for _, r := range batch {
			id, err := persistRecord(ctx, tx, b.UserID, b.Refs, r.Record, &created)
			if err != nil {
				return fmt.Errorf("row %d: %w", r.Row, err)
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ids, created, nil
}

// persistRecord creates pending categories, removes records sharing the
// natural key and inserts rec. created collects categories made in this
// transaction so repeated names are created once.
func persistRecord(ctx context.Context, tx Tx, userID string, refs *ReferenceIndex, rec Record, created *[]Category) (string, error) {
	rec = rec.Clone()

	for name, v := range rec.Values {
		ref, ok := v.(*RefValue)
		if !ok || !ref.Pending {
			continue
		}
		c, err := ensureCategory(ctx, tx, userID, refs, ref, created)
		if err != nil {
			return "", fmt.Errorf("create category %q: %w", ref.Name, err)
		}
		rec.Values[name] = &RefValue{Kind: RefCategory, ID: c.ID, Name: c.Name, Type: c.Type}
	}

	if rec.NaturalKey != "" {
		if _, err := tx.DeleteByNaturalKey(ctx, userID, rec.Entity, rec.NaturalKey); err != nil {
			return "", fmt.Errorf("replace existing %s: %w", rec.Entity, err)
		}
	}

	id, err := tx.CreateRecord(ctx, userID, rec)
	if err != nil {
		return "", fmt.Errorf("insert %s: %w", rec.Entity, err)
	}
	return id, nil
}

func ensureCategory(ctx context.Context, tx Tx, userID string, refs *ReferenceIndex, ref *RefValue, created *[]Category) (Category, error) {
	if c, ok := refs.ResolveCategory(ref.Name, ref.Type); ok {
		return c, nil
	}
	if c, ok := ResolveCategory(ref.Name, ref.Type, *created); ok {
		return c, nil
	}
	c, err := tx.CreateCategory(ctx, userID, Category{Name: ref.Name, Type: ref.Type})
	if err != nil {
		return Category{}, err
	}
	*created = append(*created, c)
	return c, nil
}
