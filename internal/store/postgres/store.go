// Package postgres persists imports to PostgreSQL through pgx.
package postgres

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/finimport/internal/config"
	"github.com/JonMunkholm/finimport/internal/core"
)

//go:embed schema.sql
var schemaSQL string

// Connect opens a pool configured from cfg and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// Store implements core.Store and core.ReferenceSource over a pool.
type Store struct {
	pool *pgxpool.Pool
}

// New wraps pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies schema.sql. Every statement is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// InTx runs fn in one transaction, committing when it returns nil.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) // no-op after commit

	if err := fn(ctx, NewTx(tx)); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// ListCategories returns a user's categories.
func (s *Store) ListCategories(ctx context.Context, userID string) ([]core.Category, error) {
	return loadCategories(ctx, NewQueries(s.pool), userID)
}

// ListAccounts returns a user's accounts.
func (s *Store) ListAccounts(ctx context.Context, userID string) ([]core.Account, error) {
	return loadAccounts(ctx, NewQueries(s.pool), userID)
}

func loadCategories(ctx context.Context, q *Queries, userID string) ([]core.Category, error) {
	rows, err := q.ListCategories(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list categories: %w", err)
	}
	out := make([]core.Category, len(rows))
	for i, r := range rows {
		out[i] = core.Category{ID: uuidString(r.ID), Name: r.Name, Type: r.Type, Hidden: r.Hidden}
	}
	return out, nil
}

func loadAccounts(ctx context.Context, q *Queries, userID string) ([]core.Account, error) {
	rows, err := q.ListAccounts(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	out := make([]core.Account, len(rows))
	for i, r := range rows {
		out[i] = core.Account{ID: uuidString(r.ID), Holder: r.Holder, Bank: r.Bank, Number: r.Number.String}
	}
	return out, nil
}

// Tx is the transaction-bound write surface handed to InTx callbacks.
type Tx struct {
	q *Queries
}

// NewTx binds a Tx to any DBTX, typically a pgx.Tx.
func NewTx(db DBTX) *Tx {
	return &Tx{q: NewQueries(db)}
}

// CreateRecord stores rec's values as JSON and returns the new id.
func (t *Tx) CreateRecord(ctx context.Context, userID string, rec core.Record) (string, error) {
	data, err := json.Marshal(rec.Plain())
	if err != nil {
		return "", fmt.Errorf("encode %s record: %w", rec.Entity, err)
	}
	id := uuid.New()
	err = t.q.InsertRecord(ctx, InsertRecordParams{
		ID:         toPgUUID(id),
		UserID:     userID,
		Entity:     string(rec.Entity),
		NaturalKey: toPgText(rec.NaturalKey),
		Data:       data,
	})
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// DeleteByNaturalKey removes a user's records of entity sharing key.
func (t *Tx) DeleteByNaturalKey(ctx context.Context, userID string, entity core.EntityKind, key string) (int64, error) {
	return t.q.DeleteRecordsByKey(ctx, DeleteRecordsByKeyParams{
		UserID:     userID,
		Entity:     string(entity),
		NaturalKey: key,
	})
}

// CreateCategory inserts a visible category and returns it with its id.
func (t *Tx) CreateCategory(ctx context.Context, userID string, c core.Category) (core.Category, error) {
	id := uuid.New()
	c.ID = id.String()
	c.Name = strings.TrimSpace(c.Name)
	c.Type = strings.ToUpper(strings.TrimSpace(c.Type))
	c.Hidden = false
	err := t.q.InsertCategory(ctx, InsertCategoryParams{
		ID:     toPgUUID(id),
		UserID: userID,
		Name:   c.Name,
		Type:   c.Type,
	})
	if err != nil {
		return core.Category{}, err
	}
	return c, nil
}

// SetCategoriesHidden flips visibility for the given category ids.
func (t *Tx) SetCategoriesHidden(ctx context.Context, userID string, ids []string, hidden bool) error {
	if len(ids) == 0 {
		return nil
	}
	return t.q.SetCategoriesHidden(ctx, SetCategoriesHiddenParams{UserID: userID, Hidden: hidden, IDs: ids})
}

/* ----------------------------------------
	Pgx Helpers
---------------------------------------- */

func toPgText(s string) pgtype.Text {
	s = strings.TrimSpace(s)
	if s == "" {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: s, Valid: true}
}

func toPgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

func uuidString(id pgtype.UUID) string {
	if !id.Valid {
		return ""
	}
	return uuid.UUID(id.Bytes).String()
}
