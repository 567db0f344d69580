package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
)

// DBTX is satisfied by *pgxpool.Pool, *pgxpool.Conn and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Queries runs the importer's statements against a pool or a transaction.
type Queries struct {
	db DBTX
}

// NewQueries binds queries to db.
func NewQueries(db DBTX) *Queries {
	return &Queries{db: db}
}

const insertRecord = `-- name: InsertRecord :exec
INSERT INTO import_records (id, user_id, entity, natural_key, data)
VALUES ($1, $2, $3, $4, $5)
`

type InsertRecordParams struct {
	ID         pgtype.UUID
	UserID     string
	Entity     string
	NaturalKey pgtype.Text
	Data       []byte
}

func (q *Queries) InsertRecord(ctx context.Context, arg InsertRecordParams) error {
	_, err := q.db.Exec(ctx, insertRecord,
		arg.ID,
		arg.UserID,
		arg.Entity,
		arg.NaturalKey,
		arg.Data,
	)
	return err
}

const deleteRecordsByKey = `-- name: DeleteRecordsByKey :execrows
DELETE FROM import_records
WHERE user_id = $1 AND entity = $2 AND natural_key = $3
`

type DeleteRecordsByKeyParams struct {
	UserID     string
	Entity     string
	NaturalKey string
}

func (q *Queries) DeleteRecordsByKey(ctx context.Context, arg DeleteRecordsByKeyParams) (int64, error) {
	result, err := q.db.Exec(ctx, deleteRecordsByKey, arg.UserID, arg.Entity, arg.NaturalKey)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const insertCategory = `-- name: InsertCategory :exec
INSERT INTO categories (id, user_id, name, type, hidden)
VALUES ($1, $2, $3, $4, FALSE)
`

type InsertCategoryParams struct {
	ID     pgtype.UUID
	UserID string
	Name   string
	Type   string
}

func (q *Queries) InsertCategory(ctx context.Context, arg InsertCategoryParams) error {
	_, err := q.db.Exec(ctx, insertCategory, arg.ID, arg.UserID, arg.Name, arg.Type)
	return err
}

const setCategoriesHidden = `-- name: SetCategoriesHidden :exec
UPDATE categories SET hidden = $2
WHERE user_id = $1 AND id = ANY($3::uuid[])
`

type SetCategoriesHiddenParams struct {
	UserID string
	Hidden bool
	IDs    []string
}

func (q *Queries) SetCategoriesHidden(ctx context.Context, arg SetCategoriesHiddenParams) error {
	_, err := q.db.Exec(ctx, setCategoriesHidden, arg.UserID, arg.Hidden, arg.IDs)
	return err
}

const listCategories = `-- name: ListCategories :many
SELECT id, name, type, hidden FROM categories
WHERE user_id = $1
ORDER BY created_at, name
`

type CategoryRow struct {
	ID     pgtype.UUID
	Name   string
	Type   string
	Hidden bool
}

func (q *Queries) ListCategories(ctx context.Context, userID string) ([]CategoryRow, error) {
	rows, err := q.db.Query(ctx, listCategories, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []CategoryRow
	for rows.Next() {
		var i CategoryRow
		if err := rows.Scan(&i.ID, &i.Name, &i.Type, &i.Hidden); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listAccounts = `-- name: ListAccounts :many
SELECT id, holder, bank, number FROM accounts
WHERE user_id = $1
ORDER BY created_at, holder, bank
`

type AccountRow struct {
	ID     pgtype.UUID
	Holder string
	Bank   string
	Number pgtype.Text
}

func (q *Queries) ListAccounts(ctx context.Context, userID string) ([]AccountRow, error) {
	rows, err := q.db.Query(ctx, listAccounts, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []AccountRow
	for rows.Next() {
		var i AccountRow
		if err := rows.Scan(&i.ID, &i.Holder, &i.Bank, &i.Number); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
