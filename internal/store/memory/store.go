// Package memory is an in-process implementation of the import store.
//
// It backs dry runs and tests. Transactions work on a copy of the data and
// swap it in on commit, so a failed batch leaves nothing behind, the same as
// the Postgres store.
package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/finimport/internal/core"
)

// Op names a store call that failures can be injected into.
type Op string

const (
	OpCreateRecord        Op = "create_record"
	OpDeleteByNaturalKey  Op = "delete_by_natural_key"
	OpCreateCategory      Op = "create_category"
	OpSetCategoriesHidden Op = "set_categories_hidden"
	OpCommit              Op = "commit"
)

// FailFunc decides whether a call fails. rec is the record being written
// for OpCreateRecord and the zero Record otherwise.
type FailFunc func(op Op, rec core.Record) error

// StoredRecord is a committed record.
type StoredRecord struct {
	ID        string
	UserID    string
	CreatedAt time.Time
	Record    core.Record
}

type data struct {
	records    []StoredRecord
	categories map[string][]core.Category
}

func (d data) clone() data {
	out := data{
		records:    append([]StoredRecord(nil), d.records...),
		categories: make(map[string][]core.Category, len(d.categories)),
	}
	for user, cats := range d.categories {
		out.categories[user] = append([]core.Category(nil), cats...)
	}
	return out
}

// Store keeps records, categories and accounts per user.
type Store struct {
	mu       sync.Mutex
	data     data
	accounts map[string][]core.Account
	failWhen FailFunc
	failNext map[Op][]error
	commits  int
	rollback int
}

// New returns an empty store.
func New() *Store {
	return &Store{
		data:     data{categories: make(map[string][]core.Category)},
		accounts: make(map[string][]core.Account),
		failNext: make(map[Op][]error),
	}
}

// FailWhen installs fn to be consulted on every call. nil removes it.
func (s *Store) FailWhen(fn FailFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWhen = fn
}

// FailNext makes the next call of op return err. Calls queue up.
func (s *Store) FailNext(op Op, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[op] = append(s.failNext[op], err)
}

// must be called with s.mu held.
func (s *Store) injected(op Op, rec core.Record) error {
	if queued := s.failNext[op]; len(queued) > 0 {
		s.failNext[op] = queued[1:]
		return queued[0]
	}
	if s.failWhen != nil {
		return s.failWhen(op, rec)
	}
	return nil
}

// SeedCategories adds categories for a user, assigning ids where missing.
func (s *Store) SeedCategories(userID string, cats ...core.Category) []core.Category {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range cats {
		if cats[i].ID == "" {
			cats[i].ID = uuid.NewString()
		}
	}
	s.data.categories[userID] = append(s.data.categories[userID], cats...)
	return cats
}

// SeedAccounts adds accounts for a user, assigning ids where missing.
func (s *Store) SeedAccounts(userID string, accounts ...core.Account) []core.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range accounts {
		if accounts[i].ID == "" {
			accounts[i].ID = uuid.NewString()
		}
	}
	s.accounts[userID] = append(s.accounts[userID], accounts...)
	return accounts
}

// Records returns a user's committed records of one entity in insert order.
func (s *Store) Records(userID string, entity core.EntityKind) []StoredRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []StoredRecord
	for _, r := range s.data.records {
		if r.UserID == userID && r.Record.Entity == entity {
			out = append(out, r)
		}
	}
	return out
}

// Stats returns how many transactions committed and rolled back.
func (s *Store) Stats() (commits, rollbacks int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits, s.rollback
}

// InTx runs fn against a private copy and publishes it when fn succeeds.
// Transactions are serialized.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx core.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	tx := &tx{store: s, data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		s.rollback++
		return err
	}
	if err := s.injected(OpCommit, core.Record{}); err != nil {
		s.rollback++
		return fmt.Errorf("commit: %w", err)
	}
	s.data = tx.data
	s.commits++
	return nil
}

// ListCategories returns a user's categories, hidden ones included.
func (s *Store) ListCategories(_ context.Context, userID string) ([]core.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Category(nil), s.data.categories[userID]...), nil
}

// ListAccounts returns a user's accounts.
func (s *Store) ListAccounts(_ context.Context, userID string) ([]core.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.Account(nil), s.accounts[userID]...), nil
}

type tx struct {
	store *Store
	data  data
}

func (t *tx) CreateRecord(_ context.Context, userID string, rec core.Record) (string, error) {
	if err := t.store.injected(OpCreateRecord, rec); err != nil {
		return "", err
	}
	id := uuid.NewString()
	t.data.records = append(t.data.records, StoredRecord{
		ID:        id,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
		Record:    rec.Clone(),
	})
	return id, nil
}

func (t *tx) DeleteByNaturalKey(_ context.Context, userID string, entity core.EntityKind, key string) (int64, error) {
	if err := t.store.injected(OpDeleteByNaturalKey, core.Record{}); err != nil {
		return 0, err
	}
	kept := t.data.records[:0:0]
	var n int64
	for _, r := range t.data.records {
		if r.UserID == userID && r.Record.Entity == entity && r.Record.NaturalKey == key {
			n++
			continue
		}
		kept = append(kept, r)
	}
	t.data.records = kept
	return n, nil
}

func (t *tx) CreateCategory(_ context.Context, userID string, c core.Category) (core.Category, error) {
	if err := t.store.injected(OpCreateCategory, core.Record{}); err != nil {
		return core.Category{}, err
	}
	for _, existing := range t.data.categories[userID] {
		if strings.EqualFold(existing.Name, c.Name) && strings.EqualFold(existing.Type, c.Type) {
			return core.Category{}, fmt.Errorf("category %q (%s): duplicate key value", c.Name, c.Type)
		}
	}
	c.ID = uuid.NewString()
	c.Type = strings.ToUpper(c.Type)
	t.data.categories[userID] = append(t.data.categories[userID], c)
	return c, nil
}

func (t *tx) SetCategoriesHidden(_ context.Context, userID string, ids []string, hidden bool) error {
	if err := t.store.injected(OpSetCategoriesHidden, core.Record{}); err != nil {
		return err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	cats := t.data.categories[userID]
	for i := range cats {
		if want[cats[i].ID] {
			cats[i].Hidden = hidden
		}
	}
	return nil
}
