package core

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"
)

// fakeStore is an in-package Store whose transactions stage changes on a
// copy and swap them in on commit.
type fakeStore struct {
	mu         sync.Mutex
	records    []storedRecord
	categories []Category
	accounts   []Account
	nextID     int
	txCount    int

	// failCreate, when set, is consulted before every record insert.
	failCreate func(rec Record) error
}

type storedRecord struct {
	ID     string
	UserID string
	Record Record
}

func (s *fakeStore) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.txCount++

	tx := &fakeTx{
		store:      s,
		records:    append([]storedRecord(nil), s.records...),
		categories: append([]Category(nil), s.categories...),
		nextID:     s.nextID,
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.records, s.categories, s.nextID = tx.records, tx.categories, tx.nextID
	return nil
}

func (s *fakeStore) ListCategories(context.Context, string) ([]Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Category(nil), s.categories...), nil
}

func (s *fakeStore) ListAccounts(context.Context, string) ([]Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Account(nil), s.accounts...), nil
}

func (s *fakeStore) recordsOf(entity EntityKind) []Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.Record.Entity == entity {
			out = append(out, r.Record)
		}
	}
	return out
}

func (s *fakeStore) category(name, typ string) (Category, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ResolveCategory(name, typ, s.categories)
}

type fakeTx struct {
	store      *fakeStore
	records    []storedRecord
	categories []Category
	nextID     int
}

func (tx *fakeTx) id(prefix string) string {
	tx.nextID++
	return fmt.Sprintf("%s-%d", prefix, tx.nextID)
}

func (tx *fakeTx) CreateRecord(_ context.Context, userID string, rec Record) (string, error) {
	if tx.store.failCreate != nil {
		if err := tx.store.failCreate(rec); err != nil {
			return "", err
		}
	}
	id := tx.id("rec")
	tx.records = append(tx.records, storedRecord{ID: id, UserID: userID, Record: rec.Clone()})
	return id, nil
}

func (tx *fakeTx) DeleteByNaturalKey(_ context.Context, userID string, entity EntityKind, key string) (int64, error) {
	kept := tx.records[:0:0]
	var n int64
	for _, r := range tx.records {
		if r.UserID == userID && r.Record.Entity == entity && r.Record.NaturalKey == key {
			n++
			continue
		}
		kept = append(kept, r)
	}
	tx.records = kept
	return n, nil
}

func (tx *fakeTx) CreateCategory(_ context.Context, _ string, c Category) (Category, error) {
	c.ID = tx.id("cat")
	tx.categories = append(tx.categories, c)
	return c, nil
}

func (tx *fakeTx) SetCategoriesHidden(_ context.Context, _ string, ids []string, hidden bool) error {
	for _, id := range ids {
		for i := range tx.categories {
			if tx.categories[i].ID == id {
				tx.categories[i].Hidden = hidden
			}
		}
	}
	return nil
}

// fakeSchemas is a SchemaSource over a fixed list.
type fakeSchemas []*Schema

func (f fakeSchemas) Schema(entity EntityKind) (*Schema, error) {
	for _, s := range f {
		if s.Entity == entity {
			return s, nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEntity, entity)
}

func (f fakeSchemas) Schemas() []*Schema { return f }

func newTestService(store *fakeStore, opts Options) *Service {
	schemas := fakeSchemas{budgetSchema(), expenseSchema(), debtSchema(), passwordSchema()}
	return NewService(store, store, schemas, opts)
}

// =============================================================================
// Test schemas
// =============================================================================

func zero() *decimal.Decimal {
	d := decimal.Zero
	return &d
}

func budgetSchema() *Schema {
	return &Schema{
		Entity:              EntityBudget,
		Label:               "Budget targets",
		NaturalKey:          []string{"categoryName", "categoryType"},
		ReconcileCategories: true,
		Fields: []FieldSpec{
			{Name: "categoryName", Label: "Category name", Kind: KindReference, Ref: RefCategory, RefTypeField: "categoryType", AutoCreate: true, Required: true, Aliases: []string{"category name", "category", "name"}},
			{Name: "categoryType", Label: "Category type", Kind: KindEnum, Required: true, Aliases: []string{"category type", "type"}, Enum: []EnumValue{
				{Value: "INCOME", Aliases: []string{"income", "revenue"}},
				{Value: "EXPENSE", Aliases: []string{"expense", "expenses", "spending"}},
			}},
			{Name: "targetAmount", Label: "Target amount", Kind: KindNumber, Required: true, Min: zero(), MinExclusive: true, Aliases: []string{"target amount", "target", "amount"}},
			{Name: "period", Label: "Period", Kind: KindEnum, Default: "MONTHLY", Aliases: []string{"period", "frequency"}, Enum: []EnumValue{
				{Value: "WEEKLY", Aliases: []string{"week"}},
				{Value: "MONTHLY", Aliases: []string{"month"}},
				{Value: "YEARLY", Aliases: []string{"year", "annual"}},
			}},
		},
	}
}

func expenseSchema() *Schema {
	return &Schema{
		Entity: EntityExpense,
		Label:  "Expenses",
		Fields: []FieldSpec{
			{Name: "date", Label: "Date", Kind: KindDate, Required: true, Aliases: []string{"transaction date", "date"}},
			{Name: "amount", Label: "Amount", Kind: KindNumber, Required: true, Min: zero(), MinExclusive: true, Aliases: []string{"amount", "value", "total", "debit"}},
			{Name: "category", Label: "Category", Kind: KindReference, Ref: RefCategory, RefType: "EXPENSE", Required: true, Aliases: []string{"category", "type"}},
			{Name: "description", Label: "Description", Kind: KindString, Aliases: []string{"description", "memo"}},
			{Name: "account", Label: "Account", Kind: KindReference, Ref: RefAccount, Aliases: []string{"account", "bank"}},
		},
	}
}

func debtSchema() *Schema {
	return &Schema{
		Entity: EntityDebt,
		Label:  "Debts",
		Fields: []FieldSpec{
			{Name: "borrowerName", Label: "Borrower name", Kind: KindString, Required: true, Aliases: []string{"borrower", "name"}},
			{Name: "amount", Label: "Amount", Kind: KindNumber, Required: true, Min: zero(), MinExclusive: true, Aliases: []string{"amount"}},
			{Name: "lentDate", Label: "Lent date", Kind: KindDate, Required: true, Aliases: []string{"lent date", "date"}},
			{Name: "dueDate", Label: "Due date", Kind: KindDate, Aliases: []string{"due date", "due"}},
			{Name: "status", Label: "Status", Kind: KindEnum, Default: "ACTIVE", Aliases: []string{"status"}, Enum: []EnumValue{
				{Value: "ACTIVE", Aliases: []string{"open"}},
				{Value: "FULLY_PAID", Aliases: []string{"paid", "settled"}},
			}},
			{Name: "interestRate", Label: "Interest rate", Kind: KindNumber, Min: zero(), Aliases: []string{"interest rate", "interest"}},
		},
		Rules: []DateOrderRule{{Start: "lentDate", End: "dueDate", Message: "Due date must be after lent date"}},
	}
}

func passwordSchema() *Schema {
	return &Schema{
		Entity: EntityPassword,
		Label:  "Passwords",
		Fields: []FieldSpec{
			{Name: "website", Label: "Website", Kind: KindString, Required: true, Aliases: []string{"website", "site", "name"}},
			{Name: "username", Label: "Username", Kind: KindString, Aliases: []string{"username", "user", "login username"}},
			{Name: "password", Label: "Password", Kind: KindString, Required: true, Sensitive: true, Aliases: []string{"password", "pass"}},
			{Name: "url", Label: "URL", Kind: KindString, Aliases: []string{"url", "login uri"}},
		},
	}
}
