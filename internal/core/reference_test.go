package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveCategory(t *testing.T) {
	cats := []Category{
		{ID: "1", Name: "Eating Out", Type: "EXPENSE"},
		{ID: "2", Name: "Salary", Type: "INCOME"},
		{ID: "3", Name: "Salary", Type: "EXPENSE"},
	}

	tests := []struct {
		name   string
		value  string
		typ    string
		wantID string
	}{
		{"exact", "Salary", "INCOME", "2"},
		{"case and whitespace", "  salary ", "expense", "3"},
		{"normalized fallback", "eating-out", "EXPENSE", "1"},
		{"wrong type", "Eating Out", "INCOME", ""},
		{"empty", "", "EXPENSE", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, ok := ResolveCategory(tt.value, tt.typ, cats)
			assert.Equal(t, tt.wantID != "", ok)
			assert.Equal(t, tt.wantID, c.ID)
		})
	}
}

func TestResolveAccount(t *testing.T) {
	accounts := []Account{
		{ID: "a", Holder: "Jane", Bank: "Chase", Number: "1111"},
		{ID: "b", Holder: "John", Bank: "Chase", Number: "2222"},
	}

	tests := []struct {
		value  string
		wantID string
	}{
		{"John - Chase", "b"},
		{"chase", "a"},
		{"2222", "b"},
		{"joh", "b"},
		{"Ally", ""},
		{" ", ""},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			a, ok := ResolveAccount(tt.value, accounts)
			assert.Equal(t, tt.wantID != "", ok)
			assert.Equal(t, tt.wantID, a.ID)
		})
	}
}

func TestReconcileAfterImport(t *testing.T) {
	existing := []Category{
		{ID: "food", Name: "Food", Type: "EXPENSE"},
		{ID: "rent", Name: "Rent", Type: "EXPENSE"},
		{ID: "salary", Name: "Salary", Type: "INCOME"},
		{ID: "old", Name: "Old", Type: "EXPENSE", Hidden: true},
		{ID: "travel", Name: "Travel", Type: "EXPENSE", Hidden: true},
	}
	imported := []Category{{Name: "food", Type: "EXPENSE"}, {Name: "Travel", Type: "expense"}}

	hide, show := ReconcileAfterImport(imported, existing)
	assert.Equal(t, []string{"rent"}, hide)
	assert.Equal(t, []string{"travel"}, show)

	hide, show = ReconcileAfterImport(nil, existing)
	assert.Empty(t, hide)
	assert.Empty(t, show)
}

func TestReferenceIndex(t *testing.T) {
	ix := NewReferenceIndex([]Category{{ID: "1", Name: "Food", Type: "EXPENSE"}}, nil)

	ix.AddCategories(Category{ID: "dup", Name: "FOOD", Type: "expense"}, Category{ID: "2", Name: "Gym", Type: "EXPENSE"})
	assert.Len(t, ix.Categories(), 2)

	c, ok := ix.ResolveCategory("gym", "EXPENSE")
	assert.True(t, ok)
	assert.Equal(t, "2", c.ID)

	ix.SetHidden([]string{"2"}, true)
	c, _ = ix.ResolveCategory("Gym", "EXPENSE")
	assert.True(t, c.Hidden)

	_, ok = ix.ResolveAccount("anything")
	assert.False(t, ok)
}
