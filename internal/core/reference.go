package core

// reference.go resolves free-text references to existing categories and
// accounts. The matching is a documented heuristic: exact first, then a
// looser fallback, first candidate wins.

import "strings"

// ReferenceIndex holds the categories and accounts a run may reference.
// It is built once per run and only grows between batches, after a commit
// that created categories.
type ReferenceIndex struct {
	categories []Category
	byKey      map[string]int
	accounts   []Account
}

// NewReferenceIndex builds an index from caller-supplied collections.
func NewReferenceIndex(categories []Category, accounts []Account) *ReferenceIndex {
	ix := &ReferenceIndex{
		byKey:    make(map[string]int, len(categories)),
		accounts: append([]Account(nil), accounts...),
	}
	ix.AddCategories(categories...)
	return ix
}

func categoryKey(name, typ string) string {
	return strings.ToLower(strings.TrimSpace(name)) + "|" + strings.ToUpper(strings.TrimSpace(typ))
}

// AddCategories appends categories. Existing keys are kept.
func (ix *ReferenceIndex) AddCategories(cs ...Category) {
	for _, c := range cs {
		key := categoryKey(c.Name, c.Type)
		if _, ok := ix.byKey[key]; ok {
			continue
		}
		ix.byKey[key] = len(ix.categories)
		ix.categories = append(ix.categories, c)
	}
}

// Categories returns the indexed categories in insertion order.
func (ix *ReferenceIndex) Categories() []Category {
	return append([]Category(nil), ix.categories...)
}

// Accounts returns the indexed accounts in caller order.
func (ix *ReferenceIndex) Accounts() []Account {
	return append([]Account(nil), ix.accounts...)
}

// ResolveCategory finds a category by name and type.
func (ix *ReferenceIndex) ResolveCategory(name, typ string) (Category, bool) {
	if i, ok := ix.byKey[categoryKey(name, typ)]; ok {
		return ix.categories[i], true
	}
	return ResolveCategory(name, typ, ix.categories)
}

// ResolveAccount finds an account by display string or partial match.
func (ix *ReferenceIndex) ResolveAccount(value string) (Account, bool) {
	return ResolveAccount(value, ix.accounts)
}

// ResolveCategory matches the trimmed, case-folded name and type exactly,
// then falls back to comparing normalized names ("Eating-Out" == "eating out").
func ResolveCategory(name, typ string, candidates []Category) (Category, bool) {
	if strings.TrimSpace(name) == "" {
		return Category{}, false
	}
	want := categoryKey(name, typ)
	for _, c := range candidates {
		if categoryKey(c.Name, c.Type) == want {
			return c, true
		}
	}

	norm := NormalizeHeader(name)
	if norm == "" {
		return Category{}, false
	}
	for _, c := range candidates {
		if strings.EqualFold(c.Type, strings.TrimSpace(typ)) && NormalizeHeader(c.Name) == norm {
			return c, true
		}
	}
	return Category{}, false
}

// ResolveAccount matches the exported "<holder> - <bank>" form exactly
// (ignoring case), then takes the first account whose holder, bank or
// account number contains the value.
func ResolveAccount(value string, accounts []Account) (Account, bool) {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return Account{}, false
	}

	for _, a := range accounts {
		if strings.ToLower(a.DisplayName()) == v {
			return a, true
		}
	}

	for _, a := range accounts {
		for _, part := range []string{a.Holder, a.Bank, a.Number} {
			if part != "" && strings.Contains(strings.ToLower(part), v) {
				return a, true
			}
		}
	}
	return Account{}, false
}

// ReconcileAfterImport compares the categories referenced by a successful
// import with the existing ones. Categories of an imported type that were
// not imported are returned in hide; imported categories that are currently
// hidden are returned in show. Nothing is ever deleted.
func ReconcileAfterImport(imported []Category, existing []Category) (hide, show []string) {
	if len(imported) == 0 {
		return nil, nil
	}

	keys := make(map[string]bool, len(imported))
	types := make(map[string]bool)
	for _, c := range imported {
		keys[categoryKey(c.Name, c.Type)] = true
		types[strings.ToUpper(c.Type)] = true
	}

	for _, c := range existing {
		if c.ID == "" || !types[strings.ToUpper(c.Type)] {
			continue
		}
		present := keys[categoryKey(c.Name, c.Type)]
		switch {
		case !present && !c.Hidden:
			hide = append(hide, c.ID)
		case present && c.Hidden:
			show = append(show, c.ID)
		}
	}
	return hide, show
}

// SetHidden updates the visibility of indexed categories.
func (ix *ReferenceIndex) SetHidden(ids []string, hidden bool) {
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range ix.categories {
		if want[ix.categories[i].ID] {
			ix.categories[i].Hidden = hidden
		}
	}
}
