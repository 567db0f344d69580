package core

// mapper.go matches a header row against a schema.
//
// Matching runs in three tiers, each across every schema field in schema order,
// and a header is consumed by at most one field:
//
//  1. the normalized header equals the normalized canonical name
//  2. the normalized header equals a normalized alias
//  3. the normalized header contains a normalized alias
//
// Earlier tiers always win, so "Due Date" goes to dueDate even when lentDate
// lists "date" as an alias. Within tiers 2 and 3 a field's aliases are tried in
// order and each alias takes the first free header it matches.

import (
	"fmt"
	"strings"
)

// FieldMap records which header column feeds each canonical field.
type FieldMap struct {
	schema  *Schema
	headers []string
	columns map[string]int
}

type matchTier struct {
	keys  func(name string, aliases []string) []string
	match func(header, key string) bool
}

var matchTiers = []matchTier{
	{
		keys:  func(name string, _ []string) []string { return []string{name} },
		match: func(h, key string) bool { return h == key },
	},
	{
		keys:  func(_ string, aliases []string) []string { return aliases },
		match: func(h, key string) bool { return h == key },
	},
	{
		keys:  func(_ string, aliases []string) []string { return aliases },
		match: strings.Contains,
	},
}

// MapHeaders builds a FieldMap for headers.
//
// Mapping fails with ErrMissingRequiredColumns only when no field of the
// schema matches any header. Otherwise required fields left unmapped are
// reported by row validation.
func MapHeaders(headers []string, schema *Schema) (*FieldMap, error) {
	normalized := make([]string, len(headers))
	for i, h := range headers {
		normalized[i] = NormalizeHeader(h)
	}

	m := &FieldMap{schema: schema, headers: headers, columns: make(map[string]int)}
	consumed := make([]bool, len(headers))

	for _, tier := range matchTiers {
		for _, f := range schema.Fields {
			if _, done := m.columns[f.Name]; done {
				continue
			}
			if hi := tier.find(normalized, consumed, NormalizeHeader(f.Name), normalizeAll(f.Aliases)); hi >= 0 {
				m.columns[f.Name] = hi
				consumed[hi] = true
			}
		}
	}

	if len(m.columns) == 0 {
		var missing []string
		for _, f := range schema.RequiredFields() {
			missing = append(missing, f.DisplayName())
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("%w: %s", ErrMissingRequiredColumns, strings.Join(missing, ", "))
		}
	}

	return m, nil
}

// find returns the first free header matching the tier's keys in key order,
// or -1.
func (t matchTier) find(headers []string, consumed []bool, name string, aliases []string) int {
	for _, key := range t.keys(name, aliases) {
		for hi, h := range headers {
			if consumed[hi] || h == "" {
				continue
			}
			if t.match(h, key) {
				return hi
			}
		}
	}
	return -1
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := NormalizeHeader(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

// Schema returns the schema the map was built for.
func (m *FieldMap) Schema() *Schema { return m.schema }

// Headers returns the original header row.
func (m *FieldMap) Headers() []string { return m.headers }

// Column returns the header index feeding field.
func (m *FieldMap) Column(field string) (int, bool) {
	i, ok := m.columns[field]
	return i, ok
}

// Unmapped returns the canonical names of fields with no column, in schema order.
func (m *FieldMap) Unmapped() []string {
	var out []string
	for _, f := range m.schema.Fields {
		if _, ok := m.columns[f.Name]; !ok {
			out = append(out, f.Name)
		}
	}
	return out
}

// Extract builds the MappedRow for one row of cells. Unmapped fields and
// missing trailing cells read as "".
func (m *FieldMap) Extract(cells []string) MappedRow {
	row := make(MappedRow, len(m.schema.Fields))
	for _, f := range m.schema.Fields {
		row[f.Name] = m.ExtractField(cells, f.Name)
	}
	return row
}

// ExtractField recomputes a single field from raw cells.
func (m *FieldMap) ExtractField(cells []string, field string) string {
	i, ok := m.columns[field]
	if !ok || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// RowData pairs each header with its cell for error reports. Cells feeding
// sensitive fields are masked.
func (m *FieldMap) RowData(cells []string) map[string]string {
	masked := make(map[int]bool)
	for _, f := range m.schema.Fields {
		if i, ok := m.columns[f.Name]; ok && f.Sensitive {
			masked[i] = true
		}
	}

	data := make(map[string]string, len(m.headers))
	for i, h := range m.headers {
		if h == "" {
			continue
		}
		v := ""
		if i < len(cells) {
			v = cells[i]
		}
		if masked[i] && v != "" {
			v = maskedValue
		}
		data[h] = v
	}
	return data
}

const maskedValue = "********"
