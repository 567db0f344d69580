package core

// tokenize.go splits CSV text into rows of cells.
//
// The rules are deliberately small: double quotes delimit fields that may hold
// commas, newlines and "" escapes; whitespace outside quotes is trimmed; rows
// whose cells are all empty are dropped. An unterminated quote is not an
// error, the rest of the input becomes part of the open field.

import "strings"

// Tokenize converts CSV text into a RawTable.
func Tokenize(text string) RawTable {
	var (
		rows     RawTable
		row      []string
		field    strings.Builder
		inQuotes bool // inside a quoted section
		quoted   bool // current field had a quoted section
		closed   bool // quoted section ended; only whitespace may follow
	)

	endField := func() {
		v := field.String()
		if !quoted {
			v = strings.TrimSpace(v)
		}
		row = append(row, v)
		field.Reset()
		quoted, closed = false, false
	}
	endRow := func() {
		endField()
		if !isBlankRow(row) {
			rows = append(rows, row)
		}
		row = nil
	}

	for i := 0; i < len(text); i++ {
		c := text[i]

		if inQuotes {
			if c == '"' {
				if i+1 < len(text) && text[i+1] == '"' {
					field.WriteByte('"')
					i++
					continue
				}
				inQuotes = false
				closed = true
				continue
			}
			field.WriteByte(c)
			continue
		}

		switch c {
		case ',':
			endField()
		case '\r':
			if i+1 < len(text) && text[i+1] == '\n' {
				i++
			}
			endRow()
		case '\n':
			endRow()
		case '"':
			if !quoted && strings.TrimSpace(field.String()) == "" {
				field.Reset()
				inQuotes, quoted = true, true
			} else {
				field.WriteByte(c)
			}
		case ' ', '\t':
			if !closed {
				field.WriteByte(c)
			}
		default:
			field.WriteByte(c)
		}
	}

	if inQuotes || field.Len() > 0 || len(row) > 0 || quoted {
		endRow()
	}

	return rows
}

// Serialize renders rows as CSV text that Tokenize reads back unchanged.
func Serialize(rows [][]string) string {
	var b strings.Builder
	for i, row := range rows {
		if i > 0 {
			b.WriteByte('\n')
		}
		for j, cell := range row {
			if j > 0 {
				b.WriteByte(',')
			}
			b.WriteString(quoteCell(cell))
		}
	}
	return b.String()
}

func quoteCell(s string) string {
	if s == "" {
		return s
	}
	needs := strings.ContainsAny(s, ",\"\r\n") || strings.TrimSpace(s) != s
	if !needs {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func isBlankRow(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}
