package core

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func TestReadTable_CSV(t *testing.T) {
	tests := []struct {
		name  string
		input []byte
		want  RawTable
	}{
		{
			name:  "plain",
			input: []byte("Name,Amount\nA,1\n"),
			want:  RawTable{{"Name", "Amount"}, {"A", "1"}},
		},
		{
			name:  "utf-8 BOM is stripped",
			input: []byte("\xEF\xBB\xBFName,Amount\nA,1"),
			want:  RawTable{{"Name", "Amount"}, {"A", "1"}},
		},
		{
			name:  "windows-1252 is decoded",
			input: []byte("Name,Amount\nCaf\xe9,\x801\n"),
			want:  RawTable{{"Name", "Amount"}, {"Café", "€1"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ReadTable("upload.csv", bytes.NewReader(tt.input), 1024)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReadTable_Limits(t *testing.T) {
	_, err := ReadTable("big.csv", strings.NewReader(strings.Repeat("a", 11)), 10)
	assert.ErrorIs(t, err, ErrFileTooLarge)

	got, err := ReadTable("exact.csv", strings.NewReader(strings.Repeat("a", 10)), 10)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	_, err = ReadTable("legacy.xls", strings.NewReader("whatever"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestReadTable_Spreadsheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	require.NoError(t, f.SetSheetRow(sheet, "A1", &[]any{"Category Name", "Category Type", "Target Amount"}))
	require.NoError(t, f.SetSheetRow(sheet, "A2", &[]any{" Food ", "EXPENSE", "3000"}))
	require.NoError(t, f.SetSheetRow(sheet, "A4", &[]any{"Salary", "INCOME", "5000"}))
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	require.NoError(t, f.Close())

	want := RawTable{
		{"Category Name", "Category Type", "Target Amount"},
		{"Food", "EXPENSE", "3000"},
		{"Salary", "INCOME", "5000"},
	}

	got, err := ReadTable("budget.xlsx", bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// Detected by content even with the wrong extension.
	got, err = ReadTable("budget.csv", bytes.NewReader(buf.Bytes()), 0)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadTable_BrokenSpreadsheet(t *testing.T) {
	_, err := ReadTable("broken.xlsx", strings.NewReader("PK\x03\x04not really a zip"), 0)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}
