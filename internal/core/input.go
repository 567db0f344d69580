package core

// input.go turns an uploaded file into a RawTable.
//
// CSV text may arrive with a UTF-8 BOM (Excel on Windows) or in Windows-1252
// when it was never UTF-8 to begin with. Spreadsheets (.xlsx) are read from
// their first sheet.

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

var (
	utf8BOM  = []byte{0xEF, 0xBB, 0xBF}
	zipMagic = []byte("PK\x03\x04")
)

// ReadTable reads at most limit bytes from r and tokenizes them. name is
// only used to recognize spreadsheets by extension. A limit <= 0 disables
// the size check.
func ReadTable(name string, r io.Reader, limit int64) (RawTable, error) {
	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("read upload: %w", err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: limit is %d bytes", ErrFileTooLarge, limit)
	}

	switch ext := strings.ToLower(filepath.Ext(name)); {
	case ext == ".xlsx" || bytes.HasPrefix(data, zipMagic):
		return readSpreadsheet(data)
	case ext == ".xls":
		return nil, fmt.Errorf("%w: %s (save as .xlsx or .csv)", ErrUnsupportedFormat, ext)
	}

	text, err := DecodeText(data)
	if err != nil {
		return nil, err
	}
	return Tokenize(text), nil
}

// DecodeText strips a UTF-8 BOM and returns the text. Bytes that are not
// valid UTF-8 are decoded as Windows-1252.
func DecodeText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if utf8.Valid(data) {
		return string(data), nil
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(data)
	if err != nil {
		return "", fmt.Errorf("encoding error: %w", err)
	}
	return string(decoded), nil
}

func readSpreadsheet(data []byte) (RawTable, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open spreadsheet: %v", ErrUnsupportedFormat, err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, ErrEmptyFile
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}

	table := make(RawTable, 0, len(rows))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, c := range row {
			cells[i] = strings.TrimSpace(c)
		}
		if !isBlankRow(cells) {
			table = append(table, cells)
		}
	}
	return table, nil
}
