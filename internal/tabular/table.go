package tabular

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Table is a header plus string cells. Column names are trimmed and lower-cased.
type Table struct {
	Name    string
	Columns []string
	Rows    [][]string
}

func (t *Table) Index(column string) int {
	for i, c := range t.Columns {
		if c == column {
			return i
		}
	}
	return -1
}

// Value returns the trimmed cell for column in row, or "" when absent.
func (t *Table) Value(row []string, column string) string {
	idx := t.Index(column)
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func (t *Table) Sample(n int) [][]string {
	if n >= len(t.Rows) {
		return t.Rows
	}
	return t.Rows[:n]
}

// Read picks a reader by file extension.
func Read(name string, r io.Reader) (*Table, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt", "":
		return ReadCSV(name, r)
	case ".xlsx", ".xlsm", ".xls":
		return ReadXLSX(name, r)
	}
	return nil, fmt.Errorf("unsupported file type %q", filepath.Ext(name))
}

func ReadCSV(name string, r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))

	reader := csv.NewReader(bytes.NewReader(data))
	reader.Comma = detectDelimiter(data)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse csv %s: %w", name, err)
	}

	return fromRecords(name, records)
}

func ReadXLSX(name string, r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook %s: %w", name, err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("workbook %s has no sheets", name)
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %s: %w", sheets[0], err)
	}

	return fromRecords(name, rows)
}

func fromRecords(name string, records [][]string) (*Table, error) {
	if len(records) == 0 {
		return nil, errors.New("source " + name + " is empty")
	}

	columns := make([]string, len(records[0]))
	for i, c := range records[0] {
		columns[i] = strings.ToLower(strings.TrimSpace(c))
	}

	rows := make([][]string, 0, len(records)-1)
	for _, rec := range records[1:] {
		if isBlank(rec) {
			// Blank lines still count towards row numbers.
			rows = append(rows, nil)
			continue
		}
		rows = append(rows, rec)
	}

	return &Table{Name: name, Columns: columns, Rows: rows}, nil
}

func isBlank(rec []string) bool {
	for _, v := range rec {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func detectDelimiter(data []byte) rune {
	line := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		line = data[:i]
	}
	if bytes.Count(line, []byte(";")) > bytes.Count(line, []byte(",")) {
		return ';'
	}
	return ','
}
