// Package ingest converts raw spreadsheet or delimited-text bytes into
// ordered, loosely-typed records and normalizes them into the canonical
// shape the validator and sync pipeline expect.
package ingest

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/saintfish/chardet"
	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/transform"
)

var (
	// ErrUnsupportedFormat rejects a file before any parsing is attempted.
	ErrUnsupportedFormat = errors.New("unsupported file format")

	// ErrEmptyInput rejects input with zero data rows.
	ErrEmptyInput = errors.New("input contains no data rows")
)

// RawRecord is one data row keyed by header text (lowercased), with its
// 1-based position among the input's data rows.
type RawRecord struct {
	Row    int
	Fields map[string]string
}

// Parse dispatches on the file extension and returns the ordered data
// records plus the header row as it appeared in the input. Supported
// formats: .csv (delimited text, first row headers) and .xlsx (first sheet
// only). Any other extension fails with ErrUnsupportedFormat.
func Parse(fileName string, data []byte) ([]RawRecord, []string, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".csv":
		return parseDelimited(data)
	case ".xlsx":
		return parseSpreadsheet(data)
	default:
		return nil, nil, fmt.Errorf("%w: %s (expected .csv or .xlsx)", ErrUnsupportedFormat, fileName)
	}
}

// parseDelimited reads header-driven CSV. Input is transcoded to UTF-8 when
// the bytes are not already valid UTF-8.
func parseDelimited(data []byte) ([]RawRecord, []string, error) {
	data = decodeToUTF8(data)

	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("parse csv: %w", err)
	}
	return buildRecords(rows)
}

// parseSpreadsheet reads the first sheet of an xlsx workbook.
func parseSpreadsheet(data []byte) ([]RawRecord, []string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, nil, fmt.Errorf("open workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, ErrEmptyInput
	}

	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheets[0], err)
	}
	return buildRecords(rows)
}

// buildRecords turns a header row plus data rows into field maps. Empty rows
// are skipped; surviving rows are numbered 1..n in input order.
func buildRecords(rows [][]string) ([]RawRecord, []string, error) {
	for len(rows) > 0 && isEmptyRow(rows[0]) {
		rows = rows[1:]
	}
	if len(rows) == 0 {
		return nil, nil, ErrEmptyInput
	}

	headerRow := rows[0]
	headers := make([]string, len(headerRow))
	keys := make([]string, len(headerRow))
	for i, h := range headerRow {
		headers[i] = CleanCell(h)
		keys[i] = strings.ToLower(headers[i])
	}

	var records []RawRecord
	for _, row := range rows[1:] {
		if isEmptyRow(row) {
			continue
		}
		fields := make(map[string]string, len(keys))
		for i, key := range keys {
			if key == "" {
				continue
			}
			if i < len(row) {
				fields[key] = CleanCell(row[i])
			} else {
				fields[key] = ""
			}
		}
		records = append(records, RawRecord{Row: len(records) + 1, Fields: fields})
	}

	if len(records) == 0 {
		return nil, nil, ErrEmptyInput
	}
	return records, headers, nil
}

// decodeToUTF8 returns data as valid UTF-8. Already-valid input passes
// through untouched (minus a leading BOM). Otherwise the charset is detected
// and the bytes transcoded; undetectable input falls back to replacing
// invalid sequences.
func decodeToUTF8(data []byte) []byte {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})
	if utf8.Valid(data) {
		return data
	}

	result, err := chardet.NewTextDetector().DetectBest(data)
	if err == nil && result != nil {
		if enc, err := ianaindex.IANA.Encoding(result.Charset); err == nil && enc != nil {
			if decoded, _, err := transform.Bytes(enc.NewDecoder(), data); err == nil && utf8.Valid(decoded) {
				return decoded
			}
		}
	}
	return sanitizeUTF8(data)
}

// sanitizeUTF8 replaces invalid byte sequences with the replacement rune.
func sanitizeUTF8(data []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(len(data))

	for len(data) > 0 {
		r, size := utf8.DecodeRune(data)
		if r == utf8.RuneError && size == 1 {
			buf.WriteRune('�')
			data = data[1:]
		} else {
			buf.WriteRune(r)
			data = data[size:]
		}
	}
	return buf.Bytes()
}

// CleanCell removes common tabular artifacts from a cell value:
// - Trims whitespace and a UTF-8 BOM
// - Removes Excel formula prefix (="...")
// - Removes surrounding quotes
func CleanCell(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "=\"") && strings.HasSuffix(s, "\"") {
		s = s[2 : len(s)-1]
	} else if strings.HasPrefix(s, "=") {
		s = s[1:]
	}

	return strings.Trim(s, `"'`)
}

func isEmptyRow(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
