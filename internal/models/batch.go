package models

import (
	"fmt"
	"strings"
)

// Row maps a source column header to its raw cell text. Blank cells are "".
type Row map[string]string

// RowBatch is one sheet's worth of rows sharing Headers.
type RowBatch struct {
	Name    string   `json:"name"`
	Headers []string `json:"headers"`
	Rows    []Row    `json:"rows"`
}

// NewRowBatch builds a batch from positional records, padding short records
// with blanks and dropping cells beyond the header. Headers pass through
// NormalizeHeaders so every column keeps its own key.
func NewRowBatch(name string, headers []string, records [][]string) *RowBatch {
	headers, _ = NormalizeHeaders(headers)
	b := &RowBatch{
		Name:    name,
		Headers: headers,
		Rows:    make([]Row, 0, len(records)),
	}
	for _, rec := range records {
		row := make(Row, len(headers))
		for i, h := range headers {
			if i < len(rec) {
				row[h] = rec[i]
			} else {
				row[h] = ""
			}
		}
		b.Rows = append(b.Rows, row)
	}
	return b
}

// NormalizeHeaders names a blank header "Unnamed: <index>" and suffixes a
// repeated one with ".1", ".2" in order of appearance. renamed holds the
// new names of the changed positions.
func NormalizeHeaders(headers []string) (out []string, renamed []string) {
	out = make([]string, len(headers))
	used := make(map[string]bool, len(headers))
	for i, h := range headers {
		name := h
		if IsBlank(h) {
			name = fmt.Sprintf("Unnamed: %d", i)
		}
		if used[name] {
			base := name
			for n := 1; used[name]; n++ {
				name = fmt.Sprintf("%s.%d", base, n)
			}
		}
		if name != h {
			renamed = append(renamed, name)
		}
		used[name] = true
		out[i] = name
	}
	return out, renamed
}

// Len returns the number of data rows.
func (b *RowBatch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Rows)
}

// HasColumn reports whether header is one of the batch's columns.
func (b *RowBatch) HasColumn(header string) bool {
	for _, h := range b.Headers {
		if h == header {
			return true
		}
	}
	return false
}

// NumericPattern is the number grammar shared by validation and the load
// cast: optional sign, digits with optional fraction, optional exponent.
// Thousands separators are stripped before matching.
const NumericPattern = `^[+-]?([0-9]+\.?[0-9]*|\.[0-9]+)([eE][+-]?[0-9]+)?$`

// IsBlank reports whether v carries no data.
func IsBlank(v string) bool {
	return strings.TrimSpace(v) == ""
}

// Workbook is the ordered set of non-empty sheets parsed from one upload.
type Workbook struct {
	Sheets []*RowBatch
}

// Names returns the sheet names in file order.
func (w *Workbook) Names() []string {
	names := make([]string, 0, len(w.Sheets))
	for _, s := range w.Sheets {
		names = append(names, s.Name)
	}
	return names
}

// Sheet returns the sheet called name.
func (w *Workbook) Sheet(name string) (*RowBatch, bool) {
	for _, s := range w.Sheets {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Select returns the named sheet when present, otherwise the first sheet.
func (w *Workbook) Select(name string) (*RowBatch, bool) {
	if name != "" {
		if s, ok := w.Sheet(name); ok {
			return s, true
		}
	}
	if len(w.Sheets) == 0 {
		return nil, false
	}
	return w.Sheets[0], true
}
