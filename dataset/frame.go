// Package dataset holds the two table shapes the pipeline moves between
// stages: Frame, the raw string cells read from delimited files, and
// Table, the numeric feature matrix produced by preprocessing.
package dataset

import (
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Frame is a row-major table of raw string cells.
type Frame struct {
	Header []string
	Rows   [][]string
	index  map[string]int
}

// NewFrame validates that header names are unique and that every row has
// one cell per header column.
func NewFrame(header []string, rows [][]string) (*Frame, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		if _, dup := index[name]; dup {
			return nil, errors.NewDataError("NewFrame", name, "duplicate column name")
		}
		index[name] = i
	}
	for r, row := range rows {
		if len(row) != len(header) {
			return nil, errors.NewDataRowError("NewFrame", "", r, fmt.Sprintf("expected %d cells, got %d", len(header), len(row)), nil)
		}
	}
	return &Frame{Header: header, Rows: rows, index: index}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.Rows) }

// Width returns the number of columns.
func (f *Frame) Width() int { return len(f.Header) }

// ColumnIndex returns the position of name in the header.
func (f *Frame) ColumnIndex(name string) (int, bool) {
	i, ok := f.index[name]
	return i, ok
}

// HasColumn reports whether name is in the header.
func (f *Frame) HasColumn(name string) bool {
	_, ok := f.index[name]
	return ok
}

// Column returns a copy of the cells of one column.
func (f *Frame) Column(name string) ([]string, error) {
	j, ok := f.index[name]
	if !ok {
		return nil, errors.NewDataError("Frame.Column", name, "column not found")
	}
	out := make([]string, len(f.Rows))
	for i, row := range f.Rows {
		out[i] = row[j]
	}
	return out, nil
}

// Drop returns a frame without the named columns. Names that are not in
// the header are returned in missing and otherwise ignored.
func (f *Frame) Drop(names ...string) (out *Frame, missing []string) {
	drop := make(map[int]bool, len(names))
	for _, name := range names {
		j, ok := f.index[name]
		if !ok {
			missing = append(missing, name)
			continue
		}
		drop[j] = true
	}
	if len(drop) == 0 {
		return f.Clone(), missing
	}

	keep := make([]int, 0, len(f.Header)-len(drop))
	for j := range f.Header {
		if !drop[j] {
			keep = append(keep, j)
		}
	}
	header := make([]string, len(keep))
	for k, j := range keep {
		header[k] = f.Header[j]
	}
	rows := make([][]string, len(f.Rows))
	for i, row := range f.Rows {
		nr := make([]string, len(keep))
		for k, j := range keep {
			nr[k] = row[j]
		}
		rows[i] = nr
	}
	out, _ = NewFrame(header, rows)
	return out, missing
}

// Take returns the rows at idx, in that order. Rows are copied.
func (f *Frame) Take(idx []int) *Frame {
	rows := make([][]string, len(idx))
	for k, i := range idx {
		rows[k] = append([]string(nil), f.Rows[i]...)
	}
	return &Frame{Header: append([]string(nil), f.Header...), Rows: rows, index: f.cloneIndex()}
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	idx := make([]int, len(f.Rows))
	for i := range idx {
		idx[i] = i
	}
	return f.Take(idx)
}

// DropDuplicates removes exact duplicate rows, keeping the first
// occurrence, and returns the number of rows removed.
func (f *Frame) DropDuplicates() (*Frame, int) {
	seen := make(map[uint64][]int, len(f.Rows))
	keep := make([]int, 0, len(f.Rows))

	for i, row := range f.Rows {
		h := hashRow(row)
		dup := false
		for _, j := range seen[h] {
			if equalRows(row, f.Rows[j]) {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seen[h] = append(seen[h], i)
		keep = append(keep, i)
	}
	return f.Take(keep), len(f.Rows) - len(keep)
}

func (f *Frame) cloneIndex() map[string]int {
	index := make(map[string]int, len(f.index))
	for k, v := range f.index {
		index[k] = v
	}
	return index
}

// ASCII unit separator between cells, so {"ab","c"} and {"a","bc"} hash differently.
var cellSep = []byte{0x1f}

func hashRow(row []string) uint64 {
	d := xxhash.New()
	for _, cell := range row {
		_, _ = d.WriteString(cell)
		_, _ = d.Write(cellSep)
	}
	return d.Sum64()
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
