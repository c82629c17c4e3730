package dataset

import (
	"fmt"
	"io"
	"math"
	"os"
	"strconv"

	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// Table is a numeric feature matrix with named columns and an optional
// encoded label vector.
type Table struct {
	Columns []string
	X       *mat.Dense
	Label   string
	Y       *mat.VecDense
}

// NewTable checks that the column names match X and that Y, when present,
// has one entry per row.
func NewTable(columns []string, X *mat.Dense, label string, y *mat.VecDense) (*Table, error) {
	if X == nil {
		return nil, errors.NewDataError("NewTable", "", "feature matrix is empty")
	}
	r, c := X.Dims()
	if c != len(columns) {
		return nil, errors.NewDimensionError("NewTable", len(columns), c, 1)
	}
	if y != nil && y.Len() != r {
		return nil, errors.NewDimensionError("NewTable", r, y.Len(), 0)
	}
	seen := make(map[string]bool, len(columns))
	for _, name := range columns {
		if seen[name] {
			return nil, errors.NewDataError("NewTable", name, "duplicate column name")
		}
		seen[name] = true
	}
	return &Table{Columns: columns, X: X, Label: label, Y: y}, nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	r, _ := t.X.Dims()
	return r
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	for i, c := range t.Columns {
		if c == name {
			return i
		}
	}
	return -1
}

// Column returns a copy of one feature column.
func (t *Table) Column(name string) ([]float64, error) {
	j := t.ColumnIndex(name)
	if j < 0 {
		return nil, errors.NewDataError("Table.Column", name, "column not found")
	}
	return mat.Col(nil, j, t.X), nil
}

// Labels returns the encoded labels as ints, or nil for an unlabelled table.
func (t *Table) Labels() []int {
	if t.Y == nil {
		return nil
	}
	out := make([]int, t.Y.Len())
	for i := range out {
		out[i] = int(t.Y.AtVec(i))
	}
	return out
}

// YMatrix returns the labels as an n×1 matrix view, the shape estimators take.
func (t *Table) YMatrix() mat.Matrix {
	if t.Y == nil {
		return nil
	}
	return t.Y
}

// Select returns a table with the named columns in the given order. The
// label is carried over. A missing column is a DataError.
func (t *Table) Select(names []string) (*Table, error) {
	idx := make([]int, len(names))
	for k, name := range names {
		j := t.ColumnIndex(name)
		if j < 0 {
			return nil, errors.NewDataError("Table.Select", name, "column not found")
		}
		idx[k] = j
	}

	n := t.Len()
	X := mat.NewDense(n, len(names), nil)
	for i := 0; i < n; i++ {
		src := t.X.RawRowView(i)
		dst := X.RawRowView(i)
		for k, j := range idx {
			dst[k] = src[j]
		}
	}
	var y *mat.VecDense
	if t.Y != nil {
		y = mat.VecDenseCopyOf(t.Y)
	}
	return NewTable(append([]string(nil), names...), X, t.Label, y)
}

// WriteCSV writes the table with the label as the last column.
func (t *Table) WriteCSV(path string) error {
	return writeFile(path, t.WriteCSVTo)
}

// WriteCSVTo writes the table as CSV. Numbers use the shortest
// representation that round-trips.
func (t *Table) WriteCSVTo(w io.Writer) error {
	return WriteCSVTo(w, t.toFrame())
}

func (t *Table) toFrame() *Frame {
	header := append([]string(nil), t.Columns...)
	if t.Y != nil {
		header = append(header, t.Label)
	}
	n := t.Len()
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, 0, len(header))
		for _, v := range t.X.RawRowView(i) {
			row = append(row, formatFloat(v))
		}
		if t.Y != nil {
			row = append(row, formatFloat(t.Y.AtVec(i)))
		}
		rows[i] = row
	}
	return &Frame{Header: header, Rows: rows}
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// ReadTableCSV reads a table written by WriteCSV. If label is non-empty the
// column of that name becomes Y.
func ReadTableCSV(path, label string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	frame, err := ReadCSVFrom(f, ',')
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return FrameToTable(frame, label)
}

// FrameToTable parses every cell as a float.
func FrameToTable(frame *Frame, label string) (*Table, error) {
	if frame.Len() == 0 {
		return nil, errors.NewDataError("FrameToTable", "", "no rows")
	}
	labelIdx := -1
	if label != "" {
		j, ok := frame.ColumnIndex(label)
		if !ok {
			return nil, errors.NewDataError("FrameToTable", label, "label column not found")
		}
		labelIdx = j
	}

	columns := make([]string, 0, frame.Width())
	for j, name := range frame.Header {
		if j != labelIdx {
			columns = append(columns, name)
		}
	}

	if len(columns) == 0 {
		return nil, errors.NewDataError("FrameToTable", "", "no feature columns")
	}
	X := mat.NewDense(frame.Len(), len(columns), nil)
	var y *mat.VecDense
	if labelIdx >= 0 {
		y = mat.NewVecDense(frame.Len(), nil)
	}
	for i, row := range frame.Rows {
		k := 0
		for j, cell := range row {
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil || math.IsNaN(v) {
				return nil, errors.NewDataRowError("FrameToTable", frame.Header[j], i, fmt.Sprintf("not a number: %q", cell), err)
			}
			if j == labelIdx {
				y.SetVec(i, v)
				continue
			}
			X.Set(i, k, v)
			k++
		}
	}
	return NewTable(columns, X, label, y)
}
