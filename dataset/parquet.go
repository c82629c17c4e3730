package dataset

import (
	"bytes"
	"context"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"gonum.org/v1/gonum/mat"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

// parquetBatchSize is the writer batch size; processed tables are small.
const parquetBatchSize = 4096

// WriteParquet writes the table to path with the named compression codec.
func (t *Table) WriteParquet(path, compression string) error {
	return writeFile(path, func(w io.Writer) error { return t.WriteParquetTo(w, compression) })
}

// WriteParquetTo writes features as float64 columns and the label, when
// present, as a trailing int64 column.
func (t *Table) WriteParquetTo(w io.Writer, compression string) error {
	codec, err := compressionCodec(compression)
	if err != nil {
		return err
	}

	table := t.arrowTable(memory.NewGoAllocator())
	defer table.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(codec),
		parquet.WithBatchSize(parquetBatchSize),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(memory.NewGoAllocator()))

	writer, err := pqarrow.NewFileWriter(table.Schema(), w, props, arrowProps)
	if err != nil {
		return errors.Wrap(err, "creating parquet file writer")
	}
	if err := writer.WriteTable(table, int64(t.Len())); err != nil {
		_ = writer.Close()
		return errors.Wrap(err, "writing parquet table")
	}
	if err := writer.Close(); err != nil {
		return errors.Wrap(err, "closing parquet file writer")
	}
	return nil
}

func compressionCodec(name string) (compress.Compression, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, errors.NewConfigurationError("paths.parquet_compression", "unsupported codec "+name)
	}
}

func (t *Table) arrowTable(mem memory.Allocator) arrow.Table {
	n := t.Len()
	fields := make([]arrow.Field, 0, len(t.Columns)+1)
	columns := make([]arrow.Column, 0, len(t.Columns)+1)

	add := func(name string, arr arrow.Array) {
		field := arrow.Field{Name: name, Type: arr.DataType()}
		fields = append(fields, field)

		chunked := arrow.NewChunked(arr.DataType(), []arrow.Array{arr})
		column := arrow.NewColumn(field, chunked)
		columns = append(columns, *column)
		chunked.Release()
		arr.Release()
	}

	for j, name := range t.Columns {
		builder := array.NewFloat64Builder(mem)
		builder.AppendValues(mat.Col(nil, j, t.X), nil)
		add(name, builder.NewArray())
		builder.Release()
	}
	if t.Y != nil {
		builder := array.NewInt64Builder(mem)
		labels := make([]int64, n)
		for i := range labels {
			labels[i] = int64(t.Y.AtVec(i))
		}
		builder.AppendValues(labels, nil)
		add(t.Label, builder.NewArray())
		builder.Release()
	}

	schema := arrow.NewSchema(fields, nil)
	return array.NewTable(schema, columns, int64(n))
}

// ReadParquet reads a table written by WriteParquetTo. If label is
// non-empty the column of that name becomes Y.
func ReadParquet(r io.Reader, label string) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "reading parquet data")
	}
	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "creating parquet file reader")
	}
	defer pqReader.Close()

	mem := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errors.Wrap(err, "creating arrow file reader")
	}
	table, err := arrowReader.ReadTable(context.Background())
	if err != nil {
		return nil, errors.Wrap(err, "reading parquet table")
	}
	defer table.Release()

	n := int(table.NumRows())
	if n == 0 {
		return nil, errors.NewDataError("ReadParquet", "", "no rows")
	}

	var (
		columns []string
		values  [][]float64
		y       *mat.VecDense
	)
	for c := 0; c < int(table.NumCols()); c++ {
		col := table.Column(c)
		vals, err := columnValues(col, n)
		if err != nil {
			return nil, err
		}
		if col.Name() == label {
			y = mat.NewVecDense(n, vals)
			continue
		}
		columns = append(columns, col.Name())
		values = append(values, vals)
	}
	if label != "" && y == nil {
		return nil, errors.NewDataError("ReadParquet", label, "label column not found")
	}

	if len(columns) == 0 {
		return nil, errors.NewDataError("ReadParquet", "", "no feature columns")
	}
	X := mat.NewDense(n, len(columns), nil)
	for j, vals := range values {
		X.SetCol(j, vals)
	}
	return NewTable(columns, X, label, y)
}

func columnValues(col *arrow.Column, n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for _, chunk := range col.Data().Chunks() {
		switch arr := chunk.(type) {
		case *array.Float64:
			out = append(out, arr.Float64Values()...)
		case *array.Int64:
			for _, v := range arr.Int64Values() {
				out = append(out, float64(v))
			}
		default:
			return nil, errors.NewDataError("ReadParquet", col.Name(), "unsupported type "+chunk.DataType().String())
		}
	}
	return out, nil
}
