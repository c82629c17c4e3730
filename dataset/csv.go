package dataset

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

const utf8BOM = "\uFEFF"

// ReadCSV reads a delimited file with a header row into a Frame.
func ReadCSV(path string, delimiter rune) (*Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()

	frame, err := ReadCSVFrom(bufio.NewReader(f), delimiter)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	return frame, nil
}

// ReadCSVFrom reads delimited records from r. The first record is the
// header; a leading UTF-8 byte order mark is stripped from it.
func ReadCSVFrom(r io.Reader, delimiter rune) (*Frame, error) {
	reader := csv.NewReader(r)
	reader.Comma = delimiter
	reader.FieldsPerRecord = 0

	header, err := reader.Read()
	if err == io.EOF {
		return nil, errors.NewDataError("ReadCSV", "", "file is empty")
	}
	if err != nil {
		return nil, errors.NewDataRowError("ReadCSV", "", 0, "malformed header", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], utf8BOM)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.NewDataRowError("ReadCSV", "", len(rows), "malformed record", err)
		}
		rows = append(rows, record)
	}
	return NewFrame(header, rows)
}

// WriteCSV writes the frame with a header row, creating parent directories.
func WriteCSV(path string, f *Frame) error {
	return writeFile(path, func(w io.Writer) error { return WriteCSVTo(w, f) })
}

// WriteCSVTo writes the frame as comma separated records.
func WriteCSVTo(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Header); err != nil {
		return errors.Wrap(err, "write header")
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return errors.Wrap(err, "write records")
	}
	return nil
}

// writeFile creates path (and its directory) and hands a buffered writer
// to fn. Flush and close errors are returned.
func writeFile(path string, fn func(w io.Writer) error) (err error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "create directory for %s", path)
	}
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()

	bw := bufio.NewWriter(file)
	if err := fn(bw); err != nil {
		return errors.Wrapf(err, "write %s", path)
	}
	if err := bw.Flush(); err != nil {
		return errors.Wrapf(err, "flush %s", path)
	}
	return nil
}
