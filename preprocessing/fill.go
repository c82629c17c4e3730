package preprocessing

import (
	"strings"

	"github.com/YuminosukeSato/bookingcancel/dataset"
	"github.com/YuminosukeSato/bookingcancel/pkg/errors"
)

var missingTokens = map[string]bool{
	"":     true,
	"na":   true,
	"nan":  true,
	"null": true,
	"none": true,
	"n/a":  true,
}

// IsMissing は値が欠損を表すかどうかを返します。
func IsMissing(cell string) bool {
	return missingTokens[strings.ToLower(strings.TrimSpace(cell))]
}

// ForwardFill は各列の欠損値を直前の値で埋めます（pandas の ffill と同じ）。
// 先頭の欠損は最初に現れる値で埋めます。全て欠損の列は DataError です。
// frame はその場で変更されます。
func ForwardFill(frame *dataset.Frame) error {
	for j, name := range frame.Header {
		first := -1
		for i, row := range frame.Rows {
			if !IsMissing(row[j]) {
				first = i
				break
			}
		}
		if first < 0 {
			if frame.Len() == 0 {
				continue
			}
			return errors.NewDataError("ForwardFill", name, "all values are missing")
		}

		last := frame.Rows[first][j]
		for i := 0; i < first; i++ {
			frame.Rows[i][j] = last
		}
		for i := first + 1; i < frame.Len(); i++ {
			if IsMissing(frame.Rows[i][j]) {
				frame.Rows[i][j] = last
				continue
			}
			last = frame.Rows[i][j]
		}
	}
	return nil
}
