package preprocessing

import (
	"fmt"
	"math"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// State is everything a fitted Preprocessor learned. It is persisted in the
// model artifact so inference encodes records exactly as training did.
type State struct {
	LabelCol      string            `msgpack:"label_col" json:"label_col"`
	DropCols      []string          `msgpack:"drop_cols" json:"drop_cols"`
	Features      []string          `msgpack:"features" json:"features"`
	Categorical   []CategoryMapping `msgpack:"categorical" json:"categorical"`
	Label         CategoryMapping   `msgpack:"label" json:"label"`
	SkewThreshold float64           `msgpack:"skew_threshold" json:"skew_threshold"`
	Skew          []SkewDecision    `msgpack:"skew" json:"skew"`
}

// Mapping returns the category mapping of column.
func (s State) Mapping(column string) (CategoryMapping, bool) {
	for _, m := range s.Categorical {
		if m.Column == column {
			return m, true
		}
	}
	return CategoryMapping{}, false
}

// Digest is a stable hash of the mappings, label classes, feature columns
// and skew decisions. Two states with the same digest encode every record
// identically.
func (s State) Digest() string {
	d := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = d.WriteString(p)
			_, _ = d.Write([]byte{0x1f})
		}
		_, _ = d.Write([]byte{0x1e})
	}

	write("label", s.LabelCol)
	write(s.Label.Classes...)
	write("features")
	write(s.Features...)
	for _, m := range s.Categorical {
		write("mapping", m.Column, strconv.FormatBool(m.Numeric))
		write(m.Classes...)
	}
	for _, sk := range s.Skew {
		write("skew", sk.Column, strconv.FormatBool(sk.Applied))
	}
	write("threshold", strconv.FormatUint(math.Float64bits(s.SkewThreshold), 16))
	return fmt.Sprintf("%016x", d.Sum64())
}
