package preprocessing

import (
	"sort"
	"strconv"
)

// UnknownCategory はマッピングに存在しないカテゴリのコードです。
const UnknownCategory = -1

// CategoryMapping は1列分のラベルエンコーディングです。
// Classes の添字がそのラベルのコードになります（scikit-learn の LabelEncoder と同じ順序）。
type CategoryMapping struct {
	Column  string   `msgpack:"column" json:"column"`
	Classes []string `msgpack:"classes" json:"classes"`
	// Numeric は全ラベルが数値として解釈できることを示します。
	// その場合 Classes は数値の昇順で、"1" と "1.0" は同じカテゴリとして扱われます。
	Numeric bool `msgpack:"numeric" json:"numeric"`
}

// FitCategoryMapping は値の集合から重複を除き、昇順に並べたマッピングを作成します。
// 全ての値が数値であれば数値順、そうでなければ文字列順に並べます。
//
// 使用例:
//
//	m := preprocessing.FitCategoryMapping("room type", values)
//	code := m.Encode("Room_Type 1")
func FitCategoryMapping(column string, values []string) CategoryMapping {
	seen := make(map[string]bool, len(values))
	classes := make([]string, 0)
	for _, v := range values {
		if !seen[v] {
			seen[v] = true
			classes = append(classes, v)
		}
	}

	numeric := len(classes) > 0
	nums := make(map[string]float64, len(classes))
	for _, c := range classes {
		f, err := strconv.ParseFloat(c, 64)
		if err != nil {
			numeric = false
			break
		}
		nums[c] = f
	}

	if numeric {
		sort.SliceStable(classes, func(i, j int) bool { return nums[classes[i]] < nums[classes[j]] })
		// "1" と "1.0" のように同値のラベルは最初のものだけ残す
		dedup := classes[:0]
		for i, c := range classes {
			if i > 0 && nums[c] == nums[dedup[len(dedup)-1]] {
				continue
			}
			dedup = append(dedup, c)
		}
		classes = dedup
	} else {
		sort.Strings(classes)
	}
	return CategoryMapping{Column: column, Classes: classes, Numeric: numeric}
}

// Encode はラベルのコードを返します。未知のラベルは UnknownCategory (-1) です。
// 純粋な参照なので、同じマッピングで何度エンコードしても結果は変わりません。
func (m CategoryMapping) Encode(value string) int {
	if m.Numeric {
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return UnknownCategory
		}
		for i, c := range m.Classes {
			if cf, _ := strconv.ParseFloat(c, 64); cf == f {
				return i
			}
		}
		return UnknownCategory
	}
	i := sort.SearchStrings(m.Classes, value)
	if i < len(m.Classes) && m.Classes[i] == value {
		return i
	}
	return UnknownCategory
}

// Decode はコードに対応するラベルを返します。
func (m CategoryMapping) Decode(code int) (string, bool) {
	if code < 0 || code >= len(m.Classes) {
		return "", false
	}
	return m.Classes[code], true
}

// Len はクラス数を返します。
func (m CategoryMapping) Len() int { return len(m.Classes) }
