package sqltool

import "strings"

// unsafeWords is a fixed substring blacklist, matched with a trailing space
// so bare column names containing a keyword substring are less likely to
// trip it. It is not a parser: it can over-block and under-block in the ways
// a blacklist does, and Validate fails closed on any hit.
var unsafeWords = []string{
	"update ", "delete ", "insert ", "alter ",
	"drop ", "create ", "replace ", "truncate ",
}

// NormalizeSQL trims whitespace and a single trailing semicolon.
func NormalizeSQL(sqlText string) string {
	sqlText = strings.TrimSpace(sqlText)
	if strings.HasSuffix(sqlText, ";") {
		sqlText = strings.TrimSpace(strings.TrimSuffix(sqlText, ";"))
	}
	return sqlText
}

// Validate reports whether sqlText is acceptable for execution: it must
// start with SELECT (case-insensitive), contain none of the unsafe keywords,
// and contain no semicolon (blocks statement chaining).
func Validate(sqlText string) bool {
	lower := strings.ToLower(strings.TrimSpace(sqlText))

	if !strings.HasPrefix(lower, "select") {
		return false
	}
	for _, bad := range unsafeWords {
		if strings.Contains(lower, bad) {
			return false
		}
	}
	return !strings.Contains(lower, ";")
}
