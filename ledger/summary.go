package ledger

import (
	"strings"
	"unicode/utf8"
)

// DefaultSummaryLimit bounds persisted error summaries, in bytes.
const DefaultSummaryLimit = 1024

const ellipsis = "..."

// Summarize renders err as a single line of at most limit bytes. Newlines
// and tabs collapse to spaces so multi-line messages (and any stack a
// wrapped error carries) never reach the audit row intact. Truncation
// respects UTF-8 boundaries.
func Summarize(err error, limit int) string {
	if err == nil {
		return ""
	}
	return Truncate(err.Error(), limit)
}

// Truncate applies Summarize's rules to an arbitrary message.
func Truncate(msg string, limit int) string {
	if limit <= 0 {
		limit = DefaultSummaryLimit
	}
	msg = strings.Join(strings.Fields(msg), " ")
	if len(msg) <= limit {
		return msg
	}
	if limit <= len(ellipsis) {
		return cut(msg, limit)
	}
	return cut(msg, limit-len(ellipsis)) + ellipsis
}

// cut returns the longest prefix of s that is at most n bytes and ends on a
// rune boundary.
func cut(s string, n int) string {
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
