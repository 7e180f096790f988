package shellpool

import "strings"

// TimeoutExitCode is the sentinel exit code executor reports for a
// timed-out pooled run (worker.execute returns -1 with ErrTimeout; the
// real process has no exit code to report since it was abandoned).
const TimeoutExitCode = -1

// QuoteScript renders argv as a single POSIX shell command line, safely
// single-quoting every element (spec §4.5: "the binder never shell-quotes
// ... scripts composed for pool execution MUST quote each argv element
// safely").
func QuoteScript(argv []string) string {
	quoted := make([]string, len(argv))
	for i, a := range argv {
		quoted[i] = quoteArg(a)
	}
	return strings.Join(quoted, " ")
}

// quoteArg wraps s in single quotes, escaping any embedded single quote as
// '\'' (close quote, escaped quote, reopen quote) — the standard POSIX
// shell idiom.
func quoteArg(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
