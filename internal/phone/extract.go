// Package phone mines phone numbers out of free text.
package phone

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/contact-enricher/internal/stoplist"
)

// QuotePrefix marks a number as text so tabular storage keeps leading
// zeros and the '+' sign.
const QuotePrefix = "'"

// numberPattern tolerates an international prefix, a "(0)" trunk marker and
// space, dot or hyphen separators between digit groups. It over-captures
// fragments of longer digit runs; Extract filters those out.
var numberPattern = regexp.MustCompile(`\+?(\d{1,2}[\-\s\.]?)(\s?\(0\)\s?)?(\d[\-\s\.]?)?(\d{2}[\-\s\.]?){4,6}`)

// Extract returns the phone numbers found in text, in first-occurrence order
// without duplicates. Only candidates starting with '+' or '0' are kept, and
// numbers on the stop list are dropped. Each number is trimmed and prefixed
// with QuotePrefix.
func Extract(text string, stop *stoplist.Filter) []string {
	text = norm.NFKC.String(text)

	matches := numberPattern.FindAllString(text, -1)
	if len(matches) == 0 {
		return []string{}
	}

	seen := make(map[string]bool, len(matches))
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if !strings.HasPrefix(m, "+") && !strings.HasPrefix(m, "0") {
			continue
		}
		n := trim(m)
		if seen[n] {
			continue
		}
		seen[n] = true
		if stop.HasPhone(n) {
			continue
		}
		out = append(out, QuotePrefix+n)
	}
	return out
}

// trim drops surrounding whitespace and a separator the pattern swallowed
// after the last digit group, as in "06 87 30 28 47." at the end of a
// sentence.
func trim(match string) string {
	return strings.TrimRight(strings.TrimSpace(match), ".- \t\r\n")
}

// Unquote removes the storage marker added by Extract.
func Unquote(number string) string {
	return strings.TrimPrefix(strings.TrimSpace(number), QuotePrefix)
}
