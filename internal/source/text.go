package source

import (
	"regexp"
	"strings"
)

// MaxTextRunes bounds the plain text passed to the oracle.
const MaxTextRunes = 50_000

var (
	scriptBlock = regexp.MustCompile(`(?is)<script.*?</script>`)
	styleBlock  = regexp.MustCompile(`(?is)<style.*?</style>`)
	anyTag      = regexp.MustCompile(`<[^>]+>`)

	// entities are decoded one after another in this order, so "&amp;lt;"
	// ends up as "<".
	entities = [][2]string{
		{"&nbsp;", " "},
		{"&amp;", "&"},
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&#39;", "'"},
	}
)

// ToPlainText strips scripts, styles and tags from raw markup, decodes the
// common entities, collapses whitespace and truncates to MaxTextRunes.
func ToPlainText(raw string) string {
	s := scriptBlock.ReplaceAllString(raw, "")
	s = styleBlock.ReplaceAllString(s, "")
	s = anyTag.ReplaceAllString(s, " ")
	for _, e := range entities {
		s = strings.ReplaceAll(s, e[0], e[1])
	}
	s = strings.Join(strings.Fields(s), " ")
	return TruncateRunes(s, MaxTextRunes)
}

// TruncateRunes returns at most n runes of s.
func TruncateRunes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
