package markdown

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// Citation is one parsed item of a Pandoc citation group. Prefix and
// Suffix carry the free text around the key ("see" and "pp. 12" in
// "[see @smith2020, pp. 12]").
type Citation struct {
	Key    string
	Prefix string
	Suffix string
}

// citeGrammar is the participle grammar for Pandoc citation groups, i.e.
// the text between the brackets of "[see @smith2020, pp. 12; @doe2021]".
//
//nolint:govet // participle grammar tags are not standard struct tags
type citeGrammar struct {
	Items []*citeItem `parser:"@@ ( Semi @@ )*"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type citeItem struct {
	Prefix []string `parser:"( @Word | @Text )*"`
	Key    string   `parser:"At @Word"`
	Suffix []string `parser:"( @Word | @Text )*"`
}

// citeLexer tokenizes citation groups. Word must come before Text so that
// citation keys lex as single tokens; Text mops up punctuation and spaces.
var citeLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "At", Pattern: `@`},
	{Name: "Semi", Pattern: `;`},
	{Name: "Word", Pattern: `[A-Za-z0-9_][A-Za-z0-9_:.#\-]*`},
	{Name: "Text", Pattern: `[^@;]`},
})

var citeParser = participle.MustBuild[citeGrammar](
	participle.Lexer(citeLexer),
)

// ParseCitationGroup parses the inner text of a bracketed citation group.
// Every item must carry an @key; groups without one fail, which callers use
// to tell citations apart from ordinary bracketed text.
func ParseCitationGroup(inner string) ([]Citation, error) {
	parsed, err := citeParser.ParseString("", inner)
	if err != nil {
		return nil, fmt.Errorf("invalid citation group: %q: %w", inner, err)
	}
	out := make([]Citation, 0, len(parsed.Items))
	for _, item := range parsed.Items {
		out = append(out, Citation{
			Key:    item.Key,
			Prefix: strings.TrimSpace(strings.Join(item.Prefix, "")),
			Suffix: strings.TrimSpace(strings.TrimLeft(strings.Join(item.Suffix, ""), ", ")),
		})
	}
	return out, nil
}

// FormatCitationGroup renders citation keys as a Pandoc citation group.
func FormatCitationGroup(keys []string) string {
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = "@" + k
	}
	return "[" + strings.Join(parts, "; ") + "]"
}
