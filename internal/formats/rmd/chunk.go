package rmd

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ChunkHeader is the decoded info string of a knitr code chunk, the braced
// part of "```{r setup, eval=TRUE, fig.width=5}".
type ChunkHeader struct {
	// Engine is the language the chunk runs under ("r", "python", ...).
	Engine string
	// Label is the optional chunk label following the engine.
	Label string
	// Options holds the comma-separated key=value options. Values decode
	// to bool, int, float64, or string; a bare key decodes to true.
	Options map[string]any
}

// chunkGrammar is the participle grammar for chunk info strings.
//
//nolint:govet // participle grammar tags are not standard struct tags
type chunkGrammar struct {
	Engine string      `parser:"\"{\" @Ident"`
	Label  string      `parser:"@Ident?"`
	Args   []*chunkArg `parser:"( \",\" @@ )* \"}\""`
}

//nolint:govet // participle grammar tags are not standard struct tags
type chunkArg struct {
	Key   string      `parser:"@Ident"`
	Value *chunkValue `parser:"( \"=\" @@ )?"`
}

//nolint:govet // participle grammar tags are not standard struct tags
type chunkValue struct {
	Str    *string  `parser:"@String"`
	Number *float64 `parser:"| @Number"`
	Word   *string  `parser:"| @Ident"`
}

// chunkLexer tokenizes chunk info strings. Number must come before Ident so
// that "5" and "fig.width" lex as distinct token kinds.
var chunkLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "String", Pattern: `"(\\"|[^"])*"|'(\\'|[^'])*'`},
	{Name: "Number", Pattern: `[-+]?\d+(\.\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9._\-]*`},
	{Name: "Punct", Pattern: `[{}=,]`},
	{Name: "whitespace", Pattern: `\s+`},
})

var chunkParser = participle.MustBuild[chunkGrammar](
	participle.Lexer(chunkLexer),
)

// value maps a parsed option value to its Go shape. R's TRUE/FALSE and
// their single-letter forms become bools, whole numbers become ints.
func (v *chunkValue) value() any {
	switch {
	case v == nil:
		return true
	case v.Str != nil:
		return unquote(*v.Str)
	case v.Number != nil:
		n := *v.Number
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int(n)
		}
		return n
	case v.Word != nil:
		switch *v.Word {
		case "TRUE", "T", "true":
			return true
		case "FALSE", "F", "false":
			return false
		case "NULL":
			return nil
		}
		return *v.Word
	default:
		return true
	}
}

// unquote strips the surrounding quotes from a String token and resolves
// escaped quote characters. R accepts both quote styles.
func unquote(s string) string {
	if len(s) < 2 {
		return s
	}
	quote := s[0]
	inner := s[1 : len(s)-1]
	return strings.ReplaceAll(inner, `\`+string(quote), string(quote))
}

// ParseChunkHeader decodes a chunk info string including its braces.
func ParseChunkHeader(info string) (*ChunkHeader, error) {
	parsed, err := chunkParser.ParseString("", info)
	if err != nil {
		return nil, fmt.Errorf("invalid chunk header %q: %w", info, err)
	}
	header := &ChunkHeader{
		Engine: parsed.Engine,
		Label:  parsed.Label,
	}
	if len(parsed.Args) > 0 {
		header.Options = make(map[string]any, len(parsed.Args))
		for _, arg := range parsed.Args {
			header.Options[arg.Key] = arg.Value.value()
		}
	}
	return header, nil
}

// executableEngines lists the engines whose chunks may execute. Shell
// engines are deliberately absent: a bash chunk stays a plain code block no
// matter what its options claim.
var executableEngines = map[string]bool{
	"r":      true,
	"python": true,
	"sql":    true,
}

// EngineExecutable reports whether an engine is on the executable list.
func EngineExecutable(engine string) bool {
	return executableEngines[strings.ToLower(engine)]
}

// Executable reports whether the chunk should run: the engine must be on
// the executable list, and eval=FALSE opts out.
func (h *ChunkHeader) Executable() bool {
	if !EngineExecutable(h.Engine) {
		return false
	}
	if v, ok := h.Options["eval"]; ok {
		if b, ok := v.(bool); ok && !b {
			return false
		}
	}
	return true
}

// knownChunkOptions is the accepted option vocabulary. Unknown keys are
// preserved but reported.
var knownChunkOptions = map[string]bool{
	"eval":       true,
	"echo":       true,
	"include":    true,
	"warning":    true,
	"message":    true,
	"error":      true,
	"cache":      true,
	"results":    true,
	"comment":    true,
	"collapse":   true,
	"tidy":       true,
	"fig.width":  true,
	"fig.height": true,
	"fig.cap":    true,
	"fig.align":  true,
	"out.width":  true,
	"out.height": true,
}

// IsKnownOption reports whether key is in the chunk option vocabulary.
func IsKnownOption(key string) bool { return knownChunkOptions[key] }

// UnknownOptions returns the header's out-of-vocabulary option keys, sorted.
func (h *ChunkHeader) UnknownOptions() []string {
	var out []string
	for key := range h.Options {
		if !knownChunkOptions[key] {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out
}

// FormatChunkHeader renders a header back to its info-string form. Options
// are emitted in sorted key order so output is deterministic.
func FormatChunkHeader(h *ChunkHeader) string {
	var sb strings.Builder
	sb.WriteString("{")
	sb.WriteString(h.Engine)
	if h.Label != "" {
		sb.WriteString(" ")
		sb.WriteString(h.Label)
	}
	keys := make([]string, 0, len(h.Options))
	for key := range h.Options {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		sb.WriteString(", ")
		sb.WriteString(key)
		sb.WriteString("=")
		sb.WriteString(formatOptionValue(h.Options[key]))
	}
	sb.WriteString("}")
	return sb.String()
}

func formatOptionValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if val {
			return "TRUE"
		}
		return "FALSE"
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	case string:
		return `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
	default:
		return fmt.Sprintf("%v", val)
	}
}
