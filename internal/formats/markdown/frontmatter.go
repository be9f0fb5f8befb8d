package markdown

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/xats-org/convert/core/xats"
)

// frontMatter is the YAML metadata block at the top of a document.
type frontMatter struct {
	Title   string `yaml:"title,omitempty"`
	Author  any    `yaml:"author,omitempty"` // string or []string
	Date    string `yaml:"date,omitempty"`
	Subject string `yaml:"subject,omitempty"`
	Lang    string `yaml:"lang,omitempty"`
}

// authors normalizes the author field, which YAML allows as a scalar or a
// sequence.
func (f *frontMatter) authors() []string {
	switch v := f.Author.(type) {
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	case []any:
		var out []string
		for _, item := range v {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// splitFrontMatter separates a leading YAML front matter block from the
// body. Content without a front matter fence returns a nil frontMatter and
// the input unchanged. A fence that opens but never closes, or YAML that
// does not parse, is an error.
func splitFrontMatter(content string) (*frontMatter, string, error) {
	if !strings.HasPrefix(content, "---\n") && content != "---" {
		return nil, content, nil
	}
	rest := strings.TrimPrefix(content, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		return nil, content, fmt.Errorf("front matter fence is never closed")
	}
	raw := rest[:end]
	body := rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, content, fmt.Errorf("parsing front matter: %w", err)
	}
	return &fm, body, nil
}

// renderFrontMatter serializes document metadata as a YAML front matter
// block, or "" when there is nothing to say.
func renderFrontMatter(doc *xats.Document) string {
	entry := doc.BibliographicEntry
	fm := frontMatter{
		Title:   entry.Title,
		Date:    entry.Issued,
		Subject: doc.Subject,
		Lang:    entry.Language,
	}
	switch len(entry.Author) {
	case 0:
	case 1:
		fm.Author = entry.Author[0].String()
	default:
		names := make([]any, len(entry.Author))
		for i, a := range entry.Author {
			names[i] = a.String()
		}
		fm.Author = names
	}
	if fm.Title == "" && fm.Author == nil && fm.Date == "" && fm.Subject == "" && fm.Lang == "" {
		return ""
	}
	out, err := yaml.Marshal(&fm)
	if err != nil {
		return ""
	}
	return "---\n" + string(out) + "---"
}
