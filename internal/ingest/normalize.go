package ingest

import (
	"html"
	"strings"
)

// blockTags are HTML elements whose boundaries become line breaks so the
// extracted text keeps its paragraph structure.
var blockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"ul": true, "ol": true, "table": true, "section": true, "article": true,
	"blockquote": true, "pre": true,
}

// NormalizeHTML extracts readable text from an HTML document: tags are
// dropped (block boundaries become newlines), script and style bodies are
// skipped entirely, entities are decoded, and whitespace is collapsed.
func NormalizeHTML(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	var tag strings.Builder
	inTag := false
	skipUntil := "" // closing tag name whose body is being skipped

	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
			tag.Reset()
		case r == '>' && inTag:
			inTag = false
			name, closing := tagName(tag.String())
			if skipUntil != "" {
				if closing && name == skipUntil {
					skipUntil = ""
				}
				continue
			}
			if !closing && (name == "script" || name == "style") {
				skipUntil = name
				continue
			}
			if blockTags[name] {
				b.WriteByte('\n')
			}
		case inTag:
			tag.WriteRune(r)
		case skipUntil != "":
		default:
			b.WriteRune(r)
		}
	}

	return collapseWhitespace(html.UnescapeString(b.String()))
}

// tagName extracts the element name from raw tag content, reporting
// whether it is a closing tag.
func tagName(raw string) (name string, closing bool) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "/") {
		closing = true
		raw = raw[1:]
	}
	raw = strings.TrimSuffix(raw, "/")
	if i := strings.IndexAny(raw, " \t\n"); i >= 0 {
		raw = raw[:i]
	}
	return strings.ToLower(strings.TrimSpace(raw)), closing
}

// collapseWhitespace trims each line and squeezes runs of blank lines
// down to a single paragraph break.
func collapseWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	blank := true
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank {
				out = append(out, "")
			}
			blank = true
			continue
		}
		out = append(out, line)
		blank = false
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}
