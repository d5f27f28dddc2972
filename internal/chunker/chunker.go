// Package chunker splits raw document text into ordered, overlapping
// segments ready for embedding. Splitting is content-aware: line-based,
// paragraph-based, sentence-based, and markdown-heading-based strategies
// are available, with a fixed-width character fallback for units that
// are too large to pack whole. Output is deterministic — identical input
// and configuration always produce identical segments.
package chunker

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultSize is the default maximum number of characters per chunk.
const DefaultSize = 1000

// DefaultOverlap is the default number of characters carried over
// between consecutive chunks.
const DefaultOverlap = 200

// ErrInvalidConfig is returned (wrapped) when the chunking parameters
// are malformed. It is a configuration error and is never retried.
var ErrInvalidConfig = errors.New("chunker: invalid configuration")

// Strategy selects the splitting algorithm. The zero value is
// StrategyAuto, which resolves to a concrete strategy from the
// content type at split time.
type Strategy int

const (
	// StrategyAuto selects a strategy from the content type:
	// markdown/md → StrategyMarkdown, html → StrategyParagraph,
	// anything else → StrategySimple.
	StrategyAuto Strategy = iota

	// StrategySimple splits on line breaks and greedily packs lines.
	StrategySimple

	// StrategyParagraph splits on blank-line-separated paragraphs.
	StrategyParagraph

	// StrategySentence splits on sentence-ending punctuation followed
	// by whitespace and packs sentences.
	StrategySentence

	// StrategyMarkdown splits on heading lines, keeping each heading
	// glued to its following content as a single unit.
	StrategyMarkdown
)

// String returns the canonical lowercase name of the strategy.
func (s Strategy) String() string {
	switch s {
	case StrategyAuto:
		return "auto"
	case StrategySimple:
		return "simple"
	case StrategyParagraph:
		return "paragraph"
	case StrategySentence:
		return "sentence"
	case StrategyMarkdown:
		return "markdown"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// ParseStrategy converts a strategy name to its Strategy value.
// The empty string parses as StrategyAuto.
func ParseStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return StrategyAuto, nil
	case "simple":
		return StrategySimple, nil
	case "paragraph":
		return StrategyParagraph, nil
	case "sentence":
		return StrategySentence, nil
	case "markdown", "md":
		return StrategyMarkdown, nil
	default:
		return StrategyAuto, fmt.Errorf("%w: unknown strategy %q — valid values: simple, paragraph, sentence, markdown", ErrInvalidConfig, name)
	}
}

// Config holds the chunking parameters for a single Split call.
// Sizes are character (rune) counts, not bytes.
type Config struct {
	// Size is the maximum number of characters per chunk.
	// A zero value applies DefaultSize (and DefaultOverlap if Overlap
	// is also zero).
	Size int

	// Overlap is the number of characters carried back from the end of
	// one chunk into the start of the next. Must be strictly less than
	// Size.
	Overlap int

	// Strategy selects the splitting algorithm. StrategyAuto resolves
	// from ContentType.
	Strategy Strategy

	// ContentType is the source content type hint ("text", "markdown",
	// "md", "html", ...). Only consulted when Strategy is StrategyAuto.
	ContentType string
}

// resolve applies defaults and validates the configuration.
func (c Config) resolve() (Config, error) {
	if c.Size == 0 {
		c.Size = DefaultSize
		if c.Overlap == 0 {
			c.Overlap = DefaultOverlap
		}
	}
	if c.Size < 0 {
		return c, fmt.Errorf("%w: chunk size must be positive, got %d", ErrInvalidConfig, c.Size)
	}
	if c.Overlap < 0 {
		return c, fmt.Errorf("%w: chunk overlap must not be negative, got %d", ErrInvalidConfig, c.Overlap)
	}
	if c.Overlap >= c.Size {
		return c, fmt.Errorf("%w: chunk overlap (%d) must be smaller than chunk size (%d)", ErrInvalidConfig, c.Overlap, c.Size)
	}
	if c.Strategy == StrategyAuto {
		c.Strategy = strategyFor(c.ContentType)
	}
	return c, nil
}

// strategyFor maps a content type to the strategy used when the caller
// does not pin one explicitly.
func strategyFor(contentType string) Strategy {
	switch strings.ToLower(contentType) {
	case "markdown", "md":
		return StrategyMarkdown
	case "html":
		return StrategyParagraph
	default:
		return StrategySimple
	}
}

// Split splits text into ordered, overlapping segments according to cfg.
// Empty or whitespace-only input yields a nil slice. Input shorter than
// the chunk size yields a single segment.
func Split(text string, cfg Config) ([]string, error) {
	cfg, err := cfg.resolve()
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}

	switch cfg.Strategy {
	case StrategyParagraph:
		return pack(strings.Split(text, "\n\n"), "\n\n", cfg.Size, cfg.Overlap), nil
	case StrategySentence:
		return pack(splitSentences(text), " ", cfg.Size, cfg.Overlap), nil
	case StrategyMarkdown:
		return pack(splitMarkdown(text), "\n", cfg.Size, cfg.Overlap), nil
	default:
		return pack(strings.Split(text, "\n"), "\n", cfg.Size, cfg.Overlap), nil
	}
}

// pack greedily joins units into chunks of at most size characters,
// carrying trailing units whose combined length fits within overlap
// back into the next chunk. A single unit larger than size falls back to
// fixed-width character slicing for that unit only.
func pack(units []string, sep string, size, overlap int) []string {
	sepLen := utf8.RuneCountInString(sep)

	var chunks []string
	var cur []string
	curSize := 0
	fresh := false // cur contains at least one unit not yet emitted

	emit := func() {
		chunks = append(chunks, strings.Join(cur, sep))
		// Carry trailing units back as overlap for the next chunk.
		var keep []string
		kept := 0
		for i := len(cur) - 1; i >= 0; i-- {
			ul := utf8.RuneCountInString(cur[i]) + sepLen
			if kept+ul > overlap {
				break
			}
			keep = append([]string{cur[i]}, keep...)
			kept += ul
		}
		cur = keep
		curSize = kept
		fresh = false
	}

	for _, u := range units {
		ul := utf8.RuneCountInString(u)

		if ul > size {
			// Oversized unit: emit what we have, then slice the unit.
			if fresh {
				chunks = append(chunks, strings.Join(cur, sep))
			}
			cur = nil
			curSize = 0
			fresh = false
			chunks = append(chunks, sliceFixed(u, size, overlap)...)
			continue
		}

		add := ul
		if len(cur) > 0 {
			add += sepLen
		}
		if curSize+add > size && fresh {
			emit()
			add = ul
			if len(cur) > 0 {
				add += sepLen
			}
		}
		cur = append(cur, u)
		curSize += add
		fresh = true
	}

	if fresh {
		chunks = append(chunks, strings.Join(cur, sep))
	}
	return chunks
}

// sliceFixed splits s into fixed-width slices of at most size characters
// with overlap characters shared between consecutive slices.
func sliceFixed(s string, size, overlap int) []string {
	r := []rune(s)
	if len(r) <= size {
		return []string{s}
	}
	var out []string
	start := 0
	for {
		end := start + size
		if end >= len(r) {
			out = append(out, string(r[start:]))
			return out
		}
		out = append(out, string(r[start:end]))
		start = end - overlap
	}
}

// splitSentences splits text after sentence-ending punctuation followed
// by whitespace. The punctuation stays attached to its sentence; the
// separating whitespace is dropped (sentences are re-joined with a
// single space during packing).
func splitSentences(text string) []string {
	var out []string
	start := 0
	i := 0
	for i < len(text) {
		if text[i] == '.' || text[i] == '!' || text[i] == '?' {
			// Consume a run of terminators.
			end := i + 1
			for end < len(text) && (text[end] == '.' || text[end] == '!' || text[end] == '?') {
				end++
			}
			if end < len(text) && isSpace(text[end]) {
				out = append(out, text[start:end])
				for end < len(text) && isSpace(text[end]) {
					end++
				}
				start = end
			}
			i = end
			continue
		}
		i++
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

// isSpace reports whether b is an ASCII whitespace byte.
func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}

// splitMarkdown splits text into sections at markdown heading lines.
// Each heading stays glued to the content that follows it; any content
// before the first heading forms its own section.
func splitMarkdown(text string) []string {
	lines := strings.SplitAfter(text, "\n")
	var sections []string
	var cur strings.Builder
	for _, line := range lines {
		if isHeading(line) && cur.Len() > 0 {
			sections = append(sections, strings.TrimRight(cur.String(), "\n"))
			cur.Reset()
		}
		cur.WriteString(line)
	}
	if cur.Len() > 0 {
		sections = append(sections, strings.TrimRight(cur.String(), "\n"))
	}
	return sections
}

// isHeading reports whether line is an ATX markdown heading
// ("# " through "###### ").
func isHeading(line string) bool {
	rest := strings.TrimLeft(line, "#")
	level := len(line) - len(rest)
	return level >= 1 && level <= 6 && strings.HasPrefix(rest, " ")
}
