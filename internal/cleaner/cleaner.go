// Package cleaner turns CMS markup into plain text suitable for language models.
//
// Clean applies a fixed sequence of steps; later steps never reintroduce what
// earlier steps removed:
//
//  1. expand shortcodes through the registry
//  2. strip remaining bracket directives
//  3. decode HTML entities
//  4. normalise typographic punctuation to ASCII
//  5. strip residual entity sequences
//  6. remove page-builder patterns
//  7. remove block comments and unwrap caption/gallery wrappers
//  8. strip HTML tags (script and style bodies are dropped)
//  9. collapse whitespace, drop invisible characters, NFC-normalise
//  10. trim
//
// If nothing is left of a non-blank input, the first words of the tag-stripped
// original are returned instead; markup itself is never returned.
package cleaner

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/net/html"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// FallbackWords is the length of the excerpt returned when cleaning empties the input.
const FallbackWords = 20

var (
	bracketDirective = regexp.MustCompile(`\[/?[a-zA-Z][\w-]*(?:[ \t/][^\[\]\n]*)?\]`)
	rawEntity        = regexp.MustCompile(`&(?:#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
	blockComment     = regexp.MustCompile(`(?s)<!--\s*/?wp:.*?-->`)
	captionWrapper   = regexp.MustCompile(`(?i)</?(?:figure|figcaption)\b[^>]*>|<dl\b[^>]*\bwp-caption\b[^>]*>|</?d[td]\b[^>]*\bwp-caption[^>]*>`)
	galleryWrapper   = regexp.MustCompile(`(?is)<div\b[^>]*\bgallery\b[^>]*>`)
	horizontalSpace  = regexp.MustCompile(`[ \t\f\v\p{Zs}]+`)
	blankLines       = regexp.MustCompile(`\n{3,}`)

	punctuation = strings.NewReplacer(
		"…", "...",
		"–", "-",
		"—", "--",
		"‒", "-",
		"−", "-",
		"‘", "'",
		"’", "'",
		"‚", "'",
		"“", `"`,
		"”", `"`,
		"„", `"`,
		"«", `"`,
		"»", `"`,
		"\u00a0", " ",
	)
)

// DefaultBuilderPatterns returns the page-builder patterns every Cleaner starts with.
func DefaultBuilderPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Directives hidden behind entities surface after decoding.
		bracketDirective,
		regexp.MustCompile(`(?is)<!--\s*/?(?:elementor|fl-builder|et_pb|divi|vc_)[^>]*?-->`),
		regexp.MustCompile(`(?is)<noscript\b[^>]*>.*?</noscript>`),
		regexp.MustCompile(`(?is)<svg\b[^>]*>.*?</svg>`),
		regexp.MustCompile(`(?is)<template\b[^>]*>.*?</template>`),
		regexp.MustCompile(`(?i)<div\b[^>]*\bdata-(?:elementor|settings|widget_type)[^>]*>`),
		regexp.MustCompile(`\{\{[^{}]*\}\}`),
	}
}

// Cleaner holds the shortcode registry and the builder pattern list.
// A Cleaner is safe for concurrent use once constructed.
type Cleaner struct {
	shortcodes map[string]ShortcodeFunc
	patterns   []*regexp.Regexp
}

// Option configures a Cleaner.
type Option func(*Cleaner)

// WithShortcode registers (or replaces) the handler for a directive name.
func WithShortcode(name string, fn ShortcodeFunc) Option {
	return func(c *Cleaner) { c.shortcodes[strings.ToLower(name)] = fn }
}

// WithBuilderPatterns appends page-builder patterns; matches are removed.
func WithBuilderPatterns(patterns ...*regexp.Regexp) Option {
	return func(c *Cleaner) { c.patterns = append(c.patterns, patterns...) }
}

// New returns a Cleaner with the default registry and patterns plus opts.
func New(opts ...Option) *Cleaner {
	c := &Cleaner{
		shortcodes: defaultShortcodes(),
		patterns:   DefaultBuilderPatterns(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var defaultCleaner = New()

// Clean cleans s with the default Cleaner.
func Clean(s string) string { return defaultCleaner.Clean(s) }

// Clean converts raw markup to plain text. It never returns "" for an input
// that contains non-whitespace.
func (c *Cleaner) Clean(raw string) string {
	s := expandShortcodes(raw, c.shortcodes)
	s = bracketDirective.ReplaceAllString(s, "")
	s = html.UnescapeString(s)
	s = punctuation.Replace(s)
	s = rawEntity.ReplaceAllString(s, "")
	for _, p := range c.patterns {
		s = p.ReplaceAllString(s, " ")
	}
	s = blockComment.ReplaceAllString(s, "")
	s = captionWrapper.ReplaceAllString(s, "\n")
	s = galleryWrapper.ReplaceAllString(s, "\n")
	s = stripTags(s)
	s = normalizeSpace(s)
	s = strings.TrimSpace(s)

	if s == "" && strings.TrimSpace(raw) != "" {
		return fallback(raw)
	}
	return literalBrackets.Replace(s)
}

// Truncate limits text to maxWords words, appending "..." when it cut.
// maxWords <= 0 disables the limit.
func Truncate(text string, maxWords int) string {
	if maxWords <= 0 {
		return text
	}
	words := strings.Fields(text)
	if len(words) <= maxWords {
		return text
	}
	return strings.Join(words[:maxWords], " ") + "..."
}

// fallback returns the first words of raw without markup. It prefers the
// visible text, then script and style bodies as plain text, then the bare
// tag contents with angle brackets removed.
func fallback(raw string) string {
	text := html.UnescapeString(raw)
	words := strings.Fields(normalizeSpace(stripTags(text)))
	if len(words) == 0 {
		words = strings.Fields(normalizeSpace(tagText(text, true)))
	}
	if len(words) == 0 {
		words = strings.Fields(angleBrackets.Replace(raw))
	}
	if len(words) > FallbackWords {
		words = words[:FallbackWords]
	}
	return strings.Join(words, " ")
}

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "figcaption": true, "figure": true,
	"footer": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true, "p": true,
	"pre": true, "section": true, "table": true, "td": true, "th": true, "tr": true, "ul": true,
}

// stripTags drops every tag, keeping text. Block elements become line breaks;
// script and style bodies are discarded. Text is kept raw so entities are not
// decoded a second time.
func stripTags(s string) string { return tagText(s, false) }

var angleBrackets = strings.NewReplacer("<", " ", ">", " ")

// tagText returns the text of s without tags. keepScripts keeps script and
// style bodies as text.
func tagText(s string, keepScripts bool) string {
	if !strings.ContainsRune(s, '<') {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	b.Grow(len(s))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			return b.String()
		case html.TextToken:
			if skip == 0 {
				b.Write(z.Raw())
			}
		case html.StartTagToken, html.SelfClosingTagToken, html.EndTagToken:
			name, _ := z.TagName()
			switch tag := string(name); {
			case (tag == "script" || tag == "style") && !keepScripts:
				if tt == html.StartTagToken {
					skip++
				} else if tt == html.EndTagToken && skip > 0 {
					skip--
				}
			case blockElements[tag]:
				b.WriteByte('\n')
			}
		}
	}
}

func invisible(r rune) bool {
	if r == '\n' || r == '\t' {
		return false
	}
	return unicode.Is(unicode.Cc, r) || unicode.Is(unicode.Cf, r)
}

// normalizeSpace removes control and zero-width characters, normalises to
// NFC, collapses horizontal whitespace and blank-line runs.
func normalizeSpace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	t := transform.Chain(runes.Remove(runes.Predicate(invisible)), norm.NFC)
	if out, _, err := transform.String(t, s); err == nil {
		s = out
	}

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(horizontalSpace.ReplaceAllString(line, " "))
	}
	return blankLines.ReplaceAllString(strings.Join(lines, "\n"), "\n\n")
}
