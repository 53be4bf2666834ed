package cleaner

import (
	"regexp"
	"strings"
)

// ShortcodeFunc renders one bracket directive. inner is the already expanded
// enclosed content ("" for self-closing directives).
type ShortcodeFunc func(attrs map[string]string, inner string) string

const (
	literalOpen  = '\ue000'
	literalClose = '\ue001'
)

var literalBrackets = strings.NewReplacer(string(literalOpen), "[", string(literalClose), "]")

var attrPattern = regexp.MustCompile(`([\w-]+)\s*=\s*(?:"([^"]*)"|'([^']*)'|([^\s"']+))`)

func dropContent(map[string]string, string) string { return "" }

func keepContent(_ map[string]string, inner string) string { return inner }

// defaultShortcodes renders the directives most content stores ship with.
// Media and raw-code directives carry nothing readable.
func defaultShortcodes() map[string]ShortcodeFunc {
	return map[string]ShortcodeFunc{
		"caption":     keepContent,
		"wp_caption":  keepContent,
		"gallery":     dropContent,
		"playlist":    dropContent,
		"audio":       dropContent,
		"video":       dropContent,
		"embed":       dropContent,
		"vc_raw_html": dropContent,
		"vc_raw_js":   dropContent,
	}
}

// expandShortcodes replaces bracket directives with their rendered output.
// Unknown paired directives keep their inner content, unknown single ones vanish.
// Escaped directives ("[[name]]") become the literal "[name]"; their brackets
// are held as private-use runes until Clean restores them, so the later
// directive passes leave them alone.
func expandShortcodes(s string, handlers map[string]ShortcodeFunc) string {
	if !strings.Contains(s, "[") {
		return s
	}

	var b strings.Builder
	b.Grow(len(s))
	i := 0
	for i < len(s) {
		open := strings.IndexByte(s[i:], '[')
		if open < 0 {
			b.WriteString(s[i:])
			break
		}
		open += i
		b.WriteString(s[i:open])

		if strings.HasPrefix(s[open:], "[[") {
			end := strings.Index(s[open:], "]]")
			if end < 0 {
				b.WriteString(s[open:])
				break
			}
			b.WriteRune(literalOpen)
			b.WriteString(s[open+2 : open+end])
			b.WriteRune(literalClose)
			i = open + end + 2
			continue
		}

		name, attrs, selfClosing, tagEnd, ok := parseOpenTag(s, open)
		if !ok {
			b.WriteByte('[')
			i = open + 1
			continue
		}

		inner, next := "", tagEnd
		if !selfClosing {
			closing := "[/" + name + "]"
			if c := strings.Index(s[tagEnd:], closing); c >= 0 {
				inner = expandShortcodes(s[tagEnd:tagEnd+c], handlers)
				next = tagEnd + c + len(closing)
			}
		}

		h, known := handlers[strings.ToLower(name)]
		if !known {
			h = keepContent
		}
		b.WriteString(h(attrs, inner))
		i = next
	}
	return b.String()
}

// parseOpenTag parses "[name attr=...]" or "[name .../]" starting at s[pos]=='['.
func parseOpenTag(s string, pos int) (name string, attrs map[string]string, selfClosing bool, end int, ok bool) {
	j := pos + 1
	for j < len(s) && isNameByte(s[j], j == pos+1) {
		j++
	}
	if j == pos+1 {
		return "", nil, false, 0, false
	}
	name = s[pos+1 : j]

	rb := strings.IndexByte(s[j:], ']')
	if rb < 0 {
		return "", nil, false, 0, false
	}
	body := s[j : j+rb]
	if strings.ContainsAny(body, "[\n") || (body != "" && body[0] != ' ' && body[0] != '/' && body[0] != '\t') {
		return "", nil, false, 0, false
	}
	body = strings.TrimSpace(body)
	if strings.HasSuffix(body, "/") {
		selfClosing = true
		body = strings.TrimSpace(strings.TrimSuffix(body, "/"))
	}

	attrs = make(map[string]string)
	for _, m := range attrPattern.FindAllStringSubmatch(body, -1) {
		attrs[strings.ToLower(m[1])] = m[2] + m[3] + m[4]
	}
	return name, attrs, selfClosing, j + rb + 1, true
}

func isNameByte(c byte, first bool) bool {
	switch {
	case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		return true
	case first:
		return false
	default:
		return c >= '0' && c <= '9' || c == '_' || c == '-'
	}
}
