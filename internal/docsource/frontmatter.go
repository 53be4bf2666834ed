package docsource

import (
	"bytes"
	stderrors "errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// errUnclosedFrontmatter reports a file that opens a YAML header but never
// closes it.
var errUnclosedFrontmatter = stderrors.New("frontmatter opening delimiter without closing delimiter")

// splitFrontmatter separates a leading `---` delimited YAML header from the
// Markdown body. Files without a header return a nil header and the whole
// input as body.
func splitFrontmatter(content []byte) (header, body []byte, err error) {
	nl := []byte("\n")
	if i := bytes.IndexByte(content, '\n'); i > 0 && content[i-1] == '\r' {
		nl = []byte("\r\n")
	}
	open := append([]byte("---"), nl...)
	if !bytes.HasPrefix(content, open) {
		return nil, content, nil
	}
	rest := content[len(open):]
	if bytes.HasPrefix(rest, open) {
		return []byte{}, rest[len(open):], nil
	}

	closing := append(append([]byte{}, nl...), open...)
	idx := bytes.Index(rest, closing)
	if idx < 0 {
		// A closing delimiter on the last line without a trailing newline.
		last := append(append([]byte{}, nl...), []byte("---")...)
		if bytes.HasSuffix(rest, last) {
			return rest[:len(rest)-len(last)+len(nl)], nil, nil
		}
		return nil, nil, errUnclosedFrontmatter
	}
	return rest[:idx+len(nl)], rest[idx+len(closing):], nil
}

// parseFields decodes a YAML header into a map. An empty header yields an
// empty map.
func parseFields(header []byte) (map[string]any, error) {
	fields := map[string]any{}
	if len(bytes.TrimSpace(header)) == 0 {
		return fields, nil
	}
	if err := yaml.Unmarshal(header, &fields); err != nil {
		return nil, err
	}
	if fields == nil {
		fields = map[string]any{}
	}
	return fields, nil
}

func stringField(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case nil:
		default:
			return fmt.Sprint(v)
		}
	}
	return ""
}

func boolField(fields map[string]any, key string) bool {
	switch v := fields[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	}
	return false
}

func intField(fields map[string]any, key string) (int64, bool) {
	switch v := fields[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case uint64:
		return int64(v), true
	case float64:
		return int64(v), v == float64(int64(v))
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	}
	return 0, false
}

var dateLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05", "2006-01-02"}

func timeField(fields map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case time.Time:
			return v
		case string:
			for _, layout := range dateLayouts {
				if t, err := time.Parse(layout, strings.TrimSpace(v)); err == nil {
					return t
				}
			}
		}
	}
	return time.Time{}
}

// stringList accepts a YAML sequence or a comma separated string.
func stringList(fields map[string]any, key string) []string {
	var out []string
	switch v := fields[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(fmt.Sprint(item)); s != "" && item != nil {
				out = append(out, s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

func mapField(fields map[string]any, key string) map[string]any {
	m, _ := fields[key].(map[string]any)
	return m
}
