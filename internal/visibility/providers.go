package visibility

import (
	"context"
	"fmt"
	"strings"

	"git.home.luguber.info/inful/llmstxt/internal/document"
)

// MetaFieldProvider reads one or more document meta fields. Classify maps a
// present, non-empty field value to a signal; the first field present wins.
type MetaFieldProvider struct {
	Label    string
	Fields   []string
	Classify func(value string) Signal
}

func (p MetaFieldProvider) Name() string { return p.Label }

func (p MetaFieldProvider) NoIndex(_ context.Context, doc *document.Document) (Signal, error) {
	for _, f := range p.Fields {
		v, ok := doc.Meta[f]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		return p.Classify(strings.TrimSpace(v)), nil
	}
	return Absent, nil
}

// Yoast reads _yoast_wpseo_meta-robots-noindex ("1" noindex, "2" index).
func Yoast() MetaFieldProvider {
	return MetaFieldProvider{
		Label:  "yoast",
		Fields: []string{"_yoast_wpseo_meta-robots-noindex"},
		Classify: func(v string) Signal {
			switch v {
			case "1":
				return NoIndex
			case "2":
				return Index
			}
			return Absent
		},
	}
}

// RankMath reads the rank_math_robots directive list.
func RankMath() MetaFieldProvider {
	return MetaFieldProvider{
		Label:    "rank_math",
		Fields:   []string{"rank_math_robots"},
		Classify: robotsDirectives,
	}
}

// AIOSEO reads _aioseo_noindex, falling back to aioseo_noindex.
func AIOSEO() MetaFieldProvider {
	return MetaFieldProvider{
		Label:    "aioseo",
		Fields:   []string{"_aioseo_noindex", "aioseo_noindex"},
		Classify: boolSignal,
	}
}

// SEOPress reads _seopress_robots_index, where "yes" means noindex.
func SEOPress() MetaFieldProvider {
	return MetaFieldProvider{
		Label:  "seopress",
		Fields: []string{"_seopress_robots_index"},
		Classify: func(v string) Signal {
			if strings.EqualFold(v, "yes") {
				return NoIndex
			}
			return Index
		},
	}
}

// FrontmatterProvider reads "noindex: true" or "robots: noindex" from
// document frontmatter.
type FrontmatterProvider struct{}

func (FrontmatterProvider) Name() string { return "frontmatter" }

func (FrontmatterProvider) NoIndex(_ context.Context, doc *document.Document) (Signal, error) {
	if v, ok := doc.Frontmatter["noindex"]; ok {
		switch b := v.(type) {
		case bool:
			if b {
				return NoIndex, nil
			}
			return Index, nil
		case string:
			return boolSignal(b), nil
		default:
			return Absent, fmt.Errorf("noindex: unsupported value type %T", v)
		}
	}
	if v, ok := doc.Frontmatter["robots"]; ok {
		switch r := v.(type) {
		case string:
			return robotsDirectives(r), nil
		case []any:
			parts := make([]string, 0, len(r))
			for _, p := range r {
				parts = append(parts, fmt.Sprint(p))
			}
			return robotsDirectives(strings.Join(parts, ",")), nil
		}
	}
	return Absent, nil
}

// DefaultProviders returns every built-in provider in precedence order.
func DefaultProviders() []AnnotationProvider {
	return []AnnotationProvider{Yoast(), RankMath(), AIOSEO(), SEOPress(), FrontmatterProvider{}}
}

// robotsDirectives inspects a robots directive list such as "noindex, nofollow"
// or a serialized array. nofollow alone does not exclude.
func robotsDirectives(v string) Signal {
	lower := strings.ToLower(v)
	fields := strings.FieldsFunc(lower, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r == '-')
	})
	sig := Absent
	for _, f := range fields {
		switch f {
		case "noindex":
			return NoIndex
		case "index":
			sig = Index
		}
	}
	return sig
}

func boolSignal(v string) Signal {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return NoIndex
	case "0", "false", "no", "off":
		return Index
	}
	return Absent
}
