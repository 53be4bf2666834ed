package visibility

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"git.home.luguber.info/inful/llmstxt/internal/document"
)

type fixedProvider struct {
	sig   Signal
	err   error
	calls *int
}

func (p fixedProvider) Name() string { return "fixed" }

func (p fixedProvider) NoIndex(context.Context, *document.Document) (Signal, error) {
	if p.calls != nil {
		*p.calls++
	}
	return p.sig, p.err
}

func TestResolveIsOrOfNoIndex(t *testing.T) {
	signals := []Signal{Absent, Index, NoIndex}
	doc := &document.Document{ID: 1}

	for _, a := range signals {
		for _, b := range signals {
			for _, c := range signals {
				r := NewResolver([]AnnotationProvider{
					fixedProvider{sig: a}, fixedProvider{sig: b}, fixedProvider{sig: c},
				})
				want := a != NoIndex && b != NoIndex && c != NoIndex
				assert.Equal(t, want, r.Resolve(t.Context(), doc), "signals %v %v %v", a, b, c)
			}
		}
	}
}

func TestResolveWithoutProvidersIsVisible(t *testing.T) {
	assert.True(t, NewResolver(nil).Resolve(t.Context(), &document.Document{ID: 1}))
}

func TestResolveShortCircuitsOnNoIndex(t *testing.T) {
	var calls int
	r := NewResolver([]AnnotationProvider{
		fixedProvider{sig: NoIndex, calls: &calls},
		fixedProvider{sig: Index, calls: &calls},
	})
	assert.False(t, r.Resolve(t.Context(), &document.Document{ID: 1}))
	assert.Equal(t, 1, calls)
}

func TestResolveTreatsProviderErrorsAsAbsent(t *testing.T) {
	r := NewResolver([]AnnotationProvider{
		fixedProvider{sig: NoIndex, err: stderrors.New("backend down")},
		fixedProvider{sig: Index},
	})
	assert.True(t, r.Resolve(t.Context(), &document.Document{ID: 1}))
}

func TestOverrideRunsAfterProviders(t *testing.T) {
	var seen []bool
	r := NewResolver([]AnnotationProvider{fixedProvider{sig: NoIndex}},
		WithOverride(func(doc *document.Document, visible bool) bool {
			seen = append(seen, visible)
			return doc.Type == "legal"
		}))

	assert.True(t, r.Resolve(t.Context(), &document.Document{ID: 1, Type: "legal"}))
	assert.False(t, r.Resolve(t.Context(), &document.Document{ID: 2, Type: "post"}))
	assert.Equal(t, []bool{false, false}, seen)
}

func TestBuiltinProviders(t *testing.T) {
	cases := []struct {
		name string
		doc  *document.Document
		want bool
	}{
		{"no annotations", &document.Document{}, true},
		{"yoast noindex", &document.Document{Meta: map[string]string{"_yoast_wpseo_meta-robots-noindex": "1"}}, false},
		{"yoast index", &document.Document{Meta: map[string]string{"_yoast_wpseo_meta-robots-noindex": "2"}}, true},
		{"rank math noindex", &document.Document{Meta: map[string]string{"rank_math_robots": `a:2:{i:0;s:7:"noindex";i:1;s:8:"nofollow";}`}}, false},
		{"rank math nofollow only", &document.Document{Meta: map[string]string{"rank_math_robots": `a:1:{i:0;s:8:"nofollow";}`}}, true},
		{"aioseo private key", &document.Document{Meta: map[string]string{"_aioseo_noindex": "1"}}, false},
		{"aioseo public key", &document.Document{Meta: map[string]string{"aioseo_noindex": "true"}}, false},
		{"aioseo off", &document.Document{Meta: map[string]string{"_aioseo_noindex": "0"}}, true},
		{"seopress noindex", &document.Document{Meta: map[string]string{"_seopress_robots_index": "yes"}}, false},
		{"frontmatter noindex", &document.Document{Frontmatter: map[string]any{"noindex": true}}, false},
		{"frontmatter robots", &document.Document{Frontmatter: map[string]any{"robots": "noindex, follow"}}, false},
		{"frontmatter robots list", &document.Document{Frontmatter: map[string]any{"robots": []any{"nofollow"}}}, true},
		{"disagreeing providers", &document.Document{
			Meta: map[string]string{"_yoast_wpseo_meta-robots-noindex": "2", "_seopress_robots_index": "yes"},
		}, false},
	}

	r := NewResolver(DefaultProviders())
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, r.Resolve(t.Context(), tc.doc))
		})
	}
}

func TestFrontmatterUnsupportedTypeIsAbsent(t *testing.T) {
	r := NewResolver([]AnnotationProvider{FrontmatterProvider{}})
	doc := &document.Document{Frontmatter: map[string]any{"noindex": 3}}
	assert.True(t, r.Resolve(t.Context(), doc))
}
