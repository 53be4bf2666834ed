package cleaner

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Unknown shortcodes keep their enclosed content; the wrapper tags vanish.
func TestCleanShortcodeFixture(t *testing.T) {
	in := `<div class="x">Hello [shortcode]World[/shortcode]&nbsp;there</div>`
	assert.Equal(t, "Hello World there", Clean(in))
}

func TestCleanSteps(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"plain text", "Already clean text.", "Already clean text."},
		{"self closing shortcode", `Before [gallery ids="1,2,3"] after`, "Before after"},
		{"dropped media", `[video src="a.mp4"]fallback[/video]Text`, "Text"},
		{"caption keeps text", `[caption id="c1"]<img src="a.jpg"> A cat[/caption]`, "A cat"},
		{"escaped directive", `Use [[name]] literally`, "Use [name] literally"},
		{"escaped directive with attributes", `Type [[gallery ids="1"]] to embed`, `Type [gallery ids="1"] to embed`},
		{"stray closer", `Text[/unknown] more`, "Text more"},
		{"entities", "Fish &amp; Chips &copy; 2024", "Fish & Chips © 2024"},
		{"punctuation", "Wait&hellip; &ldquo;quoted&rdquo; &ndash; done&mdash;ok", `Wait... "quoted" - done--ok`},
		{"double encoded", "A &amp;lt;b&amp;gt; B", "A b B"},
		{"encoded directive", "Hi &#91;vc_row&#93;there", "Hi there"},
		{"block comments", "<!-- wp:paragraph --><p>Para</p><!-- /wp:paragraph -->", "Para"},
		{"builder comment", "<!-- elementor-widget -->Body", "Body"},
		{"script and style", "<style>p{color:red}</style><p>Visible</p><script>alert(1)</script>", "Visible"},
		{"blocks become lines", "<p>One</p>\n\n\n<p>Two</p>", "One\n\nTwo"},
		{"inline tags", "<p>Some <strong>bold</strong> text</p>", "Some bold text"},
		{"zero width", "zero\u200bwidth\u00adsoft", "zerowidthsoft"},
		{"control chars", "bell\u0007 and\ttab", "bell and tab"},
		{"nfc", "Cafe\u0301", "Caf\u00e9"},
		{"figure unwrap", `<figure class="wp-block-image"><img src="x.png"><figcaption>Caption text</figcaption></figure>`, "Caption text"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Clean(tc.in))
		})
	}
}

func TestCleanIdempotent(t *testing.T) {
	inputs := []string{
		`<div class="x">Hello [shortcode]World[/shortcode]&nbsp;there</div>`,
		"<h2>Title</h2><p>First &amp; second</p><ul><li>a</li><li>b</li></ul>",
		"Plain words with 5 < 6 comparisons",
		"Fish &amp;amp; chips",
		"<!-- wp:image --><figure><img src=x></figure><!-- /wp:image -->Text",
		"Mixed\u200b \u00a0 spacing\r\nlines\n\n\n\nend",
		"{{ template }} rest",
	}
	for _, in := range inputs {
		once := Clean(in)
		assert.Equal(t, once, Clean(once), "input %q", in)
	}
}

func TestCleanNeverEmptiesNonBlankInput(t *testing.T) {
	inputs := []string{
		"<img src=\"a.png\">",
		"[gallery ids=\"1\"]",
		"<script>only script</script>",
		"<!-- wp:separator /-->",
		"\u200b",
		"{{ only }}",
		"<p></p>text-less <br/>",
	}
	for _, in := range inputs {
		assert.NotEmpty(t, strings.TrimSpace(Clean(in)), "input %q", in)
	}
	assert.Empty(t, Clean("   \n\t "))
	assert.Empty(t, Clean(""))
}

func TestCleanFallbackNeverReturnsMarkup(t *testing.T) {
	cases := map[string]string{
		"<script>alert(1)</script>":      "alert(1)",
		"<style>p{color:red}</style>":    "p{color:red}",
		"<br>":                           "br",
		`<img src="a.png">`:              `img src="a.png"`,
		"<!-- wp:separator /-->":         "!-- wp:separator /--",
		"&lt;script&gt;x&lt;/script&gt;": "x",
	}
	for in, want := range cases {
		out := Clean(in)
		assert.Equal(t, want, out, "input %q", in)
		assert.NotContains(t, out, "<", "input %q", in)
	}
}

// An escaped directive is rendered once. Its literal output reads as a
// directive again, so a second pass removes it.
func TestCleanEscapedDirectiveRendersOnce(t *testing.T) {
	once := Clean("See [[toc]] below")
	assert.Equal(t, "See [toc] below", once)
	assert.Equal(t, "See below", Clean(once))
}

func TestCleanFallbackIsLimitedToTwentyWords(t *testing.T) {
	words := make([]string, 30)
	for i := range words {
		words[i] = "w"
	}
	in := "<script>" + strings.Join(words, " ") + "</script>"
	out := Clean(in)
	require.NotEmpty(t, out)
	assert.LessOrEqual(t, len(strings.Fields(out)), FallbackWords)
}

func TestBuilderPatternsAreAppendable(t *testing.T) {
	c := New(WithBuilderPatterns(regexp.MustCompile(`(?s)<div class="mk-fancy">.*?</div>`)))
	assert.Equal(t, "Keep", c.Clean(`Keep<div class="mk-fancy">drop me</div>`))
	assert.Equal(t, "Keep\ndrop me", Clean(`Keep <div class="mk-fancy">drop me</div>`))
}

func TestCustomShortcode(t *testing.T) {
	c := New(WithShortcode("button", func(attrs map[string]string, inner string) string {
		return inner + " (" + attrs["url"] + ")"
	}))
	assert.Equal(t, "Buy now (https://shop.example)", c.Clean(`[button url="https://shop.example"]Buy now[/button]`))
}

func TestNestedShortcodes(t *testing.T) {
	in := `[vc_row][vc_column][vc_column_text]Inside[/vc_column_text][/vc_column][/vc_row]`
	assert.Equal(t, "Inside", Clean(in))
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "one two three", Truncate("one two three", 3))
	assert.Equal(t, "one two...", Truncate("one two three", 2))
	assert.Equal(t, "one two three", Truncate("one two three", 0))
}
