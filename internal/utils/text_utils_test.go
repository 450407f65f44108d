package utils

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestTruncateText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())

	assert.Equal(t, "short", tp.TruncateText("short", 10))
	assert.Equal(t, "short", tp.TruncateText("short", 0))

	got := tp.TruncateText(strings.Repeat("é", 10), 5)
	assert.True(t, strings.HasSuffix(got, TruncationMarker))
	assert.Equal(t, "éé", strings.TrimSuffix(got, TruncationMarker))
}

func TestCutUTF8(t *testing.T) {
	s := "ab€cd"
	for i := 1; i <= len(s); i++ {
		cut := CutUTF8(s, i)
		assert.True(t, utf8.ValidString(cut))
		assert.LessOrEqual(t, len(cut), i)
	}
	assert.Equal(t, "ab", CutUTF8(s, 4))
	assert.Equal(t, s, CutUTF8(s, 100))
}

func TestCutUTF8KeepsTextAfterInvalidByte(t *testing.T) {
	text := "caf\xe9 " + strings.Repeat("a", 6000)
	assert.Len(t, CutUTF8(text, 5000), 5000)

	// a split rune at the end is still dropped
	text = "caf\xe9 " + strings.Repeat("a", 4993) + "€"
	assert.Len(t, CutUTF8(text, 5000), 4998)
}

func TestSanitizeUTF8(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "abc", tp.SanitizeUTF8("a\xffbc"))
	assert.Equal(t, "ok", tp.SanitizeUTF8("ok"))
}

func TestProcessText(t *testing.T) {
	tp := NewTextProcessor(zap.NewNop())
	assert.Equal(t, "a b c", tp.ProcessText("a\n\n b\t\tc ", 100))
}

func TestStripHTML(t *testing.T) {
	doc := `<html><head><style>.x{color:red}</style><script>alert(1)</script></head>
<body><p>Your plan&nbsp;renews on <b>March 3, 2025</b></p><!-- hidden --><div>Total: &#36;9.99</div></body></html>`

	got := StripHTML(doc)
	assert.NotContains(t, got, "color")
	assert.NotContains(t, got, "alert")
	assert.NotContains(t, got, "hidden")
	assert.NotContains(t, got, "<")
	assert.Contains(t, got, "Your plan renews on March 3, 2025")
	assert.Contains(t, got, "Total: $9.99")
}
