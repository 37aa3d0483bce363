package canonical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestText_StripsChromeAndMarkup(t *testing.T) {
	html := `<html><head><title>Medical Policy</title>
<script>var tracker = 1;</script>
<style>body { color: red; }</style></head>
<body>
<nav><a href="/">Home</a> | <a href="/policies">Policies</a></nav>
<h1>Molecular Diagnostics</h1>
<p>Signatera is considered medically necessary for stage II colorectal cancer.</p>
<footer>&copy; 2026 Example Payer</footer>
</body></html>`

	text := Text(html)
	assert.Contains(t, text, "Molecular Diagnostics")
	assert.Contains(t, text, "medically necessary for stage II")
	assert.NotContains(t, text, "tracker")
	assert.NotContains(t, text, "color: red")
	assert.NotContains(t, text, "Home")
	assert.NotContains(t, text, "2026 Example Payer")
}

func TestText_DecodesEntities(t *testing.T) {
	text := Text(`<p>Coverage &amp; Billing &mdash; see &quot;criteria&quot;</p>`)
	assert.Equal(t, `Coverage & Billing - see "criteria"`, text)
}

func TestText_CollapsesWhitespace(t *testing.T) {
	text := Text("line one   with    spaces\n\n\n\n\nline two")
	assert.Equal(t, "line one with spaces\n\nline two", text)
}

func TestText_Deterministic(t *testing.T) {
	html := `<div><p>Prior   authorization required.</p></div>`
	assert.Equal(t, Text(html), Text(html))
}

func TestTitle(t *testing.T) {
	assert.Equal(t, "Lab Policy Index", Title(`<html><title> Lab Policy Index </title></html>`))
	assert.Equal(t, "", Title(`<html><body>no title</body></html>`))
}

func TestNearestHeading(t *testing.T) {
	text := "Coverage Policy\n\nSignatera is covered for stage II disease.\n\nBilling Notes:\n\nUse CPT 0340U."

	off := FindQuote(text, "Signatera is covered")
	assert.Equal(t, "Coverage Policy", NearestHeading(text, off))

	off = FindQuote(text, "Use CPT 0340U")
	assert.Equal(t, "Billing Notes", NearestHeading(text, off))
}

func TestNearestHeading_NoHeadingBeforeOffset(t *testing.T) {
	assert.Equal(t, "", NearestHeading("just some body text with no headings at all", 20))
}

func TestNearestHeading_OffsetPastEnd(t *testing.T) {
	text := "Section A\n\nbody"
	assert.Equal(t, "Section A", NearestHeading(text, len(text)+100))
}

func TestFindQuote(t *testing.T) {
	text := "The test is covered for surveillance."
	assert.Equal(t, 12, FindQuote(text, "covered"))
	assert.Equal(t, -1, FindQuote(text, "denied"))
}
