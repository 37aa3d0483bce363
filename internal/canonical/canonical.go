// Package canonical normalizes fetched policy pages into plain text so that
// byte-identical content always canonicalizes to byte-identical output.
package canonical

import (
	"regexp"
	"strings"
)

var (
	blockTagRes = buildBlockTagRes()
	tagRe       = regexp.MustCompile(`<[^>]+>`)
	titleRe     = regexp.MustCompile(`(?i)<title[^>]*>(.*?)</title>`)
	spaceRe     = regexp.MustCompile(`[ \t]+`)
	nlRe        = regexp.MustCompile(`\n{3,}`)
	headingRe   = regexp.MustCompile(`(?im)^(#{1,6}\s+.+|[A-Z][A-Za-z0-9 ,&/-]{4,80}:?)\s*$`)
)

func buildBlockTagRes() []*regexp.Regexp {
	// script/style/noscript carry no visible policy text; nav/footer are
	// site chrome that churns between fetches and would defeat hashing.
	tags := []string{"script", "style", "noscript", "nav", "footer"}
	res := make([]*regexp.Regexp, 0, len(tags))
	for _, tag := range tags {
		res = append(res, regexp.MustCompile(`(?is)<`+tag+`[^>]*>.*?</`+tag+`>`))
	}
	return res
}

// Text strips markup and normalizes an HTML document to plain text. The
// result is deterministic: the same input bytes always yield the same output.
func Text(html string) string {
	for _, re := range blockTagRes {
		html = re.ReplaceAllString(html, "")
	}

	html = tagRe.ReplaceAllString(html, " ")

	// Decode common HTML entities.
	r := strings.NewReplacer(
		"&amp;", "&",
		"&lt;", "<",
		"&gt;", ">",
		"&quot;", `"`,
		"&#39;", "'",
		"&nbsp;", " ",
		"&mdash;", "-",
		"&ndash;", "-",
	)
	html = r.Replace(html)

	// Collapse whitespace: runs of spaces to one, 3+ newlines to two.
	html = spaceRe.ReplaceAllString(html, " ")
	lines := strings.Split(html, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	html = strings.Join(lines, "\n")
	html = nlRe.ReplaceAllString(html, "\n\n")

	return strings.TrimSpace(html)
}

// Title pulls the <title> from an HTML document, empty if absent.
func Title(html string) string {
	m := titleRe.FindStringSubmatch(html)
	if len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return ""
}

// NearestHeading returns the last heading-looking line preceding offset in
// canonical text, for anchoring quotes to their section.
func NearestHeading(text string, offset int) string {
	if offset > len(text) {
		offset = len(text)
	}
	locs := headingRe.FindAllStringIndex(text[:offset], -1)
	if len(locs) == 0 {
		return ""
	}
	last := locs[len(locs)-1]
	return strings.TrimSpace(strings.TrimSuffix(text[last[0]:last[1]], ":"))
}

// FindQuote locates a quote in canonical text and returns its byte offset,
// or -1 when the quote does not appear.
func FindQuote(text, quote string) int {
	return strings.Index(text, quote)
}
