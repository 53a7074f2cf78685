package normalize

import (
	"html"
	"regexp"
	"strings"
)

// Pre-compiled expressions for HTML stripping.
var (
	scriptTag     = regexp.MustCompile(`(?is)<script[^>]*>.*?</script>`)
	styleTag      = regexp.MustCompile(`(?is)<style[^>]*>.*?</style>`)
	noscriptTag   = regexp.MustCompile(`(?is)<noscript[^>]*>.*?</noscript>`)
	headTag       = regexp.MustCompile(`(?is)<head[^>]*>.*?</head>`)
	svgTag        = regexp.MustCompile(`(?is)<svg[^>]*>.*?</svg>`)
	htmlComments  = regexp.MustCompile(`(?s)<!--.*?-->`)
	closeBlockTag = regexp.MustCompile(`(?i)</(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)>`)
	openBlockTag  = regexp.MustCompile(`(?i)<(p|div|h[1-6]|li|tr|blockquote|pre|table|section|article)[^>]*>`)
	brTag         = regexp.MustCompile(`(?i)<(br|hr)\s*/?>`)
	anyTag        = regexp.MustCompile(`<[^>]+>`)
	runSpaces     = regexp.MustCompile(`[ \t]+`)
)

// StripHTML extracts readable text from an HTML page. Script, style and
// other non-content subtrees are removed entirely; block boundaries become
// newlines; entities are decoded. The result is trimmed, with empty lines
// dropped.
func StripHTML(content string) string {
	content = scriptTag.ReplaceAllString(content, "")
	content = styleTag.ReplaceAllString(content, "")
	content = noscriptTag.ReplaceAllString(content, "")
	content = headTag.ReplaceAllString(content, "")
	content = svgTag.ReplaceAllString(content, "")
	content = htmlComments.ReplaceAllString(content, "")

	content = openBlockTag.ReplaceAllString(content, "\n")
	content = closeBlockTag.ReplaceAllString(content, "\n")
	content = brTag.ReplaceAllString(content, "\n")
	content = anyTag.ReplaceAllString(content, "")

	content = html.UnescapeString(content)
	content = runSpaces.ReplaceAllString(content, " ")

	var out []string
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
