package normalize

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// extractPDFPages returns the text of every page in the document, in page
// order. Page text is decoded from the consolidated content streams; PDFs
// using CID-keyed fonts without a simple byte encoding may come back mostly
// empty, which the caller reports as an empty extraction.
func extractPDFPages(payload []byte) ([]string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(payload), conf)
	if err != nil {
		return nil, fmt.Errorf("normalize: read pdf: %w", err)
	}

	pages := make([]string, ctx.PageCount)
	for p := 1; p <= ctx.PageCount; p++ {
		r, err := pdfcpu.ExtractPageContent(ctx, p)
		if err != nil || r == nil {
			continue
		}
		raw, err := io.ReadAll(r)
		if err != nil {
			continue
		}
		pages[p-1] = contentText(raw)
	}
	return pages, nil
}

// contentText decodes the text-showing operators (Tj, TJ, ', ") of a page
// content stream. Literal strings are buffered as operands and emitted only
// when a text-showing operator consumes them; any other operator discards
// them. Positioning operators become line breaks.
func contentText(stream []byte) string {
	var out strings.Builder
	var pending []string

	flush := func(sep string) {
		for _, s := range pending {
			if s != "" {
				out.WriteString(s)
			}
		}
		pending = pending[:0]
		if sep != "" && out.Len() > 0 && !strings.HasSuffix(out.String(), sep) {
			out.WriteString(sep)
		}
	}

	i := 0
	for i < len(stream) {
		c := stream[i]
		switch {
		case c == '(':
			s, next := parseLiteralString(stream, i)
			pending = append(pending, s)
			i = next
		case c == '<':
			// Hex strings and inline dicts carry no decodable text here.
			if i+1 < len(stream) && stream[i+1] == '<' {
				i += 2
			} else {
				i = skipTo(stream, i+1, '>') + 1
			}
		case c == '%':
			i = skipLine(stream, i)
		case c == '\'' || c == '"':
			flush(" ")
			i++
		case isRegular(c):
			start := i
			for i < len(stream) && isRegular(stream[i]) {
				i++
			}
			switch string(stream[start:i]) {
			case "Tj", "TJ":
				flush(" ")
			case "Td", "TD", "T*", "ET":
				flush("\n")
			case "BT", "Tf", "Tc", "Tw", "Tz", "TL", "Ts", "Tr", "Tm":
				// text state and matrix operators keep their operands pending
			default:
				pending = pending[:0]
			}
		default:
			i++
		}
	}
	return strings.TrimSpace(out.String())
}

// parseLiteralString decodes a PDF literal string starting at stream[start]
// ('('), honouring balanced parentheses, escape sequences and octal codes.
// Returns the decoded text and the index just past the closing ')'.
func parseLiteralString(stream []byte, start int) (string, int) {
	var b strings.Builder
	depth := 1
	i := start + 1
	for i < len(stream) && depth > 0 {
		c := stream[i]
		switch c {
		case '\\':
			if i+1 >= len(stream) {
				i++
				break
			}
			i++
			switch e := stream[i]; e {
			case 'n':
				b.WriteByte('\n')
			case 'r':
				b.WriteByte('\r')
			case 't':
				b.WriteByte('\t')
			case 'b', 'f':
				// ignored
			case '(', ')', '\\':
				b.WriteByte(e)
			case '\n':
				// line continuation
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for n := 0; n < 2 && i+1 < len(stream) && stream[i+1] >= '0' && stream[i+1] <= '7'; n++ {
						i++
						v = v*8 + int(stream[i]-'0')
					}
					b.WriteByte(byte(v))
				} else {
					b.WriteByte(e)
				}
			}
			i++
		case '(':
			depth++
			b.WriteByte(c)
			i++
		case ')':
			depth--
			if depth > 0 {
				b.WriteByte(c)
			}
			i++
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), i
}

func skipTo(stream []byte, i int, c byte) int {
	for i < len(stream) && stream[i] != c {
		i++
	}
	return i
}

func skipLine(stream []byte, i int) int {
	for i < len(stream) && stream[i] != '\n' {
		i++
	}
	return i
}

// isRegular reports whether c can start an operator token.
func isRegular(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '*'
}
