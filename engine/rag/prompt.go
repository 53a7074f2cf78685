package rag

import (
	"fmt"
	"strings"

	"github.com/quillbase/quillbase/engine/semantic"
)

// systemPreamble anchors the model to the retrieved corpus. The citation
// rules below it are load-bearing: the citation parser relies on the
// exact tag shape they describe.
const systemPreamble = `You are Quill, an assistant that answers questions strictly from the
user's own knowledge base. Use ONLY the context below. If the context does
not contain the answer, say you don't know; do not invent facts.`

const citationRules = `Citation rules:
1. Include exactly one citation in your answer, never more.
2. Place it at the very end of the answer, on the same line as the last sentence.
3. Write it literally as (Source: <identifier>) or (Source: <identifier>, page <n>).
4. <identifier> is the bare filename for file sources, the full URL for web
   sources, or the literal user-input for free-text sources. Copy it exactly
   from the context block.`

const emptyContextNote = `The context is empty: the knowledge base has no relevant entries. Tell the
user you have nothing on this topic and include no citation.`

// buildSystemPrompt assembles the grounded system instruction from the
// retrieved chunks. The user's question travels separately as the user
// turn; no chat history is carried.
func buildSystemPrompt(results []semantic.SearchResult) string {
	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	if len(results) == 0 {
		b.WriteString(emptyContextNote)
		return b.String()
	}

	b.WriteString("Context:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "--- entry %d (identifier: %s", i+1, r.Chunk.Source)
		if r.Chunk.Paginated() {
			fmt.Fprintf(&b, ", page %d", r.Chunk.Page)
		}
		b.WriteString(") ---\n")
		b.WriteString(r.Chunk.Content)
		b.WriteString("\n")
	}
	b.WriteString("\n")
	b.WriteString(citationRules)
	return b.String()
}
