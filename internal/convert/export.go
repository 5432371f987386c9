package convert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Chunk is one element of the chunks_json export: a bounded span of text
// tagged with the page it came from, for downstream embedding/retrieval.
type Chunk struct {
	Page int    `json:"page"`
	Text string `json:"text"`
}

const defaultChunkWords = 200

// RenderMarkdown renders a Document as a heading-per-page markdown file.
func RenderMarkdown(doc *Document) string {
	var sb strings.Builder
	if doc.Title != "" {
		fmt.Fprintf(&sb, "# %s\n\n", doc.Title)
	}
	for _, p := range doc.Pages {
		fmt.Fprintf(&sb, "## Page %d\n\n%s\n\n", p.Number, p.Text)
	}
	return sb.String()
}

// RenderText renders a Document as plain concatenated page text.
func RenderText(doc *Document) string {
	return doc.FullText()
}

// RenderDoctags renders a Document as a minimal tagged-structure format —
// one <page> element per page, mirroring the "doctags" export kind's role
// as a structure-preserving (rather than prose) rendering.
func RenderDoctags(doc *Document) string {
	var sb strings.Builder
	sb.WriteString("<document>\n")
	for _, p := range doc.Pages {
		fmt.Fprintf(&sb, "<page index=\"%d\">%s</page>\n", p.Number, escapeTags(p.Text))
	}
	sb.WriteString("</document>\n")
	return sb.String()
}

func escapeTags(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}

// RenderChunksJSON splits each page's text into fixed-size word windows and
// serializes them as a JSON array, the input format a downstream embedding
// job expects.
func RenderChunksJSON(doc *Document) ([]byte, error) {
	var chunks []Chunk
	for _, p := range doc.Pages {
		words := strings.Fields(p.Text)
		for i := 0; i < len(words); i += defaultChunkWords {
			end := i + defaultChunkWords
			if end > len(words) {
				end = len(words)
			}
			chunks = append(chunks, Chunk{Page: p.Number, Text: strings.Join(words[i:end], " ")})
		}
	}
	return json.Marshal(chunks)
}
