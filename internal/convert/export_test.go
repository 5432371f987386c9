package convert

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleDoc() *Document {
	return &Document{
		Title:     "Annual Report",
		PageCount: 2,
		Pages: []Page{
			{Number: 1, Text: "one two three"},
			{Number: 2, Text: "four five"},
		},
	}
}

func TestRenderMarkdownIncludesTitleAndPages(t *testing.T) {
	out := RenderMarkdown(sampleDoc())
	assert.Contains(t, out, "# Annual Report")
	assert.Contains(t, out, "## Page 1")
	assert.Contains(t, out, "one two three")
}

func TestRenderTextConcatenatesPages(t *testing.T) {
	out := RenderText(sampleDoc())
	assert.Equal(t, "one two three\nfour five", out)
}

func TestRenderDoctagsEscapesAndWraps(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: "a <b> & c"}}}
	out := RenderDoctags(doc)
	assert.Contains(t, out, "<page index=\"1\">a &lt;b&gt; &amp; c</page>")
}

func TestRenderChunksJSONSplitsByWordWindow(t *testing.T) {
	doc := &Document{Pages: []Page{{Number: 1, Text: "one two three"}}}
	data, err := RenderChunksJSON(doc)
	require.NoError(t, err)

	var chunks []Chunk
	require.NoError(t, json.Unmarshal(data, &chunks))
	require.Len(t, chunks, 1)
	assert.Equal(t, 1, chunks[0].Page)
	assert.Equal(t, "one two three", chunks[0].Text)
}

func TestRenderChunksJSONEmptyDocument(t *testing.T) {
	data, err := RenderChunksJSON(&Document{})
	require.NoError(t, err)
	assert.Equal(t, "null", string(data))
}
