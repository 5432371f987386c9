// Package convert wraps pdfcpu to produce the structured document the
// Convert stage needs (page count, per-page text) and that the Export
// stage later rehydrates from the canonical docling_json artifact.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// EngineVersion is recorded on every IngestionJob that completes a convert
// stage, so callers can tell which library version produced an artifact.
const EngineVersion = "pdfcpu/docrefinery-convert-1"

// ErrTooManyPages is returned when the document exceeds the caller's
// max_num_pages option; the convert stage maps this to
// FAILED/DOCLING_CONVERT_FAILED.
var ErrTooManyPages = errors.New("convert: page count exceeds configured maximum")

// Page is one page's extracted text.
type Page struct {
	Number int    `json:"number"`
	Text   string `json:"text"`
}

// Document is the structured result of a convert stage, and the shape
// serialized into the docling_json artifact.
type Document struct {
	Title         string `json:"title"`
	PageCount     int    `json:"page_count"`
	EngineVersion string `json:"engine_version"`
	Pages         []Page `json:"pages"`
}

// FullText concatenates every page's text in order.
func (d *Document) FullText() string {
	var sb strings.Builder
	for i, p := range d.Pages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(p.Text)
	}
	return sb.String()
}

// Converter turns a PDF file into a Document.
type Converter interface {
	Convert(ctx context.Context, path string, maxPages int) (*Document, error)
}

// PDFCPUConverter is the production Converter.
type PDFCPUConverter struct{}

// Convert reads and validates path with pdfcpu, rejects it if it exceeds
// maxPages (a caller value of 0 means unbounded), and extracts per-page
// text via pdfcpu's content-stream API.
func (PDFCPUConverter) Convert(ctx context.Context, path string, maxPages int) (*Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("convert: open: %w", err)
	}
	defer f.Close()

	conf := model.NewDefaultConfiguration()
	pdfCtx, err := api.ReadValidateAndOptimize(f, conf)
	if err != nil {
		return nil, fmt.Errorf("convert: read pdf: %w", err)
	}

	if maxPages > 0 && pdfCtx.PageCount > maxPages {
		return nil, ErrTooManyPages
	}

	doc := &Document{
		PageCount:     pdfCtx.PageCount,
		EngineVersion: EngineVersion,
	}

	for pageNr := 1; pageNr <= pdfCtx.PageCount; pageNr++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		text := extractPageText(pdfCtx, pageNr)
		if doc.Title == "" {
			doc.Title = firstLine(text)
		}
		doc.Pages = append(doc.Pages, Page{Number: pageNr, Text: text})
	}

	return doc, nil
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > 200 {
			line = line[:200]
		}
		return line
	}
	return ""
}

func extractPageText(ctx *model.Context, pageNr int) string {
	r, err := pdfcpu.ExtractPageContent(ctx, pageNr)
	if err != nil {
		return ""
	}
	data, err := io.ReadAll(r)
	if err != nil || len(data) == 0 {
		return ""
	}
	return extractTextFromStream(data)
}

var pdfStringRe = regexp.MustCompile(`\(([^)]*)\)`)

// extractTextFromStream does a best-effort scan of a content stream's
// text-showing operators (Tj/TJ/', with Td/TD/T* driving line breaks).
// It is not a full PDF content-stream interpreter — good enough for the
// page-text artifacts this pipeline produces, not a replacement for a
// rendering engine.
func extractTextFromStream(data []byte) string {
	var sb strings.Builder

	for _, line := range bytes.Split(data, []byte{'\n'}) {
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		switch {
		case bytes.HasSuffix(line, []byte("Tj")), bytes.HasSuffix(line, []byte("TJ")):
			writeMatches(&sb, line, false)
		case bytes.HasSuffix(line, []byte("'")) && bytes.Contains(line, []byte("(")):
			writeMatches(&sb, line, true)
		case bytes.HasSuffix(line, []byte("Td")), bytes.HasSuffix(line, []byte("TD")):
			if sb.Len() > 0 {
				sb.WriteByte(' ')
			}
		case bytes.Equal(line, []byte("T*")):
			sb.WriteByte('\n')
		}
	}

	return cleanText(sb.String())
}

func writeMatches(sb *strings.Builder, line []byte, leadingNewline bool) {
	for i, m := range pdfStringRe.FindAllSubmatch(line, -1) {
		text := decodePDFString(m[1])
		if text == "" {
			continue
		}
		if leadingNewline && i == 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(text)
	}
}

func decodePDFString(raw []byte) string {
	var sb strings.Builder
	for i := 0; i < len(raw); i++ {
		if raw[i] != '\\' || i+1 >= len(raw) {
			sb.WriteByte(raw[i])
			continue
		}
		i++
		switch raw[i] {
		case 'n':
			sb.WriteByte('\n')
		case 'r':
			sb.WriteByte('\r')
		case 't':
			sb.WriteByte('\t')
		case '\\', '(', ')':
			sb.WriteByte(raw[i])
		default:
			if raw[i] >= '0' && raw[i] <= '7' {
				val := int(raw[i] - '0')
				for j := 0; j < 2 && i+1 < len(raw) && raw[i+1] >= '0' && raw[i+1] <= '7'; j++ {
					i++
					val = val*8 + int(raw[i]-'0')
				}
				sb.WriteByte(byte(val))
			} else {
				sb.WriteByte(raw[i])
			}
		}
	}
	return sb.String()
}

func cleanText(text string) string {
	var sb strings.Builder
	prevSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !prevSpace && sb.Len() > 0 {
				sb.WriteByte(' ')
				prevSpace = true
			}
			continue
		}
		if unicode.IsPrint(r) {
			sb.WriteRune(r)
			prevSpace = false
		}
	}
	return strings.TrimSpace(sb.String())
}
