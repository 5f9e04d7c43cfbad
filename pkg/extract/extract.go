package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ledongthuc/pdf"
	"github.com/yuin/goldmark"

	"github.com/askdoc/askdoc/internal/models"
)

// AllowedTypes lists the file extensions the extractor understands.
var AllowedTypes = []string{".pdf", ".md", ".html", ".txt"}

var (
	blankLines = regexp.MustCompile(`\n\s*\n`)
	spaceRuns  = regexp.MustCompile(` +`)
)

type Extractor struct{}

func New() *Extractor {
	return &Extractor{}
}

// ExtractFile turns a source file into cleaned plain text. For PDFs the text
// carries "--- Page N ---" boundary markers and the returned page list holds
// each page's own text for later page attribution; other formats return a
// nil page list.
func (e *Extractor) ExtractFile(path string) (string, []models.PageText, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return e.extractPDF(path)
	case ".md":
		text, err := e.extractMarkdown(path)
		return text, nil, err
	case ".html", ".htm":
		text, err := e.extractHTML(path)
		return text, nil, err
	case ".txt":
		text, err := e.extractText(path)
		return text, nil, err
	default:
		return "", nil, fmt.Errorf("unsupported file type %q, allowed types: %s",
			filepath.Ext(path), strings.Join(AllowedTypes, ", "))
	}
}

func (e *Extractor) extractPDF(path string) (string, []models.PageText, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open pdf: %v", err)
	}
	defer f.Close()

	var full strings.Builder
	var pages []models.PageText
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return "", nil, fmt.Errorf("failed to extract page %d: %v", i, err)
		}
		text = CleanText(text)
		if text == "" {
			continue
		}
		pages = append(pages, models.PageText{Page: i, Text: text})
		fmt.Fprintf(&full, "\n\n--- Page %d ---\n\n%s", i, text)
	}

	return strings.TrimSpace(full.String()), pages, nil
}

func (e *Extractor) extractMarkdown(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}

	// Render to HTML first so structure survives, then strip to text.
	var buf bytes.Buffer
	if err := goldmark.Convert(data, &buf); err != nil {
		return "", fmt.Errorf("failed to render markdown: %v", err)
	}
	return htmlToText(&buf)
}

func (e *Extractor) extractHTML(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	defer f.Close()
	return htmlToText(f)
}

func (e *Extractor) extractText(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %v", err)
	}
	return CleanText(string(data)), nil
}

func htmlToText(r io.Reader) (string, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", fmt.Errorf("failed to parse html: %v", err)
	}
	doc.Find("script, style").Remove()
	return CleanText(doc.Text()), nil
}

// CleanText collapses space runs and blank-line runs and trims the result.
func CleanText(text string) string {
	text = blankLines.ReplaceAllString(text, "\n\n")
	text = spaceRuns.ReplaceAllString(text, " ")
	return strings.TrimSpace(text)
}
