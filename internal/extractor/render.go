package extractor

import (
	"bytes"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// RenderDetector decides whether an HTTP-fetched page is a JavaScript shell
// that needs a browser driver to render the real content.
type RenderDetector struct {
	minBodyBytes int
}

// NewRenderDetector builds a detector; threshold <= 0 uses 2048 bytes.
func NewRenderDetector(minBodyBytes int) *RenderDetector {
	if minBodyBytes <= 0 {
		minBodyBytes = 2048
	}
	return &RenderDetector{minBodyBytes: minBodyBytes}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
	[]byte("window.__NUXT__"),
}

// NeedsRender reports true when the page shows signs of client-side
// rendering: an empty or tiny body, a known SPA mount point, or the
// source's item selector matching nothing.
func (d *RenderDetector) NeedsRender(page harvest.Page, selectors harvest.Selectors) bool {
	if page.StatusCode != 200 {
		return false
	}
	if len(page.Body) == 0 || len(page.Body) < d.minBodyBytes {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(page.Body, marker) {
			return true
		}
	}
	if selectors.Item == "" {
		return false
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return true
	}
	return doc.Find(selectors.Item).Length() == 0
}
