// Package extractor parses fetched pages into raw question candidates.
// Each source is one Extractor implementation registered by source id.
package extractor

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/quizforge/question-harvester/internal/harvest"
)

// SelectorExtractor extracts questions using the CSS selector map from a
// source's configuration. It covers every selector-addressable site; sources
// with bespoke markup provide their own harvest.Extractor.
type SelectorExtractor struct {
	source harvest.SourceConfig
}

// NewSelector builds an extractor for one source.
func NewSelector(source harvest.SourceConfig) *SelectorExtractor {
	return &SelectorExtractor{source: source}
}

// Extract parses the page body. A page with zero question nodes is an
// ordinary outcome, not an error; only unparsable HTML fails.
func (e *SelectorExtractor) Extract(page harvest.Page, target harvest.Target) (harvest.ExtractResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return harvest.ExtractResult{}, harvest.Wrap(harvest.CodeExtractionFailed, err, "parse page")
	}

	sel := e.source.Selectors
	var result harvest.ExtractResult
	doc.Find(sel.Item).Each(func(_ int, node *goquery.Selection) {
		item := e.extractItem(node, page, target)
		if item.Question == "" {
			return
		}
		result.Items = append(result.Items, item)
	})

	if sel.NextPage != "" {
		next := doc.Find(sel.NextPage).First()
		if next.Length() > 0 {
			result.HasNextPage = true
			if href, ok := next.Attr("href"); ok {
				result.NextURL = resolveURL(e.source.BaseURL, href)
			}
		}
	}
	return result, nil
}

func (e *SelectorExtractor) extractItem(
	node *goquery.Selection,
	page harvest.Page,
	target harvest.Target,
) harvest.RawItem {
	sel := e.source.Selectors

	var options []string
	node.Find(sel.Options).Each(func(_ int, opt *goquery.Selection) {
		if text := cleanText(opt.Text()); text != "" {
			options = append(options, text)
		}
	})

	item := harvest.RawItem{
		SourceID:    e.source.ID,
		URL:         page.URL,
		Category:    target.Category,
		Question:    cleanText(node.Find(sel.Question).First().Text()),
		Options:     options,
		Answer:      cleanText(node.Find(sel.Answer).First().Text()),
		Explanation: cleanText(node.Find(sel.Explanation).First().Text()),
		Method:      page.Method,
	}
	item.Confidence = confidence(item)
	return item
}

// confidence is the fraction of expected fields the node actually yielded.
func confidence(item harvest.RawItem) float64 {
	var present, total float64
	for _, ok := range []bool{
		item.Question != "",
		len(item.Options) >= 2,
		item.Answer != "",
		item.Explanation != "",
	} {
		total++
		if ok {
			present++
		}
	}
	return present / total
}

func cleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func resolveURL(base, href string) string {
	if href == "" || strings.Contains(href, "://") {
		return href
	}
	if strings.HasPrefix(href, "/") {
		return strings.TrimRight(base, "/") + href
	}
	return fmt.Sprintf("%s/%s", strings.TrimRight(base, "/"), href)
}
