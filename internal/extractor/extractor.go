// Package extractor derives business records (title, description, email,
// postal address) from fetched page content.
package extractor

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/siteharvest/harvester/internal/harvest"
)

var (
	emailPattern = regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`)

	// Street-style addresses, English suffixes then Spanish prefixes.
	addressPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\d+\s+[A-Za-z\s]+(?:Street|St|Avenue|Ave|Road|Rd|Boulevard|Blvd|Lane|Ln|Drive|Dr|Court|Ct|Place|Pl|Terrace|Ter)[\s,]+[A-Za-z\s]+(?:,\s*[A-Z]{2})?\s*\d{5}(?:-\d{4})?`),
		regexp.MustCompile(`(?i)(?:calle|av\.|avenida|carrera|autopista|paseo)\s+[A-Za-z0-9\s]+(?:,\s*[A-Za-z\s]+)?(?:,\s*[A-Za-z\s]+)?`),
	}

	// Containers that commonly hold contact details.
	addressSelectors = []string{
		".address", "#address", `[itemprop="address"]`, ".contact-info", ".location", ".footer",
	}

	// Local parts that indicate a template placeholder, not a real inbox.
	emailPlaceholders = []string{"example", "user", "domain"}
)

const (
	minAddressLen = 5
	maxAddressLen = 200
)

// Extractor implements harvest.Extractor over HTML content.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract parses body and pulls the record fields. Missing fields come
// back empty; only unparseable content is an error.
func (e *Extractor) Extract(url string, body []byte) (harvest.Record, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return harvest.Record{}, fmt.Errorf("parse html for %s: %w", url, err)
	}

	return harvest.Record{
		Title:       strings.TrimSpace(doc.Find("title").First().Text()),
		Description: description(doc),
		Email:       email(doc, body),
		Address:     address(doc, body),
	}, nil
}

func description(doc *goquery.Document) string {
	if content, ok := doc.Find(`meta[name="description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	if content, ok := doc.Find(`meta[property="og:description"]`).First().Attr("content"); ok {
		return strings.TrimSpace(content)
	}
	return ""
}

// email returns the first plausible address found in mailto links or the
// raw markup, skipping template placeholders.
func email(doc *goquery.Document, body []byte) string {
	var candidates []string

	doc.Find(`a[href^="mailto:"]`).Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		addr := strings.TrimPrefix(href, "mailto:")
		if i := strings.IndexByte(addr, '?'); i >= 0 {
			addr = addr[:i]
		}
		candidates = append(candidates, strings.TrimSpace(addr))
	})
	candidates = append(candidates, emailPattern.FindAllString(string(body), -1)...)

	for _, c := range candidates {
		if validEmail(c) {
			return c
		}
	}
	return ""
}

func validEmail(addr string) bool {
	if !emailPattern.MatchString(addr) {
		return false
	}
	at := strings.IndexByte(addr, '@')
	if at < 0 || !strings.Contains(addr[at+1:], ".") {
		return false
	}
	lower := strings.ToLower(addr)
	for _, placeholder := range emailPlaceholders {
		if strings.Contains(lower, placeholder) {
			return false
		}
	}
	return true
}

// address collects candidates from the contact containers first, falling
// back to pattern matches over the whole page, and keeps the longest one
// within the plausible length bounds.
func address(doc *goquery.Document, body []byte) string {
	var candidates []string

	for _, selector := range addressSelectors {
		doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
			text := strings.Join(strings.Fields(sel.Text()), " ")
			if len(text) > minAddressLen && len(text) < maxAddressLen {
				candidates = append(candidates, text)
			}
		})
	}

	if len(candidates) == 0 {
		content := string(body)
		for _, pattern := range addressPatterns {
			for _, match := range pattern.FindAllString(content, -1) {
				text := strings.TrimSpace(match)
				if len(text) > minAddressLen && len(text) < maxAddressLen {
					candidates = append(candidates, text)
				}
			}
		}
	}

	if len(candidates) == 0 {
		return ""
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return len(candidates[i]) > len(candidates[j])
	})
	return candidates[0]
}
