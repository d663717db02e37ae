// Package extractor pulls listing fields and outbound links out of rendered
// pages.
package extractor

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/html"

	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/page"
	"github.com/hotel-crawler/hotelspider/internal/urlutil"
)

// Listing is one extracted hotel listing record.
type Listing struct {
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Summary   string    `json:"summary"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Extractor applies a configured selector set to rendered pages. It is
// stateless and safe for concurrent use.
type Extractor struct {
	cfg config.ExtractionConfig
}

// New creates an extractor with the given selector set.
func New(cfg config.ExtractionConfig) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract returns the page's listing record (nil when the page carries no
// recognizable listing) and the raw outbound links discovered on it.
// Relative links are resolved against the page's final address.
func (e *Extractor) Extract(p *page.Page) (any, []string) {
	root, err := html.Parse(strings.NewReader(p.HTML))
	if err != nil {
		log.Warn().Str("url", p.URL).Err(err).Msg("unparseable markup")
		return nil, nil
	}
	doc := goquery.NewDocumentFromNode(root)

	base := p.FinalURL
	if base == "" {
		base = p.URL
	}

	var links []string
	seen := make(map[string]struct{})
	doc.Find(e.cfg.LinkSelector).Each(func(_ int, sel *goquery.Selection) {
		href, ok := sel.Attr("href")
		if !ok || href == "" {
			return
		}
		resolved, err := urlutil.ResolveRef(base, href)
		if err != nil {
			return
		}
		if _, dup := seen[resolved]; dup {
			return
		}
		seen[resolved] = struct{}{}
		links = append(links, resolved)
	})

	title := text(doc, e.cfg.TitleSelector)
	if title == "" {
		return nil, links
	}

	return &Listing{
		URL:       p.URL,
		Title:     title,
		Summary:   text(doc, e.cfg.SummarySelector),
		FetchedAt: time.Now(),
	}, links
}

func text(doc *goquery.Document, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(doc.Find(selector).First().Text())
}
