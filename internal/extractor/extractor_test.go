package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hotel-crawler/hotelspider/internal/config"
	"github.com/hotel-crawler/hotelspider/internal/page"
)

const listingHTML = `<!DOCTYPE html>
<html>
<head><title>Alpha Hotel</title></head>
<body>
	<div class="hp__hotel-title"><h2>  Alpha Hotel &amp; Spa </h2></div>
	<div class="hotel_description_review_display">
		A quiet beachfront stay.
	</div>
	<div class="bui-carousel__inner">
		<a href="beta.html">Beta</a>
		<a href="/hotel/ug/gamma.html">Gamma</a>
		<a href="https://other.example/hotel/tz/delta.html">Delta</a>
		<a href="beta.html">Beta again</a>
		<a>no href</a>
	</div>
	<a href="/outside/selector.html">not picked up</a>
</body>
</html>`

func testExtractor() *Extractor {
	return New(config.Default().Extraction)
}

func TestExtractListing(t *testing.T) {
	record, links := testExtractor().Extract(&page.Page{
		URL:      "https://site.example/hotel/ke/alpha.en-gb.html",
		FinalURL: "https://site.example/hotel/ke/alpha.en-gb.html",
		HTML:     listingHTML,
	})

	listing, ok := record.(*Listing)
	require.True(t, ok, "record should be a *Listing")
	assert.Equal(t, "https://site.example/hotel/ke/alpha.en-gb.html", listing.URL)
	assert.Equal(t, "Alpha Hotel & Spa", listing.Title)
	assert.Equal(t, "A quiet beachfront stay.", listing.Summary)
	assert.False(t, listing.FetchedAt.IsZero())

	// Relative links resolved against the final address, duplicates dropped,
	// anchors outside the link selector ignored.
	assert.Equal(t, []string{
		"https://site.example/hotel/ke/beta.html",
		"https://site.example/hotel/ug/gamma.html",
		"https://other.example/hotel/tz/delta.html",
	}, links)
}

func TestExtractNoListingStillYieldsLinks(t *testing.T) {
	html := `<html><body>
		<div class="bui-carousel__inner"><a href="/hotel/ke/beta.html">Beta</a></div>
	</body></html>`

	record, links := testExtractor().Extract(&page.Page{
		URL:  "https://site.example/hotel/ke/alpha.en-gb.html",
		HTML: html,
	})

	assert.Nil(t, record)
	assert.Equal(t, []string{"https://site.example/hotel/ke/beta.html"}, links)
}

func TestExtractResolvesAgainstFinalURL(t *testing.T) {
	html := `<html><body>
		<div class="hp__hotel-title"><h2>Alpha</h2></div>
		<div class="bui-carousel__inner"><a href="beta.html">Beta</a></div>
	</body></html>`

	_, links := testExtractor().Extract(&page.Page{
		URL:      "https://site.example/hotel/ke/alpha.en-gb.html",
		FinalURL: "https://site.example/moved/alpha.en-gb.html",
		HTML:     html,
	})

	assert.Equal(t, []string{"https://site.example/moved/beta.html"}, links)
}

func TestExtractEmptyPage(t *testing.T) {
	record, links := testExtractor().Extract(&page.Page{
		URL:  "https://site.example/hotel/ke/alpha.en-gb.html",
		HTML: "",
	})

	assert.Nil(t, record)
	assert.Empty(t, links)
}
