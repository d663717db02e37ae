// Package urlutil provides address canonicalization for the crawl frontier.
package urlutil

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"

	whatwgURL "github.com/nlnwa/whatwg-url/url"
)

var (
	// ErrNotDocumentPage is returned for addresses whose path does not end
	// with the configured page suffix.
	ErrNotDocumentPage = errors.New("address is not a document page")

	// ErrUnsupportedScheme is returned for non-HTTP(S) addresses.
	ErrUnsupportedScheme = errors.New("unsupported scheme")
)

var urlParser = whatwgURL.NewParser(whatwgURL.WithPercentEncodeSinglePercentSign())

// localeSegment matches a trailing locale path segment such as "en-gb" or "de".
var localeSegment = regexp.MustCompile(`^[a-z]{2}(-[a-z]{2})?$`)

// Address is a raw link together with its canonical, deduplication-stable form.
type Address struct {
	// Raw is the link as discovered.
	Raw string

	// Canonical is the normalized form used for dedup and visit tracking.
	Canonical string

	// Scheme and Host are the lowercased scheme and host of the canonical form.
	Scheme string
	Host   string
}

// Domain returns the scheme+host portion, the unit of rate limiting and
// robots caching.
func (a *Address) Domain() string {
	return a.Scheme + "://" + a.Host
}

// Canonicalizer normalizes raw links into stable, comparable addresses.
// It is pure and safe for concurrent use.
type Canonicalizer struct {
	pageSuffix string
	locale     string
}

// NewCanonicalizer creates a canonicalizer for the given document page
// suffix (e.g. ".html") and canonical locale segment (e.g. "en-gb").
func NewCanonicalizer(pageSuffix, locale string) *Canonicalizer {
	return &Canonicalizer{
		pageSuffix: pageSuffix,
		locale:     strings.ToLower(locale),
	}
}

// Canonicalize normalizes a raw link. The canonical form has a lowercased
// scheme and host, no query string, no fragment, and a path that ends with
// the canonical locale segment followed by the page suffix. Links whose path
// does not end with the page suffix are rejected.
//
// Canonicalize is idempotent: feeding a canonical address back in yields the
// same canonical address.
func (c *Canonicalizer) Canonicalize(raw string) (*Address, error) {
	parsed, err := urlParser.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}

	u, err := url.Parse(parsed.Href(true))
	if err != nil {
		return nil, fmt.Errorf("parse %q: %w", raw, err)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, u.Scheme)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return nil, fmt.Errorf("parse %q: missing host", raw)
	}

	path, err := c.canonicalPath(u.Path)
	if err != nil {
		return nil, err
	}

	return &Address{
		Raw:       raw,
		Canonical: scheme + "://" + host + path,
		Scheme:    scheme,
		Host:      host,
	}, nil
}

// canonicalPath enforces the page suffix and the canonical locale segment.
// "/hotel/ke/alpha.html" and "/hotel/ke/alpha.de.html" both canonicalize to
// "/hotel/ke/alpha.<locale>.html".
func (c *Canonicalizer) canonicalPath(path string) (string, error) {
	if !strings.HasSuffix(path, c.pageSuffix) {
		return "", fmt.Errorf("%w: %q", ErrNotDocumentPage, path)
	}

	stem := strings.TrimSuffix(path, c.pageSuffix)
	if stem == "" || strings.HasSuffix(stem, "/") {
		return "", fmt.Errorf("%w: %q", ErrNotDocumentPage, path)
	}

	// Strip an existing locale segment so differently-localized links to the
	// same page collapse to one canonical address.
	if idx := strings.LastIndex(stem, "."); idx > strings.LastIndex(stem, "/") {
		if localeSegment.MatchString(strings.ToLower(stem[idx+1:])) {
			stem = stem[:idx]
		}
	}

	return stem + "." + c.locale + c.pageSuffix, nil
}

// ResolveRef resolves a possibly relative link against a base address.
func ResolveRef(base, ref string) (string, error) {
	u, err := urlParser.ParseRef(base, ref)
	if err != nil {
		return "", fmt.Errorf("resolve %q against %q: %w", ref, base, err)
	}
	return u.Href(true), nil
}
