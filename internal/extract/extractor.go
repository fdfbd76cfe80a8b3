// Package extract pulls product fields out of page HTML using JSON-LD,
// OpenGraph/product meta tags, and schema.org microdata, in that order of
// precedence.
package extract

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// Extractor implements scraper.Extractor with goquery.
type Extractor struct {
	originalPriceSelectors []string
}

// New returns an Extractor with the default selector set.
func New() *Extractor {
	return &Extractor{
		originalPriceSelectors: []string{
			"[itemprop='highPrice']",
			"[data-testid='price-original']",
			".price-old",
			".old-price",
			".original-price",
			".price__old",
			"del",
			"s.price",
		},
	}
}

// Extract parses html and returns the product fields found. It returns
// scraper.ErrPriceNotFound, together with whatever fields were found, when
// neither a current nor an original price is present.
func (e *Extractor) Extract(ctx context.Context, pageURL string, html string) (scraper.ProductFields, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extract canceled: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	fields := scraper.ProductFields{}
	for _, node := range jsonLDProducts(doc) {
		applyJSONLD(fields, node)
	}
	applyMeta(fields, doc)
	applyMicrodata(fields, doc)
	e.applyHeuristics(fields, doc)

	if host := hostOf(pageURL); host != "" {
		fields.SetIfMissing(scraper.FieldMarketplaceWebsite, host)
	}
	normalizePrices(fields)
	fields.DeriveDiscount()

	if !fields.HasPrice() {
		return fields, scraper.ErrPriceNotFound
	}
	return fields, nil
}

func applyMeta(fields scraper.ProductFields, doc *goquery.Document) {
	meta := func(keys ...string) string {
		for _, k := range keys {
			sel := fmt.Sprintf("meta[property='%s'], meta[name='%s']", k, k)
			if v, ok := doc.Find(sel).First().Attr("content"); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return ""
	}
	fields.SetIfMissing(scraper.FieldProductTitle, meta("og:title", "twitter:title"))
	fields.SetIfMissing(scraper.FieldImageURL, meta("og:image", "twitter:image"))
	fields.SetIfMissing(scraper.FieldCurrentPrice, meta("product:price:amount", "og:price:amount", "product:sale_price:amount"))
	fields.SetIfMissing(scraper.FieldOriginalPrice, meta("product:original_price:amount"))
	fields.SetIfMissing(scraper.FieldCurrency, meta("product:price:currency", "og:price:currency"))
	fields.SetIfMissing(scraper.FieldAvailability, normalizeAvailability(meta("product:availability", "og:availability")))
	fields.SetIfMissing(scraper.FieldBrand, meta("product:brand", "og:brand"))
	fields.SetIfMissing(scraper.FieldSKU, meta("product:retailer_item_id"))
	fields.SetIfMissing(scraper.FieldMarketplaceWebsite, meta("og:site_name"))
}

func applyMicrodata(fields scraper.ProductFields, doc *goquery.Document) {
	prop := func(name string) string {
		s := doc.Find(fmt.Sprintf("[itemprop='%s']", name)).First()
		if s.Length() == 0 {
			return ""
		}
		for _, attr := range []string{"content", "href", "src"} {
			if v, ok := s.Attr(attr); ok && strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
		return collapse(s.Text())
	}
	scope := doc.Find("[itemtype*='schema.org/Product']").First()
	if scope.Length() > 0 {
		if name := scope.Find("[itemprop='name']").First(); name.Length() > 0 {
			fields.SetIfMissing(scraper.FieldProductTitle, collapse(name.Text()))
		}
	}
	fields.SetIfMissing(scraper.FieldCurrentPrice, prop("price"))
	fields.SetIfMissing(scraper.FieldCurrency, prop("priceCurrency"))
	fields.SetIfMissing(scraper.FieldAvailability, normalizeAvailability(prop("availability")))
	fields.SetIfMissing(scraper.FieldBrand, prop("brand"))
	fields.SetIfMissing(scraper.FieldSKU, prop("sku"))
	fields.SetIfMissing(scraper.FieldEAN, prop("gtin13"))
	fields.SetIfMissing(scraper.FieldReviewScore, prop("ratingValue"))
}

func (e *Extractor) applyHeuristics(fields scraper.ProductFields, doc *goquery.Document) {
	if _, ok := fields[scraper.FieldOriginalPrice]; !ok {
		for _, sel := range e.originalPriceSelectors {
			text := collapse(doc.Find(sel).First().Text())
			if _, err := scraper.ParsePrice(text); err == nil {
				fields[scraper.FieldOriginalPrice] = text
				break
			}
		}
	}
	if _, ok := fields[scraper.FieldProductTitle]; !ok {
		if h1 := collapse(doc.Find("h1").First().Text()); h1 != "" {
			fields[scraper.FieldProductTitle] = h1
		} else {
			fields.Set(scraper.FieldProductTitle, collapse(doc.Find("title").First().Text()))
		}
	}
}

// normalizePrices converts parseable price strings into numbers.
func normalizePrices(fields scraper.ProductFields) {
	for _, key := range []string{scraper.FieldCurrentPrice, scraper.FieldOriginalPrice, scraper.FieldShippingCost} {
		raw, ok := fields[key].(string)
		if !ok {
			continue
		}
		if v, err := scraper.ParsePrice(raw); err == nil {
			fields[key] = v
		}
	}
}

func normalizeAvailability(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if idx := strings.LastIndex(v, "/"); idx >= 0 && idx < len(v)-1 {
		v = v[idx+1:]
	}
	switch strings.ToLower(strings.ReplaceAll(v, " ", "")) {
	case "instock", "in_stock":
		return "InStock"
	case "outofstock", "out_of_stock", "oos":
		return "OutOfStock"
	case "preorder", "pre_order":
		return "PreOrder"
	default:
		return v
	}
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

var _ scraper.Extractor = (*Extractor)(nil)
