package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

// jsonLDProducts returns every JSON-LD node typed Product, searching
// top-level arrays and @graph containers.
func jsonLDProducts(doc *goquery.Document) []map[string]any {
	var out []map[string]any
	doc.Find("script[type='application/ld+json']").Each(func(_ int, s *goquery.Selection) {
		var raw any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s.Text())), &raw); err != nil {
			return
		}
		out = append(out, collectProducts(raw)...)
	})
	return out
}

func collectProducts(v any) []map[string]any {
	switch t := v.(type) {
	case []any:
		var out []map[string]any
		for _, item := range t {
			out = append(out, collectProducts(item)...)
		}
		return out
	case map[string]any:
		if hasType(t, "Product") {
			return []map[string]any{t}
		}
		if graph, ok := t["@graph"]; ok {
			return collectProducts(graph)
		}
	}
	return nil
}

func hasType(node map[string]any, want string) bool {
	switch t := node["@type"].(type) {
	case string:
		return strings.EqualFold(t, want)
	case []any:
		for _, item := range t {
			if s, ok := item.(string); ok && strings.EqualFold(s, want) {
				return true
			}
		}
	}
	return false
}

func applyJSONLD(fields scraper.ProductFields, node map[string]any) {
	fields.SetIfMissing(scraper.FieldProductTitle, str(node["name"]))
	fields.SetIfMissing(scraper.FieldBrand, nameOf(node["brand"]))
	fields.SetIfMissing(scraper.FieldImageURL, firstURL(node["image"]))
	fields.SetIfMissing(scraper.FieldSKU, str(node["sku"]))
	for _, key := range []string{"gtin13", "gtin", "ean", "gtin14", "gtin12"} {
		fields.SetIfMissing(scraper.FieldEAN, str(node[key]))
	}
	if rating, ok := node["aggregateRating"].(map[string]any); ok {
		fields.SetIfMissing(scraper.FieldReviewScore, str(rating["ratingValue"]))
	}

	for _, offer := range offersOf(node["offers"]) {
		applyOffer(fields, offer)
	}
}

func applyOffer(fields scraper.ProductFields, offer map[string]any) {
	price := str(offer["price"])
	if price == "" {
		price = str(offer["lowPrice"])
	}
	fields.SetIfMissing(scraper.FieldCurrentPrice, price)
	fields.SetIfMissing(scraper.FieldCurrency, str(offer["priceCurrency"]))
	if high := str(offer["highPrice"]); high != "" && high != price {
		fields.SetIfMissing(scraper.FieldOriginalPrice, high)
	}
	fields.SetIfMissing(scraper.FieldAvailability, normalizeAvailability(str(offer["availability"])))
	fields.SetIfMissing(scraper.FieldSeller, nameOf(offer["seller"]))
	fields.SetIfMissing(scraper.FieldStockQuantity, str(offer["inventoryLevel"]))

	for _, spec := range listOf(offer["priceSpecification"]) {
		kind := strings.ToLower(str(spec["priceType"]))
		if strings.Contains(kind, "strikethrough") || strings.Contains(kind, "listprice") {
			fields.SetIfMissing(scraper.FieldOriginalPrice, str(spec["price"]))
		}
	}
	if ship, ok := offer["shippingDetails"].(map[string]any); ok {
		if rate, ok := ship["shippingRate"].(map[string]any); ok {
			fields.SetIfMissing(scraper.FieldShippingCost, str(rate["value"]))
		}
		if delivery, ok := ship["deliveryTime"].(map[string]any); ok {
			fields.SetIfMissing(scraper.FieldDeliveryTime, describeDelivery(delivery))
		}
	}
}

func offersOf(v any) []map[string]any {
	offers := listOf(v)
	var out []map[string]any
	for _, o := range offers {
		if hasType(o, "AggregateOffer") {
			if nested := listOf(o["offers"]); len(nested) > 0 {
				out = append(out, o)
				out = append(out, nested...)
				continue
			}
		}
		out = append(out, o)
	}
	return out
}

func listOf(v any) []map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return []map[string]any{t}
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			if m, ok := item.(map[string]any); ok {
				out = append(out, m)
			}
		}
		return out
	}
	return nil
}

func describeDelivery(d map[string]any) string {
	transit, ok := d["transitTime"].(map[string]any)
	if !ok {
		return ""
	}
	lo, hi := str(transit["minValue"]), str(transit["maxValue"])
	switch {
	case lo != "" && hi != "":
		return fmt.Sprintf("%s-%s days", lo, hi)
	case hi != "":
		return hi + " days"
	default:
		return ""
	}
}

func nameOf(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		return str(t["name"])
	case []any:
		if len(t) > 0 {
			return nameOf(t[0])
		}
	}
	return ""
}

func firstURL(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case []any:
		if len(t) > 0 {
			return firstURL(t[0])
		}
	case map[string]any:
		if u := str(t["url"]); u != "" {
			return u
		}
		return str(t["contentUrl"])
	}
	return ""
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		if t {
			return "true"
		}
		return "false"
	}
	return ""
}
