package scraper

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Product field keys as they appear in callback payloads.
const (
	FieldProductTitle        = "productTitle"
	FieldBrand               = "brand"
	FieldCurrentPrice        = "currentPrice"
	FieldOriginalPrice       = "originalPrice"
	FieldDiscountPercentage  = "discountPercentage"
	FieldCurrency            = "currency"
	FieldAvailability        = "availability"
	FieldImageURL            = "imageUrl"
	FieldSeller              = "seller"
	FieldShippingInfo        = "shippingInfo"
	FieldShippingCost        = "shippingCost"
	FieldDeliveryTime        = "deliveryTime"
	FieldReviewScore         = "review_score"
	FieldInstallmentOptions  = "installmentOptions"
	FieldKit                 = "kit"
	FieldUnitMeasurement     = "unitMeasurement"
	FieldOutOfStockReason    = "outOfStockReason"
	FieldMarketplaceWebsite  = "marketplaceWebsite"
	FieldSKU                 = "sku"
	FieldEAN                 = "ean"
	FieldStockQuantity       = "stockQuantity"
	FieldOtherPaymentMethods = "otherPaymentMethods"
	FieldPromotionDetails    = "promotionDetails"
)

// ProductFields is the structured product payload extracted from a page.
type ProductFields map[string]any

// HasPrice reports whether a current or original price is present.
func (f ProductFields) HasPrice() bool {
	return present(f[FieldCurrentPrice]) || present(f[FieldOriginalPrice])
}

// Set stores v under key unless v is empty.
func (f ProductFields) Set(key string, v any) {
	if present(v) {
		f[key] = v
	}
}

// SetIfMissing stores v under key only when the key has no value yet.
func (f ProductFields) SetIfMissing(key string, v any) {
	if present(f[key]) {
		return
	}
	f.Set(key, v)
}

// Float returns the numeric value stored at key.
func (f ProductFields) Float(key string) (float64, bool) {
	switch v := f[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		p, err := ParsePrice(v)
		return p, err == nil
	default:
		return 0, false
	}
}

// DeriveDiscount fills discountPercentage from the two prices when absent.
func (f ProductFields) DeriveDiscount() {
	if present(f[FieldDiscountPercentage]) {
		return
	}
	current, okC := f.Float(FieldCurrentPrice)
	original, okO := f.Float(FieldOriginalPrice)
	if !okC || !okO || original <= 0 || current >= original {
		return
	}
	pct := (original - current) / original * 100
	f[FieldDiscountPercentage] = math.Round(pct*100) / 100
}

// ParsePrice converts a display price such as "R$ 1.299,90" or "$1,299.90"
// into a float.
func ParsePrice(raw string) (float64, error) {
	s := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' || r == ',' {
			return r
		}
		return -1
	}, raw)
	if s == "" {
		return 0, fmt.Errorf("no digits in price %q", raw)
	}
	lastDot := strings.LastIndex(s, ".")
	lastComma := strings.LastIndex(s, ",")
	switch {
	case lastComma > lastDot:
		// comma is the decimal separator
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case lastDot > lastComma:
		s = strings.ReplaceAll(s, ",", "")
		if strings.Count(s, ".") > 1 {
			idx := strings.LastIndex(s, ".")
			s = strings.ReplaceAll(s[:idx], ".", "") + s[idx:]
		}
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", raw, err)
	}
	return v, nil
}

func present(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return true
	}
}
