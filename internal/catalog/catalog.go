package catalog

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// StyleType identifies an artwork style
type StyleType string

const (
	StyleMetal      StyleType = "METAL"
	StylePopArt     StyleType = "POP_ART"
	StyleWatercolor StyleType = "WATERCOLOR"
)

// DefaultStyle is used when a submission names no style
const DefaultStyle = StyleMetal

// Style describes an artwork style offered to users
type Style struct {
	ID          StyleType `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	Prompt      string    `json:"prompt"`
}

// Product is a merch item a design can be printed on
type Product struct {
	Type     string          `json:"type"`
	Name     string          `json:"name"`
	Category string          `json:"category"`
	Price    decimal.Decimal `json:"price"`
	Sizes    []string        `json:"sizes"`
	Colors   []string        `json:"colors"`
}

var styles = []Style{
	{
		ID:          StyleMetal,
		Name:        "Metal Band",
		Description: "Heavy metal inspired design with vintage distressed look",
		Prompt:      "vintage metal band t-shirt graphic, high-contrast, distressed texture",
	},
	{
		ID:          StylePopArt,
		Name:        "Pop Art",
		Description: "Bright, colorful pop art style with comic book aesthetic",
		Prompt:      "pop art style, bright colors, comic book aesthetic, halftone dots",
	},
	{
		ID:          StyleWatercolor,
		Name:        "Watercolor",
		Description: "Soft, artistic watercolor painting style",
		Prompt:      "watercolor painting style, soft brush strokes, artistic, pastel colors",
	},
}

var products = []Product{
	{
		Type:     "tee",
		Name:     "Custom Pet T-Shirt",
		Category: "apparel",
		Price:    decimal.RequireFromString("25.99"),
		Sizes:    []string{"S", "M", "L", "XL", "XXL"},
		Colors:   []string{"White", "Black", "Navy", "Gray", "Red"},
	},
	{
		Type:     "hoodie",
		Name:     "Premium Pet Hoodie",
		Category: "apparel",
		Price:    decimal.RequireFromString("45.99"),
		Sizes:    []string{"S", "M", "L", "XL", "XXL"},
		Colors:   []string{"Black", "Navy", "Gray", "Maroon"},
	},
	{
		Type:     "mug",
		Name:     "Ceramic Pet Mug",
		Category: "drinkware",
		Price:    decimal.RequireFromString("15.99"),
		Sizes:    []string{"11oz", "15oz"},
		Colors:   []string{"White", "Black"},
	},
	{
		Type:     "tote",
		Name:     "Canvas Pet Tote Bag",
		Category: "accessories",
		Price:    decimal.RequireFromString("18.99"),
		Sizes:    []string{"Standard"},
		Colors:   []string{"Natural", "Black", "Navy"},
	},
	{
		Type:     "case",
		Name:     "Pet Phone Case",
		Category: "accessories",
		Price:    decimal.RequireFromString("22.99"),
		Sizes:    []string{"iPhone 14", "iPhone 15", "Samsung Galaxy S23", "Samsung Galaxy S24"},
		Colors:   []string{"Clear", "Black", "White"},
	},
	{
		Type:     "poster",
		Name:     "Pet Art Poster",
		Category: "wall-art",
		Price:    decimal.RequireFromString("12.99"),
		Sizes:    []string{"8x10", "11x14", "16x20", "18x24"},
		Colors:   []string{"Full Color"},
	},
}

// fallbackProduct prices product types the catalog does not know
var fallbackProduct = Product{
	Name:     "Custom Product",
	Category: "other",
	Price:    decimal.RequireFromString("19.99"),
}

// Styles returns all offered styles
func Styles() []Style {
	out := make([]Style, len(styles))
	copy(out, styles)
	return out
}

// LookupStyle finds a style by id
func LookupStyle(id string) (Style, bool) {
	for _, s := range styles {
		if string(s.ID) == id {
			return s, true
		}
	}
	return Style{}, false
}

// Products returns the product catalog
func Products() []Product {
	out := make([]Product, len(products))
	copy(out, products)
	return out
}

// ProductTypes returns the product type keys in catalog order
func ProductTypes() []string {
	types := make([]string, len(products))
	for i, p := range products {
		types[i] = p.Type
	}
	return types
}

// LookupProduct finds a product by type
func LookupProduct(productType string) (Product, bool) {
	for _, p := range products {
		if p.Type == productType {
			return p, true
		}
	}
	return Product{}, false
}

// ProductFor returns the product for a type, or the fallback product carrying that type
func ProductFor(productType string) Product {
	if p, ok := LookupProduct(productType); ok {
		return p
	}
	p := fallbackProduct
	p.Type = productType
	return p
}

// MockupID is the stable id of a design's mockup for a product type
func MockupID(designID, productType string) string {
	return fmt.Sprintf("mockup-%s-%s", designID, productType)
}

// GeneratedImageID is the id of the n-th generated image of a design
func GeneratedImageID(designID string, n int) string {
	return fmt.Sprintf("gen-%s-%d", designID, n)
}

// AllowsOption reports whether value is empty or one of options
func AllowsOption(options []string, value string) bool {
	if value == "" || len(options) == 0 {
		return true
	}
	for _, o := range options {
		if o == value {
			return true
		}
	}
	return false
}
