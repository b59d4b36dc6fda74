package automation

import "strings"

// Product is one catalogue entry.
type Product struct {
	Name        string
	Description string
	PriceRange  string
	Categories  []string
}

// Catalogue is a small in-process product index used for inquiry replies.
type Catalogue struct {
	products []Product
}

func NewCatalogue() *Catalogue {
	return &Catalogue{products: []Product{
		{
			Name:        "Surgical Scissors",
			Description: "High-quality stainless steel surgical scissors",
			PriceRange:  "₹500-₹2000",
			Categories:  []string{"general surgery", "scissors"},
		},
		{
			Name:        "Surgical Forceps",
			Description: "Precision surgical forceps for various procedures",
			PriceRange:  "₹300-₹1500",
			Categories:  []string{"general surgery", "forceps"},
		},
		{
			Name:        "Surgical Scalpel",
			Description: "Sharp and precise surgical scalpels",
			PriceRange:  "₹100-₹500",
			Categories:  []string{"general surgery", "cutting"},
		},
	}}
}

// Search matches free text against the index. Whole inbound messages work as
// queries: a product matches when any word of its name or categories appears
// in the text, or the text appears in the name.
func (c *Catalogue) Search(query string) []Product {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}
	var out []Product
	for _, p := range c.products {
		if matchesQuery(p, q) {
			out = append(out, p)
		}
	}
	return out
}

func matchesQuery(p Product, q string) bool {
	name := strings.ToLower(p.Name)
	if strings.Contains(name, q) {
		return true
	}
	for _, w := range strings.Fields(name) {
		if strings.Contains(q, w) {
			return true
		}
	}
	for _, cat := range p.Categories {
		for _, w := range strings.Fields(cat) {
			if strings.Contains(q, w) {
				return true
			}
		}
	}
	return false
}

// inquiryReply formats the top catalogue hits into one message. At most three
// products are listed.
func inquiryReply(products []Product) string {
	if len(products) == 0 {
		return ""
	}
	if len(products) > 3 {
		products = products[:3]
	}
	var b strings.Builder
	b.WriteString("Here are some products that might interest you:\n\n")
	for _, p := range products {
		b.WriteString("• " + p.Name + ": " + p.Description + " (Price: " + p.PriceRange + ")\n")
	}
	b.WriteString("\nWould you like more details about any of these products?")
	return b.String()
}
