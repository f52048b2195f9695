package notify

import (
	"fmt"
	"html"
	"strings"

	"pricewatch/internal/catalog"
)

// FormatHTML renders the announcement text for HTML-capable channels.
func FormatHTML(item catalog.Item) string {
	title := item.Title
	if strings.TrimSpace(title) == "" {
		title = "Unnamed Product"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "<b>%s</b>\n", html.EscapeString(title))
	if item.CurrentPrice.Known {
		fmt.Fprintf(&b, "Current Price: %.2f\n", item.CurrentPrice.Value)
	}
	if item.LowestPrice.Known {
		fmt.Fprintf(&b, "Lowest Price: %.2f\n", item.LowestPrice.Value)
	}
	if strings.TrimSpace(item.AffiliateURL) != "" {
		fmt.Fprintf(&b, "<a href=\"%s\">Buy Now</a>", html.EscapeString(item.AffiliateURL))
	}
	return strings.TrimRight(b.String(), "\n")
}
