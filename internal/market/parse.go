package market

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/market-relister/internal/types"
)

var (
	// listing fields appear in this order inside each item object
	itemPattern = regexp.MustCompile(`"id":(\d+),"price":(\d+),.*?"itemt":\{"id":(\d+).*?"name":"([^"]+)".*?"image":"([^"]+)"`)

	pricesPattern = regexp.MustCompile(`"prices":\[([^\]]*)\]`)
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// parseItems extracts every listing it can recognise and skips the rest
func parseItems(body string) []types.Item {
	matches := itemPattern.FindAllStringSubmatch(body, -1)
	items := make([]types.Item, 0, len(matches))

	for _, m := range matches {
		items = append(items, types.Item{
			ID:       parseUint(m[1]),
			Price:    parseUint(m[2]),
			Template: parseUint(m[3]),
			Name:     m[4],
			Image:    strings.ReplaceAll(m[5], `\/`, `/`),
		})
	}
	return items
}

// parsePrices extracts the price list of a template search
func parsePrices(body string) []float64 {
	m := pricesPattern.FindStringSubmatch(body)
	if m == nil {
		return nil
	}

	raw := numberPattern.FindAllString(m[1], -1)
	prices := make([]float64, 0, len(raw))
	for _, s := range raw {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			continue
		}
		prices = append(prices, v)
	}
	return prices
}

func parseUint(s string) uint32 {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0
	}
	return uint32(v)
}

func containsSentinel(body, sentinel string) bool {
	return strings.Contains(body, sentinel)
}

// statusCode reads the code from the reply's HTTP status line, or 0 when the
// reply does not start with one
func statusCode(reply string) int {
	line, _, _ := strings.Cut(reply, "\r\n")
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/") {
		return 0
	}
	code, _, _ := strings.Cut(rest, " ")
	n, err := strconv.Atoi(code)
	if err != nil {
		return 0
	}
	return n
}
