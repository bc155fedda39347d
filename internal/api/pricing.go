package api

import (
	"strings"

	"github.com/ShayCichocki/crew/pkg/models"
)

// Price is the USD cost per million tokens.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// pricing is matched in order against the lower-cased model name, so more
// specific fragments come first. Bedrock profile names match as well.
var pricing = []struct {
	fragment string
	price    Price
}{
	{"opus-4-5", Price{5, 25}},
	{"opus", Price{15, 75}},
	{"haiku-4-5", Price{1, 5}},
	{"3-5-haiku", Price{0.8, 4}},
	{"haiku", Price{0.25, 1.25}},
	{"sonnet", Price{3, 15}},
}

// defaultPrice applies to models missing from the table.
var defaultPrice = Price{3, 15}

// PriceFor returns the price of a model.
func PriceFor(model string) Price {
	m := strings.ToLower(model)
	for _, p := range pricing {
		if strings.Contains(m, p.fragment) {
			return p.price
		}
	}
	return defaultPrice
}

// UsageFor converts token counts into a usage record with cost.
func UsageFor(model string, inputTokens, outputTokens int64) models.Usage {
	p := PriceFor(model)
	return models.Usage{
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      float64(inputTokens)/1_000_000*p.InputPerMTok + float64(outputTokens)/1_000_000*p.OutputPerMTok,
	}
}
