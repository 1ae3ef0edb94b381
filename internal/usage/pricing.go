package usage

import "strings"

// Price is a per-token cost in USD.
type Price struct {
	Input  float64
	Output float64
}

// Cost returns the cost of the given token counts.
func (p Price) Cost(input, output int64) float64 {
	return float64(input)*p.Input + float64(output)*p.Output
}

func perMillion(in, out float64) Price {
	return Price{Input: in / 1_000_000, Output: out / 1_000_000}
}

// Approximate list prices. Unknown models fall back to PriceDefault.
var (
	PriceDefault       = Price{Input: 0.0005 / 1000, Output: 0.0015 / 1000}
	PriceGemini15Pro   = perMillion(1.25, 5.00)
	PriceGemini15Flash = perMillion(0.075, 0.30)
	PriceGemini20Flash = perMillion(0, 0)
	PriceGemini25Flash = perMillion(0.30, 2.50)
	PriceGemini25Pro   = perMillion(1.25, 10.00)
	PriceGemini3Flash  = perMillion(0.50, 3.00)
	PriceGemini3Pro    = perMillion(2.00, 12.00)
	PriceClaudeHaiku   = perMillion(1.00, 5.00)
	PriceClaudeSonnet  = perMillion(3.00, 15.00)
	PriceClaudeOpus    = perMillion(5.00, 25.00)
	PriceGPT5Mini      = perMillion(0.30, 1.20)
	PriceGPT5          = perMillion(1.75, 14.00)
)

// pricingRules are checked in order; the first substring match wins.
var pricingRules = []struct {
	match []string
	price Price
}{
	{[]string{"1.5-pro", "1_5_pro"}, PriceGemini15Pro},
	{[]string{"1.5-flash", "1_5_flash"}, PriceGemini15Flash},
	{[]string{"2.0", "2_0"}, PriceGemini20Flash},
	{[]string{"2.5-pro"}, PriceGemini25Pro},
	{[]string{"2.5-flash"}, PriceGemini25Flash},
	{[]string{"gemini-3-pro"}, PriceGemini3Pro},
	{[]string{"gemini-3"}, PriceGemini3Flash},
	{[]string{"haiku"}, PriceClaudeHaiku},
	{[]string{"sonnet"}, PriceClaudeSonnet},
	{[]string{"opus"}, PriceClaudeOpus},
	{[]string{"gpt-5-mini", "gpt-4o-mini"}, PriceGPT5Mini},
	{[]string{"gpt-5", "gpt-4"}, PriceGPT5},
}

// PriceFor returns the price for a model identifier, matching on name
// fragments so provider prefixes like "google/" don't matter.
func PriceFor(model string) Price {
	key := strings.ToLower(model)
	for _, rule := range pricingRules {
		for _, m := range rule.match {
			if strings.Contains(key, m) {
				return rule.price
			}
		}
	}
	return PriceDefault
}
