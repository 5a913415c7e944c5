package logpipe

import (
	"strings"

	"github.com/shopspring/decimal"
)

// modelPrice holds USD prices per one million tokens.
type modelPrice struct {
	key        string
	prompt     decimal.Decimal
	completion decimal.Decimal
}

var perMillion = decimal.NewFromInt(1_000_000)

// pricingTable is the built-in price list. Lookup matches a table key
// against the model name as a substring in either direction, and the
// most specific (longest) matching key wins, so "gpt-4-turbo" is not
// billed at "gpt-4" rates.
var pricingTable = []modelPrice{
	{"gpt-4", dec("30"), dec("60")},
	{"gpt-4-turbo", dec("10"), dec("30")},
	{"gpt-3.5-turbo", dec("0.5"), dec("1.5")},
	{"claude-3-opus", dec("15"), dec("75")},
	{"claude-3-sonnet", dec("3"), dec("15")},
	{"claude-3-haiku", dec("0.25"), dec("1.25")},
	{"deepseek-coder", dec("0.14"), dec("0.28")},
	{"deepseek-chat", dec("0.14"), dec("0.28")},
}

// defaultPrice is applied to models missing from the table.
var defaultPrice = modelPrice{prompt: dec("1"), completion: dec("2")}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// Cost returns the USD cost for a completion against model at the
// built-in prices.
func Cost(model string, promptTokens, completionTokens int) decimal.Decimal {
	p := lookupPrice(model)
	promptCost := decimal.NewFromInt(int64(promptTokens)).Mul(p.prompt).Div(perMillion)
	completionCost := decimal.NewFromInt(int64(completionTokens)).Mul(p.completion).Div(perMillion)
	return promptCost.Add(completionCost)
}

func lookupPrice(model string) modelPrice {
	modelLower := strings.ToLower(model)
	best := defaultPrice
	bestLen := 0
	for _, p := range pricingTable {
		if !strings.Contains(modelLower, p.key) && !strings.Contains(p.key, modelLower) {
			continue
		}
		if len(p.key) > bestLen {
			best = p
			bestLen = len(p.key)
		}
	}
	return best
}
