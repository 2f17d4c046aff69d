package ai

import "github.com/tbourn/go-tutor-backend/internal/ai/provider"

// Price is the USD cost per 1,000 tokens.
type Price struct {
	Input  float64
	Output float64
}

// Pricing holds approximate list prices per provider.
var Pricing = map[provider.Name]Price{
	provider.OpenAI:   {Input: 0.005, Output: 0.015},
	provider.DeepSeek: {Input: 0.0001, Output: 0.0002},
}

// EstimateCost returns the approximate USD cost of a call. Unknown providers
// cost zero.
func EstimateCost(p provider.Name, promptTokens, completionTokens int) float64 {
	price, ok := Pricing[p]
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*price.Input + float64(completionTokens)/1000*price.Output
}
