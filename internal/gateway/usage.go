// Usage accounting helpers for telemetry records.
package gateway

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/tidwall/gjson"

	"github.com/auditgate/llm-gateway/internal/config"
)

// extractUsage returns the raw "usage" object from an upstream response
// body, or "" when the backend reports none.
func extractUsage(responseBody []byte) string {
	usage := gjson.GetBytes(responseBody, "usage")
	if !usage.Exists() {
		return ""
	}
	return usage.Raw
}

var (
	encodingOnce sync.Once
	encoding     *tiktoken.Tiktoken
)

// estimateTokens approximates the token count of text for backends that
// report no usage (SageMaker, Bedrock). Feeds telemetry only; never stored
// as usage_info. Falls back to a chars/4 heuristic when the tokenizer
// cannot be loaded.
func estimateTokens(text string) int {
	encodingOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
		if err == nil {
			encoding = enc
		}
	})
	if encoding != nil {
		return len(encoding.Encode(text, nil, nil))
	}
	return len(text) / config.TokenEstimateRatio
}
