package services

import (
	"log"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"daybook/internal/llm"
)

// Tokens added per chat message for role and separators
const messageOverheadTokens = 4

var (
	encodingsMu sync.Mutex
	// nil marks a model without a known tokenizer
	encodings = map[string]*tiktoken.Tiktoken{}
)

func init() {
	// BPE ranks ship with the binary; nothing is downloaded at runtime
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// encodingFor returns the tokenizer of model's family, or nil when unknown
func encodingFor(model string) *tiktoken.Tiktoken {
	encodingsMu.Lock()
	defer encodingsMu.Unlock()

	if enc, ok := encodings[model]; ok {
		return enc
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		log.Printf("⚠️  [USAGE] No tokenizer for model %q, estimating: %v", model, err)
		enc = nil
	}
	encodings[model] = enc
	return enc
}

// EstimateTokens returns an approximate token count using the ~4 chars/token heuristic.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + 3) / 4
}

// CountTokens counts text with model's tokenizer, falling back to the
// heuristic for models without one.
func CountTokens(model, text string) int {
	if text == "" {
		return 0
	}
	enc := encodingFor(model)
	if enc == nil {
		return EstimateTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

// TokenBreakdown is the token split reported with every usage event.
type TokenBreakdown struct {
	RequestTokens  int `json:"request_tokens"`
	SystemTokens   int `json:"system_tokens"`
	ResponseTokens int `json:"response_tokens"`
	Total          int `json:"total"`
}

// BreakdownUsage computes request, system prompt and response token counts
// with the tokenizer of model's family.
func BreakdownUsage(model string, messages []llm.Message, response string) TokenBreakdown {
	var bd TokenBreakdown
	for _, msg := range messages {
		tokens := CountTokens(model, msg.Content) + messageOverheadTokens
		bd.RequestTokens += tokens
		if msg.Role == llm.RoleSystem {
			bd.SystemTokens += tokens
		}
	}
	bd.ResponseTokens = CountTokens(model, response)
	bd.Total = bd.RequestTokens + bd.ResponseTokens
	return bd
}
