package llm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a JSON object out of a model response. Models often
// wrap the payload in markdown fences or preamble text, so this strips
// fences and falls back to the outermost brace pair before decoding.
func DecodeJSON(text string, dest any) error {
	cleaned := strings.TrimSpace(text)
	if strings.HasPrefix(cleaned, "```") {
		cleaned = strings.TrimPrefix(cleaned, "```json")
		cleaned = strings.TrimPrefix(cleaned, "```")
		if i := strings.LastIndex(cleaned, "```"); i >= 0 {
			cleaned = cleaned[:i]
		}
		cleaned = strings.TrimSpace(cleaned)
	}

	if err := json.Unmarshal([]byte(cleaned), dest); err == nil {
		return nil
	}

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return fmt.Errorf("response contains no JSON object")
	}
	if err := json.Unmarshal([]byte(cleaned[start:end+1]), dest); err != nil {
		return fmt.Errorf("failed to decode model response: %w", err)
	}
	return nil
}
