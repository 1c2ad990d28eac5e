package scanning

import (
	"encoding/json"
	"fmt"
	"strings"
)

type transcript struct {
	Text string `json:"text"`
}

// parseTranscript pulls the transcribed text out of a model response.
// Responses that carry no JSON object are taken as plain text.
func parseTranscript(response string) (string, error) {
	text := strings.TrimSpace(response)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	if text == "" {
		return "", fmt.Errorf("empty response")
	}

	startIdx := strings.Index(text, "{")
	endIdx := strings.LastIndex(text, "}")
	if startIdx == -1 || endIdx < startIdx {
		return text, nil
	}

	var t transcript
	if err := json.Unmarshal([]byte(text[startIdx:endIdx+1]), &t); err != nil {
		return "", fmt.Errorf("unmarshaling json: %w", err)
	}
	return strings.TrimSpace(t.Text), nil
}
