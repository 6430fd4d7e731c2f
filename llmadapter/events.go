package llmadapter

import "encoding/json"

// eventKindFn decodes one raw NDJSON line into a discriminated event; it is
// adapter-specific because Claude and Gemini use different field shapes for
// the same three concepts (tool call, final text, usage).
type eventKindFn func(raw map[string]any) (kind string, toolCall *ToolCall, text string, usage *Usage)

// parseNDJSONEvents streams stdout line by line and folds every event into
// an InvokeResult: at most one result text (the last one seen wins, mirroring
// the contract's "at-most-one result text"), every tool call in order, and
// the last usage event seen.
func parseNDJSONEvents(stdout string, kindFn eventKindFn) (*InvokeResult, error) {
	result := &InvokeResult{}

	err := scanNDJSONLines(stdout, func(line string) error {
		var raw map[string]any
		if err := json.Unmarshal([]byte(line), &raw); err != nil {
			// Not every line of CLI output is a structured event (progress
			// banners, etc.); skip silently rather than failing the session.
			return nil
		}

		kind, toolCall, text, usage := kindFn(raw)
		switch kind {
		case "tool_use", "functionCall":
			if toolCall != nil {
				result.ToolCalls = append(result.ToolCalls, *toolCall)
			}
		case "result":
			t := text
			result.ResultText = &t
		case "usage":
			result.Usage = usage
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}
