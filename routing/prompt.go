package routing

import (
	"fmt"
	"strings"
)

// ButlerDescriptor is one entry in the available-butlers catalog read from
// the live butler registry.
type ButlerDescriptor struct {
	Name        string
	Description string
}

// BuildRoutingPrompt assembles the classifier prompt: the available-butlers
// catalog, conversation history (if any), and the current message.
func BuildRoutingPrompt(butlers []ButlerDescriptor, history, currentMessage string) string {
	var b strings.Builder

	b.WriteString("## Available Butlers\n")
	for _, bt := range butlers {
		fmt.Fprintf(&b, "- %s: %s\n", bt.Name, bt.Description)
	}

	if history != "" {
		b.WriteString("\n")
		b.WriteString(history)
		b.WriteString("\n")
	}

	b.WriteString("\n## Current Message\n")
	b.WriteString(currentMessage)

	return b.String()
}
