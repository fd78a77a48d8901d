package completion

import (
	"fmt"
	"strings"

	"crabstack.local/claude-gateway/internal/openai"
)

const (
	historyPreamble = "Below is the conversation history. Continue naturally from where it left off. Reply ONLY as the Assistant to the last User message.\n\n"
	imagePreamble   = "Read the following image file(s) using the Read tool, then answer the question below.\n\n"

	unknownToolName = "unknown"
)

// splitSystemPrompt returns the text of the first system message and the
// remaining messages. Later system messages stay in the history.
func splitSystemPrompt(messages []openai.ChatMessage) (string, bool, []openai.ChatMessage) {
	rest := make([]openai.ChatMessage, 0, len(messages))
	system := ""
	found := false
	for _, msg := range messages {
		if msg.Role == openai.RoleSystem && !found {
			system = msg.TextContent()
			found = true
			continue
		}
		rest = append(rest, msg)
	}
	return system, found, rest
}

func lastUserMessage(messages []openai.ChatMessage) (openai.ChatMessage, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == openai.RoleUser {
			return messages[i], true
		}
	}
	return openai.ChatMessage{}, false
}

// renderConversation flattens the contextual messages into the single prompt
// the CLI reads from stdin. A lone message is sent as the last user text.
func renderConversation(conversation []openai.ChatMessage, lastUser openai.ChatMessage) string {
	if len(conversation) <= 1 {
		return lastUser.TextContent()
	}

	parts := make([]string, 0, len(conversation))
	for _, msg := range conversation {
		parts = append(parts, renderMessage(msg))
	}
	return historyPreamble + strings.Join(parts, "\n\n")
}

func renderMessage(msg openai.ChatMessage) string {
	text := msg.TextContent()
	switch msg.Role {
	case openai.RoleUser:
		return "[User]: " + text
	case openai.RoleAssistant:
		var b strings.Builder
		b.WriteString("[Assistant]: ")
		b.WriteString(text)
		for _, call := range msg.ToolCalls {
			fmt.Fprintf(&b, "\n[Called tool: %s(%s)]", call.Function.Name, call.Function.Arguments)
		}
		return b.String()
	case openai.RoleSystem:
		return "[System Event]: " + text
	case openai.RoleTool:
		name := msg.Name
		if name == "" {
			name = unknownToolName
		}
		return fmt.Sprintf("[Tool Result (%s)]: %s", name, text)
	default:
		return fmt.Sprintf("[%s]: %s", msg.Role, text)
	}
}

// withImages prefixes prompt with instructions to read the saved image files.
func withImages(prompt string, paths []string) string {
	if len(paths) == 0 {
		return prompt
	}
	refs := make([]string, 0, len(paths))
	for i, path := range paths {
		refs = append(refs, fmt.Sprintf("- Image %d: %s", i+1, path))
	}
	return imagePreamble + "Image files:\n" + strings.Join(refs, "\n") + "\n\nQuestion: " + prompt
}
