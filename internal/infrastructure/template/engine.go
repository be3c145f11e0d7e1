package template

import (
	"strings"

	"github.com/everettbu/chatsafe/internal/domain/chat"
)

// Config describes how a model family wraps conversation turns.
type Config struct {
	ID                  string `json:"id" yaml:"id"`
	Name                string `json:"name" yaml:"name"`
	SystemPrefix        string `json:"system_prefix" yaml:"system_prefix"`
	SystemSuffix        string `json:"system_suffix" yaml:"system_suffix"`
	UserPrefix          string `json:"user_prefix" yaml:"user_prefix"`
	UserSuffix          string `json:"user_suffix" yaml:"user_suffix"`
	AssistantPrefix     string `json:"assistant_prefix" yaml:"assistant_prefix"`
	AssistantSuffix     string `json:"assistant_suffix" yaml:"assistant_suffix"`
	DefaultSystemPrompt string `json:"default_system_prompt" yaml:"default_system_prompt"`
}

// RefusalLine replaces a response that degenerated into dialogue role-play.
const RefusalLine = "I understand you'd like me to respond, but I should avoid role-playing conversations. How can I help you directly?"

// FallbackLine replaces a response that cleaning emptied out entirely.
const FallbackLine = "I'm here to help. What would you like to know?"

// controlMarkers are template control tokens that must never reach a client.
var controlMarkers = []string{
	"<|eot_id|>",
	"<|end_of_text|>",
	"<|start_header_id|>",
	"<|end_header_id|>",
	"<|im_end|>",
	"<|im_start|>",
}

// roleMarkers are dialogue prefixes the model sometimes hallucinates at the
// start of a line.
var roleMarkers = []string{
	"AI:", "You:", "User:", "Assistant:", "System:",
	"Human:", "Bot:", "### Instruction:", "### Response:",
}

// Cleaned is the result of CleanResponse.
type Cleaned struct {
	Content string
	// StoppedAt is the stop sequence that truncated the response, or empty.
	StoppedAt string
}

// FormatPrompt renders messages into a single prompt string. A default
// system turn is injected when the conversation reaches its first user
// message without one, and a trailing assistant prefix cues generation.
func FormatPrompt(messages []chat.Message, tpl Config) string {
	var b strings.Builder
	hasSystem := false

	for _, m := range messages {
		switch m.Role {
		case chat.RoleSystem:
			hasSystem = true
			b.WriteString(tpl.SystemPrefix)
			b.WriteString(m.Content)
			b.WriteString(tpl.SystemSuffix)
		case chat.RoleAssistant:
			b.WriteString(tpl.AssistantPrefix)
			b.WriteString(m.Content)
			b.WriteString(tpl.AssistantSuffix)
		default:
			if !hasSystem {
				hasSystem = true
				b.WriteString(tpl.SystemPrefix)
				b.WriteString(tpl.DefaultSystemPrompt)
				b.WriteString(tpl.SystemSuffix)
			}
			b.WriteString(tpl.UserPrefix)
			b.WriteString(m.Content)
			b.WriteString(tpl.UserSuffix)
		}
	}

	b.WriteString(tpl.AssistantPrefix)
	return b.String()
}

// CleanResponse sanitizes a full model response: truncate at the earliest
// stop sequence, strip echoed assistant markers and control tokens, remove
// dialogue role pollution, and guarantee a non-empty result.
func CleanResponse(text string, tpl Config, stopSequences []string, eosToken string) Cleaned {
	cleaned := text
	stoppedAt := ""

	// Truncate at the earliest stop sequence or EOS occurrence.
	seqs := make([]string, 0, len(stopSequences)+1)
	seqs = append(seqs, stopSequences...)
	if eosToken != "" {
		seqs = append(seqs, eosToken)
	}
	cutAt := -1
	for _, seq := range seqs {
		if seq == "" {
			continue
		}
		if pos := strings.Index(cleaned, seq); pos >= 0 && (cutAt < 0 || pos < cutAt) {
			cutAt = pos
			stoppedAt = seq
		}
	}
	if cutAt >= 0 {
		cleaned = cleaned[:cutAt]
	}

	// The model sometimes echoes its own turn markers.
	if tpl.AssistantPrefix != "" {
		cleaned = strings.TrimPrefix(cleaned, tpl.AssistantPrefix)
	}
	if tpl.AssistantSuffix != "" {
		cleaned = strings.TrimSuffix(cleaned, tpl.AssistantSuffix)
	}

	cleaned = StripMarkers(cleaned)
	cleaned = cleanRolePollution(cleaned)

	return Cleaned{
		Content:   strings.TrimSpace(cleaned),
		StoppedAt: stoppedAt,
	}
}

// StripMarkers removes every known template control marker from s.
func StripMarkers(s string) string {
	for _, marker := range controlMarkers {
		s = strings.ReplaceAll(s, marker, "")
	}
	return s
}

// HasDialogueLeak reports whether text shows the dialogue-mode pattern of a
// model simulating both sides of a conversation.
func HasDialogueLeak(text string) bool {
	return strings.Contains(text, "AI:") && strings.Contains(text, "You:")
}

// cleanRolePollution strips dialogue role prefixes line by line. A response
// containing both sides of a dialogue is replaced wholesale with the refusal
// line; a response emptied by cleaning becomes the fallback line.
func cleanRolePollution(text string) string {
	if HasDialogueLeak(text) {
		return RefusalLine
	}

	var kept []string
	for _, line := range strings.Split(text, "\n") {
		cleaned := line
		trimmed := strings.TrimLeft(line, " \t")
		skip := false
		for _, marker := range roleMarkers {
			if strings.HasPrefix(trimmed, marker) {
				rest := strings.TrimSpace(strings.TrimPrefix(trimmed, marker))
				if rest == "" {
					skip = true
				} else {
					cleaned = rest
				}
				break
			}
		}
		if skip {
			continue
		}
		for _, marker := range roleMarkers {
			if strings.Contains(cleaned, marker) && !strings.HasPrefix(cleaned, marker) {
				cleaned = strings.ReplaceAll(cleaned, ". "+marker, ". ")
			}
		}
		if cleaned != "" {
			kept = append(kept, cleaned)
		}
	}

	result := strings.TrimSpace(strings.Join(kept, "\n"))
	if result == "" {
		return FallbackLine
	}
	return result
}
