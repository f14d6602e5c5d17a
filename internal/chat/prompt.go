package chat

import (
	"sort"
	"strings"

	"github.com/suPer8Hu/couples-chat/internal/ai"
	"github.com/suPer8Hu/couples-chat/internal/memory"
)

const (
	systemInstruction = `You are a supportive, non-directive listener for people working on their relationships.
Listen carefully, reflect back what you hear, and ask open questions that help the speaker explore their own feelings.
Do not take sides between partners, do not diagnose, and do not tell anyone what they must do.
Keep replies warm, brief and grounded in what has actually been said.`

	noContextLine = "No relevant context from previous conversations."
)

// SpeakerLabel is the name a speaker is shown under: their display name when
// known, otherwise "Partner <id>". An empty speaker is "User".
func SpeakerLabel(speaker string, displayNames map[string]string) string {
	if speaker == "" {
		return "User"
	}
	if name := strings.TrimSpace(displayNames[speaker]); name != "" {
		return name
	}
	return "Partner " + speaker
}

// ConstructPrompt renders the full prompt as one string: the system
// instruction followed by the user turn. Output depends only on the arguments.
func ConstructPrompt(message string, memories []memory.Item, speaker string, displayNames map[string]string) string {
	return systemInstruction + "\n\n" + userTurn(message, memories, speaker, displayNames)
}

// PromptMessages is ConstructPrompt split into the system and user messages
// sent to the completion service.
func PromptMessages(message string, memories []memory.Item, speaker string, displayNames map[string]string) []ai.Message {
	return []ai.Message{
		{Role: ai.RoleSystem, Content: systemInstruction},
		{Role: ai.RoleUser, Content: userTurn(message, memories, speaker, displayNames)},
	}
}

func userTurn(message string, memories []memory.Item, speaker string, displayNames map[string]string) string {
	var b strings.Builder
	if len(displayNames) > 0 {
		keys := make([]string, 0, len(displayNames))
		for k := range displayNames {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteString("Participants:\n")
		for _, k := range keys {
			b.WriteString("- ")
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(displayNames[k])
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}

	b.WriteString("Context from previous conversations:\n")
	texts := make([]string, 0, len(memories))
	for _, m := range memories {
		if t := strings.TrimSpace(m.Memory); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		b.WriteString(noContextLine)
	} else {
		b.WriteString(strings.Join(texts, "\n"))
	}
	b.WriteString("\n\n")

	b.WriteString("Speaker: ")
	b.WriteString(SpeakerLabel(speaker, displayNames))
	b.WriteString("\n")
	b.WriteString("Message:\n")
	b.WriteString(message)
	return b.String()
}
