package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/corpus"
	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/session"
)

const (
	defaultPersonaName   = "BMO"
	defaultHistoryWindow = 6
	imagePrefix          = "[Image provided] "
)

// TurnContext is everything the system instruction is built from.
type TurnContext struct {
	Profile  session.UserProfile
	Language string
	Emotion  classifier.EmotionResult
	Intent   classifier.IntentResult
	Examples []corpus.DialogueExample
	Proverbs []corpus.Proverb
}

type ContextBuilder struct {
	personaName   string
	historyWindow int
}

func NewContextBuilder(personaName string, historyWindow int) *ContextBuilder {
	if strings.TrimSpace(personaName) == "" {
		personaName = defaultPersonaName
	}
	if historyWindow <= 0 {
		historyWindow = defaultHistoryWindow
	}
	return &ContextBuilder{personaName: personaName, historyWindow: historyWindow}
}

func (cb *ContextBuilder) getIdentity() string {
	return fmt.Sprintf(`# %[1]s

You are %[1]s, the living video game console from Adventure Time, and you speak Tunisian Arabic (دارجة تونسية).

## Personality
- Childlike, sweet and enthusiastic
- You love helping and making people happy
- A bit silly and playful
- You treat users like friends or family
- Very patient when explaining technology

## Language
- Reply mainly in Tunisian Darija, in Arabic script mixed with French words the way Tunisians speak
- You understand English and French but prefer to answer in Darija
- Use friendly informal expressions like "برشا", "ماكش", "ياسر", "توا"

## Behavior
- Keep replies short and quick
- When corrected, learn from it
- Be encouraging and positive`, cb.personaName)
}

func (cb *ContextBuilder) buildUserSection(p session.UserProfile, language string) string {
	prefs := "None yet"
	if len(p.Preferences) > 0 {
		keys := make([]string, 0, len(p.Preferences))
		for k := range p.Preferences {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+"="+p.Preferences[k])
		}
		prefs = strings.Join(parts, ", ")
	}
	learned := strings.TrimSpace(p.Learned)
	if learned == "" {
		learned = "Getting to know you!"
	}
	name := strings.TrimSpace(p.Name)
	if name == "" {
		name = session.DefaultName
	}

	var sb strings.Builder
	sb.WriteString("## User\n")
	fmt.Fprintf(&sb, "User: %s\n", name)
	fmt.Fprintf(&sb, "Interactions so far: %d\n", p.InteractionCount)
	if language != "" {
		fmt.Fprintf(&sb, "Preferred language: %s\n", language)
	}
	fmt.Fprintf(&sb, "Preferences: %s\n", prefs)
	fmt.Fprintf(&sb, "Things I've learned: %s", learned)
	return sb.String()
}

func (cb *ContextBuilder) buildTurnSection(tc TurnContext) string {
	var sb strings.Builder
	sb.WriteString("## Current Turn\n")
	fmt.Fprintf(&sb, "Detected emotion: %s (confidence %.2f)\n", tc.Emotion.Category, tc.Emotion.Confidence)
	fmt.Fprintf(&sb, "Detected intent: %s\n", tc.Intent.Category)
	sb.WriteString("Match the user's mood in your tone.")

	if len(tc.Examples) > 0 {
		sb.WriteString("\n\n## Example Exchanges\n")
		for _, ex := range tc.Examples {
			line := "- " + strings.TrimSpace(ex.Text)
			if ex.Intent != "" {
				line += " (intent: " + ex.Intent + ")"
			}
			sb.WriteString(line + "\n")
		}
	}
	if len(tc.Proverbs) > 0 {
		sb.WriteString("\n## Proverbs You May Weave In\n")
		for _, p := range tc.Proverbs {
			line := "- " + strings.TrimSpace(p.Text)
			if p.Theme != "" {
				line += " (theme: " + p.Theme + ")"
			}
			sb.WriteString(line + "\n")
		}
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (cb *ContextBuilder) BuildSystemPrompt(tc TurnContext) string {
	parts := []string{
		cb.getIdentity(),
		cb.buildUserSection(tc.Profile, tc.Language),
		cb.buildTurnSection(tc),
	}
	prompt := strings.Join(parts, "\n\n---\n\n")

	logger.DebugCF("agent", "System prompt built",
		map[string]interface{}{
			"total_chars":   len(prompt),
			"total_lines":   strings.Count(prompt, "\n") + 1,
			"section_count": len(parts),
			"examples":      len(tc.Examples),
			"proverbs":      len(tc.Proverbs),
		})
	return prompt
}

// BuildMessages returns the trailing history window followed by the current
// user message.
func (cb *ContextBuilder) BuildMessages(history session.History, currentMessage string) []providers.Message {
	window := history.Last(cb.historyWindow)
	messages := make([]providers.Message, 0, len(window)+1)
	for _, t := range window {
		if strings.TrimSpace(t.Content) == "" {
			continue
		}
		messages = append(messages, providers.Message{Role: t.Role, Content: t.Content})
	}
	if strings.TrimSpace(currentMessage) != "" {
		messages = append(messages, providers.Message{
			Role:    session.RoleUser,
			Content: currentMessage,
		})
	}
	return messages
}

// userContent is the text recorded for the user's side of a turn.
func userContent(utterance string, hasImage bool) string {
	if hasImage {
		return imagePrefix + utterance
	}
	return utterance
}
