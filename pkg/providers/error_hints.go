package providers

import "strings"

func augmentProviderError(providerName, message string) string {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return msg
	}

	lower := strings.ToLower(msg)
	providerName = NormalizeProviderName(providerName)

	switch providerName {
	case ProviderOllama:
		if strings.Contains(lower, "not found") && strings.Contains(lower, "model") {
			return msg + " Hint: pull the model first with `ollama pull <model>` or set agent.model to an installed model."
		}
	case ProviderOpenAI:
		if strings.Contains(lower, "incorrect api key provided") {
			return msg + " Hint: provider openai expects a Platform API key in providers.openai.api_key or providers.openai.api_key_file."
		}
	case ProviderOpenRouter:
		if strings.Contains(lower, "insufficient credits") || strings.Contains(lower, "requires more credits") {
			return msg + " Hint: top up OpenRouter credits or switch agent.provider to ollama for local inference."
		}
	}

	return msg
}
