package bus

// InboundMessage is a user message received by a channel.
type InboundMessage struct {
	Channel    string            `json:"channel"`
	SenderID   string            `json:"sender_id"`
	ChatID     string            `json:"chat_id"`
	Content    string            `json:"content"`
	Media      []string          `json:"media,omitempty"`
	SessionKey string            `json:"session_key"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is a reply addressed to a channel chat.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}

// Channels that never leave the process.
const (
	ChannelCLI    = "cli"
	ChannelSystem = "system"
)

func IsInternalChannel(name string) bool {
	return name == ChannelCLI || name == ChannelSystem
}
