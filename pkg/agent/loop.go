// BMO - Tunisian Darija dialogue engine
// Derived from DotAgent, itself based on nanobot:
// https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/dotsetgreg/bmo/pkg/bus"
	"github.com/dotsetgreg/bmo/pkg/channels"
	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/session"
)

const (
	replyCompletionUnavailable = "BMO راقد شوية توا، عاود بعد لحظة 🎮"
	replyInternal              = "BMO تلخبط، عاود من فضلك."
)

// AgentLoop feeds bus messages through the orchestrator and publishes the
// replies back to the originating channel.
type AgentLoop struct {
	bus            *bus.MessageBus
	orch           *Orchestrator
	running        atomic.Bool
	channelManager *channels.Manager
}

func NewAgentLoop(msgBus *bus.MessageBus, orch *Orchestrator) *AgentLoop {
	return &AgentLoop{bus: msgBus, orch: orch}
}

func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)

	for al.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		default:
			msg, ok := al.bus.ConsumeInbound(ctx)
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				continue
			}

			response, err := al.processMessage(ctx, msg)
			if err != nil {
				response = userFacingError(err)
			}

			if response != "" {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: msg.Channel,
					ChatID:  msg.ChatID,
					Content: response,
				})
			}
		}
	}

	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

func (al *AgentLoop) SetChannelManager(cm *channels.Manager) {
	al.channelManager = cm
}

// ProcessDirect runs one message for a local caller such as the CLI.
func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	return al.ProcessDirectWithChannel(ctx, content, sessionKey, bus.ChannelCLI, "direct")
}

func (al *AgentLoop) ProcessDirectWithChannel(ctx context.Context, content, sessionKey, channel, chatID string) (string, error) {
	msg := bus.InboundMessage{
		Channel:    channel,
		SenderID:   "local-user",
		ChatID:     chatID,
		Content:    content,
		SessionKey: sessionKey,
	}

	return al.processMessage(ctx, msg)
}

func (al *AgentLoop) processMessage(ctx context.Context, msg bus.InboundMessage) (string, error) {
	logger.InfoCF("agent", fmt.Sprintf("Processing message from %s:%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80)),
		map[string]interface{}{
			"channel":     msg.Channel,
			"chat_id":     msg.ChatID,
			"sender_id":   msg.SenderID,
			"session_key": msg.SessionKey,
		})

	sessionID, err := resolveSessionKey(msg.SessionKey, msg.Channel, msg.ChatID, msg.SenderID)
	if err != nil {
		return "", malformed(err.Error())
	}

	if response, handled := al.handleCommand(ctx, msg, sessionID); handled {
		return response, nil
	}

	image := ""
	if len(msg.Media) > 0 {
		image = msg.Media[0]
	}
	res, err := al.orch.ProcessTurn(ctx, TurnRequest{
		SessionID: sessionID,
		Utterance: msg.Content,
		Language:  msg.Metadata["language"],
		ImageData: image,
	})
	if err != nil {
		return "", err
	}
	return res.Reply, nil
}

func userFacingError(err error) string {
	switch {
	case IsKind(err, KindMalformedInput):
		return ""
	case IsKind(err, KindCompletionUnavailable):
		return replyCompletionUnavailable
	default:
		return replyInternal
	}
}

func (al *AgentLoop) handleCommand(ctx context.Context, msg bus.InboundMessage, sessionID string) (string, bool) {
	content := strings.TrimSpace(msg.Content)
	if !strings.HasPrefix(content, "/") {
		return "", false
	}

	parts := strings.Fields(content)
	if len(parts) == 0 {
		return "", false
	}

	cmd := parts[0]
	args := parts[1:]
	sessions := al.orch.Sessions()

	switch cmd {
	case "/name":
		if len(args) < 1 {
			return "Usage: /name <your name>", true
		}
		p, err := sessions.SetName(ctx, sessionID, strings.Join(args, " "))
		if err != nil {
			return fmt.Sprintf("Failed to save name: %v", err), true
		}
		return fmt.Sprintf("تشرفنا يا %s! 😊", p.Name), true

	case "/learn":
		rest := strings.TrimSpace(strings.TrimPrefix(content, cmd))
		topic, correction, ok := strings.Cut(rest, "|")
		if !ok {
			correction, topic = topic, ""
		}
		if strings.TrimSpace(correction) == "" {
			return "Usage: /learn <topic> | <correction>", true
		}
		if _, err := sessions.Learn(ctx, sessionID, topic, correction); err != nil {
			return fmt.Sprintf("Failed to save correction: %v", err), true
		}
		return "هاني تعلّمت حاجة جديدة منك، ميرسي! 🎮", true

	case "/pref":
		if len(args) < 1 {
			return "Usage: /pref <key> [value]", true
		}
		if _, err := sessions.SetPreference(ctx, sessionID, args[0], strings.Join(args[1:], " ")); err != nil {
			return fmt.Sprintf("Failed to save preference: %v", err), true
		}
		return fmt.Sprintf("Preference %s saved.", args[0]), true

	case "/profile":
		p, err := sessions.LoadProfile(ctx, sessionID)
		if err != nil {
			return fmt.Sprintf("Failed to load profile: %v", err), true
		}
		return formatProfile(p), true

	case "/proverb":
		selector := al.orch.Proverbs()
		if len(args) == 0 {
			p, ok := selector.Random()
			if !ok {
				return "No proverbs loaded.", true
			}
			return p.Text, true
		}
		e, err := classifier.ParseEmotion(args[0])
		if err != nil {
			return fmt.Sprintf("Unknown emotion: %s", args[0]), true
		}
		p, ok := selector.ForEmotion(e)
		if !ok {
			return "No proverbs loaded.", true
		}
		return p.Text, true

	case "/show":
		if len(args) < 1 {
			return "Usage: /show [model|channel|session]", true
		}
		switch args[0] {
		case "model":
			return fmt.Sprintf("Current model: %s", al.orch.opts.Model), true
		case "channel":
			return fmt.Sprintf("Current channel: %s", msg.Channel), true
		case "session":
			return fmt.Sprintf("Current session: %s", sessionID), true
		default:
			return fmt.Sprintf("Unknown show target: %s", args[0]), true
		}

	case "/list":
		if len(args) < 1 || args[0] != "channels" {
			return "Usage: /list channels", true
		}
		if al.channelManager == nil {
			return "Channel manager not initialized", true
		}
		status := al.channelManager.Status()
		if len(status) == 0 {
			return "No channels enabled", true
		}
		names := al.channelManager.GetEnabledChannels()
		for i, name := range names {
			state := "stopped"
			if status[name].Running {
				state = "running"
			}
			names[i] = name + " (" + state + ")"
		}
		return fmt.Sprintf("Enabled channels: %s", strings.Join(names, ", ")), true
	}

	return "", false
}

func formatProfile(p session.UserProfile) string {
	keys := make([]string, 0, len(p.Preferences))
	for k := range p.Preferences {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	prefs := make([]string, 0, len(keys))
	for _, k := range keys {
		prefs = append(prefs, k+"="+p.Preferences[k])
	}
	lastEmotion := ""
	if rec, ok := p.LastEmotion(); ok {
		lastEmotion = rec.Emotion.String()
	}
	return fmt.Sprintf(
		"Profile\n- Name: %s\n- Language: %s\n- Interactions: %d\n- Last emotion: %s\n- Preferences: %s\n- Learned:\n%s",
		p.Name,
		valueOr(p.Language, "(unset)"),
		p.InteractionCount,
		valueOr(lastEmotion, "(none)"),
		valueOr(strings.Join(prefs, ", "), "(none)"),
		valueOr(p.Learned, "(nothing yet)"),
	)
}

// truncate shortens s to at most n runes for log previews.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
