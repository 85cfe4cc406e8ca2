package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/bmo/pkg/bus"
	"github.com/dotsetgreg/bmo/pkg/channels"
	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/session"
	"github.com/dotsetgreg/bmo/pkg/store"
)

func newTestLoop(t *testing.T, p *fakeProvider) (*AgentLoop, *bus.MessageBus, *Orchestrator) {
	t.Helper()
	msgBus := bus.NewMessageBus()
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)
	return NewAgentLoop(msgBus, o), msgBus, o
}

func TestProcessDirect_Turn(t *testing.T) {
	al, _, o := newTestLoop(t, &fakeProvider{})
	ctx := context.Background()

	reply, err := al.ProcessDirect(ctx, "aslema", "cli:test")
	require.NoError(t, err)
	assert.Equal(t, "3aslema! BMO hne 🎮", reply)

	p, err := o.Sessions().LoadProfile(ctx, "cli:test")
	require.NoError(t, err)
	assert.Equal(t, 1, p.InteractionCount)
}

func TestProcessDirect_DerivedSessionKeyIsStable(t *testing.T) {
	al, _, o := newTestLoop(t, &fakeProvider{})
	ctx := context.Background()

	_, err := al.ProcessDirectWithChannel(ctx, "salam", "", "discord", "chan-1")
	require.NoError(t, err)
	_, err = al.ProcessDirectWithChannel(ctx, "salam", "", "discord", "chan-1")
	require.NoError(t, err)

	key := SessionIdentity{Channel: "discord", ConversationID: "chan-1", ActorID: "local-user"}.SessionKey()
	p, err := o.Sessions().LoadProfile(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, 2, p.InteractionCount)
}

func TestCommands(t *testing.T) {
	p := &fakeProvider{}
	al, _, o := newTestLoop(t, p)
	ctx := context.Background()
	run := func(cmd string) string {
		t.Helper()
		reply, err := al.ProcessDirect(ctx, cmd, "cmd")
		require.NoError(t, err)
		return reply
	}

	assert.Contains(t, run("/name Amira"), "Amira")
	assert.Contains(t, run("/learn music | prefers mezoued"), "تعلّمت")
	assert.Equal(t, "Usage: /learn <topic> | <correction>", run("/learn"))
	assert.Equal(t, "Preference team saved.", run("/pref team EST"))

	profile := run("/profile")
	assert.Contains(t, profile, "- Name: Amira")
	assert.Contains(t, profile, "- Interactions: 0")
	assert.Contains(t, profile, "team=EST")
	assert.Contains(t, profile, "- music: prefers mezoued")

	assert.Equal(t, "الصبر مفتاح الفرج", run("/proverb"))
	assert.Equal(t, "اليد وحدها ما تصفقش", run("/proverb loving"))
	assert.Equal(t, "Unknown emotion: bored", run("/proverb bored"))

	assert.Equal(t, "Current model: fake-model", run("/show model"))
	assert.Equal(t, "Current channel: cli", run("/show channel"))
	assert.Equal(t, "Current session: cmd", run("/show session"))
	assert.Equal(t, "Channel manager not initialized", run("/list channels"))
	cm, err := channels.NewManager(config.DefaultConfig(), bus.NewMessageBus())
	require.NoError(t, err)
	al.SetChannelManager(cm)
	assert.Equal(t, "No channels enabled", run("/list channels"))

	assert.Empty(t, p.calls, "commands must not reach the completion backend")
	loaded, err := o.Sessions().LoadProfile(ctx, "cmd")
	require.NoError(t, err)
	assert.Equal(t, "Amira", loaded.Name)
}

func TestUnknownSlashIsAnUtterance(t *testing.T) {
	p := &fakeProvider{}
	al, _, _ := newTestLoop(t, p)

	_, err := al.ProcessDirect(context.Background(), "/shrug", "s")
	require.NoError(t, err)
	assert.Equal(t, "/shrug", p.lastCall(t).Messages[0].Content)
}

func TestUserFacingError(t *testing.T) {
	assert.Empty(t, userFacingError(malformed("utterance is empty")))
	assert.Equal(t, replyCompletionUnavailable, userFacingError(&TurnError{Kind: KindCompletionUnavailable}))
	assert.Equal(t, replyInternal, userFacingError(&TurnError{Kind: KindInternal}))
}

func TestRun_PublishesRepliesAndErrors(t *testing.T) {
	p := &fakeProvider{complete: func(_ context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
		if strings.Contains(req.Messages[len(req.Messages)-1].Content, "down") {
			return nil, providers.ErrCompletionUnavailable
		}
		return &providers.CompletionResponse{Text: "labes"}, nil
	}}
	al, msgBus, _ := newTestLoop(t, p)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- al.Run(ctx) }()

	msgBus.PublishInbound(bus.InboundMessage{Channel: "discord", SenderID: "u1", ChatID: "c1", Content: "salam"})
	msgBus.PublishInbound(bus.InboundMessage{Channel: "discord", SenderID: "u1", ChatID: "c1", Content: "   "})
	msgBus.PublishInbound(bus.InboundMessage{Channel: "discord", SenderID: "u1", ChatID: "c1", Content: "server down?"})

	readCtx, readCancel := context.WithTimeout(ctx, 2*time.Second)
	defer readCancel()

	out, ok := msgBus.SubscribeOutbound(readCtx)
	require.True(t, ok)
	assert.Equal(t, bus.OutboundMessage{Channel: "discord", ChatID: "c1", Content: "labes"}, out)

	// The blank message yields no reply, so the next one is the failure.
	out, ok = msgBus.SubscribeOutbound(readCtx)
	require.True(t, ok)
	assert.Equal(t, replyCompletionUnavailable, out.Content)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("agent loop did not stop")
	}
}

func TestFormatProfile_Defaults(t *testing.T) {
	out := formatProfile(session.DefaultProfile())
	assert.Contains(t, out, "- Language: (unset)")
	assert.Contains(t, out, "- Last emotion: (none)")
	assert.Contains(t, out, "- Preferences: (none)")
	assert.Contains(t, out, "(nothing yet)")
}
