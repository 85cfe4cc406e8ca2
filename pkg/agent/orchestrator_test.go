package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/corpus"
	"github.com/dotsetgreg/bmo/pkg/embedding"
	"github.com/dotsetgreg/bmo/pkg/metrics"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/session"
	"github.com/dotsetgreg/bmo/pkg/store"
)

type fakeProvider struct {
	mu       sync.Mutex
	calls    []providers.CompletionRequest
	complete func(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error)
}

func (p *fakeProvider) Complete(ctx context.Context, req providers.CompletionRequest) (*providers.CompletionResponse, error) {
	p.mu.Lock()
	p.calls = append(p.calls, req)
	p.mu.Unlock()
	if p.complete != nil {
		return p.complete(ctx, req)
	}
	return &providers.CompletionResponse{Text: "3aslema! BMO hne 🎮"}, nil
}

func (p *fakeProvider) GetDefaultModel() string { return "fake-model" }

func (p *fakeProvider) lastCall(t *testing.T) providers.CompletionRequest {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	require.NotEmpty(t, p.calls)
	return p.calls[len(p.calls)-1]
}

// readOnlyStore serves reads from an inner store and fails every write.
type readOnlyStore struct {
	*store.MemoryStore
}

func (readOnlyStore) SetWithTTL(context.Context, string, []byte, time.Duration) error {
	return fmt.Errorf("%w: read-only", store.ErrUnavailable)
}

// flakyReadStore fails the next Get of each key listed in failNext.
type flakyReadStore struct {
	*store.MemoryStore
	mu       sync.Mutex
	failNext map[string]bool
}

func (s *flakyReadStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	fail := s.failNext[key]
	delete(s.failNext, key)
	s.mu.Unlock()
	if fail {
		return nil, false, fmt.Errorf("%w: i/o timeout", store.ErrUnavailable)
	}
	return s.MemoryStore.Get(ctx, key)
}

type failingBackend struct{}

func (failingBackend) Model() string { return "down" }
func (failingBackend) Embed(context.Context, string) ([]float32, error) {
	return nil, errors.New("connection refused")
}

// firstRand always picks index 0.
type firstRand struct{}

func (firstRand) IntN(int) int { return 0 }

func testDialogues() *corpus.Dialogues {
	return corpus.NewDialogues([]corpus.DialogueExample{
		{Text: "3aslema, chnahwalek?", Intent: "greeting"},
		{Text: "win el louage mta3 sousse?", Intent: "transport"},
		{Text: "chokran barcha 3la l3awn", Intent: "gratitude"},
	}, corpus.LoadPrimary, "test")
}

func testProverbs() *corpus.Proverbs {
	return corpus.NewProverbs([]corpus.Proverb{
		{Text: "الصبر مفتاح الفرج", Theme: "patience", ImageRef: "sabr.png"},
		{Text: "اليد وحدها ما تصفقش", Theme: "cooperation"},
	}, corpus.LoadPrimary, "test")
}

func newTestOrchestrator(t *testing.T, st store.Store, p *fakeProvider, mutate func(*Deps, *Options)) *Orchestrator {
	t.Helper()
	emb, err := embedding.NewService(embedding.NewHashEmbedder(embedding.FallbackDims), embedding.Options{})
	require.NoError(t, err)
	deps := Deps{
		Sessions:  session.NewManager(st),
		Provider:  p,
		Embedder:  emb,
		Dialogues: testDialogues(),
		Proverbs:  testProverbs(),
		Rand:      firstRand{},
	}
	opts := Options{CompletionTimeout: time.Second}
	if mutate != nil {
		mutate(&deps, &opts)
	}
	o, err := NewOrchestrator(deps, opts)
	require.NoError(t, err)
	return o
}

func TestProcessTurn_NewSession(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	p := &fakeProvider{}
	o := newTestOrchestrator(t, st, p, nil)

	res, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s1", Utterance: "شكرا برشا"})
	require.NoError(t, err)

	assert.Equal(t, "3aslema! BMO hne 🎮", res.Reply)
	assert.Equal(t, classifier.Grateful, res.Emotion)
	assert.GreaterOrEqual(t, res.Confidence, 0.5)
	assert.Equal(t, classifier.IntentGratitude, res.Intent)
	assert.Equal(t, "s1", res.SessionID)
	assert.NotEmpty(t, res.TurnID)
	assert.False(t, res.Timestamp.IsZero())
	assert.True(t, res.StateSaved)
	assert.Empty(t, res.Degraded)
	assert.Equal(t, "ar-TN-Standard-D", res.Voice.VoiceName)

	profile, err := o.Sessions().LoadProfile(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.InteractionCount)
	assert.Len(t, profile.EmotionHistory, 1)
	assert.Equal(t, classifier.Grateful, profile.EmotionHistory[0].Emotion)

	history, err := o.Sessions().LoadHistory(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, session.Turn{Role: session.RoleUser, Content: "شكرا برشا"}, history[0])
	assert.Equal(t, session.RoleAssistant, history[1].Role)

	req := p.lastCall(t)
	assert.Equal(t, "fake-model", req.Model)
	assert.Equal(t, 0.8, req.Options.Temperature)
	assert.Equal(t, 0.9, req.Options.TopP)
	assert.Equal(t, 300, req.Options.MaxTokens)
	assert.Contains(t, req.System, "User: Friend")
	assert.Contains(t, req.System, "Interactions so far: 1")
	assert.Contains(t, req.System, "Detected emotion: GRATEFUL")
	assert.Contains(t, req.System, "Example Exchanges")
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "شكرا برشا", req.Messages[0].Content)
}

func TestProcessTurn_HistoryWindowAndTruncation(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)

	for i := 0; i < 12; i++ {
		_, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: fmt.Sprintf("message %d", i)})
		require.NoError(t, err)
	}

	req := p.lastCall(t)
	require.Len(t, req.Messages, 7)
	assert.Equal(t, "message 11", req.Messages[6].Content)
	assert.Equal(t, "message 8", req.Messages[0].Content)

	history, err := o.Sessions().LoadHistory(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, history, session.MaxHistory)
	assert.Equal(t, "message 2", history[0].Content)

	profile, err := o.Sessions().LoadProfile(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 12, profile.InteractionCount)
}

func TestProcessTurn_CompletionTimeoutKeepsEarlierWrites(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	p := &fakeProvider{complete: func(ctx context.Context, _ providers.CompletionRequest) (*providers.CompletionResponse, error) {
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", providers.ErrCompletionUnavailable, ctx.Err())
	}}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, func(d *Deps, opts *Options) {
		d.Metrics = m
		opts.CompletionTimeout = 20 * time.Millisecond
	})

	res, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "salam"})
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, IsKind(err, KindCompletionUnavailable))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	var te *TurnError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, StateAwaitingCompletion, te.State)

	profile, err := o.Sessions().LoadProfile(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.InteractionCount)
	assert.Len(t, profile.EmotionHistory, 1)

	history, err := o.Sessions().LoadHistory(ctx, "s")
	require.NoError(t, err)
	assert.Empty(t, history)

	expected := `
# HELP bmo_turns_total Dialogue turns processed, by outcome.
# TYPE bmo_turns_total counter
bmo_turns_total{status="completion_unavailable"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bmo_turns_total"))
}

func TestProcessTurn_EmptyCompletionIsUnavailable(t *testing.T) {
	p := &fakeProvider{complete: func(context.Context, providers.CompletionRequest) (*providers.CompletionResponse, error) {
		return &providers.CompletionResponse{Text: "  "}, nil
	}}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)

	_, err := o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "salam"})
	assert.True(t, IsKind(err, KindCompletionUnavailable))
	assert.True(t, errors.Is(err, providers.ErrCompletionUnavailable))
}

func TestProcessTurn_MalformedInputTouchesNothing(t *testing.T) {
	st := store.NewMemoryStore()
	p := &fakeProvider{}
	o := newTestOrchestrator(t, st, p, nil)

	for _, req := range []TurnRequest{
		{SessionID: "", Utterance: "salam"},
		{SessionID: "  ", Utterance: "salam"},
		{SessionID: "s", Utterance: ""},
		{SessionID: "s", Utterance: " \n\t "},
	} {
		_, err := o.ProcessTurn(context.Background(), req)
		assert.True(t, IsKind(err, KindMalformedInput), "request %+v", req)
	}
	assert.Equal(t, 0, st.Len())
	assert.Empty(t, p.calls)
}

func TestProcessTurn_StoreWriteFailureStillReplies(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	o := newTestOrchestrator(t, readOnlyStore{store.NewMemoryStore()}, &fakeProvider{}, func(d *Deps, _ *Options) {
		d.Metrics = m
	})

	res, err := o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "salam"})
	require.NoError(t, err)
	assert.NotEmpty(t, res.Reply)
	assert.False(t, res.StateSaved)
	expected := `
# HELP bmo_store_errors_total Session store operations that failed.
# TYPE bmo_store_errors_total counter
bmo_store_errors_total{op="save_history"} 1
bmo_store_errors_total{op="save_profile"} 3
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bmo_store_errors_total"))
}

func TestProcessTurn_StoreReadFailureTreatedAsFresh(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	require.NoError(t, st.SetWithTTL(ctx, store.ProfileKey("s"), []byte("not json"), 0))
	p := &fakeProvider{}
	o := newTestOrchestrator(t, st, p, nil)

	res, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "salam"})
	require.NoError(t, err)
	assert.Contains(t, res.Degraded, DegradedStoreRead)
	assert.True(t, res.StateSaved)

	profile, err := o.Sessions().LoadProfile(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 1, profile.InteractionCount)
}

func TestProcessTurn_UnreachableStoreKeepsExistingRecords(t *testing.T) {
	ctx := context.Background()
	st := &flakyReadStore{MemoryStore: store.NewMemoryStore(), failNext: map[string]bool{}}
	o := newTestOrchestrator(t, st, &fakeProvider{}, nil)

	for i := 0; i < 5; i++ {
		_, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "salam"})
		require.NoError(t, err)
	}
	_, err := o.Sessions().SetName(ctx, "s", "Skander")
	require.NoError(t, err)
	_, err = o.Sessions().Learn(ctx, "s", "food", "loves lablabi")
	require.NoError(t, err)

	st.mu.Lock()
	st.failNext[store.ProfileKey("s")] = true
	st.failNext[store.ConversationKey("s")] = true
	st.mu.Unlock()

	res, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "salam"})
	require.NoError(t, err)
	assert.Contains(t, res.Degraded, DegradedStoreRead)
	assert.False(t, res.StateSaved)

	profile, err := o.Sessions().LoadProfile(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, "Skander", profile.Name)
	assert.Equal(t, 5, profile.InteractionCount)
	assert.Contains(t, profile.Learned, "loves lablabi")

	history, err := o.Sessions().LoadHistory(ctx, "s")
	require.NoError(t, err)
	assert.Len(t, history, 10)

	res, err = o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "salam"})
	require.NoError(t, err)
	assert.True(t, res.StateSaved)
	profile, err = o.Sessions().LoadProfile(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, 6, profile.InteractionCount)
	assert.Equal(t, "Skander", profile.Name)
}

func TestProcessTurn_DegradedDependenciesAreFlagged(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.MustNewMetrics(reg)
	var fallbacks int
	o := newTestOrchestrator(t, store.NewMemoryStore(), &fakeProvider{}, func(d *Deps, _ *Options) {
		emb, err := embedding.NewService(failingBackend{}, embedding.Options{OnFallback: func(error) { fallbacks++ }})
		require.NoError(t, err)
		d.Embedder = emb
		d.Dialogues = corpus.NewDialogues([]corpus.DialogueExample{{Text: "aslema"}}, corpus.LoadFallback, "builtin")
		d.Metrics = m
	})

	res, err := o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "salam"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{DegradedEmbedding, DegradedDialogueCorpus}, res.Degraded)
	assert.Positive(t, fallbacks)
	expected := `
# HELP bmo_degraded_total Turns that completed with a degraded dependency.
# TYPE bmo_degraded_total counter
bmo_degraded_total{dependency="dialogue_corpus"} 1
bmo_degraded_total{dependency="embedding"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bmo_degraded_total"))
}

func TestProcessTurn_ImageAndLanguageHint(t *testing.T) {
	ctx := context.Background()
	p := &fakeProvider{}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)

	res, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "s", Utterance: "chnowa hedha?", Language: "fr", ImageData: "iVBORw0KGgo="})
	require.NoError(t, err)
	assert.Equal(t, "fr-FR-Standard-C", res.Voice.VoiceName)

	req := p.lastCall(t)
	assert.Equal(t, imagePrefix+"chnowa hedha?", req.Messages[len(req.Messages)-1].Content)
	assert.Contains(t, req.System, "Preferred language: fr")

	history, err := o.Sessions().LoadHistory(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, imagePrefix+"chnowa hedha?", history[0].Content)
}

func TestProcessTurn_ProverbsInPrompt(t *testing.T) {
	p := &fakeProvider{}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)

	res, err := o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "ana ta3ban barcha"})
	require.NoError(t, err)
	assert.Equal(t, classifier.Tired, res.Emotion)
	assert.Equal(t, "الصبر مفتاح الفرج", res.Proverb)
	assert.Equal(t, "sabr.png", res.ProverbImage)
	req := p.lastCall(t)
	assert.Contains(t, req.System, "Proverbs You May Weave In")
	assert.Contains(t, req.System, res.Proverb)
}

func TestProcessTurn_SameSessionTurnsSerialize(t *testing.T) {
	ctx := context.Background()
	o := newTestOrchestrator(t, store.NewMemoryStore(), &fakeProvider{}, nil)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := o.ProcessTurn(ctx, TurnRequest{SessionID: "shared", Utterance: fmt.Sprintf("msg %d", i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	profile, err := o.Sessions().LoadProfile(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, n, profile.InteractionCount)
	assert.Len(t, profile.EmotionHistory, n)

	history, err := o.Sessions().LoadHistory(ctx, "shared")
	require.NoError(t, err)
	assert.Len(t, history, 2*n)
}

func TestProcessTurn_PanicBecomesInternalError(t *testing.T) {
	p := &fakeProvider{complete: func(context.Context, providers.CompletionRequest) (*providers.CompletionResponse, error) {
		panic("boom")
	}}
	o := newTestOrchestrator(t, store.NewMemoryStore(), p, nil)

	_, err := o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "salam"})
	assert.True(t, IsKind(err, KindInternal))

	// The session lock must have been released.
	p.complete = nil
	_, err = o.ProcessTurn(context.Background(), TurnRequest{SessionID: "s", Utterance: "salam"})
	assert.NoError(t, err)
}

func TestNewOrchestrator_RequiresCollaborators(t *testing.T) {
	_, err := NewOrchestrator(Deps{Provider: &fakeProvider{}}, Options{})
	assert.Error(t, err)
	_, err = NewOrchestrator(Deps{Sessions: session.NewManager(store.NewMemoryStore())}, Options{})
	assert.Error(t, err)
}

func TestStateMachine(t *testing.T) {
	order := []State{StateLoading, StateClassifying, StateRetrieving, StatePromptAssembly, StateAwaitingCompletion, StatePersisting, StateDone}
	for i := 0; i < len(order)-1; i++ {
		assert.Equal(t, order[i+1], order[i].next())
	}
	assert.Equal(t, StateDone, StateDone.next())
	assert.Equal(t, StateFailed, StateFailed.next())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StatePersisting.Terminal())
	assert.Equal(t, "awaiting_completion", StateAwaitingCompletion.String())
	assert.Equal(t, "unknown", State(42).String())
}

func TestTurnError(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	err := fmt.Errorf("wrapped: %w", &TurnError{Kind: KindCompletionUnavailable, Message: "completion service unavailable", Err: cause})
	assert.True(t, IsKind(err, KindCompletionUnavailable))
	assert.False(t, IsKind(err, KindInternal))
	assert.True(t, errors.Is(err, cause))
	assert.Equal(t, "malformed_input: utterance is empty", malformed("utterance is empty").Error())
	assert.False(t, IsKind(errors.New("plain"), KindInternal))
}
