package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/corpus"
	"github.com/dotsetgreg/bmo/pkg/embedding"
	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/metrics"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/retrieval"
	"github.com/dotsetgreg/bmo/pkg/session"
	"github.com/dotsetgreg/bmo/pkg/store"
)

const (
	defaultExampleCount      = 2
	defaultCompletionTimeout = 30 * time.Second
	defaultTemperature       = 0.8
	defaultTopP              = 0.9
	defaultMaxTokens         = 300
)

// Names reported in TurnResult.Degraded.
const (
	DegradedEmbedding      = "embedding"
	DegradedDialogueCorpus = "dialogue_corpus"
	DegradedProverbCorpus  = "proverb_corpus"
	DegradedStoreRead      = "store_read"
)

type TurnRequest struct {
	SessionID string
	Utterance string
	// Language is an optional hint, e.g. "ar-tn", "fr" or "en".
	Language string
	// ImageData is an optional attachment. Only its presence is used.
	ImageData string
}

type TurnResult struct {
	Reply            string                 `json:"reply"`
	Emotion          classifier.Emotion     `json:"emotion"`
	Confidence       float64                `json:"confidence"`
	Intent           classifier.Intent      `json:"intent"`
	IntentConfidence float64                `json:"intent_confidence"`
	SessionID        string                 `json:"session_id"`
	TurnID           string                 `json:"turn_id"`
	Timestamp        time.Time              `json:"timestamp"`
	Degraded         []string               `json:"degraded,omitempty"`
	StateSaved       bool                   `json:"state_saved"`
	Voice            classifier.VoiceParams `json:"voice"`
	Proverb          string                 `json:"proverb,omitempty"`
	ProverbImage     string                 `json:"proverb_image,omitempty"`
}

// Deps are the collaborators of an Orchestrator. Sessions and Provider are
// required; nil classifiers use the built-in rule tables and nil corpora
// are treated as empty.
type Deps struct {
	Sessions  *session.Manager
	Provider  providers.CompletionProvider
	Emotions  *classifier.EmotionClassifier
	Intents   *classifier.IntentClassifier
	Embedder  embedding.Embedder
	Dialogues *corpus.Dialogues
	Proverbs  *corpus.Proverbs
	Rand      retrieval.Rand
	Metrics   *metrics.Metrics
}

type Options struct {
	PersonaName       string
	Model             string
	Temperature       float64
	TopP              float64
	MaxTokens         int
	HistoryWindow     int
	ExampleCount      int
	ScanLimit         int
	CompletionTimeout time.Duration
}

// Orchestrator runs dialogue turns. It is safe for concurrent use; turns on
// the same session id are serialized.
type Orchestrator struct {
	sessions  *session.Manager
	provider  providers.CompletionProvider
	emotions  *classifier.EmotionClassifier
	intents   *classifier.IntentClassifier
	dialogues *retrieval.DialogueRetriever
	proverbs  *retrieval.ProverbSelector
	metrics   *metrics.Metrics
	builder   *ContextBuilder

	dialogueFallback bool
	proverbFallback  bool

	opts Options
	now  func() time.Time
}

func NewOrchestrator(deps Deps, opts Options) (*Orchestrator, error) {
	if deps.Sessions == nil {
		return nil, fmt.Errorf("session manager is required")
	}
	if deps.Provider == nil {
		return nil, fmt.Errorf("completion provider is required")
	}
	if deps.Emotions == nil {
		deps.Emotions = classifier.NewDefaultEmotionClassifier()
	}
	if deps.Intents == nil {
		deps.Intents = classifier.NewDefaultIntentClassifier()
	}
	if deps.Embedder == nil {
		svc, err := embedding.NewService(embedding.NewHashEmbedder(embedding.FallbackDims), embedding.Options{})
		if err != nil {
			return nil, err
		}
		deps.Embedder = svc
	}
	if deps.Dialogues == nil {
		deps.Dialogues = corpus.NewDialogues(nil, corpus.LoadFallback, "")
	}
	if deps.Proverbs == nil {
		deps.Proverbs = corpus.NewProverbs(nil, corpus.LoadFallback, "")
	}

	if opts.Model == "" {
		opts.Model = deps.Provider.GetDefaultModel()
	}
	if opts.Temperature <= 0 {
		opts.Temperature = defaultTemperature
	}
	if opts.TopP <= 0 {
		opts.TopP = defaultTopP
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = defaultMaxTokens
	}
	if opts.ExampleCount <= 0 {
		opts.ExampleCount = defaultExampleCount
	}
	if opts.CompletionTimeout <= 0 {
		opts.CompletionTimeout = defaultCompletionTimeout
	}

	return &Orchestrator{
		sessions:         deps.Sessions,
		provider:         deps.Provider,
		emotions:         deps.Emotions,
		intents:          deps.Intents,
		dialogues:        retrieval.NewDialogueRetriever(deps.Dialogues, deps.Embedder, opts.ScanLimit),
		proverbs:         retrieval.NewProverbSelector(deps.Proverbs, deps.Rand),
		metrics:          deps.Metrics,
		builder:          NewContextBuilder(opts.PersonaName, opts.HistoryWindow),
		dialogueFallback: deps.Dialogues.Status() == corpus.LoadFallback,
		proverbFallback:  deps.Proverbs.Status() == corpus.LoadFallback,
		opts:             opts,
		now:              time.Now,
	}, nil
}

// Proverbs exposes the selector for callers listing proverbs outside a turn.
func (o *Orchestrator) Proverbs() *retrieval.ProverbSelector { return o.proverbs }

func (o *Orchestrator) Sessions() *session.Manager { return o.sessions }

// turn tracks one ProcessTurn run through the state machine.
type turn struct {
	o        *Orchestrator
	id       string
	session  string
	state    State
	entered  time.Time
	degraded []string
	saved    bool
}

func (t *turn) advance() {
	t.transition(t.state.next())
}

func (t *turn) transition(to State) {
	now := time.Now()
	t.o.metrics.ObserveStage(t.state.String(), now.Sub(t.entered))
	logger.DebugCF("agent", "Turn state transition", map[string]interface{}{
		"turn_id":    t.id,
		"session_id": t.session,
		"from":       t.state.String(),
		"to":         to.String(),
	})
	t.state = to
	t.entered = now
}

func (t *turn) degrade(dep string) {
	for _, d := range t.degraded {
		if d == dep {
			return
		}
	}
	t.degraded = append(t.degraded, dep)
	t.o.metrics.IncDegraded(dep)
}

func (t *turn) storeWriteFailed(op string, err error) {
	t.saved = false
	t.o.metrics.IncStoreError(op)
	logger.WarnCF("agent", "Session state not saved", map[string]interface{}{
		"turn_id":    t.id,
		"session_id": t.session,
		"op":         op,
		"error":      err.Error(),
	})
}

// withheld marks a record that could not be read from the store. It is not
// written back, so an outage never replaces stored state with defaults.
func (t *turn) withheld(record string, err error) {
	t.saved = false
	logger.WarnCF("agent", "Stored record unreadable, not overwriting", map[string]interface{}{
		"turn_id":    t.id,
		"session_id": t.session,
		"record":     record,
		"error":      err.Error(),
	})
}

// unreachable reports whether a load error came from the store itself rather
// than from decoding a corrupt record.
func unreachable(err error) bool {
	return err != nil && errors.Is(err, store.ErrUnavailable)
}

func (t *turn) fail(kind ErrorKind, msg string, err error) *TurnError {
	te := &TurnError{Kind: kind, Message: msg, State: t.state, Err: err}
	t.transition(StateFailed)
	t.o.metrics.IncTurn(string(kind))
	logger.ErrorCF("agent", "Turn failed", map[string]interface{}{
		"turn_id":    t.id,
		"session_id": t.session,
		"stage":      te.State.String(),
		"kind":       string(kind),
		"error":      te.Error(),
	})
	return te
}

// ProcessTurn runs one dialogue turn. State written by earlier stages stays
// persisted when a later stage fails.
func (o *Orchestrator) ProcessTurn(ctx context.Context, req TurnRequest) (res *TurnResult, err error) {
	sessionID := strings.TrimSpace(req.SessionID)
	utterance := strings.TrimSpace(req.Utterance)
	if sessionID == "" {
		o.metrics.IncTurn(metrics.TurnMalformed)
		return nil, malformed("session id is required")
	}
	if utterance == "" {
		o.metrics.IncTurn(metrics.TurnMalformed)
		return nil, malformed("utterance is empty")
	}

	done := o.metrics.TurnStarted()
	defer done()

	t := &turn{o: o, id: uuid.NewString(), session: sessionID, state: StateLoading, entered: time.Now(), saved: true}
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = t.fail(KindInternal, "unexpected failure", fmt.Errorf("panic: %v", r))
		}
	}()

	unlock := o.sessions.Lock(sessionID)
	defer unlock()

	// LOADING_STATE
	history, herr := o.sessions.LoadHistory(ctx, sessionID)
	if herr != nil {
		t.degrade(DegradedStoreRead)
		o.metrics.IncStoreError("load_history")
	}
	profile, perr := o.sessions.LoadProfile(ctx, sessionID)
	if perr != nil {
		t.degrade(DegradedStoreRead)
		o.metrics.IncStoreError("load_profile")
	}
	keepHistory, keepProfile := unreachable(herr), unreachable(perr)
	if keepHistory {
		t.withheld("history", herr)
	}
	if keepProfile {
		t.withheld("profile", perr)
	}
	saveProfile := func() {
		if keepProfile {
			return
		}
		if err := o.sessions.SaveProfile(ctx, sessionID, profile); err != nil {
			t.storeWriteFailed("save_profile", err)
		}
	}
	profile.InteractionCount++
	saveProfile()
	t.advance()

	// CLASSIFYING
	emo := o.emotions.Classify(utterance)
	intent := o.intents.Classify(utterance)
	profile.RecordEmotion(emo.Category, emo.Confidence, o.now().UTC())
	saveProfile()
	t.advance()

	// RETRIEVING_CONTEXT
	var (
		examples  retrieval.RetrievalResult
		related   corpus.Proverb
		hasRel    bool
		emotional corpus.Proverb
		hasEmo    bool
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		examples = o.dialogues.TopK(gctx, utterance, o.opts.ExampleCount)
		return nil
	})
	g.Go(func() error {
		related, hasRel = o.proverbs.RelatedTo(utterance)
		emotional, hasEmo = o.proverbs.ForEmotion(emo.Category)
		return nil
	})
	_ = g.Wait()
	if examples.Degraded {
		t.degrade(DegradedEmbedding)
	}
	if o.dialogueFallback {
		t.degrade(DegradedDialogueCorpus)
	}
	if o.proverbFallback {
		t.degrade(DegradedProverbCorpus)
	}
	proverbs := make([]corpus.Proverb, 0, 2)
	if hasRel {
		proverbs = append(proverbs, related)
	}
	if hasEmo && (!hasRel || emotional.Text != related.Text) {
		proverbs = append(proverbs, emotional)
	}
	t.advance()

	// PROMPT_ASSEMBLY
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = profile.Language
	}
	exampleTexts := make([]corpus.DialogueExample, 0, len(examples.Matches))
	for _, m := range examples.Matches {
		exampleTexts = append(exampleTexts, m.Example)
	}
	system := o.builder.BuildSystemPrompt(TurnContext{
		Profile:  profile,
		Language: language,
		Emotion:  emo,
		Intent:   intent,
		Examples: exampleTexts,
		Proverbs: proverbs,
	})
	current := userContent(utterance, strings.TrimSpace(req.ImageData) != "")
	messages := o.builder.BuildMessages(history, current)
	t.advance()

	// AWAITING_COMPLETION
	cctx, cancel := context.WithTimeout(ctx, o.opts.CompletionTimeout)
	resp, cerr := o.provider.Complete(cctx, providers.CompletionRequest{
		Model:    o.opts.Model,
		System:   system,
		Messages: messages,
		Options: providers.CompletionOptions{
			Temperature: o.opts.Temperature,
			TopP:        o.opts.TopP,
			MaxTokens:   o.opts.MaxTokens,
		},
	})
	cancel()
	if cerr == nil && (resp == nil || strings.TrimSpace(resp.Text) == "") {
		cerr = fmt.Errorf("%w: empty completion", providers.ErrCompletionUnavailable)
	}
	if cerr != nil {
		if errors.Is(cerr, context.DeadlineExceeded) {
			return nil, t.fail(KindCompletionUnavailable, "completion timed out", cerr)
		}
		return nil, t.fail(KindCompletionUnavailable, "completion service unavailable", cerr)
	}
	reply := strings.TrimSpace(resp.Text)
	t.advance()

	// PERSISTING
	history = append(history,
		session.Turn{Role: session.RoleUser, Content: current},
		session.Turn{Role: session.RoleAssistant, Content: reply},
	)
	if !keepHistory {
		if _, err := o.sessions.SaveHistory(ctx, sessionID, history); err != nil {
			t.storeWriteFailed("save_history", err)
		}
	}
	saveProfile()
	t.advance()

	o.metrics.IncTurn(metrics.TurnOK)
	result := &TurnResult{
		Reply:            reply,
		Emotion:          emo.Category,
		Confidence:       emo.Confidence,
		Intent:           intent.Category,
		IntentConfidence: intent.Confidence,
		SessionID:        sessionID,
		TurnID:           t.id,
		Timestamp:        o.now().UTC(),
		Degraded:         t.degraded,
		StateSaved:       t.saved,
		Voice:            classifier.VoiceFor(emo.Category, language),
	}
	if len(proverbs) > 0 {
		result.Proverb = proverbs[0].Text
		result.ProverbImage, _ = o.proverbs.ImageFor(proverbs[0].Text)
	}

	logger.InfoCF("agent", "Turn completed", map[string]interface{}{
		"turn_id":           t.id,
		"session_id":        sessionID,
		"emotion":           emo.Category.String(),
		"intent":            intent.Category.String(),
		"interaction_count": profile.InteractionCount,
		"degraded":          strings.Join(t.degraded, ","),
		"state_saved":       t.saved,
	})
	return result, nil
}
