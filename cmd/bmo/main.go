// BMO - Tunisian Darija dialogue engine
// Derived from DotAgent, itself based on nanobot:
// https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 DotAgent contributors

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"golang.org/x/sync/errgroup"

	"github.com/dotsetgreg/bmo/pkg/agent"
	"github.com/dotsetgreg/bmo/pkg/bus"
	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/corpus"
	"github.com/dotsetgreg/bmo/pkg/embedding"
	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/metrics"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/session"
	"github.com/dotsetgreg/bmo/pkg/store"
)

var (
	version   = "dev"
	gitCommit string
	buildTime string
	goVersion string
)

const appName = "bmo"

// formatVersion returns the version string with optional git commit
func formatVersion() string {
	v := version
	if gitCommit != "" {
		v += fmt.Sprintf(" (git: %s)", gitCommit)
	}
	return v
}

func formatBuildInfo() (build string, goVer string) {
	if buildTime != "" {
		build = buildTime
	}
	goVer = goVersion
	if goVer == "" {
		goVer = runtime.Version()
	}
	return
}

func printVersion(w io.Writer) {
	fmt.Fprintf(w, "%s %s\n", appName, formatVersion())
	build, goVer := formatBuildInfo()
	if build != "" {
		fmt.Fprintf(w, "  Build: %s\n", build)
	}
	if goVer != "" {
		fmt.Fprintf(w, "  Go: %s\n", goVer)
	}
}

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func getConfigPath() string {
	if p := strings.TrimSpace(os.Getenv("BMO_CONFIG")); p != "" {
		return config.ExpandHome(p)
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".bmo", "config.json")
}

func loadConfig(debug bool) (*config.Config, error) {
	cfg, err := config.LoadConfig(getConfigPath())
	if err != nil {
		return nil, err
	}
	logger.SetLevel(logger.ParseLevel(cfg.Agent.LogLevel))
	if debug {
		logger.SetLevel(logger.DEBUG)
	}
	return cfg, nil
}

// engine is everything a dialogue turn needs, wired from config.
type engine struct {
	cfg   *config.Config
	store store.Store
	orch  *agent.Orchestrator
	bus   *bus.MessageBus
	loop  *agent.AgentLoop
}

func loadCorpora(ctx context.Context, cfg *config.Config) (*corpus.Dialogues, *corpus.Proverbs) {
	loader := corpus.NewLoader(time.Duration(cfg.Corpus.FetchTimeoutSeconds)*time.Second, cfg.Corpus.MaxEntries)

	var (
		dialogues *corpus.Dialogues
		proverbs  *corpus.Proverbs
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		dialogues = loader.LoadDialogues(gctx, cfg.Corpus.DialogueURL)
		return nil
	})
	g.Go(func() error {
		proverbs = loader.LoadProverbs(gctx, cfg.Corpus.ProverbsURL)
		return nil
	})
	_ = g.Wait()
	return dialogues, proverbs
}

func newEngine(ctx context.Context, cfg *config.Config) (*engine, error) {
	if err := providers.ValidateProviderConfig(cfg); err != nil {
		return nil, err
	}
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("create completion provider: %w", err)
	}
	embedder, err := embedding.NewFromConfig(cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open session store: %w", err)
	}

	dialogues, proverbs := loadCorpora(ctx, cfg)

	m := metrics.Default()
	orch, err := agent.NewOrchestrator(agent.Deps{
		Sessions:  session.NewManager(st),
		Provider:  provider,
		Embedder:  embedder,
		Dialogues: dialogues,
		Proverbs:  proverbs,
		Metrics:   m,
	}, agent.Options{
		PersonaName:       cfg.Agent.PersonaName,
		Model:             cfg.Agent.Model,
		Temperature:       cfg.Agent.Temperature,
		TopP:              cfg.Agent.TopP,
		MaxTokens:         cfg.Agent.MaxTokens,
		HistoryWindow:     cfg.Agent.HistoryWindow,
		ExampleCount:      cfg.Agent.ExampleCount,
		ScanLimit:         cfg.Corpus.ScanLimit,
		CompletionTimeout: time.Duration(cfg.Agent.CompletionTimeoutSeconds) * time.Second,
	})
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	msgBus := bus.NewMessageBusWithOptions(bus.Options{OnDrop: m.IncBusDropped})
	logger.InfoCF("engine", "Dialogue engine ready", map[string]interface{}{
		"provider":         providers.ActiveProviderName(cfg),
		"model":            cfg.Agent.Model,
		"store":            cfg.Store.Backend,
		"dialogue_corpus":  dialogues.Status().String(),
		"dialogue_entries": dialogues.Len(),
		"proverb_corpus":   proverbs.Status().String(),
		"proverb_entries":  proverbs.Len(),
	})
	return &engine{
		cfg:   cfg,
		store: st,
		orch:  orch,
		bus:   msgBus,
		loop:  agent.NewAgentLoop(msgBus, orch),
	}, nil
}

func (e *engine) Close() {
	e.loop.Stop()
	e.bus.Close()
	if err := e.store.Close(); err != nil {
		logger.WarnCF("engine", "Closing session store failed", map[string]interface{}{"error": err.Error()})
	}
}

// openSessions opens only the store, for commands that edit a profile.
func openSessions(ctx context.Context, cfg *config.Config) (*session.Manager, func(), error) {
	st, err := store.Open(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	return session.NewManager(st), func() { _ = st.Close() }, nil
}

func interactiveMode(out io.Writer, loop *agent.AgentLoop, sessionKey string) {
	prompt := "You: "

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		HistoryFile:     filepath.Join(os.TempDir(), ".bmo_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(out, "Error initializing readline: %v\n", err)
		fmt.Fprintln(out, "Falling back to simple input mode...")
		simpleInteractiveMode(os.Stdin, out, loop, sessionKey)
		return
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt || err == io.EOF {
				fmt.Fprintln(out, "\nبسلامة!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !chatLine(out, loop, sessionKey, line) {
			return
		}
	}
}

func simpleInteractiveMode(in io.Reader, out io.Writer, loop *agent.AgentLoop, sessionKey string) {
	reader := bufio.NewReader(in)
	for {
		fmt.Fprint(out, "You: ")
		line, err := reader.ReadString('\n')
		if err != nil && line == "" {
			if err == io.EOF {
				fmt.Fprintln(out, "\nبسلامة!")
				return
			}
			fmt.Fprintf(out, "Error reading input: %v\n", err)
			continue
		}
		if !chatLine(out, loop, sessionKey, line) {
			return
		}
	}
}

// chatLine handles one line of interactive input and reports whether the
// session should continue.
func chatLine(out io.Writer, loop *agent.AgentLoop, sessionKey, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}
	if input == "exit" || input == "quit" {
		fmt.Fprintln(out, "بسلامة!")
		return false
	}

	response, err := loop.ProcessDirect(context.Background(), input, sessionKey)
	if err != nil {
		fmt.Fprintf(out, "Error: %v\n", err)
		return true
	}
	fmt.Fprintf(out, "\nBMO: %s\n\n", response)
	return true
}
