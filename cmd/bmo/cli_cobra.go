package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dotsetgreg/bmo/pkg/channels"
	"github.com/dotsetgreg/bmo/pkg/classifier"
	"github.com/dotsetgreg/bmo/pkg/config"
	"github.com/dotsetgreg/bmo/pkg/logger"
	"github.com/dotsetgreg/bmo/pkg/providers"
	"github.com/dotsetgreg/bmo/pkg/retrieval"
	"github.com/dotsetgreg/bmo/pkg/store"
)

const defaultSessionKey = "cli:default"

func executeCLI() error {
	defer logger.Sync()
	return buildRootCommand(true).Execute()
}

func buildRootCommand(includeDocsCommand bool) *cobra.Command {
	var showVersion bool

	root := &cobra.Command{
		Use:   "bmo",
		Short: "Tunisian Arabic companion with emotion-aware, culturally grounded replies",
		Long: strings.TrimSpace(`bmo is a dialogue context engine that speaks Tunisian Darija.

Each turn classifies the user's emotion and intent, retrieves similar dialogue
examples and fitting proverbs, remembers the user across turns, and asks a
language model for a reply in character.`),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if showVersion {
				printVersion(cmd.OutOrStdout())
				return nil
			}
			_ = cmd.Help()
			return fmt.Errorf("a subcommand is required")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.Flags().BoolVarP(&showVersion, "version", "v", false, "Show build/version metadata")

	root.AddCommand(newChatCommand())
	root.AddCommand(newGatewayCommand())
	root.AddCommand(newClassifyCommand())
	root.AddCommand(newProverbCommand())
	root.AddCommand(newLearnCommand())
	root.AddCommand(newSetNameCommand())
	root.AddCommand(newProfileCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	if includeDocsCommand {
		root.AddCommand(newDocsCommand(func() *cobra.Command { return buildRootCommand(false) }))
	}

	return root
}

func newChatCommand() *cobra.Command {
	var (
		message string
		session string
		debug   bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Talk to BMO from the terminal",
		Long:  "Run an interactive chat session, or send a single message with --message.",
		Example: strings.Join([]string{
			"  bmo chat",
			"  bmo chat --session cli:amira",
			"  bmo chat --message \"3aslema, chnahwalek?\"",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(debug)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			eng, err := newEngine(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer eng.Close()

			out := cmd.OutOrStdout()
			if strings.TrimSpace(message) != "" {
				response, err := eng.loop.ProcessDirect(cmd.Context(), message, session)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s\n", response)
				return nil
			}
			fmt.Fprintln(out, "BMO interactive mode (Ctrl+C to exit)")
			fmt.Fprintln(out)
			interactiveMode(out, eng.loop, session)
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "One-shot message to send")
	cmd.Flags().StringVarP(&session, "session", "s", defaultSessionKey, "Session id for continuity")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

func newGatewayCommand() *cobra.Command {
	var (
		debug    bool
		jsonLogs bool
	)

	cmd := &cobra.Command{
		Use:     "gateway",
		Short:   "Run the Discord gateway with the health, metrics and turn HTTP server",
		Long:    "Start enabled channel adapters, the agent loop, the session expiry sweeper and the HTTP server.",
		Example: "  bmo gateway --debug",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(debug)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if jsonLogs {
				logger.UseJSON(true)
			}
			return runGateway(cmd.Context(), cmd.OutOrStdout(), cfg)
		},
	}

	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	cmd.Flags().BoolVar(&jsonLogs, "json-logs", false, "Emit JSON log lines")
	return cmd
}

func runGateway(parent context.Context, out io.Writer, cfg *config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng, err := newEngine(ctx, cfg)
	if err != nil {
		return err
	}
	defer eng.Close()

	channelManager, err := channels.NewManager(cfg, eng.bus)
	if err != nil {
		return fmt.Errorf("create channel manager: %w", err)
	}
	eng.loop.SetChannelManager(channelManager)
	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}
	enabled := channelManager.GetEnabledChannels()
	sort.Strings(enabled)
	fmt.Fprintf(out, "✓ Channels enabled: %s\n", valueOr(strings.Join(enabled, ", "), "none"))

	if purger, ok := eng.store.(store.Purger); ok {
		sweeper, err := store.NewSweeper(purger, cfg.Store.SweepCron)
		if err != nil {
			logger.WarnCF("gateway", "Expiry sweeper disabled", map[string]interface{}{"error": err.Error()})
		} else {
			go sweeper.Run(ctx)
		}
	}

	server := newGatewayServer(cfg.Gateway.Host, cfg.Gateway.Port, eng.orch, prometheus.DefaultGatherer, channelManager)
	serverErr := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()
	fmt.Fprintf(out, "✓ HTTP server on %s (/health, /ready, /metrics, POST /v1/turn)\n", server.srv.Addr)

	go func() {
		if err := eng.loop.Run(ctx); err != nil {
			logger.ErrorCF("gateway", "Agent loop stopped", map[string]interface{}{"error": err.Error()})
		}
	}()
	fmt.Fprintln(out, "Press Ctrl+C to stop")

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		logger.ErrorCF("gateway", "HTTP server error", map[string]interface{}{"error": err.Error()})
	}

	fmt.Fprintln(out, "\nShutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = server.Stop(shutdownCtx)
	_ = channelManager.StopAll(shutdownCtx)
	fmt.Fprintln(out, "✓ Gateway stopped")
	return nil
}

func newClassifyCommand() *cobra.Command {
	var language string

	cmd := &cobra.Command{
		Use:     "classify <text>",
		Short:   "Show the emotion, intent and voice BMO would detect for a message",
		Example: "  bmo classify \"ana ta3ban barcha\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			emo := classifier.NewDefaultEmotionClassifier().Classify(text)
			intent := classifier.NewDefaultIntentClassifier().Classify(text)
			voice := classifier.VoiceFor(emo.Category, language)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Emotion: %s (confidence %.2f)\n", emo.Category, emo.Confidence)
			for _, e := range classifier.Emotions() {
				if s := emo.Scores[e]; s > 0 {
					fmt.Fprintf(out, "  %-10s %d\n", e, s)
				}
			}
			fmt.Fprintf(out, "Intent: %s (confidence %.2f)\n", intent.Category, intent.Confidence)
			fmt.Fprintf(out, "Voice: %s, pitch %+.0f, rate %.1f (%s)\n", voice.VoiceName, voice.Pitch, voice.SpeakingRate, voice.Description)
			fmt.Fprintf(out, "Proverb themes: %s\n", strings.Join(retrieval.ThemesFor(emo.Category), ", "))
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "Language hint for the voice (ar-tn, ar, fr, en)")
	return cmd
}

func newProverbCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "proverb",
		Short: "Browse the Tunisian proverb corpus",
	}

	root.AddCommand(&cobra.Command{
		Use:     "random",
		Short:   "Print a random proverb",
		Example: "  bmo proverb random",
		RunE: func(cmd *cobra.Command, args []string) error {
			selector, err := loadProverbSelector(cmd.Context())
			if err != nil {
				return err
			}
			p, ok := selector.Random()
			if !ok {
				return fmt.Errorf("no proverbs loaded")
			}
			printProverb(cmd.OutOrStdout(), selector, p.Text, p.Theme)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:     "emotion <name>",
		Short:   "List the proverbs themed for an emotion",
		Example: "  bmo proverb emotion sad",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := classifier.ParseEmotion(args[0])
			if err != nil {
				return err
			}
			selector, err := loadProverbSelector(cmd.Context())
			if err != nil {
				return err
			}
			list := selector.ByEmotion(e)
			out := cmd.OutOrStdout()
			if len(list) == 0 {
				fmt.Fprintf(out, "No proverbs themed for %s (%s)\n", e, strings.Join(retrieval.ThemesFor(e), ", "))
				return nil
			}
			for _, p := range list {
				printProverb(out, selector, p.Text, p.Theme)
			}
			return nil
		},
	})
	return root
}

func loadProverbSelector(ctx context.Context) (*retrieval.ProverbSelector, error) {
	cfg, err := loadConfig(false)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	_, proverbs := loadCorpora(ctx, cfg)
	return retrieval.NewProverbSelector(proverbs, nil), nil
}

func printProverb(out io.Writer, selector *retrieval.ProverbSelector, text, theme string) {
	line := text
	if theme != "" {
		line += "  [" + theme + "]"
	}
	if img, ok := selector.ImageFor(text); ok {
		line += "  (" + img + ")"
	}
	fmt.Fprintln(out, line)
}

func newLearnCommand() *cobra.Command {
	var (
		session string
		topic   string
	)
	cmd := &cobra.Command{
		Use:     "learn <correction>",
		Short:   "Teach BMO something about a user",
		Example: "  bmo learn --session cli:amira --topic music \"prefers mezoued over rap\"",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sessions, closeFn, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			p, err := sessions.Learn(cmd.Context(), session, topic, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Learned for %s:\n%s\n", session, p.Learned)
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSessionKey, "Session id")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "Optional topic for the correction")
	return cmd
}

func newSetNameCommand() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:     "set-name <name>",
		Short:   "Set the name BMO uses for a user",
		Example: "  bmo set-name --session cli:amira Amira",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sessions, closeFn, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			p, err := sessions.SetName(cmd.Context(), session, strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Name for %s set to %s\n", session, p.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSessionKey, "Session id")
	return cmd
}

func newProfileCommand() *cobra.Command {
	var session string
	cmd := &cobra.Command{
		Use:     "profile",
		Short:   "Print a user's stored profile as JSON",
		Example: "  bmo profile --session cli:amira",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			sessions, closeFn, err := openSessions(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closeFn()
			p, err := sessions.LoadProfile(cmd.Context(), session)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(p)
		},
	}
	cmd.Flags().StringVarP(&session, "session", "s", defaultSessionKey, "Session id")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "status",
		Short:   "Show configuration and provider readiness",
		Example: "  bmo status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(false)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			out := cmd.OutOrStdout()
			configPath := getConfigPath()

			fmt.Fprintf(out, "%s Status\n", appName)
			fmt.Fprintf(out, "Version: %s\n\n", formatVersion())
			if _, err := os.Stat(configPath); err == nil {
				fmt.Fprintln(out, "Config:", configPath, "✓")
			} else {
				fmt.Fprintln(out, "Config:", configPath, "(defaults)")
			}

			provider, configured, mode, credErr := providers.ProviderCredentialStatus(cfg)
			credStatus := "not set"
			if credErr != nil {
				credStatus = credErr.Error()
			} else if configured {
				credStatus = "✓ (" + mode + ")"
			}
			fmt.Fprintf(out, "Provider: %s\n", provider)
			fmt.Fprintf(out, "Model: %s\n", cfg.Agent.Model)
			fmt.Fprintf(out, "Credentials: %s\n", credStatus)
			fmt.Fprintf(out, "Embedding: %s (%s)\n", valueOr(cfg.Embedding.Provider, "ollama"), cfg.Embedding.Model)
			fmt.Fprintf(out, "Store: %s\n", valueOr(cfg.Store.Backend, "redis"))
			fmt.Fprintf(out, "Dialogue corpus: %s\n", valueOr(cfg.Corpus.DialogueURL, "built-in"))
			fmt.Fprintf(out, "Proverb corpus: %s\n", valueOr(cfg.Corpus.ProverbsURL, "built-in"))

			discord := "disabled"
			if cfg.Channels.Discord.Enabled {
				discord = "token not set"
				if strings.TrimSpace(cfg.Channels.Discord.Token) != "" {
					discord = "✓"
				}
			}
			fmt.Fprintf(out, "Discord: %s\n", discord)
			fmt.Fprintf(out, "Gateway: %s:%d\n", cfg.Gateway.Host, cfg.Gateway.Port)
			return nil
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "version",
		Short:   "Show build/version metadata",
		Example: "  bmo version",
		RunE: func(cmd *cobra.Command, args []string) error {
			printVersion(cmd.OutOrStdout())
			return nil
		},
	}
}

func valueOr(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}
