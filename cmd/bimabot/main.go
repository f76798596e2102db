package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bimabot/internal/agent"
	"bimabot/internal/bus"
	"bimabot/internal/channel"
	"bimabot/internal/config"
	"bimabot/internal/domain"
	"bimabot/internal/language"
	"bimabot/internal/metrics"
	"bimabot/internal/provider"
	"bimabot/internal/session"
	"bimabot/internal/survey"

	"github.com/spf13/cobra"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "bimabot",
		Short: "BimaBot: multilingual insurance survey assistant",
		Long:  "BimaBot talks to customers over Telegram, Web, and CLI, runs a short intake survey, and answers policy questions in the customer's language.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.bimabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(gatewayCmd())
	root.AddCommand(sessionsCmd())
	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize config and data directories",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgDir := config.DefaultConfigDir()
			cfgPath := config.DefaultConfigPath()
			if err := os.MkdirAll(cfgDir, 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(cfg.General.StaticDir, 0o755); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath, "static", cfg.General.StaticDir)
			return nil
		},
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func applyLogLevel(level string) {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

// runtime holds the wired-up core shared by the chat and gateway commands.
type runtime struct {
	store        *session.SQLiteStore
	orchestrator *agent.Orchestrator
	collector    *metrics.MetricsCollector
}

func (rt *runtime) close() {
	rt.store.Close()
}

// buildRuntime wires config into the orchestrator and its
// collaborators. messageBus may be nil for direct-only callers (CLI).
func buildRuntime(cfg *config.Config, messageBus domain.MessageBus) (*runtime, error) {
	store, err := session.NewSQLiteStore(cfg.Session.DBPath, logger)
	if err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}

	translator := provider.NewLLMTranslator(provider.LLMTranslatorConfig{
		APIBase: cfg.Providers.Translator.APIBase,
		APIKey:  cfg.Providers.Translator.APIKey,
		Model:   cfg.Providers.Translator.Model,
		Logger:  logger,
	})

	whisper := provider.NewWhisper(provider.WhisperConfig{
		APIBase:      cfg.Providers.Transcription.APIBase,
		APIKey:       cfg.Providers.Transcription.APIKey,
		Model:        cfg.Providers.Transcription.Model,
		DownloadUser: cfg.Providers.Transcription.DownloadUser,
		DownloadPass: cfg.Providers.Transcription.DownloadPass,
		Logger:       logger,
	})

	retrieval := provider.NewRetrieval(provider.RetrievalConfig{
		BaseURL: cfg.Providers.Retrieval.BaseURL,
		APIKey:  cfg.Providers.Retrieval.APIKey,
		Logger:  logger,
	})

	var script *survey.Script
	if cfg.Survey.ScriptPath != "" {
		script, err = survey.LoadScript(cfg.Survey.ScriptPath)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("survey script: %w", err)
		}
		logger.Info("survey script loaded", "path", cfg.Survey.ScriptPath)
	}

	engine := survey.NewEngine(survey.Config{
		Recommender:  retrieval,
		ResetKeyword: cfg.Survey.ResetKeyword,
		Script:       script,
		Logger:       logger,
	})

	pipeline := language.NewPipeline(language.Config{
		Translator: translator,
		Pivot:      cfg.Language.Pivot,
		Keywords:   cfg.Language.Keywords,
		Logger:     logger,
	})

	effectsCfg := agent.EffectsConfig{Logger: logger}
	if cfg.Providers.TTS.Enabled {
		if err := os.MkdirAll(cfg.General.StaticDir, 0o755); err != nil {
			store.Close()
			return nil, fmt.Errorf("static dir: %w", err)
		}
		effectsCfg.Synthesizer = provider.NewTTS(provider.TTSConfig{
			APIBase:  cfg.Providers.TTS.APIBase,
			APIKey:   cfg.Providers.TTS.APIKey,
			Model:    cfg.Providers.TTS.Model,
			Voices:   cfg.Providers.TTS.Voices,
			CacheDir: cfg.General.StaticDir,
			BaseURL:  cfg.General.PublicBaseURL,
			Logger:   logger,
		})
	}
	if cfg.Providers.Reports.Enabled {
		effectsCfg.Reports = provider.NewReport(provider.ReportConfig{
			BaseURL: cfg.Providers.Reports.BaseURL,
			APIKey:  cfg.Providers.Reports.APIKey,
			Logger:  logger,
		})
	}
	effects := agent.NewEffects(effectsCfg)

	collector := metrics.Collector

	orchestrator := agent.NewOrchestrator(agent.Config{
		Store:          store,
		Survey:         engine,
		Language:       pipeline,
		Transcriber:    whisper,
		Retriever:      retrieval,
		Effects:        effects,
		Bus:            messageBus,
		Logger:         logger,
		Disclaimer:     cfg.General.Disclaimer,
		RestartKeyword: cfg.Survey.RestartKeyword,
		Concurrency:    cfg.General.Concurrency,
	})

	return &runtime{store: store, orchestrator: orchestrator, collector: collector}, nil
}

func chatCmd() *cobra.Command {
	var userID string
	var voice bool
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start interactive chat (CLI)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
				cfg = config.Defaults()
			}
			applyLogLevel(cfg.General.LogLevel)

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			rt, err := buildRuntime(cfg, nil)
			if err != nil {
				return err
			}
			defer rt.close()

			cliCh := channel.NewCLI(channel.CLIConfig{
				Processor: rt.orchestrator,
				Logger:    logger,
				UserID:    userID,
				Voice:     voice || cfg.Channels.CLI.Voice,
			})
			return cliCh.Start(ctx, nil)
		},
	}
	cmd.Flags().StringVar(&userID, "user", "cli_user", "session user ID")
	cmd.Flags().BoolVar(&voice, "voice", false, "request spoken replies")
	return cmd
}

func sessionsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List stored survey sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				cfg = config.Defaults()
			}

			store, err := session.NewSQLiteStore(cfg.Session.DBPath, logger)
			if err != nil {
				return fmt.Errorf("session store: %w", err)
			}
			defer store.Close()

			sessions, err := store.ListAll(context.Background())
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				fmt.Println("no sessions")
				return nil
			}
			for _, s := range sessions {
				lang := s.Language
				if lang == "" {
					lang = "-"
				}
				fmt.Printf("%-24s step=%-15s lang=%-3s answers=%d\n", s.UserID, s.Step, lang, len(s.Answers))
			}
			return nil
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show system status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				logger.Info("config", "path", cfgPath, "loaded", false)
				cfg = config.Defaults()
			} else {
				logger.Info("config", "path", cfgPath, "loaded", true)
			}
			logger.Info("version", "version", version)
			logger.Info("session db", "path", cfg.Session.DBPath)
			logger.Info("channels",
				"telegram", cfg.Channels.Telegram.Enabled,
				"web", cfg.Channels.Web.Enabled,
			)
			logger.Info("providers",
				"translator", cfg.Providers.Translator.Model,
				"transcription", cfg.Providers.Transcription.Model,
				"tts", cfg.Providers.TTS.Enabled,
				"retrieval", cfg.Providers.Retrieval.BaseURL,
				"reports", cfg.Providers.Reports.Enabled,
			)
			return nil
		},
	}
}

func gatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Start gateway (Telegram + Web + orchestrator)",
		Long:  "Starts all enabled channels and the turn orchestrator. Press Ctrl+C to stop.",
		RunE:  runGateway,
	}
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyLogLevel(cfg.General.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Message bus (closed during graceful shutdown below)
	messageBus := bus.New(100, logger)

	rt, err := buildRuntime(cfg, messageBus)
	if err != nil {
		return err
	}
	defer rt.close()

	go rt.orchestrator.Run(ctx)

	var telegramCh *channel.Telegram
	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		telegramCh = channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			Logger:    logger,
		})
		go func() {
			if err := telegramCh.Start(ctx, messageBus); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	} else {
		logger.Info("telegram channel disabled")
	}

	var webCh *channel.Web
	if cfg.Channels.Web.Enabled {
		webCfg := channel.WebConfig{
			Host:      cfg.Channels.Web.Host,
			Port:      cfg.Channels.Web.Port,
			StaticDir: cfg.General.StaticDir,
			Processor: rt.orchestrator,
			Logger:    logger,
		}
		if cfg.Metrics.Enabled {
			webCfg.Metrics = rt.collector.Handler()
			webCfg.MetricsPath = cfg.Metrics.Endpoint
		}
		webCh = channel.NewWeb(webCfg)
		go func() {
			if err := webCh.Start(ctx, messageBus); err != nil {
				logger.Error("web channel error", "err", err)
			}
		}()
	}

	logger.Info("gateway started. Press Ctrl+C to stop.")

	// Block until shutdown signal
	<-ctx.Done()
	logger.Info("shutting down gateway...")

	// Graceful shutdown with timeout
	const shutdownTimeout = 10 * time.Second
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		if telegramCh != nil {
			telegramCh.Stop()
		}
		if webCh != nil {
			webCh.Stop()
		}
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		shutdownErr = fmt.Errorf("shutdown timed out")
	}

	return shutdownErr
}
