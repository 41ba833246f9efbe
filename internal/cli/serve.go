package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mihulabs/mihu/internal/config"
	"github.com/mihulabs/mihu/internal/janitor"
	"github.com/mihulabs/mihu/internal/logger"
	"github.com/mihulabs/mihu/internal/server"
	"github.com/mihulabs/mihu/internal/tracing"
	"github.com/mihulabs/mihu/pkg/agent"
	"github.com/mihulabs/mihu/pkg/commandqueue"
	"github.com/mihulabs/mihu/pkg/conversation"
	"github.com/mihulabs/mihu/pkg/respcache"
	"github.com/mihulabs/mihu/pkg/tools"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Mihu agent server",
	Long: `Run the Mihu agent server in the foreground. The server exposes the
chat endpoint, the cache and conversation administration endpoints, and
Prometheus metrics.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(cfgFile).Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}

	lg, err := logger.New(logger.Config{
		Level:   cfg.Logging.Level,
		File:    cfg.Logging.File,
		Console: true,
		Pretty:  cfg.Logging.Pretty,
	})
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer lg.Close()
	zl := lg.GetZerolog()

	tracing.InitOpenTelemetry("mihu", version)
	defer tracing.ShutdownOpenTelemetry(context.Background())

	store := conversation.New(conversation.Options{
		MaxHistory:  cfg.Conversation.MaxHistory,
		IdleTimeout: cfg.Conversation.IdleTimeout,
		Logger:      zl,
	})
	cache := respcache.New(respcache.Options{
		MaxEntries: cfg.Cache.MaxEntries,
		Logger:     zl,
	})
	queue := commandqueue.New()
	defer queue.Close()

	executor := tools.NewExecutor()
	search := tools.NewTavilyClient(cfg.Tools.TavilyAPIKey, cfg.Tools.SearchTimeout)
	if err := tools.RegisterWebSearch(executor, search); err != nil {
		return fmt.Errorf("register webSearch: %w", err)
	}

	var provider agent.LLMProvider
	if cfg.HasCredentials() {
		provider, err = agent.NewProvider(cfg.AI)
		if err != nil {
			return fmt.Errorf("init provider: %w", err)
		}
	} else {
		zl.Warn().Msg("No AI credentials configured, replies will be degraded")
	}

	runner := agent.New(agent.Options{
		AI:       cfg.AI,
		Provider: provider,
		Store:    store,
		Cache:    cache,
		Tools:    executor,
		Queue:    queue,
		Logger:   zl,
	})

	sweeper, err := janitor.New(janitor.Options{
		Store:         store,
		Cache:         cache,
		SessionsEvery: cfg.Conversation.SweepInterval,
		CacheEvery:    cfg.Cache.SweepInterval,
		Logger:        zl,
	})
	if err != nil {
		return fmt.Errorf("init janitor: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv, err := server.NewServer(server.Options{
		Host:   cfg.Server.Host,
		Port:   cfg.Server.Port,
		Runner: runner,
		Logger: zl,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		zl.Info().Str("signal", sig.String()).Msg("Shutting down")
		return srv.Stop()
	case err := <-errCh:
		return err
	}
}
