package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"chatsum/internal/admin"
	"chatsum/internal/agent"
	"chatsum/internal/bus"
	"chatsum/internal/config"
	"chatsum/internal/domain"
	"chatsum/internal/forward"
	"chatsum/internal/logging"
	"chatsum/internal/onebot"
	"chatsum/internal/provider"
	"chatsum/internal/render"

	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the OneBot host and answer triggers",
		Long:  "Connects to the OneBot forward websocket, dispatches triggers and serves the optional admin endpoint. Press Ctrl+C to stop.",
		RunE:  runBot,
	}
}

func runBot(cmd *cobra.Command, args []string) error {
	cfg, cfgPath, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger, closer, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	defer closer.Close()
	logger = appLogger
	logger.Info("starting chatsum", "version", version, "config", cfgPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	messageBus := bus.New(100, logger)

	host := onebot.New(onebot.Config{
		URL:            cfg.OneBot.URL,
		AccessToken:    cfg.OneBot.AccessToken,
		ActionTimeout:  config.Seconds(cfg.OneBot.ActionTimeoutSeconds),
		ReconnectDelay: config.Seconds(cfg.OneBot.ReconnectDelaySeconds),
		Bus:            messageBus,
		Logger:         logger,
	})

	prov := buildProvider(cfg)
	if err := prov.Healthy(ctx); err != nil {
		logger.Warn("LLM endpoint unhealthy at startup", "provider", prov.Name(), "err", err)
	} else {
		logger.Info("LLM endpoint healthy", "provider", prov.Name())
	}

	var renderer domain.Renderer
	if cfg.Render.Enabled {
		chrome := newChrome(cfg)
		defer chrome.Close()
		renderer = chrome
	} else {
		logger.Info("rendering disabled, replies are sent as text")
	}

	handlers := buildHandlers(cfg, host, host, prov, renderer)
	loop := agent.NewLoop(agent.LoopConfig{
		Bus:    messageBus,
		Router: agent.NewRouter(cfg.Triggers.Summarize, cfg.Triggers.Identify),
		Handlers: map[agent.Command]agent.HandlerFunc{
			agent.CommandSummarize: handlers.Summarize,
			agent.CommandIdentify:  handlers.Identify,
		},
		UserLimiter: buildUserLimiter(cfg.Dispatch),
		Concurrency: cfg.Dispatch.Concurrency,
		Logger:      logger,
	})

	hostDone := make(chan struct{})
	go func() {
		defer close(hostDone)
		if err := host.Run(ctx); err != nil {
			logger.Error("onebot client stopped", "err", err)
			stop()
		}
	}()

	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		loop.Run(ctx)
	}()

	if cfg.Admin.Enabled {
		srv := admin.NewServer(admin.ServerConfig{Addr: cfg.Admin.Addr, Host: host, Logger: logger})
		go func() {
			if err := srv.Run(ctx); err != nil {
				logger.Error("admin server error", "err", err)
			}
		}()
	}

	logger.Info("chatsum started. Press Ctrl+C to stop.",
		"summarize", cfg.Triggers.Summarize, "identify", cfg.Triggers.Identify)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-loopDone
		<-hostDone
		messageBus.Close()
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
		return nil
	case <-shutdownCtx.Done():
		logger.Warn("shutdown timed out, forcing exit")
		return fmt.Errorf("shutdown timed out")
	}
}

// buildProvider returns the primary endpoint, wrapped in a failover chain
// when fallbacks are configured.
func buildProvider(cfg *config.Config) domain.Provider {
	timeout := config.Seconds(cfg.LLM.TimeoutSeconds)
	httpClient := provider.SharedHTTPClient(timeout)

	primary := provider.NewOpenAI(provider.OpenAIConfig{
		Name:       "primary",
		APIKey:     cfg.LLM.APIKey,
		APIBase:    cfg.LLM.APIBase,
		Model:      cfg.LLM.Model,
		Timeout:    timeout,
		MaxRetries: cfg.LLM.MaxRetries,
		HTTPClient: httpClient,
		Logger:     logger,
	})
	if len(cfg.LLM.Fallbacks) == 0 {
		return primary
	}

	chain := []domain.Provider{primary}
	for i, fb := range cfg.LLM.Fallbacks {
		name := fb.Name
		if name == "" {
			name = fmt.Sprintf("fallback-%d", i+1)
		}
		chain = append(chain, provider.NewOpenAI(provider.OpenAIConfig{
			Name:       name,
			APIKey:     fb.APIKey,
			APIBase:    fb.APIBase,
			Model:      fb.Model,
			Timeout:    timeout,
			MaxRetries: cfg.LLM.MaxRetries,
			HTTPClient: httpClient,
			Logger:     logger,
		}))
	}
	return provider.NewFailoverProvider(chain, logger)
}

func buildHandlers(cfg *config.Config, source domain.MessageSource, replier domain.Replier, prov domain.Provider, renderer domain.Renderer) *agent.Handlers {
	fetcher := forward.NewFetcher(source, logger)
	extractor := forward.NewExtractor(forward.ExtractorConfig{
		Resolver: fetcher.WithBudget(fetchBudget(cfg.Retry.Nested)),
		MaxDepth: cfg.Extract.MaxDepth,
		Logger:   logger,
	})

	var llmLimiter *agent.RateLimiter
	if cfg.Dispatch.LLMRatePerMinute > 0 {
		llmLimiter = agent.NewRateLimiter(cfg.Dispatch.Concurrency, float64(cfg.Dispatch.LLMRatePerMinute))
	}

	return agent.NewHandlers(agent.HandlersConfig{
		Source:      source,
		Replier:     replier,
		Provider:    prov,
		Renderer:    renderer,
		Fetcher:     fetcher,
		Extractor:   extractor,
		TopLevel:    fetchBudget(cfg.Retry.TopLevel),
		Model:       cfg.LLM.Model,
		Persona:     cfg.Prompts.System,
		Instruction: cfg.Prompts.Identify,
		LLMLimiter:  llmLimiter,
		Logger:      logger,
	})
}

func fetchBudget(b config.BudgetConfig) forward.Budget {
	return forward.Budget{Attempts: b.Attempts, BaseDelay: config.Millis(b.BaseDelayMs)}
}

func buildUserLimiter(cfg config.DispatchConfig) *agent.UserLimiter {
	if cfg.RateBurst <= 0 {
		return nil
	}
	return agent.NewUserLimiter(cfg.RateBurst, float64(cfg.RatePerMinute))
}

func newChrome(cfg *config.Config) *render.Chrome {
	return render.NewChrome(render.ChromeConfig{
		ExecPath:  cfg.Render.ChromePath,
		NoSandbox: cfg.Render.NoSandbox,
		Width:     cfg.Render.Width,
		Timeout:   config.Seconds(cfg.Render.TimeoutSeconds),
		Logger:    logger,
	})
}
