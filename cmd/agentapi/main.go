// Command agentapi runs the OpenAI-compatible streaming front of the code
// execution agent. Tool calls are routed to the tool server over MCP.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/codexec/codexec/internal/agent"
	"github.com/codexec/codexec/internal/agentapi"
	"github.com/codexec/codexec/internal/config"
	"github.com/codexec/codexec/internal/mcpclient"
	"github.com/codexec/codexec/internal/promptcache"
	"github.com/codexec/codexec/internal/session"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "agentapi",
		Short:         "OpenAI-compatible agent API",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "", "path to YAML config file")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	log, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer log.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	log.Info("starting agent API",
		zap.String("mcp_server_url", cfg.MCPServerURL),
		zap.String("default_model", cfg.DefaultModel),
		zap.Int("port", cfg.AgentAPIPort))

	sessions := session.NewStore(cfg.SessionTimeout, log)
	stopJanitor := make(chan struct{})
	sessions.StartJanitor(5*time.Minute, stopJanitor)
	defer close(stopJanitor)

	prompts := promptcache.New(&mcpclient.PromptFetcher{
		ServerURL:  cfg.MCPServerURL,
		PromptName: "agent_system_prompt",
		Log:        log,
	}, cfg.PromptCacheTTL, cfg.FallbackPrompt, log)

	manager := agent.NewManager(agent.Config{
		MCPServerURL: cfg.MCPServerURL,
		Model:        cfg.DefaultModel,
		APIKey:       cfg.ModelAPIKey,
		BaseURL:      cfg.ModelBaseURL,
		AgentName:    cfg.AgentName,
	}, sessions, prompts, log)

	srv := agentapi.New(manager, agentapi.Config{
		DefaultModel: cfg.DefaultModel,
		MCPBaseURL:   cfg.MCPBaseURL(),
		MCPHealthURL: cfg.MCPHealthURL(),
	}, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.AgentAPIHost, cfg.AgentAPIPort),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("agent API listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}
