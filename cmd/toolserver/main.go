// Command toolserver runs the MCP tool server: per-user Docker sandboxes,
// the four execution tools, the agent system prompt, and the HTTP
// side-endpoints for health, skills and artifacts.
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

	"github.com/codexec/codexec/internal/config"
	"github.com/codexec/codexec/internal/sandbox"
	"github.com/codexec/codexec/internal/skills"
	"github.com/codexec/codexec/internal/toolserver"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:           "toolserver",
		Short:         "MCP code-execution tool server",
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

	log.Info("starting tool server",
		zap.String("image", cfg.ExecutorImage),
		zap.Int("port", cfg.ToolServerPort))

	docker, err := sandbox.NewDockerClient()
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer docker.Close()

	mgr := sandbox.NewManager(docker, sandbox.Options{
		Image:             cfg.ExecutorImage,
		ToolsPath:         cfg.ToolsPath,
		SkillsPath:        cfg.SkillsPath,
		ArtifactSizeLimit: cfg.ArtifactSizeLimit,
	}, log)

	// Containers left over from a previous run are unusable: their records
	// died with the process.
	if err := mgr.RemoveOrphans(context.Background()); err != nil {
		log.Warn("orphan cleanup failed", zap.Error(err))
	}

	registry := skills.NewRegistry(cfg.SkillsPath, log)
	srv := toolserver.New(mgr, registry, log)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.ToolServerHost, cfg.ToolServerPort),
		Handler: srv.Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("tool server listening", zap.String("addr", httpServer.Addr))
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http server shutdown error", zap.Error(err))
	}
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		log.Warn("container cleanup error", zap.Error(err))
	}

	log.Info("shutdown complete")
	return nil
}
