package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"appforge/internal/appdb"
	"appforge/internal/config"
	"appforge/internal/engine"
	"appforge/internal/llm"
	"appforge/internal/logging"
	"appforge/internal/runner"
	"appforge/internal/server"
	"appforge/internal/todo"
	"appforge/internal/tools"
	"appforge/internal/workspace"
)

const systemPrompt = `You are an expert app-building assistant working inside a local project.

You act on the project through command blocks embedded in your replies:

  <forge-write path="src/App.tsx" description="what changed">full file contents</forge-write>
  <forge-edit path="src/App.tsx" description="what changed">search/replace blocks</forge-edit>
  <forge-rename from="old/path" to="new/path"></forge-rename>
  <forge-delete path="obsolete/file"></forge-delete>
  <forge-tool name="tool_name">{"arg": "value"}</forge-tool>
  <forge-status title="Installing dependencies" state="working"></forge-status>

Rules:
- Write complete files with forge-write; never elide content.
- For small changes prefer forge-edit with exact SEARCH text.
- Track multi-step work with the update_todos tool and keep statuses current.
- When you are done, reply with prose only and no command blocks.`

func newServeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine and its UI bridge",
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "appforge.yaml", "path to the config file")
	return cmd
}

func serve(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := logging.New(cfg.Debug)
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer log.Sync()

	ws, err := workspace.New(cfg.ProjectRoot)
	if err != nil {
		return fmt.Errorf("open workspace: %w", err)
	}
	todos := todo.NewStore(cfg.ProjectRoot, log)
	dbPath := cfg.DatabasePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.ProjectRoot, ".appforge", "app.db")
	}
	db := appdb.Open(dbPath)
	defer db.Close()
	run := runner.New(cfg.ProjectRoot, log)
	defer run.Stop()

	policies, err := config.OpenPolicies(cfg.ProjectRoot)
	if err != nil {
		return fmt.Errorf("open consent policies: %w", err)
	}

	// The bridge is constructed after the controller; the closure defers
	// the lookup until a consent request actually fires.
	var bridge *server.Server
	gate := tools.NewGate(policies, func(req tools.ConsentRequest) {
		if bridge != nil {
			bridge.NotifyConsent(req)
		}
	}, log)

	registry := tools.NewRegistry(gate, log)
	deps := &tools.Deps{
		Workspace:  ws,
		Todos:      todos,
		DB:         db,
		Runner:     run,
		AppCommand: cfg.AppCommand,
	}
	tools.RegisterCatalog(registry, deps)

	client := llm.NewChatClient(cfg.Model.BaseURL, cfg.Model.Token(), cfg.Model.Name)
	ctrl := engine.New(client, registry, todos, engine.Config{
		Model:          cfg.Model.Name,
		SystemPrompt:   systemPrompt,
		MaxPasses:      cfg.MaxPasses,
		ReminderBudget: cfg.ReminderBudget,
		Explore:        cfg.Explore,
	}, log)
	defer ctrl.Shutdown()
	deps.Delegate = ctrl.Delegate

	bridge = server.New(cfg.Listen, ctrl, log)

	errCh := make(chan error, 1)
	go func() { errCh <- bridge.ListenAndServe() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case s := <-sig:
		log.Info("shutting down", zap.String("signal", s.String()))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return bridge.Shutdown(ctx)
}
