package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"agenthive/internal/config"
	"agenthive/internal/llm"
	"agenthive/internal/logging"
	"agenthive/internal/runtime"
	"agenthive/internal/server"
)

// Version is stamped by the build.
var Version = "0.3.0-dev"

var (
	// Global flags
	verbose    bool
	workspace  string
	configPath string

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "hive",
	Short: "agenthive - multi-agent coordination runtime",
	Long: `agenthive runs a hierarchy of cooperating agents behind one HTTP surface.

A submitted requirement becomes a task for the root coordinator agent, which
spawns specialized child agents, exchanges messages with them over the
internal bus, and reports results back to the user endpoint. Artifacts,
long-running media jobs, and a websocket-connected web client are exposed to
agents as tool modules.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// serveCmd runs the coordination runtime and its HTTP surface.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordination runtime and HTTP API",
	Long: `Starts the runtime and serves the API:

  POST /v0/tasks          submit a requirement, returns its task id
  POST /v0/messages       send a message to an agent
  GET  /v0/messages/wait  block for the next agent message to the user
  GET  /v0/artifacts/{id} read a completed artifact
  GET  /v0/agents         list the agent hierarchy
  GET  /v0/ui/ws          attach the web client session`,
	RunE: runServe,
}

// validateCmd checks the configuration without starting anything.
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		fmt.Printf("%s is valid (provider=%s, artifacts=%s, addr=%s)\n",
			configPath, cfg.LLM.Provider, cfg.Artifacts.Backend, cfg.Server.Addr)
		return nil
	},
}

// rolesCmd prints the tool groups a fresh runtime would expose.
var rolesCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tool definitions agents can be granted",
	RunE:  runListTools,
}

// versionCmd prints version information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("agenthive %s\n", Version)
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "hive.yaml", "configuration file")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(rolesCmd)
	rootCmd.AddCommand(versionCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logging.Initialize(workspace, loggingSettings(cfg)); err != nil {
		return err
	}

	provider, err := buildProvider(cmd.Context(), cfg)
	if err != nil {
		return err
	}

	rt, err := runtime.New(runtime.Options{Config: cfg, Provider: provider})
	if err != nil {
		return fmt.Errorf("building runtime: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	defer rt.Close()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(rt).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("serving", zap.String("addr", cfg.Server.Addr), zap.String("provider", cfg.LLM.Provider))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.GetShutdownTimeout())
		defer cancel()
		logger.Info("shutting down")
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// loggingSettings maps the YAML logging section onto the category logger
// settings. The verbose flag forces debug logging on regardless of config.
func loggingSettings(cfg *config.Config) logging.Settings {
	s := logging.Settings{
		Enabled:    cfg.Logging.Enabled,
		Level:      cfg.Logging.Level,
		Categories: cfg.Logging.Categories,
		JSONFormat: cfg.Logging.JSONFormat,
	}
	if verbose {
		s.Enabled = true
		s.Level = "debug"
	}
	return s
}

func buildProvider(ctx context.Context, cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "mock":
		return llm.NewMockProvider("No actions."), nil
	default:
		return llm.NewGenAIProvider(ctx, cfg.LLM.APIKey, cfg.LLM.Model)
	}
}

func runListTools(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	cfg.LLM.Provider = "mock"
	cfg.Artifacts.Backend = "memory"

	rt, err := runtime.New(runtime.Options{Config: cfg, Provider: llm.NewMockProvider()})
	if err != nil {
		return err
	}
	defer rt.Close()

	reg := rt.Dispatcher().Registry()
	for _, group := range reg.Groups() {
		fmt.Printf("%s:\n", group)
		for _, def := range reg.DefinitionsFor([]string{group}) {
			schema, err := json.Marshal(def.Schema)
			if err != nil {
				schema = []byte("{}")
			}
			fmt.Printf("  %-18s %s\n", def.Name, def.Description)
			fmt.Printf("  %s %s\n", strings.Repeat(" ", 18), schema)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
