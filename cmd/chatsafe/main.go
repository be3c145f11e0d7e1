package main

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/application"
	"github.com/everettbu/chatsafe/internal/infrastructure/config"
	"github.com/everettbu/chatsafe/internal/infrastructure/logger"
	"github.com/everettbu/chatsafe/internal/infrastructure/registry"
	"github.com/everettbu/chatsafe/internal/interfaces/cli"
)

const cliName = "chatsafe"

func main() {
	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "ChatSafe, a local OpenAI-compatible gateway for llama.cpp",
		Long:  "ChatSafe supervises a llama-server subprocess and exposes a loopback-only, OpenAI-compatible chat completion API with SSE streaming.",
		RunE:  runServe,
	}
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default ~/.chatsafe/config.yaml)")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the gateway (default)",
		RunE:  runServe,
	})

	chatCmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Interactive chat against a running gateway",
		Args:  cobra.ArbitraryArgs,
		RunE:  runChat,
	}
	chatCmd.Flags().StringP("server", "s", "", "gateway URL (default from config)")
	chatCmd.Flags().StringP("model", "m", "", "model id (default from gateway)")
	chatCmd.Flags().Bool("plain", false, "stream raw text instead of rendered markdown")
	rootCmd.AddCommand(chatCmd)

	modelsCmd := &cobra.Command{
		Use:   "models",
		Short: "List models in the local registry",
		RunE:  runModels,
	}
	modelsCmd.Flags().Bool("json", false, "print the full registry as JSON")
	rootCmd.AddCommand(modelsCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "doctor",
		Short: "Check the local setup",
		RunE:  runDoctor,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, application.Version)
		},
	})

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ─── Gateway Server Mode ───

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	output := cfg.Log.File
	if output == "" {
		output = "stderr"
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		OutputPath: output,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return fmt.Errorf("logger init: %w", err)
	}
	defer log.Sync()

	log.Info("Starting ChatSafe",
		zap.String("version", application.Version),
		zap.String("addr", cfg.ServerAddr()),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := application.New(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize application", zap.Error(err))
	}

	if err := app.Start(ctx); err != nil {
		log.Fatal("Failed to start application", zap.Error(err))
	}

	// Wait for shutdown signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		os.Exit(1)
	}

	log.Info("Application stopped successfully")
	return nil
}

// ─── Interactive Chat Mode ───

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	serverURL, _ := cmd.Flags().GetString("server")
	if serverURL == "" {
		serverURL = "http://" + cfg.ServerAddr()
	}
	model, _ := cmd.Flags().GetString("model")
	plain, _ := cmd.Flags().GetBool("plain")

	initPrompt := ""
	if len(args) > 0 {
		initPrompt = strings.Join(args, " ")
	}

	return cli.RunREPL(cli.NewClient(serverURL), cli.REPLConfig{
		ServerURL:  serverURL,
		Model:      model,
		Plain:      plain,
		InitPrompt: initPrompt,
	})
}

// ─── Registry Listing ───

func runModels(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	reg, err := registry.Load(cfg.RegistryPath(), cfg.Models.Directory, zap.NewNop())
	if err != nil {
		return fmt.Errorf("registry: %w", err)
	}

	if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
		out, err := reg.Export()
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	}

	for _, mc := range reg.ModelConfigs() {
		mark := " "
		if mc.Default {
			mark = "*"
		}
		status := "missing"
		if path, err := reg.ModelPath(mc.ID); err == nil {
			if _, err := os.Stat(path); err == nil {
				status = "ready"
			}
		}
		fmt.Printf("%s %-40s %-14s %6d ctx  %s\n", mark, mc.ID, mc.Name, mc.CtxWindow, status)
	}
	return nil
}

// ─── Doctor ───

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Printf("◇ ChatSafe Doctor v%s\n\n", application.Version)

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	checks := []struct {
		name  string
		check func() (string, bool)
	}{
		{"Config", checkConfig},
		{"Engine", func() (string, bool) { return checkEngine(cfg) }},
		{"Models", func() (string, bool) { return checkModels(cfg) }},
		{"Gateway", func() (string, bool) { return checkGateway(cfg) }},
	}

	allOK := true
	for _, c := range checks {
		val, ok := c.check()
		icon := "\033[92m✓\033[0m"
		if !ok {
			icon = "\033[91m✗\033[0m"
			allOK = false
		}
		fmt.Printf("  %s %s: %s\n", icon, c.name, val)
	}

	fmt.Println()
	if allOK {
		fmt.Println("All checks passed ✓")
	} else {
		fmt.Println("Some checks failed, see above")
	}
	return nil
}

func checkConfig() (string, bool) {
	path := filepath.Join(config.HomeDir(), "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return path, true
	}
	return "no config file, running on defaults", true
}

func checkEngine(cfg *config.Config) (string, bool) {
	path, err := exec.LookPath(cfg.Engine.Binary)
	if err != nil {
		return fmt.Sprintf("%s not found in PATH", cfg.Engine.Binary), false
	}
	return path, true
}

func checkModels(cfg *config.Config) (string, bool) {
	reg, err := registry.Load(cfg.RegistryPath(), cfg.Models.Directory, zap.NewNop())
	if err != nil {
		return err.Error(), false
	}
	ids := reg.ListModels()
	ready := 0
	for _, id := range ids {
		if path, err := reg.ModelPath(id); err == nil {
			if _, err := os.Stat(path); err == nil {
				ready++
			}
		}
	}
	return fmt.Sprintf("%d registered, %d weights present", len(ids), ready), ready > 0
}

func checkGateway(cfg *config.Config) (string, bool) {
	client := cli.NewClient("http://"+cfg.ServerAddr(), cli.WithTimeout(2*time.Second))
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	health, err := client.Health(ctx)
	if err != nil {
		return "not running", false
	}
	return fmt.Sprintf("%s (v%s, up %ds)", health.Status, health.Version, health.UptimeSeconds), health.Status != "unhealthy"
}
