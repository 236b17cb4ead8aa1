package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/pagedoctor/internal/analysis"
	"github.com/kalambet/pagedoctor/internal/api"
	"github.com/kalambet/pagedoctor/internal/budget"
	"github.com/kalambet/pagedoctor/internal/config"
	"github.com/kalambet/pagedoctor/internal/crux"
	"github.com/kalambet/pagedoctor/internal/notify"
	"github.com/kalambet/pagedoctor/internal/psi"
	"github.com/kalambet/pagedoctor/internal/schedule"
	"github.com/kalambet/pagedoctor/internal/storage"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the pagedoctor server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		withMCP, _ := cmd.Flags().GetBool("mcp")
		return runServer(withMCP)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running pagedoctor server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pagedoctor system status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus(cmd.Context())
	},
}

func init() {
	startCmd.Flags().Bool("mcp", true, "serve MCP over stdio alongside the HTTP API")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "pagedoctor.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func newLogger(level string) *slog.Logger {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
}

func runServer(withMCP bool) error {
	fmt.Fprintf(os.Stderr, "pagedoctor version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger := newLogger(cfg.Log.Level)
	slog.SetDefault(logger)

	// Ensure API token exists in platform secret store.
	apiToken, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	// Write PID file. Check if server is already running via health endpoint.
	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	if cfg.PSI.APIKey == "" {
		slog.Warn("psi.api_key is not set; PageSpeed Insights runs with the shared keyless quota")
	}
	analyzer := analysis.NewService(psi.NewClient(psi.Config{
		APIKey:  cfg.PSI.APIKey,
		BaseURL: cfg.PSI.BaseURL,
		Timeout: cfg.PSI.TimeoutDuration(),
		Locale:  cfg.PSI.Locale,
	}), nil)

	var fieldData api.FieldData
	if cfg.CrUX.APIKey != "" {
		fieldData = crux.NewClient(crux.Config{
			APIKey:  cfg.CrUX.APIKey,
			BaseURL: cfg.CrUX.BaseURL,
		})
	} else {
		slog.Info("crux.api_key is not set; field data is disabled")
	}

	notifier := notify.Multi{notify.NewLog(logger)}
	if cfg.Notify.Desktop {
		notifier = append(notifier, notify.NewDesktop())
	}

	budgets := budget.NewManager(store)
	schedules := schedule.NewManager(store, notifier)
	runner := schedule.NewRunner(schedule.Deps{
		Jobs:     store,
		History:  store,
		Analyzer: analyzer,
		Budgets:  budgets,
		Notifier: notifier,
		Logger:   logger,
	})

	appHandler := api.NewAppHandler(api.AppDeps{
		Store:     store,
		Analyzer:  analyzer,
		CrUX:      fieldData,
		Budgets:   budgets,
		Schedules: schedules,
		Runner:    runner,
		Token:     apiToken,
		Logger:    logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           appHandler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Catch up on schedules that came due while nothing was running.
	if cfg.Scheduler.RunOnStart {
		go func() {
			if sum, ran := runner.Run(ctx); ran {
				slog.Info("startup schedule scan finished",
					"overdue", sum.Overdue, "succeeded", sum.Succeeded, "failed", sum.Failed)
			}
		}()
	}

	if withMCP {
		mcpSrv := api.NewMCPServer(api.MCPDeps{
			Store:     store,
			Analyzer:  analyzer,
			Budgets:   budgets,
			Schedules: schedules,
			Version:   version,
		})
		stdioSrv := server.NewStdioServer(mcpSrv)
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pagedoctor listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("could not load config: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("pagedoctor is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		removePIDFile(pidPath)
		return fmt.Errorf("could not stop pagedoctor (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to pagedoctor (PID %d)", pid)
	return nil
}

func showStatus(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		// Still show partial status even if config fails.
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}

	running := false
	resp, err := healthClient.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			running = true
			printStatus("Server", "running on port %d", cfg.Server.Port)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("PSI key", "%s", keyState(cfg.PSI.APIKey))
	printStatus("CrUX key", "%s", keyState(cfg.CrUX.APIKey))

	if running {
		client, err := newAPIClient()
		if err == nil {
			if urls, err := fetchList(ctx, client, "/history/urls"); err == nil {
				printStatus("Tracked URLs", "%d", urls)
			}
			if schedules, err := fetchList(ctx, client, "/schedules"); err == nil {
				printStatus("Schedules", "%d", schedules)
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

func keyState(key string) string {
	if key == "" {
		return "not set"
	}
	return "set"
}

// fetchList returns the length of the JSON array served at path.
func fetchList(ctx context.Context, client *apiClient, path string) (int, error) {
	resp, err := client.get(ctx, path)
	if err != nil {
		return 0, err
	}
	var items []any
	if err := decodeJSON(resp, &items); err != nil {
		return 0, err
	}
	return len(items), nil
}
