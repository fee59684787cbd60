package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/kalambet/dreamsynth/internal/api"
	"github.com/kalambet/dreamsynth/internal/chat"
	"github.com/kalambet/dreamsynth/internal/config"
	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/imagegen"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/remote"
	"github.com/kalambet/dreamsynth/internal/storage"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the dreamsynth web server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running dreamsynth server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server and configuration status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "dreamsynth.pid")
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

// setupLogging installs the default slog logger. With a log file configured,
// output goes to both stderr and a rotated file. The returned closer flushes
// the file.
func setupLogging(lc config.LogConfig) io.Closer {
	var w io.Writer = os.Stderr
	var closer io.Closer = io.NopCloser(nil)
	if lc.File != "" {
		lj := &lumberjack.Logger{
			Filename:   lc.File,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
			MaxAge:     28, // days
		}
		w = io.MultiWriter(os.Stderr, lj)
		closer = lj
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lc.SlogLevel()})))
	return closer
}

// buildPipeline wires the three remote clients and the store into a pipeline.
func buildPipeline(cfg config.Config, store pipeline.DreamAppender) *pipeline.Pipeline {
	timeout := cfg.Pipeline.Timeout()

	transcriber := transcribe.NewClient(
		cfg.Transcription.APIKey, cfg.Transcription.Model, cfg.Transcription.Language,
		remote.WithBaseURL(cfg.Transcription.BaseURL),
		remote.WithTimeout(timeout),
	)
	analyzer := emotion.NewAnalyzer(
		chat.NewClient(cfg.Emotion.APIKey,
			remote.WithBaseURL(cfg.Emotion.BaseURL),
			remote.WithTimeout(timeout),
			remote.WithName("emotion"),
		),
		cfg.Emotion.Model,
	)
	images := imagegen.NewClient(cfg.Image.APIKey,
		remote.WithBaseURL(cfg.Image.BaseURL),
		remote.WithTimeout(timeout),
	)

	return pipeline.New(transcriber, analyzer, images, store)
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "dreamsynth version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logCloser := setupLogging(cfg.Log)
	defer logCloser.Close()

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("dreamsynth is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("dreamsynth is already running on port %d", cfg.Server.Port)
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.OpenBackend(cfg.Storage.Backend, cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()
	slog.Info("dream store opened", "backend", cfg.Storage.Backend, "path", cfg.DataPath())

	runner := pipeline.NewRunner(ctx, buildPipeline(cfg, store), cfg.Pipeline.MaxConcurrentRuns)

	if cfg.Server.APIToken == "" {
		slog.Warn("DREAMSYNTH_API_TOKEN not set, /api routes are unauthenticated")
	}
	handler := api.NewAppHandler(api.AppDeps{
		Dreams:   store,
		Runs:     runner,
		Token:    cfg.Server.APIToken,
		DataPath: cfg.DataPath(),
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "dreamsynth listening on http://%s\n", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
	err = srv.Shutdown(shutdownCtx)

	// Runs share ctx, which is already cancelled; wait for them to record it.
	runner.Wait()
	return err
}

func stopServer() error {
	cfg, err := config.LoadPartial()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("dreamsynth is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop dreamsynth (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to dreamsynth (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	var missing *config.MissingCredentialsError
	switch {
	case errors.As(err, &missing):
		printWarning("missing credentials: %s", strings.Join(missing.Keys, ", "))
	case err != nil:
		printError("config error: %v", err)
		return nil
	}

	serverURL := fmt.Sprintf("http://127.0.0.1:%d", cfg.Server.Port)
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", serverURL)
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}

	printStatus("Transcription", "%s (%s, %s)", cfg.Transcription.Model, cfg.Transcription.Language, cfg.Transcription.BaseURL)
	printStatus("Emotion model", "%s (%s)", cfg.Emotion.Model, cfg.Emotion.BaseURL)
	printStatus("Image service", "%s", cfg.Image.BaseURL)
	printStatus("Store", "%s at %s", cfg.Storage.Backend, cfg.DataPath())

	if resp != nil && resp.StatusCode == http.StatusOK {
		ac := &apiClient{baseURL: serverURL, token: cfg.Server.APIToken, httpClient: client}
		if r, err := ac.get(context.Background(), "/api/dreams"); err == nil {
			var dreams []dreamSummary
			if decodeJSON(r, &dreams) == nil {
				printStatus("Dreams", "%d", len(dreams))
			}
		}
	}
	return nil
}
