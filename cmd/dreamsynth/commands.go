package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/kalambet/dreamsynth/internal/api"
	"github.com/kalambet/dreamsynth/internal/config"
	"github.com/kalambet/dreamsynth/internal/emotion"
	"github.com/kalambet/dreamsynth/internal/pipeline"
	"github.com/kalambet/dreamsynth/internal/storage"
	"github.com/kalambet/dreamsynth/internal/transcribe"
)

// dreamSummary mirrors the /api/dreams list entries.
type dreamSummary struct {
	ID        string         `json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	Text      string         `json:"text"`
	Emotions  emotion.Scores `json:"emotions"`
	Dominant  emotion.Label  `json:"dominant"`
	ImageURL  string         `json:"image_url"`
	Source    string         `json:"source,omitempty"`
}

// --- synth ---

var synthCmd = &cobra.Command{
	Use:   "synth <audio-file>",
	Short: "Synthesize one dream from an audio file, without the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		logCloser := setupLogging(cfg.Log)
		defer logCloser.Close()

		audio, err := readAudioFile(args[0])
		if err != nil {
			return err
		}

		store, err := storage.OpenBackend(cfg.Storage.Backend, cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		dream, err := buildPipeline(cfg, store).Run(ctx, audio, printEvent(os.Stdout))
		if err != nil {
			return err
		}
		printSuccess("Dream %s saved to %s", dream.ID, cfg.DataPath())
		return nil
	},
}

var audioExtensions = map[string]bool{".wav": true, ".mp3": true, ".m4a": true}

func readAudioFile(path string) (transcribe.Audio, error) {
	if ext := strings.ToLower(filepath.Ext(path)); !audioExtensions[ext] {
		return transcribe.Audio{}, fmt.Errorf("unsupported audio format %q (want .wav, .mp3 or .m4a)", ext)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return transcribe.Audio{}, fmt.Errorf("reading audio: %w", err)
	}
	return transcribe.Audio{Name: filepath.Base(path), Data: data}, nil
}

// printEvent reports pipeline progress on stderr and stage outputs on w.
func printEvent(w io.Writer) func(pipeline.Event) {
	return func(ev pipeline.Event) {
		switch ev.Stage {
		case pipeline.StageTranscribing:
			printStep("Transcribing...")
		case pipeline.StageAnalyzing:
			fmt.Fprintf(w, "%s\n%s\n\n", colorize(colorBold, "Transcript"), ev.Transcript)
			printStep("Scoring emotions...")
		case pipeline.StageImaging:
			fmt.Fprintln(w, colorize(colorBold, "Emotions"))
			writeScores(w, ev.Emotions)
			fmt.Fprintln(w)
			printStep("Generating image...")
		case pipeline.StageSaving:
			printStep("Saving dream (%d bytes of image)...", len(ev.Image))
		}
	}
}

func writeScores(w io.Writer, s emotion.Scores) {
	for _, sc := range s.Ordered() {
		fmt.Fprintf(w, "  %-10s %s %.3f\n", sc.Label.DisplayName(), scoreBar(sc.Value, 20), sc.Value)
	}
}

// --- dreams ---

var dreamsCmd = &cobra.Command{
	Use:   "dreams",
	Short: "Browse, export or import the dream journal",
}

var dreamsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded dreams, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return listDreams(cmd.Context(), client, os.Stdout, limit)
	},
}

func listDreams(ctx context.Context, client *apiClient, w io.Writer, limit int) error {
	resp, err := client.get(ctx, "/api/dreams")
	if err != nil {
		return err
	}

	var dreams []dreamSummary
	if err := decodeJSON(resp, &dreams); err != nil {
		return err
	}

	if len(dreams) == 0 {
		fmt.Fprintln(w, "No dreams recorded yet.")
		return nil
	}
	if limit > 0 && len(dreams) > limit {
		dreams = dreams[:limit]
	}

	for _, d := range dreams {
		text := d.Text
		if utf8.RuneCountInString(text) > 60 {
			text = string([]rune(text)[:60]) + "..."
		}
		fmt.Fprintf(w, "%s  %s  %-10s %s\n",
			colorize(colorCyan, d.ID),
			d.CreatedAt.Local().Format(storage.LegacyDateLayout),
			d.Dominant.DisplayName(),
			text,
		)
	}
	return nil
}

var dreamsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one dream with its emotion scores",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		return showDream(cmd.Context(), client, os.Stdout, args[0])
	},
}

func showDream(ctx context.Context, client *apiClient, w io.Writer, id string) error {
	resp, err := client.get(ctx, "/api/dreams/"+id)
	if err != nil {
		return err
	}

	var d dreamSummary
	if err := decodeJSON(resp, &d); err != nil {
		return err
	}

	fmt.Fprintf(w, "%s  %s\n\n", colorize(colorBold, d.ID), d.CreatedAt.Local().Format(storage.LegacyDateLayout))
	fmt.Fprintf(w, "%s\n\n", d.Text)
	writeScores(w, d.Emotions)
	fmt.Fprintf(w, "\nImage: %s\n", client.baseURL+d.ImageURL)
	if d.Source != "" {
		fmt.Fprintf(w, "Source: %s\n", d.Source)
	}
	return nil
}

var dreamsExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export every dream, image included, as JSONL",
	RunE: func(cmd *cobra.Command, args []string) error {
		output, _ := cmd.Flags().GetString("output")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var writer io.Writer = os.Stdout
		if output != "" {
			f, err := os.Create(output)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			writer = f
		}

		n, err := exportDreams(cmd.Context(), client, writer)
		if err != nil {
			return err
		}
		if output != "" {
			printSuccess("Exported %d dreams to %s", n, output)
		}
		return nil
	},
}

func exportDreams(ctx context.Context, client *apiClient, w io.Writer) (int, error) {
	resp, err := client.get(ctx, "/api/dreams")
	if err != nil {
		return 0, err
	}
	var dreams []dreamSummary
	if err := decodeJSON(resp, &dreams); err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for _, d := range dreams {
		resp, err := client.get(ctx, "/api/dreams/"+d.ID)
		if err != nil {
			return 0, err
		}
		var full json.RawMessage
		if err := decodeJSON(resp, &full); err != nil {
			return 0, fmt.Errorf("fetching dream %s: %w", d.ID, err)
		}
		if err := enc.Encode(full); err != nil {
			return 0, err
		}
	}
	return len(dreams), nil
}

var dreamsImportCmd = &cobra.Command{
	Use:   "import <dreams.json>",
	Short: "Append the records of a legacy dreams.json file to the configured store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}

		dreams, err := storage.ReadLegacyFile(args[0])
		if err != nil {
			return err
		}

		store, err := storage.OpenBackend(cfg.Storage.Backend, cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		imported, skipped, err := importDreams(cmd.Context(), store, dreams)
		if err != nil {
			return err
		}
		printSuccess("Imported %d dreams into %s (%d already present)", imported, cfg.DataPath(), skipped)
		return nil
	},
}

// importer is implemented by stores that tag imported records.
type importer interface {
	ImportDream(ctx context.Context, d storage.Dream) error
}

// importDreams appends dreams, oldest first, skipping ids already stored so
// the same file can be imported twice.
func importDreams(ctx context.Context, store storage.DreamStore, dreams []storage.Dream) (imported, skipped int, err error) {
	add := store.AppendDream
	if imp, ok := store.(importer); ok {
		add = imp.ImportDream
	}

	for _, d := range dreams {
		_, err := store.GetDream(ctx, d.ID)
		if err == nil {
			skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return imported, skipped, err
		}
		if err := add(ctx, d); err != nil {
			return imported, skipped, fmt.Errorf("importing dream %s: %w", d.ID, err)
		}
		imported++
	}
	return imported, skipped, nil
}

func init() {
	dreamsListCmd.Flags().Int("limit", 20, "maximum number of dreams to list (0 for all)")
	dreamsExportCmd.Flags().String("output", "", "output file path (default: stdout)")
	dreamsCmd.AddCommand(dreamsListCmd)
	dreamsCmd.AddCommand(dreamsShowCmd)
	dreamsCmd.AddCommand(dreamsExportCmd)
	dreamsCmd.AddCommand(dreamsImportCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}

		for _, k := range config.ShowAll(cfg) {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}

// --- mcp ---

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the dream journal to MCP clients over stdio",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadPartial()
		if err != nil {
			return err
		}
		logCloser := setupLogging(cfg.Log)
		defer logCloser.Close()

		store, err := storage.OpenBackend(cfg.Storage.Backend, cfg.Storage.DataDir)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}
		defer store.Close()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		stdioSrv := server.NewStdioServer(api.NewMCPServer(api.MCPDeps{Dreams: store}))
		if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP stdio server: %w", err)
		}
		return nil
	},
}
